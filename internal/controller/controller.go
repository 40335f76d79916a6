// Package controller is the command surface shared by the CLI, the web UI
// and the Telegram bot.
package controller

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/tcfbot/internal/domain"
	"github.com/example/tcfbot/internal/engine"
)

var (
	ErrNotRunning = errors.New("engine is not running")
	ErrNoAccounts = errors.New("no pending account in storage")
)

type Engine interface {
	Start(ctx context.Context) error
	Stop()
	Wait()
	Running() bool
	SetAccounts(accounts []domain.Account)
	Status() engine.Status
}

type Store interface {
	PendingAccounts(ctx context.Context) ([]domain.Account, error)
	Accounts(ctx context.Context) ([]domain.Account, error)
	AccountExists(ctx context.Context, email string) (bool, error)
	InsertAccount(ctx context.Context, a domain.Account) error
	DeleteAccount(ctx context.Context, email string) error
	Events(ctx context.Context) ([]domain.Event, error)
	PaymentWindows(ctx context.Context) ([]domain.PaymentWindow, error)
	Reservations(ctx context.Context) ([]domain.Reservation, error)
}

type Controller struct {
	ctx    context.Context
	engine Engine
	store  Store
	log    zerolog.Logger
}

// New binds the engine's lifetime to ctx: cancelling it stops the engine.
func New(ctx context.Context, eng Engine, st Store, log zerolog.Logger) *Controller {
	return &Controller{
		ctx:    ctx,
		engine: eng,
		store:  st,
		log:    log.With().Str("component", "controller").Logger(),
	}
}

// Start loads the unreserved accounts and launches the engine.
func (c *Controller) Start(ctx context.Context) error {
	if c.engine.Running() {
		return engine.ErrRunning
	}
	accounts, err := c.store.PendingAccounts(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	if len(accounts) == 0 {
		return ErrNoAccounts
	}
	c.engine.SetAccounts(accounts)
	if err := c.engine.Start(c.ctx); err != nil {
		return err
	}
	c.log.Info().Int("accounts", len(accounts)).Msg("engine start requested")
	return nil
}

func (c *Controller) Stop() error {
	if !c.engine.Running() {
		return ErrNotRunning
	}
	c.engine.Stop()
	c.log.Info().Msg("engine stop requested")
	return nil
}

func (c *Controller) Running() bool { return c.engine.Running() }

func (c *Controller) Status() engine.Status { return c.engine.Status() }

// ReloadAccounts stops the engine, waits for in-flight work, re-reads the
// accounts and restarts the engine if it was running.
func (c *Controller) ReloadAccounts(ctx context.Context) (int, error) {
	wasRunning := c.engine.Running()
	if wasRunning {
		c.engine.Stop()
		c.engine.Wait()
	}
	accounts, err := c.store.PendingAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("load accounts: %w", err)
	}
	c.engine.SetAccounts(accounts)
	c.log.Info().Int("accounts", len(accounts)).Bool("restart", wasRunning).Msg("accounts reloaded")
	if wasRunning && len(accounts) > 0 {
		if err := c.engine.Start(c.ctx); err != nil {
			return len(accounts), err
		}
	}
	return len(accounts), nil
}

// InsertAccount validates a and stores it. Existing emails are rejected.
func (c *Controller) InsertAccount(ctx context.Context, a domain.Account) error {
	a = a.WithDefaults()
	if err := a.Validate(); err != nil {
		return err
	}
	ok, err := c.store.AccountExists(ctx, a.Email)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("account %s already exists", a.Email)
	}
	return c.store.InsertAccount(ctx, a)
}

// ImportAccounts inserts the accounts not yet stored and returns how many
// were added.
func (c *Controller) ImportAccounts(ctx context.Context, accounts []domain.Account) (int, error) {
	added := 0
	for _, a := range accounts {
		ok, err := c.store.AccountExists(ctx, a.Email)
		if err != nil {
			return added, err
		}
		if ok {
			continue
		}
		if err := c.InsertAccount(ctx, a); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

func (c *Controller) RemoveAccount(ctx context.Context, email string) error {
	return c.store.DeleteAccount(ctx, email)
}

func (c *Controller) Accounts(ctx context.Context) ([]domain.Account, error) {
	return c.store.Accounts(ctx)
}

func (c *Controller) Events(ctx context.Context) ([]domain.Event, error) {
	return c.store.Events(ctx)
}

func (c *Controller) PaymentWindows(ctx context.Context) ([]domain.PaymentWindow, error) {
	return c.store.PaymentWindows(ctx)
}

func (c *Controller) Reservations(ctx context.Context) ([]domain.Reservation, error) {
	return c.store.Reservations(ctx)
}
