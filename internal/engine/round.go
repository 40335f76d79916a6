package engine

import (
	"context"
	"errors"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/tcfbot/internal/domain"
	"github.com/example/tcfbot/internal/internaltypes"
)

type outcome struct {
	account     domain.Account
	reservation domain.Reservation
	err         error
}

// reserveRound dispatches one worker per unreserved account, at most
// maxWorkers at a time, and applies their outcomes one by one.
func (e *Engine) reserveRound(ctx context.Context, events []domain.Event, windows []domain.PaymentWindow) {
	e.mu.Lock()
	var pending []domain.Account
	for _, a := range e.accounts {
		if !a.Reserved {
			pending = append(pending, a)
		}
	}
	e.mu.Unlock()

	if len(pending) == 0 {
		e.log.Info().Msg("no account to schedule")
		return
	}

	inbox := make(chan outcome)
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for o := range inbox {
			e.complete(ctx, o)
		}
	}()

	var g errgroup.Group
	g.SetLimit(e.maxWorkers)

	dispatched := 0
	for cursor := 0; cursor < len(pending); cursor++ {
		if e.stopping(ctx) {
			break
		}
		if dispatched > 0 && e.dispatchDelay > 0 {
			time.Sleep(e.dispatchDelay)
		}
		a := pending[cursor]
		evs, ws := slices.Clone(events), slices.Clone(windows)
		e.mu.Lock()
		e.inflight++
		e.mu.Unlock()
		g.Go(func() error {
			r, err := e.reserver.Reserve(ctx, a, evs, ws)
			inbox <- outcome{account: a, reservation: r, err: err}
			return nil
		})
		dispatched++
	}
	_ = g.Wait()
	close(inbox)
	<-drained

	if dispatched == 0 {
		e.log.Info().Msg("round aborted before dispatch")
		return
	}
	e.log.Info().Int("dispatched", dispatched).Int("pending", len(pending)).Msg("round finished")
	e.purgeReserved()
}

// complete applies one worker outcome. It only runs on the round's drain
// goroutine, so completions never interleave.
func (e *Engine) complete(ctx context.Context, o outcome) {
	log := e.log.With().Str("email", o.account.Email).Logger()

	e.mu.Lock()
	e.inflight--
	switch {
	case o.err == nil:
		e.markReserved(o.account.Email)
		e.reserved++
	case errors.Is(o.err, internaltypes.ErrLogin):
		e.removeAccount(o.account.Email)
	}
	e.mu.Unlock()

	switch {
	case o.err == nil:
		r := o.reservation
		r.Account.Reserved = true
		log.Info().Str("event", r.Event.UID).Str("window", r.Window.Timeshift()).Msg("account reserved")
		e.sync(ctx, "account", func(ctx context.Context) error { return e.store.SaveAccount(ctx, r.Account) })
		e.sync(ctx, "reservation", func(ctx context.Context) error { return e.store.InsertReservation(ctx, r) })
		e.fire("on_account_reserved", func() {
			if e.hooks.OnAccountReserved != nil {
				e.hooks.OnAccountReserved(r)
			}
		})
	case errors.Is(o.err, internaltypes.ErrLogin):
		log.Warn().Err(o.err).Msg("login failed, account retired")
		e.sync(ctx, "account", func(ctx context.Context) error { return e.store.RetireAccount(ctx, o.account.Email) })
	case errors.Is(o.err, internaltypes.ErrReservation):
		log.Info().Err(o.err).Msg("no slot this round")
	default:
		log.Error().Err(o.err).Msg("reservation worker failed")
	}
}

// markReserved expects e.mu held.
func (e *Engine) markReserved(email string) {
	for i := range e.accounts {
		if e.accounts[i].Email == email {
			e.accounts[i].Reserved = true
		}
	}
}

// removeAccount expects e.mu held.
func (e *Engine) removeAccount(email string) {
	e.accounts = slices.DeleteFunc(e.accounts, func(a domain.Account) bool { return a.Email == email })
}

func (e *Engine) purgeReserved() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accounts = slices.DeleteFunc(e.accounts, func(a domain.Account) bool {
		if a.Reserved {
			e.log.Info().Str("email", a.Email).Msg("reserved account retired")
		}
		return a.Reserved
	})
}
