package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/tcfbot/internal/config"
	"github.com/example/tcfbot/internal/db"
	"github.com/example/tcfbot/internal/logger"
	"github.com/example/tcfbot/internal/migrate"
	"github.com/example/tcfbot/internal/secret"
	"github.com/example/tcfbot/internal/store"
)

// app holds what every command needs: config, logger, a migrated
// database and the store on top of it.
type app struct {
	cfg   config.Config
	log   zerolog.Logger
	conn  db.Conn
	store *store.Store
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	logger.SetGlobalLogger(log)

	conn, err := db.Open(ctx, cfg.DatabaseDriver, cfg.DSN())
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	if err := migrate.Up(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	var box *secret.Box
	if len(cfg.AccountKey) > 0 {
		if box, err = secret.New(cfg.AccountKey); err != nil {
			conn.Close()
			return nil, fmt.Errorf("ACCOUNT_ENC_KEY: %w", err)
		}
	}

	return &app{cfg: cfg, log: log, conn: conn, store: store.New(conn, box)}, nil
}

func (a *app) Close() {
	a.conn.Close()
}
