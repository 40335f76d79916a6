package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/tcfbot/internal/auth"
	"github.com/example/tcfbot/internal/controller"
	"github.com/example/tcfbot/internal/crawler"
	"github.com/example/tcfbot/internal/domain"
	"github.com/example/tcfbot/internal/engine"
	"github.com/example/tcfbot/internal/portal"
	"github.com/example/tcfbot/internal/reserver"
	"github.com/example/tcfbot/internal/telegram"
	"github.com/example/tcfbot/internal/web"
)

func newServerCmd() *cobra.Command {
	var startEngine bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the reservation engine with the dashboard and Telegram bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			cfg, log := a.cfg, a.log

			if cfg.CrawlerEmail == "" || cfg.CrawlerPass == "" {
				return errors.New("CRAWLER_EMAIL and CRAWLER_PASSWORD are required")
			}

			portalOpts := portal.Options{
				BaseURL:     cfg.PortalBaseURL,
				Timeout:     cfg.PortalTimeout,
				RateLimit:   cfg.RateLimit,
				InsecureTLS: cfg.PortalInsecure,
				Log:         log,
			}
			crawlSession, err := portal.New(portalOpts)
			if err != nil {
				return err
			}
			crawl := crawler.New(crawlSession, domain.Account{Email: cfg.CrawlerEmail, Password: cfg.CrawlerPass}, cfg.PrimaryAntenna, log)
			reserve := reserver.New(func() (reserver.Session, error) {
				c, err := portal.New(portalOpts)
				if err != nil {
					return nil, err
				}
				return c, nil
			}, log)

			var bot *telegram.Bot
			eng := engine.New(engine.Options{
				Crawler:  crawl,
				Reserver: reserve,
				Store:    a.store,
				Hooks: engine.Hooks{
					OnStart: func() {
						if bot != nil {
							bot.Notify("Engine started.")
						}
					},
					OnStop: func() {
						if bot != nil {
							bot.Notify("Engine stopped.")
						}
					},
					OnAccountReserved: func(r domain.Reservation) {
						if bot != nil {
							bot.NotifyReservation(r)
						}
					},
				},
				MaxWorkers:    cfg.MaxWorkers,
				Cooldown:      cfg.Sleep,
				DispatchDelay: cfg.RateLimit / 10,
				Log:           log,
			})
			defer func() {
				eng.Stop()
				eng.Wait()
			}()

			ctl := controller.New(ctx, eng, a.store, log)

			if cfg.TelegramEnabled() {
				bot, err = telegram.New(telegram.Config{Token: cfg.TelegramToken, ChatID: cfg.TelegramChatID}, ctl, log)
				if err != nil {
					return err
				}
			}

			var ws *web.Server
			if cfg.WebEnabled() {
				if err := cfg.ValidateWeb(); err != nil {
					return err
				}
				ws = &web.Server{
					Auth: auth.NewStore(a.conn, cfg.CookieHashKey, cfg.CookieBlockKey),
					Ctl:  ctl,
					Log:  log,
				}
			}

			if startEngine {
				if err := ctl.Start(ctx); err != nil {
					if !errors.Is(err, controller.ErrNoAccounts) {
						return err
					}
					log.Warn().Msg("no pending accounts, engine left stopped")
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			if bot != nil {
				g.Go(func() error {
					bot.Run(gctx)
					return nil
				})
			}
			if ws != nil {
				g.Go(func() error {
					return web.Start(gctx, cfg.ListenAddr, ws.Routes(), log)
				})
			}
			g.Go(func() error {
				<-gctx.Done()
				return nil
			})
			err = g.Wait()
			log.Info().Msg("shutting down")
			return err
		},
	}

	cmd.Flags().BoolVar(&startEngine, "start", true, "start the engine once the server is up")
	return cmd
}
