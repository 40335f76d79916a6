// Package telegram exposes the controller as chat commands and pushes
// reservation notifications to the operator chat.
package telegram

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"

	"github.com/example/tcfbot/internal/domain"
)

type Config struct {
	Token       string
	ChatID      int64
	PollTimeout time.Duration
}

type Bot struct {
	bot    *tele.Bot
	chatID int64
	cmds   *Commands
	log    zerolog.Logger
	queue  chan string
}

func New(cfg Config, ctl Controller, log zerolog.Logger) (*Bot, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Bot{
		bot:    b,
		chatID: cfg.ChatID,
		cmds:   NewCommands(ctl),
		log:    log.With().Str("component", "telegram").Logger(),
		queue:  make(chan string, 64),
	}, nil
}

// Run polls for commands until ctx is done.
func (b *Bot) Run(ctx context.Context) {
	b.bot.Use(b.onlyOperator)
	for _, cmd := range []string{"/start", "/stop", "/status", "/reload", "/accounts", "/events", "/reservations", "/help"} {
		b.bot.Handle(cmd, b.handle(ctx))
	}

	go b.sendLoop(ctx)
	go b.bot.Start()
	b.log.Info().Str("bot", b.bot.Me.Username).Msg("telegram bot polling")

	<-ctx.Done()
	b.bot.Stop()
}

func (b *Bot) handle(ctx context.Context) tele.HandlerFunc {
	return func(c tele.Context) error {
		reply := b.cmds.Handle(ctx, c.Text())
		return c.Send(reply)
	}
}

// onlyOperator drops updates from any chat but the configured one.
func (b *Bot) onlyOperator(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Chat() == nil || c.Chat().ID != b.chatID {
			b.log.Warn().Int64("chat", chatID(c)).Msg("command from unknown chat ignored")
			return nil
		}
		return next(c)
	}
}

func chatID(c tele.Context) int64 {
	if c.Chat() == nil {
		return 0
	}
	return c.Chat().ID
}

// NotifyReservation queues a notification. It never blocks; when the queue is
// full the message is dropped and logged.
func (b *Bot) NotifyReservation(r domain.Reservation) {
	b.Notify(FormatReservation(r))
}

func (b *Bot) Notify(text string) {
	select {
	case b.queue <- text:
	default:
		b.log.Warn().Msg("notification queue full, message dropped")
	}
}

func (b *Bot) sendLoop(ctx context.Context) {
	to := tele.ChatID(b.chatID)
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-b.queue:
			if _, err := b.bot.Send(to, text); err != nil {
				b.log.Error().Err(err).Msg("send notification")
			}
		}
	}
}
