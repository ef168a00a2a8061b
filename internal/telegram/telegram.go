// Package telegram connects builtin-mode bots to Telegram using long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	apperrors "github.com/edgard/botdeck/internal/errors"
	"github.com/edgard/botdeck/internal/manifest"
	"github.com/edgard/botdeck/internal/runtime"
)

// Connector implements runtime.Connector for Telegram.
type Connector struct {
	opts []tgbot.Option
}

// NewConnector creates a Telegram connector. Extra options are applied to
// every bot client, e.g. tgbot.WithServerURL in tests.
func NewConnector(opts ...tgbot.Option) *Connector {
	return &Connector{opts: opts}
}

// Connect verifies the token with getMe and starts polling for updates.
func (c *Connector) Connect(ctx context.Context, spec runtime.LaunchSpec) (runtime.Connection, error) {
	log := spec.Logger.With("platform", "telegram")

	opts := append([]tgbot.Option{
		tgbot.WithSkipGetMe(),
		tgbot.WithDefaultHandler(replyHandler(spec.Manifest, log)),
		tgbot.WithMiddlewares(loggingMiddleware(log)),
	}, c.opts...)

	b, err := tgbot.New(spec.Token, opts...)
	if err != nil {
		return nil, apperrors.NewValidationError("invalid telegram token", err)
	}

	me, err := b.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("telegram getMe failed: %w", err)
	}
	log.InfoContext(ctx, "Telegram bot authenticated", "username", me.Username)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn := &connection{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(conn.done)
		b.Start(runCtx)
		log.Info("Telegram polling stopped")
	}()

	return conn, nil
}

type connection struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

// Disconnect stops polling and waits for the poller to exit.
func (c *connection) Disconnect(ctx context.Context) error {
	c.once.Do(c.cancel)

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// replyHandler answers text messages that match a manifest command.
func replyHandler(m *manifest.Manifest, log *slog.Logger) tgbot.HandlerFunc {
	return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
		msg := update.Message
		if msg == nil || msg.Text == "" || (msg.From != nil && msg.From.IsBot) {
			return
		}

		reply, ok := m.Reply(msg.Text)
		if !ok {
			return
		}

		_, err := b.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID:          msg.Chat.ID,
			Text:            reply,
			ReplyParameters: &models.ReplyParameters{MessageID: msg.ID},
		})
		if err != nil {
			log.ErrorContext(ctx, "Failed to send reply", "error", err, "chat_id", msg.Chat.ID)
			return
		}
		log.DebugContext(ctx, "Sent reply", "chat_id", msg.Chat.ID)
	}
}

// loggingMiddleware logs every incoming message update at debug level.
func loggingMiddleware(log *slog.Logger) tgbot.Middleware {
	return func(next tgbot.HandlerFunc) tgbot.HandlerFunc {
		return func(ctx context.Context, b *tgbot.Bot, update *models.Update) {
			if update.Message != nil {
				attrs := []any{"update_id", update.ID, "chat_id", update.Message.Chat.ID}
				if update.Message.From != nil {
					attrs = append(attrs, "user_id", update.Message.From.ID)
				}
				log.DebugContext(ctx, "Received message", attrs...)
			}
			next(ctx, b, update)
		}
	}
}
