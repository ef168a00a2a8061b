// Package slack connects builtin-mode bots to Slack over RTM.
package slack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/slack-go/slack"

	apperrors "github.com/edgard/botdeck/internal/errors"
	"github.com/edgard/botdeck/internal/manifest"
	"github.com/edgard/botdeck/internal/runtime"
)

// Connector implements runtime.Connector for Slack.
type Connector struct {
	apiURL string
}

// NewConnector creates a Slack connector. An empty apiURL uses Slack's API.
func NewConnector(apiURL string) *Connector {
	return &Connector{apiURL: apiURL}
}

// Connect authenticates with auth.test, waits for the RTM websocket and
// starts the event loop. A failed websocket attempt fails the connect.
func (c *Connector) Connect(ctx context.Context, spec runtime.LaunchSpec) (runtime.Connection, error) {
	log := spec.Logger.With("platform", "slack")

	opts := []slack.Option{slack.OptionDebug(false)}
	if c.apiURL != "" {
		opts = append(opts, slack.OptionAPIURL(c.apiURL))
	}
	client := slack.New(spec.Token, opts...)

	auth, err := client.AuthTestContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("slack authentication failed: %w", err)
	}
	log.InfoContext(ctx, "Slack bot authenticated", "user", auth.User, "team", auth.Team)

	conn := &connection{
		client:  client,
		rtm:     client.NewRTM(),
		handler: &handler{manifest: spec.Manifest, selfID: auth.UserID, log: log},
		managed: make(chan struct{}),
		done:    make(chan struct{}),
	}

	go func() {
		defer close(conn.managed)
		conn.rtm.ManageConnection()
	}()

	if err := conn.awaitConnected(ctx); err != nil {
		conn.shutdown()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	conn.cancel = cancel
	go func() {
		defer close(conn.done)
		conn.loop(runCtx)
	}()

	return conn, nil
}

type connection struct {
	client  *slack.Client
	rtm     *slack.RTM
	handler *handler
	cancel  context.CancelFunc
	once    sync.Once
	// managed is closed when ManageConnection returns.
	managed chan struct{}
	// done is closed when the event loop exits.
	done chan struct{}
}

// awaitConnected blocks until the RTM websocket is up. Any failed attempt
// before the first connection is fatal.
func (c *connection) awaitConnected(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("slack rtm connect: %w", ctx.Err())
		case <-c.managed:
			return errors.New("slack rtm connection ended before it was established")
		case ev := <-c.rtm.IncomingEvents:
			switch data := ev.Data.(type) {
			case *slack.ConnectedEvent:
				c.handler.log.DebugContext(ctx, "Slack RTM connected", "connection_count", data.ConnectionCount)
				return nil
			case *slack.ConnectionErrorEvent:
				return fmt.Errorf("slack rtm connect failed: %w", data.ErrorObj)
			case *slack.InvalidAuthEvent:
				return apperrors.NewValidationError("slack rejected the bot token", nil)
			}
		}
	}
}

// Disconnect tears down RTM and waits for the event loop and the
// connection manager to exit.
func (c *connection) Disconnect(ctx context.Context) error {
	c.once.Do(func() {
		c.cancel()
		<-c.done
		c.shutdown()
	})

	select {
	case <-c.managed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done implements runtime.Watcher. It is closed when the event loop ends,
// including when Slack revokes the token.
func (c *connection) Done() <-chan struct{} {
	return c.done
}

// shutdown stops ManageConnection and drains events until it returns.
// Nothing else may be reading IncomingEvents.
func (c *connection) shutdown() {
	select {
	case <-c.managed:
		return
	default:
	}

	go func() {
		if err := c.rtm.Disconnect(); err != nil {
			c.handler.log.Debug("Slack RTM disconnect", "error", err)
		}
	}()
	go func() {
		for {
			select {
			case <-c.managed:
				return
			case <-c.rtm.IncomingEvents:
			}
		}
	}()
}

func (c *connection) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.managed:
			c.handler.log.Warn("Slack RTM connection manager stopped")
			return
		case ev := <-c.rtm.IncomingEvents:
			switch data := ev.Data.(type) {
			case *slack.ConnectedEvent:
				c.handler.log.Debug("Slack RTM connected", "connection_count", data.ConnectionCount)
			case *slack.MessageEvent:
				c.reply(ctx, data)
			case *slack.RTMError:
				c.handler.log.Warn("Slack RTM error", "code", data.Code, "error", data.Msg)
			case *slack.InvalidAuthEvent:
				c.handler.log.Error("Slack RTM rejected the token")
				return
			}
		}
	}
}

func (c *connection) reply(ctx context.Context, ev *slack.MessageEvent) {
	text, ok := c.handler.replyFor(ev)
	if !ok {
		return
	}

	opts := []slack.MsgOption{slack.MsgOptionText(text, false)}
	if ev.ThreadTimestamp != "" {
		opts = append(opts, slack.MsgOptionTS(ev.ThreadTimestamp))
	}
	if _, _, err := c.client.PostMessageContext(ctx, ev.Channel, opts...); err != nil {
		c.handler.log.ErrorContext(ctx, "Failed to send reply", "error", err, "channel", ev.Channel)
		return
	}
	c.handler.log.DebugContext(ctx, "Sent reply", "channel", ev.Channel)
}

type handler struct {
	manifest *manifest.Manifest
	selfID   string
	log      *slog.Logger
}

// replyFor skips bot messages, edits and our own posts.
func (h *handler) replyFor(ev *slack.MessageEvent) (string, bool) {
	if ev.BotID != "" || ev.SubType != "" || ev.User == h.selfID {
		return "", false
	}
	return h.manifest.Reply(ev.Text)
}
