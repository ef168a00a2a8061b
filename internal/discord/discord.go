// Package discord connects builtin-mode bots to the Discord gateway.
package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/edgard/botdeck/internal/manifest"
	"github.com/edgard/botdeck/internal/runtime"
)

// Intents needed to read guild messages and their content.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent

// Connector implements runtime.Connector for Discord.
type Connector struct{}

// NewConnector creates a Discord connector.
func NewConnector() *Connector {
	return &Connector{}
}

// Connect checks the token against the REST API, then opens the gateway.
func (c *Connector) Connect(ctx context.Context, spec runtime.LaunchSpec) (runtime.Connection, error) {
	log := spec.Logger.With("platform", "discord")

	session, err := discordgo.New("Bot " + spec.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = Intents
	session.LogLevel = discordgo.LogError

	me, err := session.User("@me", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("discord authentication failed: %w", err)
	}

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		log.Info("Discord bot ready", "username", r.User.Username, "guilds", len(r.Guilds))
	})
	session.AddHandler(messageHandler(spec.Manifest, log))

	if err := openWithin(ctx, session.Open, session.Close); err != nil {
		return nil, fmt.Errorf("failed to open discord gateway: %w", err)
	}

	log.InfoContext(ctx, "Discord bot connected", "username", me.Username)
	return &connection{session: session}, nil
}

type connection struct {
	session *discordgo.Session
}

// Disconnect closes the gateway connection, giving up when ctx ends first.
func (c *connection) Disconnect(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- c.session.Close() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to close discord session: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// openWithin runs open until it returns or ctx ends. A session that opens
// after ctx has ended is closed again.
func openWithin(ctx context.Context, open, closeSession func() error) error {
	opened := make(chan error, 1)
	go func() { opened <- open() }()

	select {
	case err := <-opened:
		return err
	case <-ctx.Done():
		go func() {
			if err := <-opened; err == nil {
				_ = closeSession()
			}
		}()
		return ctx.Err()
	}
}

func messageHandler(m *manifest.Manifest, log *slog.Logger) func(*discordgo.Session, *discordgo.MessageCreate) {
	return func(s *discordgo.Session, ev *discordgo.MessageCreate) {
		reply, ok := replyFor(m, ev.Message)
		if !ok {
			return
		}

		if _, err := s.ChannelMessageSendReply(ev.ChannelID, reply, ev.Reference()); err != nil {
			log.Error("Failed to send reply", "error", err, "channel_id", ev.ChannelID)
			return
		}
		log.Debug("Sent reply", "channel_id", ev.ChannelID)
	}
}

// replyFor ignores messages from bots, including this one.
func replyFor(m *manifest.Manifest, msg *discordgo.Message) (string, bool) {
	if msg == nil || msg.Author == nil || msg.Author.Bot {
		return "", false
	}
	return m.Reply(msg.Content)
}
