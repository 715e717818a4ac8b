// Package discord connects the race engine to Discord: it owns the gateway
// session, translates inbound messages into engine calls, and implements the
// engine's outbound chat interface.
package discord

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/race-tender/backend/config"
	"github.com/onnwee/race-tender/backend/race"
)

// Bot owns the Discord session and the message router.
type Bot struct {
	session *discordgo.Session
	svc     *race.Service
	prefix  string
}

// New creates the session and wires handlers. The engine service is built by
// the caller, against the Gateway this bot exposes.
func New(cfg *config.Config) (*Bot, *Gateway, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers

	b := &Bot{session: session, prefix: cfg.CommandPrefix}
	return b, NewGateway(session), nil
}

// Bind attaches the engine service. Must be called before Start.
func (b *Bot) Bind(svc *race.Service) {
	b.svc = svc
}

// Start opens the gateway connection and begins routing messages.
func (b *Bot) Start() error {
	if b.svc == nil {
		return fmt.Errorf("bot started without a bound service")
	}
	b.session.AddHandler(b.handleMessageCreate)
	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("discord gateway ready",
			slog.String("user", r.User.Username),
			slog.Int("guilds", len(r.Guilds)))
	})
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() error {
	if b.session != nil {
		return b.session.Close()
	}
	return nil
}
