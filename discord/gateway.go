package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/race-tender/backend/race"
)

// Gateway adapts a discordgo session to the engine's chat interface. Lookups
// prefer the session state cache and fall back to the REST API.
type Gateway struct {
	s *discordgo.Session
}

// NewGateway wraps an open or soon-to-be-opened session.
func NewGateway(s *discordgo.Session) *Gateway {
	return &Gateway{s: s}
}

func (g *Gateway) PostMessage(ctx context.Context, channelID, content string) (string, error) {
	msg, err := g.s.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("post message: %w", err)
	}
	return msg.ID, nil
}

func (g *Gateway) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	if _, err := g.s.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func (g *Gateway) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := g.s.ChannelMessageDelete(channelID, messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

func (g *Gateway) GrantRole(ctx context.Context, serverID, userID, roleID string) error {
	if err := g.s.GuildMemberRoleAdd(serverID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

func (g *Gateway) RevokeRole(ctx context.Context, serverID, userID, roleID string) error {
	if err := g.s.GuildMemberRoleRemove(serverID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}

func (g *Gateway) DirectMessage(ctx context.Context, userID, content string) error {
	ch, err := g.s.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open dm channel: %w", err)
	}
	if _, err := g.s.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("send dm: %w", err)
	}
	return nil
}

func (g *Gateway) ChannelExists(ctx context.Context, serverID, channelID string) (bool, error) {
	if ch, err := g.s.State.Channel(channelID); err == nil {
		return ch.GuildID == serverID, nil
	}
	ch, err := g.s.Channel(channelID, discordgo.WithContext(ctx))
	if err != nil {
		if restErr, ok := err.(*discordgo.RESTError); ok && restErr.Response != nil && restErr.Response.StatusCode == 404 {
			return false, nil
		}
		return false, fmt.Errorf("channel lookup: %w", err)
	}
	return ch.GuildID == serverID, nil
}

func (g *Gateway) RoleExists(ctx context.Context, serverID, roleID string) (bool, error) {
	if _, err := g.s.State.Role(serverID, roleID); err == nil {
		return true, nil
	}
	roles, err := g.s.GuildRoles(serverID, discordgo.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("role lookup: %w", err)
	}
	for _, r := range roles {
		if r.ID == roleID {
			return true, nil
		}
	}
	return false, nil
}

var _ race.Gateway = (*Gateway)(nil)
