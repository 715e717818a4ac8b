package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/onnwee/race-tender/backend/race"
)

// FakeGateway records every chat operation and answers lookups from in-memory
// sets. Safe for concurrent use.
type FakeGateway struct {
	mu sync.Mutex

	Channels map[string]bool // "server/channel"
	Roles    map[string]bool // "server/role"

	// Fail holds operation names ("PostMessage", "GrantRole", ...) that
	// should return an error.
	Fail map[string]bool

	nextID   int
	Messages map[string]string // message id -> current content
	Deleted  []string          // message ids
	Granted  []string          // "server/user/role"
	Revoked  []string          // "server/user/role"
	DMs      map[string][]string
	Posted   []PostedMessage
}

// PostedMessage remembers where a message went.
type PostedMessage struct {
	ID        string
	ChannelID string
	Content   string
}

// NewFakeGateway returns an empty gateway; register channels and roles before
// use.
func NewFakeGateway() *FakeGateway {
	return &FakeGateway{
		Channels: make(map[string]bool),
		Roles:    make(map[string]bool),
		Fail:     make(map[string]bool),
		Messages: make(map[string]string),
		DMs:      make(map[string][]string),
	}
}

// AddChannel registers a channel on a server so ChannelExists passes.
func (g *FakeGateway) AddChannel(serverID, channelID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Channels[serverID+"/"+channelID] = true
}

// AddRole registers a role on a server so RoleExists passes.
func (g *FakeGateway) AddRole(serverID, roleID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Roles[serverID+"/"+roleID] = true
}

func (g *FakeGateway) fail(op string) error {
	if g.Fail[op] {
		return fmt.Errorf("%s: injected failure", op)
	}
	return nil
}

func (g *FakeGateway) PostMessage(ctx context.Context, channelID, content string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("PostMessage"); err != nil {
		return "", err
	}
	g.nextID++
	id := fmt.Sprintf("msg-%d", g.nextID)
	g.Messages[id] = content
	g.Posted = append(g.Posted, PostedMessage{ID: id, ChannelID: channelID, Content: content})
	return id, nil
}

func (g *FakeGateway) EditMessage(ctx context.Context, channelID, messageID, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("EditMessage"); err != nil {
		return err
	}
	if _, ok := g.Messages[messageID]; !ok {
		return fmt.Errorf("edit: unknown message %s", messageID)
	}
	g.Messages[messageID] = content
	return nil
}

func (g *FakeGateway) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("DeleteMessage"); err != nil {
		return err
	}
	delete(g.Messages, messageID)
	g.Deleted = append(g.Deleted, messageID)
	return nil
}

func (g *FakeGateway) GrantRole(ctx context.Context, serverID, userID, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("GrantRole"); err != nil {
		return err
	}
	g.Granted = append(g.Granted, serverID+"/"+userID+"/"+roleID)
	return nil
}

func (g *FakeGateway) RevokeRole(ctx context.Context, serverID, userID, roleID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("RevokeRole"); err != nil {
		return err
	}
	g.Revoked = append(g.Revoked, serverID+"/"+userID+"/"+roleID)
	return nil
}

func (g *FakeGateway) DirectMessage(ctx context.Context, userID, content string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("DirectMessage"); err != nil {
		return err
	}
	g.DMs[userID] = append(g.DMs[userID], content)
	return nil
}

func (g *FakeGateway) ChannelExists(ctx context.Context, serverID, channelID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("ChannelExists"); err != nil {
		return false, err
	}
	return g.Channels[serverID+"/"+channelID], nil
}

func (g *FakeGateway) RoleExists(ctx context.Context, serverID, roleID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.fail("RoleExists"); err != nil {
		return false, err
	}
	return g.Roles[serverID+"/"+roleID], nil
}

// MessageContent returns the current content of a live message.
func (g *FakeGateway) MessageContent(id string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.Messages[id]
	return c, ok
}

var _ race.Gateway = (*FakeGateway)(nil)

// StaticResolver answers Resolve with a fixed game, sidestepping the network.
type StaticResolver struct {
	Game            string
	NeedsCollection bool
}

func (r *StaticResolver) Resolve(ctx context.Context, payload string) race.GameInfo {
	return race.GameInfo{
		Name:               r.Game,
		Info:               payload,
		RequiresCollection: r.NeedsCollection,
	}
}

func (r *StaticResolver) RequiresCollection(game string) bool {
	return game == r.Game && r.NeedsCollection
}

var _ race.GameResolver = (*StaticResolver)(nil)
