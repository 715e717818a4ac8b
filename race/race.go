// Package race implements the asynchronous race engine: channel-group
// registry, race lifecycle, submission processing, leaderboard rendering, and
// permission resolution. Persistence goes through short-lived transactions;
// chat side effects run after commit and are best-effort (see Refresh for the
// recovery path).
package race

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Kind is the race timing discipline: real-time-attack or in-game-time.
type Kind string

const (
	KindRTA Kind = "RTA"
	KindIGT Kind = "IGT"
)

// Channel roles for tracked messages.
const (
	RoleSubmission  = "submission"
	RoleLeaderboard = "leaderboard"
)

// ChannelGroup pairs three channels and a spoiler role for running races.
// A channel id belongs to at most one group at a time.
type ChannelGroup struct {
	ID                   uuid.UUID
	ServerID             string
	Name                 string
	SubmissionChannelID  string
	LeaderboardChannelID string
	SpoilerChannelID     string
	SpoilerRoleID        string
}

// Race is one asynchronous race episode owned by a channel group. At most one
// race per group is active.
type Race struct {
	ID      int64
	GroupID uuid.UUID
	Active  bool
	Date    time.Time
	Game    string
	Kind    Kind
	Info    string
}

// Submission is one runner's entry for one race. A later submission for the
// same runner and race replaces the earlier one.
type Submission struct {
	ID            int64
	RunnerID      string
	RaceID        int64
	RunnerName    string
	FinishSeconds *int
	Collection    *int
	Forfeit       bool
	SubmittedAt   time.Time
}

// TrackedMessage records the identity of a bot-authored message that is later
// edited in place instead of reposted.
type TrackedMessage struct {
	MessageID string
	RaceID    int64
	ChannelID string
	Role      string
	PostedAt  time.Time
}

// Gateway is the chat-platform collaborator. Every call is best-effort from
// the engine's point of view: a failure after the store transaction committed
// is logged and reported, never rolled back.
type Gateway interface {
	PostMessage(ctx context.Context, channelID, content string) (messageID string, err error)
	EditMessage(ctx context.Context, channelID, messageID, content string) error
	DeleteMessage(ctx context.Context, channelID, messageID string) error
	GrantRole(ctx context.Context, serverID, userID, roleID string) error
	RevokeRole(ctx context.Context, serverID, userID, roleID string) error
	DirectMessage(ctx context.Context, userID, content string) error
	ChannelExists(ctx context.Context, serverID, channelID string) (bool, error)
	RoleExists(ctx context.Context, serverID, roleID string) (bool, error)
}

// GameInfo describes the game behind a race payload.
type GameInfo struct {
	Name               string
	Info               string
	URL                string
	RequiresCollection bool
}

// GameResolver classifies a start-command payload. Implementations may reach
// out over HTTP (the alttpr patch endpoint) and must honor the context.
// RequiresCollection consults the static per-game table at submission time.
type GameResolver interface {
	Resolve(ctx context.Context, payload string) GameInfo
	RequiresCollection(game string) bool
}

// Invoker describes who issued a command and from where. The chat-gateway
// layer fills this in from the inbound event.
type Invoker struct {
	ServerID      string
	ServerOwnerID string
	ChannelID     string
	UserID        string
	UserName      string
	RoleIDs       []string
}

// Service is the engine facade the command layer calls into.
type Service struct {
	db              *sql.DB
	gw              Gateway
	games           GameResolver
	locks           *groupLocks
	maintenanceUser string
}

// NewService wires the engine. maintenanceUser may be empty; when set,
// post-commit side-effect failures are reported there via DM.
func NewService(db *sql.DB, gw Gateway, games GameResolver, maintenanceUser string) *Service {
	return &Service{
		db:              db,
		gw:              gw,
		games:           games,
		locks:           newGroupLocks(),
		maintenanceUser: maintenanceUser,
	}
}
