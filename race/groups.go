package race

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gopkg.in/yaml.v3"

	"github.com/onnwee/race-tender/backend/telemetry"
)

// maxGroupsPerServer caps registry size per guild.
const maxGroupsPerServer = 10

// Manifest is the structured document an admin attaches to register a group.
// The engine consumes it, it never produces one.
type Manifest struct {
	GroupName   string `yaml:"group_name"`
	Submission  string `yaml:"submission"`
	Leaderboard string `yaml:"leaderboard"`
	Spoiler     string `yaml:"spoiler"`
	SpoilerRole string `yaml:"spoiler_role"`
}

// ParseManifest decodes and shape-checks a group manifest.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, validationf("bad manifest yaml: %v", err)
	}
	if m.GroupName == "" || m.Submission == "" || m.Leaderboard == "" || m.Spoiler == "" || m.SpoilerRole == "" {
		return nil, validationf("manifest requires group_name, submission, leaderboard, spoiler, spoiler_role")
	}
	if len(m.GroupName) > 255 || len(m.SpoilerRole) > 255 {
		return nil, validationf("group name or spoiler role exceeds 255 characters")
	}
	return &m, nil
}

// AddGroup validates the manifest against the server and registers the group.
// Requires admin. The one invariant this operation exists to protect: a
// channel id belongs to at most one group, which storage alone cannot express
// across the three channel columns.
func (s *Service) AddGroup(ctx context.Context, inv Invoker, m *Manifest) (*ChannelGroup, error) {
	channels := []string{m.Submission, m.Leaderboard, m.Spoiler}
	seen := map[string]bool{}
	for _, c := range channels {
		if seen[c] {
			return nil, validationf("manifest channels must be distinct")
		}
		seen[c] = true
		ok, err := s.gw.ChannelExists(ctx, inv.ServerID, c)
		if err != nil {
			return nil, fmt.Errorf("channel lookup: %w", err)
		}
		if !ok {
			return nil, validationf("channel %s not found in server", c)
		}
	}
	ok, err := s.gw.RoleExists(ctx, inv.ServerID, m.SpoilerRole)
	if err != nil {
		return nil, fmt.Errorf("role lookup: %w", err)
	}
	if !ok {
		return nil, validationf("spoiler role %s not found in server", m.SpoilerRole)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.requireTier(ctx, tx, inv, TierAdmin); err != nil {
		return nil, err
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM channel_groups WHERE server_id=$1`, inv.ServerID).Scan(&count); err != nil {
		return nil, persistence("count groups", err)
	}
	if count >= maxGroupsPerServer {
		return nil, validationf("cannot add more than %d groups per server", maxGroupsPerServer)
	}

	// overlap check across all three channel columns of every existing group
	for _, c := range channels {
		var claimed int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM channel_groups
			WHERE server_id=$1 AND (submission_channel_id=$2 OR leaderboard_channel_id=$2 OR spoiler_channel_id=$2)`,
			inv.ServerID, c).Scan(&claimed)
		if err != nil {
			return nil, persistence("overlap check", err)
		}
		if claimed > 0 {
			return nil, &OverlapError{ChannelID: c}
		}
	}

	group := &ChannelGroup{
		ID:                   uuid.New(),
		ServerID:             inv.ServerID,
		Name:                 m.GroupName,
		SubmissionChannelID:  m.Submission,
		LeaderboardChannelID: m.Leaderboard,
		SpoilerChannelID:     m.Spoiler,
		SpoilerRoleID:        m.SpoilerRole,
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO channel_groups
		(channel_group_id, server_id, group_name, submission_channel_id, leaderboard_channel_id, spoiler_channel_id, spoiler_role_id)
		VALUES($1,$2,$3,$4,$5,$6,$7)`,
		group.ID, group.ServerID, group.Name, group.SubmissionChannelID,
		group.LeaderboardChannelID, group.SpoilerChannelID, group.SpoilerRoleID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return nil, validationf("group name %q already exists on this server", m.GroupName)
		}
		return nil, persistence("insert group", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, persistence("commit", err)
	}

	telemetry.Inc(telemetry.CommandsProcessed)
	slog.Info("group registered",
		slog.String("group", group.Name),
		slog.String("server", group.ServerID),
		slog.String("id", group.ID.String()))
	return group, nil
}

// RemoveGroup deregisters a group by name; the store cascades the delete to
// its races, submissions, and tracked messages. Requires admin.
func (s *Service) RemoveGroup(ctx context.Context, inv Invoker, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.requireTier(ctx, tx, inv, TierAdmin); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM channel_groups WHERE server_id=$1 AND group_name=$2`, inv.ServerID, name)
	if err != nil {
		return persistence("delete group", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistence("delete group", err)
	}
	if n == 0 {
		return &NotFoundError{What: "group " + name}
	}
	if err := tx.Commit(); err != nil {
		return persistence("commit", err)
	}

	telemetry.Inc(telemetry.CommandsProcessed)
	slog.Info("group removed", slog.String("group", name), slog.String("server", inv.ServerID))
	return nil
}

// ListGroups returns the group names registered for the invoker's server and
// DMs the listing to the invoker. Listing is read-only and open to anyone.
func (s *Service) ListGroups(ctx context.Context, inv Invoker) ([]string, error) {
	names, err := s.GroupNames(ctx, inv.ServerID)
	if err != nil {
		return nil, err
	}
	s.sideEffect(ctx, "listgroups dm", s.gw.DirectMessage(ctx, inv.UserID, formatGroupList(names)))
	telemetry.Inc(telemetry.CommandsProcessed)
	return names, nil
}

// GroupNames returns group names for a server without side effects; the HTTP
// surface uses it for its read-only listing.
func (s *Service) GroupNames(ctx context.Context, serverID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_name FROM channel_groups WHERE server_id=$1 ORDER BY group_name`, serverID)
	if err != nil {
		return nil, persistence("list groups", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, persistence("list groups", err)
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list groups", err)
	}
	return names, nil
}

func formatGroupList(names []string) string {
	if len(names) == 0 {
		return "```There are no groups in this server.```\nUse the addgroup command with a yaml manifest to add one."
	}
	return "```" + strings.Join(names, ", ") + "```"
}

// ResolveChannel maps a channel id to the group that claims it, in any of its
// three roles. Returns NotFoundError for unmanaged channels.
func (s *Service) ResolveChannel(ctx context.Context, channelID string) (*ChannelGroup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT channel_group_id, server_id, group_name,
		submission_channel_id, leaderboard_channel_id, spoiler_channel_id, spoiler_role_id
		FROM channel_groups
		WHERE submission_channel_id=$1 OR leaderboard_channel_id=$1 OR spoiler_channel_id=$1`, channelID)
	return scanGroup(row)
}

// resolveSubmissionChannel is the stricter lookup used by lifecycle and
// submission commands, which are only valid in a submission channel.
func (s *Service) resolveSubmissionChannel(ctx context.Context, channelID string) (*ChannelGroup, error) {
	row := s.db.QueryRowContext(ctx, `SELECT channel_group_id, server_id, group_name,
		submission_channel_id, leaderboard_channel_id, spoiler_channel_id, spoiler_role_id
		FROM channel_groups WHERE submission_channel_id=$1`, channelID)
	return scanGroup(row)
}

func scanGroup(row *sql.Row) (*ChannelGroup, error) {
	g := &ChannelGroup{}
	err := row.Scan(&g.ID, &g.ServerID, &g.Name, &g.SubmissionChannelID,
		&g.LeaderboardChannelID, &g.SpoilerChannelID, &g.SpoilerRoleID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{What: "group"}
	}
	if err != nil {
		return nil, persistence("resolve group", err)
	}
	return g, nil
}
