package race

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/onnwee/race-tender/backend/telemetry"
)

// Tier is the effective privilege of an invoker. Highest wins.
type Tier int

const (
	TierNone Tier = iota
	TierMod
	TierAdmin
)

func (t Tier) String() string {
	switch t {
	case TierAdmin:
		return "admin"
	case TierMod:
		return "mod"
	default:
		return "none"
	}
}

// server mirrors one row of the servers table.
type server struct {
	ID          string
	OwnerID     string
	AdminRoleID sql.NullString
	ModRoleID   sql.NullString
}

// ensureServer upserts the server row for the invoker's guild and returns it.
// Servers are created lazily on the first command from a guild; the owner id
// is refreshed on every pass since guild ownership can change.
func (s *Service) ensureServer(ctx context.Context, tx *sql.Tx, inv Invoker) (*server, error) {
	row := tx.QueryRowContext(ctx, `INSERT INTO servers(server_id, owner_id) VALUES($1,$2)
		ON CONFLICT(server_id) DO UPDATE SET owner_id=EXCLUDED.owner_id
		RETURNING server_id, owner_id, admin_role_id, mod_role_id`,
		inv.ServerID, inv.ServerOwnerID)
	srv := &server{}
	if err := row.Scan(&srv.ID, &srv.OwnerID, &srv.AdminRoleID, &srv.ModRoleID); err != nil {
		return nil, persistence("ensure server", err)
	}
	return srv, nil
}

// effectiveTier computes the invoker's privilege: maintenance user override,
// then server owner, then admin role, then mod role.
func (s *Service) effectiveTier(srv *server, inv Invoker) Tier {
	if s.maintenanceUser != "" && inv.UserID == s.maintenanceUser {
		return TierAdmin
	}
	if inv.UserID == srv.OwnerID {
		return TierAdmin
	}
	if srv.AdminRoleID.Valid && hasRole(inv.RoleIDs, srv.AdminRoleID.String) {
		return TierAdmin
	}
	if srv.ModRoleID.Valid && hasRole(inv.RoleIDs, srv.ModRoleID.String) {
		return TierMod
	}
	return TierNone
}

func hasRole(roles []string, id string) bool {
	for _, r := range roles {
		if r == id {
			return true
		}
	}
	return false
}

// requireTier upserts the server row and gates the command on the invoker's
// effective tier.
func (s *Service) requireTier(ctx context.Context, tx *sql.Tx, inv Invoker, required Tier) (*server, error) {
	srv, err := s.ensureServer(ctx, tx, inv)
	if err != nil {
		return nil, err
	}
	if got := s.effectiveTier(srv, inv); got < required {
		slog.Info("command denied",
			slog.String("user", inv.UserName),
			slog.String("required", required.String()),
			slog.String("effective", got.String()))
		return nil, ErrPermissionDenied
	}
	return srv, nil
}

// SetAdminRole stores the admin role for the invoker's server. Requires admin.
func (s *Service) SetAdminRole(ctx context.Context, inv Invoker, roleID string) error {
	return s.setRole(ctx, inv, "admin_role_id", &roleID)
}

// SetModRole stores the mod role for the invoker's server. Requires admin.
func (s *Service) SetModRole(ctx context.Context, inv Invoker, roleID string) error {
	return s.setRole(ctx, inv, "mod_role_id", &roleID)
}

// RemoveAdminRole clears the admin role. Requires admin.
func (s *Service) RemoveAdminRole(ctx context.Context, inv Invoker) error {
	return s.setRole(ctx, inv, "admin_role_id", nil)
}

// RemoveModRole clears the mod role. Requires admin.
func (s *Service) RemoveModRole(ctx context.Context, inv Invoker) error {
	return s.setRole(ctx, inv, "mod_role_id", nil)
}

func (s *Service) setRole(ctx context.Context, inv Invoker, column string, roleID *string) error {
	if roleID != nil {
		ok, err := s.gw.RoleExists(ctx, inv.ServerID, *roleID)
		if err != nil {
			return fmt.Errorf("role lookup: %w", err)
		}
		if !ok {
			return validationf("role %s does not exist on this server", *roleID)
		}
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := s.requireTier(ctx, tx, inv, TierAdmin); err != nil {
		return err
	}
	// column is one of two fixed identifiers, never user input
	q := fmt.Sprintf(`UPDATE servers SET %s=$1 WHERE server_id=$2`, column)
	if _, err := tx.ExecContext(ctx, q, roleID, inv.ServerID); err != nil {
		return persistence("set role", err)
	}
	if err := tx.Commit(); err != nil {
		return persistence("commit", err)
	}
	telemetry.Inc(telemetry.CommandsProcessed)
	return nil
}

// sideEffect handles a post-commit gateway failure: log, count, and report to
// the maintenance user. The committed state stands; !refresh resynchronizes
// the visible leaderboard with stored truth.
func (s *Service) sideEffect(ctx context.Context, op string, err error) {
	if err == nil {
		return
	}
	telemetry.Inc(telemetry.SideEffectFailures)
	telemetry.LoggerWithCorr(ctx).Warn("side effect failed", slog.String("op", op), slog.Any("err", err))
	if s.maintenanceUser == "" {
		return
	}
	if dmErr := s.gw.DirectMessage(ctx, s.maintenanceUser, fmt.Sprintf("side effect failed (%s): %v", op, err)); dmErr != nil {
		slog.Error("maintenance user DM failed", slog.Any("err", dmErr))
	}
}
