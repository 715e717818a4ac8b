package race

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/race-tender/backend/telemetry"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// stopData is everything the stop procedure needs for its post-commit side
// effects, captured inside the transaction that deactivates the race.
type stopData struct {
	race      *Race
	subs      []Submission
	subMsg    *TrackedMessage
	lbMsg     *TrackedMessage
	runnerIDs []string
}

// StartRace starts a race for the group owning the invoker's submission
// channel. If a race is already active it is stopped first, with the full
// stop procedure (final leaderboard moved, spoiler roles revoked); no
// participant state carries over. Requires mod.
func (s *Service) StartRace(ctx context.Context, inv Invoker, kind Kind, payload string) (*Race, error) {
	group, err := s.resolveSubmissionChannel(ctx, inv.ChannelID)
	if err != nil {
		if IsNotFound(err) {
			return nil, validationf("races must be started in a submission channel")
		}
		return nil, err
	}

	unlock := s.locks.Lock(group.ID)
	defer unlock()

	// game classification may hit the network; keep it out of the transaction
	info := s.games.Resolve(ctx, payload)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.requireTier(ctx, tx, inv, TierMod); err != nil {
		return nil, err
	}

	prior, err := s.activeRace(ctx, tx, group.ID)
	if err != nil && !IsNotFound(err) {
		return nil, err
	}
	var stopped *stopData
	if prior != nil {
		if stopped, err = s.stopTx(ctx, tx, prior); err != nil {
			return nil, err
		}
	}

	r := &Race{
		GroupID: group.ID,
		Active:  true,
		Date:    time.Now().UTC(),
		Game:    info.Name,
		Kind:    kind,
		Info:    info.Info,
	}
	err = tx.QueryRowContext(ctx, `INSERT INTO races(channel_group_id, active, race_date, game, kind, info)
		VALUES($1,TRUE,CURRENT_DATE,$2,$3,$4) RETURNING race_id, race_date`,
		group.ID, r.Game, string(r.Kind), r.Info).Scan(&r.ID, &r.Date)
	if err != nil {
		return nil, persistence("insert race", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, persistence("commit", err)
	}

	// post-commit side effects: finish the prior race, then post the two
	// messages the new race owns
	if stopped != nil {
		s.finishRace(ctx, group, stopped)
	}
	if id, postErr := s.gw.PostMessage(ctx, group.LeaderboardChannelID, Render(r, nil)); postErr != nil {
		s.sideEffect(ctx, "post leaderboard", postErr)
	} else {
		s.recordTrackedMessage(ctx, id, r.ID, group.LeaderboardChannelID, RoleLeaderboard)
	}
	if id, postErr := s.gw.PostMessage(ctx, group.SubmissionChannelID, announce(r, info.RequiresCollection)); postErr != nil {
		s.sideEffect(ctx, "post announcement", postErr)
	} else {
		s.recordTrackedMessage(ctx, id, r.ID, group.SubmissionChannelID, RoleSubmission)
	}

	telemetry.Inc(telemetry.RacesStarted)
	telemetry.Inc(telemetry.CommandsProcessed)
	slog.Info("race started",
		slog.String("group", group.Name),
		slog.Int64("race", r.ID),
		slog.String("game", r.Game),
		slog.String("kind", string(r.Kind)))
	return r, nil
}

// StopRace deactivates the group's active race, moves the final leaderboard
// into the submission channel, and revokes the spoiler role from every
// participant. A no-op when no race is active. Requires mod.
func (s *Service) StopRace(ctx context.Context, inv Invoker) error {
	group, err := s.resolveSubmissionChannel(ctx, inv.ChannelID)
	if err != nil {
		return err
	}

	unlock := s.locks.Lock(group.ID)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := s.requireTier(ctx, tx, inv, TierMod); err != nil {
		return err
	}

	prior, err := s.activeRace(ctx, tx, group.ID)
	if err != nil {
		if IsNotFound(err) {
			slog.Info("stop with no active race", slog.String("group", group.Name))
			return nil
		}
		return err
	}
	stopped, err := s.stopTx(ctx, tx, prior)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistence("commit", err)
	}

	s.finishRace(ctx, group, stopped)
	telemetry.Inc(telemetry.RacesStopped)
	telemetry.Inc(telemetry.CommandsProcessed)
	slog.Info("race stopped", slog.String("group", group.Name), slog.Int64("race", prior.ID))
	return nil
}

// stopTx deactivates a race and captures everything its post-commit side
// effects will need. The caller owns the transaction.
func (s *Service) stopTx(ctx context.Context, tx *sql.Tx, r *Race) (*stopData, error) {
	if _, err := tx.ExecContext(ctx, `UPDATE races SET active=FALSE WHERE race_id=$1`, r.ID); err != nil {
		return nil, persistence("deactivate race", err)
	}
	r.Active = false

	subs, err := listSubmissions(ctx, tx, r.ID)
	if err != nil {
		return nil, err
	}
	d := &stopData{race: r, subs: subs}
	for _, sub := range subs {
		d.runnerIDs = append(d.runnerIDs, sub.RunnerID)
	}
	if msg, err := trackedMessageQ(ctx, tx, r.ID, RoleSubmission); err == nil {
		d.subMsg = msg
	} else if !IsNotFound(err) {
		return nil, err
	}
	if msg, err := trackedMessageQ(ctx, tx, r.ID, RoleLeaderboard); err == nil {
		d.lbMsg = msg
	} else if !IsNotFound(err) {
		return nil, err
	}
	return d, nil
}

// finishRace performs the stop procedure's best-effort side effects after the
// deactivation committed: the final leaderboard is moved into the submission
// channel by editing the existing announcement message, the now-stale
// leaderboard-channel message is deleted, and spoiler roles are revoked.
func (s *Service) finishRace(ctx context.Context, group *ChannelGroup, d *stopData) {
	final := Render(d.race, d.subs)
	if d.subMsg != nil {
		s.sideEffect(ctx, "move leaderboard", s.gw.EditMessage(ctx, d.subMsg.ChannelID, d.subMsg.MessageID, final))
	} else {
		slog.Warn("stopping race with no tracked submission message", slog.Int64("race", d.race.ID))
	}
	if d.lbMsg != nil {
		s.sideEffect(ctx, "delete leaderboard message", s.gw.DeleteMessage(ctx, d.lbMsg.ChannelID, d.lbMsg.MessageID))
		if _, err := s.db.ExecContext(ctx, `DELETE FROM tracked_messages WHERE message_id=$1`, d.lbMsg.MessageID); err != nil {
			slog.Warn("failed to drop tracked leaderboard message", slog.Any("err", err))
		}
	}
	for _, id := range d.runnerIDs {
		s.sideEffect(ctx, "revoke spoiler role", s.gw.RevokeRole(ctx, group.ServerID, id, group.SpoilerRoleID))
	}
}

// activeRace loads the group's active race within the given querier.
func (s *Service) activeRace(ctx context.Context, q querier, groupID uuid.UUID) (*Race, error) {
	row := q.QueryRowContext(ctx, `SELECT race_id, channel_group_id, active, race_date, game, kind, COALESCE(info,'')
		FROM races WHERE channel_group_id=$1 AND active`, groupID)
	return scanRace(row)
}

func (s *Service) trackedMessage(ctx context.Context, raceID int64, role string) (*TrackedMessage, error) {
	return trackedMessageQ(ctx, s.db, raceID, role)
}

func trackedMessageQ(ctx context.Context, q querier, raceID int64, role string) (*TrackedMessage, error) {
	m := &TrackedMessage{}
	err := q.QueryRowContext(ctx, `SELECT message_id, race_id, channel_id, channel_role, posted_at
		FROM tracked_messages WHERE race_id=$1 AND channel_role=$2`, raceID, role).
		Scan(&m.MessageID, &m.RaceID, &m.ChannelID, &m.Role, &m.PostedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{What: "tracked message"}
	}
	if err != nil {
		return nil, persistence("load tracked message", err)
	}
	return m, nil
}

// recordTrackedMessage persists a bot message identity after the fact. This
// is a post-commit write: losing it costs an edit target, not correctness,
// and publish repairs a missing leaderboard message on the next pass.
func (s *Service) recordTrackedMessage(ctx context.Context, messageID string, raceID int64, channelID, role string) {
	_, err := s.db.ExecContext(ctx, `INSERT INTO tracked_messages(message_id, race_id, channel_id, channel_role)
		VALUES($1,$2,$3,$4) ON CONFLICT(message_id) DO NOTHING`, messageID, raceID, channelID, role)
	if err != nil {
		slog.Warn("failed to record tracked message",
			slog.String("message", messageID),
			slog.Int64("race", raceID),
			slog.Any("err", err))
	}
}

// listSubmissions loads a race's submissions in submission order.
func listSubmissions(ctx context.Context, q querier, raceID int64) ([]Submission, error) {
	rows, err := q.QueryContext(ctx, `SELECT submission_id, runner_id, race_id, runner_name,
		finish_seconds, collection, forfeit, submitted_at
		FROM submissions WHERE race_id=$1 ORDER BY submitted_at, submission_id`, raceID)
	if err != nil {
		return nil, persistence("list submissions", err)
	}
	defer rows.Close()
	var subs []Submission
	for rows.Next() {
		var sub Submission
		var secs, coll sql.NullInt64
		if err := rows.Scan(&sub.ID, &sub.RunnerID, &sub.RaceID, &sub.RunnerName,
			&secs, &coll, &sub.Forfeit, &sub.SubmittedAt); err != nil {
			return nil, persistence("scan submission", err)
		}
		if secs.Valid {
			v := int(secs.Int64)
			sub.FinishSeconds = &v
		}
		if coll.Valid {
			v := int(coll.Int64)
			sub.Collection = &v
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list submissions", err)
	}
	return subs, nil
}
