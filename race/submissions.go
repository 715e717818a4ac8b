package race

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/onnwee/race-tender/backend/telemetry"
)

// tokens a runner may use instead of a time to forfeit
var forfeitTokens = []string{"ff", "FF", "forfeit", "Forfeit"}

var timePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2}):(\d{2})$`)

// Message is an inbound non-command message in a submission channel.
type Message struct {
	ServerID   string
	ChannelID  string
	MessageID  string
	AuthorID   string
	AuthorName string
	Content    string
}

// Outcome reports whether a submission was accepted and, if not, why.
type Outcome struct {
	Accepted bool
	Reason   string
}

type parsedSubmission struct {
	forfeit    bool
	seconds    int
	collection *int
}

// parseSubmission extracts a duration (and collection rate where the game
// demands one) from free-form message text. HH:MM:SS, capped at 23:59:59.
func parseSubmission(raw string, requiresCollection bool) (*parsedSubmission, error) {
	fields := strings.Fields(strings.TrimSpace(raw))
	if len(fields) == 0 {
		return nil, validationf("empty submission")
	}
	for _, t := range forfeitTokens {
		if fields[0] == t {
			return &parsedSubmission{forfeit: true}, nil
		}
	}
	secs, err := ParseClockTime(strings.ReplaceAll(fields[0], `\`, ""))
	if err != nil {
		return nil, err
	}
	p := &parsedSubmission{seconds: secs}
	if requiresCollection {
		if len(fields) < 2 {
			return nil, validationf("this game requires a collection rate after the time")
		}
		c, err := strconv.ParseUint(fields[1], 10, 16)
		if err != nil {
			return nil, validationf("collection rate %q is not a number", fields[1])
		}
		v := int(c)
		p.collection = &v
	}
	return p, nil
}

// ParseClockTime parses HH:MM:SS into seconds, rejecting anything over
// 23:59:59 or otherwise malformed.
func ParseClockTime(s string) (int, error) {
	m := timePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, validationf("time %q is not HH:MM:SS", s)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	ss, _ := strconv.Atoi(m[3])
	if hh > 23 || mm > 59 || ss > 59 {
		return 0, validationf("time %q is out of range (max 23:59:59)", s)
	}
	return hh*3600 + mm*60 + ss, nil
}

// Submit processes one runner message against the channel's active race. On
// acceptance the submission row is inserted, or supersedes the runner's prior
// entry for this race, the spoiler role is granted, and the leaderboard is
// refreshed. The triggering message is deleted in every case; the submission
// channel stays free of chatter.
func (s *Service) Submit(ctx context.Context, msg Message) (Outcome, error) {
	group, err := s.resolveSubmissionChannel(ctx, msg.ChannelID)
	if err != nil {
		return Outcome{}, err
	}

	unlock := s.locks.Lock(group.ID)
	defer unlock()

	r, err := s.activeRace(ctx, s.db, group.ID)
	if err != nil {
		if IsNotFound(err) {
			return s.reject(ctx, msg, "no active race in this channel"), nil
		}
		return Outcome{}, err
	}

	p, err := parseSubmission(msg.Content, s.games.RequiresCollection(r.Game))
	if err != nil {
		if IsValidation(err) {
			return s.reject(ctx, msg, err.Error()), nil
		}
		return Outcome{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Outcome{}, persistence("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	var secs *int
	if !p.forfeit {
		secs = &p.seconds
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO submissions(runner_id, race_id, runner_name, finish_seconds, collection, forfeit)
		VALUES($1,$2,$3,$4,$5,$6)
		ON CONFLICT(runner_id, race_id) DO UPDATE SET
			runner_name=EXCLUDED.runner_name,
			finish_seconds=EXCLUDED.finish_seconds,
			collection=EXCLUDED.collection,
			forfeit=EXCLUDED.forfeit,
			submitted_at=NOW()`,
		msg.AuthorID, r.ID, msg.AuthorName, secs, p.collection, p.forfeit)
	if err != nil {
		return Outcome{}, persistence("upsert submission", err)
	}
	if err := tx.Commit(); err != nil {
		return Outcome{}, persistence("commit", err)
	}

	// committed; everything from here is best-effort
	s.sideEffect(ctx, "delete submission message", s.gw.DeleteMessage(ctx, msg.ChannelID, msg.MessageID))
	s.sideEffect(ctx, "grant spoiler role", s.gw.GrantRole(ctx, group.ServerID, msg.AuthorID, group.SpoilerRoleID))
	s.sideEffect(ctx, "publish leaderboard", s.publish(ctx, group, r))

	telemetry.Inc(telemetry.SubmissionsAccepted)
	slog.Info("submission accepted",
		slog.String("runner", msg.AuthorName),
		slog.Int64("race", r.ID),
		slog.Bool("forfeit", p.forfeit))
	return Outcome{Accepted: true}, nil
}

// reject deletes the offending message and reports the reason. Nothing is
// persisted on this path.
func (s *Service) reject(ctx context.Context, msg Message, reason string) Outcome {
	s.sideEffect(ctx, "delete rejected message", s.gw.DeleteMessage(ctx, msg.ChannelID, msg.MessageID))
	telemetry.Inc(telemetry.SubmissionsRejected)
	slog.Info("submission rejected",
		slog.String("runner", msg.AuthorName),
		slog.String("reason", reason))
	return Outcome{Accepted: false, Reason: reason}
}

// SetTime overwrites a runner's finish time on the active race, clearing any
// forfeit. Requires mod.
func (s *Service) SetTime(ctx context.Context, inv Invoker, runnerName, clock string) error {
	secs, err := ParseClockTime(clock)
	if err != nil {
		return err
	}
	return s.correct(ctx, inv, runnerName, func(ctx context.Context, q querier, raceID int64) (int64, error) {
		res, err := q.ExecContext(ctx, `UPDATE submissions SET finish_seconds=$1, forfeit=FALSE
			WHERE race_id=$2 AND runner_name=$3`, secs, raceID, runnerName)
		if err != nil {
			return 0, persistence("set time", err)
		}
		return res.RowsAffected()
	}, nil)
}

// SetCollection overwrites a runner's collection rate on the active race.
// Requires mod.
func (s *Service) SetCollection(ctx context.Context, inv Invoker, runnerName string, value int) error {
	if value < 0 || value > 65535 {
		return validationf("collection rate %d out of range", value)
	}
	return s.correct(ctx, inv, runnerName, func(ctx context.Context, q querier, raceID int64) (int64, error) {
		res, err := q.ExecContext(ctx, `UPDATE submissions SET collection=$1
			WHERE race_id=$2 AND runner_name=$3`, value, raceID, runnerName)
		if err != nil {
			return 0, persistence("set collection", err)
		}
		return res.RowsAffected()
	}, nil)
}

// RemoveTime deletes a runner's submission from the active race and revokes
// their spoiler role. Requires mod.
func (s *Service) RemoveTime(ctx context.Context, inv Invoker, runnerName string) error {
	var runnerID string
	err := s.correct(ctx, inv, runnerName, func(ctx context.Context, q querier, raceID int64) (int64, error) {
		err := q.QueryRowContext(ctx, `DELETE FROM submissions WHERE race_id=$1 AND runner_name=$2
			RETURNING runner_id`, raceID, runnerName).Scan(&runnerID)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		if err != nil {
			return 0, persistence("remove time", err)
		}
		return 1, nil
	}, func(ctx context.Context, group *ChannelGroup) {
		s.sideEffect(ctx, "revoke spoiler role", s.gw.RevokeRole(ctx, group.ServerID, runnerID, group.SpoilerRoleID))
	})
	return err
}

// correct runs one mutation against a named runner's submission on the active
// race, then republishes the leaderboard. after, when set, runs extra
// post-commit side effects.
func (s *Service) correct(ctx context.Context, inv Invoker, runnerName string,
	mutate func(context.Context, querier, int64) (int64, error),
	after func(context.Context, *ChannelGroup),
) error {
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
	r, err := s.activeRace(ctx, tx, group.ID)
	if err != nil {
		return err
	}
	n, err := mutate(ctx, tx, r.ID)
	if err != nil {
		return err
	}
	if n == 0 {
		return &NotFoundError{What: "submission for runner " + runnerName}
	}
	if err := tx.Commit(); err != nil {
		return persistence("commit", err)
	}

	if after != nil {
		after(ctx, group)
	}
	s.sideEffect(ctx, "publish leaderboard", s.publish(ctx, group, r))
	telemetry.Inc(telemetry.CommandsProcessed)
	return nil
}
