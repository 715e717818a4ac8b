package race

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/onnwee/race-tender/backend/telemetry"
)

// maxMessageLen is the chat platform's message size limit. Oversized
// leaderboards are truncated rather than spilled into extra messages so the
// single tracked-message identity per race holds.
const maxMessageLen = 2000

// Render derives the leaderboard view for a race strictly from stored
// submissions. Non-forfeits sort ascending by finish time, ties broken by
// submission time; forfeits follow in submission order.
func Render(r *Race, subs []Submission) string {
	var b strings.Builder
	b.WriteString(raceTitle(r))
	ranked, forfeits := splitAndSort(subs)
	pos := 1
	for _, s := range ranked {
		line := fmt.Sprintf("\n%d) %s — %s", pos, s.RunnerName, FormatSeconds(*s.FinishSeconds))
		if s.Collection != nil {
			line += " — " + formatCollection(r.Game, *s.Collection)
		}
		b.WriteString(line)
		pos++
	}
	for _, s := range forfeits {
		b.WriteString(fmt.Sprintf("\n*%s — forfeit*", s.RunnerName))
	}
	return truncate(b.String(), maxMessageLen)
}

func splitAndSort(subs []Submission) (ranked, forfeits []Submission) {
	for _, s := range subs {
		if s.Forfeit || s.FinishSeconds == nil {
			forfeits = append(forfeits, s)
		} else {
			ranked = append(ranked, s)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if *ranked[i].FinishSeconds != *ranked[j].FinishSeconds {
			return *ranked[i].FinishSeconds < *ranked[j].FinishSeconds
		}
		return ranked[i].SubmittedAt.Before(ranked[j].SubmittedAt)
	})
	sort.SliceStable(forfeits, func(i, j int) bool {
		return forfeits[i].SubmittedAt.Before(forfeits[j].SubmittedAt)
	})
	return ranked, forfeits
}

func raceTitle(r *Race) string {
	title := fmt.Sprintf("Leaderboard — %s — %s (%s)", r.Date.Format("2006-01-02"), r.Game, r.Kind)
	if !r.Active {
		title += " — final"
	}
	return title
}

// announce is the submission-channel message posted when a race starts.
func announce(r *Race, requiresCollection bool) string {
	b := fmt.Sprintf("%s — %s (%s)", r.Date.Format("2006-01-02"), r.Game, r.Kind)
	if r.Info != "" {
		b += "\n" + r.Info
	}
	b += "\nSubmit your finish time in this channel as HH:MM:SS"
	if requiresCollection {
		b += " followed by your collection rate"
	}
	b += ". Forfeit with \"ff\"."
	return truncate(b, maxMessageLen)
}

// truncate cuts s to at most n bytes, ending with an ellipsis marker. The cut
// lands on a rune boundary so a multi-byte character is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	const marker = "…"
	cut := n - len(marker)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + marker
}

// FormatSeconds renders a duration in seconds as HH:MM:SS.
func FormatSeconds(secs int) string {
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs/60)%60, secs%60)
}

// formatCollection renders a collection rate. Only ALTTPR has a fixed total
// of 216 checks to rate against; other games show the bare count.
func formatCollection(game string, c int) string {
	if game == "ALTTPR" {
		return strconv.Itoa(c) + "/216"
	}
	return strconv.Itoa(c)
}

// publish renders the race's leaderboard and edits the persistent message in
// place: the leaderboard-channel message while the race is active, the
// submission-channel message once it has stopped. It never creates duplicate
// leaderboard posts; a missing tracked message for an active race is reposted
// and re-recorded, which makes repeated publishes self-healing.
func (s *Service) publish(ctx context.Context, group *ChannelGroup, r *Race) error {
	subs, err := listSubmissions(ctx, s.db, r.ID)
	if err != nil {
		return err
	}
	content := Render(r, subs)

	role := RoleLeaderboard
	if !r.Active {
		role = RoleSubmission
	}
	msg, err := s.trackedMessage(ctx, r.ID, role)
	if err != nil {
		if !IsNotFound(err) || !r.Active {
			return err
		}
		// active race with no surviving leaderboard message: repost
		id, postErr := s.gw.PostMessage(ctx, group.LeaderboardChannelID, content)
		if postErr != nil {
			return fmt.Errorf("repost leaderboard: %w", postErr)
		}
		s.recordTrackedMessage(ctx, id, r.ID, group.LeaderboardChannelID, RoleLeaderboard)
		telemetry.Inc(telemetry.LeaderboardEdits)
		return nil
	}
	if err := s.gw.EditMessage(ctx, msg.ChannelID, msg.MessageID, content); err != nil {
		return fmt.Errorf("edit leaderboard: %w", err)
	}
	telemetry.Inc(telemetry.LeaderboardEdits)
	return nil
}

// Refresh re-derives the leaderboard from stored submissions and republishes
// it. Idempotent; this is the designated recovery path after any missed or
// failed edit. Requires mod.
func (s *Service) Refresh(ctx context.Context, inv Invoker) error {
	group, err := s.resolveSubmissionChannel(ctx, inv.ChannelID)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistence("begin", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := s.requireTier(ctx, tx, inv, TierMod); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return persistence("commit", err)
	}

	unlock := s.locks.Lock(group.ID)
	defer unlock()

	r, err := s.latestRace(ctx, group.ID)
	if err != nil {
		return err
	}
	if err := s.publish(ctx, group, r); err != nil {
		return err
	}
	telemetry.Inc(telemetry.CommandsProcessed)
	return nil
}

// latestRace returns the group's active race, or failing that the most recent
// one (refresh after stop still has a message to repair).
func (s *Service) latestRace(ctx context.Context, groupID uuid.UUID) (*Race, error) {
	row := s.db.QueryRowContext(ctx, `SELECT race_id, channel_group_id, active, race_date, game, kind, COALESCE(info,'')
		FROM races WHERE channel_group_id=$1 ORDER BY active DESC, race_id DESC LIMIT 1`, groupID)
	return scanRace(row)
}

func scanRace(row *sql.Row) (*Race, error) {
	r := &Race{}
	err := row.Scan(&r.ID, &r.GroupID, &r.Active, &r.Date, &r.Game, &r.Kind, &r.Info)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{What: "race"}
	}
	if err != nil {
		return nil, persistence("load race", err)
	}
	return r, nil
}
