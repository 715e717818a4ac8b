package race

import (
	"strings"
	"testing"
	"time"
)

func intp(v int) *int { return &v }

func sub(name string, secs *int, coll *int, forfeit bool, at time.Time) Submission {
	return Submission{
		RunnerID:      name + "-id",
		RunnerName:    name,
		FinishSeconds: secs,
		Collection:    coll,
		Forfeit:       forfeit,
		SubmittedAt:   at,
	}
}

func TestRenderOrdering(t *testing.T) {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	r := &Race{Active: true, Date: base, Game: "ALTTPR", Kind: KindRTA}
	subs := []Submission{
		sub("slow", intp(2*3600), nil, false, base.Add(1*time.Minute)),
		sub("fast", intp(3600), intp(120), false, base.Add(2*time.Minute)),
		sub("quit", nil, nil, true, base.Add(3*time.Minute)),
		sub("tie-late", intp(3600), nil, false, base.Add(5*time.Minute)),
	}
	got := Render(r, subs)

	lines := strings.Split(got, "\n")
	want := []string{
		"Leaderboard — 2026-08-01 — ALTTPR (RTA)",
		"1) fast — 01:00:00 — 120/216",
		"2) tie-late — 01:00:00",
		"3) slow — 02:00:00",
		"*quit — forfeit*",
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(lines), len(want), got)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestRenderTieBrokenBySubmissionTime(t *testing.T) {
	base := time.Now().UTC()
	r := &Race{Active: true, Date: base, Game: "Other", Kind: KindIGT}
	subs := []Submission{
		sub("second", intp(100), nil, false, base.Add(2*time.Minute)),
		sub("first", intp(100), nil, false, base.Add(1*time.Minute)),
	}
	got := Render(r, subs)
	if strings.Index(got, "first") > strings.Index(got, "second") {
		t.Errorf("earlier submission should rank first on a tie:\n%s", got)
	}
}

func TestRenderEmpty(t *testing.T) {
	r := &Race{Active: true, Date: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), Game: "SMZ3", Kind: KindRTA}
	got := Render(r, nil)
	if got != "Leaderboard — 2026-01-02 — SMZ3 (RTA)" {
		t.Errorf("empty leaderboard = %q", got)
	}
}

func TestRenderFinalMarker(t *testing.T) {
	r := &Race{Active: false, Date: time.Now(), Game: "Other", Kind: KindRTA}
	if !strings.Contains(Render(r, nil), "— final") {
		t.Error("stopped race title should carry the final marker")
	}
}

func TestRenderTruncates(t *testing.T) {
	base := time.Now().UTC()
	r := &Race{Active: true, Date: base, Game: "Other", Kind: KindRTA}
	var subs []Submission
	for i := 0; i < 200; i++ {
		subs = append(subs, sub(strings.Repeat("x", 30), intp(i+1), nil, false, base))
	}
	got := Render(r, subs)
	if len(got) > maxMessageLen {
		t.Errorf("rendered leaderboard is %d bytes, cap is %d", len(got), maxMessageLen)
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("a", 3000)
	got := truncate(long, 2000)
	if len(got) > 2000 {
		t.Errorf("truncate produced %d bytes, cap is 2000", len(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Error("truncated string should end with the ellipsis marker")
	}

	// the cut must not split a multi-byte rune
	runes := strings.Repeat("é", 2000) // 2 bytes each
	got = truncate(runes, 2000)
	if len(got) > 2000 {
		t.Errorf("truncate produced %d bytes, cap is 2000", len(got))
	}
	for _, r := range got {
		if r == '�' {
			t.Fatal("truncate split a multi-byte rune")
		}
	}

	if got := truncate("short", 2000); got != "short" {
		t.Errorf("truncate should leave short strings alone, got %q", got)
	}
}

func TestRenderCollectionDenominatorPerGame(t *testing.T) {
	base := time.Now().UTC()
	s := []Submission{sub("alice", intp(3600), intp(120), false, base)}

	alttpr := Render(&Race{Active: true, Date: base, Game: "ALTTPR", Kind: KindRTA}, s)
	if !strings.Contains(alttpr, "120/216") {
		t.Errorf("ALTTPR collection should rate against 216 checks: %q", alttpr)
	}
	other := Render(&Race{Active: true, Date: base, Game: "Other", Kind: KindRTA}, s)
	if strings.Contains(other, "/216") {
		t.Errorf("non-ALTTPR collection must not carry the 216 denominator: %q", other)
	}
	if !strings.Contains(other, "— 120") {
		t.Errorf("non-ALTTPR collection count missing: %q", other)
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		secs int
		want string
	}{
		{0, "00:00:00"},
		{61, "00:01:01"},
		{3600, "01:00:00"},
		{86399, "23:59:59"},
	}
	for _, tt := range tests {
		if got := FormatSeconds(tt.secs); got != tt.want {
			t.Errorf("FormatSeconds(%d) = %q, want %q", tt.secs, got, tt.want)
		}
	}
}

func TestAnnounceMentionsCollection(t *testing.T) {
	r := &Race{Active: true, Date: time.Now(), Game: "ALTTPR", Kind: KindRTA, Info: "mode: open"}
	with := announce(r, true)
	if !strings.Contains(with, "collection rate") {
		t.Errorf("announcement should ask for a collection rate:\n%s", with)
	}
	without := announce(r, false)
	if strings.Contains(without, "collection rate") {
		t.Errorf("announcement should not ask for a collection rate:\n%s", without)
	}
	if !strings.Contains(with, "mode: open") {
		t.Error("announcement should carry the race info")
	}
}
