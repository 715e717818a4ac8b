package games

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResolveClassification(t *testing.T) {
	r := NewResolver()
	// point ALTTPR fetches at nothing reachable; classification must not care
	r.PatchBase = "http://127.0.0.1:0/"

	tests := []struct {
		name    string
		payload string
		game    string
	}{
		{"alttpr seed", "https://alttpr.com/h/abc123XYZ", GameALTTPR},
		{"alttpr www", "https://www.alttpr.com/h/abc123XYZ", GameALTTPR},
		{"alttpr non-seed path", "https://alttpr.com/en/randomizer", GameOther},
		{"smz3 seed", "https://samus.link/seed/deadbeef", GameSMZ3},
		{"smz3 root", "https://samus.link/", GameOther},
		{"plain text", "crystal hunt, swordless", GameOther},
		{"empty", "", GameOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(context.Background(), tt.payload)
			if got.Name != tt.game {
				t.Errorf("Resolve(%q).Name = %q, want %q", tt.payload, got.Name, tt.game)
			}
		})
	}
}

func TestResolveTruncatesLongPayload(t *testing.T) {
	r := NewResolver()
	long := strings.Repeat("x", maxInfoLen+50)
	got := r.Resolve(context.Background(), long)
	if len(got.Info) != maxInfoLen {
		t.Errorf("Info length = %d, want %d", len(got.Info), maxInfoLen)
	}
}

func TestResolveFetchesSeedMeta(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/abc123XYZ.json" {
			t.Errorf("unexpected path %s", req.URL.Path)
			http.NotFound(w, req)
			return
		}
		_, _ = w.Write([]byte(`{"spoiler":{"meta":{"mode":"open","goal":"ganon","weapons":"randomized"}}}`))
	}))
	defer srv.Close()

	r := NewResolver()
	r.PatchBase = srv.URL + "/"
	got := r.Resolve(context.Background(), "https://alttpr.com/h/abc123XYZ")
	if got.Name != GameALTTPR {
		t.Fatalf("Name = %q, want ALTTPR", got.Name)
	}
	if !got.RequiresCollection {
		t.Error("ALTTPR seed should require a collection rate")
	}
	if !strings.Contains(got.Info, "mode: open") || !strings.Contains(got.Info, "goal: ganon") {
		t.Errorf("Info missing seed meta: %q", got.Info)
	}
}

func TestResolveDegradesWhenPatchUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	r := NewResolver()
	r.PatchBase = srv.URL + "/"
	got := r.Resolve(context.Background(), "https://alttpr.com/h/abc123XYZ")
	if got.Name != GameALTTPR {
		t.Fatalf("Name = %q, want ALTTPR", got.Name)
	}
	if got.Info != "https://alttpr.com/h/abc123XYZ" {
		t.Errorf("Info = %q, want raw payload", got.Info)
	}
}

func TestRequiresCollection(t *testing.T) {
	r := NewResolver()
	if !r.RequiresCollection(GameALTTPR) {
		t.Error("ALTTPR should require collection")
	}
	if r.RequiresCollection(GameSMZ3) || r.RequiresCollection(GameOther) {
		t.Error("only ALTTPR requires collection")
	}
}
