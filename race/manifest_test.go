package race_test

import (
	"strings"
	"testing"

	"github.com/onnwee/race-tender/backend/race"
)

func TestParseManifest(t *testing.T) {
	raw := []byte(`group_name: weekly
submission: "111"
leaderboard: "222"
spoiler: "333"
spoiler_role: "444"
`)
	m, err := race.ParseManifest(raw)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	if m.GroupName != "weekly" || m.Submission != "111" || m.Leaderboard != "222" ||
		m.Spoiler != "333" || m.SpoilerRole != "444" {
		t.Errorf("manifest = %+v", m)
	}
}

func TestParseManifestMissingField(t *testing.T) {
	raw := []byte(`group_name: weekly
submission: "111"
leaderboard: "222"
`)
	if _, err := race.ParseManifest(raw); !race.IsValidation(err) {
		t.Fatalf("ParseManifest with missing fields = %v, want validation error", err)
	}
}

func TestParseManifestBadYAML(t *testing.T) {
	if _, err := race.ParseManifest([]byte("{{not yaml")); !race.IsValidation(err) {
		t.Fatalf("ParseManifest with bad yaml = %v, want validation error", err)
	}
}

func TestParseManifestOverlongName(t *testing.T) {
	raw := []byte("group_name: " + strings.Repeat("x", 300) + `
submission: "111"
leaderboard: "222"
spoiler: "333"
spoiler_role: "444"
`)
	if _, err := race.ParseManifest(raw); !race.IsValidation(err) {
		t.Fatalf("ParseManifest with overlong name = %v, want validation error", err)
	}
}
