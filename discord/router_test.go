package discord

import (
	"testing"

	"github.com/onnwee/race-tender/backend/race"
)

func TestStartCommandTokens(t *testing.T) {
	tests := []struct {
		cmd  string
		kind race.Kind
		ok   bool
	}{
		{"rtastart", race.KindRTA, true},
		{"startrace", race.KindRTA, true},
		{"igtstart", race.KindIGT, true},
		{"stop", "", false},
		{"refresh", "", false},
		{"start", "", false},
	}
	for _, tt := range tests {
		kind, ok := startCommand(tt.cmd)
		if ok != tt.ok || kind != tt.kind {
			t.Errorf("startCommand(%q) = (%q, %v), want (%q, %v)", tt.cmd, kind, ok, tt.kind, tt.ok)
		}
	}
}

func TestStopCommandTokens(t *testing.T) {
	for _, cmd := range []string{"stop", "stoprace"} {
		if !stopCommand(cmd) {
			t.Errorf("stopCommand(%q) = false, want true", cmd)
		}
	}
	for _, cmd := range []string{"rtastart", "stopp", ""} {
		if stopCommand(cmd) {
			t.Errorf("stopCommand(%q) = true, want false", cmd)
		}
	}
}
