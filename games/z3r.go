package games

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// defaultPatchBase is the public bucket serving generated seed patch files.
const defaultPatchBase = "https://s3.us-east-2.amazonaws.com/alttpr-patches/"

func (r *Resolver) http() *http.Client {
	if r.HTTPClient != nil {
		return r.HTTPClient
	}
	return http.DefaultClient
}

// fetchPatchMeta downloads a seed's patch file and summarizes its settings.
// Callers bound the fetch via ctx; a failure here is never fatal to starting
// the race.
func (r *Resolver) fetchPatchMeta(ctx context.Context, id string) (string, error) {
	if id == "" || strings.ContainsAny(id, "/?#") {
		return "", fmt.Errorf("bad seed id %q", id)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.PatchBase+id+".json", nil)
	if err != nil {
		return "", err
	}
	resp, err := r.http().Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("patch endpoint returned %d", resp.StatusCode)
	}
	var body struct {
		Spoiler struct {
			Meta struct {
				Mode       string `json:"mode"`
				Goal       string `json:"goal"`
				Logic      string `json:"logic"`
				Weapons    string `json:"weapons"`
				Shuffle    string `json:"shuffle"`
				Difficulty string `json:"difficulty"`
			} `json:"meta"`
		} `json:"spoiler"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	m := body.Spoiler.Meta
	var parts []string
	for _, kv := range []struct{ k, v string }{
		{"mode", m.Mode}, {"goal", m.Goal}, {"logic", m.Logic},
		{"weapons", m.Weapons}, {"shuffle", m.Shuffle}, {"difficulty", m.Difficulty},
	} {
		if kv.v != "" {
			parts = append(parts, kv.k+": "+kv.v)
		}
	}
	return strings.Join(parts, ", "), nil
}
