// Package games classifies race start payloads into known games and enriches
// them with seed metadata where a public endpoint exists.
package games

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/onnwee/race-tender/backend/race"
)

// Known game names. Anything unrecognized races as Other.
const (
	GameALTTPR = "ALTTPR"
	GameSMZ3   = "SMZ3"
	GameOther  = "Other"
)

// maxInfoLen caps free-form race info carried from the start payload.
const maxInfoLen = 400

// collectionGames names the games whose submissions carry a collection rate.
var collectionGames = map[string]bool{
	GameALTTPR: true,
}

// Resolver implements race.GameResolver. Classification is purely syntactic;
// only ALTTPR seeds trigger a metadata fetch, and that fetch degrades to the
// raw payload when the endpoint is unreachable.
type Resolver struct {
	HTTPClient *http.Client
	PatchBase  string
}

// NewResolver returns a resolver against the public patch endpoint.
func NewResolver() *Resolver {
	return &Resolver{PatchBase: defaultPatchBase}
}

// Resolve classifies the payload and, for ALTTPR seeds, fetches the seed's
// settings summary. Never fails: an unclassifiable payload races as Other.
func (r *Resolver) Resolve(ctx context.Context, payload string) race.GameInfo {
	payload = strings.TrimSpace(payload)
	u, err := url.Parse(payload)
	if err == nil && u.Host != "" {
		host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		switch {
		case host == "alttpr.com" && strings.HasPrefix(u.Path, "/h/"):
			id := strings.TrimPrefix(u.Path, "/h/")
			info := payload
			if meta, err := r.fetchPatchMeta(ctx, id); err == nil && meta != "" {
				info = payload + "\n" + meta
			}
			return race.GameInfo{Name: GameALTTPR, Info: truncate(info), URL: payload, RequiresCollection: true}
		case host == "samus.link" && strings.HasPrefix(u.Path, "/seed"):
			return race.GameInfo{Name: GameSMZ3, Info: truncate(payload), URL: payload}
		}
	}
	return race.GameInfo{Name: GameOther, Info: truncate(payload)}
}

// RequiresCollection reports whether submissions for the game carry a
// collection rate after the finish time.
func (r *Resolver) RequiresCollection(game string) bool {
	return collectionGames[game]
}

func truncate(s string) string {
	if len(s) <= maxInfoLen {
		return s
	}
	return s[:maxInfoLen]
}
