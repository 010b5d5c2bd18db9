package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deusversus/aidm/internal/llmcap"
)

// LocationDetail is the world builder's output for a newly entered place.
type LocationDetail struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Hooks       []string `json:"hooks"`
	Factions    []string `json:"factions"`
}

const locationSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "description": {"type": "string"},
    "hooks": {"type": "array", "items": {"type": "string"}, "description": "2-3 things a curious player could pull on here"},
    "factions": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["name", "description", "hooks", "factions"]
}`

// WorldBuilder fleshes out locations the player explores into, grounded in
// the profile's lore rather than generic fantasy furniture.
type WorldBuilder struct {
	layer *llmcap.Layer
}

func NewWorldBuilder(layer *llmcap.Layer) *WorldBuilder {
	return &WorldBuilder{layer: layer}
}

// Build details a location from its name, relevant lore excerpts, and the
// current situation. Failure degrades to a bare-name detail; exploration
// proceeds with the animator improvising.
func (w *WorldBuilder) Build(ctx context.Context, locationName string, loreExcerpts []string, situation string) LocationDetail {
	blocks := llmcap.Blocks{
		StablePrefix: "You detail a location for a roleplay set inside an established IP. Stay inside the source material's logic and aesthetic; invent only what the lore leaves open, and give the place 2-3 hooks worth a player's curiosity.",
		Dynamic: fmt.Sprintf("Location: %s\nSituation: %s\n\nRelevant lore:\n%s",
			locationName, situation, strings.Join(loreExcerpts, "\n---\n")),
	}
	var out LocationDetail
	if err := schemaCall(ctx, w.layer, NameWorldBuilder, blocks, locationSchema, &out, stageATimeout); err != nil {
		slog.Warn("world builder degraded", "location", locationName, "error", err)
		return LocationDetail{Name: locationName, Hooks: []string{}, Factions: []string{}}
	}
	return out
}
