package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/pkg/memory"
)

// ExtractedEntity is a newly introduced NPC, faction, or location.
type ExtractedEntity struct {
	Kind string `json:"kind"` // npc | faction | location
	Name string `json:"name"`
	Note string `json:"note"`
}

// NarrativeBeat is a compact 1-2 sentence memory capturing emotional,
// dialogue, or sensory texture, stored with slow decay for long-range
// callbacks.
type NarrativeBeat struct {
	Kind      string   `json:"kind"` // emotional | dialogue | sensory
	Text      string   `json:"text"`
	NPCs      []string `json:"npcs"`
	Locations []string `json:"locations"`
}

// ExtractedRelation is a typed edge the narrative asserted between two
// named cast members, bound for the knowledge-graph projection.
type ExtractedRelation struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind"` // knows | member_of | located_in | ally_of | rival_of
}

// ExtractionResult is the single post-turn extraction call's output: new
// entities to upsert, asserted relations, beats to index, and the
// plot-critical classification for auto-pinning.
type ExtractionResult struct {
	Entities     []ExtractedEntity   `json:"entities"`
	Relations    []ExtractedRelation `json:"relations"`
	Beats        []NarrativeBeat     `json:"beats"`
	PlotCritical bool                `json:"plot_critical"`
}

const extractionSchema = `{
  "type": "object",
  "properties": {
    "entities": {"type": "array", "items": {"type": "object", "properties": {
      "kind": {"enum": ["npc", "faction", "location"]}, "name": {"type": "string"}, "note": {"type": "string"}}}},
    "relations": {"type": "array", "items": {"type": "object", "properties": {
      "source": {"type": "string"}, "target": {"type": "string"},
      "kind": {"enum": ["knows", "member_of", "located_in", "ally_of", "rival_of"]}}}},
    "beats": {"type": "array", "minItems": 2, "maxItems": 3, "items": {"type": "object", "properties": {
      "kind": {"enum": ["emotional", "dialogue", "sensory"]}, "text": {"type": "string"},
      "npcs": {"type": "array", "items": {"type": "string"}}, "locations": {"type": "array", "items": {"type": "string"}}}}},
    "plot_critical": {"type": "boolean", "description": "true when this turn changes what the campaign is about"}
  },
  "required": ["entities", "beats", "plot_critical"]
}`

// EntityExtractor runs the post-turn extraction: one call emitting new
// entities, 2-3 narrative beats, and the plot-critical binary. It records
// only — NPC-behavior validation belongs to the narrative validator alone.
type EntityExtractor struct {
	layer *llmcap.Layer
}

func NewEntityExtractor(layer *llmcap.Layer) *EntityExtractor {
	return &EntityExtractor{layer: layer}
}

// Extract analyzes one committed turn's narrative. Failure degrades to an
// empty result; background extraction never surfaces errors to the player.
func (e *EntityExtractor) Extract(ctx context.Context, narrative string, knownNPCs, knownLocations []string) ExtractionResult {
	blocks := llmcap.Blocks{
		StablePrefix: "You index one roleplay turn for a memory system. List entities introduced THIS turn that are not already known; list relationships the narrative asserted between named characters, factions, or places; distill 2-3 narrative beats (emotional, dialogue-highlight, sensory) as 1-2 sentence memories worth recalling many sessions later; and classify whether the turn is plot-critical.",
		Dynamic: fmt.Sprintf("Known NPCs: %s\nKnown locations: %s\n\nNarrative:\n%s",
			strings.Join(knownNPCs, ", "), strings.Join(knownLocations, ", "), narrative),
	}

	var out ExtractionResult
	if err := schemaCall(ctx, e.layer, NameEntityExtractor, blocks, extractionSchema, &out, backgroundTimeout); err != nil {
		slog.Warn("entity extraction degraded", "error", err)
		return ExtractionResult{}
	}
	return out
}

// BeatCategory maps a beat kind onto the memory category scheme.
func BeatCategory(kind string) memory.MemoryCategory {
	switch kind {
	case "emotional":
		return memory.CategoryCharacterMoment
	case "sensory":
		return memory.CategoryAtmosphere
	default:
		return memory.CategoryNarrativeBeat
	}
}
