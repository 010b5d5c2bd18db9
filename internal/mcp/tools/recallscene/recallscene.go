// Package recallscene exposes deep recall as an MCP tool: full-text search
// over verbatim turn narratives in the relational store, the path the key
// animator uses to quote past scenes exactly even after their memories
// have decayed cold.
//
// One tool is exported via [Tools]:
//   - "recall_scene" — top-3 verbatim turn excerpts by NPC, location, turn
//     range, or keyword.
package recallscene

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/deusversus/aidm/internal/mcp"
	"github.com/deusversus/aidm/internal/mcp/tools"
	"github.com/deusversus/aidm/internal/state"
	"github.com/deusversus/aidm/pkg/provider/llm"
)

// recallArgs is the JSON-decoded input for the "recall_scene" tool. All
// fields are optional but at least one should be set for a useful query.
type recallArgs struct {
	NPC      string `json:"npc,omitempty"`
	Location string `json:"location,omitempty"`
	Keyword  string `json:"keyword,omitempty"`
	FromTurn int    `json:"from_turn,omitempty"`
	ToTurn   int    `json:"to_turn,omitempty"`
}

// recallResult is one returned excerpt.
type recallResult struct {
	TurnNumber  int    `json:"turn_number"`
	PlayerInput string `json:"player_input"`
	Narrative   string `json:"narrative"`
}

// Tools returns the deep-recall tool bound to store and campaignID.
func Tools(store *state.Store, campaignID string) []tools.Tool {
	return []tools.Tool{{
		Definition: llm.ToolDefinition{
			Name:        "recall_scene",
			Description: "Recall up to 3 verbatim past scenes by NPC name, location, keyword, and/or turn range. Use when an exact quote or precise past detail matters.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"npc":       map[string]any{"type": "string"},
					"location":  map[string]any{"type": "string"},
					"keyword":   map[string]any{"type": "string"},
					"from_turn": map[string]any{"type": "integer"},
					"to_turn":   map[string]any{"type": "integer"},
				},
			},
			EstimatedDurationMs: 40,
			MaxDurationMs:       2000,
			Idempotent:          true,
		},
		Handler: func(ctx context.Context, args string) (string, error) {
			var in recallArgs
			if err := json.Unmarshal([]byte(args), &in); err != nil {
				return "", fmt.Errorf("recallscene: invalid args: %w", err)
			}
			turns, err := store.RecallScene(ctx, campaignID, state.RecallQuery{
				Keyword:  in.Keyword,
				NPC:      in.NPC,
				Location: in.Location,
				FromTurn: in.FromTurn,
				ToTurn:   in.ToTurn,
			})
			if err != nil {
				return "", fmt.Errorf("recallscene: %w", err)
			}
			results := make([]recallResult, 0, len(turns))
			for _, t := range turns {
				results = append(results, recallResult{
					TurnNumber:  t.TurnNumber,
					PlayerInput: t.PlayerInput,
					Narrative:   t.Narrative,
				})
			}
			out, err := json.Marshal(map[string]any{"scenes": results})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
		Surfaces:    []mcp.Surface{mcp.SurfaceNarration},
		DeclaredP50: 40,
		DeclaredMax: 2000,
	}}
}
