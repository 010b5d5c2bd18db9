// Package production provides the production agent's MCP tool surface:
// the five tools the post-turn production pass may invoke autonomously.
//
// Exported via [Tools]:
//   - "plant_seed"               — plant a foreshadowing seed.
//   - "complete_quest_objective" — move a bible thread to resolved.
//   - "upsert_location"          — record a location with discovery state.
//   - "set_current_location"     — move the scene to a known location.
//   - "trigger_cutscene"         — request a media cutscene (budget-gated).
package production

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/deusversus/aidm/internal/foreshadow"
	"github.com/deusversus/aidm/internal/mcp"
	"github.com/deusversus/aidm/internal/mcp/tools"
	"github.com/deusversus/aidm/internal/state"
	"github.com/deusversus/aidm/pkg/provider/llm"
)

// CutsceneGate enforces the media-generation budget: cutscenes trigger
// only while enabled and under the per-session USD ceiling.
type CutsceneGate struct {
	Enabled      bool
	BudgetUSD    float64
	CostPerScene float64

	mu    sync.Mutex
	spent float64
}

// Allow reserves one cutscene's budget, reporting whether it may run.
func (g *CutsceneGate) Allow() bool {
	if g == nil || !g.Enabled {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.spent+g.CostPerScene > g.BudgetUSD {
		return false
	}
	g.spent += g.CostPerScene
	return true
}

// Deps bundles what the tool handlers mutate.
type Deps struct {
	Store      *state.Store
	Ledger     *foreshadow.Ledger
	CampaignID string

	// CurrentTurn supplies the committed turn number tool writes are
	// tagged with, keeping out-of-order background completion idempotent.
	CurrentTurn func() int

	Cutscenes *CutsceneGate
}

type plantSeedArgs struct {
	Description      string   `json:"description"`
	SeedType         string   `json:"seed_type,omitempty"`
	Urgency          int      `json:"urgency,omitempty"`
	RelatedNPCs      []string `json:"related_npcs,omitempty"`
	ExpectedPayoff   string   `json:"expected_payoff,omitempty"`
	MaxTurnsToPayoff int      `json:"max_turns_to_payoff,omitempty"`
}

type questArgs struct {
	Objective string `json:"objective"`
}

type upsertLocationArgs struct {
	Name       string `json:"name"`
	Notes      string `json:"notes,omitempty"`
	Discovered bool   `json:"discovered"`
}

type setLocationArgs struct {
	LocationID string `json:"location_id"`
}

type cutsceneArgs struct {
	Description string `json:"description"`
	Kind        string `json:"kind,omitempty"` // image | video
}

// Tools returns the production tool set bound to deps.
func Tools(deps Deps) []tools.Tool {
	return []tools.Tool{
		{
			Definition: llm.ToolDefinition{
				Name:        "plant_seed",
				Description: "Plant a foreshadowing seed: a plot element to pay off within max_turns_to_payoff turns.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"description":         map[string]any{"type": "string"},
						"seed_type":           map[string]any{"type": "string"},
						"urgency":             map[string]any{"type": "integer", "minimum": 0, "maximum": 10},
						"related_npcs":        map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
						"expected_payoff":     map[string]any{"type": "string"},
						"max_turns_to_payoff": map[string]any{"type": "integer"},
					},
					"required": []string{"description"},
				},
				EstimatedDurationMs: 30,
				MaxDurationMs:       2000,
			},
			Handler:     plantSeedHandler(deps),
			Surfaces:    []mcp.Surface{mcp.SurfaceProduction},
			DeclaredP50: 30,
			DeclaredMax: 2000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "complete_quest_objective",
				Description: "Mark a quest objective (an active bible thread) as completed.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{"objective": map[string]any{"type": "string"}},
					"required":   []string{"objective"},
				},
				EstimatedDurationMs: 30,
				MaxDurationMs:       2000,
			},
			Handler:     questHandler(deps),
			Surfaces:    []mcp.Surface{mcp.SurfaceProduction},
			DeclaredP50: 30,
			DeclaredMax: 2000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "upsert_location",
				Description: "Record a location introduced by the narrative, with discovery state and notes.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":       map[string]any{"type": "string"},
						"notes":      map[string]any{"type": "string"},
						"discovered": map[string]any{"type": "boolean"},
					},
					"required": []string{"name"},
				},
				EstimatedDurationMs: 30,
				MaxDurationMs:       2000,
			},
			Handler:     upsertLocationHandler(deps),
			Surfaces:    []mcp.Surface{mcp.SurfaceProduction},
			DeclaredP50: 30,
			DeclaredMax: 2000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "set_current_location",
				Description: "Move the scene to a previously recorded location.",
				Parameters: map[string]any{
					"type":       "object",
					"properties": map[string]any{"location_id": map[string]any{"type": "string"}},
					"required":   []string{"location_id"},
				},
				EstimatedDurationMs: 30,
				MaxDurationMs:       2000,
			},
			Handler:     setLocationHandler(deps),
			Surfaces:    []mcp.Surface{mcp.SurfaceProduction},
			DeclaredP50: 30,
			DeclaredMax: 2000,
		},
		{
			Definition: llm.ToolDefinition{
				Name:        "trigger_cutscene",
				Description: "Request a generated cutscene for a scene of exceptional visual weight. Subject to the media budget; most turns do not earn one.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"description": map[string]any{"type": "string"},
						"kind":        map[string]any{"type": "string", "enum": []string{"image", "video"}},
					},
					"required": []string{"description"},
				},
				EstimatedDurationMs: 50,
				MaxDurationMs:       5000,
			},
			Handler:     cutsceneHandler(deps),
			Surfaces:    []mcp.Surface{mcp.SurfaceProduction},
			DeclaredP50: 50,
			DeclaredMax: 5000,
		},
	}
}

func plantSeedHandler(deps Deps) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var in plantSeedArgs
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", fmt.Errorf("production: invalid plant_seed args: %w", err)
		}
		seed, err := deps.Ledger.Plant(ctx, foreshadow.PlantInput{
			Description:      in.Description,
			SeedType:         in.SeedType,
			Urgency:          in.Urgency,
			RelatedNPCs:      in.RelatedNPCs,
			ExpectedPayoff:   in.ExpectedPayoff,
			MaxTurnsToPayoff: in.MaxTurnsToPayoff,
		}, deps.CurrentTurn())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"seed_id": %q, "status": %q}`, seed.ID, seed.Status), nil
	}
}

func questHandler(deps Deps) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var in questArgs
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", fmt.Errorf("production: invalid quest args: %w", err)
		}
		bible, err := deps.Store.GetBible(ctx, deps.CampaignID)
		if err != nil {
			return "", err
		}
		kept := bible.ActiveThreads[:0]
		found := false
		for _, t := range bible.ActiveThreads {
			if t == in.Objective {
				found = true
				continue
			}
			kept = append(kept, t)
		}
		bible.ActiveThreads = kept
		bible.ResolvedThreads = append(bible.ResolvedThreads, in.Objective)
		if err := deps.Store.SaveBible(ctx, *bible); err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"completed": %q, "was_active": %v}`, in.Objective, found), nil
	}
}

func upsertLocationHandler(deps Deps) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var in upsertLocationArgs
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", fmt.Errorf("production: invalid upsert_location args: %w", err)
		}
		loc := state.Location{
			ID:         "loc_" + uuid.NewString(),
			CampaignID: deps.CampaignID,
			Name:       in.Name,
			Discovered: in.Discovered,
			Notes:      in.Notes,
		}
		if err := deps.Store.UpsertLocation(ctx, loc); err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"location_id": %q}`, loc.ID), nil
	}
}

func setLocationHandler(deps Deps) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var in setLocationArgs
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", fmt.Errorf("production: invalid set_current_location args: %w", err)
		}
		ws, err := deps.Store.GetWorldState(ctx, deps.CampaignID)
		if err != nil {
			return "", err
		}
		ws.CurrentLocationID = in.LocationID
		if err := deps.Store.UpsertWorldState(ctx, *ws); err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"current_location_id": %q}`, in.LocationID), nil
	}
}

func cutsceneHandler(deps Deps) func(context.Context, string) (string, error) {
	return func(ctx context.Context, args string) (string, error) {
		var in cutsceneArgs
		if err := json.Unmarshal([]byte(args), &in); err != nil {
			return "", fmt.Errorf("production: invalid trigger_cutscene args: %w", err)
		}
		if !deps.Cutscenes.Allow() {
			return `{"triggered": false, "reason": "media disabled or budget exhausted"}`, nil
		}
		kind := in.Kind
		if kind == "" {
			kind = "image"
		}
		// Media generation itself is a downstream consumer; the engine only
		// records the request.
		id := "media_" + uuid.NewString()
		if err := deps.Store.RecordMediaAsset(ctx, state.MediaAsset{
			ID:         id,
			CampaignID: deps.CampaignID,
			TurnNumber: deps.CurrentTurn(),
			Kind:       kind,
			URI:        "pending:" + in.Description,
		}); err != nil {
			return "", err
		}
		return fmt.Sprintf(`{"triggered": true, "media_id": %q}`, id), nil
	}
}
