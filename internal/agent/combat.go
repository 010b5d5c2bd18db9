package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deusversus/aidm/internal/composition"
	"github.com/deusversus/aidm/internal/llmcap"
	"github.com/deusversus/aidm/internal/state"
)

// CombatResult is the authoritative mechanical outcome computed BEFORE the
// key animator writes the scene. The animator narrates what already
// happened; it never re-adjudicates.
type CombatResult struct {
	Hit        bool   `json:"hit"`
	Damage     int    `json:"damage"`
	EnemyDown  bool   `json:"enemy_down"`
	PlayerDown bool   `json:"player_down"`

	// Resources is the player's HP/MP/SP spend including damage taken.
	Resources struct {
		HP int `json:"hp"`
		MP int `json:"mp"`
		SP int `json:"sp"`
	} `json:"resources"`

	// Summary is the one-line mechanical record the animator receives as
	// authoritative input ("clean hit, 14 damage, enemy staggered").
	Summary string `json:"summary"`
}

const combatSchema = `{
  "type": "object",
  "properties": {
    "hit": {"type": "boolean"}, "damage": {"type": "integer"},
    "enemy_down": {"type": "boolean"}, "player_down": {"type": "boolean"},
    "resources": {"type": "object", "properties": {"hp": {"type": "integer"}, "mp": {"type": "integer"}, "sp": {"type": "integer"}}},
    "summary": {"type": "string"}
  },
  "required": ["hit", "damage", "enemy_down", "player_down", "resources", "summary"]
}`

// CombatAgent pre-resolves combat mechanics: hit or miss, damage, deaths,
// resource deltas.
type CombatAgent struct {
	layer *llmcap.Layer
}

func NewCombatAgent(layer *llmcap.Layer) *CombatAgent {
	return &CombatAgent{layer: layer}
}

// Resolve computes the mechanical outcome of a combat action against the
// current threat. A degraded provider yields a conservative glancing hit
// with no resource spend, so a broken model never kills a character.
func (c *CombatAgent) Resolve(ctx context.Context, playerInput string, character *state.Character, threatTier string, combatStyle string) CombatResult {
	diff, err := composition.Differential(threatTier, character.PowerTier)
	if err != nil {
		diff = 0
	}

	blocks := llmcap.Blocks{
		StablePrefix: fmt.Sprintf("You resolve combat mechanics for a narrative engine with a %s combat style. Decide hit/miss, damage dealt, whether either side goes down, and the player's HP/MP/SP spend. Resource integers are amounts SPENT or LOST (never negative). Respect the power differential: a +4 or better advantage should rarely miss and should one-shot mooks; a negative differential means real danger.", combatStyle),
		Dynamic: fmt.Sprintf("Player action: %s\nPlayer: %s (tier %s, HP %d/%d, MP %d/%d, SP %d/%d)\nThreat tier: %s\nPower differential: %+d",
			playerInput, character.Name, character.PowerTier,
			character.HP, character.MaxHP, character.MP, character.MaxMP, character.SP, character.MaxSP,
			threatTier, diff),
	}

	var out CombatResult
	if err := schemaCall(ctx, c.layer, NameCombat, blocks, combatSchema, &out, stageATimeout); err != nil {
		slog.Warn("combat agent degraded", "error", err)
		return CombatResult{Hit: true, Damage: 1, Summary: "a glancing exchange; nothing decisive"}
	}
	for _, v := range []*int{&out.Resources.HP, &out.Resources.MP, &out.Resources.SP} {
		if *v < 0 {
			*v = 0
		}
	}
	return out
}

// ResourceCost converts the result's spend into the guard's type.
func (r CombatResult) ResourceCost() state.ResourceCost {
	return state.ResourceCost{HP: r.Resources.HP, MP: r.Resources.MP, SP: r.Resources.SP}
}
