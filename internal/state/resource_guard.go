package state

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrResourceInsufficient signals a blocked action: the acting entity lacks
// the HP/MP/SP the action requires.
var ErrResourceInsufficient = errors.New("resource insufficient")

// ResourceCost is the HP/MP/SP an action would spend, as computed upstream
// by the combat/progression agents. A zero value for any field means that
// resource is not spent by this action.
type ResourceCost struct {
	HP, MP, SP int
}

// ResourceGuard is a pure pre-LLM check: it verifies an action's declared
// cost does not exceed the character's current resource budget. It is never
// an LLM call.
type ResourceGuard struct{}

// NewResourceGuard constructs a ResourceGuard. It carries no state; the
// constructor exists purely so callers can depend on an interface-shaped
// value and so the zero guard reads naturally at call sites.
func NewResourceGuard() *ResourceGuard {
	return &ResourceGuard{}
}

// Check verifies cost against ch's current resources. If override is true
// (campaign.narrative_override_resources), the check always passes; the
// guard is a pure numeric pre-check and does not weigh narrative stakes.
func (g *ResourceGuard) Check(ch Character, cost ResourceCost, override bool) error {
	if override {
		if cost.HP > ch.HP || cost.MP > ch.MP || cost.SP > ch.SP {
			slog.Warn("resource guard bypassed by narrative_override_resources",
				"campaign_id", ch.CampaignID, "cost", cost)
		}
		return nil
	}

	switch {
	case cost.HP > ch.HP:
		return fmt.Errorf("%w: needs %d HP, has %d", ErrResourceInsufficient, cost.HP, ch.HP)
	case cost.MP > ch.MP:
		return fmt.Errorf("%w: needs %d MP, has %d", ErrResourceInsufficient, cost.MP, ch.MP)
	case cost.SP > ch.SP:
		return fmt.Errorf("%w: needs %d SP, has %d", ErrResourceInsufficient, cost.SP, ch.SP)
	default:
		return nil
	}
}

// Apply subtracts cost from ch's resources, clamping at zero. Callers
// invoke Apply only after Check has passed (or been overridden) so
// resources never go negative post-commit.
func Apply(ch Character, cost ResourceCost) Character {
	ch.HP = clampNonNegative(ch.HP - cost.HP)
	ch.MP = clampNonNegative(ch.MP - cost.MP)
	ch.SP = clampNonNegative(ch.SP - cost.SP)
	return ch
}

func clampNonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
