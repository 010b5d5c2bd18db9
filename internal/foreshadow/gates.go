package foreshadow

import (
	"github.com/deusversus/aidm/internal/state"
)

// GateInput is the world+ledger snapshot an arc-gate predicate evaluates.
type GateInput struct {
	Phase        state.ArcPhase
	TurnsInPhase int
	TensionLevel float64

	SeedsPlanted        int
	SeedsReadyToResolve int
	UrgentActiveSeeds   int

	// KeyMomentDetected is set by the director when the last narrative
	// contained an explicit climax beat.
	KeyMomentDetected bool

	// DirectorOverride is set when the pre-turn directive carries
	// strength=override, which unconditionally authorizes leaving
	// rising_action.
	DirectorOverride bool
}

// NextPhase evaluates the arc-gate predicates for in.Phase and returns the
// authorized next phase, or ok=false when no gate is satisfied.
//
// Gates:
//
//	setup -> rising_action:   seeds planted >= 3 OR turns >= 5
//	rising -> climax:         (ready >= 1 AND tension >= 0.7) OR turns >= 15 OR override
//	climax -> resolution:     key moment detected OR turns >= 3
//	resolution -> epilogue:   turns >= 2 AND no urgent active seeds
//	epilogue -> setup:        immediately (a new arc begins)
func NextPhase(in GateInput) (state.ArcPhase, bool) {
	switch in.Phase {
	case state.ArcSetup:
		if in.SeedsPlanted >= 3 || in.TurnsInPhase >= 5 {
			return state.ArcRisingAction, true
		}
	case state.ArcRisingAction:
		if (in.SeedsReadyToResolve >= 1 && in.TensionLevel >= 0.7) || in.TurnsInPhase >= 15 || in.DirectorOverride {
			return state.ArcClimax, true
		}
	case state.ArcClimax:
		if in.KeyMomentDetected || in.TurnsInPhase >= 3 {
			return state.ArcResolution, true
		}
	case state.ArcResolution:
		if in.TurnsInPhase >= 2 && in.UrgentActiveSeeds == 0 {
			return state.ArcEpilogue, true
		}
	case state.ArcEpilogue:
		return state.ArcSetup, true
	}
	return "", false
}

// GateInputFrom assembles a GateInput from the world state and ledger.
func GateInputFrom(ws *state.WorldState, ledger *Ledger, keyMoment, override bool) GateInput {
	in := GateInput{
		Phase:             ws.ArcPhase,
		TurnsInPhase:      ws.TurnsInPhase,
		TensionLevel:      ws.TensionLevel,
		KeyMomentDetected: keyMoment,
		DirectorOverride:  override,
	}
	for _, s := range ledger.Active() {
		in.SeedsPlanted++
		if s.Status == state.SeedReadyToResolve {
			in.SeedsReadyToResolve++
		}
		if s.Urgency >= 7 && s.Status != state.SeedResolved && s.Status != state.SeedAbandoned {
			in.UrgentActiveSeeds++
		}
	}
	return in
}
