// Package orchestrator executes the per-turn pipeline: routing, agent
// sequencing, Stage-A parallel fan-in, the atomic Stage-8 commit, and the
// post-response background fan-out.
//
// One orchestrator serves one campaign. Turns are strictly serialized on
// the campaign; within a turn, Stage-A tasks run concurrently under an
// errgroup, and background fan-out tasks are independent fire-and-forget
// workers whose failures are logged but never surface to the player.
package orchestrator

import (
	"context"
	"sync"

	"github.com/deusversus/aidm/internal/agent"
	"github.com/deusversus/aidm/internal/composition"
	"github.com/deusversus/aidm/internal/foreshadow"
	"github.com/deusversus/aidm/internal/mcp/tier"
	"github.com/deusversus/aidm/internal/memorysub"
	"github.com/deusversus/aidm/internal/observe"
	"github.com/deusversus/aidm/internal/profile"
	"github.com/deusversus/aidm/internal/state"
)

// Agents is the specialist roster the orchestrator sequences.
type Agents struct {
	Intent       *agent.IntentClassifier
	Scales       *agent.ScaleSelector
	Judge        *agent.OutcomeJudge
	Combat       *agent.CombatAgent
	Animator     *agent.KeyAnimator
	Director     *agent.Director
	Validator    *agent.NarrativeValidator
	Extractor    *agent.EntityExtractor
	Relationship *agent.RelationshipAnalyzer
	Production   *agent.ProductionAgent
	Progression  *agent.ProgressionAgent
	WorldBuilder *agent.WorldBuilder

	// Narration is the narration tool surface (recall_scene, rule-library
	// lookups) consulted while assembling Block 3 for lore questions.
	Narration agent.ToolSurface
}

// MemoryOps bundles the memory-subsystem workers.
type MemoryOps struct {
	Retriever   *memorysub.Retriever
	Sweeper     *memorysub.Sweeper
	Drainer     *memorysub.Drainer
	Window      *memorysub.Window
	Compression *memorysub.Compression

	// Graph projects extracted cast relationships into the knowledge
	// graph and answers the "what does this NPC know of" lookups the
	// voice-card enrichment folds into Block 3. Nil disables both.
	Graph *memorysub.GraphProjector
}

// Config carries the per-campaign knobs.
type Config struct {
	// NarrativeOverrideResources bypasses the resource guard.
	NarrativeOverrideResources bool
}

// Orchestrator runs turns for a single campaign.
type Orchestrator struct {
	store   *state.Store
	ledger  *foreshadow.Ledger
	agents  Agents
	mem     MemoryOps
	guard   *state.ResourceGuard
	cfg     Config
	metrics *observe.Metrics

	// recallTier spots recall-worthy phrasing ("do you remember", "tell me
	// everything about") so deep recall also fires on social or
	// exploration turns that reach into the past, not just LORE_QUESTION.
	recallTier *tier.Selector

	campaign *state.Campaign
	prof     *profile.Profile

	// mu serializes turns on the campaign key.
	mu sync.Mutex

	// lastSceneMode holds the composition mode carried between scene
	// boundaries.
	lastSceneMode composition.Mode

	// directorNotes retains the last 5 pre-turn directives for Block 2.
	directorNotes []string

	// pendingMicroBeats queues "previously unseen behavior" beats from NPC
	// stage transitions, spent into the next turn's directive.
	pendingMicroBeats []string

	// Post-review hybrid trigger state.
	epicness         float64
	turnsSinceReview int
	arcEvent         bool

	// bg tracks in-flight background fan-out for graceful shutdown.
	bg sync.WaitGroup
}

// New wires an orchestrator for campaign. The foreshadowing ledger must
// already be loaded for the campaign.
func New(store *state.Store, ledger *foreshadow.Ledger, agents Agents, mem MemoryOps, campaign *state.Campaign, prof *profile.Profile, cfg Config) *Orchestrator {
	return &Orchestrator{
		store:      store,
		ledger:     ledger,
		agents:     agents,
		mem:        mem,
		guard:      state.NewResourceGuard(),
		cfg:        cfg,
		metrics:    observe.DefaultMetrics(),
		recallTier: tier.NewSelector(),
		campaign:   campaign,
		prof:       prof,
	}
}

// PinTurn marks a turn as director-pinned into the sliding window.
func (o *Orchestrator) PinTurn(ctx context.Context, turnNumber int) error {
	return o.store.PinTurn(ctx, o.campaign.ID, turnNumber)
}

// PlayerPinTurn marks a turn as player-pinned into the sliding window.
func (o *Orchestrator) PlayerPinTurn(ctx context.Context, turnNumber int) error {
	return o.store.PlayerPinTurn(ctx, o.campaign.ID, turnNumber)
}

// Close waits for in-flight background fan-out to finish.
func (o *Orchestrator) Close() {
	o.bg.Wait()
}

func (o *Orchestrator) noteDirective(d agent.PacingDirective) {
	if d.ArcBeat == "" {
		return
	}
	o.directorNotes = append(o.directorNotes, d.ArcBeat)
	if len(o.directorNotes) > 5 {
		o.directorNotes = o.directorNotes[len(o.directorNotes)-5:]
	}
}

// takeMicroBeats drains the queued stage-transition beats.
func (o *Orchestrator) takeMicroBeats() []string {
	beats := o.pendingMicroBeats
	o.pendingMicroBeats = nil
	return beats
}
