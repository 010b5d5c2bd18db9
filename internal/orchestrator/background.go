package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deusversus/aidm/internal/agent"
	"github.com/deusversus/aidm/internal/memorysub"
	"github.com/deusversus/aidm/internal/state"
	"github.com/deusversus/aidm/pkg/memory"
)

// backgroundBudget bounds the whole post-turn fan-out for one turn.
const backgroundBudget = 90 * time.Second

// reviewCeiling forces a director post-review after this many turns even
// when nothing epic accumulated.
const reviewCeiling = 8

// reviewMinInterval keeps reviews at least this many turns apart.
const reviewMinInterval = 3

// spawnBackground launches the post-response fan-out. It runs detached
// from the request context: background work belongs to already-committed
// state and is never cancelled by a later turn abort.
func (o *Orchestrator) spawnBackground(turnNumber int, narrative string, ws state.WorldState, sceneNPCs []state.NPC, presentNames []string, combat *agent.CombatResult, outcome *agent.OutcomeResult, directive agent.PacingDirective) {
	o.epicness += epicnessOf(directive, combat, outcome)
	o.turnsSinceReview++

	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backgroundBudget)
		defer cancel()
		o.runBackground(ctx, turnNumber, narrative, ws, sceneNPCs, presentNames)
	}()
}

// runBackground executes the fan-out tasks. Each task is isolated: a
// failure logs and the rest proceed.
func (o *Orchestrator) runBackground(ctx context.Context, turnNumber int, narrative string, ws state.WorldState, sceneNPCs []state.NPC, presentNames []string) {
	// Entity extraction + narrative-beat indexing.
	extraction := o.agents.Extractor.Extract(ctx, narrative, npcNames(sceneNPCs), nil)
	o.applyExtraction(ctx, turnNumber, narrative, ws.Situation, extraction)

	// Foreshadowing detection.
	if _, err := o.ledger.DetectInNarrative(ctx, narrative, presentNames, turnNumber); err != nil {
		slog.Warn("foreshadowing detection failed", "error", err)
	}

	// Overdue-seed pressure.
	tensionDelta, forceList, err := o.ledger.OverduePressure(ctx, turnNumber)
	if err != nil {
		slog.Warn("overdue pressure pass failed", "error", err)
	}
	if tensionDelta > 0 {
		if cur, err := o.store.GetWorldState(ctx, o.campaign.ID); err == nil {
			cur.TensionLevel = clamp01(cur.TensionLevel + tensionDelta)
			if err := o.store.UpsertWorldState(ctx, *cur); err != nil {
				slog.Warn("tension update failed", "error", err)
			}
		}
	}

	// Relationship analyzer; stage transitions queue next-scene micro-beats.
	updated, transitions := o.agents.Relationship.Analyze(ctx, narrative, sceneNPCs, turnNumber)
	for _, n := range updated {
		if err := o.store.UpsertNPC(ctx, n); err != nil {
			slog.Warn("npc update failed", "npc", n.Name, "error", err)
		}
	}
	if len(transitions) > 0 {
		o.mu.Lock()
		for _, t := range transitions {
			o.pendingMicroBeats = append(o.pendingMicroBeats,
				t.NPC.Name+" shows a side of themselves not seen before")
		}
		o.mu.Unlock()
	}

	// Production agent: tool-use pass, including director seed suggestions
	// from the most recent review.
	if o.agents.Production != nil {
		o.agents.Production.Run(ctx, narrative, ws.Situation, nil)
	}

	// Director post-review on the hybrid trigger.
	o.maybeReview(ctx, turnNumber, forceList)

	// Heat sweep (decay + NPC boost), then queue drain.
	if err := o.mem.Sweeper.Sweep(ctx, o.campaign.ID, turnNumber); err != nil {
		slog.Warn("heat sweep failed", "error", err)
	}
	o.mem.Drainer.Drain(ctx, o.campaign.ID)

	// Window advance + compaction cadence.
	o.mem.Window.Advance(ctx, o.campaign.ID, turnNumber)
	if memorysub.Due(turnNumber) {
		o.mem.Compression.Run(ctx, o.campaign.ID, turnNumber)
	}
}

// applyExtraction upserts new entities and enqueues narrative beats as
// pending memories with slow decay and tags. Newly discovered locations
// pass through the world builder so their record carries lore-grounded
// detail and hooks instead of a bare name.
func (o *Orchestrator) applyExtraction(ctx context.Context, turnNumber int, narrative, situation string, res agent.ExtractionResult) {
	for _, e := range res.Entities {
		var err error
		switch e.Kind {
		case "npc":
			err = o.store.UpsertNPC(ctx, state.NPC{
				ID: "npc_" + uuid.NewString(), CampaignID: o.campaign.ID, Name: e.Name,
				Disposition: state.DispositionNeutral, IntelligenceStage: state.StageReactive,
				LastAppeared: turnNumber, Milestones: state.Milestones{},
			})
		case "faction":
			err = o.store.UpsertFaction(ctx, state.Faction{
				ID: "fac_" + uuid.NewString(), CampaignID: o.campaign.ID, Name: e.Name,
				Discovered: true, Notes: e.Note,
			})
		case "location":
			notes := e.Note
			if o.agents.WorldBuilder != nil {
				if d := o.agents.WorldBuilder.Build(ctx, e.Name, []string{narrative}, situation); d.Description != "" {
					notes = d.Description
					if len(d.Hooks) > 0 {
						notes += "\nHooks: " + strings.Join(d.Hooks, "; ")
					}
				}
			}
			err = o.store.UpsertLocation(ctx, state.Location{
				ID: "loc_" + uuid.NewString(), CampaignID: o.campaign.ID, Name: e.Name,
				Discovered: true, Notes: notes,
			})
		}
		if err != nil {
			slog.Warn("entity upsert failed", "kind", e.Kind, "name", e.Name, "error", err)
		}
	}

	// Project the cast and its asserted relationships into the knowledge
	// graph. Deterministic IDs keep the projection idempotent across
	// out-of-order background completions.
	if o.mem.Graph != nil {
		ents := make([]memorysub.GraphEntity, 0, len(res.Entities))
		for _, e := range res.Entities {
			ents = append(ents, memorysub.GraphEntity{Kind: e.Kind, Name: e.Name, Note: e.Note})
		}
		rels := make([]memorysub.GraphRelation, 0, len(res.Relations))
		for _, r := range res.Relations {
			rels = append(rels, memorysub.GraphRelation{Source: r.Source, Target: r.Target, Kind: r.Kind})
		}
		o.mem.Graph.Project(ctx, o.campaign.ID, turnNumber, ents, rels)
	}

	if len(res.Beats) == 0 {
		return
	}
	tx := o.store.Begin()
	for _, beat := range res.Beats {
		tx.EnqueuePendingMemory(o.campaign.ID, "beat_"+uuid.NewString(), memorysub.PendingPayload{
			Content:         beat.Text,
			Category:        agent.BeatCategory(beat.Kind),
			Heat:            memorysub.InitialHeat(res.PlotCritical, false),
			DecayRate:       memory.DecaySlow,
			PlotCritical:    res.PlotCritical,
			TaggedNPCs:      beat.NPCs,
			TaggedLocations: beat.Locations,
			OriginTurn:      turnNumber,
		})
	}
	if err := tx.Commit(ctx); err != nil {
		slog.Warn("beat enqueue failed", "error", err)
	}
}

// maybeReview runs the director post-review when the hybrid trigger fires:
// accumulated epicness >= 2.0, an arc-relevant event occurred, or the
// ceiling of 8 turns is reached — never more often than every 3 turns,
// except that seeds past twice their payoff budget trigger a review at
// once and are force-closed here.
func (o *Orchestrator) maybeReview(ctx context.Context, turnNumber int, forceList []state.ForeshadowingSeed) {
	o.mu.Lock()
	due := o.turnsSinceReview >= reviewMinInterval &&
		(o.epicness >= 2.0 || o.arcEvent || o.turnsSinceReview >= reviewCeiling)
	if len(forceList) > 0 {
		due = true
	}
	if !due {
		o.mu.Unlock()
		return
	}
	o.epicness = 0
	o.turnsSinceReview = 0
	o.arcEvent = false
	o.mu.Unlock()

	bible, err := o.store.GetBible(ctx, o.campaign.ID)
	if err != nil {
		slog.Warn("review bible load failed", "error", err)
		return
	}
	ws, err := o.store.GetWorldState(ctx, o.campaign.ID)
	if err != nil {
		slog.Warn("review world-state load failed", "error", err)
		return
	}
	recent, err := o.store.GetSlidingWindowTurns(ctx, o.campaign.ID, reviewCeiling, 0)
	if err != nil {
		slog.Warn("review turn load failed", "error", err)
		return
	}

	res, ok := o.agents.Director.Review(ctx, bible, ws, recent, turnNumber)
	if !ok {
		return
	}
	if err := o.store.SaveBible(ctx, *bible); err != nil {
		slog.Warn("bible save failed", "error", err)
		return
	}
	if res.Situation != "" {
		ws.Situation = res.Situation
		if err := o.store.UpsertWorldState(ctx, *ws); err != nil {
			slog.Warn("situation rewrite failed", "error", err)
		}
	}

	// Seeds past 2x their budget MUST leave the board: abandoned with a
	// resolution narrative recording why the thread went nowhere.
	for _, s := range forceList {
		if _, err := o.ledger.Abandon(ctx, s.ID, "The thread of \""+s.Description+"\" faded from the story unresolved."); err != nil {
			slog.Warn("forced seed closure failed", "seed", s.ID, "error", err)
		}
	}

	// Hand the review's seed suggestions to the production agent.
	if o.agents.Production != nil && len(res.SeedSuggestions) > 0 {
		o.agents.Production.Run(ctx, "", ws.Situation, res.SeedSuggestions)
	}

	// Arc-boundary progression assessment.
	if ws.ArcPhase == state.ArcResolution || ws.ArcPhase == state.ArcEpilogue {
		if ch, err := o.store.GetCharacter(ctx, o.campaign.ID); err == nil {
			grown := o.agents.Progression.Assess(ctx, ch, res.ArcSummary).Apply(*ch)
			if grown.Level != ch.Level {
				if err := o.store.UpsertCharacter(ctx, grown); err != nil {
					slog.Warn("progression save failed", "error", err)
				}
			}
		}
	}
}

// epicnessOf scores one turn's contribution to the review trigger.
func epicnessOf(d agent.PacingDirective, combat *agent.CombatResult, outcome *agent.OutcomeResult) float64 {
	score := 0.3
	if combat != nil {
		score += 0.5
		if combat.EnemyDown || combat.PlayerDown {
			score += 0.5
		}
	}
	if outcome != nil && (outcome.Success == "critical" || outcome.Success == "critical_failure") {
		score += 0.5
	}
	if d.PhaseTransition != "" {
		score += 1.0
	}
	if d.EscalationTarget >= 0.8 {
		score += 0.3
	}
	return score
}
