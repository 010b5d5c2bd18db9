package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/deusversus/aidm/internal/agent"
	"github.com/deusversus/aidm/internal/composition"
	"github.com/deusversus/aidm/internal/mcp"
	"github.com/deusversus/aidm/internal/observe"
	"github.com/deusversus/aidm/internal/profile"
	"github.com/deusversus/aidm/internal/promptctx"
	"github.com/deusversus/aidm/internal/state"
	"github.com/deusversus/aidm/pkg/memory"
)

// stageAHardTimeout bounds the whole Stage-A fan-in.
const stageAHardTimeout = 30 * time.Second

// TurnResult is what one completed turn returns to the caller.
type TurnResult struct {
	TurnNumber int
	Narrative  string
	Intent     state.Intent
	Outcome    *agent.OutcomeResult
	Combat     *agent.CombatResult
}

// mechanicalIntent reports whether the intent carries mechanical stakes
// the outcome judge should rule on.
func mechanicalIntent(i state.Intent) bool {
	switch i {
	case state.IntentAbility, state.IntentSocial, state.IntentExploration:
		return true
	default:
		return false
	}
}

// RunTurn executes one complete turn. It returns after the Stage-8 commit;
// background fan-out continues independently. Cancellation before the
// commit discards all in-flight work and commits nothing.
func (o *Orchestrator) RunTurn(ctx context.Context, playerInput string, onChunk func(string)) (*TurnResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// ── Stage 1: load context ────────────────────────────────────────────
	character, err := o.store.GetCharacter(ctx, o.campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load character: %w", err)
	}
	ws, err := o.store.GetWorldState(ctx, o.campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load world state: %w", err)
	}
	bible, err := o.store.GetBible(ctx, o.campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load bible: %w", err)
	}
	lastTurn, err := o.store.LatestTurnNumber(ctx, o.campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: latest turn: %w", err)
	}
	turnNumber := lastTurn + 1

	turnStart := time.Now()
	ctx, turnSpan := observe.TurnSpan(ctx, o.campaign.ID, turnNumber)
	defer turnSpan.End()

	window, summaries, err := o.mem.Window.Load(ctx, o.campaign.ID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load window: %w", err)
	}
	sceneNPCs, err := o.store.ListNPCsRecentlySeen(ctx, o.campaign.ID, lastTurn, 3)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: load scene NPCs: %w", err)
	}

	lastNarrative := ""
	if len(window) > 0 {
		lastNarrative = window[len(window)-1].Narrative
	}

	// ── Stage 2: intent classification ───────────────────────────────────
	intent := o.agents.Intent.Classify(ctx, playerInput, lastNarrative, npcNames(sceneNPCs))

	// ── Stage 3: parallel fan-in (Stage A) ───────────────────────────────
	var (
		memories  []memory.ChunkResult
		scales    agent.ScaleResult
		directive agent.PacingDirective
	)
	stageAStart := time.Now()
	stageACtx, cancelStageA := context.WithTimeout(ctx, stageAHardTimeout)
	g, gctx := errgroup.WithContext(stageACtx)
	g.Go(func() error {
		var err error
		memories, err = o.mem.Retriever.Search(gctx, o.campaign.ID, o.prof.ID, playerInput, intent.Intent, npcNames(sceneNPCs), turnNumber)
		if err != nil {
			// Retrieval is skippable: the animator writes from the window
			// alone rather than sinking the turn.
			slog.Warn("memory retrieval degraded", "error", err)
			memories = nil
		}
		return nil
	})
	if intent.Intent != state.IntentTrivial {
		g.Go(func() error {
			scales = o.agents.Scales.Select(gctx, playerInput, intent.Intent, ws.Situation)
			return nil
		})
	}
	g.Go(func() error {
		directive = o.agents.Director.MicroCheck(gctx, bible, ws, o.ledger, lastNarrative, playerInput)
		return nil
	})
	if err := g.Wait(); err != nil {
		cancelStageA()
		return nil, err
	}
	cancelStageA()
	o.metrics.StageADuration.Record(ctx, time.Since(stageAStart).Seconds())
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if beats := o.takeMicroBeats(); len(beats) > 0 {
		directive.MustReference = append(directive.MustReference, beats...)
	}
	o.noteDirective(directive)

	// Deep recall: verbatim past scenes fetched through the narration tool
	// surface and injected alongside the ranked memories. Fires on lore
	// questions, and on any turn whose phrasing reaches into the past
	// ("do you remember the tavern") per the recall-tier heuristics.
	if o.agents.Narration != nil &&
		(intent.Intent == state.IntentLoreQuestion || o.recallTier.Select(playerInput, 0) >= mcp.BudgetStandard) {
		memories = append(memories, o.deepRecall(ctx, playerInput)...)
	}

	// ── Stages 4-5: mechanics ────────────────────────────────────────────
	threatTier := ws.ThreatTier
	if threatTier == "" {
		threatTier = o.prof.PowerDistribution.TypicalTier
	}
	diff, err := composition.Differential(threatTier, character.PowerTier)
	if err != nil {
		slog.Warn("unparseable tier, assuming level ground", "error", err)
		diff = 0
	}

	var (
		combatRes  *agent.CombatResult
		outcomeRes *agent.OutcomeResult
		cost       state.ResourceCost
	)
	switch {
	case intent.Intent == state.IntentCombat:
		r := o.agents.Combat.Resolve(ctx, playerInput, character, threatTier, string(o.prof.CombatStyle))
		combatRes = &r
		cost = r.ResourceCost()
	case mechanicalIntent(intent.Intent):
		r := o.agents.Judge.Judge(ctx, agent.JudgeInput{
			PlayerInput:          playerInput,
			Intent:               intent.Intent,
			Risk:                 intent.Risk,
			Scales:               scales,
			RelationshipModifier: relationshipModifier(sceneNPCs),
			Differential:         diff,
			OPEnabled:            character.OPEnabled,
		})
		outcomeRes = &r
		cost = r.Resources
	}

	if err := o.guard.Check(*character, cost, o.cfg.NarrativeOverrideResources); err != nil {
		return nil, err
	}

	// ── Stage 6: composition recalculation ───────────────────────────────
	comp, mode, err := composition.Resolve(
		profileComposition(o.prof),
		composition.OPOverrides{
			Enabled:         character.OPEnabled,
			TensionSource:   composition.TensionSource(character.OPAxes.TensionSource),
			PowerExpression: composition.PowerExpression(character.OPAxes.PowerExpression),
			NarrativeFocus:  composition.NarrativeFocus(character.OPAxes.NarrativeFocus),
		},
		o.prof.PowerDistribution.TypicalTier, character.PowerTier, ws.ThreatTier,
		o.lastSceneMode, directive.SceneBoundary || o.lastSceneMode == "",
	)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: composition: %w", err)
	}
	o.lastSceneMode = mode

	// ── Stage 7: key animator ────────────────────────────────────────────
	callbacks, err := o.ledger.CallbackOpportunities(ctx, turnNumber)
	if err != nil {
		slog.Warn("callback elevation failed", "error", err)
	}
	present := presentNPCs(sceneNPCs, intent.PresentNPCs)
	var npcFacts map[string][]string
	if o.mem.Graph != nil {
		npcFacts = o.mem.Graph.FactsFor(ctx, o.campaign.ID, npcNames(present))
	}
	blocks := promptctx.Assemble(o.prof, comp,
		promptctx.SessionInputs{
			Bible:         bible,
			ArcPhase:      ws.ArcPhase,
			Callbacks:     callbacks,
			DirectorNotes: o.directorNotes,
		},
		promptctx.TurnInputs{
			PlayerInput: playerInput,
			Intent:      intent.Intent,
			Window:      window,
			Summaries:   summaries,
			Memories:    memories,
			NPCs:        promptctx.EnrichVoiceCards(o.prof, present, o.lastInteractions(ctx, present), npcFacts),
			Outcome:     outcomeRes,
			Combat:      combatRes,
			Directive:   directive,
		})

	narrative, usage, err := o.agents.Animator.Write(ctx, blocks, onChunk)
	if err != nil {
		return nil, err
	}

	// Narrative validator: one soft retry with the contradiction cited.
	if v := o.agents.Validator.Validate(ctx, narrative, sceneNPCs, ws.Situation); !v.Consistent {
		slog.Info("narrative contradiction, soft retry", "contradiction", v.Contradiction)
		if rewritten, rewriteUsage, err := o.agents.Animator.Rewrite(ctx, blocks, v.Contradiction, onChunk); err == nil {
			narrative = rewritten
			usage.PromptTokens += rewriteUsage.PromptTokens
			usage.CompletionTokens += rewriteUsage.CompletionTokens
		} else {
			slog.Warn("validator rewrite failed, keeping first draft", "error", err)
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// ── Stage 8: atomic commit ───────────────────────────────────────────
	updatedCharacter := state.Apply(*character, cost)
	newWS := o.advanceWorldState(*ws, directive)

	turn := state.Turn{
		CampaignID:  o.campaign.ID,
		TurnNumber:  turnNumber,
		PlayerInput: playerInput,
		Intent:      intent.Intent,
		Decisions:   decisionsRecord(outcomeRes, combatRes, scales),
		Narrative:   narrative,
		Tokens: state.TokenAccounting{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		},
		CreatedAt: time.Now(),
	}

	tx := o.store.Begin().
		Precheck(func() error {
			latest, err := o.store.LatestTurnNumber(ctx, o.campaign.ID)
			if err != nil {
				return err
			}
			if latest != lastTurn {
				return fmt.Errorf("turn %d already committed", latest)
			}
			return nil
		}).
		AppendTurn(turn).
		UpsertCharacter(updatedCharacter).
		UpsertWorldState(newWS)
	for _, n := range sceneNPCs {
		n.LastAppeared = turnNumber
		tx.UpsertNPC(n)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	// ── Stage 9-10: respond, then background fan-out ─────────────────────
	o.metrics.TurnDuration.Record(ctx, time.Since(turnStart).Seconds())
	o.metrics.RecordTurn(ctx, string(intent.Intent))
	o.recallTier.RecordTurn()
	o.spawnBackground(turnNumber, narrative, newWS, sceneNPCs, intent.PresentNPCs, combatRes, outcomeRes, directive)

	return &TurnResult{
		TurnNumber: turnNumber,
		Narrative:  narrative,
		Intent:     intent.Intent,
		Outcome:    outcomeRes,
		Combat:     combatRes,
	}, nil
}

// lastInteractions fetches a short verbatim excerpt of each present NPC's
// most recent scene, keyed by NPC ID. The FTS recall index serves this
// directly; failures just leave the card without an excerpt.
func (o *Orchestrator) lastInteractions(ctx context.Context, npcs []state.NPC) map[string]string {
	out := make(map[string]string, len(npcs))
	for _, n := range npcs {
		turns, err := o.store.RecallScene(ctx, o.campaign.ID, state.RecallQuery{NPC: n.Name})
		if err != nil || len(turns) == 0 {
			continue
		}
		excerpt := turns[0].Narrative
		if runes := []rune(excerpt); len(runes) > 200 {
			excerpt = string(runes[:200]) + "…"
		}
		out[n.ID] = excerpt
	}
	return out
}

// deepRecall executes the narration surface's recall_scene tool and
// converts the verbatim excerpts into injectable memory results. Failures
// degrade to no extra recall; the ranked memories still stand.
func (o *Orchestrator) deepRecall(ctx context.Context, playerInput string) []memory.ChunkResult {
	args, err := json.Marshal(map[string]string{"keyword": playerInput})
	if err != nil {
		return nil
	}
	raw, err := o.agents.Narration.ExecuteTool(ctx, "recall_scene", string(args))
	if err != nil {
		slog.Warn("deep recall degraded", "error", err)
		return nil
	}
	var out struct {
		Scenes []struct {
			TurnNumber int    `json:"turn_number"`
			Narrative  string `json:"narrative"`
		} `json:"scenes"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		slog.Warn("deep recall result unparseable", "error", err)
		return nil
	}
	results := make([]memory.ChunkResult, 0, len(out.Scenes))
	for _, s := range out.Scenes {
		results = append(results, memory.ChunkResult{Chunk: memory.MemoryChunk{
			ID:         fmt.Sprintf("%s/recall/turn%d", o.campaign.ID, s.TurnNumber),
			Collection: memory.CollectionMemory,
			OwnerID:    o.campaign.ID,
			Content:    fmt.Sprintf("Verbatim, turn %d: %s", s.TurnNumber, s.Narrative),
			OriginTurn: s.TurnNumber,
		}})
	}
	return results
}

// advanceWorldState moves tension toward the escalation target and applies
// any authorized phase transition.
func (o *Orchestrator) advanceWorldState(ws state.WorldState, d agent.PacingDirective) state.WorldState {
	if d.EscalationTarget > 0 {
		// Move one-third of the way toward the target per turn; the
		// director steers, it doesn't teleport.
		ws.TensionLevel += (d.EscalationTarget - ws.TensionLevel) / 3
		ws.TensionLevel = clamp01(ws.TensionLevel)
	}
	if d.PhaseTransition != "" && (d.Strength == agent.StrengthOverride || d.Strength == agent.StrengthStrong) {
		ws.ArcPhase = d.PhaseTransition
		ws.TurnsInPhase = 0
		o.arcEvent = true
	} else {
		ws.TurnsInPhase++
	}
	return ws
}

func decisionsRecord(outcome *agent.OutcomeResult, combat *agent.CombatResult, scales agent.ScaleResult) state.AgentDecisions {
	d := state.AgentDecisions{ScaleNotes: scales.Notes}
	switch {
	case combat != nil:
		d.Outcome = combat.Summary
	case outcome != nil:
		d.Outcome = outcome.Success
		d.DC = outcome.DC
		if outcome.Cost != nil {
			d.Cost = *outcome.Cost
		}
		if outcome.Consequence != nil {
			d.Consequence = *outcome.Consequence
		}
	}
	return d
}

func profileComposition(p *profile.Profile) composition.Composition {
	return composition.Composition{
		TensionSource:   composition.TensionSource(p.Composition.TensionSource),
		PowerExpression: composition.PowerExpression(p.Composition.PowerExpression),
		NarrativeFocus:  composition.NarrativeFocus(p.Composition.NarrativeFocus),
	}
}

func npcNames(npcs []state.NPC) []string {
	out := make([]string, len(npcs))
	for i, n := range npcs {
		out[i] = n.Name
	}
	return out
}

// presentNPCs filters the scene cast to those the classifier saw in play,
// falling back to the full recent cast when the classifier named no one.
func presentNPCs(scene []state.NPC, named []string) []state.NPC {
	if len(named) == 0 {
		return scene
	}
	byName := map[string]state.NPC{}
	for _, n := range scene {
		byName[n.Name] = n
	}
	var out []state.NPC
	for _, name := range named {
		if n, ok := byName[name]; ok {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return scene
	}
	return out
}

// relationshipModifier sums disposition-derived social adjustments for the
// NPCs in scene: +2 per rank above neutral, -2 per rank below.
func relationshipModifier(npcs []state.NPC) int {
	mod := 0
	for _, n := range npcs {
		if r := n.Disposition.Rank(); r >= 0 {
			mod += (r - state.DispositionNeutral.Rank()) * 2
		}
	}
	return mod
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
