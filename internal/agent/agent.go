// Package agent defines the specialist roster the turn orchestrator
// sequences: intent classification, scale selection, outcome judging,
// combat resolution, the key animator, the director's pre-turn micro-check
// and post-turn review, the narrative validator, the relationship analyzer,
// entity extraction, the production agent, and the compactor.
//
// Agents share one shape: a canonical snake_case name resolved through the
// capability layer to a configured model, a structured-output schema, and a
// documented degraded result returned when the provider fails twice — a
// degraded Stage-A agent never sinks the turn.
package agent

import (
	"context"
	"time"

	"github.com/deusversus/aidm/internal/llmcap"
)

// Canonical agent names. These are the keys of the per-agent model mapping
// in settings; a name change here is a settings migration.
const (
	NameIntentClassifier     = "intent_classifier"
	NameScaleSelector        = "scale_selector"
	NameOutcomeJudge         = "outcome_judge"
	NameCombat               = "combat"
	NameKeyAnimator          = "key_animator"
	NameDirector             = "director"
	NameWorldBuilder         = "world_builder"
	NameNarrativeValidator   = "narrative_validator"
	NameRelationshipAnalyzer = "relationship_analyzer"
	NameProgression          = "progression"
	NameEntityExtractor      = "entity_extractor"
	NameProduction           = "production"
	NameCompactor            = "compactor"
	NameAnimeResearch        = "anime_research"
)

// Stage-A agents share a soft deadline; the orchestrator enforces the hard
// one around the whole fan-in.
const stageATimeout = 15 * time.Second

// backgroundTimeout bounds each post-turn background agent independently.
const backgroundTimeout = 60 * time.Second

// schemaCall is the shared structured-extraction path with the Stage-A
// timeout applied.
func schemaCall(ctx context.Context, layer *llmcap.Layer, name string, blocks llmcap.Blocks, schema string, target any, timeout time.Duration) error {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return layer.CompleteWithSchema(cctx, name, blocks, schema, target, llmcap.Options{MaxTokens: 2000})
}
