package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/deusversus/aidm/internal/agent"
	"github.com/deusversus/aidm/internal/foreshadow"
	"github.com/deusversus/aidm/internal/mcp"
	"github.com/deusversus/aidm/internal/mcp/tools/production"
	"github.com/deusversus/aidm/internal/mcp/tools/recallscene"
	"github.com/deusversus/aidm/internal/memorysub"
	"github.com/deusversus/aidm/internal/orchestrator"
	"github.com/deusversus/aidm/internal/research"
	"github.com/deusversus/aidm/internal/sessionzero"
	"github.com/deusversus/aidm/internal/state"
	"github.com/deusversus/aidm/pkg/memory"
)

// ErrNoActiveCampaign is returned when a turn arrives before session zero
// has handed off a campaign.
var ErrNoActiveCampaign = errors.New("app: no active campaign")

// SessionManager owns the one active campaign: session zero, the turn
// orchestrator, and the reset path. It is the plain-method surface the
// thin HTTP adapter consumes — no transport concerns live here.
type SessionManager struct {
	app *App

	mu        sync.Mutex
	sessionID string
	zero      *sessionzero.Controller
	orch      *orchestrator.Orchestrator
	campaign  *state.Campaign
}

// NewSessionManager builds the manager; no session starts until
// StartSessionZero or Resume.
func NewSessionManager(app *App) *SessionManager {
	return &SessionManager{app: app}
}

// StartSessionZero opens a fresh session-zero conversation.
func (m *SessionManager) StartSessionZero(ctx context.Context) (*sessionzero.Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessionID = "sess_" + uuid.NewString()
	m.zero = sessionzero.New(m.app.anilist, m.app.research, m.app.profiles, m.app.alias, m.app.stateStore, m.sessionID)
	if err := m.app.stateStore.SaveSession(ctx, state.Session{
		ID:    m.sessionID,
		Phase: string(sessionzero.PhaseDetect),
	}); err != nil {
		return nil, err
	}
	return m.zero, nil
}

// ResearchProgress is re-exported so callers don't import the research
// package for the phase type alone.
type ResearchProgress = research.Phase

// CompleteSessionZero persists the calibration draft and boots the
// orchestrator for the new campaign.
func (m *SessionManager) CompleteSessionZero(ctx context.Context, draft sessionzero.CharacterDraft) (*state.Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.zero == nil {
		return nil, errors.New("app: session zero not started")
	}

	campaign, err := m.zero.Handoff(ctx, draft)
	if err != nil {
		return nil, err
	}
	if err := m.bootOrchestrator(ctx, campaign); err != nil {
		return nil, err
	}
	return campaign, nil
}

// Resume reloads a persisted session's campaign after a process restart.
func (m *SessionManager) Resume(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, err := m.app.stateStore.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.ActiveCampaignID == "" {
		return ErrNoActiveCampaign
	}
	campaign, err := m.app.stateStore.GetCampaign(ctx, sess.ActiveCampaignID)
	if err != nil {
		return err
	}
	m.sessionID = sessionID
	return m.bootOrchestrator(ctx, campaign)
}

// Turn runs one player turn against the active campaign.
func (m *SessionManager) Turn(ctx context.Context, playerInput string, onChunk func(string)) (*orchestrator.TurnResult, error) {
	m.mu.Lock()
	orch := m.orch
	m.mu.Unlock()
	if orch == nil {
		return nil, ErrNoActiveCampaign
	}
	return orch.RunTurn(ctx, playerInput, onChunk)
}

// Reset purges all per-campaign state — campaigns, characters, NPCs,
// factions, locations, turns, bibles, memories, media, sessions — while
// preserving profile documents and their lore indexes (shared, canonical
// assets).
func (m *SessionManager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.orch != nil {
		m.orch.Close()
		m.orch = nil
	}
	m.zero = nil
	m.campaign = nil

	// Campaign memory chunks and graph nodes go with their campaigns; lore
	// chunks stay. They carry no FK back to campaigns, so every campaign —
	// not just the active one — is purged before the relational wipe
	// removes the list of IDs.
	ids, err := m.app.stateStore.ListCampaignIDs(ctx)
	if err != nil {
		return fmt.Errorf("app: reset: list campaigns: %w", err)
	}
	for _, id := range ids {
		m.purgeCampaignDerived(ctx, id)
	}

	if err := m.app.stateStore.ResetCampaignState(ctx); err != nil {
		return fmt.Errorf("app: reset: %w", err)
	}
	if err := m.app.stateStore.ClearSessions(ctx); err != nil {
		return fmt.Errorf("app: clear sessions: %w", err)
	}
	m.sessionID = ""
	return nil
}

// DeleteCampaign removes one campaign and everything it owns: its
// vector-store memories and knowledge-graph nodes first, then the
// relational aggregate (which cascades to turns, NPCs, factions,
// locations, bibles, seeds, and media). The shared profile document and
// lore index are untouched. Deleting the active campaign also shuts down
// its orchestrator.
func (m *SessionManager) DeleteCampaign(ctx context.Context, campaignID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.campaign != nil && m.campaign.ID == campaignID {
		if m.orch != nil {
			m.orch.Close()
			m.orch = nil
		}
		m.campaign = nil
	}

	m.purgeCampaignDerived(ctx, campaignID)
	if err := m.app.stateStore.DeleteCampaign(ctx, campaignID); err != nil {
		return fmt.Errorf("app: delete campaign: %w", err)
	}
	return nil
}

// purgeCampaignDerived removes a campaign's derived state outside the
// relational schema: its memory-collection chunks and its knowledge-graph
// nodes. Failures log and leave the rest of the purge running — a missed
// chunk is orphaned data, not corruption.
func (m *SessionManager) purgeCampaignDerived(ctx context.Context, campaignID string) {
	if err := m.app.memStore.Vectors().DeleteCollection(ctx, memory.CollectionMemory, campaignID); err != nil {
		slog.Warn("campaign memory purge failed", "campaign", campaignID, "error", err)
	}
	if err := memorysub.NewGraphProjector(m.app.memStore).PurgeCampaign(ctx, campaignID); err != nil {
		slog.Warn("campaign graph purge failed", "campaign", campaignID, "error", err)
	}
}

// Close shuts down the active orchestrator, waiting for background work.
func (m *SessionManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.orch != nil {
		m.orch.Close()
		m.orch = nil
	}
}

// bootOrchestrator assembles the per-campaign machinery: the foreshadowing
// ledger, the memory workers, the campaign-scoped tools, and the agent
// roster.
func (m *SessionManager) bootOrchestrator(ctx context.Context, campaign *state.Campaign) error {
	prof, err := m.app.profiles.Load(campaign.ProfileID)
	if err != nil {
		return err
	}
	ledger, err := foreshadow.Load(ctx, m.app.stateStore, campaign.ID)
	if err != nil {
		return err
	}

	// Campaign-scoped tools join the host now that IDs exist.
	currentTurn := func() int {
		n, err := m.app.stateStore.LatestTurnNumber(context.Background(), campaign.ID)
		if err != nil {
			return 0
		}
		return n
	}
	gate := &production.CutsceneGate{
		Enabled:      m.app.cfg.Media.Enabled,
		BudgetUSD:    m.app.cfg.Media.BudgetPerSessionUSD,
		CostPerScene: 0.25,
	}
	campaignTools := append(
		production.Tools(production.Deps{
			Store:       m.app.stateStore,
			Ledger:      ledger,
			CampaignID:  campaign.ID,
			CurrentTurn: currentTurn,
			Cutscenes:   gate,
		}),
		recallscene.Tools(m.app.stateStore, campaign.ID)...,
	)
	for _, t := range campaignTools {
		if err := registerTool(m.app.host, t); err != nil {
			return err
		}
	}

	layer := m.app.layer
	roster := orchestrator.Agents{
		Intent:       agent.NewIntentClassifier(layer),
		Scales:       agent.NewScaleSelector(layer),
		Judge:        agent.NewOutcomeJudge(layer),
		Combat:       agent.NewCombatAgent(layer),
		Animator:     agent.NewKeyAnimator(layer),
		Director:     agent.NewDirector(layer),
		Validator:    agent.NewNarrativeValidator(layer),
		Extractor:    agent.NewEntityExtractor(layer),
		Relationship: agent.NewRelationshipAnalyzer(layer),
		Production:   agent.NewProductionAgent(layer, &toolSurface{host: m.app.host, surface: mcp.SurfaceProduction}),
		Progression:  agent.NewProgressionAgent(layer),
		WorldBuilder: agent.NewWorldBuilder(layer),
		Narration:    &toolSurface{host: m.app.host, surface: mcp.SurfaceNarration},
	}

	vectors := m.app.memStore.Vectors()
	compactor := agent.NewCompactor(layer)
	retriever := memorysub.NewRetriever(vectors, m.app.embedder)
	retriever.Graph = m.app.memStore
	mem := orchestrator.MemoryOps{
		Retriever:   retriever,
		Sweeper:     memorysub.NewSweeper(vectors, m.app.stateStore),
		Drainer:     memorysub.NewDrainer(m.app.stateStore, vectors, m.app.embedder),
		Window:      memorysub.NewWindow(m.app.stateStore, compactor, m.app.cfg.Memory.WindowSize, m.app.cfg.Memory.PinnedMax),
		Compression: memorysub.NewCompression(vectors, m.app.embedder, compactor),
		Graph:       memorysub.NewGraphProjector(m.app.memStore),
	}

	m.orch = orchestrator.New(m.app.stateStore, ledger, roster, mem, campaign, prof, orchestrator.Config{
		NarrativeOverrideResources: m.app.cfg.Session.NarrativeOverrideResources,
	})
	m.campaign = campaign
	return nil
}
