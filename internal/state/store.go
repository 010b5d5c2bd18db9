package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup by primary key matches no row.
var ErrNotFound = errors.New("state: not found")

// ErrStateConflict signals that a commit's precondition no longer holds,
// e.g. a concurrent writer changed the row between read and commit.
var ErrStateConflict = errors.New("state: commit precondition failed")

// DB abstracts the subset of *pgxpool.Pool the store needs, so tests can
// substitute a fake pool without a live database.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store is the relational persistence boundary for everything a campaign
// owns. The vector/graph side of memory lives in pkg/memory; the
// relational store stays authoritative for all of it.
type Store struct {
	db DB
}

// New wraps an existing connection pool (or a test double satisfying [DB]).
func New(db DB) *Store {
	return &Store{db: db}
}

// NewPostgresStore connects to dsn and returns a ready-to-migrate Store.
func NewPostgresStore(ctx context.Context, dsn string) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("state: connect: %w", err)
	}
	return New(pool), pool, nil
}

// CreateCampaign inserts a new campaign row. AIDM runs one active campaign
// per process, but the store itself does not enforce that cardinality.
func (s *Store) CreateCampaign(ctx context.Context, c Campaign) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO campaigns (id, name, profile_id, created_at)
		VALUES ($1, $2, $3, $4)`,
		c.ID, c.Name, c.ProfileID, c.CreatedAt)
	return err
}

// GetCampaign loads a campaign by ID.
func (s *Store) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	row := s.db.QueryRow(ctx, `SELECT id, name, profile_id, created_at FROM campaigns WHERE id = $1`, id)
	var c Campaign
	if err := row.Scan(&c.ID, &c.Name, &c.ProfileID, &c.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListCampaignIDs returns every campaign ID, oldest first. Reset and
// campaign deletion use it to purge each campaign's vector-store and
// knowledge-graph state, which carries no FK back to campaigns.
func (s *Store) ListCampaignIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM campaigns ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpsertCharacter creates or replaces the campaign's single character row.
func (s *Store) UpsertCharacter(ctx context.Context, ch Character) error {
	resources := map[string]int{
		"hp": ch.HP, "max_hp": ch.MaxHP,
		"mp": ch.MP, "max_mp": ch.MaxMP,
		"sp": ch.SP, "max_sp": ch.MaxSP,
	}
	resourcesJSON, err := json.Marshal(resources)
	if err != nil {
		return err
	}
	axesJSON, err := json.Marshal(ch.OPAxes)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO characters (campaign_id, name, power_tier, level, resources, op_enabled, op_axes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (campaign_id) DO UPDATE SET
			name = EXCLUDED.name, power_tier = EXCLUDED.power_tier, level = EXCLUDED.level,
			resources = EXCLUDED.resources, op_enabled = EXCLUDED.op_enabled, op_axes = EXCLUDED.op_axes`,
		ch.CampaignID, ch.Name, ch.PowerTier, ch.Level, resourcesJSON, ch.OPEnabled, axesJSON)
	return err
}

// GetCharacter loads the character owned by campaignID.
func (s *Store) GetCharacter(ctx context.Context, campaignID string) (*Character, error) {
	row := s.db.QueryRow(ctx, `
		SELECT campaign_id, name, power_tier, level, resources, op_enabled, op_axes
		FROM characters WHERE campaign_id = $1`, campaignID)
	var (
		ch            Character
		resourcesJSON []byte
		axesJSON      []byte
	)
	if err := row.Scan(&ch.CampaignID, &ch.Name, &ch.PowerTier, &ch.Level, &resourcesJSON, &ch.OPEnabled, &axesJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var resources map[string]int
	if err := json.Unmarshal(resourcesJSON, &resources); err != nil {
		return nil, err
	}
	ch.HP, ch.MaxHP = resources["hp"], resources["max_hp"]
	ch.MP, ch.MaxMP = resources["mp"], resources["max_mp"]
	ch.SP, ch.MaxSP = resources["sp"], resources["max_sp"]
	if err := json.Unmarshal(axesJSON, &ch.OPAxes); err != nil {
		return nil, err
	}
	return &ch, nil
}

// GetWorldState loads the world state owned by campaignID.
func (s *Store) GetWorldState(ctx context.Context, campaignID string) (*WorldState, error) {
	row := s.db.QueryRow(ctx, `
		SELECT campaign_id, situation, tension_level, arc_phase, turns_in_phase, threat_tier, current_location_id
		FROM world_states WHERE campaign_id = $1`, campaignID)
	var ws WorldState
	if err := row.Scan(&ws.CampaignID, &ws.Situation, &ws.TensionLevel, &ws.ArcPhase, &ws.TurnsInPhase, &ws.ThreatTier, &ws.CurrentLocationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &ws, nil
}

// UpsertWorldState creates or replaces the campaign's world state row.
func (s *Store) UpsertWorldState(ctx context.Context, ws WorldState) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO world_states (campaign_id, situation, tension_level, arc_phase, turns_in_phase, threat_tier, current_location_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (campaign_id) DO UPDATE SET
			situation = EXCLUDED.situation, tension_level = EXCLUDED.tension_level,
			arc_phase = EXCLUDED.arc_phase, turns_in_phase = EXCLUDED.turns_in_phase,
			threat_tier = EXCLUDED.threat_tier, current_location_id = EXCLUDED.current_location_id`,
		ws.CampaignID, ws.Situation, ws.TensionLevel, ws.ArcPhase, ws.TurnsInPhase, ws.ThreatTier, ws.CurrentLocationID)
	return err
}

// UpsertNPC creates or replaces an NPC row.
func (s *Store) UpsertNPC(ctx context.Context, n NPC) error {
	milestonesJSON, err := json.Marshal(n.Milestones)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO npcs (id, campaign_id, name, disposition, intelligence_stage, interaction_count, last_appeared, milestones)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, disposition = EXCLUDED.disposition,
			intelligence_stage = EXCLUDED.intelligence_stage, interaction_count = EXCLUDED.interaction_count,
			last_appeared = EXCLUDED.last_appeared, milestones = EXCLUDED.milestones`,
		n.ID, n.CampaignID, n.Name, n.Disposition, n.IntelligenceStage, n.InteractionCount, n.LastAppeared, milestonesJSON)
	return err
}

// GetNPC loads a single NPC by ID.
func (s *Store) GetNPC(ctx context.Context, id string) (*NPC, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, campaign_id, name, disposition, intelligence_stage, interaction_count, last_appeared, milestones
		FROM npcs WHERE id = $1`, id)
	var (
		n              NPC
		milestonesJSON []byte
	)
	if err := row.Scan(&n.ID, &n.CampaignID, &n.Name, &n.Disposition, &n.IntelligenceStage, &n.InteractionCount, &n.LastAppeared, &milestonesJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(milestonesJSON, &n.Milestones); err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNPCsRecentlySeen returns NPCs whose last_appeared is within
// sinceTurns of currentTurn, used both for scene population and the
// background heat-sweep.
func (s *Store) ListNPCsRecentlySeen(ctx context.Context, campaignID string, currentTurn, sinceTurns int) ([]NPC, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, campaign_id, name, disposition, intelligence_stage, interaction_count, last_appeared, milestones
		FROM npcs WHERE campaign_id = $1 AND last_appeared >= $2`,
		campaignID, currentTurn-sinceTurns)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NPC
	for rows.Next() {
		var (
			n              NPC
			milestonesJSON []byte
		)
		if err := rows.Scan(&n.ID, &n.CampaignID, &n.Name, &n.Disposition, &n.IntelligenceStage, &n.InteractionCount, &n.LastAppeared, &milestonesJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(milestonesJSON, &n.Milestones); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// UpsertFaction creates or replaces a faction row.
func (s *Store) UpsertFaction(ctx context.Context, f Faction) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO factions (id, campaign_id, name, discovered, notes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, discovered = EXCLUDED.discovered, notes = EXCLUDED.notes`,
		f.ID, f.CampaignID, f.Name, f.Discovered, f.Notes)
	return err
}

// UpsertLocation creates or replaces a location row.
func (s *Store) UpsertLocation(ctx context.Context, l Location) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO locations (id, campaign_id, name, discovered, notes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, discovered = EXCLUDED.discovered, notes = EXCLUDED.notes`,
		l.ID, l.CampaignID, l.Name, l.Discovered, l.Notes)
	return err
}

// AppendTurn writes a new turn record outside of a transaction. The
// orchestrator's Stage-8 commit normally goes through [Transaction.AppendTurn]
// instead; this direct path exists for session-zero handoff bookkeeping and
// tests.
func (s *Store) AppendTurn(ctx context.Context, t Turn) error {
	return appendTurn(ctx, s.db, t)
}

func appendTurn(ctx context.Context, db DB, t Turn) error {
	decisionsJSON, err := json.Marshal(t.Decisions)
	if err != nil {
		return err
	}
	entityIDs, err := json.Marshal(t.CreatedEntityIDs)
	if err != nil {
		return err
	}
	memoryIDs, err := json.Marshal(t.CreatedMemoryIDs)
	if err != nil {
		return err
	}
	mediaIDs, err := json.Marshal(t.CreatedMediaIDs)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO turns (
			campaign_id, turn_number, player_input, intent, decisions, narrative,
			prompt_tokens, completion_tokens, total_tokens,
			created_entity_ids, created_memory_ids, created_media_ids,
			pinned, pinned_by, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		t.CampaignID, t.TurnNumber, t.PlayerInput, t.Intent, decisionsJSON, t.Narrative,
		t.Tokens.PromptTokens, t.Tokens.CompletionTokens, t.Tokens.TotalTokens,
		entityIDs, memoryIDs, mediaIDs, t.Pinned, t.PinnedBy, t.CreatedAt)
	return err
}

// LatestTurnNumber returns the highest committed turn_number for campaignID,
// or 0 if no turns have been committed. Used to enforce the monotonic
// turn-number invariant before a new commit.
func (s *Store) LatestTurnNumber(ctx context.Context, campaignID string) (int, error) {
	row := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(turn_number), 0) FROM turns WHERE campaign_id = $1`, campaignID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// GetSlidingWindowTurns returns the last n turns plus any pinned turns for
// campaignID, ordered oldest-first, per the sliding-window contract.
func (s *Store) GetSlidingWindowTurns(ctx context.Context, campaignID string, n, maxPinned int) ([]Turn, error) {
	rows, err := s.db.Query(ctx, `
		(SELECT campaign_id, turn_number, player_input, intent, decisions, narrative,
		        prompt_tokens, completion_tokens, total_tokens,
		        created_entity_ids, created_memory_ids, created_media_ids, pinned, pinned_by, created_at
		 FROM turns WHERE campaign_id = $1 ORDER BY turn_number DESC LIMIT $2)
		UNION
		(SELECT campaign_id, turn_number, player_input, intent, decisions, narrative,
		        prompt_tokens, completion_tokens, total_tokens,
		        created_entity_ids, created_memory_ids, created_media_ids, pinned, pinned_by, created_at
		 FROM turns WHERE campaign_id = $1 AND pinned ORDER BY turn_number DESC LIMIT $3)
		ORDER BY turn_number ASC`,
		campaignID, n, maxPinned)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var (
			t                                 Turn
			decisionsJSON, entityIDs          []byte
			memoryIDs, mediaIDs               []byte
		)
		if err := rows.Scan(&t.CampaignID, &t.TurnNumber, &t.PlayerInput, &t.Intent, &decisionsJSON, &t.Narrative,
			&t.Tokens.PromptTokens, &t.Tokens.CompletionTokens, &t.Tokens.TotalTokens,
			&entityIDs, &memoryIDs, &mediaIDs, &t.Pinned, &t.PinnedBy, &t.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(decisionsJSON, &t.Decisions)
		_ = json.Unmarshal(entityIDs, &t.CreatedEntityIDs)
		_ = json.Unmarshal(memoryIDs, &t.CreatedMemoryIDs)
		_ = json.Unmarshal(mediaIDs, &t.CreatedMediaIDs)
		out = append(out, t)
	}
	return out, rows.Err()
}

// PinTurn marks turnNumber as pinned by the director, exempting it from
// sliding-window eviction.
func (s *Store) PinTurn(ctx context.Context, campaignID string, turnNumber int) error {
	return s.pinTurn(ctx, campaignID, turnNumber, "director")
}

// PlayerPinTurn marks turnNumber as pinned by explicit player request —
// the other half of the dual pin path.
func (s *Store) PlayerPinTurn(ctx context.Context, campaignID string, turnNumber int) error {
	return s.pinTurn(ctx, campaignID, turnNumber, "player")
}

func (s *Store) pinTurn(ctx context.Context, campaignID string, turnNumber int, by string) error {
	_, err := s.db.Exec(ctx, `UPDATE turns SET pinned = true, pinned_by = $3 WHERE campaign_id = $1 AND turn_number = $2`,
		campaignID, turnNumber, by)
	return err
}

// GetBible loads a campaign's bible, or a zero-version bible if none exists
// yet (bible creation is implicit on first director post-turn review).
func (s *Store) GetBible(ctx context.Context, campaignID string) (*CampaignBible, error) {
	row := s.db.QueryRow(ctx, `
		SELECT campaign_id, bible_version, arc_history, active_threads, resolved_threads, character_arcs, world_state_changelog
		FROM campaign_bibles WHERE campaign_id = $1`, campaignID)
	var (
		b                                                                     CampaignBible
		arcHistory, activeThreads, resolvedThreads, arcs, changelog           []byte
	)
	err := row.Scan(&b.CampaignID, &b.BibleVersion, &arcHistory, &activeThreads, &resolvedThreads, &arcs, &changelog)
	if errors.Is(err, pgx.ErrNoRows) {
		return &CampaignBible{CampaignID: campaignID, CharacterArcs: map[string]string{}}, nil
	}
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(arcHistory, &b.ArcHistory)
	_ = json.Unmarshal(activeThreads, &b.ActiveThreads)
	_ = json.Unmarshal(resolvedThreads, &b.ResolvedThreads)
	_ = json.Unmarshal(arcs, &b.CharacterArcs)
	_ = json.Unmarshal(changelog, &b.WorldStateChangelog)
	return &b, nil
}

// SaveBible persists b, expecting the caller to have already incremented
// BibleVersion (keeping the version monotonically non-decreasing is the
// caller's responsibility — the director post-review is the only writer).
func (s *Store) SaveBible(ctx context.Context, b CampaignBible) error {
	arcHistory, err := json.Marshal(b.ArcHistory)
	if err != nil {
		return err
	}
	activeThreads, err := json.Marshal(b.ActiveThreads)
	if err != nil {
		return err
	}
	resolvedThreads, err := json.Marshal(b.ResolvedThreads)
	if err != nil {
		return err
	}
	arcs, err := json.Marshal(b.CharacterArcs)
	if err != nil {
		return err
	}
	changelog, err := json.Marshal(b.WorldStateChangelog)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO campaign_bibles (campaign_id, bible_version, arc_history, active_threads, resolved_threads, character_arcs, world_state_changelog)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (campaign_id) DO UPDATE SET
			bible_version = EXCLUDED.bible_version, arc_history = EXCLUDED.arc_history,
			active_threads = EXCLUDED.active_threads, resolved_threads = EXCLUDED.resolved_threads,
			character_arcs = EXCLUDED.character_arcs, world_state_changelog = EXCLUDED.world_state_changelog`,
		b.CampaignID, b.BibleVersion, arcHistory, activeThreads, resolvedThreads, arcs, changelog)
	return err
}

// UpsertSeed creates or replaces a foreshadowing seed row.
func (s *Store) UpsertSeed(ctx context.Context, seed ForeshadowingSeed) error {
	return upsertSeed(ctx, s.db, seed)
}

func upsertSeed(ctx context.Context, db DB, seed ForeshadowingSeed) error {
	related, err := json.Marshal(seed.RelatedNPCs)
	if err != nil {
		return err
	}
	dependsOn, err := json.Marshal(seed.DependsOn)
	if err != nil {
		return err
	}
	triggers, err := json.Marshal(seed.Triggers)
	if err != nil {
		return err
	}
	conflicts, err := json.Marshal(seed.ConflictsWith)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `
		INSERT INTO foreshadowing_seeds (
			id, campaign_id, description, planted_turn, seed_type, urgency, related_npcs,
			expected_payoff, status, max_turns_to_payoff, resolution_narrative, depends_on, triggers, conflicts_with
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (id) DO UPDATE SET
			description = EXCLUDED.description, seed_type = EXCLUDED.seed_type, urgency = EXCLUDED.urgency,
			related_npcs = EXCLUDED.related_npcs, expected_payoff = EXCLUDED.expected_payoff,
			status = EXCLUDED.status, max_turns_to_payoff = EXCLUDED.max_turns_to_payoff,
			resolution_narrative = EXCLUDED.resolution_narrative, depends_on = EXCLUDED.depends_on,
			triggers = EXCLUDED.triggers, conflicts_with = EXCLUDED.conflicts_with`,
		seed.ID, seed.CampaignID, seed.Description, seed.PlantedTurn, seed.SeedType, seed.Urgency, related,
		seed.ExpectedPayoff, seed.Status, seed.MaxTurnsToPayoff, seed.ResolutionNarrative, dependsOn, triggers, conflicts)
	return err
}

// ListActiveSeeds returns every seed not in a terminal state
// (resolved/abandoned), the set the foreshadowing ledger operates over.
func (s *Store) ListActiveSeeds(ctx context.Context, campaignID string) ([]ForeshadowingSeed, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, campaign_id, description, planted_turn, seed_type, urgency, related_npcs,
		       expected_payoff, status, max_turns_to_payoff, resolution_narrative, depends_on, triggers, conflicts_with
		FROM foreshadowing_seeds WHERE campaign_id = $1 AND status NOT IN ('resolved', 'abandoned')`,
		campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSeeds(rows)
}

func scanSeeds(rows pgx.Rows) ([]ForeshadowingSeed, error) {
	var out []ForeshadowingSeed
	for rows.Next() {
		var (
			seed                                  ForeshadowingSeed
			related, dependsOn, triggers, conflicts []byte
		)
		if err := rows.Scan(&seed.ID, &seed.CampaignID, &seed.Description, &seed.PlantedTurn, &seed.SeedType, &seed.Urgency,
			&related, &seed.ExpectedPayoff, &seed.Status, &seed.MaxTurnsToPayoff, &seed.ResolutionNarrative,
			&dependsOn, &triggers, &conflicts); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(related, &seed.RelatedNPCs)
		_ = json.Unmarshal(dependsOn, &seed.DependsOn)
		_ = json.Unmarshal(triggers, &seed.Triggers)
		_ = json.Unmarshal(conflicts, &seed.ConflictsWith)
		out = append(out, seed)
	}
	return out, rows.Err()
}

// ResetCampaignState purges all per-campaign state while preserving profile
// documents and lore indexes. Cascade-delete from
// campaigns handles turns/npcs/factions/locations/bibles/seeds/media/pending
// memories automatically via ON DELETE CASCADE.
func (s *Store) ResetCampaignState(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM campaigns`)
	return err
}

// DeleteCampaign cascade-deletes one campaign's relational state (turns,
// NPCs, factions, locations, bibles, seeds, media, pending memories via ON
// DELETE CASCADE). The campaign's vector-store chunks and knowledge-graph
// nodes live outside this schema; callers go through the session manager's
// DeleteCampaign, which purges those first.
func (s *Store) DeleteCampaign(ctx context.Context, campaignID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM campaigns WHERE id = $1`, campaignID)
	return err
}
