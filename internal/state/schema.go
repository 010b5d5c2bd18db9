package state

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlCampaigns and friends fold attributes/resources into a single JSONB
// column rather than one column per field, keeping migrations additive as
// the aggregate grows.
const ddlCampaigns = `
CREATE TABLE IF NOT EXISTS campaigns (
    id          TEXT        PRIMARY KEY,
    name        TEXT        NOT NULL,
    profile_id  TEXT        NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS characters (
    campaign_id TEXT        PRIMARY KEY REFERENCES campaigns (id) ON DELETE CASCADE,
    name        TEXT        NOT NULL,
    power_tier  TEXT        NOT NULL,
    level       INT         NOT NULL DEFAULT 1,
    resources   JSONB       NOT NULL DEFAULT '{}',
    op_enabled  BOOLEAN     NOT NULL DEFAULT false,
    op_axes     JSONB       NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS world_states (
    campaign_id         TEXT        PRIMARY KEY REFERENCES campaigns (id) ON DELETE CASCADE,
    situation           TEXT        NOT NULL DEFAULT '',
    tension_level       DOUBLE PRECISION NOT NULL DEFAULT 0,
    arc_phase           TEXT        NOT NULL DEFAULT 'setup',
    turns_in_phase      INT         NOT NULL DEFAULT 0,
    threat_tier         TEXT        NOT NULL DEFAULT '',
    current_location_id TEXT        NOT NULL DEFAULT ''
);
`

const ddlEntities = `
CREATE TABLE IF NOT EXISTS npcs (
    id                 TEXT        PRIMARY KEY,
    campaign_id        TEXT        NOT NULL REFERENCES campaigns (id) ON DELETE CASCADE,
    name               TEXT        NOT NULL,
    disposition        TEXT        NOT NULL DEFAULT 'neutral',
    intelligence_stage TEXT        NOT NULL DEFAULT 'reactive',
    interaction_count  INT         NOT NULL DEFAULT 0,
    last_appeared      INT         NOT NULL DEFAULT 0,
    milestones         JSONB       NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_npcs_campaign ON npcs (campaign_id);

CREATE TABLE IF NOT EXISTS factions (
    id          TEXT        PRIMARY KEY,
    campaign_id TEXT        NOT NULL REFERENCES campaigns (id) ON DELETE CASCADE,
    name        TEXT        NOT NULL,
    discovered  BOOLEAN     NOT NULL DEFAULT false,
    notes       TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_factions_campaign ON factions (campaign_id);

CREATE TABLE IF NOT EXISTS locations (
    id          TEXT        PRIMARY KEY,
    campaign_id TEXT        NOT NULL REFERENCES campaigns (id) ON DELETE CASCADE,
    name        TEXT        NOT NULL,
    discovered  BOOLEAN     NOT NULL DEFAULT false,
    notes       TEXT        NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_locations_campaign ON locations (campaign_id);
`

const ddlTurns = `
CREATE TABLE IF NOT EXISTS turns (
    campaign_id        TEXT        NOT NULL REFERENCES campaigns (id) ON DELETE CASCADE,
    turn_number        INT         NOT NULL,
    player_input       TEXT        NOT NULL DEFAULT '',
    intent             TEXT        NOT NULL DEFAULT '',
    decisions          JSONB       NOT NULL DEFAULT '{}',
    narrative          TEXT        NOT NULL DEFAULT '',
    prompt_tokens      INT         NOT NULL DEFAULT 0,
    completion_tokens  INT         NOT NULL DEFAULT 0,
    total_tokens       INT         NOT NULL DEFAULT 0,
    created_entity_ids JSONB       NOT NULL DEFAULT '[]',
    created_memory_ids JSONB       NOT NULL DEFAULT '[]',
    created_media_ids  JSONB       NOT NULL DEFAULT '[]',
    pinned             BOOLEAN     NOT NULL DEFAULT false,
    pinned_by          TEXT        NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (campaign_id, turn_number)
);
CREATE INDEX IF NOT EXISTS idx_turns_narrative_fts
    ON turns USING GIN (to_tsvector('english', narrative));

CREATE TABLE IF NOT EXISTS foreshadowing_seeds (
    id                   TEXT        PRIMARY KEY,
    campaign_id          TEXT        NOT NULL REFERENCES campaigns (id) ON DELETE CASCADE,
    description          TEXT        NOT NULL,
    planted_turn         INT         NOT NULL,
    seed_type            TEXT        NOT NULL DEFAULT '',
    urgency              INT         NOT NULL DEFAULT 0,
    related_npcs         JSONB       NOT NULL DEFAULT '[]',
    expected_payoff      TEXT        NOT NULL DEFAULT '',
    status               TEXT        NOT NULL DEFAULT 'planted',
    max_turns_to_payoff  INT         NOT NULL DEFAULT 10,
    resolution_narrative TEXT        NOT NULL DEFAULT '',
    depends_on           JSONB       NOT NULL DEFAULT '[]',
    triggers             JSONB       NOT NULL DEFAULT '[]',
    conflicts_with       JSONB       NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_seeds_campaign_status ON foreshadowing_seeds (campaign_id, status);

CREATE TABLE IF NOT EXISTS campaign_bibles (
    campaign_id           TEXT        PRIMARY KEY REFERENCES campaigns (id) ON DELETE CASCADE,
    bible_version         INT         NOT NULL DEFAULT 0,
    arc_history           JSONB       NOT NULL DEFAULT '[]',
    active_threads        JSONB       NOT NULL DEFAULT '[]',
    resolved_threads      JSONB       NOT NULL DEFAULT '[]',
    character_arcs        JSONB       NOT NULL DEFAULT '{}',
    world_state_changelog JSONB       NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS media_assets (
    id          TEXT        PRIMARY KEY,
    campaign_id TEXT        NOT NULL REFERENCES campaigns (id) ON DELETE CASCADE,
    turn_number INT         NOT NULL,
    kind        TEXT        NOT NULL,
    uri         TEXT        NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS pending_memories (
    id          BIGSERIAL   PRIMARY KEY,
    campaign_id TEXT        NOT NULL REFERENCES campaigns (id) ON DELETE CASCADE,
    memory_id   TEXT        NOT NULL,
    payload     JSONB       NOT NULL,
    enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_pending_memories_campaign ON pending_memories (campaign_id);

CREATE TABLE IF NOT EXISTS sessions (
    id                 TEXT        PRIMARY KEY,
    active_profile_id  TEXT        NOT NULL DEFAULT '',
    active_campaign_id TEXT        NOT NULL DEFAULT '',
    phase              TEXT        NOT NULL DEFAULT '',
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Migrate creates or ensures all state-manager tables exist. Idempotent and
// safe to call on every process start, like Migrate in pkg/memory/postgres.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlCampaigns, ddlEntities, ddlTurns} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("state migrate: %w", err)
		}
	}
	return nil
}
