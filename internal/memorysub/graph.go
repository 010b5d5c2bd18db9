package memorysub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/deusversus/aidm/pkg/memory"
)

// maxFactsPerNPC caps how much of an NPC's known world the voice-card
// enrichment carries into Block 3.
const maxFactsPerNPC = 5

// GraphEntity is one cast member bound for the knowledge-graph projection.
type GraphEntity struct {
	Kind string // npc | faction | location
	Name string
	Note string
}

// GraphRelation is one extracted edge between two named cast members.
type GraphRelation struct {
	Source string
	Target string
	Kind   string // knows | member_of | located_in | ally_of | rival_of
}

// GraphProjector maintains the knowledge-graph projection of a campaign's
// cast: NPCs, factions, and locations as entities, connected by the typed
// relationships the post-turn extraction surfaces. The relational store
// stays authoritative for the records themselves; the graph answers the
// relationship-shaped questions the schema cannot — an NPC's visible
// world, multi-hop neighbourhoods across factions.
type GraphProjector struct {
	graph memory.KnowledgeGraph
}

func NewGraphProjector(graph memory.KnowledgeGraph) *GraphProjector {
	return &GraphProjector{graph: graph}
}

// GraphEntityID derives the deterministic graph ID for a named cast
// member. Background projection must commit idempotently, so re-extracting
// the same NPC upserts the same node instead of minting a duplicate.
func GraphEntityID(campaignID, name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.Join(strings.Fields(key), "_")
	return campaignID + ":" + key
}

// Project upserts one turn's extracted entities and relations into the
// graph. Failures log and skip; the projection is a derived view and the
// next extraction pass rebuilds whatever this one missed.
func (p *GraphProjector) Project(ctx context.Context, campaignID string, turnNumber int, entities []GraphEntity, relations []GraphRelation) {
	if p == nil {
		return
	}
	known := map[string]bool{}
	for _, e := range entities {
		if e.Name == "" {
			continue
		}
		id := GraphEntityID(campaignID, e.Name)
		known[id] = true
		if err := p.graph.AddEntity(ctx, memory.Entity{
			ID:   id,
			Type: e.Kind,
			Name: e.Name,
			Attributes: map[string]any{
				"campaign_id": campaignID,
				"note":        e.Note,
			},
		}); err != nil {
			slog.Warn("graph entity upsert failed", "name", e.Name, "error", err)
		}
	}
	for _, r := range relations {
		if r.Source == "" || r.Target == "" || r.Source == r.Target {
			continue
		}
		srcID := GraphEntityID(campaignID, r.Source)
		tgtID := GraphEntityID(campaignID, r.Target)
		// Endpoints extracted in earlier turns exist already; anything else
		// gets a placeholder node so the edge has somewhere to land.
		for id, name := range map[string]string{srcID: r.Source, tgtID: r.Target} {
			if known[id] {
				continue
			}
			if err := p.ensureEntity(ctx, campaignID, id, name); err != nil {
				slog.Warn("graph placeholder upsert failed", "name", name, "error", err)
			}
			known[id] = true
		}
		if err := p.graph.AddRelationship(ctx, memory.Relationship{
			SourceID: srcID,
			TargetID: tgtID,
			RelType:  r.Kind,
			Provenance: memory.Provenance{
				CampaignID: campaignID,
				TurnNumber: turnNumber,
				Source:     "stated",
			},
		}); err != nil {
			slog.Warn("graph relationship upsert failed", "source", r.Source, "target", r.Target, "error", err)
		}
	}
}

// ensureEntity creates a bare npc-typed node when id is absent, leaving
// existing nodes (and their richer attributes) untouched.
func (p *GraphProjector) ensureEntity(ctx context.Context, campaignID, id, name string) error {
	existing, err := p.graph.GetEntity(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return p.graph.AddEntity(ctx, memory.Entity{
		ID:         id,
		Type:       "npc",
		Name:       name,
		Attributes: map[string]any{"campaign_id": campaignID},
	})
}

// FactsFor renders each named NPC's visible subgraph as short factual
// lines ("Fern — member_of → Hero Party"), keyed by NPC name, for the
// voice-card enrichment. Lookup failures yield no facts for that NPC.
func (p *GraphProjector) FactsFor(ctx context.Context, campaignID string, names []string) map[string][]string {
	if p == nil {
		return nil
	}
	out := make(map[string][]string, len(names))
	for _, name := range names {
		id := GraphEntityID(campaignID, name)
		entities, rels, err := p.graph.VisibleSubgraph(ctx, id)
		if err != nil {
			slog.Warn("graph facts lookup failed", "npc", name, "error", err)
			continue
		}
		byID := make(map[string]string, len(entities))
		for _, e := range entities {
			byID[e.ID] = e.Name
		}
		var facts []string
		for _, r := range rels {
			src, tgt := byID[r.SourceID], byID[r.TargetID]
			if src == "" || tgt == "" {
				continue
			}
			facts = append(facts, fmt.Sprintf("%s — %s → %s", src, r.RelType, tgt))
			if len(facts) >= maxFactsPerNPC {
				break
			}
		}
		if len(facts) > 0 {
			out[name] = facts
		}
	}
	return out
}

// PurgeCampaign removes every graph node (and, via cascade, every edge)
// belonging to campaignID. Part of the reset contract: the graph is
// campaign-owned state, unlike the shared lore index.
func (p *GraphProjector) PurgeCampaign(ctx context.Context, campaignID string) error {
	if p == nil {
		return nil
	}
	entities, err := p.graph.FindEntities(ctx, memory.EntityFilter{
		AttributeQuery: map[string]any{"campaign_id": campaignID},
	})
	if err != nil {
		return fmt.Errorf("graph purge: %w", err)
	}
	for _, e := range entities {
		if err := p.graph.DeleteEntity(ctx, e.ID); err != nil {
			return fmt.Errorf("graph purge %s: %w", e.ID, err)
		}
	}
	return nil
}
