package state

import (
	"context"
	"time"
)

// MediaAsset records a requested or generated cutscene asset. Generation
// is an external collaborator's job; the engine persists the request and
// its eventual URI.
type MediaAsset struct {
	ID         string
	CampaignID string
	TurnNumber int
	Kind       string // image | video
	URI        string
	CreatedAt  time.Time
}

// RecordMediaAsset inserts a media asset row.
func (s *Store) RecordMediaAsset(ctx context.Context, m MediaAsset) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO media_assets (id, campaign_id, turn_number, kind, uri)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET uri = EXCLUDED.uri`,
		m.ID, m.CampaignID, m.TurnNumber, m.Kind, m.URI)
	return err
}
