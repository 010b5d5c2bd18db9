package state

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
)

// Session is the persisted session-zero/session state: which profile and
// campaign are active and which conversation phase the controller is in.
type Session struct {
	ID               string
	ActiveProfileID  string
	ActiveCampaignID string
	Phase            string
	UpdatedAt        time.Time
}

// SaveSession upserts the session row.
func (s *Store) SaveSession(ctx context.Context, sess Session) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO sessions (id, active_profile_id, active_campaign_id, phase, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			active_profile_id = EXCLUDED.active_profile_id,
			active_campaign_id = EXCLUDED.active_campaign_id,
			phase = EXCLUDED.phase, updated_at = now()`,
		sess.ID, sess.ActiveProfileID, sess.ActiveCampaignID, sess.Phase)
	return err
}

// GetSession loads a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, active_profile_id, active_campaign_id, phase, updated_at
		FROM sessions WHERE id = $1`, id)
	var sess Session
	if err := row.Scan(&sess.ID, &sess.ActiveProfileID, &sess.ActiveCampaignID, &sess.Phase, &sess.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sess, nil
}

// ClearSessions removes all session rows; part of settings reset.
func (s *Store) ClearSessions(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM sessions`)
	return err
}
