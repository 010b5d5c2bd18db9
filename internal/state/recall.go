package state

import (
	"context"
	"fmt"
	"strings"
)

// RecallQuery narrows a deep-recall search over verbatim turn narratives.
// Zero-valued fields are ignored.
type RecallQuery struct {
	Keyword   string
	NPC       string
	Location  string
	FromTurn  int
	ToTurn    int
}

// RecallScene runs the deep-recall search the key animator can invoke as a
// tool: full-text search over Turn.narrative, returning the top-3 verbatim
// excerpts. SQL is the source of truth here — this deliberately bypasses
// the vector store so exact names and phrases hit even after their
// memories have decayed cold.
func (s *Store) RecallScene(ctx context.Context, campaignID string, q RecallQuery) ([]Turn, error) {
	conditions := []string{"campaign_id = $1"}
	args := []any{campaignID}
	add := func(cond string, v any) {
		args = append(args, v)
		conditions = append(conditions, strings.ReplaceAll(cond, "?", argN(len(args))))
	}

	terms := make([]string, 0, 3)
	for _, t := range []string{q.Keyword, q.NPC, q.Location} {
		if t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) > 0 {
		add("to_tsvector('english', narrative) @@ plainto_tsquery('english', ?)", strings.Join(terms, " "))
	}
	if q.FromTurn > 0 {
		add("turn_number >= ?", q.FromTurn)
	}
	if q.ToTurn > 0 {
		add("turn_number <= ?", q.ToTurn)
	}

	rows, err := s.db.Query(ctx, `
		SELECT campaign_id, turn_number, player_input, intent, narrative
		FROM turns WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY turn_number DESC LIMIT 3`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.CampaignID, &t.TurnNumber, &t.PlayerInput, &t.Intent, &t.Narrative); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func argN(n int) string {
	return fmt.Sprintf("$%d", n)
}
