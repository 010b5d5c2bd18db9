package memorysub

import (
	"context"
	"log/slog"

	"github.com/deusversus/aidm/internal/state"
)

// TurnSummariser is the compactor slice the window needs: the 200-word
// subtext-preserving compression of a rolled-off turn.
type TurnSummariser interface {
	SummarizeTurn(ctx context.Context, t state.Turn) string
}

// Window manages the sliding context window: the last Size turns verbatim
// plus up to MaxPinned pinned exchanges, with compacted summaries of
// everything that rolled off. Summaries live in process memory; after a
// restart the window rebuilds from verbatim turns and re-compacts lazily.
type Window struct {
	store      *state.Store
	summariser TurnSummariser

	Size      int
	MaxPinned int

	// summaries holds rolled-off turn compressions, oldest first, capped
	// to avoid unbounded growth over hundreds of turns.
	summaries    []string
	summarisedTo int // highest turn_number already compacted
}

// NewWindow builds a window with the configured size (default 20) and
// pinned cap (default 5).
func NewWindow(store *state.Store, summariser TurnSummariser, size, maxPinned int) *Window {
	if size <= 0 {
		size = 20
	}
	if maxPinned <= 0 {
		maxPinned = 5
	}
	return &Window{store: store, summariser: summariser, Size: size, MaxPinned: maxPinned}
}

// maxSummaries bounds the compressed backlog carried into Block 3.
const maxSummaries = 15

// Load returns the current window (oldest first, pinned turns included)
// plus the compacted summaries of rolled-off turns.
func (w *Window) Load(ctx context.Context, campaignID string) ([]state.Turn, []string, error) {
	turns, err := w.store.GetSlidingWindowTurns(ctx, campaignID, w.Size, w.MaxPinned)
	if err != nil {
		return nil, nil, err
	}
	return turns, w.summaries, nil
}

// Advance is called after a turn commits: if the window overflowed, the
// rolled-off turn is compacted into the summary backlog. A degraded
// summariser falls back inside the compactor; Advance never fails the
// caller.
func (w *Window) Advance(ctx context.Context, campaignID string, committedTurn int) {
	rolledOff := committedTurn - w.Size
	if rolledOff <= 0 || rolledOff <= w.summarisedTo {
		return
	}

	turns, err := w.store.GetSlidingWindowTurns(ctx, campaignID, w.Size+1, 0)
	if err != nil || len(turns) == 0 {
		slog.Warn("window advance load failed", "error", err)
		return
	}
	oldest := turns[0]
	if oldest.TurnNumber != rolledOff || oldest.Pinned {
		w.summarisedTo = rolledOff
		return
	}

	summary := w.summariser.SummarizeTurn(ctx, oldest)
	w.summaries = append(w.summaries, summary)
	if len(w.summaries) > maxSummaries {
		w.summaries = w.summaries[len(w.summaries)-maxSummaries:]
	}
	w.summarisedTo = rolledOff
}
