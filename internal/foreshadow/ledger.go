// Package foreshadow owns the seed ledger — the lifecycle of planted plot
// elements — and the arc-phase gate predicates the director evaluates each
// turn. Seeds persist in the relational store; the in-memory ledger is a
// write-through cache rebuilt on startup.
package foreshadow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/deusversus/aidm/internal/profile"
	"github.com/deusversus/aidm/internal/state"
)

// ErrIllegalTransition is returned when a requested status change is not an
// edge of the lifecycle graph (e.g. planted directly to resolved).
var ErrIllegalTransition = errors.New("foreshadow: illegal seed transition")

// ErrConflict is returned when planting a seed whose conflicts_with set
// intersects the active ledger.
var ErrConflict = errors.New("foreshadow: conflicting seed active")

// ErrDependencyUnresolved is returned when resolving a seed whose
// depends_on list still has unresolved members.
var ErrDependencyUnresolved = errors.New("foreshadow: dependency unresolved")

// legalTransitions is the lifecycle graph. Any active state may fall to
// overdue; overdue may still be mentioned/resolved or abandoned.
var legalTransitions = map[state.SeedStatus][]state.SeedStatus{
	state.SeedPlanted:        {state.SeedMentioned, state.SeedOverdue},
	state.SeedMentioned:      {state.SeedReadyToResolve, state.SeedOverdue},
	state.SeedReadyToResolve: {state.SeedResolved, state.SeedOverdue},
	state.SeedOverdue:        {state.SeedMentioned, state.SeedReadyToResolve, state.SeedResolved, state.SeedAbandoned},
}

func transitionLegal(from, to state.SeedStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// seedStore is the slice of state.Store the ledger persists through. The
// bible accessors are here because seed lifecycle events are bible events:
// planting and resolving a seed each bump bible_version immediately,
// independent of the director's review cadence.
type seedStore interface {
	UpsertSeed(ctx context.Context, seed state.ForeshadowingSeed) error
	ListActiveSeeds(ctx context.Context, campaignID string) ([]state.ForeshadowingSeed, error)
	GetBible(ctx context.Context, campaignID string) (*state.CampaignBible, error)
	SaveBible(ctx context.Context, b state.CampaignBible) error
}

// Ledger tracks one campaign's active seeds. Safe for concurrent use: the
// pre-turn director reads it while background detection writes.
type Ledger struct {
	campaignID string
	store      seedStore

	mu    sync.RWMutex
	seeds map[string]*state.ForeshadowingSeed

	// resolved remembers terminal seeds seen this process so dependency
	// checks don't need store round-trips.
	resolved map[string]bool
}

// Load rebuilds the ledger for campaignID from the store.
func Load(ctx context.Context, store seedStore, campaignID string) (*Ledger, error) {
	active, err := store.ListActiveSeeds(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("foreshadow: load ledger: %w", err)
	}
	l := &Ledger{
		campaignID: campaignID,
		store:      store,
		seeds:      make(map[string]*state.ForeshadowingSeed, len(active)),
		resolved:   map[string]bool{},
	}
	for i := range active {
		s := active[i]
		l.seeds[s.ID] = &s
	}
	return l, nil
}

// PlantInput is the tool-facing parameter set for planting a seed.
type PlantInput struct {
	Description      string
	SeedType         string
	Urgency          int
	RelatedNPCs      []string
	ExpectedPayoff   string
	MaxTurnsToPayoff int
	DependsOn        []string
	Triggers         []string
	ConflictsWith    []string
}

// Plant creates a seed at planted. Conflicting active seeds reject the
// plant; the production agent is expected to retry with a different seed
// or abandon the idea.
func (l *Ledger) Plant(ctx context.Context, in PlantInput, turn int) (*state.ForeshadowingSeed, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, conflictID := range in.ConflictsWith {
		if _, active := l.seeds[conflictID]; active {
			return nil, fmt.Errorf("%w: %s", ErrConflict, conflictID)
		}
	}

	if in.MaxTurnsToPayoff <= 0 {
		in.MaxTurnsToPayoff = 10
	}
	seed := &state.ForeshadowingSeed{
		ID:               uuid.NewString(),
		CampaignID:       l.campaignID,
		Description:      in.Description,
		PlantedTurn:      turn,
		SeedType:         in.SeedType,
		Urgency:          in.Urgency,
		RelatedNPCs:      in.RelatedNPCs,
		ExpectedPayoff:   in.ExpectedPayoff,
		Status:           state.SeedPlanted,
		MaxTurnsToPayoff: in.MaxTurnsToPayoff,
		DependsOn:        in.DependsOn,
		Triggers:         in.Triggers,
		ConflictsWith:    in.ConflictsWith,
	}
	if err := l.store.UpsertSeed(ctx, *seed); err != nil {
		return nil, err
	}
	l.seeds[seed.ID] = seed
	l.bumpBible(ctx)
	return seed, nil
}

// bumpBible increments bible_version for a seed lifecycle event. The seed
// write already succeeded, so a failed bump is logged rather than unwound;
// the version stays monotonically non-decreasing either way.
func (l *Ledger) bumpBible(ctx context.Context) {
	bible, err := l.store.GetBible(ctx, l.campaignID)
	if err != nil {
		slog.Warn("bible load for seed event failed", "campaign", l.campaignID, "error", err)
		return
	}
	bible.BibleVersion++
	if err := l.store.SaveBible(ctx, *bible); err != nil {
		slog.Warn("bible version bump failed", "campaign", l.campaignID, "error", err)
	}
}

// transition moves seed id to status, enforcing graph legality, and writes
// through to the store. Terminal states leave the active map.
func (l *Ledger) transition(ctx context.Context, id string, to state.SeedStatus, resolutionNarrative string) (*state.ForeshadowingSeed, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transitionLocked(ctx, id, to, resolutionNarrative)
}

func (l *Ledger) transitionLocked(ctx context.Context, id string, to state.SeedStatus, resolutionNarrative string) (*state.ForeshadowingSeed, error) {
	seed, ok := l.seeds[id]
	if !ok {
		return nil, fmt.Errorf("foreshadow: unknown or inactive seed %s", id)
	}
	if !transitionLegal(seed.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, seed.Status, to)
	}
	if to == state.SeedResolved {
		for _, dep := range seed.DependsOn {
			if _, stillActive := l.seeds[dep]; stillActive {
				return nil, fmt.Errorf("%w: %s requires %s", ErrDependencyUnresolved, id, dep)
			}
		}
	}

	seed.Status = to
	if resolutionNarrative != "" {
		seed.ResolutionNarrative = resolutionNarrative
	}
	if err := l.store.UpsertSeed(ctx, *seed); err != nil {
		return nil, err
	}
	if to == state.SeedResolved || to == state.SeedAbandoned {
		delete(l.seeds, id)
		l.resolved[id] = to == state.SeedResolved
	}
	if to == state.SeedResolved {
		l.bumpBible(ctx)
	}
	return seed, nil
}

// MarkMentioned advances planted (or overdue) to mentioned.
func (l *Ledger) MarkMentioned(ctx context.Context, id string) (*state.ForeshadowingSeed, error) {
	return l.transition(ctx, id, state.SeedMentioned, "")
}

// Resolve finishes a ready_to_resolve (or overdue) seed and, per its
// triggers list, plants each triggered follow-up seed.
func (l *Ledger) Resolve(ctx context.Context, id string, resolutionNarrative string, turn int) (*state.ForeshadowingSeed, []*state.ForeshadowingSeed, error) {
	seed, err := l.transition(ctx, id, state.SeedResolved, resolutionNarrative)
	if err != nil {
		return nil, nil, err
	}
	var planted []*state.ForeshadowingSeed
	for _, desc := range seed.Triggers {
		child, err := l.Plant(ctx, PlantInput{
			Description:      desc,
			SeedType:         seed.SeedType,
			Urgency:          seed.Urgency,
			RelatedNPCs:      seed.RelatedNPCs,
			MaxTurnsToPayoff: seed.MaxTurnsToPayoff,
		}, turn)
		if err != nil {
			return seed, planted, err
		}
		planted = append(planted, child)
	}
	return seed, planted, nil
}

// Abandon ends an overdue seed without payoff. The resolution narrative
// records why the thread went nowhere.
func (l *Ledger) Abandon(ctx context.Context, id string, resolutionNarrative string) (*state.ForeshadowingSeed, error) {
	return l.transition(ctx, id, state.SeedAbandoned, resolutionNarrative)
}

// Active returns a snapshot of the active seeds, for prompt assembly.
func (l *Ledger) Active() []state.ForeshadowingSeed {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]state.ForeshadowingSeed, 0, len(l.seeds))
	for _, s := range l.seeds {
		out = append(out, *s)
	}
	return out
}

// CallbackOpportunities elevates mentioned seeds past the threshold age to
// ready_to_resolve and returns every seed now awaiting payoff — the set
// injected into the key animator's Block 2.
func (l *Ledger) CallbackOpportunities(ctx context.Context, currentTurn int) ([]state.ForeshadowingSeed, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []state.ForeshadowingSeed
	for id, s := range l.seeds {
		if s.Status == state.SeedMentioned && currentTurn-s.PlantedTurn >= s.MaxTurnsToPayoff/2 {
			if _, err := l.transitionLocked(ctx, id, state.SeedReadyToResolve, ""); err != nil {
				return nil, err
			}
		}
		if s.Status == state.SeedReadyToResolve {
			out = append(out, *s)
		}
	}
	return out, nil
}

// DetectionResult reports what the post-turn detection pass did.
type DetectionResult struct {
	Mentioned []string
	Resolved  []string
}

// DetectInNarrative matches narrative text against active seeds by keyword
// and NPC-tag overlap and auto-advances their lifecycle: planted seeds
// become mentioned; ready_to_resolve seeds whose expected payoff surfaces
// become resolved, carrying a narrative excerpt.
func (l *Ledger) DetectInNarrative(ctx context.Context, narrative string, presentNPCs []string, turn int) (*DetectionResult, error) {
	lower := strings.ToLower(narrative)
	res := &DetectionResult{}

	l.mu.Lock()
	ids := make([]string, 0, len(l.seeds))
	for id := range l.seeds {
		ids = append(ids, id)
	}
	l.mu.Unlock()

	for _, id := range ids {
		l.mu.RLock()
		seed, ok := l.seeds[id]
		if !ok {
			l.mu.RUnlock()
			continue
		}
		status := seed.Status
		hit := seedMatches(seed, lower, presentNPCs)
		payoffHit := seed.ExpectedPayoff != "" && keywordOverlap(lower, seed.ExpectedPayoff) >= 2
		l.mu.RUnlock()

		switch {
		case status == state.SeedReadyToResolve && payoffHit:
			if _, _, err := l.Resolve(ctx, id, excerpt(narrative), turn); err != nil {
				return res, err
			}
			res.Resolved = append(res.Resolved, id)
		case (status == state.SeedPlanted || status == state.SeedOverdue) && hit:
			if _, err := l.MarkMentioned(ctx, id); err != nil {
				return res, err
			}
			res.Mentioned = append(res.Mentioned, id)
		}
	}
	return res, nil
}

// OverduePressure marks seeds past max_turns_to_payoff as overdue and
// returns the tension delta: +0.05 per overdue seed. Seeds past twice
// their budget are returned in forceList for the next director review to
// resolve or abandon.
func (l *Ledger) OverduePressure(ctx context.Context, currentTurn int) (tensionDelta float64, forceList []state.ForeshadowingSeed, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for id, s := range l.seeds {
		age := currentTurn - s.PlantedTurn
		if age > s.MaxTurnsToPayoff && s.Status != state.SeedOverdue {
			if _, err := l.transitionLocked(ctx, id, state.SeedOverdue, ""); err != nil {
				// ready_to_resolve -> overdue is legal; resolved seeds are
				// already out of the map. Any other failure is real.
				return 0, nil, err
			}
		}
		if s.Status == state.SeedOverdue {
			tensionDelta += 0.05
			if age >= 2*s.MaxTurnsToPayoff {
				forceList = append(forceList, *s)
			}
		}
	}
	return tensionDelta, forceList, nil
}

// seedMatches reports whether the narrative references this seed: two or
// more description keywords, or any related NPC present in the scene.
func seedMatches(seed *state.ForeshadowingSeed, lowerNarrative string, presentNPCs []string) bool {
	if keywordOverlap(lowerNarrative, seed.Description) >= 2 {
		return true
	}
	for _, npc := range seed.RelatedNPCs {
		if containsFold(presentNPCs, npc) {
			return true
		}
		if npc != "" && strings.Contains(lowerNarrative, strings.ToLower(npc)) {
			return true
		}
	}
	return false
}

// keywordOverlap counts significant words of text found in lowerNarrative.
func keywordOverlap(lowerNarrative, text string) int {
	count := 0
	for _, word := range strings.Fields(profile.Normalize(text)) {
		if len(word) < 4 {
			continue
		}
		if strings.Contains(lowerNarrative, word) {
			count++
		}
	}
	return count
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

func excerpt(narrative string) string {
	const max = 300
	trimmed := strings.TrimSpace(narrative)
	if len(trimmed) <= max {
		return trimmed
	}
	return trimmed[:max] + "..."
}
