// Package state owns the relational persistence of everything a campaign
// exclusively owns: the campaign record itself, its character, world state,
// NPCs, factions, locations, turns, campaign bible, and foreshadowing seeds.
// A profile is referenced by campaigns but is never owned or mutated by one.
package state

import "time"

// ArcPhase is the current stage of a campaign's narrative arc.
type ArcPhase string

const (
	ArcSetup        ArcPhase = "setup"
	ArcRisingAction ArcPhase = "rising_action"
	ArcClimax       ArcPhase = "climax"
	ArcResolution   ArcPhase = "resolution"
	ArcEpilogue     ArcPhase = "epilogue"
)

// Disposition is an NPC's current attitude toward the player, ordered from
// most hostile to most devoted.
type Disposition string

const (
	DispositionHostile    Disposition = "hostile"
	DispositionWary       Disposition = "wary"
	DispositionNeutral    Disposition = "neutral"
	DispositionFriendly   Disposition = "friendly"
	DispositionTrusting   Disposition = "trusting"
	DispositionDevoted    Disposition = "devoted"
)

// dispositionOrder ranks Disposition values for comparisons such as
// "did the disposition jump by more than one step".
var dispositionOrder = map[Disposition]int{
	DispositionHostile:  0,
	DispositionWary:     1,
	DispositionNeutral:  2,
	DispositionFriendly: 3,
	DispositionTrusting: 4,
	DispositionDevoted:  5,
}

// Rank returns the ordinal position of d, or -1 if d is not recognized.
func (d Disposition) Rank() int {
	r, ok := dispositionOrder[d]
	if !ok {
		return -1
	}
	return r
}

// IntelligenceStage captures how an NPC's behavior model has matured over
// repeated interaction with the player.
type IntelligenceStage string

const (
	StageReactive     IntelligenceStage = "reactive"
	StageContextual    IntelligenceStage = "contextual"
	StageAnticipatory IntelligenceStage = "anticipatory"
	StageAutonomous   IntelligenceStage = "autonomous"
)

// Milestones tracks boolean emotional-milestone flags for an NPC relationship.
// Keys are free-form (e.g. "first_trust", "first_vulnerability") so the
// relationship analyzer can introduce new milestone kinds without a schema
// migration.
type Milestones map[string]bool

// Campaign is the top-level aggregate root. A single process runs one active
// campaign at a time (single-writer model), but the store itself is not
// restricted to one row.
type Campaign struct {
	ID        string
	Name      string
	ProfileID string
	CreatedAt time.Time
}

// OPAxes mirrors the composition axes (internal/composition) but scoped to a
// single character's OP override configuration rather than a profile default.
type OPAxes struct {
	TensionSource   string
	PowerExpression string
	NarrativeFocus  string
}

// Character is the player's avatar within a campaign.
type Character struct {
	CampaignID string
	Name       string

	// PowerTier is a string of the form "T1".."T11"; lower numbers are
	// stronger. Parsed/compared via internal/composition.TierNumber.
	PowerTier string
	Level     int

	HP, MaxHP int
	MP, MaxMP int
	SP, MaxSP int

	OPEnabled bool
	OPAxes    OPAxes
}

// WorldState is the campaign's mutable situational record, regenerated by
// the director and consulted every turn.
type WorldState struct {
	CampaignID        string
	Situation         string
	TensionLevel      float64
	ArcPhase          ArcPhase
	TurnsInPhase      int
	ThreatTier        string
	CurrentLocationID string
}

// NPC is a non-player character scoped to a campaign.
type NPC struct {
	ID                string
	CampaignID        string
	Name              string
	Disposition       Disposition
	IntelligenceStage IntelligenceStage
	InteractionCount  int
	LastAppeared      int // turn_number
	Milestones        Milestones
}

// Faction is a simple attributed entity with discovery state.
type Faction struct {
	ID         string
	CampaignID string
	Name       string
	Discovered bool
	Notes      string
}

// Location is a simple attributed entity with discovery state.
type Location struct {
	ID         string
	CampaignID string
	Name       string
	Discovered bool
	Notes      string
}

// Intent classifies a player turn. TRIVIAL short-circuits the rest of the
// pipeline: empty input never reaches the outcome judge.
type Intent string

const (
	IntentCombat        Intent = "COMBAT"
	IntentAbility       Intent = "ABILITY"
	IntentSocial        Intent = "SOCIAL"
	IntentExploration   Intent = "EXPLORATION"
	IntentLoreQuestion  Intent = "LORE_QUESTION"
	IntentMeta          Intent = "META"
	IntentTrivial       Intent = "TRIVIAL"
)

// AgentDecisions bundles the structured outputs the turn orchestrator
// collected from Stage-A/pre-commit agents, persisted verbatim alongside the
// turn so later review or replay can reconstruct why a narrative turned out
// the way it did.
type AgentDecisions struct {
	Outcome    string // e.g. "success", "critical_failure", "" when not applicable
	DC         int
	Cost       string
	Consequence string
	ScaleNotes  string
}

// TokenAccounting records the LLM spend attributed to a single turn.
type TokenAccounting struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Turn is an append-only record of one completed player/animator exchange.
type Turn struct {
	CampaignID   string
	TurnNumber   int
	PlayerInput  string
	Intent       Intent
	Decisions    AgentDecisions
	Narrative    string
	Tokens       TokenAccounting
	CreatedAt    time.Time

	// CreatedEntityIDs / CreatedMemoryIDs / CreatedMediaIDs reference rows
	// produced by this turn's background fan-out, for audit/debugging.
	CreatedEntityIDs []string
	CreatedMemoryIDs []string
	CreatedMediaIDs  []string

	// Pinned and PinnedBy let either the director or the player pin an
	// exchange into the sliding window's retained set, overriding eviction.
	Pinned   bool
	PinnedBy string // "director" | "player"
}

// SeedStatus is a foreshadowing seed's lifecycle stage.
type SeedStatus string

const (
	SeedPlanted         SeedStatus = "planted"
	SeedMentioned        SeedStatus = "mentioned"
	SeedReadyToResolve   SeedStatus = "ready_to_resolve"
	SeedResolved         SeedStatus = "resolved"
	SeedAbandoned        SeedStatus = "abandoned"
	SeedOverdue          SeedStatus = "overdue"
)

// ForeshadowingSeed is a planted plot element tracked across its lifecycle.
type ForeshadowingSeed struct {
	ID                 string
	CampaignID         string
	Description        string
	PlantedTurn        int
	SeedType           string
	Urgency            int
	RelatedNPCs        []string
	ExpectedPayoff     string
	Status             SeedStatus
	MaxTurnsToPayoff   int
	ResolutionNarrative string
	DependsOn          []string
	Triggers           []string
	ConflictsWith      []string
}

// ArcHistoryEntry is one immutable entry in the campaign bible's append-only
// arc history (retain last 5).
type ArcHistoryEntry struct {
	TurnNumber int
	Summary    string
	RecordedAt time.Time
}

// WorldStateChange is one entry in the world-state changelog maintained by
// the campaign bible.
type WorldStateChange struct {
	TurnNumber  int
	Description string
}

// CampaignBible is the versioned, director-maintained narrative record for a
// campaign.
type CampaignBible struct {
	CampaignID          string
	BibleVersion        int
	ArcHistory          []ArcHistoryEntry // retains at most 5, oldest dropped first
	ActiveThreads       []string
	ResolvedThreads     []string
	CharacterArcs       map[string]string
	WorldStateChangelog []WorldStateChange
}

// AppendArcHistory appends entry and trims to the last 5.
func (b *CampaignBible) AppendArcHistory(entry ArcHistoryEntry) {
	b.ArcHistory = append(b.ArcHistory, entry)
	if len(b.ArcHistory) > 5 {
		b.ArcHistory = b.ArcHistory[len(b.ArcHistory)-5:]
	}
}
