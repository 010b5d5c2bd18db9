// Package sessionzero runs the pre-gameplay phased conversation: media
// detection, franchise disambiguation, research, character calibration,
// and the handoff that persists the campaign. The phase identifier lives
// in session state so a restarted process resumes where the player left
// off.
package sessionzero

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/deusversus/aidm/internal/composition"
	"github.com/deusversus/aidm/internal/profile"
	"github.com/deusversus/aidm/internal/research"
	"github.com/deusversus/aidm/internal/scrape"
	"github.com/deusversus/aidm/internal/state"
)

// Phase is the controller's conversation phase.
type Phase string

const (
	PhaseDetect       Phase = "media_detection"
	PhaseDisambiguate Phase = "disambiguation"
	PhaseResearch     Phase = "research"
	PhaseCalibrate    Phase = "calibration"
	PhaseHandoff      Phase = "handoff"
	PhaseComplete     Phase = "complete"
)

// DefaultOPGapTiers is how many tiers stronger than the world's typical
// tier an OP character starts when the draft leaves power_tier empty.
const DefaultOPGapTiers = 4

// CharacterDraft is the calibration output: the player's character before
// persistence. An empty PowerTier means "derive one at handoff" — never
// default silently.
type CharacterDraft struct {
	Name      string
	PowerTier string
	OPEnabled bool
	OPAxes    state.OPAxes

	HP, MP, SP int
}

// Reply is one controller response to the player.
type Reply struct {
	Phase   Phase
	Text    string
	Choices []string
}

// Controller drives session zero for one session.
type Controller struct {
	anilist  *scrape.AniListClient
	pipeline *research.Pipeline
	profiles *profile.Store
	alias    *profile.AliasIndex
	store    *state.Store

	sessionID string
	phase     Phase

	// candidate state carried between phases.
	pendingMedia *scrape.Media
	siblings     []scrape.MediaRelation
	profileID    string
}

// New builds a controller. alias may be nil when no profiles exist yet.
func New(anilist *scrape.AniListClient, pipeline *research.Pipeline, profiles *profile.Store, alias *profile.AliasIndex, store *state.Store, sessionID string) *Controller {
	return &Controller{
		anilist:   anilist,
		pipeline:  pipeline,
		profiles:  profiles,
		alias:     alias,
		store:     store,
		sessionID: sessionID,
		phase:     PhaseDetect,
	}
}

// Phase returns the current conversation phase.
func (c *Controller) Phase() Phase {
	return c.phase
}

// mediaReference strips conversational framing from free-text input,
// leaving the title the player meant.
func mediaReference(input string) string {
	s := strings.TrimSpace(input)
	lower := strings.ToLower(s)
	for _, prefix := range []string{
		"i want to play ", "i'd like to play ", "let's play ", "lets play ",
		"can we do ", "play ", "something like ", "set in ", "the world of ",
	} {
		if strings.HasPrefix(lower, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	return strings.Trim(s, " .!?\"'")
}

// Detect handles the media-detection phase: resolve the player's input to
// an existing profile (via the alias index) or an AniList entry. When the
// franchise has non-sequential siblings, the controller moves to
// disambiguation; sequential seasons merge silently and never appear as
// choices.
func (c *Controller) Detect(ctx context.Context, input string) (*Reply, error) {
	title := mediaReference(input)
	if title == "" {
		return &Reply{Phase: PhaseDetect, Text: "Name the anime, manga, or film you want to play in."}, nil
	}

	if c.alias != nil {
		if id, _, ok := c.alias.Resolve(title); ok {
			c.profileID = id
			c.phase = PhaseCalibrate
			c.saveSession(ctx)
			return &Reply{Phase: PhaseCalibrate, Text: fmt.Sprintf("Found an existing world for %q. Let's build your character.", title)}, nil
		}
	}

	best, err := c.anilist.SearchBest(ctx, title)
	if err != nil {
		return nil, err
	}
	merged, err := c.pipeline.MergeFranchise(ctx, best)
	if err != nil {
		return nil, err
	}
	c.pendingMedia = best
	c.siblings = merged.Siblings

	if len(c.siblings) > 0 {
		c.phase = PhaseDisambiguate
		c.saveSession(ctx)
		choices := make([]string, 0, len(c.siblings)+1)
		choices = append(choices, displayTitle(best.Title))
		for _, s := range c.siblings {
			choices = append(choices, displayTitle(s.Title))
		}
		return &Reply{
			Phase:   PhaseDisambiguate,
			Text:    "This franchise has related entries that are separate stories. Which one?",
			Choices: choices,
		}, nil
	}

	c.phase = PhaseResearch
	c.saveSession(ctx)
	return &Reply{Phase: PhaseResearch, Text: fmt.Sprintf("Researching %s...", displayTitle(best.Title))}, nil
}

// Disambiguate handles the player's pick. choice is matched against the
// displayed titles; an unrecognized choice re-prompts.
func (c *Controller) Disambiguate(ctx context.Context, choice string) (*Reply, error) {
	norm := profile.Normalize(choice)
	if norm == profile.Normalize(displayTitle(c.pendingMedia.Title)) {
		c.phase = PhaseResearch
		c.saveSession(ctx)
		return &Reply{Phase: PhaseResearch, Text: "Researching..."}, nil
	}
	for _, s := range c.siblings {
		if norm == profile.Normalize(displayTitle(s.Title)) {
			picked, err := c.anilist.FetchByID(ctx, s.ID)
			if err != nil {
				return nil, err
			}
			c.pendingMedia = picked
			c.phase = PhaseResearch
			c.saveSession(ctx)
			return &Reply{Phase: PhaseResearch, Text: fmt.Sprintf("Researching %s...", displayTitle(picked.Title))}, nil
		}
	}
	return &Reply{Phase: PhaseDisambiguate, Text: "That wasn't one of the options — pick one of the listed entries."}, nil
}

// Research runs the research pipeline for the resolved media, streaming
// phase progress through onProgress. On success the controller holds the
// new profile and moves to calibration.
func (c *Controller) Research(ctx context.Context, onProgress func(research.Phase)) (*Reply, error) {
	title := displayTitle(c.pendingMedia.Title)
	prof, err := c.pipeline.Run(ctx, title, onProgress)
	if err != nil {
		// Research failures are the one surface where the player sees a
		// plain error: they are mid-setup, not mid-story.
		return &Reply{
			Phase: PhaseDetect,
			Text:  fmt.Sprintf("Research on %q failed (%v). Try again, or name a different title.", title, err),
		}, nil
	}
	c.profileID = prof.ID
	c.phase = PhaseCalibrate
	c.saveSession(ctx)

	text := fmt.Sprintf("The world of %s is ready. Now: who are you in it?", prof.Name)
	if prof.NeedsReview {
		text += " (Some research came back thin; the profile is flagged for review.)"
	}
	return &Reply{Phase: PhaseCalibrate, Text: text}, nil
}

// Handoff persists the campaign, character, and initial world state from
// the calibration draft, completing session zero.
//
// The power-tier contract: the character's tier MUST come from the draft;
// when the draft leaves it empty and OP mode is on, it derives from the
// world's typical tier strengthened by the OP gap. It is never silently
// defaulted.
func (c *Controller) Handoff(ctx context.Context, draft CharacterDraft) (*state.Campaign, error) {
	prof, err := c.profiles.Load(c.profileID)
	if err != nil {
		return nil, fmt.Errorf("sessionzero: load profile: %w", err)
	}

	tier := draft.PowerTier
	if tier == "" {
		tier, err = derivePowerTier(prof, draft.OPEnabled)
		if err != nil {
			return nil, err
		}
	}

	campaign := state.Campaign{
		ID:        "camp_" + uuid.NewString(),
		Name:      prof.Name,
		ProfileID: prof.ID,
	}
	if err := c.store.CreateCampaign(ctx, campaign); err != nil {
		return nil, err
	}

	hp, mp, sp := draft.HP, draft.MP, draft.SP
	if hp == 0 {
		hp = 20
	}
	if mp == 0 {
		mp = 10
	}
	if sp == 0 {
		sp = 10
	}
	if err := c.store.UpsertCharacter(ctx, state.Character{
		CampaignID: campaign.ID,
		Name:       draft.Name,
		PowerTier:  tier,
		Level:      1,
		HP:         hp, MaxHP: hp,
		MP: mp, MaxMP: mp,
		SP: sp, MaxSP: sp,
		OPEnabled: draft.OPEnabled,
		OPAxes:    draft.OPAxes,
	}); err != nil {
		return nil, err
	}
	if err := c.store.UpsertWorldState(ctx, state.WorldState{
		CampaignID: campaign.ID,
		ArcPhase:   state.ArcSetup,
	}); err != nil {
		return nil, err
	}

	c.phase = PhaseComplete
	if err := c.store.SaveSession(ctx, state.Session{
		ID:               c.sessionID,
		ActiveProfileID:  prof.ID,
		ActiveCampaignID: campaign.ID,
		Phase:            string(c.phase),
	}); err != nil {
		return nil, err
	}
	return &campaign, nil
}

// derivePowerTier computes the tier for a draft that left it empty: the
// world's typical tier for ordinary characters, or the typical tier
// strengthened by the OP gap (bounded by T1) for OP characters.
func derivePowerTier(prof *profile.Profile, opEnabled bool) (string, error) {
	typical, err := composition.TierNumber(prof.PowerDistribution.TypicalTier)
	if err != nil {
		return "", fmt.Errorf("sessionzero: world typical tier: %w", err)
	}
	if !opEnabled {
		return fmt.Sprintf("T%d", typical), nil
	}
	derived := typical - DefaultOPGapTiers
	if derived < 1 {
		derived = 1
	}
	return fmt.Sprintf("T%d", derived), nil
}

func displayTitle(t scrape.MediaTitle) string {
	if t.English != "" {
		return t.English
	}
	if t.Romaji != "" {
		return t.Romaji
	}
	return t.Native
}

func (c *Controller) saveSession(ctx context.Context) {
	if c.store == nil {
		return
	}
	_ = c.store.SaveSession(ctx, state.Session{
		ID:              c.sessionID,
		ActiveProfileID: c.profileID,
		Phase:           string(c.phase),
	})
}
