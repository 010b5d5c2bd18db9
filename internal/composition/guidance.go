package composition

// GuidanceChunk is one static rule-library entry: the key-animator-facing
// directing guidance for a single resolved axis value. Chunks are injected
// into the stable prompt prefix, so their wording must not vary per turn.
type GuidanceChunk struct {
	// ID is the unique machine-readable identifier for the chunk.
	ID string `json:"id"`

	// Axis is "tension_source", "power_expression", or "narrative_focus".
	Axis string `json:"axis"`

	// Value is the axis value this chunk describes.
	Value string `json:"value"`

	// Text is the full directing guidance.
	Text string `json:"text"`
}

// opTensions is the embedded guidance set for every tension_source value.
var opTensions = map[TensionSource]GuidanceChunk{
	TensionExistential: {ID: "tension-existential", Axis: "tension_source", Value: "existential",
		Text: `Stakes live in identity and meaning, not survival. Threats question who the character is or why they continue; victories resolve doubt rather than danger. Avoid framing fights as life-or-death when the character cannot plausibly lose.`},
	TensionRelational: {ID: "tension-relational", Axis: "tension_source", Value: "relational",
		Text: `Stakes live in bonds. What can be won or lost is trust, belonging, and how others see the character. Scenes should put relationships under pressure even when the physical outcome is certain.`},
	TensionMoral: {ID: "tension-moral", Axis: "tension_source", Value: "moral",
		Text: `Stakes live in choices with no clean answer. Give the character power to do anything and force them to decide what they should do. The cost of acting is always borne by someone.`},
	TensionBurden: {ID: "tension-burden", Axis: "tension_source", Value: "burden",
		Text: `Stakes live in the weight of capability: responsibility, expectation, isolation at the top. Power solves problems and creates obligations in the same stroke.`},
	TensionInformation: {ID: "tension-information", Axis: "tension_source", Value: "information",
		Text: `Stakes live in what is not yet known. Strength cannot answer a mystery; scenes advance by revelation, misdirection, and the cost of learning too late.`},
	TensionConsequence: {ID: "tension-consequence", Axis: "tension_source", Value: "consequence",
		Text: `Stakes live downstream. Actions succeed but ripple: factions react, bystanders remember, the world reorganizes around what the character did. Show the bill arriving, not the struggle.`},
	TensionControl: {ID: "tension-control", Axis: "tension_source", Value: "control",
		Text: `Stakes live in restraint. The danger is the character's own power slipping: collateral, escalation, the line they promised not to cross. Tension comes from holding back, not pushing through.`},
	TensionEmotional: {ID: "tension-emotional", Axis: "tension_source", Value: "emotional",
		Text: `Stakes live inside the character. External events are prompts for feeling; the scene's real movement is grief, joy, longing, or fear changing shape. Let the prose linger where it hurts.`},
}

// opExpressions is the embedded guidance set for every power_expression value.
var opExpressions = map[PowerExpression]GuidanceChunk{
	ExpressionInstantaneous: {ID: "expression-instantaneous", Axis: "power_expression", Value: "instantaneous",
		Text: `Power resolves in a single beat. No wind-up, no exchange of blows: the problem ends the moment the character decides it should. Spend the page on everyone else's reaction.`},
	ExpressionOverwhelming: {ID: "expression-overwhelming", Axis: "power_expression", Value: "overwhelming",
		Text: `Power is visibly disproportionate. Opponents understand mid-fight that they never had a chance. Write the gap, not the contest.`},
	ExpressionSealed: {ID: "expression-sealed", Axis: "power_expression", Value: "sealed",
		Text: `Power exists behind a lock: a vow, a seal, a cost too high for casual use. Most scenes show the character managing without it; breaking the seal is an event, never routine.`},
	ExpressionHidden: {ID: "expression-hidden", Axis: "power_expression", Value: "hidden",
		Text: `Power is concealed from the world. The character maintains a weaker public face; dramatic energy comes from near-discovery and from what they accomplish while seeming ordinary.`},
	ExpressionConditional: {ID: "expression-conditional", Axis: "power_expression", Value: "conditional",
		Text: `Power has preconditions: time, place, materials, emotional state. The interesting question in any scene is whether the conditions hold, and what it takes to make them hold.`},
	ExpressionDerivative: {ID: "expression-derivative", Axis: "power_expression", Value: "derivative",
		Text: `Power is borrowed, granted, or channeled from elsewhere. Its source has opinions. Strength arrives with strings, and the relationship to the source is a live thread.`},
	ExpressionPassive: {ID: "expression-passive", Axis: "power_expression", Value: "passive",
		Text: `Power operates without being invoked: effortless, ambient, often unnoticed by the character themselves. Mundane acts produce extraordinary results; play the contrast deadpan.`},
	ExpressionSubtle: {ID: "expression-subtle", Axis: "power_expression", Value: "subtle",
		Text: `Power works in small, precise interventions. No light shows. Outcomes shift because the character nudged the right thing at the right moment; observers may never be sure anything happened.`},
	ExpressionSpectacle: {ID: "expression-spectacle", Axis: "power_expression", Value: "spectacle",
		Text: `Power is cinema. Techniques are named, colors fill the sky, terrain pays the price. Choreograph beats visually and let scale carry the excitement.`},
}

// opFocuses is the embedded guidance set for every narrative_focus value.
var opFocuses = map[NarrativeFocus]GuidanceChunk{
	FocusInternal: {ID: "focus-internal", Axis: "narrative_focus", Value: "internal",
		Text: `The camera lives inside the protagonist. Events matter as experienced; give interiority at least equal weight to action.`},
	FocusEnsemble: {ID: "focus-ensemble", Axis: "narrative_focus", Value: "ensemble",
		Text: `The cast shares the stage. Give companions agency, competence, and scenes of their own; the protagonist is first among equals, not the only actor.`},
	FocusReverseEnsemble: {ID: "focus-reverse-ensemble", Axis: "narrative_focus", Value: "reverse_ensemble",
		Text: `The world watches the protagonist. Scenes are framed through other characters' eyes: their awe, fear, or scheming about what the protagonist will do next.`},
	FocusEpisodic: {ID: "focus-episodic", Axis: "narrative_focus", Value: "episodic",
		Text: `Each scene is a small, complete story: an encounter, a problem, a resolution. Long arcs simmer in the background but every session should close a loop.`},
	FocusFaction: {ID: "focus-faction", Axis: "narrative_focus", Value: "faction",
		Text: `The board matters as much as the pieces. Organizations maneuver, territory shifts, and individual scenes are moves in a larger game the player can read.`},
	FocusMundane: {ID: "focus-mundane", Axis: "narrative_focus", Value: "mundane",
		Text: `Daily life is the point. Meals, errands, small kindnesses. Power and plot intrude only to be gently set aside; the warmth is the story.`},
	FocusCompetition: {ID: "focus-competition", Axis: "narrative_focus", Value: "competition",
		Text: `Structure scenes as contests with legible rules and rankings: tournaments, rivalries, leaderboards. Progress is measured against named rivals.`},
	FocusLegacy: {ID: "focus-legacy", Axis: "narrative_focus", Value: "legacy",
		Text: `The story is about what outlasts the character: students, institutions, consequences across years. Frame victories by what they leave behind.`},
	FocusSolo: {ID: "focus-solo", Axis: "narrative_focus", Value: "solo",
		Text: `One perspective, lightly peopled. Side characters pass through; the journey itself, and the protagonist's relationship to it, carries the narrative.`},
}

// Guidance returns the rule-library chunks for every axis of c, in a stable
// order suitable for the key animator's Block 1. Unknown axis values yield
// no chunk rather than an error; the animator simply writes without that
// guidance.
func Guidance(c Composition) []GuidanceChunk {
	var out []GuidanceChunk
	if g, ok := opTensions[c.TensionSource]; ok {
		out = append(out, g)
	}
	if g, ok := opExpressions[c.PowerExpression]; ok {
		out = append(out, g)
	}
	if g, ok := opFocuses[c.NarrativeFocus]; ok {
		out = append(out, g)
	}
	return out
}

// LookupGuidance finds a single chunk by axis and value, the query shape
// used by the rules-lookup MCP tool.
func LookupGuidance(axis, value string) (GuidanceChunk, bool) {
	switch axis {
	case "tension_source":
		g, ok := opTensions[TensionSource(value)]
		return g, ok
	case "power_expression":
		g, ok := opExpressions[PowerExpression(value)]
		return g, ok
	case "narrative_focus":
		g, ok := opFocuses[NarrativeFocus(value)]
		return g, ok
	}
	return GuidanceChunk{}, false
}
