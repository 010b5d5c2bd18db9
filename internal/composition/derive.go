package composition

// DNAInputs is the subset of a profile's DNA scales that drives composition
// derivation when the profile carries no explicit composition record. Values
// are the 0-10 dial positions; the field names read as "low end vs high
// end", so ComedyVsDrama=9 means heavily dramatic.
type DNAInputs struct {
	HopefulVsCynical      int
	ComedyVsDrama         int
	GroundedVsAbsurd      int
	TacticalVsInstinctive int
	EnsembleVsSolo        int
	EpisodicVsSerialized  int
}

// DeriveFromDNA synthesizes a default Composition for profiles that predate
// the explicit composition record. The mapping favors the dominant dial on
// each axis and consults active trope flags for tension tie-breaks.
func DeriveFromDNA(dna DNAInputs, tropes map[string]bool) Composition {
	return Composition{
		TensionSource:   deriveTension(dna, tropes),
		PowerExpression: deriveExpression(dna),
		NarrativeFocus:  deriveFocus(dna),
	}
}

func deriveTension(dna DNAInputs, tropes map[string]bool) TensionSource {
	switch {
	case tropes["found_family"] || tropes["slow_burn_romance"]:
		return TensionRelational
	case tropes["moral_greyness"]:
		return TensionMoral
	case dna.HopefulVsCynical >= 7:
		// Cynical worlds threaten what the character is, not just what
		// they have.
		return TensionExistential
	case dna.ComedyVsDrama >= 7:
		return TensionEmotional
	case dna.ComedyVsDrama <= 3:
		// Comedic IPs keep stakes social and recoverable.
		return TensionRelational
	default:
		return TensionConsequence
	}
}

func deriveExpression(dna DNAInputs) PowerExpression {
	switch {
	case dna.GroundedVsAbsurd >= 7 && dna.TacticalVsInstinctive >= 7:
		return ExpressionOverwhelming
	case dna.GroundedVsAbsurd >= 7:
		return ExpressionSpectacle
	case dna.TacticalVsInstinctive <= 3:
		return ExpressionConditional
	default:
		return ExpressionSubtle
	}
}

func deriveFocus(dna DNAInputs) NarrativeFocus {
	switch {
	case dna.EnsembleVsSolo <= 3 && dna.EpisodicVsSerialized <= 3:
		return FocusEpisodic
	case dna.EnsembleVsSolo <= 3:
		return FocusEnsemble
	case dna.EnsembleVsSolo >= 7:
		return FocusSolo
	default:
		return FocusInternal
	}
}
