package profile

// tierPlus shifts a T-form tier string down n ranks (weaker), clamping at
// T11. Unparseable tiers pass through unchanged; validation catches them
// later if the result matters.
func tierPlus(tier string, n int) string {
	if len(tier) < 2 || (tier[0] != 'T' && tier[0] != 't') {
		return tier
	}
	rank := 0
	for _, c := range tier[1:] {
		if c < '0' || c > '9' {
			return tier
		}
		rank = rank*10 + int(c-'0')
	}
	rank += n
	if rank > 11 {
		rank = 11
	}
	return "T" + itoa(rank)
}

func itoa(n int) string {
	if n >= 10 {
		return string(rune('0'+n/10)) + string(rune('0'+n%10))
	}
	return string(rune('0' + n))
}

// MigrateWorldTier upgrades a document that predates the power-distribution
// model: the single world_tier value becomes peak and typical, the floor
// sits two ranks weaker, the gradient is compressed, and the profile is
// flagged for review. Documents that already carry a distribution (or no
// legacy field) are untouched.
func MigrateWorldTier(p *Profile) {
	if p.WorldTier == "" || p.PowerDistribution.TypicalTier != "" {
		return
	}
	p.PowerDistribution = PowerDistribution{
		PeakTier:    p.WorldTier,
		TypicalTier: p.WorldTier,
		FloorTier:   tierPlus(p.WorldTier, 2),
		Gradient:    GradientCompressed,
	}
	p.NeedsReview = true
	p.WorldTier = ""
}
