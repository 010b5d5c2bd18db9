package agent

// StubRoll pins the outcome judge's d20 for deterministic tests.
func StubRoll(j *OutcomeJudge, value int) {
	j.roll = func() int { return value }
}
