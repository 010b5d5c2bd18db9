package profile

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// MatchKind reports which of the three alias-resolution stages produced a
// hit.
type MatchKind string

const (
	MatchExact       MatchKind = "exact"
	MatchJaccard     MatchKind = "jaccard"
	MatchLevenshtein MatchKind = "levenshtein"
)

// aliasEntry is one normalized name or alias pointing at a profile.
type aliasEntry struct {
	normalized string
	tokens     []string
	profileID  string
}

// AliasIndex resolves free-text titles to profile IDs. It is built once at
// startup from all persisted profiles and is read-only thereafter
// (process-wide shared state per the single-writer model), so lookups need
// no locking.
type AliasIndex struct {
	exact   map[string]string // normalized full string -> profile ID
	entries []aliasEntry
}

// BuildIndex constructs the alias index over every name, alias, romanized
// title, and native title of the given profiles.
func BuildIndex(profiles []*Profile) *AliasIndex {
	idx := &AliasIndex{exact: make(map[string]string)}
	for _, p := range profiles {
		names := append([]string{p.Name, p.RomanizedTitle, p.NativeTitle}, p.Aliases...)
		for _, name := range names {
			if name == "" {
				continue
			}
			norm := Normalize(name)
			if norm == "" {
				continue
			}
			if _, taken := idx.exact[norm]; !taken {
				idx.exact[norm] = p.ID
			}
			idx.entries = append(idx.entries, aliasEntry{
				normalized: norm,
				tokens:     strings.Fields(norm),
				profileID:  p.ID,
			})
		}
	}
	return idx
}

// Normalize lowercases, strips punctuation to spaces, and collapses
// whitespace. Voice-card keys and alias lookups share this normalization.
func Normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// NormalizeKey is Normalize with underscores instead of spaces, the
// voice-card key form.
func NormalizeKey(s string) string {
	return strings.ReplaceAll(Normalize(s), " ", "_")
}

// Resolve matches query against the index using the three-stage policy:
// exact normalized match, then token Jaccard (>= 0.30 for query-subset
// containment, >= 0.80 for reverse containment), then normalized
// Levenshtein similarity >= 0.85. Returns the profile ID and the stage
// that matched, or ("", "", false) when nothing clears a threshold.
func (idx *AliasIndex) Resolve(query string) (profileID string, kind MatchKind, ok bool) {
	norm := Normalize(query)
	if norm == "" {
		return "", "", false
	}
	if id, ok := idx.exact[norm]; ok {
		return id, MatchExact, true
	}

	queryTokens := strings.Fields(norm)
	var (
		bestID    string
		bestKind  MatchKind
		bestScore float64
	)
	for _, e := range idx.entries {
		if score, hit := jaccardHit(queryTokens, e.tokens); hit && score > bestScore {
			bestID, bestKind, bestScore = e.profileID, MatchJaccard, score
		}
	}
	if bestID != "" {
		return bestID, bestKind, true
	}

	for _, e := range idx.entries {
		if score := levenshteinSimilarity(norm, e.normalized); score >= 0.85 && score > bestScore {
			bestID, bestKind, bestScore = e.profileID, MatchLevenshtein, score
		}
	}
	if bestID != "" {
		return bestID, bestKind, true
	}
	return "", "", false
}

// jaccardHit computes token-set Jaccard between query and entry tokens and
// applies the asymmetric thresholds: a query whose tokens are a subset of
// the entry ("frieren journey" against "frieren beyond journey s end",
// 2/5 = 0.40) needs only 0.30 overall similarity, while an entry contained in a longer query needs
// 0.80 to avoid matching on incidental words.
func jaccardHit(query, entry []string) (float64, bool) {
	if len(query) == 0 || len(entry) == 0 {
		return 0, false
	}
	qset := make(map[string]bool, len(query))
	for _, t := range query {
		qset[t] = true
	}
	eset := make(map[string]bool, len(entry))
	inter := 0
	for _, t := range entry {
		if !eset[t] {
			eset[t] = true
			if qset[t] {
				inter++
			}
		}
	}
	if inter == 0 {
		return 0, false
	}
	union := len(qset) + len(eset) - inter
	score := float64(inter) / float64(union)

	querySubset := inter == len(qset)
	entrySubset := inter == len(eset)
	switch {
	case querySubset && score >= 0.30:
		return score, true
	case entrySubset && score >= 0.80:
		return score, true
	default:
		return 0, false
	}
}

// levenshteinSimilarity is 1 - dist/maxLen, the normalized form of the edit
// distance matchr computes.
func levenshteinSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	dist := matchr.Levenshtein(a, b)
	return 1 - float64(dist)/float64(maxLen)
}
