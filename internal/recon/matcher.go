package recon

import "sort"

// Matcher turns a candidate window into a single accept/reject decision. It
// performs no mutation; both the manual drawer and the bulk orchestrator
// consume it.
type Matcher struct {
	scorer *Scorer
}

// NewMatcher builds a Matcher around a scorer.
func NewMatcher(scorer *Scorer) *Matcher {
	return &Matcher{scorer: scorer}
}

// Match scores every candidate and picks the best one. Ties are broken by
// exact amount first, then smallest date distance, then lowest movement ID,
// so the outcome never depends on candidate order. accepted is true only
// when the winner clears the threshold.
func (m *Matcher) Match(entry StatementEntry, candidates []LedgerMovement, threshold int) (best *LedgerMovement, score int, accepted bool) {
	ranked := m.Rank(entry, candidates)
	if len(ranked) == 0 {
		return nil, 0, false
	}
	top := ranked[0]
	mv := top.Movement
	return &mv, top.Score, top.Score >= threshold
}

// Rank scores and orders all candidates, best first, using the same
// deterministic ordering as Match. Used to present suggestions.
func (m *Matcher) Rank(entry StatementEntry, candidates []LedgerMovement) []MatchCandidate {
	if len(candidates) == 0 {
		return nil
	}
	ranked := make([]MatchCandidate, 0, len(candidates))
	for _, mv := range candidates {
		score, breakdown := m.scorer.Score(entry, mv)
		ranked = append(ranked, MatchCandidate{Movement: mv, Score: score, Breakdown: breakdown})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return lessCandidate(entry, ranked[i], ranked[j])
	})
	return ranked
}

// lessCandidate reports whether a should rank before b for the given entry.
func lessCandidate(entry StatementEntry, a, b MatchCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	aExact := a.Movement.AmountCents == entry.AmountCents
	bExact := b.Movement.AmountCents == entry.AmountCents
	if aExact != bExact {
		return aExact
	}
	aDays := calendarDaysBetween(entry.PostedAt, a.Movement.MovedAt)
	bDays := calendarDaysBetween(entry.PostedAt, b.Movement.MovedAt)
	if aDays != bDays {
		return aDays < bDays
	}
	return a.Movement.ID < b.Movement.ID
}
