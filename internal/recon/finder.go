package recon

import (
	"context"
	"fmt"
)

// CandidateQuery narrows the movement search for one statement entry.
type CandidateQuery struct {
	AccountID int64
	Direction MovementDirection
	Range     DateRange
}

// MovementSource is the slice of the store the candidate finder needs.
type MovementSource interface {
	ListCandidateMovements(ctx context.Context, q CandidateQuery) ([]LedgerMovement, error)
}

// Finder retrieves the bounded window of unlinked movements a statement
// entry could plausibly reconcile against: same account, compatible
// direction, movement date within ±window calendar days. Candidates outside
// the window can never out-score an in-window exact match, so excluding them
// bounds the search without changing outcomes.
type Finder struct {
	source MovementSource
}

// NewFinder builds a Finder over a movement source.
func NewFinder(source MovementSource) *Finder {
	return &Finder{source: source}
}

// FindCandidates returns the unsorted candidate window for entry. Ordering
// is the matcher's job. Store failures are surfaced wrapped in
// ErrDataUnavailable and are not retried here.
func (f *Finder) FindCandidates(ctx context.Context, entry StatementEntry, window int) ([]LedgerMovement, error) {
	if window <= 0 {
		window = DefaultWeights().DateHorizonDays
	}
	q := CandidateQuery{
		AccountID: entry.AccountID,
		Direction: MovementDirectionFor(entry.Direction),
		Range: DateRange{
			From: entry.PostedAt.AddDate(0, 0, -window),
			To:   entry.PostedAt.AddDate(0, 0, window),
		},
	}
	movements, err := f.source.ListCandidateMovements(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: list candidates for entry %d: %v", ErrDataUnavailable, entry.ID, err)
	}
	return movements, nil
}
