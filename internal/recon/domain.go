package recon

import (
	"errors"
	"time"
)

// EntryDirection enumerates the sign of a statement entry.
type EntryDirection string

const (
	EntryCredit EntryDirection = "credit"
	EntryDebit  EntryDirection = "debit"
)

// MovementDirection enumerates the sign of a ledger movement.
type MovementDirection string

const (
	MovementInflow  MovementDirection = "inflow"
	MovementOutflow MovementDirection = "outflow"
)

// EntryStatus enumerates reconciliation states of a statement entry.
type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryReconciled EntryStatus = "reconciled"
)

// MovementStatus enumerates reconciliation states of a ledger movement.
type MovementStatus string

const (
	MovementUnlinked MovementStatus = "unlinked"
	MovementLinked   MovementStatus = "linked"
)

// StatementEntry is one imported bank statement line item.
// Amounts are stored in minor units (cents) so equality checks never go
// through floating point.
type StatementEntry struct {
	ID          int64
	AccountID   int64
	PostedAt    time.Time
	AmountCents int64
	Direction   EntryDirection
	Description string
	DocumentRef string
	Status      EntryStatus
	MovementID  *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LedgerMovement is one internally recorded cash movement.
type LedgerMovement struct {
	ID          int64
	AccountID   int64
	MovedAt     time.Time
	AmountCents int64
	Direction   MovementDirection
	Description string
	DocumentRef string
	Status      MovementStatus
	EntryID     *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CompatibleDirection reports whether a movement direction represents the
// same cash flow as an entry direction (credit means money in, debit money
// out).
func CompatibleDirection(e EntryDirection, m MovementDirection) bool {
	switch e {
	case EntryCredit:
		return m == MovementInflow
	case EntryDebit:
		return m == MovementOutflow
	}
	return false
}

// MovementDirectionFor returns the movement direction matching an entry
// direction.
func MovementDirectionFor(e EntryDirection) MovementDirection {
	if e == EntryCredit {
		return MovementInflow
	}
	return MovementOutflow
}

// Breakdown carries the per-criterion sub-scores of one comparison so a
// suggestion can be explained to the user.
type Breakdown struct {
	Amount      int `json:"amount"`
	Date        int `json:"date"`
	Description int `json:"description"`
	Document    int `json:"document"`
}

// Total sums the sub-scores.
func (b Breakdown) Total() int {
	return b.Amount + b.Date + b.Description + b.Document
}

// MatchCandidate pairs a movement with its computed confidence against one
// statement entry. Derived, never persisted.
type MatchCandidate struct {
	Movement  LedgerMovement `json:"movement"`
	Score     int            `json:"score"`
	Breakdown Breakdown      `json:"breakdown"`
}

// DateRange bounds a working set by posting date, inclusive on both ends.
type DateRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the range. Zero bounds are open.
func (r DateRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && t.After(r.To) {
		return false
	}
	return true
}

// Outcome classifies the result of one entry inside a bulk run.
type Outcome string

const (
	OutcomeMatched Outcome = "matched"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// EntryOutcome records what happened to a single statement entry during a
// bulk run.
type EntryOutcome struct {
	EntryID    int64   `json:"entry_id"`
	Outcome    Outcome `json:"outcome"`
	MovementID int64   `json:"movement_id,omitempty"`
	Score      int     `json:"score,omitempty"`
	Cause      string  `json:"cause,omitempty"`
}

// BulkRunResult aggregates one bulk reconciliation invocation.
type BulkRunResult struct {
	RunID      string         `json:"run_id"`
	AccountID  int64          `json:"account_id"`
	Threshold  int            `json:"threshold"`
	Matched    int            `json:"matched"`
	Skipped    int            `json:"skipped"`
	Failed     int            `json:"failed"`
	Outcomes   []EntryOutcome `json:"outcomes"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// Rule is an account-scoped reconciliation hint: when an entry description
// contains MatchText (case-insensitive) and the amount falls inside the
// optional bounds, the rule's category and cost center are suggested for the
// movement the operator may create. The engine only reads rules; their
// administration lives upstream.
type Rule struct {
	ID             int64          `json:"id"`
	AccountID      int64          `json:"account_id"`
	MatchText      string         `json:"match_text"`
	Direction      EntryDirection `json:"direction"`
	MinAmountCents *int64         `json:"min_amount_cents,omitempty"`
	MaxAmountCents *int64         `json:"max_amount_cents,omitempty"`
	Category       string         `json:"category,omitempty"`
	CostCenter     string         `json:"cost_center,omitempty"`
	Active         bool           `json:"active"`
}

// Error taxonomy of the engine. Store failures wrap ErrDataUnavailable;
// state machine violations map one-to-one onto the remaining sentinels.
var (
	ErrDataUnavailable   = errors.New("recon: data unavailable")
	ErrAlreadyReconciled = errors.New("recon: already reconciled")
	ErrNotReconciled     = errors.New("recon: not reconciled")
	ErrCrossAccount      = errors.New("recon: cross-account pair")
	ErrBusy              = errors.New("recon: concurrent transition in progress")
	ErrNotFound          = errors.New("recon: not found")
)
