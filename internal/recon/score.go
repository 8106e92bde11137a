package recon

import "time"

// Weights configures the similarity scorer. The four weights should sum to
// 100 so the total reads as a percentage confidence. DateHorizonDays is the
// calendar-day distance at which the date sub-score decays to zero.
type Weights struct {
	Amount          int `envconfig:"RECON_WEIGHT_AMOUNT" default:"40"`
	Date            int `envconfig:"RECON_WEIGHT_DATE" default:"25"`
	Description     int `envconfig:"RECON_WEIGHT_DESCRIPTION" default:"20"`
	Document        int `envconfig:"RECON_WEIGHT_DOCUMENT" default:"15"`
	DateHorizonDays int `envconfig:"RECON_DATE_HORIZON_DAYS" default:"5"`
}

// DefaultWeights mirrors the tuning the treasury screens were built around:
// exact amount is near-necessary, date decays over five days, description
// and document reference make up the rest.
func DefaultWeights() Weights {
	return Weights{Amount: 40, Date: 25, Description: 20, Document: 15, DateHorizonDays: 5}
}

// Scorer computes a 0-100 confidence that a statement entry and a ledger
// movement describe the same cash event. It is pure: no I/O, deterministic
// for identical inputs.
type Scorer struct {
	w Weights
}

// NewScorer builds a Scorer. Zero-valued weights fall back to the defaults.
func NewScorer(w Weights) *Scorer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	if w.DateHorizonDays <= 0 {
		w.DateHorizonDays = DefaultWeights().DateHorizonDays
	}
	return &Scorer{w: w}
}

// Score compares one entry against one movement. Callers are expected to
// pre-filter account and direction; the scorer only measures similarity.
func (s *Scorer) Score(entry StatementEntry, movement LedgerMovement) (int, Breakdown) {
	var b Breakdown

	if entry.AmountCents == movement.AmountCents {
		b.Amount = s.w.Amount
	}

	b.Date = s.dateScore(entry.PostedAt, movement.MovedAt)
	b.Description = s.descriptionScore(entry.Description, movement.Description)

	if entry.DocumentRef != "" && movement.DocumentRef != "" {
		if normalizeDocRef(entry.DocumentRef) == normalizeDocRef(movement.DocumentRef) {
			b.Document = s.w.Document
		}
	}

	return b.Total(), b
}

// dateScore decays linearly from the full weight at zero days difference to
// zero at the horizon.
func (s *Scorer) dateScore(a, c time.Time) int {
	diff := calendarDaysBetween(a, c)
	if diff >= s.w.DateHorizonDays {
		return 0
	}
	return s.w.Date - s.w.Date*diff/s.w.DateHorizonDays
}

// descriptionScore is the token-set Jaccard ratio scaled to the description
// weight.
func (s *Scorer) descriptionScore(a, c string) int {
	ta := tokenSet(a)
	tc := tokenSet(c)
	if len(ta) == 0 || len(tc) == 0 {
		return 0
	}
	inter := 0
	for tok := range ta {
		if _, ok := tc[tok]; ok {
			inter++
		}
	}
	union := len(ta) + len(tc) - inter
	if union == 0 {
		return 0
	}
	return s.w.Description * inter / union
}

// calendarDaysBetween counts whole calendar days between two instants,
// ignoring the time-of-day component.
func calendarDaysBetween(a, b time.Time) int {
	da := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	db := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	diff := int(db.Sub(da) / (24 * time.Hour))
	if diff < 0 {
		return -diff
	}
	return diff
}
