package recon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(d int) time.Time {
	return time.Date(2025, time.March, 10+d, 0, 0, 0, 0, time.UTC)
}

func scoringPair() (StatementEntry, LedgerMovement) {
	entry := StatementEntry{
		ID:          1,
		AccountID:   7,
		PostedAt:    day(0),
		AmountCents: 125000,
		Direction:   EntryDebit,
		Description: "pagamento fornecedor acme",
		DocumentRef: "NF-1234",
		Status:      EntryPending,
	}
	movement := LedgerMovement{
		ID:          10,
		AccountID:   7,
		MovedAt:     day(0),
		AmountCents: 125000,
		Direction:   MovementOutflow,
		Description: "pagamento fornecedor acme",
		DocumentRef: "nf1234",
		Status:      MovementUnlinked,
	}
	return entry, movement
}

func TestScorePerfectPair(t *testing.T) {
	s := NewScorer(Weights{})
	entry, movement := scoringPair()

	score, b := s.Score(entry, movement)
	require.Equal(t, 100, score)
	require.Equal(t, Breakdown{Amount: 40, Date: 25, Description: 20, Document: 15}, b)
}

func TestScoreDeterministic(t *testing.T) {
	s := NewScorer(Weights{})
	entry, movement := scoringPair()

	first, _ := s.Score(entry, movement)
	for i := 0; i < 10; i++ {
		again, _ := s.Score(entry, movement)
		require.Equal(t, first, again)
	}
}

func TestScoreDateDecay(t *testing.T) {
	s := NewScorer(Weights{})
	entry, movement := scoringPair()

	// Five points per calendar day, zero at the horizon and beyond.
	expected := []int{25, 20, 15, 10, 5, 0, 0}
	for diff, want := range expected {
		movement.MovedAt = day(diff)
		_, b := s.Score(entry, movement)
		require.Equal(t, want, b.Date, "diff of %d days", diff)

		movement.MovedAt = day(-diff)
		_, b = s.Score(entry, movement)
		require.Equal(t, want, b.Date, "diff of -%d days", diff)
	}
}

func TestScoreDateIgnoresTimeOfDay(t *testing.T) {
	s := NewScorer(Weights{})
	entry, movement := scoringPair()
	entry.PostedAt = time.Date(2025, time.March, 10, 23, 59, 0, 0, time.UTC)
	movement.MovedAt = time.Date(2025, time.March, 11, 0, 1, 0, 0, time.UTC)

	_, b := s.Score(entry, movement)
	require.Equal(t, 20, b.Date)
}

func TestScoreAmountMismatchCapped(t *testing.T) {
	s := NewScorer(Weights{})
	entry, movement := scoringPair()
	movement.AmountCents = entry.AmountCents + 1

	score, b := s.Score(entry, movement)
	require.Zero(t, b.Amount)
	require.Equal(t, 60, score)
}

func TestScoreDescriptionJaccard(t *testing.T) {
	s := NewScorer(Weights{})
	entry, movement := scoringPair()
	entry.Description = "pagamento fornecedor acme"
	movement.Description = "pagto fornecedor acme ltda"

	// Two shared tokens out of a five-token union.
	_, b := s.Score(entry, movement)
	require.Equal(t, 20*2/5, b.Description)
}

func TestScoreDescriptionNormalization(t *testing.T) {
	s := NewScorer(Weights{})
	entry, movement := scoringPair()
	entry.Description = "DEPÓSITO CLIENTE, ACME."
	movement.Description = "deposito cliente acme"

	_, b := s.Score(entry, movement)
	require.Equal(t, 20, b.Description)
}

func TestScoreEmptyDescription(t *testing.T) {
	s := NewScorer(Weights{})
	entry, movement := scoringPair()
	entry.Description = ""

	_, b := s.Score(entry, movement)
	require.Zero(t, b.Description)
}

func TestScoreDocumentRef(t *testing.T) {
	s := NewScorer(Weights{})
	entry, movement := scoringPair()

	_, b := s.Score(entry, movement)
	require.Equal(t, 15, b.Document)

	movement.DocumentRef = "NF-9999"
	_, b = s.Score(entry, movement)
	require.Zero(t, b.Document)

	// A missing reference on either side scores nothing, it is not treated
	// as a trivially equal pair of empties.
	movement.DocumentRef = ""
	entry.DocumentRef = ""
	_, b = s.Score(entry, movement)
	require.Zero(t, b.Document)
}

func TestScoreCustomWeights(t *testing.T) {
	s := NewScorer(Weights{Amount: 70, Date: 10, Description: 10, Document: 10, DateHorizonDays: 2})
	entry, movement := scoringPair()
	movement.MovedAt = day(1)

	score, b := s.Score(entry, movement)
	require.Equal(t, 70, b.Amount)
	require.Equal(t, 5, b.Date)
	require.Equal(t, 10, b.Description)
	require.Equal(t, 10, b.Document)
	require.Equal(t, b.Total(), score)
}

func TestTokenSetStripsPunctuation(t *testing.T) {
	set := tokenSet("TED recebida - ACME, ltda.")
	require.Len(t, set, 4)
	for _, tok := range []string{"ted", "recebida", "acme", "ltda"} {
		require.Contains(t, set, tok)
	}
}

func TestNormalizeDocRef(t *testing.T) {
	require.Equal(t, "nf1234", normalizeDocRef("NF-1234"))
	require.Equal(t, "nf1234", normalizeDocRef(" nf 12/34 "))
	require.Equal(t, "", normalizeDocRef("--//--"))
}
