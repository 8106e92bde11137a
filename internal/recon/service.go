package recon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Store is the full data-access surface the engine consumes. Entries and
// movements are created upstream by the import pipeline; the engine only
// toggles their status and link fields. ListCandidateMovements must return
// unlinked movements only.
type Store interface {
	PairStore
	MovementSource
	ListPendingEntries(ctx context.Context, accountID int64, r DateRange) ([]StatementEntry, error)
	ListActiveRules(ctx context.Context, accountID int64) ([]Rule, error)
}

// RunLocker serializes bulk runs per account across processes. Acquire
// returns ErrBusy when another run holds the account.
type RunLocker interface {
	Acquire(ctx context.Context, accountID int64) (release func(), err error)
}

// MetricsSink receives engine counters. *observability.Metrics satisfies it.
type MetricsSink interface {
	ReconOutcome(outcome string)
	ObserveBulkRunDuration(seconds float64)
}

// Config carries the engine's tunable policy.
type Config struct {
	Weights          Weights
	DefaultWindow    int
	DefaultThreshold int
}

// Service wires scorer, finder, matcher and state machine into the manual
// and bulk reconciliation flows.
type Service struct {
	store   Store
	scorer  *Scorer
	finder  *Finder
	matcher *Matcher
	sm      *StateMachine
	runLock RunLocker
	metrics MetricsSink
	logger  *slog.Logger
	cfg     Config
}

// NewService builds the engine service. runLock and metrics may be nil.
func NewService(store Store, sm *StateMachine, runLock RunLocker, metrics MetricsSink, logger *slog.Logger, cfg Config) *Service {
	if cfg.DefaultWindow <= 0 {
		cfg.DefaultWindow = DefaultWeights().DateHorizonDays
	}
	if cfg.DefaultThreshold <= 0 {
		cfg.DefaultThreshold = 85
	}
	if logger == nil {
		logger = slog.Default()
	}
	scorer := NewScorer(cfg.Weights)
	return &Service{
		store:   store,
		scorer:  scorer,
		finder:  NewFinder(store),
		matcher: NewMatcher(scorer),
		sm:      sm,
		runLock: runLock,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
	}
}

// Score exposes the pure scorer for callers that already hold both records.
func (s *Service) Score(entry StatementEntry, movement LedgerMovement) (int, Breakdown) {
	return s.scorer.Score(entry, movement)
}

// FindCandidates exposes the candidate finder. window <= 0 uses the default.
func (s *Service) FindCandidates(ctx context.Context, entry StatementEntry, window int) ([]LedgerMovement, error) {
	if window <= 0 {
		window = s.cfg.DefaultWindow
	}
	return s.finder.FindCandidates(ctx, entry, window)
}

// Match exposes the pure matcher decision.
func (s *Service) Match(entry StatementEntry, candidates []LedgerMovement, threshold int) (*LedgerMovement, int, bool) {
	if threshold <= 0 {
		threshold = s.cfg.DefaultThreshold
	}
	return s.matcher.Match(entry, candidates, threshold)
}

// Suggest returns the scored candidate list for one pending entry, best
// first, capped at limit. Used by the manual reconciliation drawer.
func (s *Service) Suggest(ctx context.Context, entryID int64, limit int) ([]MatchCandidate, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.finder.FindCandidates(ctx, *entry, s.cfg.DefaultWindow)
	if err != nil {
		return nil, err
	}
	ranked := s.matcher.Rank(*entry, candidates)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// SuggestRules returns the reconciliation rules matching one entry.
func (s *Service) SuggestRules(ctx context.Context, entryID int64) ([]Rule, error) {
	entry, err := s.store.GetEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	rules, err := s.store.ListActiveRules(ctx, entry.AccountID)
	if err != nil {
		return nil, fmt.Errorf("%w: list rules: %v", ErrDataUnavailable, err)
	}
	return MatchRules(*entry, rules), nil
}

// ReconcileManual links a user-chosen pair. Scoring is bypassed; the state
// machine and the per-entity guard still apply.
func (s *Service) ReconcileManual(ctx context.Context, entryID, movementID int64) error {
	return s.sm.Reconcile(ctx, entryID, movementID)
}

// Unreconcile reverts one reconciled entry, recording reason and actor.
func (s *Service) Unreconcile(ctx context.Context, entryID int64, reason string, actorID int64) error {
	return s.sm.Unreconcile(ctx, entryID, reason, actorID)
}

// RunBulk processes every pending entry for the account inside the date
// range, strictly sequentially: a movement consumed by one entry must be
// gone from the next entry's candidate window, which only holds when each
// Reconcile completes before the next search starts. One entry's failure is
// recorded and the run continues; cancellation is honoured between entries
// only, never mid-transition.
func (s *Service) RunBulk(ctx context.Context, accountID int64, dateRange DateRange, threshold int) (*BulkRunResult, error) {
	if threshold <= 0 {
		threshold = s.cfg.DefaultThreshold
	}

	if s.runLock != nil {
		release, err := s.runLock.Acquire(ctx, accountID)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	started := time.Now().UTC()
	result := &BulkRunResult{
		RunID:     uuid.NewString(),
		AccountID: accountID,
		Threshold: threshold,
		StartedAt: started,
	}

	entries, err := s.store.ListPendingEntries(ctx, accountID, dateRange)
	if err != nil {
		return nil, fmt.Errorf("%w: list pending entries: %v", ErrDataUnavailable, err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			result.FinishedAt = time.Now().UTC()
			return result, err
		}
		outcome := s.runOne(ctx, entry, threshold)
		result.Outcomes = append(result.Outcomes, outcome)
		switch outcome.Outcome {
		case OutcomeMatched:
			result.Matched++
		case OutcomeSkipped:
			result.Skipped++
		case OutcomeFailed:
			result.Failed++
		}
		if s.metrics != nil {
			s.metrics.ReconOutcome(string(outcome.Outcome))
		}
	}

	result.FinishedAt = time.Now().UTC()
	if s.metrics != nil {
		s.metrics.ObserveBulkRunDuration(result.FinishedAt.Sub(started).Seconds())
	}
	s.logger.Info("bulk reconciliation run finished",
		slog.String("run_id", result.RunID),
		slog.Int64("account_id", accountID),
		slog.Int("matched", result.Matched),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed))
	return result, nil
}

// runOne evaluates a single entry to completion, including its Reconcile.
func (s *Service) runOne(ctx context.Context, entry StatementEntry, threshold int) EntryOutcome {
	candidates, err := s.finder.FindCandidates(ctx, entry, s.cfg.DefaultWindow)
	if err != nil {
		return EntryOutcome{EntryID: entry.ID, Outcome: OutcomeFailed, Cause: err.Error()}
	}

	best, score, accepted := s.matcher.Match(entry, candidates, threshold)
	if !accepted {
		out := EntryOutcome{EntryID: entry.ID, Outcome: OutcomeSkipped}
		if best != nil {
			out.Score = score
		}
		return out
	}

	if err := s.sm.Reconcile(ctx, entry.ID, best.ID); err != nil {
		// State-machine and data errors are per-entry failures, never
		// run-aborting.
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("bulk reconcile entry failed",
				slog.Int64("entry_id", entry.ID),
				slog.Int64("movement_id", best.ID),
				slog.Any("error", err))
		}
		return EntryOutcome{EntryID: entry.ID, Outcome: OutcomeFailed, MovementID: best.ID, Score: score, Cause: err.Error()}
	}
	return EntryOutcome{EntryID: entry.ID, Outcome: OutcomeMatched, MovementID: best.ID, Score: score}
}
