package recon

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/tesoro-fin/tesoro/internal/shared"
)

// PairStore is the slice of the store the state machine mutates through.
// LinkPair and UnlinkPair must execute atomically with status preconditions
// (compare-and-swap on the status columns): a half-applied pair must never
// be observable, and a precondition miss surfaces as ErrAlreadyReconciled /
// ErrNotReconciled.
type PairStore interface {
	GetEntry(ctx context.Context, id int64) (*StatementEntry, error)
	GetMovement(ctx context.Context, id int64) (*LedgerMovement, error)
	LinkPair(ctx context.Context, entryID, movementID int64) error
	UnlinkPair(ctx context.Context, entryID int64) (movementID int64, err error)
}

// AuditRecorder persists reversal audit records. *shared.AuditLogger
// satisfies it.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// StateMachine owns the two legal transitions of a statement entry /
// ledger movement pair: Pending -> Reconciled via Reconcile, and back via
// Unreconcile. Every transition grabs the per-entity guard first, so two
// concurrent attempts on the same entry or movement surface as ErrBusy.
type StateMachine struct {
	store  PairStore
	guard  *Guard
	audit  AuditRecorder
	logger *slog.Logger
}

// NewStateMachine builds the state machine. audit may be nil in tests;
// Unreconcile then skips the audit write.
func NewStateMachine(store PairStore, guard *Guard, audit AuditRecorder, logger *slog.Logger) *StateMachine {
	if guard == nil {
		guard = NewGuard()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StateMachine{store: store, guard: guard, audit: audit, logger: logger}
}

// Reconcile links entry and movement, setting both sides to their
// reconciled states with mutual references. Calling it again with the
// identical pair is a silent no-op so retried bulk operations stay safe.
func (sm *StateMachine) Reconcile(ctx context.Context, entryID, movementID int64) error {
	release, err := sm.guard.Acquire(entryKey(entryID), movementKey(movementID))
	if err != nil {
		return err
	}
	defer release()

	entry, err := sm.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	movement, err := sm.store.GetMovement(ctx, movementID)
	if err != nil {
		return err
	}

	if entry.AccountID != movement.AccountID {
		return ErrCrossAccount
	}

	if entry.Status == EntryReconciled {
		if entry.MovementID != nil && *entry.MovementID == movementID &&
			movement.Status == MovementLinked && movement.EntryID != nil && *movement.EntryID == entryID {
			// Idempotent repeat of the same pair.
			return nil
		}
		return ErrAlreadyReconciled
	}
	if movement.Status == MovementLinked {
		return ErrAlreadyReconciled
	}

	if err := sm.store.LinkPair(ctx, entryID, movementID); err != nil {
		return err
	}
	sm.logger.Debug("reconciled pair",
		slog.Int64("entry_id", entryID),
		slog.Int64("movement_id", movementID))
	return nil
}

// Unreconcile reverts a reconciled entry and its linked movement back to
// pending/unlinked and records the reversal in the audit trail, since it may
// touch an already-closed financial period.
func (sm *StateMachine) Unreconcile(ctx context.Context, entryID int64, reason string, actorID int64) error {
	release, err := sm.guard.Acquire(entryKey(entryID))
	if err != nil {
		return err
	}
	defer release()

	entry, err := sm.store.GetEntry(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status != EntryReconciled || entry.MovementID == nil {
		return ErrNotReconciled
	}

	movementID, err := sm.store.UnlinkPair(ctx, entryID)
	if err != nil {
		return err
	}

	if sm.audit != nil {
		log := shared.AuditLog{
			ActorID:  actorID,
			Action:   "treasury.recon.unreconcile",
			Entity:   "statement_entry",
			EntityID: strconv.FormatInt(entryID, 10),
			Meta: map[string]any{
				"movement_id": movementID,
				"reason":      reason,
			},
			At: time.Now().UTC(),
		}
		if err := sm.audit.Record(ctx, log); err != nil {
			sm.logger.Error("record unreconcile audit",
				slog.Int64("entry_id", entryID), slog.Any("error", err))
		}
	}
	return nil
}
