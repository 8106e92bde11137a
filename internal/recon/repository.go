package recon

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tesoro-fin/tesoro/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the engine. It
// implements Store.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const entryColumns = `id, account_id, posted_at, amount_cents, direction, description,
	document_ref, status, movement_id, created_at, updated_at`

const movementColumns = `id, account_id, moved_at, amount_cents, direction, description,
	document_ref, status, entry_id, created_at, updated_at`

// GetEntry fetches one statement entry.
func (r *Repository) GetEntry(ctx context.Context, id int64) (*StatementEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM statement_entries WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	entry, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: statement entry %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get entry: %v", ErrDataUnavailable, err)
	}
	return entry, nil
}

// GetMovement fetches one ledger movement.
func (r *Repository) GetMovement(ctx context.Context, id int64) (*LedgerMovement, error) {
	query := `SELECT ` + movementColumns + ` FROM ledger_movements WHERE id = $1`
	row := r.pool.QueryRow(ctx, query, id)
	movement, err := scanMovement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: ledger movement %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get movement: %v", ErrDataUnavailable, err)
	}
	return movement, nil
}

// ListPendingEntries returns pending entries for the account ordered by
// posting date then id, bounded by the optional date range.
func (r *Repository) ListPendingEntries(ctx context.Context, accountID int64, dr DateRange) ([]StatementEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM statement_entries
		WHERE account_id = $1 AND status = 'pending'`
	args := []any{accountID}
	argNum := 2
	if !dr.From.IsZero() {
		query += fmt.Sprintf(" AND posted_at >= $%d", argNum)
		args = append(args, dr.From)
		argNum++
	}
	if !dr.To.IsZero() {
		query += fmt.Sprintf(" AND posted_at <= $%d", argNum)
		args = append(args, dr.To)
	}
	query += " ORDER BY posted_at, id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []StatementEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// ListCandidateMovements returns unlinked movements matching the query.
func (r *Repository) ListCandidateMovements(ctx context.Context, q CandidateQuery) ([]LedgerMovement, error) {
	query := `SELECT ` + movementColumns + ` FROM ledger_movements
		WHERE account_id = $1 AND status = 'unlinked' AND direction = $2
		  AND moved_at >= $3 AND moved_at <= $4
		ORDER BY moved_at, id`

	rows, err := r.pool.Query(ctx, query, q.AccountID, string(q.Direction), q.Range.From, q.Range.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var movements []LedgerMovement
	for rows.Next() {
		movement, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		movements = append(movements, *movement)
	}
	return movements, rows.Err()
}

// ListActiveRules returns the account's active reconciliation rules.
func (r *Repository) ListActiveRules(ctx context.Context, accountID int64) ([]Rule, error) {
	query := `SELECT id, account_id, match_text, direction, min_amount_cents,
			max_amount_cents, category, cost_center, active
		FROM recon_rules
		WHERE account_id = $1 AND active
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var rule Rule
		var minAmount, maxAmount pgtype.Int8
		var category, costCenter pgtype.Text
		if err := rows.Scan(&rule.ID, &rule.AccountID, &rule.MatchText, &rule.Direction,
			&minAmount, &maxAmount, &category, &costCenter, &rule.Active); err != nil {
			return nil, err
		}
		if minAmount.Valid {
			rule.MinAmountCents = &minAmount.Int64
		}
		if maxAmount.Valid {
			rule.MaxAmountCents = &maxAmount.Int64
		}
		rule.Category = category.String
		rule.CostCenter = costCenter.String
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// LinkPair sets both sides to their reconciled states inside one
// transaction. The status predicates in the UPDATEs are the
// compare-and-swap: if either row was claimed in between, zero rows are
// affected, the transaction rolls back and ErrAlreadyReconciled surfaces.
func (r *Repository) LinkPair(ctx context.Context, entryID, movementID int64) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE statement_entries
			 SET status = 'reconciled', movement_id = $2, updated_at = NOW()
			 WHERE id = $1 AND status = 'pending' AND movement_id IS NULL`,
			entryID, movementID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrAlreadyReconciled
		}

		tag, err = tx.Exec(ctx,
			`UPDATE ledger_movements
			 SET status = 'linked', entry_id = $2, updated_at = NOW()
			 WHERE id = $1 AND status = 'unlinked' AND entry_id IS NULL`,
			movementID, entryID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrAlreadyReconciled
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrAlreadyReconciled) {
		return ErrAlreadyReconciled
	}
	if pgErr, ok := err.(*pgconn.PgError); ok {
		// 40001: serialization failure under repeatable read means another
		// transition raced ours.
		if pgErr.Code == "40001" {
			return fmt.Errorf("%w: link pair %d/%d", ErrBusy, entryID, movementID)
		}
	}
	return fmt.Errorf("%w: link pair: %v", ErrDataUnavailable, err)
}

// UnlinkPair clears both sides back to pending/unlinked atomically and
// reports which movement was detached.
func (r *Repository) UnlinkPair(ctx context.Context, entryID int64) (int64, error) {
	var movementID int64
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var linked pgtype.Int8
		err := tx.QueryRow(ctx,
			`SELECT movement_id FROM statement_entries WHERE id = $1 FOR UPDATE`,
			entryID).Scan(&linked)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: statement entry %d", ErrNotFound, entryID)
		}
		if err != nil {
			return err
		}
		if !linked.Valid {
			return ErrNotReconciled
		}
		movementID = linked.Int64

		tag, err := tx.Exec(ctx,
			`UPDATE statement_entries
			 SET status = 'pending', movement_id = NULL, updated_at = NOW()
			 WHERE id = $1 AND status = 'reconciled'`,
			entryID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotReconciled
		}

		tag, err = tx.Exec(ctx,
			`UPDATE ledger_movements
			 SET status = 'unlinked', entry_id = NULL, updated_at = NOW()
			 WHERE id = $1 AND status = 'linked' AND entry_id = $2`,
			movementID, entryID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			// The two sides disagree; refuse to leave a half-cleared pair.
			return fmt.Errorf("movement %d not linked to entry %d", movementID, entryID)
		}
		return nil
	})
	if err == nil {
		return movementID, nil
	}
	if errors.Is(err, ErrNotReconciled) {
		return 0, ErrNotReconciled
	}
	if errors.Is(err, ErrNotFound) {
		return 0, err
	}
	if pgErr, ok := err.(*pgconn.PgError); ok && pgErr.Code == "40001" {
		return 0, fmt.Errorf("%w: unlink entry %d", ErrBusy, entryID)
	}
	return 0, fmt.Errorf("%w: unlink pair: %v", ErrDataUnavailable, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*StatementEntry, error) {
	var e StatementEntry
	var docRef pgtype.Text
	var movementID pgtype.Int8
	if err := row.Scan(&e.ID, &e.AccountID, &e.PostedAt, &e.AmountCents, &e.Direction,
		&e.Description, &docRef, &e.Status, &movementID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	e.DocumentRef = docRef.String
	if movementID.Valid {
		e.MovementID = &movementID.Int64
	}
	return &e, nil
}

func scanMovement(row rowScanner) (*LedgerMovement, error) {
	var m LedgerMovement
	var docRef pgtype.Text
	var entryID pgtype.Int8
	if err := row.Scan(&m.ID, &m.AccountID, &m.MovedAt, &m.AmountCents, &m.Direction,
		&m.Description, &docRef, &m.Status, &entryID, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return nil, err
	}
	m.DocumentRef = docRef.String
	if entryID.Valid {
		m.EntryID = &entryID.Int64
	}
	return &m, nil
}
