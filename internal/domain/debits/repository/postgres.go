package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	uniqueViolation       = "23505"
	contentHashConstraint = "import_batches_content_hash_key"
)

const batchColumns = `id, source_file_name, content_hash, month, year,
		total_rows, succeeded_rows, failed_rows, imported_at, imported_by`

// PostgresBatchRepository implements BatchRepository using PostgreSQL
type PostgresBatchRepository struct {
	db DB
}

// NewPostgresBatchRepository creates a new PostgreSQL-backed batch repository
func NewPostgresBatchRepository(db DB) *PostgresBatchRepository {
	return &PostgresBatchRepository{db: db}
}

// FindBatchByHash looks up a batch by the fingerprint of its source file
func (r *PostgresBatchRepository) FindBatchByHash(ctx context.Context, hash string) (*ImportBatch, error) {
	return findBatchByHash(ctx, r.db, hash)
}

// WithTx runs fn inside a transaction. A unique violation on the content hash,
// whether raised by an insert or at commit, is reported as ErrDuplicateContent.
func (r *PostgresBatchRepository) WithTx(ctx context.Context, fn func(tx BatchTx) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgBatchTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		if isDuplicateContent(err) {
			return fmt.Errorf("failed to commit batch: %w", ErrDuplicateContent)
		}
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// ListBatches returns paginated batch headers, newest first
func (r *PostgresBatchRepository) ListBatches(ctx context.Context, filter BatchFilter) ([]*BatchSummary, int, error) {
	where := ""
	args := []any{}
	argIdx := 1

	if filter.Month != nil {
		where += fmt.Sprintf(` AND b.month = $%d`, argIdx)
		args = append(args, *filter.Month)
		argIdx++
	}
	if filter.Year != nil {
		where += fmt.Sprintf(` AND b.year = $%d`, argIdx)
		args = append(args, *filter.Year)
		argIdx++
	}

	var total int
	countQuery := `SELECT COUNT(*) FROM import_batches b WHERE 1=1` + where
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count batches: %w", err)
	}

	query := `
		SELECT b.id, b.source_file_name, b.content_hash, b.month, b.year,
			b.total_rows, b.succeeded_rows, b.failed_rows, b.imported_at, b.imported_by,
			COUNT(t.id), COALESCE(SUM(t.amount), 0)
		FROM import_batches b
		LEFT JOIN debit_transactions t ON t.batch_id = b.id
		WHERE 1=1` + where + `
		GROUP BY b.id
		ORDER BY b.imported_at DESC`
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, argIdx, argIdx+1)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var batches []*BatchSummary
	for rows.Next() {
		var s BatchSummary
		if err := rows.Scan(
			&s.ID, &s.SourceFileName, &s.ContentHash, &s.Month, &s.Year,
			&s.TotalRows, &s.SucceededRows, &s.FailedRows, &s.ImportedAt, &s.ImportedBy,
			&s.TransactionCount, &s.TotalAmount,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate batches: %w", err)
	}

	return batches, total, nil
}

// GetBatch returns a batch header by id
func (r *PostgresBatchRepository) GetBatch(ctx context.Context, id uuid.UUID) (*ImportBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM import_batches WHERE id = $1`

	batch, err := scanBatch(r.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return batch, nil
}

// GetBatchDetail returns a batch with its transactions and derived statuses
func (r *PostgresBatchRepository) GetBatchDetail(ctx context.Context, id uuid.UUID) (*BatchDetail, error) {
	batch, err := r.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}

	transactions, err := r.ListTransactions(ctx, id)
	if err != nil {
		return nil, err
	}

	statuses, err := r.listStatuses(ctx, id)
	if err != nil {
		return nil, err
	}

	return &BatchDetail{Batch: batch, Transactions: transactions, Statuses: statuses}, nil
}

// ListTransactions returns the transactions of a batch in sheet order
func (r *PostgresBatchRepository) ListTransactions(ctx context.Context, batchID uuid.UUID) ([]*TransactionView, error) {
	query := `
		SELECT t.id, t.batch_id, t.benefactor_id, t.source_row, t.external_account_code,
			t.payer_name, t.raw_status, t.currency, t.payment_method, t.amount,
			t.transmission_date, t.payment_date, t.bank_name, t.account_type,
			t.account_number, t.notes,
			COALESCE(b.full_name, ''), COALESCE(b.national_id, ''), COALESCE(b.agreement_number, '')
		FROM debit_transactions t
		LEFT JOIN benefactors b ON b.id = t.benefactor_id
		WHERE t.batch_id = $1
		ORDER BY t.source_row`

	rows, err := r.db.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*TransactionView
	for rows.Next() {
		var v TransactionView
		if err := rows.Scan(
			&v.ID, &v.BatchID, &v.AccountID, &v.SourceRow, &v.ExternalAccountCode,
			&v.PayerName, &v.RawStatus, &v.Currency, &v.PaymentMethod, &v.Amount,
			&v.TransmissionDate, &v.PaymentDate, &v.BankName, &v.AccountType,
			&v.AccountNumber, &v.Notes,
			&v.AccountName, &v.NationalID, &v.AgreementNumber,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return out, nil
}

func (r *PostgresBatchRepository) listStatuses(ctx context.Context, batchID uuid.UUID) ([]*ContributionStatus, error) {
	query := `
		SELECT s.benefactor_id, b.full_name, b.kind, s.month, s.year, s.status, s.is_head
		FROM monthly_contribution_status s
		JOIN benefactors b ON b.id = s.benefactor_id
		WHERE s.source_batch_id = $1
		ORDER BY s.is_head DESC, b.full_name`

	rows, err := r.db.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contribution statuses: %w", err)
	}
	defer rows.Close()

	var out []*ContributionStatus
	for rows.Next() {
		var s ContributionStatus
		if err := rows.Scan(&s.AccountID, &s.AccountName, &s.AccountKind, &s.Month, &s.Year, &s.Status, &s.IsHead); err != nil {
			return nil, fmt.Errorf("failed to scan contribution status: %w", err)
		}
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contribution statuses: %w", err)
	}
	return out, nil
}

// pgBatchTx implements BatchTx over a pgx transaction.
type pgBatchTx struct {
	tx pgx.Tx
}

func (t *pgBatchTx) Querier() Querier { return t.tx }

func (t *pgBatchTx) FindBatchByHash(ctx context.Context, hash string) (*ImportBatch, error) {
	return findBatchByHash(ctx, t.tx, hash)
}

func (t *pgBatchTx) CreateBatch(ctx context.Context, batch *ImportBatch) error {
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}

	query := `
		INSERT INTO import_batches (id, source_file_name, content_hash, month, year,
			total_rows, succeeded_rows, failed_rows, imported_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING imported_at`

	err := t.tx.QueryRow(ctx, query,
		batch.ID, batch.SourceFileName, batch.ContentHash, batch.Month, batch.Year,
		batch.TotalRows, batch.SucceededRows, batch.FailedRows, batch.ImportedBy,
	).Scan(&batch.ImportedAt)
	if isDuplicateContent(err) {
		return fmt.Errorf("failed to create batch: %w", ErrDuplicateContent)
	}
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

func (t *pgBatchTx) InsertTransaction(ctx context.Context, txn *Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}

	query := `
		INSERT INTO debit_transactions (id, batch_id, benefactor_id, source_row,
			external_account_code, payer_name, raw_status, currency, payment_method,
			amount, transmission_date, payment_date, bank_name, account_type,
			account_number, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := t.tx.Exec(ctx, query,
		txn.ID, txn.BatchID, txn.AccountID, txn.SourceRow,
		txn.ExternalAccountCode, txn.PayerName, txn.RawStatus, txn.Currency, txn.PaymentMethod,
		txn.Amount, txn.TransmissionDate, txn.PaymentDate, txn.BankName, txn.AccountType,
		txn.AccountNumber, txn.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (t *pgBatchTx) UpdateBatchCounters(ctx context.Context, id uuid.UUID, succeeded, failed int) error {
	query := `UPDATE import_batches SET succeeded_rows = $2, failed_rows = $3 WHERE id = $1`

	tag, err := t.tx.Exec(ctx, query, id, succeeded, failed)
	if err != nil {
		return fmt.Errorf("failed to update batch counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (t *pgBatchTx) Savepoint(ctx context.Context, name string) error {
	if _, err := t.tx.Exec(ctx, "SAVEPOINT "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}
	return nil
}

func (t *pgBatchTx) RollbackToSavepoint(ctx context.Context, name string) error {
	if _, err := t.tx.Exec(ctx, "ROLLBACK TO SAVEPOINT "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("failed to roll back to savepoint %s: %w", name, err)
	}
	return nil
}

func (t *pgBatchTx) ReleaseSavepoint(ctx context.Context, name string) error {
	if _, err := t.tx.Exec(ctx, "RELEASE SAVEPOINT "+pgx.Identifier{name}.Sanitize()); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", name, err)
	}
	return nil
}

func findBatchByHash(ctx context.Context, q Querier, hash string) (*ImportBatch, error) {
	query := `SELECT ` + batchColumns + ` FROM import_batches WHERE content_hash = $1`

	batch, err := scanBatch(q.QueryRow(ctx, query, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch by hash: %w", err)
	}
	return batch, nil
}

func scanBatch(row pgx.Row) (*ImportBatch, error) {
	var b ImportBatch
	err := row.Scan(
		&b.ID, &b.SourceFileName, &b.ContentHash, &b.Month, &b.Year,
		&b.TotalRows, &b.SucceededRows, &b.FailedRows, &b.ImportedAt, &b.ImportedBy,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func isDuplicateContent(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == contentHashConstraint
}
