package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var batchColumnNames = []string{
	"id", "source_file_name", "content_hash", "month", "year",
	"total_rows", "succeeded_rows", "failed_rows", "imported_at", "imported_by",
}

func TestFindBatchByHash(t *testing.T) {
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		id, actor := uuid.New(), uuid.New()
		importedAt := time.Date(2024, 3, 20, 10, 0, 0, 0, time.UTC)

		mock.ExpectQuery(`SELECT .* FROM import_batches WHERE content_hash = \$1`).
			WithArgs("abc").
			WillReturnRows(pgxmock.NewRows(batchColumnNames).
				AddRow(id, "marzo.xlsx", "abc", 3, 2024, 10, 8, 2, importedAt, actor))

		repo := NewPostgresBatchRepository(mock)
		batch, err := repo.FindBatchByHash(ctx, "abc")
		require.NoError(t, err)
		require.NotNil(t, batch)
		assert.Equal(t, id, batch.ID)
		assert.Equal(t, "marzo.xlsx", batch.SourceFileName)
		assert.Equal(t, 10, batch.TotalRows)
		assert.Equal(t, importedAt, batch.ImportedAt)
		assert.Equal(t, actor, batch.ImportedBy)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("absent", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT .* FROM import_batches WHERE content_hash = \$1`).
			WithArgs("missing").
			WillReturnRows(pgxmock.NewRows(batchColumnNames))

		batch, err := NewPostgresBatchRepository(mock).FindBatchByHash(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, batch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithTx_CommitsRowsAndReleasesSavepoints(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	batchID, accountID, actor := uuid.New(), uuid.New(), uuid.New()
	importedAt := time.Now().UTC()
	amount := decimal.RequireFromString("25.50")
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	transmitted := &day

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO import_batches`).
		WithArgs(batchID, "marzo.xlsx", "abc", 3, 2024, 2, 0, 0, actor).
		WillReturnRows(pgxmock.NewRows([]string{"imported_at"}).AddRow(importedAt))
	mock.ExpectExec(regexp.QuoteMeta(`SAVEPOINT "row_2"`)).
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(`INSERT INTO debit_transactions`).
		WithArgs(pgxmock.AnyArg(), batchID, accountID, 2,
			"00123", "", "PROCESADO", "USD", "DEBIT",
			amount, transmitted, transmitted, "", "DEBIT",
			"", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(`RELEASE SAVEPOINT "row_2"`)).
		WillReturnResult(pgxmock.NewResult("RELEASE", 0))
	mock.ExpectExec(regexp.QuoteMeta(`SAVEPOINT "row_3"`)).
		WillReturnResult(pgxmock.NewResult("SAVEPOINT", 0))
	mock.ExpectExec(regexp.QuoteMeta(`ROLLBACK TO SAVEPOINT "row_3"`)).
		WillReturnResult(pgxmock.NewResult("ROLLBACK", 0))
	mock.ExpectExec(`UPDATE import_batches SET succeeded_rows`).
		WithArgs(batchID, 1, 1).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	repo := NewPostgresBatchRepository(mock)
	batch := &ImportBatch{
		ID: batchID, SourceFileName: "marzo.xlsx", ContentHash: "abc",
		Month: 3, Year: 2024, TotalRows: 2, ImportedBy: actor,
	}

	err = repo.WithTx(ctx, func(tx BatchTx) error {
		if err := tx.CreateBatch(ctx, batch); err != nil {
			return err
		}
		if err := tx.Savepoint(ctx, "row_2"); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, &Transaction{
			BatchID: batchID, AccountID: accountID, SourceRow: 2,
			ExternalAccountCode: "00123", RawStatus: "PROCESADO",
			Currency: "USD", PaymentMethod: "DEBIT", AccountType: "DEBIT",
			Amount: amount, TransmissionDate: transmitted, PaymentDate: transmitted,
		}); err != nil {
			return err
		}
		if err := tx.ReleaseSavepoint(ctx, "row_2"); err != nil {
			return err
		}
		if err := tx.Savepoint(ctx, "row_3"); err != nil {
			return err
		}
		if err := tx.RollbackToSavepoint(ctx, "row_3"); err != nil {
			return err
		}
		return tx.UpdateBatchCounters(ctx, batchID, 1, 1)
	})
	require.NoError(t, err)
	assert.Equal(t, importedAt, batch.ImportedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err = NewPostgresBatchRepository(mock).WithTx(ctx, func(tx BatchTx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBatch_DuplicateContent(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO import_batches`).
		WithArgs(pgxmock.AnyArg(), "", "abc", 0, 0, 0, 0, 0, uuid.Nil).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "import_batches_content_hash_key"})
	mock.ExpectRollback()

	err = NewPostgresBatchRepository(mock).WithTx(ctx, func(tx BatchTx) error {
		return tx.CreateBatch(ctx, &ImportBatch{ContentHash: "abc"})
	})
	assert.ErrorIs(t, err, ErrDuplicateContent)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateBatch_OtherUniqueViolation(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO import_batches`).
		WithArgs(pgxmock.AnyArg(), "", "abc", 0, 0, 0, 0, 0, uuid.Nil).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "import_batches_pkey"})
	mock.ExpectRollback()

	err = NewPostgresBatchRepository(mock).WithTx(ctx, func(tx BatchTx) error {
		return tx.CreateBatch(ctx, &ImportBatch{ContentHash: "abc"})
	})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateContent)
}

func TestUpdateBatchCounters_NotFound(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE import_batches`).
		WithArgs(id, 0, 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err = NewPostgresBatchRepository(mock).WithTx(ctx, func(tx BatchTx) error {
		return tx.UpdateBatchCounters(ctx, id, 0, 0)
	})
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestListBatches(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	month, year := 3, 2024
	id, actor := uuid.New(), uuid.New()
	importedAt := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM import_batches b WHERE 1=1 AND b.month = $1 AND b.year = $2`)).
		WithArgs(month, year).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(`FROM import_batches b\s+LEFT JOIN debit_transactions t`).
		WithArgs(month, year, 50, 0).
		WillReturnRows(pgxmock.NewRows(append(append([]string{}, batchColumnNames...), "count", "sum")).
			AddRow(id, "marzo.xlsx", "abc", 3, 2024, 10, 8, 2, importedAt, actor, 8, decimal.RequireFromString("204.00")))

	batches, total, err := NewPostgresBatchRepository(mock).ListBatches(ctx, BatchFilter{
		Month: &month, Year: &year, Limit: 50,
	})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, batches, 1)
	assert.Equal(t, id, batches[0].ID)
	assert.Equal(t, 8, batches[0].TransactionCount)
	assert.True(t, decimal.RequireFromString("204").Equal(batches[0].TotalAmount))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetBatchDetail_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery(`SELECT .* FROM import_batches WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(batchColumnNames))

	_, err = NewPostgresBatchRepository(mock).GetBatchDetail(context.Background(), id)
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestGetBatchDetail(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id, actor, txnID, accountID := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	importedAt := time.Now().UTC()
	sent := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .* FROM import_batches WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(batchColumnNames).
			AddRow(id, "marzo.xlsx", "abc", 3, 2024, 1, 1, 0, importedAt, actor))
	mock.ExpectQuery(`FROM debit_transactions t`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "batch_id", "benefactor_id", "source_row", "external_account_code",
			"payer_name", "raw_status", "currency", "payment_method", "amount",
			"transmission_date", "payment_date", "bank_name", "account_type",
			"account_number", "notes", "full_name", "national_id", "agreement_number",
		}).AddRow(
			txnID, id, accountID, 2, "00123",
			"Ana Torres", "PROCESADO", "USD", "DEBIT", decimal.RequireFromString("25.50"),
			&sent, &sent, "Banco Pichincha", "DEBIT",
			"2200112233", "", "Ana Torres", "1712345678", "00123",
		))
	mock.ExpectQuery(`FROM monthly_contribution_status s`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{
			"benefactor_id", "full_name", "kind", "month", "year", "status", "is_head",
		}).AddRow(accountID, "Ana Torres", "benefactor", 3, 2024, "paid", true))

	detail, err := NewPostgresBatchRepository(mock).GetBatchDetail(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, detail.Batch.ID)
	require.Len(t, detail.Transactions, 1)
	assert.Equal(t, "1712345678", detail.Transactions[0].NationalID)
	assert.Equal(t, 2, detail.Transactions[0].SourceRow)
	require.Len(t, detail.Statuses, 1)
	assert.True(t, detail.Statuses[0].IsHead)
	assert.Equal(t, "paid", detail.Statuses[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsDuplicateContent(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("x"), false},
		{"content hash violation", &pgconn.PgError{Code: "23505", ConstraintName: contentHashConstraint}, true},
		{"wrapped", errors.Join(errors.New("ctx"), &pgconn.PgError{Code: "23505", ConstraintName: contentHashConstraint}), true},
		{"other constraint", &pgconn.PgError{Code: "23505", ConstraintName: "debit_transactions_batch_id_source_row_key"}, false},
		{"other code", &pgconn.PgError{Code: "23503", ConstraintName: contentHashConstraint}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, isDuplicateContent(tc.err))
		})
	}
}
