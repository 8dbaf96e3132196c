package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/normalizer"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/parser"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/period"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/repository"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/repository/memstore"
)

func buildWorkbook(t *testing.T, rows [][]any) []byte {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &rows[i]))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func marchWorkbook(t *testing.T) []byte {
	return buildWorkbook(t, [][]any{
		{"Estado", "Cod.Tercer", "Fecha Tra", "Valor", "Banco"},
		{"PROCESADO", "00123", "15/03/2024", 25.5, "Banco Pichincha"},
		{"RECHAZADO", "00456", "16/03/2024", 12.5, "Banco Guayaquil"},
		{"PROCESADO", "99999", "17/03/2024", 30, "Banco Pichincha"},
	})
}

type fixture struct {
	store   *memstore.Store
	service *ImportService
	metrics *Metrics
	ana     uuid.UUID
	luis    uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := memstore.New()
	ana, luis := uuid.New(), uuid.New()
	store.AddAccount(memstore.Account{ID: ana, FullName: "Ana Torres", NationalID: "1712345678", AgreementNumber: "00123", Eligible: true})
	store.AddAccount(memstore.Account{ID: luis, FullName: "Luis Vera", NationalID: "0912345678", AgreementNumber: "00456", Eligible: true})

	p := parser.NewWorkbookParser(normalizer.NewHeaderNormalizer(normalizer.DefaultSynonyms()), parser.DefaultConfig())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := NewMetrics(prometheus.NewRegistry())

	svc := NewImportService(store, p, store, store, logger).WithMetrics(metrics)
	return &fixture{store: store, service: svc, metrics: metrics, ana: ana, luis: luis}
}

func TestImportBatch_EndToEnd(t *testing.T) {
	f := newFixture(t)
	actor := uuid.New()

	result, err := f.service.ImportBatch(context.Background(), marchWorkbook(t), "marzo.xlsx", actor)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Batch.TotalRows)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, period.Period{Month: 3, Year: 2024}, result.Period)
	assert.Equal(t, actor, result.Batch.ImportedBy)
	assert.Equal(t, int64(3800), result.TotalCollected.Amount())

	require.Len(t, result.RowFailures, 1)
	assert.Equal(t, RowFailure{SourceRow: 4, ExternalAccountCode: "99999", Reason: "account not found or not eligible"}, result.RowFailures[0])

	require.NotNil(t, result.Reconciliation)
	assert.Equal(t, 2, result.Reconciliation.TotalProcessed)
	assert.Equal(t, 1, result.Reconciliation.PayersMarkedPaid)
	assert.Equal(t, 1, result.Reconciliation.PayersMarkedUnpaid)

	batches := f.store.Batches()
	require.Len(t, batches, 1)
	assert.Equal(t, 3, batches[0].TotalRows)
	assert.Equal(t, batches[0].TotalRows, batches[0].SucceededRows+batches[0].FailedRows)
	assert.Equal(t, 3, batches[0].Month)
	assert.Equal(t, 2024, batches[0].Year)

	txns := f.store.Transactions()
	require.Len(t, txns, 2)
	assert.Equal(t, f.ana, txns[0].AccountID)
	assert.Equal(t, "PROCESADO", txns[0].RawStatus)
	assert.Equal(t, 2, txns[0].SourceRow)
	assert.Equal(t, f.luis, txns[1].AccountID)
	assert.Equal(t, "RECHAZADO", txns[1].RawStatus)
}

func TestImportBatch_BankCurrencySpelling(t *testing.T) {
	f := newFixture(t)
	data := buildWorkbook(t, [][]any{
		{"Estado", "Cod.Tercer", "Fecha Tra", "Valor", "Moneda"},
		{"PROCESADO", "00123", "15/03/2024", 25.5, "DOLAR"},
		{"PROCESADO", "00456", "16/03/2024", 12.5, "Dolares"},
	})

	result, err := f.service.ImportBatch(context.Background(), data, "marzo.xlsx", uuid.New())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, "USD", result.TotalCollected.Currency())
	assert.Equal(t, int64(3800), result.TotalCollected.Amount())
	for _, txn := range f.store.Transactions() {
		assert.Equal(t, "USD", txn.Currency)
	}
}

func TestImportBatch_DuplicateRejected(t *testing.T) {
	f := newFixture(t)
	data := marchWorkbook(t)

	first, err := f.service.ImportBatch(context.Background(), data, "marzo.xlsx", uuid.New())
	require.NoError(t, err)

	_, err = f.service.ImportBatch(context.Background(), data, "marzo-copia.xlsx", uuid.New())
	var dup *DuplicateImportError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, first.Batch.ID, dup.BatchID)
	assert.Equal(t, "marzo.xlsx", dup.FileName)
	assert.Equal(t, first.Batch.ImportedAt, dup.ImportedAt)

	assert.Len(t, f.store.Batches(), 1)
	assert.Len(t, f.store.Transactions(), 2)
}

func TestImportBatch_RowIsolation(t *testing.T) {
	f := newFixture(t)
	f.store.InsertErr = func(txn *repository.Transaction) error {
		if txn.SourceRow == 3 {
			return errors.New("value too long for column bank_name")
		}
		return nil
	}

	result, err := f.service.ImportBatch(context.Background(), marchWorkbook(t), "marzo.xlsx", uuid.New())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.RowFailures, 2)
	assert.Equal(t, 3, result.RowFailures[0].SourceRow)
	assert.Equal(t, "row could not be stored", result.RowFailures[0].Reason)
	assert.NotContains(t, result.RowFailures[0].Reason, "bank_name")
	assert.Equal(t, 4, result.RowFailures[1].SourceRow)

	txns := f.store.Transactions()
	require.Len(t, txns, 1)
	assert.Equal(t, 2, txns[0].SourceRow)
}

func TestImportBatch_ReconciliationFailureRollsBackEverything(t *testing.T) {
	f := newFixture(t)
	data := marchWorkbook(t)
	f.store.ReconcileErr = errors.New("deadlock detected")

	_, err := f.service.ImportBatch(context.Background(), data, "marzo.xlsx", uuid.New())
	var recErr *ReconciliationError
	require.True(t, errors.As(err, &recErr))
	assert.Contains(t, err.Error(), "deadlock detected")

	assert.Empty(t, f.store.Batches())
	assert.Empty(t, f.store.Transactions())

	f.store.ReconcileErr = nil
	result, err := f.service.ImportBatch(context.Background(), data, "marzo.xlsx", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Succeeded)
	assert.Len(t, f.store.Batches(), 1)
}

func TestImportBatch_SavepointFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.store.SavepointErr = errors.New("connection reset")

	_, err := f.service.ImportBatch(context.Background(), marchWorkbook(t), "marzo.xlsx", uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, f.store.Batches())
}

func TestImportBatch_PreTransactionErrors(t *testing.T) {
	tests := []struct {
		name  string
		data  func(t *testing.T) []byte
		check func(t *testing.T, err error)
	}{
		{
			name: "no valid dates",
			data: func(t *testing.T) []byte {
				return buildWorkbook(t, [][]any{
					{"Estado", "Cod.Tercer", "Fecha Tra"},
					{"PROCESADO", "00123", "pendiente"},
					{"PROCESADO", "00456", ""},
				})
			},
			check: func(t *testing.T, err error) {
				var dates *NoValidDatesError
				assert.True(t, errors.As(err, &dates))
				assert.ErrorIs(t, err, period.ErrNoValidDates)
			},
		},
		{
			name: "missing columns",
			data: func(t *testing.T) []byte {
				return buildWorkbook(t, [][]any{
					{"Estado", "Valor"},
					{"PROCESADO", 10},
				})
			},
			check: func(t *testing.T, err error) {
				var schema *normalizer.SchemaError
				assert.True(t, errors.As(err, &schema))
			},
		},
		{
			name: "not a workbook",
			data: func(t *testing.T) []byte { return []byte("hello") },
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, parser.ErrUnreadableWorkbook)
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.service.ImportBatch(context.Background(), tc.data(t), "x.xlsx", uuid.New())
			require.Error(t, err)
			tc.check(t, err)
			assert.Empty(t, f.store.Batches())
		})
	}
}

func TestImportBatch_UndatedRowStillLoaded(t *testing.T) {
	f := newFixture(t)
	data := buildWorkbook(t, [][]any{
		{"Estado", "Cod.Tercer", "Fecha Tra", "Valor"},
		{"PROCESADO", "00123", "sin fecha", 10},
		{"PROCESADO", "00456", "01/04/2024", 10},
	})

	result, err := f.service.ImportBatch(context.Background(), data, "abril.xlsx", uuid.New())
	require.NoError(t, err)
	assert.Equal(t, period.Period{Month: 4, Year: 2024}, result.Period)
	assert.Equal(t, 2, result.Succeeded)

	txns := f.store.Transactions()
	require.Len(t, txns, 2)
	assert.Nil(t, txns[0].TransmissionDate)
}

// racingRepo hides the winning batch from the pre-check, as if a concurrent
// import committed between the pre-check and the transaction.
type racingRepo struct {
	*memstore.Store
	hidden bool
}

func (r *racingRepo) FindBatchByHash(ctx context.Context, hash string) (*repository.ImportBatch, error) {
	if !r.hidden {
		r.hidden = true
		return nil, nil
	}
	return r.Store.FindBatchByHash(ctx, hash)
}

// conflictRepo fails every commit with a content hash violation.
type conflictRepo struct {
	*memstore.Store
	winner *repository.ImportBatch
	calls  int
}

func (r *conflictRepo) FindBatchByHash(_ context.Context, _ string) (*repository.ImportBatch, error) {
	r.calls++
	if r.calls == 1 {
		return nil, nil
	}
	return r.winner, nil
}

func (r *conflictRepo) WithTx(_ context.Context, _ func(tx repository.BatchTx) error) error {
	return fmt.Errorf("failed to commit batch: %w", repository.ErrDuplicateContent)
}

func TestImportBatch_DuplicateRace(t *testing.T) {
	p := parser.NewWorkbookParser(normalizer.NewHeaderNormalizer(normalizer.DefaultSynonyms()), parser.DefaultConfig())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("detected inside the transaction", func(t *testing.T) {
		f := newFixture(t)
		data := marchWorkbook(t)
		first, err := f.service.ImportBatch(context.Background(), data, "marzo.xlsx", uuid.New())
		require.NoError(t, err)

		repo := &racingRepo{Store: f.store}
		svc := NewImportService(repo, p, f.store, f.store, logger)

		_, err = svc.ImportBatch(context.Background(), data, "marzo.xlsx", uuid.New())
		var dup *DuplicateImportError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, first.Batch.ID, dup.BatchID)
		assert.Len(t, f.store.Batches(), 1)
	})

	t.Run("unique violation at commit", func(t *testing.T) {
		store := memstore.New()
		winner := &repository.ImportBatch{ID: uuid.New(), SourceFileName: "otro.xlsx"}
		repo := &conflictRepo{Store: store, winner: winner}
		svc := NewImportService(repo, p, store, store, logger)

		_, err := svc.ImportBatch(context.Background(), marchWorkbook(t), "marzo.xlsx", uuid.New())
		var dup *DuplicateImportError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, winner.ID, dup.BatchID)
		assert.Equal(t, "otro.xlsx", dup.FileName)
	})
}

func TestImportBatch_Metrics(t *testing.T) {
	f := newFixture(t)
	data := marchWorkbook(t)

	_, err := f.service.ImportBatch(context.Background(), data, "marzo.xlsx", uuid.New())
	require.NoError(t, err)
	_, err = f.service.ImportBatch(context.Background(), data, "marzo.xlsx", uuid.New())
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Imports.WithLabelValues(OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Imports.WithLabelValues(OutcomeDuplicate)))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.Rows.WithLabelValues("loaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rows.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(f.metrics.Duration))
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	data := marchWorkbook(t)

	preview, err := f.service.Preview(context.Background(), data, "marzo.xlsx")
	require.NoError(t, err)
	assert.Equal(t, 3, preview.RowCount)
	assert.Equal(t, period.Period{Month: 3, Year: 2024}, preview.Period)
	assert.Nil(t, preview.Duplicate)
	assert.Contains(t, preview.Headers, normalizer.FieldAccountCode)
	assert.Empty(t, f.store.Batches())

	imported, err := f.service.ImportBatch(context.Background(), data, "marzo.xlsx", uuid.New())
	require.NoError(t, err)

	preview, err = f.service.Preview(context.Background(), data, "marzo.xlsx")
	require.NoError(t, err)
	require.NotNil(t, preview.Duplicate)
	assert.Equal(t, imported.Batch.ID, preview.Duplicate.BatchID)
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, OutcomeSuccess},
		{&DuplicateImportError{}, OutcomeDuplicate},
		{fmt.Errorf("failed to parse: %w", &normalizer.SchemaError{Reason: "x"}), OutcomeSchema},
		{fmt.Errorf("x: %w", parser.ErrUnreadableWorkbook), OutcomeUnreadable},
		{&NoValidDatesError{FileName: "x"}, OutcomeNoDates},
		{&ReconciliationError{Err: errors.New("x")}, OutcomeReconciliation},
		{errors.New("boom"), OutcomeError},
	}

	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, outcomeOf(tc.err))
		})
	}
}

func TestDuplicateImportError_Message(t *testing.T) {
	err := &DuplicateImportError{FileName: "marzo.xlsx", BatchID: uuid.New()}
	assert.True(t, strings.HasPrefix(err.Error(), `file was already imported as "marzo.xlsx"`))
	assert.Equal(t, "file was already imported", (&DuplicateImportError{}).Error())
}

func TestExportTransactionsCSV(t *testing.T) {
	f := newFixture(t)
	result, err := f.service.ImportBatch(context.Background(), marchWorkbook(t), "marzo.xlsx", uuid.New())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.service.ExportTransactionsCSV(context.Background(), result.Batch.ID, &buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "source_row,account_code,account_name,national_id"))
	assert.True(t, strings.HasPrefix(lines[1], "2,00123,Ana Torres,1712345678"))
	assert.Contains(t, lines[1], "25.50")
	assert.Contains(t, lines[1], "2024-03-15")

	err = f.service.ExportTransactionsCSV(context.Background(), uuid.New(), &buf)
	assert.ErrorIs(t, err, repository.ErrBatchNotFound)
}
