// Package service loads bank debit workbooks into import batches and hands
// each batch to the reconciliation procedure.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/parser"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/period"
	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/repository"
	"github.com/FACorreiaa/benefactor-dues/pkg/money"
)

const (
	reasonAccountNotEligible = "account not found or not eligible"
	reasonRowNotStored       = "row could not be stored"
)

// AccountResolver maps a bank account code to exactly one eligible account.
type AccountResolver interface {
	ResolveAccount(ctx context.Context, q repository.Querier, code string) (uuid.UUID, error)
}

// Reconciler settles a loaded batch. It runs on the transaction that loaded
// the batch, so a failure undoes the whole import.
type Reconciler interface {
	ProcessBatch(ctx context.Context, q repository.Querier, batchID uuid.UUID) (*repository.ReconciliationSummary, error)
}

// ImportResult is the outcome of a committed import.
type ImportResult struct {
	Batch          *repository.ImportBatch           `json:"batch"`
	Period         period.Period                     `json:"period"`
	Succeeded      int                               `json:"succeeded"`
	Failed         int                               `json:"failed"`
	RowFailures    []RowFailure                      `json:"row_failures"`
	Reconciliation *repository.ReconciliationSummary `json:"reconciliation"`
	TotalCollected *money.Money                      `json:"total_collected"`
}

// PreviewResult describes what an import of a file would do. Nothing is written.
type PreviewResult struct {
	SourceFileName string                `json:"source_file_name"`
	SheetName      string                `json:"sheet_name"`
	Format         parser.Format         `json:"format"`
	Headers        []string              `json:"headers"`
	RowCount       int                   `json:"row_count"`
	ContentHash    string                `json:"content_hash"`
	Period         period.Period         `json:"period"`
	Undated        int                   `json:"undated_rows"`
	Duplicate      *DuplicateImportError `json:"duplicate,omitempty"`
	Rows           []parser.CanonicalRow `json:"rows,omitempty"`
}

// ImportService orchestrates parsing, loading and reconciliation of debit batches
type ImportService struct {
	repo       repository.BatchRepository
	parser     *parser.WorkbookParser
	resolver   AccountResolver
	reconciler Reconciler
	metrics    *Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
}

// NewImportService creates a new import service
func NewImportService(
	repo repository.BatchRepository,
	p *parser.WorkbookParser,
	resolver AccountResolver,
	reconciler Reconciler,
	logger *slog.Logger,
) *ImportService {
	return &ImportService{
		repo:       repo,
		parser:     p,
		resolver:   resolver,
		reconciler: reconciler,
		tracer:     otel.Tracer("debits.service"),
		logger:     logger,
	}
}

// WithMetrics adds Prometheus instrumentation to the import service
func (s *ImportService) WithMetrics(m *Metrics) *ImportService {
	s.metrics = m
	return s
}

// ImportBatch parses data, rejects content that was already imported, and
// loads every row into a new batch inside one transaction. Rows whose account
// cannot be resolved are reported in the result and skipped. The batch is
// reconciled before commit.
func (s *ImportService) ImportBatch(ctx context.Context, data []byte, fileName string, actorID uuid.UUID) (result *ImportResult, err error) {
	ctx, span := s.tracer.Start(ctx, "ImportBatch", trace.WithAttributes(
		attribute.String("file.name", fileName),
		attribute.Int("file.size", len(data)),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		s.metrics.observeImport(err, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, outcomeOf(err))
		}
	}()

	parsed, p, err := s.parseAndInfer(ctx, data, fileName)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("batch.hash", parsed.ContentHash),
		attribute.String("batch.period", p.String()),
		attribute.Int("batch.rows", parsed.RowCount),
	)

	existing, err := s.repo.FindBatchByHash(ctx, parsed.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate batch: %w", err)
	}
	if existing != nil {
		return nil, duplicateOf(existing)
	}

	result = &ImportResult{Period: p, RowFailures: []RowFailure{}}
	currency := s.parser.Config().Currency
	total := money.Zero(currency)

	err = s.repo.WithTx(ctx, func(tx repository.BatchTx) error {
		existing, err := tx.FindBatchByHash(ctx, parsed.ContentHash)
		if err != nil {
			return fmt.Errorf("failed to check for duplicate batch: %w", err)
		}
		if existing != nil {
			return duplicateOf(existing)
		}

		batch := &repository.ImportBatch{
			SourceFileName: fileName,
			ContentHash:    parsed.ContentHash,
			Month:          p.Month,
			Year:           p.Year,
			TotalRows:      parsed.RowCount,
			ImportedBy:     actorID,
		}
		if err := tx.CreateBatch(ctx, batch); err != nil {
			return err
		}

		for _, row := range parsed.Rows {
			failure, err := s.loadRow(ctx, tx, batch.ID, row)
			if err != nil {
				return err
			}
			if failure != nil {
				result.RowFailures = append(result.RowFailures, *failure)
				continue
			}
			result.Succeeded++
			if row.Currency == currency {
				total = total.MustAdd(money.NewFromDecimal(row.Amount, currency))
			}
		}
		result.Failed = len(result.RowFailures)

		summary, err := s.reconciler.ProcessBatch(ctx, tx.Querier(), batch.ID)
		if err != nil {
			return &ReconciliationError{BatchID: batch.ID, Err: err}
		}
		if summary == nil {
			summary = &repository.ReconciliationSummary{}
		}

		if err := tx.UpdateBatchCounters(ctx, batch.ID, result.Succeeded, result.Failed); err != nil {
			return err
		}
		batch.SucceededRows = result.Succeeded
		batch.FailedRows = result.Failed

		result.Batch = batch
		result.Reconciliation = summary
		return nil
	})
	if errors.Is(err, repository.ErrDuplicateContent) {
		return nil, s.raceLoser(ctx, parsed.ContentHash, fileName)
	}
	if err != nil {
		s.logger.Error("debit import rolled back",
			slog.String("file", fileName),
			slog.String("hash", parsed.ContentHash),
			slog.Any("error", err),
		)
		return nil, err
	}

	result.TotalCollected = total
	s.metrics.observeRows(result.Succeeded, result.Failed)
	span.SetAttributes(attribute.String("batch.id", result.Batch.ID.String()))

	s.logger.Info("debit batch imported",
		slog.String("batch_id", result.Batch.ID.String()),
		slog.String("file", fileName),
		slog.String("period", p.String()),
		slog.Int("total", parsed.RowCount),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int("marked_paid", result.Reconciliation.PayersMarkedPaid),
		slog.Int("marked_unpaid", result.Reconciliation.PayersMarkedUnpaid),
	)
	return result, nil
}

// Preview parses data and reports the batch it would produce without writing.
func (s *ImportService) Preview(ctx context.Context, data []byte, fileName string) (*PreviewResult, error) {
	ctx, span := s.tracer.Start(ctx, "Preview")
	defer span.End()

	parsed, p, err := s.parseAndInfer(ctx, data, fileName)
	if err != nil {
		return nil, err
	}

	existing, err := s.repo.FindBatchByHash(ctx, parsed.ContentHash)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicate batch: %w", err)
	}

	undated := 0
	for _, d := range parsed.TransmissionDates() {
		if d == nil {
			undated++
		}
	}

	preview := &PreviewResult{
		SourceFileName: fileName,
		SheetName:      parsed.SheetName,
		Format:         parsed.Format,
		Headers:        parsed.Headers,
		RowCount:       parsed.RowCount,
		ContentHash:    parsed.ContentHash,
		Period:         p,
		Undated:        undated,
		Rows:           parsed.Rows,
	}
	if existing != nil {
		preview.Duplicate = duplicateOf(existing)
	}
	return preview, nil
}

func (s *ImportService) parseAndInfer(ctx context.Context, data []byte, fileName string) (*parser.ParsedWorkbook, period.Period, error) {
	_, span := s.tracer.Start(ctx, "ParseWorkbook")
	defer span.End()

	parsed, err := s.parser.Parse(data, fileName)
	if err != nil {
		return nil, period.Period{}, fmt.Errorf("failed to parse %s: %w", fileName, err)
	}

	p, err := period.Infer(parsed.TransmissionDates())
	if err != nil {
		return nil, period.Period{}, &NoValidDatesError{FileName: fileName}
	}
	return parsed, p, nil
}

// loadRow inserts one row behind its own savepoint. A row-level problem rolls
// back to the savepoint and is returned as a RowFailure; only failures of the
// savepoint statements themselves are returned as errors.
func (s *ImportService) loadRow(ctx context.Context, tx repository.BatchTx, batchID uuid.UUID, row parser.CanonicalRow) (*RowFailure, error) {
	savepoint := fmt.Sprintf("row_%d", row.SourceRow)
	if err := tx.Savepoint(ctx, savepoint); err != nil {
		return nil, err
	}

	rowErr := s.insertRow(ctx, tx, batchID, row)
	if rowErr == nil {
		if err := tx.ReleaseSavepoint(ctx, savepoint); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := tx.RollbackToSavepoint(ctx, savepoint); err != nil {
		return nil, err
	}

	failure := &RowFailure{
		SourceRow:           row.SourceRow,
		ExternalAccountCode: row.ExternalAccountCode,
		Reason:              reasonRowNotStored,
	}
	if errors.Is(rowErr, repository.ErrAccountNotFound) || errors.Is(rowErr, repository.ErrAccountAmbiguous) {
		failure.Reason = reasonAccountNotEligible
	}

	s.logger.Warn("debit row skipped",
		slog.Int("row", row.SourceRow),
		slog.String("account_code", row.ExternalAccountCode),
		slog.Any("error", rowErr),
	)
	return failure, nil
}

func (s *ImportService) insertRow(ctx context.Context, tx repository.BatchTx, batchID uuid.UUID, row parser.CanonicalRow) error {
	accountID, err := s.resolver.ResolveAccount(ctx, tx.Querier(), row.ExternalAccountCode)
	if err != nil {
		return err
	}

	return tx.InsertTransaction(ctx, &repository.Transaction{
		BatchID:             batchID,
		AccountID:           accountID,
		SourceRow:           row.SourceRow,
		ExternalAccountCode: row.ExternalAccountCode,
		PayerName:           row.PayerName,
		RawStatus:           row.RawStatus,
		Currency:            row.Currency,
		PaymentMethod:       row.PaymentMethod,
		Amount:              row.Amount,
		TransmissionDate:    row.TransmissionDate,
		PaymentDate:         row.PaymentDate,
		BankName:            row.BankName,
		AccountType:         row.AccountType,
		AccountNumber:       row.AccountNumber,
		Notes:               row.Notes,
	})
}

// raceLoser builds the duplicate error for an import that lost a concurrent
// race on the content hash.
func (s *ImportService) raceLoser(ctx context.Context, hash, fileName string) error {
	winner, err := s.repo.FindBatchByHash(ctx, hash)
	if err != nil || winner == nil {
		s.logger.Warn("duplicate batch detected but winner not found",
			slog.String("hash", hash),
			slog.Any("error", err),
		)
		return &DuplicateImportError{FileName: fileName}
	}
	return duplicateOf(winner)
}

func duplicateOf(b *repository.ImportBatch) *DuplicateImportError {
	return &DuplicateImportError{
		BatchID:    b.ID,
		FileName:   b.SourceFileName,
		ImportedAt: b.ImportedAt,
	}
}
