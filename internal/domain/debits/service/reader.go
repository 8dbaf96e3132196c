package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/google/uuid"

	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// ListBatches returns batch headers, newest first, with the total count
// matching the filter.
func (s *ImportService) ListBatches(ctx context.Context, filter repository.BatchFilter) ([]*repository.BatchSummary, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	batches, total, err := s.repo.ListBatches(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list batches: %w", err)
	}
	return batches, total, nil
}

// GetBatchDetail returns a batch with its transactions and the statuses the
// reconciliation derived from it. Unknown ids return repository.ErrBatchNotFound.
func (s *ImportService) GetBatchDetail(ctx context.Context, batchID uuid.UUID) (*repository.BatchDetail, error) {
	detail, err := s.repo.GetBatchDetail(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get batch detail: %w", err)
	}
	return detail, nil
}

type transactionRecord struct {
	SourceRow           int    `csv:"source_row"`
	ExternalAccountCode string `csv:"account_code"`
	AccountName         string `csv:"account_name"`
	NationalID          string `csv:"national_id"`
	PayerName           string `csv:"payer_name"`
	RawStatus           string `csv:"status"`
	Currency            string `csv:"currency"`
	Amount              string `csv:"amount"`
	TransmissionDate    string `csv:"transmission_date"`
	PaymentDate         string `csv:"payment_date"`
	PaymentMethod       string `csv:"payment_method"`
	BankName            string `csv:"bank"`
	AccountType         string `csv:"account_type"`
	AccountNumber       string `csv:"account_number"`
	Notes               string `csv:"notes"`
}

// ExportTransactionsCSV writes the transactions of a batch to w as CSV.
func (s *ImportService) ExportTransactionsCSV(ctx context.Context, batchID uuid.UUID, w io.Writer) error {
	if _, err := s.repo.GetBatch(ctx, batchID); err != nil {
		return fmt.Errorf("failed to get batch: %w", err)
	}

	transactions, err := s.repo.ListTransactions(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to list transactions: %w", err)
	}

	records := make([]*transactionRecord, 0, len(transactions))
	for _, t := range transactions {
		records = append(records, &transactionRecord{
			SourceRow:           t.SourceRow,
			ExternalAccountCode: t.ExternalAccountCode,
			AccountName:         t.AccountName,
			NationalID:          t.NationalID,
			PayerName:           t.PayerName,
			RawStatus:           t.RawStatus,
			Currency:            t.Currency,
			Amount:              t.Amount.StringFixed(2),
			TransmissionDate:    formatDate(t.TransmissionDate),
			PaymentDate:         formatDate(t.PaymentDate),
			PaymentMethod:       t.PaymentMethod,
			BankName:            t.BankName,
			AccountType:         t.AccountType,
			AccountNumber:       t.AccountNumber,
			Notes:               t.Notes,
		})
	}

	if err := gocsv.Marshal(records, w); err != nil {
		return fmt.Errorf("failed to write transactions csv: %w", err)
	}
	return nil
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
