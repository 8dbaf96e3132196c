// Package repository provides persistence for debit import batches and the
// transactions loaded from them.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

var (
	// ErrDuplicateContent is returned when a batch with the same content hash exists.
	ErrDuplicateContent = errors.New("batch with this content hash already exists")
	// ErrBatchNotFound is returned when a batch id does not exist.
	ErrBatchNotFound = errors.New("batch not found")
	// ErrAccountNotFound is returned when no eligible account matches a code.
	ErrAccountNotFound = errors.New("account not found or not eligible")
	// ErrAccountAmbiguous is returned when more than one eligible account matches a code.
	ErrAccountAmbiguous = errors.New("account code matches more than one eligible account")
)

// Querier is the part of pgx shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a Querier that can open transactions, such as *pgxpool.Pool.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ImportBatch is the header of one imported spreadsheet.
type ImportBatch struct {
	ID             uuid.UUID `json:"id"`
	SourceFileName string    `json:"source_file_name"`
	ContentHash    string    `json:"content_hash"`
	Month          int       `json:"month"`
	Year           int       `json:"year"`
	TotalRows      int       `json:"total_rows"`
	SucceededRows  int       `json:"succeeded_rows"`
	FailedRows     int       `json:"failed_rows"`
	ImportedAt     time.Time `json:"imported_at"`
	ImportedBy     uuid.UUID `json:"imported_by"`
}

// Transaction is one debit collection result tied to a resolved account.
type Transaction struct {
	ID                  uuid.UUID       `json:"id"`
	BatchID             uuid.UUID       `json:"batch_id"`
	AccountID           uuid.UUID       `json:"account_id"`
	SourceRow           int             `json:"source_row"`
	ExternalAccountCode string          `json:"external_account_code"`
	PayerName           string          `json:"payer_name"`
	RawStatus           string          `json:"raw_status"`
	Currency            string          `json:"currency"`
	PaymentMethod       string          `json:"payment_method"`
	Amount              decimal.Decimal `json:"amount"`
	TransmissionDate    *time.Time      `json:"transmission_date"`
	PaymentDate         *time.Time      `json:"payment_date"`
	BankName            string          `json:"bank_name"`
	AccountType         string          `json:"account_type"`
	AccountNumber       string          `json:"account_number"`
	Notes               string          `json:"notes"`
}

// ReconciliationSummary is what the reconciliation procedure reports for a batch.
type ReconciliationSummary struct {
	TotalProcessed     int `json:"total_processed"`
	PayersMarkedPaid   int `json:"payers_marked_paid"`
	PayersMarkedUnpaid int `json:"payers_marked_unpaid"`
	DependentsUpdated  int `json:"dependents_updated"`
	Errors             int `json:"errors"`
}

// BatchFilter narrows a batch listing.
type BatchFilter struct {
	Month  *int
	Year   *int
	Limit  int
	Offset int
}

// BatchSummary is a batch header with aggregates over its transactions.
type BatchSummary struct {
	ImportBatch
	TransactionCount int             `json:"transaction_count"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
}

// TransactionView is a stored transaction with the registry data of its payer.
type TransactionView struct {
	Transaction
	AccountName     string `json:"account_name"`
	NationalID      string `json:"national_id"`
	AgreementNumber string `json:"agreement_number"`
}

// ContributionStatus is a monthly status row the reconciliation derived from a batch.
type ContributionStatus struct {
	AccountID   uuid.UUID `json:"account_id"`
	AccountName string    `json:"account_name"`
	AccountKind string    `json:"account_kind"`
	Month       int       `json:"month"`
	Year        int       `json:"year"`
	Status      string    `json:"status"`
	IsHead      bool      `json:"is_head"`
}

// BatchDetail is a batch with everything recorded for it.
type BatchDetail struct {
	Batch        *ImportBatch          `json:"batch"`
	Transactions []*TransactionView    `json:"transactions"`
	Statuses     []*ContributionStatus `json:"statuses"`
}

// BatchRepository stores import batches.
type BatchRepository interface {
	// FindBatchByHash returns nil when no batch has the hash.
	FindBatchByHash(ctx context.Context, hash string) (*ImportBatch, error)
	// WithTx runs fn in a transaction, committing when fn returns nil.
	WithTx(ctx context.Context, fn func(tx BatchTx) error) error
	ListBatches(ctx context.Context, filter BatchFilter) ([]*BatchSummary, int, error)
	// GetBatch returns ErrBatchNotFound for unknown ids.
	GetBatch(ctx context.Context, id uuid.UUID) (*ImportBatch, error)
	GetBatchDetail(ctx context.Context, id uuid.UUID) (*BatchDetail, error)
	ListTransactions(ctx context.Context, batchID uuid.UUID) ([]*TransactionView, error)
}

// BatchTx is the write side of a batch import, scoped to one transaction.
type BatchTx interface {
	// Querier exposes the transaction to collaborators that must run inside it.
	Querier() Querier
	FindBatchByHash(ctx context.Context, hash string) (*ImportBatch, error)
	CreateBatch(ctx context.Context, batch *ImportBatch) error
	InsertTransaction(ctx context.Context, t *Transaction) error
	UpdateBatchCounters(ctx context.Context, id uuid.UUID, succeeded, failed int) error

	Savepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error
	ReleaseSavepoint(ctx context.Context, name string) error
}
