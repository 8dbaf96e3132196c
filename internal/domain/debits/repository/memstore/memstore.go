// Package memstore is an in-memory implementation of the debit batch
// repository, account resolver and reconciler, used by tests and local runs
// that have no database. Savepoints and transactions behave like their
// PostgreSQL counterparts for a single writer.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/repository"
)

// Account is a registry entry the resolver can match by agreement number.
type Account struct {
	ID              uuid.UUID
	FullName        string
	NationalID      string
	AgreementNumber string
	Eligible        bool
}

// Store holds committed batches, transactions and statuses.
type Store struct {
	mu sync.Mutex

	accounts     []Account
	batches      []*repository.ImportBatch
	transactions []*repository.Transaction
	statuses     map[uuid.UUID][]*repository.ContributionStatus

	current *memTx

	// PaidStatuses are the raw statuses the reconciler treats as collected.
	PaidStatuses []string
	// ReconcileErr, when set, makes ProcessBatch fail.
	ReconcileErr error
	// InsertErr, when set, is consulted before every transaction insert.
	InsertErr func(t *repository.Transaction) error
	// SavepointErr, when set, makes savepoint statements fail.
	SavepointErr error
	// Now stamps new batches. Defaults to time.Now.
	Now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		statuses:     make(map[uuid.UUID][]*repository.ContributionStatus),
		PaidStatuses: []string{"PROCESADO", "PAGADO", "COBRADO"},
		Now:          time.Now,
	}
}

// AddAccount registers an account in the directory.
func (s *Store) AddAccount(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	s.accounts = append(s.accounts, a)
}

// Batches returns a copy of the committed batch headers.
func (s *Store) Batches() []repository.ImportBatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.ImportBatch, len(s.batches))
	for i, b := range s.batches {
		out[i] = *b
	}
	return out
}

// Transactions returns a copy of the committed transactions.
func (s *Store) Transactions() []repository.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.Transaction, len(s.transactions))
	for i, t := range s.transactions {
		out[i] = *t
	}
	return out
}

func (s *Store) FindBatchByHash(_ context.Context, hash string) (*repository.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findByHash(hash), nil
}

func (s *Store) findByHash(hash string) *repository.ImportBatch {
	for _, b := range s.batches {
		if b.ContentHash == hash {
			c := *b
			return &c
		}
	}
	return nil
}

// WithTx runs fn against a private copy of the pending writes and publishes
// them only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(tx repository.BatchTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, savepoints: make(map[string]int)}
	s.current = tx
	defer func() { s.current = nil }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	for _, b := range tx.batches {
		if s.findByHash(b.ContentHash) != nil {
			return fmt.Errorf("failed to commit batch: %w", repository.ErrDuplicateContent)
		}
	}

	s.batches = append(s.batches, tx.batches...)
	s.transactions = append(s.transactions, tx.transactions...)
	for id, st := range tx.statuses {
		s.statuses[id] = st
	}
	return nil
}

func (s *Store) ListBatches(_ context.Context, filter repository.BatchFilter) ([]*repository.BatchSummary, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*repository.BatchSummary
	for _, b := range s.batches {
		if filter.Month != nil && b.Month != *filter.Month {
			continue
		}
		if filter.Year != nil && b.Year != *filter.Year {
			continue
		}
		summary := &repository.BatchSummary{ImportBatch: *b, TotalAmount: decimal.Zero}
		for _, t := range s.transactions {
			if t.BatchID == b.ID {
				summary.TransactionCount++
				summary.TotalAmount = summary.TotalAmount.Add(t.Amount)
			}
		}
		matched = append(matched, summary)
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].ImportedAt.After(matched[j].ImportedAt)
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*repository.BatchSummary{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

func (s *Store) GetBatch(_ context.Context, id uuid.UUID) (*repository.ImportBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.batches {
		if b.ID == id {
			c := *b
			return &c, nil
		}
	}
	return nil, repository.ErrBatchNotFound
}

func (s *Store) GetBatchDetail(ctx context.Context, id uuid.UUID) (*repository.BatchDetail, error) {
	batch, err := s.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	transactions, err := s.ListTransactions(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return &repository.BatchDetail{
		Batch:        batch,
		Transactions: transactions,
		Statuses:     s.statuses[id],
	}, nil
}

func (s *Store) ListTransactions(_ context.Context, batchID uuid.UUID) ([]*repository.TransactionView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.TransactionView
	for _, t := range s.transactions {
		if t.BatchID != batchID {
			continue
		}
		view := &repository.TransactionView{Transaction: *t}
		if a, ok := s.account(t.AccountID); ok {
			view.AccountName = a.FullName
			view.NationalID = a.NationalID
			view.AgreementNumber = a.AgreementNumber
		}
		out = append(out, view)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SourceRow < out[j].SourceRow })
	return out, nil
}

// ResolveAccount matches code against eligible accounts. q is ignored.
func (s *Store) ResolveAccount(_ context.Context, _ repository.Querier, code string) (uuid.UUID, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return uuid.Nil, repository.ErrAccountNotFound
	}

	var found []uuid.UUID
	for _, a := range s.accounts {
		if a.Eligible && a.AgreementNumber == code {
			found = append(found, a.ID)
		}
	}
	switch len(found) {
	case 0:
		return uuid.Nil, repository.ErrAccountNotFound
	case 1:
		return found[0], nil
	default:
		return uuid.Nil, repository.ErrAccountAmbiguous
	}
}

// ProcessBatch marks every payer of the batch paid or unpaid according to
// PaidStatuses. It must run inside WithTx.
func (s *Store) ProcessBatch(_ context.Context, _ repository.Querier, batchID uuid.UUID) (*repository.ReconciliationSummary, error) {
	if s.ReconcileErr != nil {
		return nil, s.ReconcileErr
	}
	tx := s.current
	if tx == nil {
		return nil, errors.New("reconciliation must run inside a transaction")
	}

	batch := tx.batch(batchID)
	if batch == nil {
		return nil, repository.ErrBatchNotFound
	}

	summary := &repository.ReconciliationSummary{}
	var statuses []*repository.ContributionStatus
	for _, t := range tx.transactions {
		if t.BatchID != batchID {
			continue
		}
		summary.TotalProcessed++

		status := "unpaid"
		if s.isPaid(t.RawStatus) {
			status = "paid"
			summary.PayersMarkedPaid++
		} else {
			summary.PayersMarkedUnpaid++
		}

		a, _ := s.account(t.AccountID)
		statuses = append(statuses, &repository.ContributionStatus{
			AccountID:   t.AccountID,
			AccountName: a.FullName,
			AccountKind: "benefactor",
			Month:       batch.Month,
			Year:        batch.Year,
			Status:      status,
			IsHead:      true,
		})
	}

	if tx.statuses == nil {
		tx.statuses = make(map[uuid.UUID][]*repository.ContributionStatus)
	}
	tx.statuses[batchID] = statuses
	return summary, nil
}

func (s *Store) isPaid(raw string) bool {
	raw = strings.ToUpper(strings.TrimSpace(raw))
	for _, p := range s.PaidStatuses {
		if raw == p {
			return true
		}
	}
	return false
}

func (s *Store) account(id uuid.UUID) (Account, bool) {
	for _, a := range s.accounts {
		if a.ID == id {
			return a, true
		}
	}
	return Account{}, false
}

type memTx struct {
	store        *Store
	batches      []*repository.ImportBatch
	transactions []*repository.Transaction
	statuses     map[uuid.UUID][]*repository.ContributionStatus
	savepoints   map[string]int
}

func (t *memTx) Querier() repository.Querier { return nil }

func (t *memTx) FindBatchByHash(_ context.Context, hash string) (*repository.ImportBatch, error) {
	if b := t.store.findByHash(hash); b != nil {
		return b, nil
	}
	for _, b := range t.batches {
		if b.ContentHash == hash {
			c := *b
			return &c, nil
		}
	}
	return nil, nil
}

func (t *memTx) CreateBatch(ctx context.Context, batch *repository.ImportBatch) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	if b, _ := t.FindBatchByHash(ctx, batch.ContentHash); b != nil {
		return fmt.Errorf("failed to create batch: %w", repository.ErrDuplicateContent)
	}
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	batch.ImportedAt = t.store.Now().UTC()

	c := *batch
	t.batches = append(t.batches, &c)
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *repository.Transaction) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	if t.store.InsertErr != nil {
		if err := t.store.InsertErr(txn); err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
	}
	if t.batch(txn.BatchID) == nil {
		return fmt.Errorf("failed to insert transaction: %w", repository.ErrBatchNotFound)
	}
	for _, existing := range t.transactions {
		if existing.BatchID == txn.BatchID && existing.SourceRow == txn.SourceRow {
			return fmt.Errorf("failed to insert transaction: row %d already loaded", txn.SourceRow)
		}
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}

	c := *txn
	t.transactions = append(t.transactions, &c)
	return nil
}

func (t *memTx) UpdateBatchCounters(_ context.Context, id uuid.UUID, succeeded, failed int) error {
	b := t.batch(id)
	if b == nil {
		return repository.ErrBatchNotFound
	}
	b.SucceededRows = succeeded
	b.FailedRows = failed
	return nil
}

func (t *memTx) Savepoint(_ context.Context, name string) error {
	if t.store.SavepointErr != nil {
		return fmt.Errorf("failed to create savepoint %s: %w", name, t.store.SavepointErr)
	}
	t.savepoints[name] = len(t.transactions)
	return nil
}

func (t *memTx) RollbackToSavepoint(_ context.Context, name string) error {
	n, ok := t.savepoints[name]
	if !ok {
		return fmt.Errorf("savepoint %s does not exist", name)
	}
	t.transactions = t.transactions[:n]
	return nil
}

func (t *memTx) ReleaseSavepoint(_ context.Context, name string) error {
	if _, ok := t.savepoints[name]; !ok {
		return fmt.Errorf("savepoint %s does not exist", name)
	}
	delete(t.savepoints, name)
	return nil
}

func (t *memTx) batch(id uuid.UUID) *repository.ImportBatch {
	for _, b := range t.batches {
		if b.ID == id {
			return b
		}
	}
	return nil
}
