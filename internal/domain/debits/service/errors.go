package service

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/period"
)

// DuplicateImportError is returned when the same bytes were already imported.
type DuplicateImportError struct {
	BatchID    uuid.UUID `json:"batch_id"`
	FileName   string    `json:"file_name"`
	ImportedAt time.Time `json:"imported_at"`
}

func (e *DuplicateImportError) Error() string {
	if e.BatchID == uuid.Nil {
		return "file was already imported"
	}
	return fmt.Sprintf("file was already imported as %q on %s (batch %s)",
		e.FileName, e.ImportedAt.Format(time.RFC3339), e.BatchID)
}

// NoValidDatesError is returned when no row has a parseable transmission date.
type NoValidDatesError struct {
	FileName string
}

func (e *NoValidDatesError) Error() string {
	return fmt.Sprintf("%s: cannot infer billing period: %v", e.FileName, period.ErrNoValidDates)
}

func (e *NoValidDatesError) Unwrap() error { return period.ErrNoValidDates }

// ReconciliationError wraps a failure of the reconciliation procedure. The
// whole batch is rolled back when it occurs.
type ReconciliationError struct {
	BatchID uuid.UUID
	Err     error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation failed for batch %s: %v", e.BatchID, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// RowFailure describes a row that was not loaded. It is reported, never persisted.
type RowFailure struct {
	SourceRow           int    `json:"source_row"`
	ExternalAccountCode string `json:"external_account_code"`
	Reason              string `json:"reason"`
}
