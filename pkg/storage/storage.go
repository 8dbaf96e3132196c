// Package storage manages the drop directory swept for debit workbooks.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrFileNotFound is returned when a named file is not waiting in the inbox.
var ErrFileNotFound = errors.New("file not found in inbox")

// FileInfo describes a workbook waiting to be imported
type FileInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Outcome status values written to sidecars.
const (
	StatusImported  = "imported"
	StatusDuplicate = "duplicate"
	StatusFailed    = "failed"
)

// Outcome is the sidecar written next to a file once it leaves the inbox.
type Outcome struct {
	File        string     `json:"file"`
	Status      string     `json:"status"`
	BatchID     *uuid.UUID `json:"batch_id,omitempty"`
	Succeeded   int        `json:"succeeded,omitempty"`
	Failed      int        `json:"failed,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	ProcessedAt time.Time  `json:"processed_at"`
}

// Inbox is a queue of workbook files.
type Inbox interface {
	// List returns the workbooks waiting in the inbox, oldest first
	List(ctx context.Context) ([]*FileInfo, error)

	// Read returns the content of a waiting workbook
	Read(ctx context.Context, name string) ([]byte, error)

	// MarkProcessed moves a workbook out of the inbox and records its outcome
	MarkProcessed(ctx context.Context, name string, outcome *Outcome) error

	// MarkFailed moves a workbook to the failed area and records why
	MarkFailed(ctx context.Context, name string, outcome *Outcome) error
}
