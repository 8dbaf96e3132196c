// Package cron provides scheduled background jobs using robfig/cron.
package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/FACorreiaa/benefactor-dues/internal/domain/debits/service"
	"github.com/FACorreiaa/benefactor-dues/pkg/storage"
)

// Importer loads one workbook as a debit batch.
type Importer interface {
	ImportBatch(ctx context.Context, data []byte, fileName string, actorID uuid.UUID) (*service.ImportResult, error)
}

// SweepResult counts what one inbox sweep did.
type SweepResult struct {
	Imported   int
	Duplicates int
	Failed     int
}

// Scheduler manages background scheduled jobs using robfig/cron.
type Scheduler struct {
	cron     *cron.Cron
	inbox    storage.Inbox
	importer Importer
	actorID  uuid.UUID
	schedule string
	timeout  time.Duration
	logger   *slog.Logger

	// a slow sweep must not overlap the next tick
	mu sync.Mutex
}

// NewScheduler creates a scheduler that sweeps inbox on the given cron
// schedule, importing every waiting workbook as actorID.
func NewScheduler(inbox storage.Inbox, importer Importer, actorID uuid.UUID, schedule string, logger *slog.Logger) *Scheduler {
	// Create cron with seconds disabled (standard 5-field format)
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))

	return &Scheduler{
		cron:     c,
		inbox:    inbox,
		importer: importer,
		actorID:  actorID,
		schedule: schedule,
		timeout:  30 * time.Minute,
		logger:   logger,
	}
}

// Start begins scheduled jobs.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		return fmt.Errorf("failed to schedule inbox sweep %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info("cron scheduler started",
		slog.String("schedule", s.schedule),
		slog.Int("jobs", len(s.cron.Entries())),
	)
	return nil
}

// Stop gracefully stops all scheduled jobs.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("cron scheduler stopping")
	return s.cron.Stop()
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("inbox sweep failed", slog.Any("error", err))
	}
}

// Sweep imports every workbook waiting in the inbox, one at a time. Files
// already imported are moved out as duplicates. Files that fail are moved to
// the failed area with the reason.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result SweepResult

	files, err := s.inbox.List(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to list inbox: %w", err)
	}
	if len(files) == 0 {
		s.logger.Debug("inbox empty")
		return result, nil
	}

	s.logger.Info("starting inbox sweep", slog.Int("files", len(files)))

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		status, err := s.processFile(ctx, f.Name)
		if err != nil {
			s.logger.Error("failed to move inbox file",
				slog.String("file", f.Name),
				slog.Any("error", err),
			)
		}
		switch status {
		case storage.StatusImported:
			result.Imported++
		case storage.StatusDuplicate:
			result.Duplicates++
		default:
			result.Failed++
		}
	}

	s.logger.Info("inbox sweep completed",
		slog.Int("imported", result.Imported),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("failed", result.Failed),
	)
	return result, nil
}

// processFile imports one file and moves it out of the inbox. The returned
// status is the outcome of the import; the error is about moving the file.
func (s *Scheduler) processFile(ctx context.Context, name string) (string, error) {
	data, err := s.inbox.Read(ctx, name)
	if err != nil {
		s.logger.Warn("could not read inbox file", slog.String("file", name), slog.Any("error", err))
		return storage.StatusFailed, s.inbox.MarkFailed(ctx, name, &storage.Outcome{
			Status: storage.StatusFailed,
			Reason: err.Error(),
		})
	}

	result, err := s.importer.ImportBatch(ctx, data, name, s.actorID)
	if err == nil {
		id := result.Batch.ID
		s.logger.Info("inbox file imported",
			slog.String("file", name),
			slog.String("batch_id", id.String()),
			slog.Int("succeeded", result.Succeeded),
			slog.Int("failed", result.Failed),
		)
		return storage.StatusImported, s.inbox.MarkProcessed(ctx, name, &storage.Outcome{
			Status:    storage.StatusImported,
			BatchID:   &id,
			Succeeded: result.Succeeded,
			Failed:    result.Failed,
		})
	}

	var dup *service.DuplicateImportError
	if errors.As(err, &dup) {
		s.logger.Info("inbox file already imported", slog.String("file", name), slog.String("batch_id", dup.BatchID.String()))
		outcome := &storage.Outcome{Status: storage.StatusDuplicate, Reason: dup.Error()}
		if dup.BatchID != uuid.Nil {
			id := dup.BatchID
			outcome.BatchID = &id
		}
		return storage.StatusDuplicate, s.inbox.MarkProcessed(ctx, name, outcome)
	}

	if ctx.Err() != nil {
		// leave the file for the next sweep
		return storage.StatusFailed, nil
	}

	s.logger.Warn("inbox file rejected", slog.String("file", name), slog.Any("error", err))
	return storage.StatusFailed, s.inbox.MarkFailed(ctx, name, &storage.Outcome{
		Status: storage.StatusFailed,
		Reason: err.Error(),
	})
}
