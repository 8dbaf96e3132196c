package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	incomingDir  = "incoming"
	processedDir = "processed"
	failedDir    = "failed"
)

// LocalInbox implements Inbox on the local filesystem. Files are dropped in
// <base>/incoming and moved to <base>/processed or <base>/failed.
type LocalInbox struct {
	basePath string
	now      func() time.Time
}

// NewLocalInbox creates the inbox directories under basePath
func NewLocalInbox(basePath string) (*LocalInbox, error) {
	for _, dir := range []string{incomingDir, processedDir, failedDir} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			return nil, fmt.Errorf("failed to create inbox directory: %w", err)
		}
	}
	return &LocalInbox{basePath: basePath, now: time.Now}, nil
}

// List returns the .xlsx and .xls files in the incoming directory
func (s *LocalInbox) List(ctx context.Context) ([]*FileInfo, error) {
	entries, err := os.ReadDir(filepath.Join(s.basePath, incomingDir))
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox: %w", err)
	}

	files := make([]*FileInfo, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !isWorkbook(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, &FileInfo{
			Name:       entry.Name(),
			Size:       info.Size(),
			ModifiedAt: info.ModTime(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].ModifiedAt.Equal(files[j].ModifiedAt) {
			return files[i].Name < files[j].Name
		}
		return files[i].ModifiedAt.Before(files[j].ModifiedAt)
	})
	return files, nil
}

// Read returns the content of a waiting workbook
func (s *LocalInbox) Read(ctx context.Context, name string) ([]byte, error) {
	path, err := s.incomingPath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return nil, fmt.Errorf("failed to read inbox file: %w", err)
	}
	return data, nil
}

// MarkProcessed moves the file to the processed directory
func (s *LocalInbox) MarkProcessed(ctx context.Context, name string, outcome *Outcome) error {
	return s.move(name, processedDir, outcome)
}

// MarkFailed moves the file to the failed directory
func (s *LocalInbox) MarkFailed(ctx context.Context, name string, outcome *Outcome) error {
	return s.move(name, failedDir, outcome)
}

func (s *LocalInbox) move(name, dir string, outcome *Outcome) error {
	src, err := s.incomingPath(name)
	if err != nil {
		return err
	}

	// Stamp the destination so re-dropped files never overwrite earlier runs.
	stored := fmt.Sprintf("%s_%s", s.now().UTC().Format("20060102T150405"), name)
	dst := filepath.Join(s.basePath, dir, stored)

	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, name)
		}
		return fmt.Errorf("failed to move inbox file: %w", err)
	}

	if outcome == nil {
		return nil
	}
	if outcome.File == "" {
		outcome.File = name
	}
	if outcome.ProcessedAt.IsZero() {
		outcome.ProcessedAt = s.now().UTC()
	}

	data, err := json.MarshalIndent(outcome, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal outcome: %w", err)
	}
	if err := os.WriteFile(dst+".json", data, 0644); err != nil {
		return fmt.Errorf("failed to write outcome: %w", err)
	}
	return nil
}

// incomingPath rejects names that would escape the incoming directory.
func (s *LocalInbox) incomingPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid inbox file name %q", name)
	}
	return filepath.Join(s.basePath, incomingDir, name), nil
}

func isWorkbook(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xls":
		return !strings.HasPrefix(name, "~$") && !strings.HasPrefix(name, ".")
	}
	return false
}
