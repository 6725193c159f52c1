package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/partvault/datasheet-harvester/internal/fileutil"
	"github.com/partvault/datasheet-harvester/internal/harvest"
)

// FileFailureSink appends terminal failures to one JSON array per batch.
// The log file is created on first write; a clean run leaves none behind.
type FileFailureSink struct {
	dir string

	mu sync.Mutex
}

// NewFileFailureSink creates a sink rooted at dir.
func NewFileFailureSink(dir string) (*FileFailureSink, error) {
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &FileFailureSink{dir: dir}, nil
}

func (s *FileFailureSink) path(slug string) string {
	return filepath.Join(s.dir, fmt.Sprintf("failures_%s.json", slug))
}

// Record appends one failure entry. The read-modify-write cycle is guarded
// by the sink mutex so concurrent items cannot drop each other's entries.
func (s *FileFailureSink) Record(slug string, record harvest.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(slug)
	var records []harvest.FailureRecord
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return fmt.Errorf("read failure log %s: %w", slug, err)
	default:
		if err := json.Unmarshal(data, &records); err != nil {
			return fmt.Errorf("decode failure log %s: %w", slug, err)
		}
	}

	records = append(records, record)
	payload, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal failure log %s: %w", slug, err)
	}
	if err := fileutil.WriteFileAtomic(path, payload); err != nil {
		return fmt.Errorf("persist failure log %s: %w", slug, err)
	}
	return nil
}

// Failures loads the recorded entries for slug; an absent log yields nil.
func (s *FileFailureSink) Failures(slug string) ([]harvest.FailureRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(slug))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read failure log %s: %w", slug, err)
	}
	var records []harvest.FailureRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode failure log %s: %w", slug, err)
	}
	return records, nil
}
