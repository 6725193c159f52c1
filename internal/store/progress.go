// Package store persists per-batch progress state and failure logs as JSON
// files on the local filesystem.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/partvault/datasheet-harvester/internal/fileutil"
	"github.com/partvault/datasheet-harvester/internal/harvest"
)

// FileProgressStore keeps one progress JSON file per batch slug. All
// mutations are funneled through a single mutex so concurrent task
// completions cannot lose updates on the whole-file rewrite.
type FileProgressStore struct {
	dir    string
	logger *zap.Logger

	mu      sync.Mutex
	batches map[string]*batchProgress
}

type batchProgress struct {
	order []int64
	state harvest.ProgressState
}

// NewFileProgressStore creates a store rooted at dir.
func NewFileProgressStore(dir string, logger *zap.Logger) (*FileProgressStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := fileutil.EnsureDir(dir); err != nil {
		return nil, err
	}
	return &FileProgressStore{
		dir:     dir,
		logger:  logger,
		batches: make(map[string]*batchProgress),
	}, nil
}

func (s *FileProgressStore) path(slug string) string {
	return filepath.Join(s.dir, fmt.Sprintf("progress_%s.json", slug))
}

// Load returns the persisted state for slug, or a zero state when no
// progress file exists yet.
func (s *FileProgressStore) Load(slug string) (harvest.ProgressState, error) {
	data, err := os.ReadFile(s.path(slug))
	if os.IsNotExist(err) {
		return harvest.ProgressState{}, nil
	}
	if err != nil {
		return harvest.ProgressState{}, fmt.Errorf("read progress %s: %w", slug, err)
	}
	var state harvest.ProgressState
	if err := json.Unmarshal(data, &state); err != nil {
		return harvest.ProgressState{}, fmt.Errorf("decode progress %s: %w", slug, err)
	}
	return state, nil
}

// Reconcile registers the batch ordering and guards stored progress against
// a structurally different batch: when the persisted total does not match
// the current item count the cursor resets to zero and the task records are
// cleared before any fetching happens.
func (s *FileProgressStore) Reconcile(
	slug string,
	state harvest.ProgressState,
	itemIDs []int64,
) (harvest.ProgressState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := len(itemIDs)
	if state.TotalTasks != total {
		if state.TotalTasks != 0 {
			s.logger.Warn("batch size changed, resetting progress",
				zap.String("slug", slug),
				zap.Int("stored_total", state.TotalTasks),
				zap.Int("current_total", total),
			)
		}
		state = harvest.ProgressState{TotalTasks: total}
		if err := s.persistLocked(slug, state); err != nil {
			return harvest.ProgressState{}, err
		}
	}

	bp := &batchProgress{
		order: append([]int64(nil), itemIDs...),
		state: state,
	}
	bp.state.LastIndex = resolvedPrefix(bp.order, bp.state.Tasks)
	s.batches[slug] = bp
	return bp.state, nil
}

// Append records one item resolution, advances the cursor to the longest
// resolved prefix, and persists the whole state synchronously so a crash
// loses at most the in-flight items.
func (s *FileProgressStore) Append(slug string, record harvest.TaskRecord) (harvest.ProgressState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bp, ok := s.batches[slug]
	if !ok {
		return harvest.ProgressState{}, fmt.Errorf("batch %s not reconciled", slug)
	}
	for _, existing := range bp.state.Tasks {
		if existing.ID == record.ID {
			return bp.state, nil
		}
	}
	bp.state.Tasks = append(bp.state.Tasks, record)
	bp.state.LastIndex = resolvedPrefix(bp.order, bp.state.Tasks)
	if err := s.persistLocked(slug, bp.state); err != nil {
		return harvest.ProgressState{}, err
	}
	return bp.state, nil
}

func (s *FileProgressStore) persistLocked(slug string, state harvest.ProgressState) error {
	payload, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress %s: %w", slug, err)
	}
	if err := fileutil.WriteFileAtomic(s.path(slug), payload); err != nil {
		return fmt.Errorf("persist progress %s: %w", slug, err)
	}
	return nil
}

// resolvedPrefix computes how many leading items of the original ordering
// already carry a task record.
func resolvedPrefix(order []int64, tasks []harvest.TaskRecord) int {
	resolved := make(map[int64]struct{}, len(tasks))
	for _, task := range tasks {
		resolved[task.ID] = struct{}{}
	}
	prefix := 0
	for _, id := range order {
		if _, ok := resolved[id]; !ok {
			break
		}
		prefix++
	}
	return prefix
}
