package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/partvault/datasheet-harvester/internal/harvest"
)

func newTestStore(t *testing.T) *FileProgressStore {
	t.Helper()
	s, err := NewFileProgressStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestLoadMissingReturnsZeroState(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	state, err := s.Load("batch1")
	require.NoError(t, err)
	require.Equal(t, harvest.ProgressState{}, state)
}

func TestReconcileResetsOnTotalMismatch(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	stale := harvest.ProgressState{
		LastIndex:  2,
		TotalTasks: 2,
		Tasks: []harvest.TaskRecord{
			{ID: 1, Status: harvest.TaskStatusCompleted},
			{ID: 2, Status: harvest.TaskStatusCompleted},
		},
	}

	state, err := s.Reconcile("batch1", stale, []int64{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 0, state.LastIndex)
	require.Equal(t, 3, state.TotalTasks)
	require.Empty(t, state.Tasks)

	// Reset is persisted immediately.
	loaded, err := s.Load("batch1")
	require.NoError(t, err)
	require.Equal(t, state, loaded)
}

func TestReconcileKeepsMatchingState(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	stored := harvest.ProgressState{
		LastIndex:  1,
		TotalTasks: 3,
		Tasks:      []harvest.TaskRecord{{ID: 1, Status: harvest.TaskStatusCompleted}},
	}

	state, err := s.Reconcile("batch1", stored, []int64{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, 1, state.LastIndex)
	require.Len(t, state.Tasks, 1)
}

func TestAppendAdvancesLongestResolvedPrefix(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.Reconcile("batch1", harvest.ProgressState{}, []int64{10, 20, 30})
	require.NoError(t, err)

	// A later item resolving first must not advance the cursor past the
	// unresolved earlier one.
	state, err := s.Append("batch1", harvest.TaskRecord{ID: 30, URL: "http://x/3", Status: harvest.TaskStatusCompleted})
	require.NoError(t, err)
	require.Equal(t, 0, state.LastIndex)
	require.Len(t, state.Tasks, 1)

	state, err = s.Append("batch1", harvest.TaskRecord{ID: 10, URL: "http://x/1", Status: harvest.TaskStatusCompleted})
	require.NoError(t, err)
	require.Equal(t, 1, state.LastIndex)

	state, err = s.Append("batch1", harvest.TaskRecord{ID: 20, URL: "http://x/2", Status: harvest.TaskStatusFailed, Reason: "404 Not Found"})
	require.NoError(t, err)
	require.Equal(t, 3, state.LastIndex)
	require.True(t, state.Settled())
}

func TestAppendIgnoresDuplicateResolution(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.Reconcile("batch1", harvest.ProgressState{}, []int64{1})
	require.NoError(t, err)

	_, err = s.Append("batch1", harvest.TaskRecord{ID: 1, Status: harvest.TaskStatusCompleted})
	require.NoError(t, err)
	state, err := s.Append("batch1", harvest.TaskRecord{ID: 1, Status: harvest.TaskStatusFailed})
	require.NoError(t, err)
	require.Len(t, state.Tasks, 1)
	require.Equal(t, harvest.TaskStatusCompleted, state.Tasks[0].Status)
}

func TestAppendWithoutReconcileFails(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.Append("unknown", harvest.TaskRecord{ID: 1})
	require.Error(t, err)
}

func TestConcurrentAppendsLoseNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s, err := NewFileProgressStore(dir, zap.NewNop())
	require.NoError(t, err)

	const n = 32
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	_, err = s.Reconcile("batch1", harvest.ProgressState{}, ids)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := s.Append("batch1", harvest.TaskRecord{ID: id, Status: harvest.TaskStatusCompleted})
			require.NoError(t, err)
		}(id)
	}
	wg.Wait()

	data, err := os.ReadFile(filepath.Join(dir, "progress_batch1.json"))
	require.NoError(t, err)
	var state harvest.ProgressState
	require.NoError(t, json.Unmarshal(data, &state))
	require.Equal(t, n, state.LastIndex)
	require.Len(t, state.Tasks, n)
}
