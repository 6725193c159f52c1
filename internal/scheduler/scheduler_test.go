package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/partvault/datasheet-harvester/internal/harvest"
	"github.com/partvault/datasheet-harvester/internal/store"
)

type fakeResolver struct {
	mu       sync.Mutex
	resolved []int64
	delay    time.Duration
	fail     map[int64]string

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
}

func (r *fakeResolver) Resolve(
	_ context.Context,
	_ string,
	item harvest.DownloadItem,
	_ string,
) harvest.TaskRecord {
	current := r.inFlight.Add(1)
	for {
		max := r.maxInFlight.Load()
		if current <= max || r.maxInFlight.CompareAndSwap(max, current) {
			break
		}
	}
	defer r.inFlight.Add(-1)

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.resolved = append(r.resolved, item.ID)
	r.mu.Unlock()

	if reason, ok := r.fail[item.ID]; ok {
		return harvest.TaskRecord{ID: item.ID, URL: item.URL, Status: harvest.TaskStatusFailed, Reason: reason}
	}
	return harvest.TaskRecord{ID: item.ID, URL: item.URL, Status: harvest.TaskStatusCompleted}
}

func (r *fakeResolver) resolvedIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.resolved...)
}

func testBatch(n int) harvest.Batch {
	items := make([]harvest.DownloadItem, n)
	for i := range items {
		items[i] = harvest.DownloadItem{
			ID:    int64(i + 1),
			Title: fmt.Sprintf("part-%d", i+1),
			URL:   fmt.Sprintf("http://x/%d.pdf", i+1),
		}
	}
	return harvest.Batch{Slug: "b1", Items: items}
}

func newProgress(t *testing.T) *store.FileProgressStore {
	t.Helper()
	s, err := store.NewFileProgressStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestRunBatchResolvesEveryItemExactlyOnce(t *testing.T) {
	t.Parallel()

	progress := newProgress(t)
	resolver := &fakeResolver{fail: map[int64]string{3: "404 Not Found"}}
	sched := New(progress, resolver, Config{Concurrency: 4}, zap.NewNop())

	summary, err := sched.RunBatch(context.Background(), testBatch(5), t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 4, summary.Completed)
	require.Equal(t, 1, summary.Failed)
	require.Zero(t, summary.Skipped)

	state, err := progress.Load("b1")
	require.NoError(t, err)
	require.Equal(t, 5, state.LastIndex)
	require.Equal(t, 5, state.TotalTasks)
	require.Len(t, state.Tasks, 5)
	require.True(t, state.Settled())
}

func TestRunBatchHonorsConcurrencyCap(t *testing.T) {
	t.Parallel()

	progress := newProgress(t)
	resolver := &fakeResolver{delay: 100 * time.Millisecond}
	sched := New(progress, resolver, Config{Concurrency: 2}, zap.NewNop())

	_, err := sched.RunBatch(context.Background(), testBatch(5), t.TempDir())
	require.NoError(t, err)
	require.LessOrEqual(t, resolver.maxInFlight.Load(), int64(2))
	require.Len(t, resolver.resolvedIDs(), 5)
}

func TestRunBatchSkipsResolvedItemsOnResume(t *testing.T) {
	t.Parallel()

	progress := newProgress(t)
	batch := testBatch(4)

	first := &fakeResolver{fail: map[int64]string{2: "503 Service Unavailable"}}
	sched := New(progress, first, Config{Concurrency: 2}, zap.NewNop())
	_, err := sched.RunBatch(context.Background(), batch, t.TempDir())
	require.NoError(t, err)

	// Second run over the same batch must perform zero resolutions.
	second := &fakeResolver{}
	sched = New(progress, second, Config{Concurrency: 2}, zap.NewNop())
	summary, err := sched.RunBatch(context.Background(), batch, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 4, summary.Skipped)
	require.Empty(t, second.resolvedIDs())
}

func TestRunBatchResetsOnTotalMismatch(t *testing.T) {
	t.Parallel()

	progress := newProgress(t)
	sched := New(progress, &fakeResolver{}, Config{Concurrency: 2}, zap.NewNop())
	_, err := sched.RunBatch(context.Background(), testBatch(3), t.TempDir())
	require.NoError(t, err)

	// Same slug, structurally different batch: cursor resets, everything
	// is fetched again.
	resolver := &fakeResolver{}
	sched = New(progress, resolver, Config{Concurrency: 2}, zap.NewNop())
	summary, err := sched.RunBatch(context.Background(), testBatch(5), t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 5, summary.Completed)
	require.Zero(t, summary.Skipped)
	require.Len(t, resolver.resolvedIDs(), 5)
}

func TestRunBatchPartialResumeOnlyRunsPending(t *testing.T) {
	t.Parallel()

	progress := newProgress(t)
	batch := testBatch(4)
	ids := []int64{1, 2, 3, 4}
	_, err := progress.Reconcile("b1", harvest.ProgressState{}, ids)
	require.NoError(t, err)
	_, err = progress.Append("b1", harvest.TaskRecord{ID: 1, Status: harvest.TaskStatusCompleted})
	require.NoError(t, err)
	_, err = progress.Append("b1", harvest.TaskRecord{ID: 2, Status: harvest.TaskStatusFailed, Reason: "404 Not Found"})
	require.NoError(t, err)

	resolver := &fakeResolver{}
	sched := New(progress, resolver, Config{Concurrency: 2}, zap.NewNop())
	summary, err := sched.RunBatch(context.Background(), batch, t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 2, summary.Skipped)
	require.Equal(t, 2, summary.Completed)
	require.ElementsMatch(t, []int64{3, 4}, resolver.resolvedIDs())
}

func TestRunBatchStopsFeedingOnCancel(t *testing.T) {
	t.Parallel()

	progress := newProgress(t)
	resolver := &fakeResolver{delay: 50 * time.Millisecond}
	sched := New(progress, resolver, Config{Concurrency: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(75 * time.Millisecond)
		cancel()
	}()

	_, err := sched.RunBatch(ctx, testBatch(10), t.TempDir())
	require.Error(t, err)
	require.Less(t, len(resolver.resolvedIDs()), 10)
}
