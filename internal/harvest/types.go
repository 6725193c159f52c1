// Package harvest defines core types shared across subsystems.
package harvest

// TaskStatus represents the terminal outcome recorded for a download item.
type TaskStatus string

// Task status values persisted in the progress file.
const (
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// DownloadItem is one externally supplied record to retrieve. Identity is ID.
type DownloadItem struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// TaskRecord is written exactly once per resolved item.
type TaskRecord struct {
	ID     int64      `json:"id"`
	URL    string     `json:"url"`
	Status TaskStatus `json:"status"`
	Reason string     `json:"reason,omitempty"`
}

// ProgressState is the persisted resumability state for one batch.
// LastIndex is the longest resolved prefix of the original item ordering,
// so resuming never skips an unresolved earlier item even when later items
// finished first.
type ProgressState struct {
	LastIndex  int          `json:"lastIndex"`
	TotalTasks int          `json:"totalTasks"`
	Tasks      []TaskRecord `json:"tasks"`
}

// Settled reports whether every item in the batch has been resolved.
func (s ProgressState) Settled() bool {
	return s.TotalTasks > 0 && s.LastIndex >= s.TotalTasks
}

// ResolvedIDs returns the set of item IDs that already carry a task record.
func (s ProgressState) ResolvedIDs() map[int64]struct{} {
	resolved := make(map[int64]struct{}, len(s.Tasks))
	for _, task := range s.Tasks {
		resolved[task.ID] = struct{}{}
	}
	return resolved
}

// FailureRecord is appended to the batch failure log for each terminal failure.
type FailureRecord struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// Batch is one input file's worth of download items.
type Batch struct {
	Slug  string
	Path  string
	Items []DownloadItem
}

// BatchSummary reports the outcome counts for one processed batch.
type BatchSummary struct {
	Slug      string
	Completed int
	Failed    int
	Skipped   int
}
