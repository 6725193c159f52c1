package harvest

import (
	"context"
)

// ProgressStore persists per-batch resumability state. Implementations must
// serialize mutations internally; callers may invoke them concurrently.
type ProgressStore interface {
	Load(slug string) (ProgressState, error)
	Reconcile(slug string, state ProgressState, itemIDs []int64) (ProgressState, error)
	Append(slug string, record TaskRecord) (ProgressState, error)
}

// FailureSink records terminal failures, one entry per failed item.
type FailureSink interface {
	Record(slug string, record FailureRecord) error
}

// Profile is one client-identity fingerprint applied to outbound requests.
type Profile struct {
	Name    string
	Headers map[string]string
}

// Fetcher performs a single streaming download attempt sequence (including
// its internal retry budget) for one identity profile.
type Fetcher interface {
	Attempt(ctx context.Context, url, dest string, profile Profile, cookies string) error
}

// RendererSession is a short-lived handle on a rendering engine, owned by
// exactly one item and closed within that item's scope.
type RendererSession interface {
	FetchSessionCookies(ctx context.Context, url string) (string, error)
	DownloadViaRender(ctx context.Context, url, dest string) error
	Close() error
}

// RendererFactory opens renderer sessions on demand.
type RendererFactory interface {
	Open(ctx context.Context) (RendererSession, error)
}
