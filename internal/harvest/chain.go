package harvest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/partvault/datasheet-harvester/internal/metrics"
)

// chainState tracks progress of one item through the fetch strategy.
type chainState int

const (
	stateStart chainState = iota
	stateHaveCookies
	stateNeedFallback
	stateCompleted
	stateFailed
)

// Chain resolves one download item: cookie harvest, then the direct fetcher
// across every identity profile, then the renderer fallback. Terminal states
// are Completed and Failed; nothing escapes to the scheduler.
type Chain struct {
	fetcher  Fetcher
	profiles []Profile
	renderer RendererFactory
	failures FailureSink
	logger   *zap.Logger
}

// NewChain wires a Chain. renderer may be nil when rendering is disabled;
// the fallback then records a terminal failure instead.
func NewChain(
	fetcher Fetcher,
	profiles []Profile,
	renderer RendererFactory,
	failures FailureSink,
	logger *zap.Logger,
) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Chain{
		fetcher:  fetcher,
		profiles: profiles,
		renderer: renderer,
		failures: failures,
		logger:   logger,
	}
}

// Resolve runs the state machine for one item and always returns exactly one
// task record. Panics are absorbed at this boundary and recorded as failures.
func (c *Chain) Resolve(ctx context.Context, slug string, item DownloadItem, dest string) (record TaskRecord) {
	var session RendererSession
	defer func() {
		if session != nil {
			if err := session.Close(); err != nil {
				c.logger.Warn("renderer session close failed", zap.Int64("item_id", item.ID), zap.Error(err))
			}
		}
		if r := recover(); r != nil {
			c.logger.Error("item resolution panicked", zap.Int64("item_id", item.ID), zap.Any("panic", r))
			record = c.fail(slug, item, fmt.Sprintf("panic: %v", r))
		}
	}()

	// The item's single renderer instance, opened lazily and closed above.
	openSession := func() (RendererSession, error) {
		if session != nil {
			return session, nil
		}
		if c.renderer == nil {
			return nil, fmt.Errorf("no renderer configured")
		}
		opened, err := c.renderer.Open(ctx)
		if err != nil {
			return nil, fmt.Errorf("open renderer: %w", err)
		}
		session = opened
		return session, nil
	}

	var (
		state      = stateStart
		cookies    string
		failReason string
	)
	for {
		switch state {
		case stateStart:
			cookies = c.harvestCookies(ctx, item, openSession)
			state = stateHaveCookies

		case stateHaveCookies:
			state, failReason = c.runIdentities(ctx, item, dest, cookies)

		case stateNeedFallback:
			state, failReason = c.runFallback(ctx, item, dest, openSession)

		case stateCompleted:
			metrics.ObserveItem(string(TaskStatusCompleted))
			return TaskRecord{ID: item.ID, URL: item.URL, Status: TaskStatusCompleted}

		case stateFailed:
			return c.fail(slug, item, failReason)
		}
	}
}

// harvestCookies is best-effort: any failure leaves the cookie header empty
// and the direct fetch proceeds without a session token.
func (c *Chain) harvestCookies(
	ctx context.Context,
	item DownloadItem,
	openSession func() (RendererSession, error),
) string {
	sess, err := openSession()
	if err != nil {
		c.logger.Debug("cookie harvest skipped", zap.Int64("item_id", item.ID), zap.Error(err))
		return ""
	}
	cookies, err := sess.FetchSessionCookies(ctx, item.URL)
	if err != nil {
		c.logger.Warn("cookie harvest failed, proceeding without session",
			zap.Int64("item_id", item.ID),
			zap.String("url", item.URL),
			zap.Error(err),
		)
		return ""
	}
	return cookies
}

// runIdentities drives the direct fetcher across the identity pool in fixed
// order. A 404 or an exhausted 503 forecloses the fallback; every other
// exhausted class moves to the next identity and, past the pool, to the
// renderer.
func (c *Chain) runIdentities(
	ctx context.Context,
	item DownloadItem,
	dest, cookies string,
) (chainState, string) {
	for _, profile := range c.profiles {
		err := c.fetcher.Attempt(ctx, item.URL, dest, profile, cookies)
		if err == nil {
			return stateCompleted, ""
		}

		class := ClassOf(err)
		switch class {
		case ClassNotFound, ClassServiceUnavailable:
			return stateFailed, err.Error()
		default:
			c.logger.Debug("identity exhausted, rotating",
				zap.Int64("item_id", item.ID),
				zap.String("identity", profile.Name),
				zap.String("class", string(class)),
				zap.Error(err),
			)
		}
	}
	return stateNeedFallback, ""
}

// runFallback invokes the renderer exactly once; failure here is terminal.
func (c *Chain) runFallback(
	ctx context.Context,
	item DownloadItem,
	dest string,
	openSession func() (RendererSession, error),
) (chainState, string) {
	sess, err := openSession()
	if err != nil {
		metrics.ObserveRendererFallback("failure")
		return stateFailed, fmt.Sprintf("renderer fallback unavailable: %v", err)
	}
	if err := sess.DownloadViaRender(ctx, item.URL, dest); err != nil {
		metrics.ObserveRendererFallback("failure")
		return stateFailed, err.Error()
	}
	metrics.ObserveRendererFallback("success")
	return stateCompleted, ""
}

// fail records exactly one failure log entry per terminal outcome and builds
// the failed task record.
func (c *Chain) fail(slug string, item DownloadItem, reason string) TaskRecord {
	metrics.ObserveItem(string(TaskStatusFailed))
	if c.failures != nil {
		if err := c.failures.Record(slug, FailureRecord{
			ID:     item.ID,
			Title:  item.Title,
			URL:    item.URL,
			Reason: reason,
		}); err != nil {
			c.logger.Warn("failure sink write failed",
				zap.Int64("item_id", item.ID),
				zap.Error(err),
			)
		}
	}
	c.logger.Info("item failed",
		zap.Int64("item_id", item.ID),
		zap.String("url", item.URL),
		zap.String("reason", reason),
	)
	return TaskRecord{ID: item.ID, URL: item.URL, Status: TaskStatusFailed, Reason: reason}
}
