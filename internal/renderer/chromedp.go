// Package renderer drives headless Chrome via chromedp for session-cookie
// harvesting and last-resort render downloads.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/partvault/datasheet-harvester/internal/fileutil"
	"github.com/partvault/datasheet-harvester/internal/harvest"
)

// ErrRendererDisabled indicates rendering has been disabled via configuration.
var ErrRendererDisabled = errors.New("renderer disabled")

// Config controls renderer session behavior.
type Config struct {
	Enabled           bool
	UserAgent         string
	NavigationTimeout time.Duration
	PollInterval      time.Duration
	StableChecks      int
}

// Factory opens short-lived renderer sessions. Each download item owns its
// own session, acquired and closed strictly within that item's scope.
type Factory struct {
	cfg    Config
	logger *zap.Logger
}

// NewFactory builds a Factory; it fails fast when rendering is disabled so
// callers can wire a nil fallback instead.
func NewFactory(cfg Config, logger *zap.Logger) (*Factory, error) {
	if !cfg.Enabled {
		return nil, ErrRendererDisabled
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.StableChecks <= 0 {
		cfg.StableChecks = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{cfg: cfg, logger: logger}, nil
}

// Open launches a fresh browser instance for one item.
func (f *Factory) Open(ctx context.Context) (harvest.RendererSession, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if f.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(f.cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}
	return &Session{
		cfg:           f.cfg,
		logger:        f.logger,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		allocCancel:   allocCancel,
	}, nil
}

// Session is one ephemeral browser instance.
type Session struct {
	cfg           Config
	logger        *zap.Logger
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// Close tears down the browser and allocator contexts.
func (s *Session) Close() error {
	s.browserCancel()
	s.allocCancel()
	return nil
}

// FetchSessionCookies navigates to the URL and returns the cookie jar as a
// Cookie header string. Callers treat failures as best-effort.
func (s *Session) FetchSessionCookies(ctx context.Context, rawURL string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var header string
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			cookies, err := network.GetCookies().WithURLs([]string{rawURL}).Do(ctx)
			if err != nil {
				return fmt.Errorf("get cookies: %w", err)
			}
			parts := make([]string, 0, len(cookies))
			for _, c := range cookies {
				parts = append(parts, c.Name+"="+c.Value)
			}
			header = strings.Join(parts, "; ")
			return nil
		}),
	}
	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return "", fmt.Errorf("harvest cookies from %s: %w", rawURL, err)
	}
	return header, nil
}

// DownloadViaRender navigates to the URL with downloads routed into a
// scratch directory and materializes the resulting document at dest. The
// download is considered finished on the browser's completion event, with a
// stable-file-size poll as fallback for engines that never report one.
func (s *Session) DownloadViaRender(ctx context.Context, rawURL, dest string) error {
	tabCtx, cancelTab := chromedp.NewContext(s.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, s.cfg.NavigationTimeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	scratch := dest + ".render"
	if err := fileutil.EnsureDir(scratch); err != nil {
		return harvest.NewClassifiedError(harvest.ClassRendererFailure, err)
	}
	defer os.RemoveAll(scratch)

	guidCh := make(chan string, 1)
	doneCh := make(chan string, 1)
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *browser.EventDownloadWillBegin:
			select {
			case guidCh <- e.GUID:
			default:
			}
		case *browser.EventDownloadProgress:
			if e.State == browser.DownloadProgressStateCompleted {
				select {
				case doneCh <- e.GUID:
				default:
				}
			}
		}
	})

	err := chromedp.Run(taskCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(scratch).
			WithEventsEnabled(true),
		chromedp.Navigate(rawURL),
	)
	// Navigating straight into a download aborts the page load; that is the
	// expected signal, not a failure.
	if err != nil && !isDownloadAbort(err) {
		return harvest.NewClassifiedError(
			harvest.ClassRendererFailure,
			fmt.Errorf("render navigate %s: %w", rawURL, err),
		)
	}

	guid, err := s.awaitDownload(taskCtx, scratch, guidCh, doneCh)
	if err != nil {
		return harvest.NewClassifiedError(
			harvest.ClassRendererFailure,
			fmt.Errorf("render download %s: %w", rawURL, err),
		)
	}

	if err := os.Rename(filepath.Join(scratch, guid), dest); err != nil {
		return harvest.NewClassifiedError(
			harvest.ClassRendererFailure,
			fmt.Errorf("finalize render download: %w", err),
		)
	}
	s.logger.Debug("render download complete", zap.String("url", rawURL), zap.String("dest", dest))
	return nil
}

func (s *Session) awaitDownload(
	ctx context.Context,
	dir string,
	guidCh <-chan string,
	doneCh <-chan string,
) (string, error) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	var (
		guid     string
		lastSize int64 = -1
		stable   int
	)
	for {
		select {
		case guid = <-guidCh:
		case done := <-doneCh:
			return done, nil
		case <-ticker.C:
			if guid == "" {
				continue
			}
			info, err := os.Stat(filepath.Join(dir, guid))
			if err != nil {
				continue
			}
			if info.Size() > 0 && info.Size() == lastSize {
				stable++
				if stable >= s.cfg.StableChecks {
					return guid, nil
				}
			} else {
				stable = 0
			}
			lastSize = info.Size()
		case <-ctx.Done():
			return "", fmt.Errorf("await download: %w", ctx.Err())
		}
	}
}

func isDownloadAbort(err error) bool {
	return err != nil && strings.Contains(err.Error(), "net::ERR_ABORTED")
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
