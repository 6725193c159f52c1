// Package direct implements streaming HTTP downloads with
// classification-driven retry and backoff.
package direct

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/partvault/datasheet-harvester/internal/fileutil"
	"github.com/partvault/datasheet-harvester/internal/harvest"
	"github.com/partvault/datasheet-harvester/internal/metrics"
)

// Config controls fetcher behavior.
type Config struct {
	// Timeout bounds each individual HTTP attempt.
	Timeout time.Duration
	// RetryLimit is the attempt budget per identity profile.
	RetryLimit int
	// BackoffBase scales the exponential delay (base * 2^attempt).
	BackoffBase time.Duration
	// MaxBackoff caps the delay between attempts.
	MaxBackoff time.Duration
	// PerHostQPS optionally throttles attempts against one host; zero
	// disables throttling.
	PerHostQPS float64
}

// Fetcher downloads a URL to a destination file, streaming the body to disk
// as bytes arrive.
type Fetcher struct {
	cfg          Config
	client       *http.Client
	logger       *zap.Logger
	hostLimiters sync.Map
}

// New builds a Fetcher with a pooled transport.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Fetcher{
		cfg:    cfg,
		logger: logger,
		client: &http.Client{
			Transport: newHTTPTransport(),
		},
	}
}

// Attempt runs the retry loop for one identity profile. It returns nil on a
// successful download or a *harvest.ClassifiedError describing the terminal
// outcome for this identity.
func (f *Fetcher) Attempt(
	ctx context.Context,
	rawURL, dest string,
	profile harvest.Profile,
	cookies string,
) error {
	var lastErr error
	for attempt := 0; attempt < f.cfg.RetryLimit; attempt++ {
		if err := f.waitHostBudget(ctx, rawURL); err != nil {
			return harvest.NewClassifiedError(harvest.ClassTransient, err)
		}

		err := f.fetchOnce(ctx, rawURL, dest, profile, cookies)
		if err == nil {
			return nil
		}
		lastErr = err

		class := harvest.ClassOf(err)
		if !class.Retryable() {
			return err
		}
		if isWriteFailure(err) {
			// Destination-side faults do not consume the retry budget.
			return err
		}
		if attempt == f.cfg.RetryLimit-1 {
			break
		}

		delay := f.backoff(attempt)
		f.logger.Debug("retrying after backoff",
			zap.String("url", rawURL),
			zap.String("identity", profile.Name),
			zap.String("class", string(class)),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
		)
		metrics.ObserveRetry()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return harvest.NewClassifiedError(harvest.ClassTransient, ctx.Err())
		}
	}
	return lastErr
}

func (f *Fetcher) fetchOnce(
	ctx context.Context,
	rawURL, dest string,
	profile harvest.Profile,
	cookies string,
) error {
	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return harvest.NewClassifiedError(harvest.ClassTransient, fmt.Errorf("build request: %w", err))
	}
	for key, value := range profile.Headers {
		req.Header.Set(key, value)
	}
	if cookies != "" {
		req.Header.Set("Cookie", cookies)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		metrics.ObserveFetchAttempt(string(harvest.ClassTransient), time.Since(start))
		return harvest.NewClassifiedError(harvest.ClassTransient, fmt.Errorf("request %s: %w", rawURL, err))
	}
	defer resp.Body.Close()

	if class, failed := harvest.ClassifyStatus(resp.StatusCode); failed {
		metrics.ObserveFetchAttempt(string(class), time.Since(start))
		return harvest.NewClassifiedError(class, errors.New(harvest.StatusReason(resp.StatusCode)))
	}

	written, err := streamToFile(dest, resp.Body)
	if err != nil {
		metrics.ObserveFetchAttempt(string(harvest.ClassTransient), time.Since(start))
		return err
	}

	metrics.ObserveFetchAttempt("success", time.Since(start))
	metrics.ObserveBytes(written)
	f.logger.Debug("direct fetch complete",
		zap.String("url", rawURL),
		zap.String("identity", profile.Name),
		zap.Int64("bytes", written),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// streamToFile copies the response body into a .part sibling of dest and
// renames it into place, so a partial download never shadows a settled
// artifact.
func streamToFile(dest string, body io.Reader) (int64, error) {
	if err := fileutil.EnsureDir(dirOf(dest)); err != nil {
		return 0, harvest.NewClassifiedError(harvest.ClassTransient, err)
	}
	part := dest + ".part"
	file, err := os.Create(part)
	if err != nil {
		return 0, harvest.NewClassifiedError(harvest.ClassTransient, fmt.Errorf("create %s: %w", part, err))
	}

	written, copyErr := io.Copy(file, body)
	closeErr := file.Close()
	if copyErr != nil {
		os.Remove(part)
		return 0, harvest.NewClassifiedError(harvest.ClassTransient, fmt.Errorf("stream to %s: %w", part, copyErr))
	}
	if closeErr != nil {
		os.Remove(part)
		return 0, harvest.NewClassifiedError(harvest.ClassTransient, fmt.Errorf("close %s: %w", part, closeErr))
	}
	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return 0, harvest.NewClassifiedError(harvest.ClassTransient, fmt.Errorf("rename %s: %w", part, err))
	}
	return written, nil
}

func dirOf(path string) string {
	if idx := strings.LastIndexAny(path, `/\`); idx > 0 {
		return path[:idx]
	}
	return "."
}

// isWriteFailure reports whether the error originated on the destination
// side of the stream rather than the network.
func isWriteFailure(err error) bool {
	var pathErr *fs.PathError
	return errors.As(err, &pathErr)
}

// backoff computes base * 2^attempt capped at MaxBackoff, plus random jitter
// up to half the delay.
func (f *Fetcher) backoff(attempt int) time.Duration {
	delay := f.cfg.BackoffBase << uint(attempt)
	if delay > f.cfg.MaxBackoff || delay <= 0 {
		delay = f.cfg.MaxBackoff
	}
	return delay + randomJitter(delay/2)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func (f *Fetcher) waitHostBudget(ctx context.Context, rawURL string) error {
	if f.cfg.PerHostQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse fetch url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := f.hostLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(f.cfg.PerHostQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
