// Package fetcher wraps a single-shot transport with per-source throttling,
// exponential backoff on throttled or failed requests and user-agent rotation.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-archiver/internal/archiver"
	"github.com/JakeFAU/news-archiver/internal/metrics"
	"github.com/JakeFAU/news-archiver/internal/policy/backoff"
)

// DefaultUserAgents is the rotation used when none are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36 Edg/124.0.0.0",
}

// Throttle spaces requests that share a key.
type Throttle interface {
	Wait(ctx context.Context, key string, interval time.Duration) error
}

// RetryPolicy decides whether a failure is retried and how long to wait first.
type RetryPolicy interface {
	MaxAttempts() int
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}

// Config tunes the fetcher.
type Config struct {
	UserAgents []string
	// Timeout applies per attempt when the request leaves it unset.
	Timeout time.Duration
}

// Fetcher is the rate-limited fetcher used by every pipeline stage.
type Fetcher struct {
	transport archiver.Fetcher
	throttle  Throttle
	policy    RetryPolicy
	logger    *zap.Logger
	agents    []string
	timeout   time.Duration
	rotation  atomic.Uint64
	sleep     func(context.Context, time.Duration) error
}

// New wires a transport with a throttle and retry policy.
func New(transport archiver.Fetcher, throttle Throttle, policy RetryPolicy, cfg Config, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	return &Fetcher{
		transport: transport,
		throttle:  throttle,
		policy:    policy,
		logger:    logger.Named("fetcher"),
		agents:    append([]string(nil), agents...),
		timeout:   cfg.Timeout,
		sleep:     backoff.Sleep,
	}
}

// Fetch issues the request, retrying 429/503 responses and transient network
// errors until the policy's attempt budget is spent. Error statuses other
// than 429/503 are returned as responses; transport errors the policy does not
// consider transient fail on the first attempt.
func (f *Fetcher) Fetch(ctx context.Context, request archiver.FetchRequest) (archiver.FetchResponse, error) {
	key := request.SourceSlug
	if key == "" {
		key = metrics.SanitizeSite(request.URL)
	}
	pinned := request.Headers.Get("User-Agent") != ""
	offset := int(f.rotation.Add(1) - 1)
	maxAttempts := f.maxAttempts()

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := f.throttle.Wait(ctx, key, request.MinInterval); err != nil {
			return archiver.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, err)
		}

		attemptReq := request
		attemptReq.Headers = request.Headers.Clone()
		if attemptReq.Headers == nil {
			attemptReq.Headers = http.Header{}
		}
		if !pinned {
			attemptReq.Headers.Set("User-Agent", f.agents[(offset+attempt)%len(f.agents)])
		}
		if attemptReq.Timeout <= 0 {
			attemptReq.Timeout = f.timeout
		}

		resp, err := f.transport.Fetch(ctx, attemptReq)
		var (
			failure error
			status  int
			reason  string
		)
		switch {
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return archiver.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctxErr)
			}
			failure, reason = fmt.Errorf("%w: %w", archiver.ErrNetwork, err), "network"
		case retryableStatus(resp.StatusCode):
			status = resp.StatusCode
			failure = fmt.Errorf("%w: %s", archiver.ErrRateLimited, http.StatusText(resp.StatusCode))
			reason = fmt.Sprintf("status_%d", resp.StatusCode)
		default:
			resp.Attempts = attempt + 1
			return resp, nil
		}

		if !f.shouldRetry(failure, attempt+1) {
			return archiver.FetchResponse{}, f.giveUp(request, key, attempt+1, status, failure)
		}
		delay := f.policy.Backoff(attempt)
		metrics.ObserveFetchRetry(key, reason)
		f.logger.Debug("retrying fetch",
			zap.String("source", key),
			zap.String("url", request.URL),
			zap.Int("attempt", attempt+1),
			zap.Int("status", status),
			zap.Duration("delay", delay),
			zap.Error(failure),
		)
		if err := f.sleep(ctx, delay); err != nil {
			return archiver.FetchResponse{}, fmt.Errorf("fetch %s: backoff: %w", request.URL, err)
		}
	}
	// Unreachable with maxAttempts >= 1: the last attempt always gives up above.
	return archiver.FetchResponse{}, f.giveUp(request, key, maxAttempts, 0, archiver.ErrNetwork)
}

func (f *Fetcher) giveUp(request archiver.FetchRequest, key string, attempts, status int, failure error) error {
	msg := "fetch attempts exhausted"
	if attempts < f.maxAttempts() {
		msg = "fetch failed with non-retryable error"
	}
	f.logger.Warn(msg,
		zap.String("source", key),
		zap.String("url", request.URL),
		zap.Int("attempts", attempts),
		zap.Int("status", status),
		zap.Error(failure),
	)
	return &archiver.FetchError{
		URL:      request.URL,
		Status:   status,
		Attempts: attempts,
		Err:      failure,
	}
}

func (f *Fetcher) shouldRetry(failure error, attempts int) bool {
	if f.policy == nil {
		return false
	}
	return f.policy.ShouldRetry(failure, attempts)
}

func (f *Fetcher) maxAttempts() int {
	if f.policy == nil || f.policy.MaxAttempts() <= 0 {
		return 1
	}
	return f.policy.MaxAttempts()
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}
