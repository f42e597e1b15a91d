// Package backoff computes retry delays for throttled or failing fetches.
package backoff

import (
	"context"
	"errors"
	"io"
	"math"
	"math/rand/v2"
	"net"
	"syscall"
	"time"

	"github.com/JakeFAU/news-archiver/internal/archiver"
)

// Exponential doubles a base delay per attempt up to a cap and adds random
// jitter of up to a quarter of the capped delay.
type Exponential struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

// Config tunes an Exponential policy. Zero values fall back to defaults.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// New builds a policy, filling unset fields with defaults.
func New(cfg Config) *Exponential {
	p := &Exponential{
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 3
	}
	if p.baseDelay <= 0 {
		p.baseDelay = 2 * time.Second
	}
	if p.maxDelay < p.baseDelay {
		p.maxDelay = 30 * time.Second
		if p.maxDelay < p.baseDelay {
			p.maxDelay = p.baseDelay
		}
	}
	return p
}

// MaxAttempts is the total number of attempts, the first included.
func (p *Exponential) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether another attempt is allowed after err on the
// given 1-based attempt.
func (p *Exponential) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxAttempts {
		return false
	}
	return Transient(err)
}

// Transient reports whether err is worth retrying: throttling responses,
// timeouts and connection-level failures (refused, reset, DNS). Anything else,
// such as a malformed URL, an unsupported scheme or a robots.txt refusal, will
// fail the same way again.
func Transient(err error) bool {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, archiver.ErrRateLimited), errors.Is(err, context.DeadlineExceeded):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNABORTED):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// Capped returns the deterministic part of the delay before attempt+1.
func (p *Exponential) Capped(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	return time.Duration(delay)
}

// Backoff returns the wait duration after the given 0-based failed attempt.
func (p *Exponential) Backoff(attempt int) time.Duration {
	capped := p.Capped(attempt)
	return capped + randomJitter(capped/4)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit) + 1))
}

// Sleep waits for delay or until ctx is done.
func Sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
