package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/news-archiver/internal/archiver"
)

type fakePoller struct {
	mu       sync.Mutex
	polled   []string
	results  map[string]archiver.SourceCheckLog
	errs     map[string]error
	inflight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
}

func (p *fakePoller) Poll(ctx context.Context, runID string, src archiver.Source) (archiver.SourceCheckLog, error) {
	n := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
		}
	}
	p.mu.Lock()
	p.polled = append(p.polled, src.Slug)
	p.mu.Unlock()

	check := p.results[src.Slug]
	check.RunID = runID
	check.SourceSlug = src.Slug
	return check, p.errs[src.Slug]
}

func (p *fakePoller) slugs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := append([]string(nil), p.polled...)
	sort.Strings(out)
	return out
}

type staticIDs struct{ id string }

func (s staticIDs) NewID() (string, error) { return s.id, nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type lastChecks map[string]time.Time

func (l lastChecks) LastCheck(_ context.Context, slug string) (time.Time, error) {
	return l[slug], nil
}

var now = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func enabled(slugs ...string) []archiver.Source {
	out := make([]archiver.Source, 0, len(slugs))
	for _, s := range slugs {
		out = append(out, archiver.Source{Slug: s, Enabled: true})
	}
	return out
}

func TestRunOnceAggregatesAndSkipsDisabled(t *testing.T) {
	t.Parallel()
	poller := &fakePoller{results: map[string]archiver.SourceCheckLog{
		"a": {Success: true, ItemsFound: 3, ItemsStored: 2, ItemsDuplicate: 1},
		"b": {Success: false},
	}}
	d := New(poller, nil, staticIDs{"run-1"}, fixedClock{now}, Config{}, zap.NewNop())

	sources := append(enabled("a", "b"), archiver.Source{Slug: "off"})
	summary, err := d.RunOnce(context.Background(), sources)
	require.NoError(t, err)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 2, summary.Sources)
	assert.Equal(t, 3, summary.Found)
	assert.Equal(t, 2, summary.Stored)
	assert.Equal(t, 1, summary.Duplicates)
	assert.Equal(t, []string{"b"}, summary.FailedSources)
	assert.Equal(t, []string{"a", "b"}, poller.slugs())
}

func TestRunOnceBoundsConcurrency(t *testing.T) {
	t.Parallel()
	poller := &fakePoller{delay: 20 * time.Millisecond}
	d := New(poller, nil, staticIDs{"run"}, fixedClock{now}, Config{Concurrency: 2}, nil)

	_, err := d.RunOnce(context.Background(), enabled("a", "b", "c", "d", "e", "f"))
	require.NoError(t, err)
	assert.Len(t, poller.slugs(), 6)
	assert.LessOrEqual(t, poller.peak.Load(), int32(2))
}

func TestRunOnceSourceErrorsDoNotAbort(t *testing.T) {
	t.Parallel()
	poller := &fakePoller{errs: map[string]error{"a": errors.New("boom")}}
	d := New(poller, nil, staticIDs{"run"}, fixedClock{now}, Config{}, nil)

	summary, err := d.RunOnce(context.Background(), enabled("a", "b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, poller.slugs())
	assert.Contains(t, summary.FailedSources, "a")
}

func TestRunOnceStorageUnavailableAborts(t *testing.T) {
	t.Parallel()
	poller := &fakePoller{
		errs:  map[string]error{"a": fmt.Errorf("store: %w", archiver.ErrStorageUnavailable)},
		delay: 10 * time.Millisecond,
	}
	d := New(poller, nil, staticIDs{"run"}, fixedClock{now}, Config{Concurrency: 1}, nil)

	_, err := d.RunOnce(context.Background(), enabled("a", "b", "c"))
	require.ErrorIs(t, err, archiver.ErrStorageUnavailable)
	assert.Equal(t, []string{"a"}, poller.slugs())
}

func TestDueHonorsCheckInterval(t *testing.T) {
	t.Parallel()
	checks := lastChecks{
		"recent": now.Add(-5 * time.Minute),
		"stale":  now.Add(-2 * time.Hour),
	}
	d := New(&fakePoller{}, checks, staticIDs{"run"}, fixedClock{now}, Config{}, nil)
	sources := []archiver.Source{
		{Slug: "recent", Enabled: true, CheckInterval: time.Hour},
		{Slug: "stale", Enabled: true, CheckInterval: time.Hour},
		{Slug: "never", Enabled: true, CheckInterval: time.Hour},
		{Slug: "always", Enabled: true},
		{Slug: "off", CheckInterval: time.Hour},
	}

	var slugs []string
	for _, s := range d.due(context.Background(), sources) {
		slugs = append(slugs, s.Slug)
	}
	assert.Equal(t, []string{"stale", "never", "always"}, slugs)
}

func TestRunContinuousStopsOnCancel(t *testing.T) {
	t.Parallel()
	poller := &fakePoller{}
	d := New(poller, nil, staticIDs{"run"}, fixedClock{now}, Config{Interval: 10 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.RunContinuous(ctx, enabled("a")) }()

	require.Eventually(t, func() bool { return len(poller.slugs()) >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestRunContinuousReturnsStorageErrors(t *testing.T) {
	t.Parallel()
	poller := &fakePoller{errs: map[string]error{"a": archiver.ErrStorageUnavailable}}
	d := New(poller, nil, staticIDs{"run"}, fixedClock{now}, Config{Interval: time.Hour}, nil)

	err := d.RunContinuous(context.Background(), enabled("a"))
	require.ErrorIs(t, err, archiver.ErrStorageUnavailable)
}
