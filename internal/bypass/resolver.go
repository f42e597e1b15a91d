// Package bypass retrieves full article text by trying an ordered list of
// access strategies until one returns enough readable content.
package bypass

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-archiver/internal/archiver"
	"github.com/JakeFAU/news-archiver/internal/metrics"
	"github.com/JakeFAU/news-archiver/internal/sanitize"
)

// Defaults applied when Config leaves a value empty.
const (
	DefaultMinChars       = 500
	DefaultRelayPrimary   = "https://12ft.io/"
	DefaultRelaySecondary = "https://removepaywalls.com/"
)

// DefaultMarkers are phrases that indicate a paywalled page.
var DefaultMarkers = []string{
	"subscribe to continue",
	"subscribe to read",
	"already a subscriber",
	"create a free account to continue",
	"this content is for subscribers",
}

// Config tunes the resolver.
type Config struct {
	MinChars       int
	Markers        []string
	RelayPrimary   string
	RelaySecondary string
	Timeout        time.Duration
}

// Resolution is the outcome of resolving one candidate.
type Resolution struct {
	Text       string
	Strategy   string
	Attempts   []archiver.FetchOutcome
	Sufficient bool
}

// Resolver runs strategies in order and judges each outcome.
type Resolver struct {
	fetcher  archiver.Fetcher
	headless archiver.Fetcher
	san      *sanitize.Sanitizer
	cfg      Config
	markers  []string
	logger   *zap.Logger
}

// New builds a Resolver. headless may be nil when rendering is disabled.
func New(fetcher, headless archiver.Fetcher, san *sanitize.Sanitizer, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.MinChars <= 0 {
		cfg.MinChars = DefaultMinChars
	}
	if cfg.Markers == nil {
		cfg.Markers = DefaultMarkers
	}
	if cfg.RelayPrimary == "" {
		cfg.RelayPrimary = DefaultRelayPrimary
	}
	if cfg.RelaySecondary == "" {
		cfg.RelaySecondary = DefaultRelaySecondary
	}
	if san == nil {
		san = sanitize.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	markers := make([]string, 0, len(cfg.Markers))
	for _, m := range cfg.Markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			markers = append(markers, m)
		}
	}
	return &Resolver{
		fetcher:  fetcher,
		headless: headless,
		san:      san,
		cfg:      cfg,
		markers:  markers,
		logger:   logger.Named("bypass"),
	}
}

// Strategies returns the ordered strategies for src.
func (r *Resolver) Strategies(src archiver.Source) []Strategy {
	judge := r.judge(src.RulesFor(archiver.FieldBody))
	direct := &fetchStrategy{name: Direct, fetcher: r.fetcher, build: plainRequest(src, r.cfg.Timeout), judge: judge}
	if !src.BypassEnabled {
		return []Strategy{direct}
	}

	ordered := []Strategy{
		direct,
		&fetchStrategy{name: SearchReferrer, fetcher: r.fetcher, build: referredRequest(src, r.cfg.Timeout, searchReferer, ""), judge: judge},
		&fetchStrategy{name: SocialReferrer, fetcher: r.fetcher, build: referredRequest(src, r.cfg.Timeout, socialReferer, socialAgent), judge: judge},
		&fetchStrategy{name: RelayPrimary, fetcher: r.fetcher, build: relayRequest(r.cfg.RelayPrimary, r.cfg.Timeout), judge: judge},
		&fetchStrategy{name: RelaySecondary, fetcher: r.fetcher, build: relayRequest(r.cfg.RelaySecondary, r.cfg.Timeout), judge: judge},
	}
	if r.headless == nil {
		return ordered
	}
	headless := &fetchStrategy{name: Headless, fetcher: r.headless, build: plainRequest(src, 0), judge: judge}
	if src.PreferHeadless {
		return append([]Strategy{headless}, ordered...)
	}
	return append(ordered, headless)
}

// Resolve tries each strategy until one yields sufficient content. When
// bypass is disabled the direct result is final whatever its length.
func (r *Resolver) Resolve(ctx context.Context, src archiver.Source, c archiver.Candidate) Resolution {
	return r.run(ctx, src, c, r.Strategies(src))
}

func (r *Resolver) run(ctx context.Context, src archiver.Source, c archiver.Candidate, strategies []Strategy) Resolution {
	logger := r.logger.With(zap.String("source", src.Slug), zap.String("url", c.URL))
	var res Resolution
	best := -1

	for i, s := range strategies {
		if ctx.Err() != nil {
			break
		}
		outcome := s.Attempt(ctx, c)
		res.Attempts = append(res.Attempts, outcome)
		metrics.ObserveBypassAttempt(outcome.Strategy, outcome.Success, outcome.Duration)
		logger.Debug("strategy attempt",
			zap.String("strategy", outcome.Strategy),
			zap.Int("attempt", i+1),
			zap.Bool("success", outcome.Success),
			zap.Int("status", outcome.StatusCode),
			zap.Int("chars", outcome.TextLength),
			zap.String("reason", outcome.Reason),
		)

		if outcome.Success {
			res.Text = outcome.Text
			res.Strategy = outcome.Strategy
			res.Sufficient = true
			return res
		}
		if outcome.StatusCode == http.StatusOK && (best < 0 || outcome.TextLength > res.Attempts[best].TextLength) {
			best = len(res.Attempts) - 1
		}
	}

	if best >= 0 {
		res.Text = res.Attempts[best].Text
		res.Strategy = res.Attempts[best].Strategy
	}
	if !src.BypassEnabled && best >= 0 {
		res.Sufficient = true
		return res
	}
	logger.Info("no strategy produced sufficient content",
		zap.Int("attempts", len(res.Attempts)),
		zap.String("best_strategy", res.Strategy),
		zap.Int("best_chars", r.san.TextLength(res.Text)),
	)
	return res
}

func (r *Resolver) judge(rules []archiver.SelectorRule) func(archiver.FetchResponse) archiver.FetchOutcome {
	return func(resp archiver.FetchResponse) archiver.FetchOutcome {
		outcome := archiver.FetchOutcome{StatusCode: resp.StatusCode}
		if resp.StatusCode != http.StatusOK {
			outcome.Reason = fmt.Sprintf("status %d", resp.StatusCode)
			return outcome
		}
		raw := string(resp.Body)
		outcome.Text = r.san.SanitizeWithRules(raw, rules)
		outcome.TextLength = r.san.TextLength(outcome.Text)

		// Markers count inside the extracted article. Page chrome such as a
		// "sign in" link only explains a short result.
		if marker := r.marker(outcome.Text); marker != "" {
			outcome.Reason = fmt.Sprintf("paywall marker %q", marker)
			return outcome
		}
		if outcome.TextLength < r.cfg.MinChars {
			outcome.Reason = fmt.Sprintf("%d chars below minimum %d", outcome.TextLength, r.cfg.MinChars)
			if marker := r.marker(raw); marker != "" {
				outcome.Reason += fmt.Sprintf(", paywall marker %q on page", marker)
			}
			return outcome
		}
		outcome.Success = true
		return outcome
	}
}

func (r *Resolver) marker(raw string) string {
	text := strings.ToLower(r.san.PlainText(raw))
	for _, m := range r.markers {
		if strings.Contains(text, m) {
			return m
		}
	}
	return ""
}
