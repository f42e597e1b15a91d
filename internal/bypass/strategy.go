package bypass

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/JakeFAU/news-archiver/internal/archiver"
)

// Strategy names.
const (
	Direct         = "direct"
	SearchReferrer = "search-referrer"
	SocialReferrer = "social-referrer"
	RelayPrimary   = "relay-primary"
	RelaySecondary = "relay-secondary"
	Headless       = "headless"
)

const (
	searchReferer = "https://www.google.com/"
	socialReferer = "https://www.facebook.com/"
	socialAgent   = "facebookexternalhit/1.1 (+http://www.facebook.com/externalhit_uatext.php)"
)

// Strategy is one way of retrieving article text.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, c archiver.Candidate) archiver.FetchOutcome
}

// fetchStrategy issues a single request shaped by build and hands the page to
// judge.
type fetchStrategy struct {
	name    string
	fetcher archiver.Fetcher
	build   func(c archiver.Candidate) archiver.FetchRequest
	judge   func(archiver.FetchResponse) archiver.FetchOutcome
}

func (s *fetchStrategy) Name() string { return s.name }

func (s *fetchStrategy) Attempt(ctx context.Context, c archiver.Candidate) archiver.FetchOutcome {
	start := time.Now()
	resp, err := s.fetcher.Fetch(ctx, s.build(c))
	var outcome archiver.FetchOutcome
	if err != nil {
		outcome = archiver.FetchOutcome{Reason: fmt.Sprintf("fetch: %v", err)}
	} else {
		outcome = s.judge(resp)
	}
	outcome.Strategy = s.name
	outcome.Duration = time.Since(start)
	return outcome
}

func plainRequest(src archiver.Source, timeout time.Duration) func(archiver.Candidate) archiver.FetchRequest {
	return func(c archiver.Candidate) archiver.FetchRequest {
		return archiver.FetchRequest{SourceSlug: src.Slug, URL: c.URL, Timeout: timeout, MinInterval: src.MinInterval}
	}
}

func referredRequest(src archiver.Source, timeout time.Duration, referer, agent string) func(archiver.Candidate) archiver.FetchRequest {
	return func(c archiver.Candidate) archiver.FetchRequest {
		h := http.Header{}
		h.Set("Referer", referer)
		if agent != "" {
			h.Set("User-Agent", agent)
		}
		return archiver.FetchRequest{SourceSlug: src.Slug, URL: c.URL, Headers: h, Timeout: timeout, MinInterval: src.MinInterval}
	}
}

// relayRequest prefixes the article URL with a relay service. Relays are
// throttled under their own key rather than the source's.
func relayRequest(prefix string, timeout time.Duration) func(archiver.Candidate) archiver.FetchRequest {
	return func(c archiver.Candidate) archiver.FetchRequest {
		return archiver.FetchRequest{URL: prefix + c.URL, Timeout: timeout}
	}
}
