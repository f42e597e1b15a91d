// Package archiver defines the domain types shared across the ingestion pipeline.
package archiver

import (
	"net/http"
	"time"
)

// EndpointKind selects how a feed endpoint is parsed.
type EndpointKind string

// Supported feed endpoint kinds.
const (
	EndpointSyndication EndpointKind = "syndication"
	EndpointListing     EndpointKind = "listing"
)

// FeedEndpoint is one URL polled for candidate articles.
type FeedEndpoint struct {
	URL  string       `json:"url" mapstructure:"url" yaml:"url"`
	Kind EndpointKind `json:"kind" mapstructure:"kind" yaml:"kind"`
	// LinkSelector picks article anchors on listing pages. Defaults to "a[href]".
	LinkSelector string `json:"link_selector" mapstructure:"link_selector" yaml:"link_selector"`
}

// Field names an ArticleRecord attribute an extraction rule can populate.
type Field string

// Extraction rule targets.
const (
	FieldHeadline    Field = "headline"
	FieldByline      Field = "byline"
	FieldDescription Field = "description"
	FieldImage       Field = "image"
	FieldPublished   Field = "published"
	FieldBody        Field = "body"
)

// SelectorRule is a data-driven extraction rule. An empty Attribute means the
// element text (or inner HTML for FieldBody).
type SelectorRule struct {
	Field     Field  `json:"field" mapstructure:"field" yaml:"field"`
	Selector  string `json:"selector" mapstructure:"selector" yaml:"selector"`
	Attribute string `json:"attribute" mapstructure:"attribute" yaml:"attribute"`
}

// Source is the immutable per-run configuration of one content origin.
// Enabled is resolved by the config loader, where an omitted flag means true.
type Source struct {
	Slug           string         `json:"slug" mapstructure:"slug" yaml:"slug"`
	Name           string         `json:"name" mapstructure:"name" yaml:"name"`
	BaseURL        string         `json:"base_url" mapstructure:"base_url" yaml:"base_url"`
	Category       string         `json:"category" mapstructure:"category" yaml:"category"`
	Feeds          []FeedEndpoint `json:"feeds" mapstructure:"feeds" yaml:"feeds"`
	Enabled        bool           `json:"enabled" mapstructure:"-" yaml:"-"`
	BypassEnabled  bool           `json:"bypass_paywall" mapstructure:"bypass_paywall" yaml:"bypass_paywall"`
	PreferHeadless bool           `json:"prefer_headless" mapstructure:"prefer_headless" yaml:"prefer_headless"`
	CheckInterval  time.Duration  `json:"check_interval" mapstructure:"check_interval" yaml:"check_interval"`
	MinInterval    time.Duration  `json:"min_request_interval" mapstructure:"min_request_interval" yaml:"min_request_interval"`
	Selectors      []SelectorRule `json:"selectors" mapstructure:"selectors" yaml:"selectors"`
	IncludeURLs    []string       `json:"include_patterns" mapstructure:"include_patterns" yaml:"include_patterns"`
	ExcludeURLs    []string       `json:"exclude_patterns" mapstructure:"exclude_patterns" yaml:"exclude_patterns"`
}

// RulesFor returns the selector rules targeting field, in configured order.
func (s Source) RulesFor(field Field) []SelectorRule {
	var out []SelectorRule
	for _, r := range s.Selectors {
		if r.Field == field && r.Selector != "" {
			out = append(out, r)
		}
	}
	return out
}

// DisplayName falls back to the slug when no name is configured.
func (s Source) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Slug
}

// Candidate is a discovered article reference prior to enrichment.
type Candidate struct {
	URL         string
	Title       string
	PublishHint *time.Time

	// Feed-derived hints; any may be empty.
	Description string
	Byline      string
	ImageURL    string
	Tags        []string
	Endpoint    string
}

// PreviewImage references the remote preview image and its local copy.
type PreviewImage struct {
	RemoteURL string `json:"remote_url"`
	LocalPath string `json:"local_path"`
}

// ArticleRecord is the persisted unit. URL is its only identity.
type ArticleRecord struct {
	ID           int64        `json:"id"`
	URL          string       `json:"url"`
	SourceSlug   string       `json:"source_slug"`
	SourceName   string       `json:"source_name"`
	Category     string       `json:"category"`
	Headline     string       `json:"headline"`
	Byline       string       `json:"byline"`
	Description  string       `json:"description"`
	Body         string       `json:"body"`
	PublishedAt  *time.Time   `json:"published_at,omitempty"`
	DiscoveredAt time.Time    `json:"discovered_at"`
	Image        PreviewImage `json:"image"`
	Tags         []string     `json:"tags"`
}

// SortTime is the timestamp used for ordering: publish time when known.
func (r ArticleRecord) SortTime() time.Time {
	if r.PublishedAt != nil && !r.PublishedAt.IsZero() {
		return *r.PublishedAt
	}
	return r.DiscoveredAt
}

// SourceCheckLog is appended once per poll attempt per source.
type SourceCheckLog struct {
	RunID          string    `json:"run_id"`
	SourceSlug     string    `json:"source_slug"`
	CheckedAt      time.Time `json:"checked_at"`
	Success        bool      `json:"success"`
	ItemsFound     int       `json:"items_found"`
	ItemsNew       int       `json:"items_new"`
	ItemsStored    int       `json:"items_stored"`
	ItemsDuplicate int       `json:"items_duplicate"`
	ItemsFailed    int       `json:"items_failed"`
	EndpointErrors int       `json:"endpoint_errors"`
	ErrorText      string    `json:"error_text,omitempty"`
}

// FetchOutcome is the transient result of one bypass strategy attempt.
type FetchOutcome struct {
	Strategy   string
	Success    bool
	StatusCode int
	Text       string
	TextLength int
	Reason     string
	Duration   time.Duration
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	SourceSlug string
	URL        string
	Headers    http.Header
	Timeout    time.Duration
	// MinInterval overrides the throttle spacing for SourceSlug.
	MinInterval time.Duration
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	Attempts     int
	UsedHeadless bool
}

// StoreOutcome distinguishes a fresh insert from an existing URL.
type StoreOutcome string

// Store outcomes.
const (
	Stored    StoreOutcome = "stored"
	Duplicate StoreOutcome = "duplicate"
)

// StoreResult is returned by ArticleStore.Store.
type StoreResult struct {
	Outcome StoreOutcome
	ID      int64
}

// URLSet is a uniqueness index of already stored URLs.
type URLSet map[string]struct{}

// Contains reports whether url is in the set.
func (s URLSet) Contains(url string) bool {
	_, ok := s[url]
	return ok
}

// Add inserts url into the set.
func (s URLSet) Add(url string) {
	s[url] = struct{}{}
}

// ArticleFilter narrows read-side queries.
type ArticleFilter struct {
	Category string
	Source   string
	After    *time.Time
	Limit    int
	Offset   int
}

// Stats summarizes stored content.
type Stats struct {
	TotalArticles int        `json:"total_articles"`
	TotalSources  int        `json:"total_sources"`
	Newest        *time.Time `json:"newest,omitempty"`
}
