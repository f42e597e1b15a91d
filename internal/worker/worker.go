// Package worker runs one poll of a source: discovery, deduplication,
// enrichment, content resolution, storage and notification.
package worker

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/news-archiver/internal/archiver"
	"github.com/JakeFAU/news-archiver/internal/bypass"
	"github.com/JakeFAU/news-archiver/internal/dedup"
	"github.com/JakeFAU/news-archiver/internal/metrics"
)

// CandidateSource discovers candidates for a source.
type CandidateSource interface {
	Candidates(ctx context.Context, src archiver.Source, onEndpointError func(endpoint string, err error)) iter.Seq[archiver.Candidate]
}

// Enricher builds article records from candidates.
type Enricher interface {
	Base(src archiver.Source, c archiver.Candidate) archiver.ArticleRecord
	Enrich(ctx context.Context, src archiver.Source, c archiver.Candidate) archiver.ArticleRecord
	CacheImage(ctx context.Context, src archiver.Source, record *archiver.ArticleRecord)
}

// ContentResolver retrieves article text.
type ContentResolver interface {
	Resolve(ctx context.Context, src archiver.Source, c archiver.Candidate) bypass.Resolution
}

// Config controls Worker behavior.
type Config struct {
	// Enrich fetches landing pages for metadata. When false only feed data is used.
	Enrich bool
	// Topic receives an Event per stored article. Empty disables notifications.
	Topic string
}

// Event is published after an article is stored.
type Event struct {
	ID       int64     `json:"id"`
	URL      string    `json:"url"`
	Source   string    `json:"source"`
	Category string    `json:"category"`
	Headline string    `json:"headline"`
	Strategy string    `json:"strategy"`
	Complete bool      `json:"complete"`
	StoredAt time.Time `json:"stored_at"`
}

// Worker polls sources.
type Worker struct {
	feeds     CandidateSource
	store     archiver.ArticleStore
	enricher  Enricher
	resolver  ContentResolver
	publisher archiver.Publisher
	clock     archiver.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher may be nil.
func New(
	feeds CandidateSource,
	store archiver.ArticleStore,
	enricher Enricher,
	resolver ContentResolver,
	publisher archiver.Publisher,
	clock archiver.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		feeds:     feeds,
		store:     store,
		enricher:  enricher,
		resolver:  resolver,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// Poll processes one source and appends its check log. The returned error is
// non-nil only when storage became unavailable.
func (w *Worker) Poll(ctx context.Context, runID string, src archiver.Source) (archiver.SourceCheckLog, error) {
	logger := w.logger.With(zap.String("run_id", runID), zap.String("source", src.Slug))
	check := archiver.SourceCheckLog{
		RunID:      runID,
		SourceSlug: src.Slug,
		CheckedAt:  w.clock.Now(),
	}

	var endpointErrs []string
	var candidates []archiver.Candidate
	for c := range w.feeds.Candidates(ctx, src, func(endpoint string, err error) {
		endpointErrs = append(endpointErrs, fmt.Sprintf("%s: %v", endpoint, err))
		logger.Warn("endpoint failed", zap.String("endpoint", endpoint), zap.Error(err))
	}) {
		candidates = append(candidates, c)
	}
	check.ItemsFound = len(candidates)
	check.EndpointErrors = len(endpointErrs)

	err := w.process(ctx, src, candidates, &check, logger)
	switch {
	case err != nil:
		check.ErrorText = err.Error()
	case len(candidates) == 0 && len(endpointErrs) > 0 && len(endpointErrs) >= len(src.Feeds):
		check.ErrorText = strings.Join(endpointErrs, "; ")
	case ctx.Err() != nil:
		check.ErrorText = ctx.Err().Error()
	default:
		check.Success = true
		if len(endpointErrs) > 0 {
			check.ErrorText = strings.Join(endpointErrs, "; ")
		}
	}

	if logErr := w.store.AppendCheckLog(context.WithoutCancel(ctx), check); logErr != nil {
		logger.Error("append check log failed", zap.Error(logErr))
		if err == nil && errors.Is(logErr, archiver.ErrStorageUnavailable) {
			err = logErr
		}
	}
	logger.Info("source polled",
		zap.Bool("success", check.Success),
		zap.Int("found", check.ItemsFound),
		zap.Int("new", check.ItemsNew),
		zap.Int("stored", check.ItemsStored),
		zap.Int("duplicate", check.ItemsDuplicate),
		zap.Int("failed", check.ItemsFailed),
	)
	return check, err
}

func (w *Worker) process(
	ctx context.Context,
	src archiver.Source,
	candidates []archiver.Candidate,
	check *archiver.SourceCheckLog,
	logger *zap.Logger,
) error {
	if len(candidates) == 0 {
		return nil
	}
	existing, err := w.store.ExistingURLs(ctx, dedup.URLs(candidates))
	if err != nil {
		if errors.Is(err, archiver.ErrStorageUnavailable) {
			return fmt.Errorf("load existing urls: %w", err)
		}
		logger.Warn("existing url lookup failed, relying on store uniqueness", zap.Error(err))
		existing = archiver.URLSet{}
	}
	fresh := dedup.Filter(candidates, existing)
	check.ItemsNew = len(fresh)
	check.ItemsDuplicate = len(candidates) - len(fresh)

	for _, c := range fresh {
		if ctx.Err() != nil {
			return nil
		}
		if err := w.handleCandidate(ctx, src, c, check, logger); err != nil {
			return err
		}
	}
	return nil
}

func (w *Worker) handleCandidate(
	ctx context.Context,
	src archiver.Source,
	c archiver.Candidate,
	check *archiver.SourceCheckLog,
	logger *zap.Logger,
) error {
	logger = logger.With(zap.String("url", c.URL))

	var record archiver.ArticleRecord
	if w.cfg.Enrich {
		record = w.enricher.Enrich(ctx, src, c)
	} else {
		record = w.enricher.Base(src, c)
		w.enricher.CacheImage(ctx, src, &record)
	}

	res := w.resolver.Resolve(ctx, src, c)
	record.Body = res.Text
	if !res.Sufficient {
		logger.Warn("storing incomplete article",
			zap.Error(archiver.ErrInsufficientContent),
			zap.Int("attempts", len(res.Attempts)),
		)
	}
	if ctx.Err() != nil {
		return nil
	}

	result, err := w.store.Store(ctx, record)
	if err != nil {
		if errors.Is(err, archiver.ErrStorageUnavailable) {
			check.ItemsFailed++
			return fmt.Errorf("store %s: %w", c.URL, err)
		}
		check.ItemsFailed++
		metrics.ObserveArticle(src.Slug, "failed")
		logger.Error("store article failed", zap.Error(err))
		return nil
	}

	if result.Outcome == archiver.Duplicate {
		check.ItemsDuplicate++
		metrics.ObserveArticle(src.Slug, string(archiver.Duplicate))
		logger.Debug("article already stored", zap.Int64("id", result.ID))
		return nil
	}
	check.ItemsStored++
	outcome := "stored"
	if !res.Sufficient {
		outcome = "incomplete"
	}
	metrics.ObserveArticle(src.Slug, outcome)
	logger.Info("article stored", zap.Int64("id", result.ID), zap.String("strategy", res.Strategy))

	w.publish(ctx, Event{
		ID:       result.ID,
		URL:      record.URL,
		Source:   src.Slug,
		Category: record.Category,
		Headline: record.Headline,
		Strategy: res.Strategy,
		Complete: res.Sufficient,
		StoredAt: w.clock.Now(),
	}, logger)
	return nil
}

func (w *Worker) publish(ctx context.Context, event Event, logger *zap.Logger) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, event)
	if err != nil {
		logger.Warn("publish event failed", zap.Error(err))
		return
	}
	logger.Debug("event published", zap.String("message_id", id))
}
