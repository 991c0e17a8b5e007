package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"jerosync/internal/constants"
	apperrors "jerosync/internal/errors"
	"jerosync/internal/metrics"
	"jerosync/internal/models"
	"jerosync/pkg/gateway"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ContactSource provides the principals whose statuses are visible to self
type ContactSource interface {
	List(ctx context.Context) ([]string, error)
}

// StatusAggregatorOptions tune the fan-out. Zero values use defaults.
type StatusAggregatorOptions struct {
	Concurrency       int
	RequestsPerSecond float64
	CacheTTL          time.Duration
}

// StatusAggregator builds the status feed by asking the backend for each
// visible author and merging the answers into one time-ordered list.
type StatusAggregator struct {
	gateway  gateway.Client
	contacts ContactSource
	logger   *logrus.Logger
	sem      chan struct{}
	limiter  *rate.Limiter
	cacheTTL time.Duration
	now      func() time.Time

	mu         sync.Mutex
	cached     *models.Feed
	cachedAt   time.Time
	generation uint64
}

// NewStatusAggregator creates an aggregator reading contacts from the given source
func NewStatusAggregator(gw gateway.Client, contacts ContactSource, opts StatusAggregatorOptions, logger *logrus.Logger) *StatusAggregator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = constants.DefaultStatusFanOutConcurrency
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = constants.DefaultStatusRequestsPerSecond
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Duration(constants.DefaultStatusFeedCacheSec) * time.Second
	}

	return &StatusAggregator{
		gateway:  gw,
		contacts: contacts,
		logger:   logger,
		sem:      make(chan struct{}, opts.Concurrency),
		limiter:  rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Concurrency),
		cacheTTL: opts.CacheTTL,
		now:      time.Now,
	}
}

// ListVisible fetches statuses for self and every contact. An author whose
// fetch fails is skipped; the call itself never fails.
func (a *StatusAggregator) ListVisible(ctx context.Context, selfID string, contactIDs []string) []models.StatusItem {
	authors := visibleAuthors(selfID, contactIDs)
	results := make([][]models.StatusItem, len(authors))
	start := time.Now()

	var wg sync.WaitGroup
	for i, author := range authors {
		wg.Add(1)
		go func(i int, author string) {
			defer wg.Done()
			results[i] = a.fetchAuthor(ctx, author)
		}(i, author)
	}
	wg.Wait()

	var items []models.StatusItem
	for _, r := range results {
		items = append(items, r...)
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Timestamp > items[j].Timestamp
	})

	metrics.RecordTimer("status_fan_out_duration", time.Since(start), nil, "Status fan-out latency")
	a.logger.WithFields(logrus.Fields{
		"authors":     len(authors),
		LogFieldCount: len(items),
	}).Debug("Status fan-out completed")

	if items == nil {
		items = []models.StatusItem{}
	}
	return items
}

func (a *StatusAggregator) fetchAuthor(ctx context.Context, author string) []models.StatusItem {
	select {
	case a.sem <- struct{}{}:
		defer func() { <-a.sem }()
	case <-ctx.Done():
		a.recordAuthorFailure(ctx, author, apperrors.Wrap(ctx.Err(), apperrors.ErrCodeTimeout, "status fan-out cancelled"))
		return nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		a.recordAuthorFailure(ctx, author, apperrors.Wrap(err, apperrors.ErrCodeTimeout, "status fan-out rate limit wait"))
		return nil
	}

	items, err := a.gateway.FetchStatusesForAuthor(ctx, author)
	if err != nil {
		a.recordAuthorFailure(ctx, author, err)
		return nil
	}
	return items
}

func (a *StatusAggregator) recordAuthorFailure(ctx context.Context, author string, err error) {
	code := apperrors.GetCode(err)
	metrics.IncrementCounter("status_author_fetch_failures_total", map[string]string{
		"code": string(code),
	}, "Status authors skipped because their fetch failed")
	a.logger.WithFields(apperrors.Fields(err)).
		WithField(LogFieldAuthor, principalField(ctx, author)).
		Warn("Skipping status author: fetch failed")
}

// visibleAuthors is the canonical, de-duplicated union of self and contacts, self first
func visibleAuthors(selfID string, contactIDs []string) []string {
	seen := make(map[string]struct{}, len(contactIDs)+1)
	authors := make([]string, 0, len(contactIDs)+1)

	add := func(id string) {
		key := models.CanonicalID(id)
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		authors = append(authors, key)
	}

	add(selfID)
	for _, id := range contactIDs {
		add(id)
	}
	return authors
}

// VisibleFeed resolves contacts and aggregates their statuses. Only a
// failure to list contacts surfaces, as Feed.Err with no items.
func (a *StatusAggregator) VisibleFeed(ctx context.Context, selfID string) models.Feed {
	a.mu.Lock()
	if a.cached != nil && a.now().Sub(a.cachedAt) < a.cacheTTL {
		feed := copyFeed(*a.cached)
		a.mu.Unlock()
		return feed
	}
	generation := a.generation
	a.mu.Unlock()

	contacts, err := a.contacts.List(ctx)
	if err != nil {
		a.logger.WithFields(apperrors.Fields(err)).Warn("Failed to list contacts for status feed")
		return models.Feed{Items: []models.StatusItem{}, Err: err}
	}

	feed := models.Feed{Items: a.ListVisible(ctx, selfID, contacts)}

	// A cancelled fan-out skipped authors that did not fail on their own,
	// and an invalidation during the fetch makes the result stale.
	if ctx.Err() != nil {
		a.logger.WithError(ctx.Err()).Debug("Status feed not cached: request ended during fan-out")
		return feed
	}

	a.mu.Lock()
	if a.generation == generation {
		cached := copyFeed(feed)
		a.cached = &cached
		a.cachedAt = a.now()
	}
	a.mu.Unlock()

	return feed
}

// Invalidate drops the cached feed so the next VisibleFeed refetches.
// Fetches already in flight will not write their result back.
func (a *StatusAggregator) Invalidate() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cached = nil
	a.generation++
}

func copyFeed(f models.Feed) models.Feed {
	return models.Feed{Items: append([]models.StatusItem{}, f.Items...), Err: f.Err}
}

// GroupByAuthor groups items by author in order of first appearance,
// preserving the input order within each group.
func GroupByAuthor(items []models.StatusItem) []models.AuthorGroup {
	index := make(map[string]int)
	var groups []models.AuthorGroup

	for _, item := range items {
		key := models.CanonicalID(item.Author)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, models.AuthorGroup{Author: item.Author})
		}
		groups[i].Items = append(groups[i].Items, item)
	}
	return groups
}

// TimeAgo renders a status timestamp (nanoseconds) relative to now
func TimeAgo(ts int64, now time.Time) string {
	hours := int(now.Sub(time.Unix(0, ts)) / time.Hour)
	switch {
	case hours < 1:
		return "Just now"
	case hours == 1:
		return "1 hour ago"
	default:
		return fmt.Sprintf("%d hours ago", hours)
	}
}
