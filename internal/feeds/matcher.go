// Package feeds evaluates saved searches against newly ingested files and
// manages feeds and their listener subscriptions.
package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/datavault/internal/model"
	"github.com/dharsanguruparan/datavault/internal/repository"
	"github.com/dharsanguruparan/datavault/internal/search"
)

// Error is the class of feed failures.
var Error = errs.Class("feeds")

var (
	feedsEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "datavault_feed_evaluations_total",
		Help: "Feed predicates evaluated against new files, by result.",
	}, []string{"result"})
	danglingListeners = promauto.NewCounter(prometheus.CounterOpts{
		Name: "datavault_feed_dangling_listeners_total",
		Help: "Feed listener associations skipped because the listener no longer exists.",
	})
)

// Store is the subset of the metadata store the feeds package reads and
// writes.
type Store interface {
	AutomaticFeeds(ctx context.Context) ([]model.Feed, error)
	CreateFeed(ctx context.Context, f *model.Feed) error
	GetFeed(ctx context.Context, id string) (*model.Feed, error)
	ListFeeds(ctx context.Context, name string, offset, limit int) ([]model.Feed, error)
	DeleteFeed(ctx context.Context, id string) error
	AddFeedListener(ctx context.Context, feedID string, l model.FeedListener) error
	RemoveFeedListener(ctx context.Context, feedID, listenerID string) error
	GetListener(ctx context.Context, id string) (*model.EventListener, error)
}

// Index runs predicates.
type Index interface {
	Query(ctx context.Context, index string, predicate json.RawMessage, size int) ([]search.Hit, error)
}

// MatcherConfig tunes feed evaluation.
type MatcherConfig struct {
	Index       string
	Concurrency int
	CacheSize   int
	// CacheTTL bounds how long a listener is served from the cache. Zero
	// disables the cache.
	CacheTTL time.Duration
}

// Matcher finds the listeners subscribed to a file through feeds.
type Matcher struct {
	log       *zap.Logger
	store     Store
	index     Index
	cfg       MatcherConfig
	listeners *expirable.LRU[string, *model.EventListener]
}

// NewMatcher constructs a Matcher.
func NewMatcher(log *zap.Logger, store Store, index Index, cfg MatcherConfig) *Matcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1
	}
	m := &Matcher{log: log, store: store, index: index, cfg: cfg}
	if cfg.CacheTTL > 0 {
		m.listeners = expirable.NewLRU[string, *model.EventListener](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return m
}

// MatchFeeds returns the automatic listeners of every feed whose predicate
// matches file. Listeners appear once, in the order first seen across feeds.
// A feed whose predicate fails is skipped, as is a listener that no longer
// exists.
func (m *Matcher) MatchFeeds(ctx context.Context, file *model.File) ([]*model.EventListener, error) {
	feeds, err := m.store.AutomaticFeeds(ctx)
	if err != nil {
		return nil, Error.New("load feeds: %v", err)
	}

	matched := make([]bool, len(feeds))
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(m.cfg.Concurrency)
	for i := range feeds {
		i := i
		feed := &feeds[i]
		group.Go(func() error {
			ok, err := m.Matches(gctx, feed, file.ID)
			if err != nil {
				feedsEvaluated.WithLabelValues("error").Inc()
				m.log.Warn("feed predicate failed, skipping",
					zap.String("feed", feed.ID),
					zap.String("file", file.ID),
					zap.Error(err))
				return nil
			}
			if ok {
				feedsEvaluated.WithLabelValues("match").Inc()
			} else {
				feedsEvaluated.WithLabelValues("miss").Inc()
			}
			matched[i] = ok
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, Error.Wrap(err)
	}

	seen := make(map[string]bool)
	var out []*model.EventListener
	for i, feed := range feeds {
		if !matched[i] {
			continue
		}
		for _, id := range feed.AutomaticListeners() {
			if seen[id] {
				continue
			}
			seen[id] = true
			listener, err := m.Listener(ctx, id)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					danglingListeners.Inc()
					m.log.Warn("feed references missing listener",
						zap.String("feed", feed.ID),
						zap.String("listener", id))
				} else {
					m.log.Error("load listener", zap.String("listener", id), zap.Error(err))
				}
				continue
			}
			out = append(out, listener)
		}
	}
	return out, nil
}

// Matches reports whether feed's predicate selects the document fileID.
func (m *Matcher) Matches(ctx context.Context, feed *model.Feed, fileID string) (bool, error) {
	if len(feed.Search) == 0 {
		return false, Error.New("feed %s has no search predicate", feed.ID)
	}
	hits, err := m.index.Query(ctx, m.cfg.Index, search.ScopeToID(feed.Search, fileID), 1)
	if err != nil {
		return false, err
	}
	return len(hits) > 0, nil
}

// Listener returns a listener by id through the cache.
func (m *Matcher) Listener(ctx context.Context, id string) (*model.EventListener, error) {
	if m.listeners == nil {
		return m.store.GetListener(ctx, id)
	}
	if l, ok := m.listeners.Get(id); ok {
		return l, nil
	}
	l, err := m.store.GetListener(ctx, id)
	if err != nil {
		return nil, err
	}
	m.listeners.Add(id, l)
	return l, nil
}

// Forget drops a listener from the cache.
func (m *Matcher) Forget(id string) {
	if m.listeners != nil {
		m.listeners.Remove(id)
	}
}
