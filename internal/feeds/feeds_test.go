package feeds_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dharsanguruparan/datavault/internal/access"
	"github.com/dharsanguruparan/datavault/internal/feeds"
	"github.com/dharsanguruparan/datavault/internal/model"
	"github.com/dharsanguruparan/datavault/internal/repository"
	"github.com/dharsanguruparan/datavault/internal/storage"
)

type fixture struct {
	store   *storage.MemoryStore
	index   *storage.MemoryIndex
	matcher *feeds.Matcher
	service *feeds.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	store := storage.NewMemoryStore()
	index := storage.NewMemoryIndex()
	matcher := feeds.NewMatcher(log, store, index, feeds.MatcherConfig{
		Index:       "file",
		Concurrency: 3,
		CacheSize:   16,
		CacheTTL:    time.Minute,
	})
	service := feeds.NewService(log, store, access.NewFilter(log, store))
	return &fixture{store: store, index: index, matcher: matcher, service: service}
}

func (f *fixture) listener(t *testing.T, name string, policy *model.AccessPolicy) *model.EventListener {
	t.Helper()
	l := &model.EventListener{Name: name, Access: policy}
	require.NoError(t, f.store.CreateListener(context.Background(), l))
	return l
}

func (f *fixture) feed(t *testing.T, name, search string, listeners ...model.FeedListener) *model.Feed {
	t.Helper()
	feed := &model.Feed{Name: name, Search: json.RawMessage(search), Listeners: listeners}
	require.NoError(t, f.service.Create(context.Background(), feed))
	return feed
}

func (f *fixture) file(t *testing.T, id, name string) *model.File {
	t.Helper()
	file := &model.File{ID: id, Name: name, Creator: "u@example.com", DatasetID: "d1"}
	require.NoError(t, f.index.Insert(context.Background(), "file", id, map[string]any{"name": name, "creator": file.Creator}))
	return file
}

func names(listeners []*model.EventListener) []string {
	var out []string
	for _, l := range listeners {
		out = append(out, l.Name)
	}
	return out
}

func TestMatchFeedsOnlyMatchingFeed(t *testing.T) {
	f := newFixture(t)
	csv := f.listener(t, "csv.parser", nil)
	txt := f.listener(t, "txt.parser", nil)
	manual := f.listener(t, "manual.only", nil)

	f.feed(t, "csv files", `{"match":{"name":"csv"}}`,
		model.FeedListener{ListenerID: csv.ID, Automatic: true},
		model.FeedListener{ListenerID: manual.ID, Automatic: false})
	f.feed(t, "text files", `{"match":{"name":"txt"}}`,
		model.FeedListener{ListenerID: txt.ID, Automatic: true})

	got, err := f.matcher.MatchFeeds(context.Background(), f.file(t, "f1", "data.csv"))
	require.NoError(t, err)
	require.Equal(t, []string{"csv.parser"}, names(got))
}

func TestMatchFeedsScopesToFile(t *testing.T) {
	f := newFixture(t)
	l := f.listener(t, "any", nil)
	f.feed(t, "csv", `{"match":{"name":"csv"}}`, model.FeedListener{ListenerID: l.ID, Automatic: true})

	f.file(t, "other", "older.csv")
	got, err := f.matcher.MatchFeeds(context.Background(), f.file(t, "f1", "notes.txt"))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestMatchFeedsDeduplicatesListeners(t *testing.T) {
	f := newFixture(t)
	shared := f.listener(t, "shared", nil)
	second := f.listener(t, "second", nil)
	f.feed(t, "all", `{"match_all":{}}`, model.FeedListener{ListenerID: shared.ID, Automatic: true})
	f.feed(t, "csv", `{"match":{"name":"csv"}}`,
		model.FeedListener{ListenerID: second.ID, Automatic: true},
		model.FeedListener{ListenerID: shared.ID, Automatic: true})

	got, err := f.matcher.MatchFeeds(context.Background(), f.file(t, "f1", "data.csv"))
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"shared", "second"}, names(got))
	require.Len(t, got, 2)
}

func TestMatchFeedsSkipsBrokenPredicateAndDanglingListener(t *testing.T) {
	f := newFixture(t)
	good := f.listener(t, "good", nil)
	gone := f.listener(t, "gone", nil)

	f.feed(t, "broken", `{"wildcard":{"name":"*"}}`, model.FeedListener{ListenerID: good.ID, Automatic: true})
	f.feed(t, "all", `{"match_all":{}}`,
		model.FeedListener{ListenerID: gone.ID, Automatic: true},
		model.FeedListener{ListenerID: good.ID, Automatic: true})
	require.NoError(t, f.store.DeleteListener(context.Background(), gone.ID))

	got, err := f.matcher.MatchFeeds(context.Background(), f.file(t, "f1", "data.csv"))
	require.NoError(t, err)
	require.Equal(t, []string{"good"}, names(got))
}

func TestListenerCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := f.listener(t, "cached", nil)
	_, err := f.matcher.Listener(ctx, l.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteListener(ctx, l.ID))

	got, err := f.matcher.Listener(ctx, l.ID)
	require.NoError(t, err)
	require.Equal(t, "cached", got.Name)

	f.matcher.Forget(l.ID)
	_, err = f.matcher.Listener(ctx, l.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)

	uncached := feeds.NewMatcher(zaptest.NewLogger(t), f.store, f.index, feeds.MatcherConfig{Index: "file", CacheSize: 4})
	l = f.listener(t, "uncached", nil)
	_, err = uncached.Listener(ctx, l.ID)
	require.NoError(t, err)
	require.NoError(t, f.store.DeleteListener(ctx, l.ID))
	_, err = uncached.Listener(ctx, l.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
	uncached.Forget(l.ID)
}

func TestCreateRejectsUnknownListener(t *testing.T) {
	f := newFixture(t)
	err := f.service.Create(context.Background(), &model.Feed{
		Name:      "x",
		Search:    json.RawMessage(`{"match_all":{}}`),
		Listeners: []model.FeedListener{{ListenerID: "missing", Automatic: true}},
	})
	require.ErrorIs(t, err, repository.ErrNotFound)

	err = f.service.Create(context.Background(), &model.Feed{Name: "x", Search: json.RawMessage(`{`)})
	require.True(t, feeds.Error.Has(err))
}

func TestAssociateListenerChecksAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	restricted := f.listener(t, "restricted", &model.AccessPolicy{Owner: "owner@example.com", Groups: []string{"g1"}})
	feed := f.feed(t, "all", `{"match_all":{}}`)

	err := f.service.AssociateListener(ctx, feed.ID, restricted.ID, true, model.Actor{Email: "u@example.com"})
	require.True(t, access.ErrUnauthorized.Has(err))

	require.NoError(t, f.store.CreateGroup(ctx, &model.Group{ID: "g1", Creator: "owner@example.com", Members: []string{"u@example.com"}}))
	require.NoError(t, f.service.AssociateListener(ctx, feed.ID, restricted.ID, true, model.Actor{Email: "u@example.com"}))

	got, err := f.service.Get(ctx, feed.ID)
	require.NoError(t, err)
	require.Equal(t, []string{restricted.ID}, got.AutomaticListeners())

	err = f.service.DisassociateListener(ctx, feed.ID, restricted.ID, model.Actor{Email: "stranger@example.com"})
	require.True(t, access.ErrUnauthorized.Has(err))
	got, err = f.service.Get(ctx, feed.ID)
	require.NoError(t, err)
	require.Len(t, got.Listeners, 1)

	require.NoError(t, f.service.DisassociateListener(ctx, feed.ID, restricted.ID, model.Actor{Email: "u@example.com"}))
	got, err = f.service.Get(ctx, feed.ID)
	require.NoError(t, err)
	require.Empty(t, got.Listeners)

	err = f.service.AssociateListener(ctx, "missing", restricted.ID, true, model.Actor{Admin: true})
	require.True(t, errors.Is(err, repository.ErrNotFound))
}

func TestDisassociateDanglingListener(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gone := f.listener(t, "gone", &model.AccessPolicy{Owner: "owner@example.com"})
	feed := f.feed(t, "all", `{"match_all":{}}`, model.FeedListener{ListenerID: gone.ID, Automatic: true})
	require.NoError(t, f.store.DeleteListener(ctx, gone.ID))

	require.NoError(t, f.service.DisassociateListener(ctx, feed.ID, gone.ID, model.Actor{Email: "u@example.com"}))
	got, err := f.service.Get(ctx, feed.ID)
	require.NoError(t, err)
	require.Empty(t, got.Listeners)
}

func TestListAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.feed(t, "a", `{"match_all":{}}`)
	f.feed(t, "b", `{"match_all":{}}`)

	all, err := f.service.List(ctx, "", 0, 10)
	require.NoError(t, err)
	require.Len(t, all, 2)

	require.NoError(t, f.service.Delete(ctx, a.ID))
	_, err = f.service.Get(ctx, a.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.ErrorIs(t, f.service.Delete(ctx, a.ID), repository.ErrNotFound)
}
