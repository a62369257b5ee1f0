package storage

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/datavault/internal/model"
	"github.com/dharsanguruparan/datavault/internal/repository"
)

func TestMemoryStoreFiles(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	id, err := m.InsertFile(ctx, &model.File{Name: "a.txt", Creator: "u@example.com"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	f, err := m.GetFile(ctx, id)
	require.NoError(t, err)
	require.True(t, f.Provisional())

	f.Name = "changed"
	got, err := m.GetFile(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "a.txt", got.Name, "GetFile must return a copy")

	require.ErrorIs(t, m.ReplaceFile(ctx, &model.File{ID: "missing"}), repository.ErrNotFound)

	n, err := m.DeleteFile(ctx, id)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	n, err = m.DeleteFile(ctx, id)
	require.NoError(t, err)
	require.Zero(t, n)

	_, err = m.GetFile(ctx, id)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreVersions(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	for _, num := range []int{2, 1, 3} {
		require.NoError(t, m.InsertVersion(ctx, &model.FileVersion{FileID: "f", VersionNum: num}))
	}
	require.ErrorIs(t, m.InsertVersion(ctx, &model.FileVersion{FileID: "f", VersionNum: 2}), repository.ErrConflict)

	versions, err := m.ListVersions(ctx, "f", 1, 5)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	require.Equal(t, 2, versions[0].VersionNum)
	require.Equal(t, 3, versions[1].VersionNum)

	n, err := m.DeleteVersions(ctx, "f")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestMemoryStoreAddBytesIsAtomic(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateUser(ctx, &model.User{Email: "u@example.com"}))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int64
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := m.AddBytes(ctx, "u@example.com", 3, 100)
			if err == nil && ok {
				mu.Lock()
				admitted += 3
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	u, err := m.GetUser(ctx, "u@example.com")
	require.NoError(t, err)
	require.Equal(t, admitted, u.TotalBytes)
	require.LessOrEqual(t, u.TotalBytes, int64(100))

	total, err := m.SubtractBytes(ctx, "u@example.com", 1000)
	require.NoError(t, err)
	require.Zero(t, total)
}

func TestMemoryStoreFeeds(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	manual := &model.Feed{Name: "manual", Listeners: []model.FeedListener{{ListenerID: "l1"}}}
	auto := &model.Feed{Name: "auto", Search: json.RawMessage(`{"match_all":{}}`)}
	require.NoError(t, m.CreateFeed(ctx, manual))
	require.NoError(t, m.CreateFeed(ctx, auto))

	feeds, err := m.AutomaticFeeds(ctx)
	require.NoError(t, err)
	require.Empty(t, feeds)

	require.NoError(t, m.AddFeedListener(ctx, auto.ID, model.FeedListener{ListenerID: "l2", Automatic: true}))
	feeds, err = m.AutomaticFeeds(ctx)
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	require.Equal(t, []string{"l2"}, feeds[0].AutomaticListeners())

	require.NoError(t, m.RemoveFeedListener(ctx, auto.ID, "l2"))
	got, err := m.GetFeed(ctx, auto.ID)
	require.NoError(t, err)
	require.Empty(t, got.Listeners)

	listed, err := m.ListFeeds(ctx, "manual", 0, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestMemoryStoreGroups(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	require.NoError(t, m.CreateGroup(ctx, &model.Group{ID: "g1", Creator: "owner@example.com"}))
	require.NoError(t, m.CreateGroup(ctx, &model.Group{ID: "g2", Creator: "x@example.com", Members: []string{"owner@example.com"}}))
	require.NoError(t, m.CreateGroup(ctx, &model.Group{ID: "g3", Creator: "x@example.com"}))

	ids, err := m.GroupIDsForUser(ctx, "owner@example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"g1", "g2"}, ids)
}

func TestMemoryObjectsVersions(t *testing.T) {
	ctx := context.Background()
	o := NewMemoryObjects()

	v1, n, err := o.Put(ctx, "k", strings.NewReader("one"), "text/plain")
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
	v2, _, err := o.Put(ctx, "k", strings.NewReader("second"), "text/plain")
	require.NoError(t, err)
	require.NotEqual(t, v1, v2)

	rc, err := o.Get(ctx, "k", "")
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "second", string(body))

	require.NoError(t, o.Remove(ctx, "k", v2))
	require.Equal(t, []string{v1}, o.Versions("k"))
	require.NoError(t, o.Remove(ctx, "k", "unknown"))

	removed, err := o.RemoveAll(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, 1, removed)
	_, err = o.Get(ctx, "k", v1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryIndexQuery(t *testing.T) {
	ctx := context.Background()
	ix := NewMemoryIndex()
	require.NoError(t, ix.Insert(ctx, "file", "a", map[string]any{"name": "Sensor Data.csv", "creator": "u@example.com"}))
	require.NoError(t, ix.Insert(ctx, "file", "b", map[string]any{"name": "notes.txt", "creator": "v@example.com"}))

	cases := []struct {
		query string
		want  []string
	}{
		{`{"match_all":{}}`, []string{"a", "b"}},
		{`{"term":{"creator":"u@example.com"}}`, []string{"a"}},
		{`{"match":{"name":"sensor"}}`, []string{"a"}},
		{`{"match":{"name":{"query":"DATA sensor"}}}`, []string{"a"}},
		{`{"prefix":{"name":"notes"}}`, []string{"b"}},
		{`{"bool":{"must":{"match_all":{}},"must_not":[{"ids":{"values":["a"]}}]}}`, []string{"b"}},
		{`{"bool":{"should":[{"term":{"creator":"nobody"}},{"ids":{"values":["b"]}}]}}`, []string{"b"}},
	}
	for _, tc := range cases {
		hits, err := ix.Query(ctx, "file", json.RawMessage(tc.query), 10)
		require.NoError(t, err, tc.query)
		var ids []string
		for _, h := range hits {
			ids = append(ids, h.ID)
		}
		require.Equal(t, tc.want, ids, tc.query)
	}

	_, err := ix.Query(ctx, "file", json.RawMessage(`{"wildcard":{"name":"*"}}`), 10)
	require.Error(t, err)

	require.NoError(t, ix.Update(ctx, "file", "a", map[string]any{"content": "hello"}))
	doc, ok := ix.Document("file", "a")
	require.True(t, ok)
	require.Equal(t, "hello", doc["content"])
	require.Equal(t, "Sensor Data.csv", doc["name"])

	require.NoError(t, ix.DeleteByID(ctx, "file", "a"))
	require.NoError(t, ix.DeleteByID(ctx, "file", "a"))
}
