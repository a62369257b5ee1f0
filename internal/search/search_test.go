package search

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dharsanguruparan/datavault/internal/model"
)

type recorded struct {
	method string
	path   string
	query  string
	body   string
}

// fakeCluster answers like Elasticsearch closely enough for the client's
// product check and records every request.
func fakeCluster(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Index, *[]recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recorded{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: string(body)})
		mu.Unlock()
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	ix, err := New(zaptest.NewLogger(t), Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return ix, &reqs
}

func TestInsertWaitsForRefresh(t *testing.T) {
	ix, reqs := fakeCluster(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"result":"created"}`)
	})

	err := ix.Insert(context.Background(), "file", "f1", map[string]any{"name": "a.txt"})
	require.NoError(t, err)
	require.Len(t, *reqs, 1)
	got := (*reqs)[0]
	require.Equal(t, http.MethodPut, got.method)
	require.Equal(t, "/file/_doc/f1", got.path)
	require.Contains(t, got.query, "refresh=wait_for")
	require.JSONEq(t, `{"name":"a.txt"}`, got.body)
}

func TestUpdateSendsPartialDocument(t *testing.T) {
	ix, reqs := fakeCluster(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"result":"updated"}`)
	})

	require.NoError(t, ix.Update(context.Background(), "file", "f1", map[string]any{"bytes": 10}))
	got := (*reqs)[0]
	require.Equal(t, "/file/_update/f1", got.path)
	require.JSONEq(t, `{"doc":{"bytes":10}}`, got.body)
}

func TestDeleteMissingDocumentSucceeds(t *testing.T) {
	ix, _ := fakeCluster(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"result":"not_found"}`)
	})
	require.NoError(t, ix.DeleteByID(context.Background(), "file", "gone"))
}

func TestErrorsCarryStatus(t *testing.T) {
	ix, _ := fakeCluster(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"type":"parsing_exception"}}`)
	})

	_, err := ix.Query(context.Background(), "file", json.RawMessage(`{"bogus":{}}`), 1)
	require.Error(t, err)
	require.True(t, Error.Has(err))
	require.Contains(t, err.Error(), "parsing_exception")
}

func TestQueryParsesHits(t *testing.T) {
	ix, reqs := fakeCluster(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"hits":{"total":{"value":1},"hits":[{"_id":"f1","_source":{"name":"a.txt"}}]}}`)
	})

	hits, err := ix.Query(context.Background(), "file", ScopeToID(json.RawMessage(`{"match":{"name":"a"}}`), "f1"), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, "f1", hits[0].ID)
	require.Equal(t, "a.txt", hits[0].Source["name"])

	got := (*reqs)[0]
	require.Equal(t, "/file/_search", got.path)
	require.JSONEq(t, `{
		"query": {"bool": {
			"must": [{"match": {"name": "a"}}],
			"filter": [{"ids": {"values": ["f1"]}}]
		}},
		"size": 1
	}`, got.body)
}

func TestQueryRejectsInvalidPredicate(t *testing.T) {
	ix, reqs := fakeCluster(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := ix.Query(context.Background(), "file", json.RawMessage(`{not json`), 1)
	require.Error(t, err)
	require.Empty(t, *reqs)
}

func TestPing(t *testing.T) {
	status := http.StatusOK
	ix, _ := fakeCluster(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	})
	require.NoError(t, ix.Ping(context.Background()))

	status = http.StatusServiceUnavailable
	require.Error(t, ix.Ping(context.Background()))
}

func TestFileDocument(t *testing.T) {
	folder := "folder-1"
	f := &model.File{
		ID: "f1", Name: "a.txt", DatasetID: "d1", FolderID: &folder, Creator: "u@example.com",
		Created: time.Unix(0, 0).UTC(), Bytes: 3, ContentType: "text/plain", VersionNum: 2,
	}
	doc := FileDocument(f)
	require.Equal(t, "folder-1", doc["folder_id"])
	require.Equal(t, "d1", doc["dataset_id"])

	update := FileUpdate(f)
	require.NotContains(t, update, "dataset_id")
	require.Equal(t, 2, update["version_num"])
}
