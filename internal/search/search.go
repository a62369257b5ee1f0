// Package search indexes file metadata in Elasticsearch and runs saved-search
// predicates against it.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/model"
)

// Error is the class of search index failures.
var Error = errs.Class("search")

// Hit is one matching document.
type Hit struct {
	ID     string         `json:"_id"`
	Source map[string]any `json:"_source"`
}

// Config selects the cluster.
type Config struct {
	Addresses []string
	Username  string
	Password  string
}

// Index wraps an Elasticsearch client.
type Index struct {
	log    *zap.Logger
	client *elasticsearch.Client
}

// New creates a client. No request is made until the first call.
func New(log *zap.Logger, cfg Config) (*Index, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, Error.New("init client: %v", err)
	}
	return &Index{log: log, client: client}, nil
}

// Ping checks the cluster answers.
func (ix *Index) Ping(ctx context.Context) error {
	res, err := ix.client.Ping(ix.client.Ping.WithContext(ctx))
	if err != nil {
		return Error.New("ping: %v", err)
	}
	defer drain(res)
	if res.IsError() {
		return Error.New("ping: %s", res.Status())
	}
	return nil
}

// EnsureIndex creates the index with the given mappings if it is missing.
func (ix *Index) EnsureIndex(ctx context.Context, name string, mappings string) error {
	res, err := ix.client.Indices.Exists([]string{name}, ix.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return Error.New("check index %s: %v", name, err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		return nil
	}
	res, err = ix.client.Indices.Create(name,
		ix.client.Indices.Create.WithContext(ctx),
		ix.client.Indices.Create.WithBody(bytes.NewReader([]byte(mappings))),
	)
	if err != nil {
		return Error.New("create index %s: %v", name, err)
	}
	defer drain(res)
	if res.IsError() {
		return responseError("create index "+name, res)
	}
	ix.log.Info("search index created", zap.String("index", name))
	return nil
}

// Insert stores doc under id, replacing any previous document. The call waits
// for a refresh so the document is searchable when it returns.
func (ix *Index) Insert(ctx context.Context, index, id string, doc any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return Error.New("encode document: %v", err)
	}
	res, err := ix.client.Index(index, bytes.NewReader(body),
		ix.client.Index.WithContext(ctx),
		ix.client.Index.WithDocumentID(id),
		ix.client.Index.WithRefresh("wait_for"),
	)
	if err != nil {
		return Error.New("index %s/%s: %v", index, id, err)
	}
	defer drain(res)
	if res.IsError() {
		return responseError("index "+index+"/"+id, res)
	}
	return nil
}

// Update merges partial into the existing document.
func (ix *Index) Update(ctx context.Context, index, id string, partial any) error {
	body, err := json.Marshal(map[string]any{"doc": partial})
	if err != nil {
		return Error.New("encode update: %v", err)
	}
	res, err := ix.client.Update(index, id, bytes.NewReader(body),
		ix.client.Update.WithContext(ctx),
		ix.client.Update.WithRefresh("wait_for"),
	)
	if err != nil {
		return Error.New("update %s/%s: %v", index, id, err)
	}
	defer drain(res)
	if res.IsError() {
		return responseError("update "+index+"/"+id, res)
	}
	return nil
}

// DeleteByID removes a document. A missing document is not an error.
func (ix *Index) DeleteByID(ctx context.Context, index, id string) error {
	res, err := ix.client.Delete(index, id,
		ix.client.Delete.WithContext(ctx),
		ix.client.Delete.WithRefresh("true"),
	)
	if err != nil {
		return Error.New("delete %s/%s: %v", index, id, err)
	}
	defer drain(res)
	if res.StatusCode == http.StatusNotFound {
		return nil
	}
	if res.IsError() {
		return responseError("delete "+index+"/"+id, res)
	}
	return nil
}

// Query runs predicate, an Elasticsearch query clause, and returns up to size
// hits.
func (ix *Index) Query(ctx context.Context, index string, predicate json.RawMessage, size int) ([]Hit, error) {
	if !json.Valid(predicate) {
		return nil, Error.New("predicate is not valid JSON")
	}
	body, err := json.Marshal(map[string]any{
		"query": predicate,
		"size":  size,
	})
	if err != nil {
		return nil, Error.New("encode query: %v", err)
	}
	res, err := ix.client.Search(
		ix.client.Search.WithContext(ctx),
		ix.client.Search.WithIndex(index),
		ix.client.Search.WithBody(bytes.NewReader(body)),
		ix.client.Search.WithTimeout(10*time.Second),
	)
	if err != nil {
		return nil, Error.New("search %s: %v", index, err)
	}
	defer drain(res)
	if res.IsError() {
		return nil, responseError("search "+index, res)
	}
	var parsed struct {
		Hits struct {
			Hits []Hit `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, Error.New("decode search response: %v", err)
	}
	return parsed.Hits.Hits, nil
}

// ScopeToID narrows predicate to the single document id.
func ScopeToID(predicate json.RawMessage, id string) json.RawMessage {
	scoped, _ := json.Marshal(map[string]any{
		"bool": map[string]any{
			"must":   []json.RawMessage{predicate},
			"filter": []any{map[string]any{"ids": map[string]any{"values": []string{id}}}},
		},
	})
	return scoped
}

// FileDocument is the full index document of a file.
func FileDocument(f *model.File) map[string]any {
	doc := map[string]any{
		"name":         f.Name,
		"creator":      f.Creator,
		"created":      f.Created,
		"download":     f.Downloads,
		"dataset_id":   f.DatasetID,
		"folder_id":    "",
		"bytes":        f.Bytes,
		"content_type": f.ContentType,
		"version_num":  f.VersionNum,
	}
	if f.FolderID != nil {
		doc["folder_id"] = *f.FolderID
	}
	return doc
}

// FileUpdate is the partial document written after a new version.
func FileUpdate(f *model.File) map[string]any {
	return map[string]any{
		"name":         f.Name,
		"creator":      f.Creator,
		"created":      f.Created,
		"download":     f.Downloads,
		"bytes":        f.Bytes,
		"content_type": f.ContentType,
		"version_num":  f.VersionNum,
	}
}

// FileMappings is the index definition used by EnsureIndex for files.
const FileMappings = `{
  "mappings": {
    "properties": {
      "name":         {"type": "text", "fields": {"keyword": {"type": "keyword"}}},
      "creator":      {"type": "keyword"},
      "created":      {"type": "date"},
      "download":     {"type": "long"},
      "dataset_id":   {"type": "keyword"},
      "folder_id":    {"type": "keyword"},
      "bytes":        {"type": "long"},
      "content_type": {"type": "keyword"},
      "version_num":  {"type": "integer"},
      "content":      {"type": "text"}
    }
  }
}`

func responseError(op string, res *esapi.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
	return Error.New("%s: %s: %s", op, res.Status(), bytes.TrimSpace(msg))
}

func drain(res *esapi.Response) {
	_, _ = io.Copy(io.Discard, res.Body)
	_ = res.Body.Close()
}
