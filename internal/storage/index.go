package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dharsanguruparan/datavault/internal/search"
)

// MemoryIndex is a document index that evaluates a subset of the
// Elasticsearch query DSL: match_all, term, match, prefix, ids and bool with
// must, filter, should and must_not.
type MemoryIndex struct {
	mu      sync.RWMutex
	indices map[string]map[string]map[string]any

	// Down makes Ping fail.
	Down bool
}

// NewMemoryIndex constructs an empty index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{indices: make(map[string]map[string]map[string]any)}
}

// Ping fails only when Down is set.
func (ix *MemoryIndex) Ping(context.Context) error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.Down {
		return fmt.Errorf("search index is down")
	}
	return nil
}

// Insert replaces the document stored under id.
func (ix *MemoryIndex) Insert(_ context.Context, index, id string, doc any) error {
	src, err := toSource(doc)
	if err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.indices[index] == nil {
		ix.indices[index] = make(map[string]map[string]any)
	}
	ix.indices[index][id] = src
	return nil
}

// Update merges partial into an existing document.
func (ix *MemoryIndex) Update(_ context.Context, index, id string, partial any) error {
	src, err := toSource(partial)
	if err != nil {
		return err
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	doc, ok := ix.indices[index][id]
	if !ok {
		return fmt.Errorf("document %s/%s: %w", index, id, ErrNotFound)
	}
	for k, v := range src {
		doc[k] = v
	}
	return nil
}

// DeleteByID removes a document; a missing one is not an error.
func (ix *MemoryIndex) DeleteByID(_ context.Context, index, id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.indices[index], id)
	return nil
}

// Document returns a copy of a stored document.
func (ix *MemoryIndex) Document(index, id string) (map[string]any, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	doc, ok := ix.indices[index][id]
	if !ok {
		return nil, false
	}
	copied := make(map[string]any, len(doc))
	for k, v := range doc {
		copied[k] = v
	}
	return copied, true
}

// Query evaluates predicate against every document of index, returning hits
// ordered by id.
func (ix *MemoryIndex) Query(_ context.Context, index string, predicate json.RawMessage, size int) ([]search.Hit, error) {
	var clause map[string]json.RawMessage
	if err := json.Unmarshal(predicate, &clause); err != nil {
		return nil, fmt.Errorf("parse predicate: %w", err)
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := make([]string, 0, len(ix.indices[index]))
	for id := range ix.indices[index] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var hits []search.Hit
	for _, id := range ids {
		doc := ix.indices[index][id]
		ok, err := evaluate(clause, id, doc)
		if err != nil {
			return nil, err
		}
		if ok {
			hits = append(hits, search.Hit{ID: id, Source: doc})
			if size > 0 && len(hits) == size {
				break
			}
		}
	}
	return hits, nil
}

func toSource(doc any) (map[string]any, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var src map[string]any
	if err := json.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("document is not an object: %w", err)
	}
	return src, nil
}

func evaluate(clause map[string]json.RawMessage, id string, doc map[string]any) (bool, error) {
	if len(clause) != 1 {
		return false, fmt.Errorf("query clause must have exactly one key, got %d", len(clause))
	}
	for kind, body := range clause {
		switch kind {
		case "match_all":
			return true, nil
		case "ids":
			var ids struct {
				Values []string `json:"values"`
			}
			if err := json.Unmarshal(body, &ids); err != nil {
				return false, fmt.Errorf("parse ids: %w", err)
			}
			return contains(ids.Values, id), nil
		case "term", "match", "prefix":
			field, want, err := fieldValue(body)
			if err != nil {
				return false, fmt.Errorf("parse %s: %w", kind, err)
			}
			got, ok := doc[field]
			if !ok {
				return false, nil
			}
			return compare(kind, fmt.Sprint(got), fmt.Sprint(want)), nil
		case "bool":
			return evaluateBool(body, id, doc)
		default:
			return false, fmt.Errorf("unsupported query %q", kind)
		}
	}
	return false, nil
}

func evaluateBool(body json.RawMessage, id string, doc map[string]any) (bool, error) {
	var b struct {
		Must    clauses `json:"must"`
		Filter  clauses `json:"filter"`
		Should  clauses `json:"should"`
		MustNot clauses `json:"must_not"`
	}
	if err := json.Unmarshal(body, &b); err != nil {
		return false, fmt.Errorf("parse bool: %w", err)
	}
	for _, c := range append(b.Must, b.Filter...) {
		ok, err := evaluate(c, id, doc)
		if err != nil || !ok {
			return false, err
		}
	}
	for _, c := range b.MustNot {
		ok, err := evaluate(c, id, doc)
		if err != nil || ok {
			return false, err
		}
	}
	if len(b.Should) == 0 {
		return true, nil
	}
	for _, c := range b.Should {
		ok, err := evaluate(c, id, doc)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// clauses accepts both a single clause object and an array of them.
type clauses []map[string]json.RawMessage

func (c *clauses) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '[' {
		var list []map[string]json.RawMessage
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*c = list
		return nil
	}
	var one map[string]json.RawMessage
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*c = clauses{one}
	return nil
}

// fieldValue reads {"field": value} or {"field": {"value"|"query": value}}.
func fieldValue(body json.RawMessage) (string, any, error) {
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return "", nil, err
	}
	if len(m) != 1 {
		return "", nil, fmt.Errorf("expected one field, got %d", len(m))
	}
	for field, v := range m {
		if nested, ok := v.(map[string]any); ok {
			if q, ok := nested["query"]; ok {
				return field, q, nil
			}
			if q, ok := nested["value"]; ok {
				return field, q, nil
			}
			return "", nil, fmt.Errorf("field %s has no value", field)
		}
		return field, v, nil
	}
	return "", nil, nil
}

func compare(kind, got, want string) bool {
	switch kind {
	case "term":
		return got == want
	case "prefix":
		return strings.HasPrefix(got, want)
	default:
		// match: every query token must appear among the field's tokens.
		have := make(map[string]struct{})
		for _, tok := range tokenize(got) {
			have[tok] = struct{}{}
		}
		tokens := tokenize(want)
		if len(tokens) == 0 {
			return false
		}
		for _, tok := range tokens {
			if _, ok := have[tok]; !ok {
				return false
			}
		}
		return true
	}
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '@' || r == '_' || r == '-')
	})
}
