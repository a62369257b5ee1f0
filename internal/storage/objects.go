package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type objectVersion struct {
	id          string
	data        []byte
	contentType string
}

// MemoryObjects is a versioned object store. Every Put under a key appends a
// new version with a fresh id; Get with an empty version reads the latest.
type MemoryObjects struct {
	mu      sync.RWMutex
	objects map[string][]objectVersion

	// Down makes Ping fail.
	Down bool
}

// NewMemoryObjects constructs an empty store.
func NewMemoryObjects() *MemoryObjects {
	return &MemoryObjects{objects: make(map[string][]objectVersion)}
}

// Ping fails only when Down is set.
func (o *MemoryObjects) Ping(context.Context) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.Down {
		return fmt.Errorf("object store is down")
	}
	return nil
}

// Put reads r fully and stores it as a new version of key.
func (o *MemoryObjects) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, fmt.Errorf("read object body: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	v := objectVersion{id: uuid.NewString(), data: data, contentType: contentType}
	o.objects[key] = append(o.objects[key], v)
	return v.id, int64(len(data)), nil
}

// Get opens a version of key; an empty versionID selects the latest.
func (o *MemoryObjects) Get(_ context.Context, key, versionID string) (io.ReadCloser, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	versions := o.objects[key]
	if len(versions) == 0 {
		return nil, fmt.Errorf("object %s: %w", key, ErrNotFound)
	}
	if versionID == "" {
		return io.NopCloser(bytes.NewReader(versions[len(versions)-1].data)), nil
	}
	for _, v := range versions {
		if v.id == versionID {
			return io.NopCloser(bytes.NewReader(v.data)), nil
		}
	}
	return nil, fmt.Errorf("object %s version %s: %w", key, versionID, ErrNotFound)
}

// Remove deletes exactly one version. A missing version is not an error.
func (o *MemoryObjects) Remove(_ context.Context, key, versionID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	versions := o.objects[key]
	for i, v := range versions {
		if v.id == versionID {
			o.objects[key] = append(versions[:i:i], versions[i+1:]...)
			break
		}
	}
	if len(o.objects[key]) == 0 {
		delete(o.objects, key)
	}
	return nil
}

// RemoveAll deletes every version of key and reports how many there were.
func (o *MemoryObjects) RemoveAll(_ context.Context, key string) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.objects[key])
	delete(o.objects, key)
	return n, nil
}

// Keys lists every key holding at least one version.
func (o *MemoryObjects) Keys() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	keys := make([]string, 0, len(o.objects))
	for k := range o.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Versions lists the stored version ids of key, oldest first.
func (o *MemoryObjects) Versions(key string) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	ids := make([]string, 0, len(o.objects[key]))
	for _, v := range o.objects[key] {
		ids = append(ids, v.id)
	}
	return ids
}
