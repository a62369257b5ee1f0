// Package storage contains in-memory backends for every store the ingestion
// core talks to. They back the CLI's --memory mode and the package tests.
package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/datavault/internal/model"
	"github.com/dharsanguruparan/datavault/internal/repository"
)

// ErrNotFound is the sentinel shared with the PostgreSQL repository so callers
// compare against one value regardless of backend.
var ErrNotFound = repository.ErrNotFound

// MemoryStore is the metadata store kept in maps guarded by an RWMutex. Its
// method set mirrors repository.DB.
type MemoryStore struct {
	mu        sync.RWMutex
	files     map[string]*model.File
	versions  map[string][]model.FileVersion
	metadata  map[string]*model.Metadata
	users     map[string]*model.User
	feeds     map[string]*model.Feed
	listeners map[string]*model.EventListener
	groups    map[string]*model.Group

	// Down makes Ping fail, simulating an unreachable database.
	Down bool
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:     make(map[string]*model.File),
		versions:  make(map[string][]model.FileVersion),
		metadata:  make(map[string]*model.Metadata),
		users:     make(map[string]*model.User),
		feeds:     make(map[string]*model.Feed),
		listeners: make(map[string]*model.EventListener),
		groups:    make(map[string]*model.Group),
	}
}

// Ping fails only when Down is set.
func (m *MemoryStore) Ping(context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Down {
		return fmt.Errorf("memory store is down")
	}
	return nil
}

// InsertFile stores a new record, assigning an id when empty.
func (m *MemoryStore) InsertFile(_ context.Context, f *model.File) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Created.IsZero() {
		f.Created = time.Now().UTC()
	}
	if _, ok := m.files[f.ID]; ok {
		return "", fmt.Errorf("insert file %s: %w", f.ID, repository.ErrConflict)
	}
	copied := *f
	m.files[f.ID] = &copied
	return f.ID, nil
}

// ReplaceFile overwrites an existing record.
func (m *MemoryStore) ReplaceFile(_ context.Context, f *model.File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[f.ID]; !ok {
		return fmt.Errorf("replace file %s: %w", f.ID, ErrNotFound)
	}
	copied := *f
	m.files[f.ID] = &copied
	return nil
}

// GetFile returns a copy of the record.
func (m *MemoryStore) GetFile(_ context.Context, id string) (*model.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	copied := *f
	return &copied, nil
}

// DeleteFile removes the record and reports how many went away.
func (m *MemoryStore) DeleteFile(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[id]; !ok {
		return 0, nil
	}
	delete(m.files, id)
	return 1, nil
}

// FileIDs lists every stored file id.
func (m *MemoryStore) FileIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.files))
	for id := range m.files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IncrementDownloads bumps the download counter.
func (m *MemoryStore) IncrementDownloads(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	f.Downloads++
	return nil
}

// InsertVersion appends a version; version numbers are unique per file.
func (m *MemoryStore) InsertVersion(_ context.Context, v *model.FileVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.Created.IsZero() {
		v.Created = time.Now().UTC()
	}
	for _, existing := range m.versions[v.FileID] {
		if existing.VersionNum == v.VersionNum {
			return fmt.Errorf("insert version %d of %s: %w", v.VersionNum, v.FileID, repository.ErrConflict)
		}
	}
	m.versions[v.FileID] = append(m.versions[v.FileID], *v)
	return nil
}

// ListVersions returns a page of versions ordered by version number.
func (m *MemoryStore) ListVersions(_ context.Context, fileID string, offset, limit int) ([]model.FileVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := append([]model.FileVersion(nil), m.versions[fileID]...)
	sort.Slice(all, func(i, j int) bool { return all[i].VersionNum < all[j].VersionNum })
	return page(all, offset, limit), nil
}

// DeleteVersions removes every version of a file.
func (m *MemoryStore) DeleteVersions(_ context.Context, fileID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.versions[fileID]))
	delete(m.versions, fileID)
	return n, nil
}

// InsertMetadata attaches a derived metadata entry.
func (m *MemoryStore) InsertMetadata(_ context.Context, md *model.Metadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if md.ID == "" {
		md.ID = uuid.NewString()
	}
	if md.Created.IsZero() {
		md.Created = time.Now().UTC()
	}
	copied := *md
	m.metadata[md.ID] = &copied
	return nil
}

// DeleteMetadata removes every entry referencing resourceID.
func (m *MemoryStore) DeleteMetadata(_ context.Context, resourceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, md := range m.metadata {
		if md.ResourceID == resourceID {
			delete(m.metadata, id)
			n++
		}
	}
	return n, nil
}

// CountMetadata reports how many entries reference resourceID.
func (m *MemoryStore) CountMetadata(resourceID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, md := range m.metadata {
		if md.ResourceID == resourceID {
			n++
		}
	}
	return n
}

// CreateUser inserts a user.
func (m *MemoryStore) CreateUser(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.Email]; ok {
		return fmt.Errorf("user %s: %w", u.Email, repository.ErrConflict)
	}
	copied := *u
	m.users[u.Email] = &copied
	return nil
}

// GetUser returns a copy of the user.
func (m *MemoryStore) GetUser(_ context.Context, email string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[email]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	copied := *u
	return &copied, nil
}

// AddBytes adds delta under the write lock when the result stays within
// ceiling. A negative ceiling disables the bound.
func (m *MemoryStore) AddBytes(_ context.Context, email string, delta, ceiling int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return 0, false, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if ceiling >= 0 && u.TotalBytes+delta > ceiling {
		return u.TotalBytes, false, nil
	}
	u.TotalBytes += delta
	return u.TotalBytes, true, nil
}

// SubtractBytes lowers the counter, clamping at zero.
func (m *MemoryStore) SubtractBytes(_ context.Context, email string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[email]
	if !ok {
		return 0, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	u.TotalBytes -= delta
	if u.TotalBytes < 0 {
		u.TotalBytes = 0
	}
	return u.TotalBytes, nil
}

// CreateFeed stores a feed.
func (m *MemoryStore) CreateFeed(_ context.Context, f *model.Feed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Created.IsZero() {
		f.Created = time.Now().UTC()
	}
	m.feeds[f.ID] = cloneFeed(f)
	return nil
}

// GetFeed returns a copy of a feed.
func (m *MemoryStore) GetFeed(_ context.Context, id string) (*model.Feed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.feeds[id]
	if !ok {
		return nil, fmt.Errorf("feed %s: %w", id, ErrNotFound)
	}
	return cloneFeed(f), nil
}

// ListFeeds returns feeds newest first, optionally filtered by exact name.
func (m *MemoryStore) ListFeeds(_ context.Context, name string, offset, limit int) ([]model.Feed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Feed
	for _, f := range m.feeds {
		if name == "" || f.Name == name {
			out = append(out, *cloneFeed(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.After(out[j].Created) })
	return page(out, offset, limit), nil
}

// AutomaticFeeds returns feeds with at least one automatic listener, oldest
// first.
func (m *MemoryStore) AutomaticFeeds(context.Context) ([]model.Feed, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Feed
	for _, f := range m.feeds {
		if len(f.AutomaticListeners()) > 0 {
			out = append(out, *cloneFeed(f))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Created.Equal(out[j].Created) {
			return out[i].ID < out[j].ID
		}
		return out[i].Created.Before(out[j].Created)
	})
	return out, nil
}

// DeleteFeed removes a feed.
func (m *MemoryStore) DeleteFeed(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.feeds[id]; !ok {
		return fmt.Errorf("feed %s: %w", id, ErrNotFound)
	}
	delete(m.feeds, id)
	return nil
}

// AddFeedListener appends an association or updates its automatic flag.
func (m *MemoryStore) AddFeedListener(_ context.Context, feedID string, l model.FeedListener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[feedID]
	if !ok {
		return fmt.Errorf("feed %s: %w", feedID, ErrNotFound)
	}
	for i := range f.Listeners {
		if f.Listeners[i].ListenerID == l.ListenerID {
			f.Listeners[i].Automatic = l.Automatic
			return nil
		}
	}
	f.Listeners = append(f.Listeners, l)
	return nil
}

// RemoveFeedListener drops one association.
func (m *MemoryStore) RemoveFeedListener(_ context.Context, feedID, listenerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.feeds[feedID]
	if !ok {
		return nil
	}
	kept := f.Listeners[:0]
	for _, l := range f.Listeners {
		if l.ListenerID != listenerID {
			kept = append(kept, l)
		}
	}
	f.Listeners = kept
	return nil
}

// CreateListener registers a listener; names are unique.
func (m *MemoryStore) CreateListener(_ context.Context, l *model.EventListener) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Created.IsZero() {
		l.Created = time.Now().UTC()
	}
	for _, existing := range m.listeners {
		if strings.EqualFold(existing.Name, l.Name) {
			return fmt.Errorf("listener %s: %w", l.Name, repository.ErrConflict)
		}
	}
	copied := *l
	m.listeners[l.ID] = &copied
	return nil
}

// GetListener returns a listener by id.
func (m *MemoryStore) GetListener(_ context.Context, id string) (*model.EventListener, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listeners[id]
	if !ok {
		return nil, fmt.Errorf("listener %s: %w", id, ErrNotFound)
	}
	copied := *l
	return &copied, nil
}

// GetListenerByName returns a listener by routing name.
func (m *MemoryStore) GetListenerByName(_ context.Context, name string) (*model.EventListener, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, l := range m.listeners {
		if l.Name == name {
			copied := *l
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("listener %s: %w", name, ErrNotFound)
}

// DeleteListener removes a listener, leaving feed associations dangling.
func (m *MemoryStore) DeleteListener(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listeners[id]; !ok {
		return fmt.Errorf("listener %s: %w", id, ErrNotFound)
	}
	delete(m.listeners, id)
	return nil
}

// CreateGroup stores a group.
func (m *MemoryStore) CreateGroup(_ context.Context, g *model.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	copied := *g
	copied.Members = append([]string(nil), g.Members...)
	m.groups[g.ID] = &copied
	return nil
}

// GroupIDsForUser returns groups the user created or belongs to.
func (m *MemoryStore) GroupIDsForUser(_ context.Context, email string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, g := range m.groups {
		if g.Creator == email || contains(g.Members, email) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func cloneFeed(f *model.Feed) *model.Feed {
	copied := *f
	copied.Search = append([]byte(nil), f.Search...)
	copied.Listeners = append([]model.FeedListener(nil), f.Listeners...)
	return &copied
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit >= 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
