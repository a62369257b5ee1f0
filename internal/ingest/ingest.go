// Package ingest coordinates writing a file across the metadata store, the
// object store, the quota ledger and the search index, then routes the new
// file to the listeners subscribed to it through feeds.
//
// There is no transaction spanning the stores. Each operation runs its stages
// in order and records how to undo each one; a failing stage undoes the
// earlier ones. A failed undo is reported as ErrInconsistent.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/model"
	"github.com/dharsanguruparan/datavault/internal/repository"
	"github.com/dharsanguruparan/datavault/internal/search"
)

var (
	// Error is the class of ingestion failures without a more specific class.
	Error = errs.Class("ingest")
	// ErrServiceUnavailable is returned when a store fails its probe. Nothing
	// has been written.
	ErrServiceUnavailable = errs.Class("service unavailable")
	// ErrNotFound is returned when the addressed file or listener is absent.
	ErrNotFound = errs.Class("not found")
	// ErrInconsistent is returned when undoing a failed stage also failed and
	// the stores may hold orphaned data.
	ErrInconsistent = errs.Class("inconsistent state")
)

var operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "datavault_ingest_operations_total",
	Help: "File operations handled by the coordinator, by operation and result.",
}, []string{"op", "result"})

const defaultContentType = "application/octet-stream"

// MetadataStore holds file, version and derived metadata records.
type MetadataStore interface {
	Ping(ctx context.Context) error
	InsertFile(ctx context.Context, f *model.File) (string, error)
	ReplaceFile(ctx context.Context, f *model.File) error
	GetFile(ctx context.Context, id string) (*model.File, error)
	DeleteFile(ctx context.Context, id string) (int64, error)
	IncrementDownloads(ctx context.Context, id string) error
	InsertVersion(ctx context.Context, v *model.FileVersion) error
	ListVersions(ctx context.Context, fileID string, offset, limit int) ([]model.FileVersion, error)
	DeleteVersions(ctx context.Context, fileID string) (int64, error)
	DeleteMetadata(ctx context.Context, resourceID string) (int64, error)
}

// ObjectStore is a versioned blob store.
type ObjectStore interface {
	Ping(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, contentType string) (versionID string, size int64, err error)
	Get(ctx context.Context, key, versionID string) (io.ReadCloser, error)
	Remove(ctx context.Context, key, versionID string) error
	RemoveAll(ctx context.Context, key string) (int, error)
}

// SearchIndex stores searchable file documents.
type SearchIndex interface {
	Ping(ctx context.Context) error
	Insert(ctx context.Context, index, id string, doc any) error
	Update(ctx context.Context, index, id string, partial any) error
	DeleteByID(ctx context.Context, index, id string) error
	Query(ctx context.Context, index string, predicate json.RawMessage, size int) ([]search.Hit, error)
}

// Ledger tracks bytes per user.
type Ledger interface {
	Reserve(ctx context.Context, email string, n int64) (int64, error)
	Release(ctx context.Context, email string, n int64) (int64, error)
}

// Matcher finds listeners subscribed to a file.
type Matcher interface {
	MatchFeeds(ctx context.Context, file *model.File) ([]*model.EventListener, error)
}

// Authorizer decides whether an actor may trigger a listener.
type Authorizer interface {
	Allow(ctx context.Context, listener *model.EventListener, actor model.Actor, datasetID string) (bool, error)
}

// Dispatcher publishes jobs.
type Dispatcher interface {
	Dispatch(ctx context.Context, file *model.File, listenerName string, params map[string]string, submitter string) error
}

// ListenerStore resolves listeners by routing name.
type ListenerStore interface {
	GetListenerByName(ctx context.Context, name string) (*model.EventListener, error)
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Metadata   MetadataStore
	Objects    ObjectStore
	Index      SearchIndex
	Ledger     Ledger
	Matcher    Matcher
	Access     Authorizer
	Dispatcher Dispatcher
	Listeners  ListenerStore
}

// Config tunes a Coordinator.
type Config struct {
	// Index is the search index holding file documents.
	Index string
	// QuotaOnUpdate charges the bytes of every new version to its editor
	// against the limit. When false only the first version is charged.
	QuotaOnUpdate bool
	// CommitTimeout bounds the stages that run after the object write,
	// which continue even if the caller goes away.
	CommitTimeout time.Duration
}

// FileDescriptor describes an upload.
type FileDescriptor struct {
	Name        string
	DatasetID   string
	FolderID    *string
	ContentType string
}

// Coordinator runs file operations across the stores.
type Coordinator struct {
	log  *zap.Logger
	deps Deps
	cfg  Config
	now  func() time.Time
}

// New constructs a Coordinator.
func New(log *zap.Logger, deps Deps, cfg Config) *Coordinator {
	if cfg.CommitTimeout <= 0 {
		cfg.CommitTimeout = 30 * time.Second
	}
	return &Coordinator{
		log:  log,
		deps: deps,
		cfg:  cfg,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// probe checks every store before anything is written.
func (c *Coordinator) probe(ctx context.Context) error {
	var group errs.Group
	if err := c.deps.Metadata.Ping(ctx); err != nil {
		group.Add(errs.New("metadata store: %v", err))
	}
	if err := c.deps.Objects.Ping(ctx); err != nil {
		group.Add(errs.New("object store: %v", err))
	}
	if err := c.deps.Index.Ping(ctx); err != nil {
		group.Add(errs.New("search index: %v", err))
	}
	if err := group.Err(); err != nil {
		c.log.Warn("store probe failed", zap.Error(err))
		return ErrServiceUnavailable.Wrap(err)
	}
	return nil
}

// detach returns a context that survives caller cancellation, bounded by the
// commit timeout.
func (c *Coordinator) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.cfg.CommitTimeout)
}

func (c *Coordinator) getFile(ctx context.Context, id string) (*model.File, error) {
	f, err := c.deps.Metadata.GetFile(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound.Wrap(err)
		}
		return nil, Error.Wrap(err)
	}
	return f, nil
}

func contentTypeFor(name, given string) string {
	if given != "" {
		return given
	}
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return defaultContentType
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
