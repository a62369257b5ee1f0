// Package app wires configuration into the stores and services the binaries
// drive.
package app

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/access"
	"github.com/dharsanguruparan/datavault/internal/config"
	"github.com/dharsanguruparan/datavault/internal/database"
	"github.com/dharsanguruparan/datavault/internal/dispatch"
	"github.com/dharsanguruparan/datavault/internal/feeds"
	"github.com/dharsanguruparan/datavault/internal/ingest"
	"github.com/dharsanguruparan/datavault/internal/model"
	"github.com/dharsanguruparan/datavault/internal/queue"
	"github.com/dharsanguruparan/datavault/internal/quota"
	"github.com/dharsanguruparan/datavault/internal/repository"
	"github.com/dharsanguruparan/datavault/internal/s3storage"
	"github.com/dharsanguruparan/datavault/internal/search"
	"github.com/dharsanguruparan/datavault/internal/signing"
	"github.com/dharsanguruparan/datavault/internal/storage"
)

// Store is everything the services read and write in the metadata store.
// Both repository.DB and storage.MemoryStore implement it.
type Store interface {
	ingest.MetadataStore
	ingest.ListenerStore
	feeds.Store
	quota.Store
	access.GroupStore

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, email string) (*model.User, error)
	CreateListener(ctx context.Context, l *model.EventListener) error
	DeleteListener(ctx context.Context, id string) error
	CreateGroup(ctx context.Context, g *model.Group) error
}

// App holds the wired services.
type App struct {
	Cfg       *config.Config
	Log       *zap.Logger
	Store     Store
	Objects   ingest.ObjectStore
	Index     ingest.SearchIndex
	Publisher queue.Publisher
	Ledger    *quota.Ledger
	Matcher   *feeds.Matcher
	Feeds     *feeds.Service
	Access    *access.Filter
	Files     *ingest.Coordinator

	closers []func() error
}

// New connects to Postgres, MinIO, Elasticsearch and the configured broker.
// Buckets and indices are created when missing. Migrations are not applied;
// run them separately with database.Migrate.
func New(ctx context.Context, log *zap.Logger, cfg *config.Config) (_ *App, err error) {
	a := &App{Cfg: cfg, Log: log}
	defer func() {
		if err != nil {
			err = errs.Combine(err, a.Close())
		}
	}()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, func() error { pool.Close(); return nil })

	objects, err := s3storage.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	index, err := search.New(log.Named("search"), search.Config{
		Addresses: cfg.ElasticURLs,
		Username:  cfg.ElasticUsername,
		Password:  cfg.ElasticPassword,
	})
	if err != nil {
		return nil, err
	}
	if err := index.EnsureIndex(ctx, cfg.FileIndex, search.FileMappings); err != nil {
		return nil, err
	}

	publisher, err := NewPublisher(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, publisher.Close)

	a.wire(repository.New(pool), objects, index, publisher)
	log.Info("services ready",
		zap.String("bucket", cfg.Bucket),
		zap.String("index", cfg.FileIndex),
		zap.String("broker", cfg.Broker),
		zap.Bool("quota", cfg.QuotaEnabled))
	return a, nil
}

// NewMemory wires the services over in-process backends. The returned
// backends are the concrete values behind Store, Objects, Index and Publisher.
func NewMemory(log *zap.Logger, cfg *config.Config) (*App, *Memory) {
	mem := &Memory{
		Store:   storage.NewMemoryStore(),
		Objects: storage.NewMemoryObjects(),
		Index:   storage.NewMemoryIndex(),
		Broker:  storage.NewMemoryBroker(),
	}
	a := &App{Cfg: cfg, Log: log}
	a.wire(mem.Store, mem.Objects, mem.Index, mem.Broker)
	return a, mem
}

// Memory exposes the in-process backends of an App built by NewMemory.
type Memory struct {
	Store   *storage.MemoryStore
	Objects *storage.MemoryObjects
	Index   *storage.MemoryIndex
	Broker  *storage.MemoryBroker
}

// NewPublisher returns the broker client selected by cfg.Broker.
func NewPublisher(cfg *config.Config) (queue.Publisher, error) {
	switch cfg.Broker {
	case config.BrokerAsynq:
		return queue.NewAsynqPublisher(RedisOpt(cfg), cfg.RoutingPrefix), nil
	case config.BrokerAMQP:
		return queue.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	default:
		return nil, config.Error.New("unknown broker %q", cfg.Broker)
	}
}

// RedisOpt is the asynq connection for the configured Redis.
func RedisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func (a *App) wire(store Store, objects ingest.ObjectStore, index ingest.SearchIndex, publisher queue.Publisher) {
	cfg := a.Cfg
	a.Store = store
	a.Objects = objects
	a.Index = index
	a.Publisher = publisher

	a.Ledger = quota.NewLedger(a.Log.Named("quota"), store, cfg.QuotaEnabled, cfg.MaxUserBytes)
	a.Access = access.NewFilter(a.Log.Named("access"), store)
	a.Matcher = feeds.NewMatcher(a.Log.Named("feeds"), store, index, feeds.MatcherConfig{
		Index:       cfg.FileIndex,
		Concurrency: cfg.FeedConcurrency,
		CacheSize:   cfg.ListenerCacheSize,
		CacheTTL:    cfg.ListenerCacheTTL,
	})
	a.Feeds = feeds.NewService(a.Log.Named("feeds"), store, a.Access)

	dispatcher := dispatch.New(a.Log.Named("dispatch"), publisher, signing.NewSigner(cfg.SigningSecret), cfg.RoutingPrefix)
	a.Files = ingest.New(a.Log.Named("ingest"), ingest.Deps{
		Metadata:   store,
		Objects:    objects,
		Index:      index,
		Ledger:     a.Ledger,
		Matcher:    a.Matcher,
		Access:     a.Access,
		Dispatcher: dispatcher,
		Listeners:  store,
	}, ingest.Config{
		Index:         cfg.FileIndex,
		QuotaOnUpdate: cfg.QuotaOnUpdate,
		CommitTimeout: cfg.CommitTimeout,
	})
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var group errs.Group
	for i := len(a.closers) - 1; i >= 0; i-- {
		group.Add(a.closers[i]())
	}
	a.closers = nil
	return group.Err()
}
