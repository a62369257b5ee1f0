package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/app"
	"github.com/dharsanguruparan/datavault/internal/config"
	"github.com/dharsanguruparan/datavault/internal/database"
	"github.com/dharsanguruparan/datavault/internal/logger"
	"github.com/dharsanguruparan/datavault/internal/processing"
	"github.com/dharsanguruparan/datavault/internal/queue"
	"github.com/dharsanguruparan/datavault/internal/repository"
	"github.com/dharsanguruparan/datavault/internal/s3storage"
	"github.com/dharsanguruparan/datavault/internal/search"
	"github.com/dharsanguruparan/datavault/internal/signing"
	"github.com/dharsanguruparan/datavault/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.IsDevelopment())
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(ctx, log, cfg); err != nil {
		log.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, log *zap.Logger, cfg *config.Config) error {
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	db := repository.New(pool)

	store, err := s3storage.New(cfg)
	if err != nil {
		return err
	}
	index, err := search.New(log.Named("search"), search.Config{
		Addresses: cfg.ElasticURLs,
		Username:  cfg.ElasticUsername,
		Password:  cfg.ElasticPassword,
	})
	if err != nil {
		return err
	}

	handler := worker.NewHandler(log.Named("worker"), signing.NewSigner(cfg.SigningSecret), cfg.RoutingPrefix)
	handler.Register(worker.PDFTextListener, worker.PDFText(log.Named(worker.PDFTextListener), store, index, db, cfg.FileIndex))

	if cfg.MetricsAddr != "" {
		go serveMetrics(ctx, log, cfg.MetricsAddr)
	}

	log.Info("worker starting",
		zap.String("broker", cfg.Broker),
		zap.Strings("listeners", handler.Names()),
		zap.Int("concurrency", cfg.ProcessingPool))

	switch cfg.Broker {
	case config.BrokerAMQP:
		return runAMQP(ctx, log, cfg, handler)
	default:
		return runAsynq(ctx, cfg, handler)
	}
}

func runAsynq(ctx context.Context, cfg *config.Config, handler *worker.Handler) error {
	server := asynq.NewServer(app.RedisOpt(cfg), asynq.Config{
		Concurrency: cfg.ProcessingPool,
		Queues:      handler.Queues(),
	})
	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()
	return server.Run(handler.Mux())
}

func runAMQP(ctx context.Context, log *zap.Logger, cfg *config.Config, handler *worker.Handler) error {
	consumer, err := queue.NewAMQPConsumer(cfg.AMQPURL, cfg.AMQPExchange, cfg.RoutingPrefix, handler.Names(), cfg.ProcessingPool)
	if err != nil {
		return err
	}
	defer func() { _ = consumer.Close() }()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		return err
	}

	pool := processing.New(log.Named("processing"), handler.Handle, cfg.ProcessingPool)
	pool.Start(ctx)
	for d := range deliveries {
		job := processing.Job{RoutingKey: d.RoutingKey, Payload: d.Body, Done: d.Settle}
		// Unsettled deliveries are requeued by the broker once the
		// connection closes.
		if !pool.Submit(ctx, job) {
			break
		}
	}
	pool.Wait()
	return nil
}

func serveMetrics(ctx context.Context, log *zap.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server", zap.Error(err))
	}
}
