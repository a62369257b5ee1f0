// Package worker consumes listener jobs. It verifies each job's signature and
// hands it to the listener registered under the job's routing key.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/queue"
	"github.com/dharsanguruparan/datavault/internal/signing"
)

// ErrRejected marks jobs that must not be retried.
var ErrRejected = errors.New("job rejected")

var jobsHandled = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "datavault_worker_jobs_total",
	Help: "Jobs consumed by the worker, by listener and result.",
}, []string{"listener", "result"})

// Listener processes one job.
type Listener func(ctx context.Context, job queue.JobMessage) error

// Handler routes verified jobs to listeners.
type Handler struct {
	log       *zap.Logger
	signer    *signing.Signer
	prefix    string
	listeners map[string]Listener
}

// NewHandler constructs a Handler for routing keys under prefix.
func NewHandler(log *zap.Logger, signer *signing.Signer, prefix string) *Handler {
	return &Handler{log: log, signer: signer, prefix: prefix, listeners: make(map[string]Listener)}
}

// Register binds a listener name to its implementation.
func (h *Handler) Register(name string, l Listener) {
	h.listeners[name] = l
}

// Names returns the registered listener names, sorted.
func (h *Handler) Names() []string {
	names := make([]string, 0, len(h.listeners))
	for name := range h.listeners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle verifies payload and runs the listener its routing key names.
// Jobs for unknown listeners are logged and acknowledged.
func (h *Handler) Handle(ctx context.Context, routingKey string, payload []byte) error {
	name, ok := queue.ListenerFromRoutingKey(h.prefix, routingKey)
	if !ok {
		jobsHandled.WithLabelValues("", "rejected").Inc()
		return fmt.Errorf("%w: routing key %q outside %q", ErrRejected, routingKey, h.prefix)
	}
	job, err := queue.Decode(payload, h.signer)
	if err != nil {
		jobsHandled.WithLabelValues(name, "rejected").Inc()
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}
	if job.Listener != name {
		jobsHandled.WithLabelValues(name, "rejected").Inc()
		return fmt.Errorf("%w: job for %q arrived on %q", ErrRejected, job.Listener, routingKey)
	}
	listener, ok := h.listeners[name]
	if !ok {
		jobsHandled.WithLabelValues(name, "ignored").Inc()
		h.log.Warn("no handler for listener", zap.String("listener", name), zap.String("file", job.FileID))
		return nil
	}
	log := h.log.With(zap.String("listener", name), zap.String("file", job.FileID))
	if err := listener(ctx, job); err != nil {
		jobsHandled.WithLabelValues(name, "error").Inc()
		log.Error("listener failed", zap.Error(err))
		return err
	}
	jobsHandled.WithLabelValues(name, "ok").Inc()
	log.Info("job processed", zap.String("submitter", job.Submitter))
	return nil
}

// Mux adapts the handler to asynq. Rejected jobs skip asynq's retries.
func (h *Handler) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(h.prefix, h.handleTask)
	return mux
}

func (h *Handler) handleTask(ctx context.Context, task *asynq.Task) error {
	err := h.Handle(ctx, task.Type(), task.Payload())
	if errors.Is(err, ErrRejected) {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

// Queues returns the asynq queue weights: one queue per listener.
func (h *Handler) Queues() map[string]int {
	queues := make(map[string]int, len(h.listeners))
	for name := range h.listeners {
		queues[name] = 1
	}
	return queues
}
