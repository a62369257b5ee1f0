// Package dispatch publishes one signed job per listener to the broker.
package dispatch

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/datavault/internal/model"
	"github.com/dharsanguruparan/datavault/internal/queue"
	"github.com/dharsanguruparan/datavault/internal/signing"
)

// ErrDispatchFailed is the class of failed publishes.
var ErrDispatchFailed = errs.Class("dispatch failed")

var jobsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "datavault_jobs_published_total",
	Help: "Job messages handed to the broker, by result.",
}, []string{"result"})

// Dispatcher turns (file, listener) pairs into broker messages.
type Dispatcher struct {
	log       *zap.Logger
	publisher queue.Publisher
	signer    *signing.Signer
	prefix    string
	now       func() time.Time
}

// New constructs a Dispatcher publishing under routing-key prefix.
func New(log *zap.Logger, publisher queue.Publisher, signer *signing.Signer, prefix string) *Dispatcher {
	return &Dispatcher{
		log:       log,
		publisher: publisher,
		signer:    signer,
		prefix:    prefix,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch publishes one job asking listenerName to process file. It does not
// retry; a failed publish is returned as ErrDispatchFailed.
func (d *Dispatcher) Dispatch(ctx context.Context, file *model.File, listenerName string, params map[string]string, submitter string) error {
	msg := queue.JobMessage{
		FileID:      file.ID,
		FileName:    file.Name,
		DatasetID:   file.DatasetID,
		VersionID:   file.VersionID,
		ContentType: file.ContentType,
		Bytes:       file.Bytes,
		Listener:    listenerName,
		Parameters:  params,
		Submitter:   submitter,
		Submitted:   d.now(),
	}
	payload, err := queue.Encode(msg, d.signer)
	if err != nil {
		jobsPublished.WithLabelValues("error").Inc()
		return ErrDispatchFailed.Wrap(err)
	}
	key := queue.RoutingKey(d.prefix, listenerName)
	if err := d.publisher.Publish(ctx, key, payload); err != nil {
		jobsPublished.WithLabelValues("error").Inc()
		d.log.Warn("publish job",
			zap.String("routing_key", key),
			zap.String("file", file.ID),
			zap.Error(err))
		return ErrDispatchFailed.New("listener %s: %v", listenerName, err)
	}
	jobsPublished.WithLabelValues("ok").Inc()
	d.log.Debug("job published",
		zap.String("routing_key", key),
		zap.String("file", file.ID),
		zap.String("submitter", submitter))
	return nil
}
