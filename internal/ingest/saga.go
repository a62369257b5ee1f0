package ingest

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

var compensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "datavault_compensations_total",
	Help: "Compensation steps run after a failed ingestion stage, by result.",
}, []string{"result"})

type undoStep struct {
	name   string
	fields []zap.Field
	undo   func(ctx context.Context) error
}

// saga records how to undo each completed stage.
type saga struct {
	log   *zap.Logger
	steps []undoStep
}

func (s *saga) push(name string, undo func(ctx context.Context) error, fields ...zap.Field) {
	s.steps = append(s.steps, undoStep{name: name, fields: fields, undo: undo})
}

// rollback undoes completed stages newest first and returns cause. If any
// undo fails the result is ErrInconsistent wrapping cause and every failure.
func (s *saga) rollback(ctx context.Context, cause error) error {
	var failed errs.Group
	for i := len(s.steps) - 1; i >= 0; i-- {
		step := s.steps[i]
		if err := step.undo(ctx); err != nil {
			compensationsTotal.WithLabelValues("failed").Inc()
			s.log.Error("compensation failed, manual cleanup required",
				append(step.fields, zap.String("step", step.name), zap.Error(err))...)
			failed.Add(errs.New("%s: %v", step.name, err))
			continue
		}
		compensationsTotal.WithLabelValues("ok").Inc()
		s.log.Debug("compensated", append(step.fields, zap.String("step", step.name))...)
	}
	s.steps = nil
	if err := failed.Err(); err != nil {
		return ErrInconsistent.Wrap(errs.Combine(cause, err))
	}
	return cause
}
