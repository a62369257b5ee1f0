// Package quota keeps the per-user storage ledger. Every change is a single
// atomic update at the store; the ledger never reads, adds and writes back.
package quota

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

var (
	// Error is the class of ledger failures other than a rejected reservation.
	Error = errs.Class("quota")
	// ErrQuotaExceeded is returned when a reservation would cross the limit.
	ErrQuotaExceeded = errs.Class("quota exceeded")
)

var rejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "datavault_quota_rejections_total",
	Help: "Uploads rejected because the user's storage quota would be exceeded.",
})

// Store performs the atomic counter updates.
type Store interface {
	// AddBytes adds delta when the result stays within ceiling (ceiling < 0
	// means unbounded) and reports whether it did.
	AddBytes(ctx context.Context, email string, delta, ceiling int64) (total int64, ok bool, err error)
	// SubtractBytes lowers the counter, clamping at zero.
	SubtractBytes(ctx context.Context, email string, delta int64) (int64, error)
}

// Ledger enforces the configured per-user limit on top of a Store.
type Ledger struct {
	log     *zap.Logger
	store   Store
	enabled bool
	limit   int64
}

// NewLedger constructs a Ledger. When enabled is false reservations always
// succeed but are still counted.
func NewLedger(log *zap.Logger, store Store, enabled bool, limit int64) *Ledger {
	return &Ledger{log: log, store: store, enabled: enabled, limit: limit}
}

// Enabled reports whether the limit is enforced.
func (l *Ledger) Enabled() bool { return l.enabled }

// Limit returns the per-user limit in bytes.
func (l *Ledger) Limit() int64 { return l.limit }

// Reserve adds n bytes to the user's total, failing with ErrQuotaExceeded
// when the limit would be crossed. The counter is unchanged on failure.
func (l *Ledger) Reserve(ctx context.Context, email string, n int64) (int64, error) {
	if n < 0 {
		return 0, Error.New("negative reservation %d", n)
	}
	ceiling := int64(-1)
	if l.enabled {
		ceiling = l.limit
	}
	total, ok, err := l.store.AddBytes(ctx, email, n, ceiling)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	if !ok {
		rejectionsTotal.Inc()
		l.log.Info("quota exceeded",
			zap.String("user", email),
			zap.Int64("current", total),
			zap.Int64("requested", n),
			zap.Int64("limit", l.limit))
		return total, ErrQuotaExceeded.New("user %s: %d + %d bytes exceeds limit of %d", email, total, n, l.limit)
	}
	return total, nil
}

// Release gives back n bytes previously reserved.
func (l *Ledger) Release(ctx context.Context, email string, n int64) (int64, error) {
	if n <= 0 {
		return 0, nil
	}
	total, err := l.store.SubtractBytes(ctx, email, n)
	return total, Error.Wrap(err)
}
