package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/facilitycore/pkg/apperror"
	"github.com/smallbiznis/facilitycore/pkg/db"
)

const (
	LockResourceInstrument  = "instrument"
	LockResourcePricePolicy = "price_policy"
)

const (
	ReasonDeadlineExceeded = "deadline_exceeded"
	ReasonLockTimeout      = "lock_timeout"
	ReasonWriteConflict    = "write_conflict"
	ReasonStaleState       = "stale_state"
	ReasonValidation       = "validation"
	ReasonUnknown          = "unknown"
)

// LockMetrics captures contention on the per-instrument and per-policy
// critical sections.
type LockMetrics struct {
	lockWait         *prometheus.HistogramVec
	lockErrors       *prometheus.CounterVec
	bookingRejects   *prometheus.CounterVec
	lockWaitObserver map[string]prometheus.Observer
}

// NewLockMetrics registers the collectors on registerer, or on the default
// registerer when nil.
func NewLockMetrics(registerer prometheus.Registerer, cfg Config) *LockMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "facilitycore"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	lockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "facility_lock_wait_seconds",
		Help:        "Time spent waiting for a facility critical section.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		ConstLabels: constLabels,
	}, []string{"resource"})
	lockErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "facility_lock_errors_total",
		Help:        "Critical section failures by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"resource", "reason"})
	bookingRejects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "facility_booking_rejections_total",
		Help:        "Booking attempts rejected by the availability resolver.",
		ConstLabels: constLabels,
	}, []string{"reason"})

	registerer.MustRegister(lockWait, lockErrors, bookingRejects)

	return &LockMetrics{
		lockWait:       lockWait,
		lockErrors:     lockErrors,
		bookingRejects: bookingRejects,
		lockWaitObserver: map[string]prometheus.Observer{
			LockResourceInstrument:  lockWait.WithLabelValues(LockResourceInstrument),
			LockResourcePricePolicy: lockWait.WithLabelValues(LockResourcePricePolicy),
		},
	}
}

// ObserveLockWait records how long acquisition of resource took.
func (m *LockMetrics) ObserveLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	if observer, ok := m.lockWaitObserver[resource]; ok {
		observer.Observe(duration.Seconds())
		return
	}
	m.lockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

func (m *LockMetrics) IncLockError(resource string, err error) {
	if m == nil || err == nil {
		return
	}
	m.lockErrors.WithLabelValues(resource, ClassifyReason(err)).Inc()
}

func (m *LockMetrics) IncBookingRejected(reason string) {
	if m == nil {
		return
	}
	m.bookingRejects.WithLabelValues(reason).Inc()
}

// ClassifyReason maps errors to low-cardinality reasons.
func ClassifyReason(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonDeadlineExceeded
	}
	if errors.Is(err, db.ErrWriteConflict) || db.IsConflictErr(err) {
		return ReasonWriteConflict
	}
	switch apperror.KindOf(err) {
	case apperror.KindConflict:
		if apperror.CodeOf(err) == "lock_not_acquired" {
			return ReasonLockTimeout
		}
		return ReasonStaleState
	case apperror.KindValidation:
		return ReasonValidation
	}
	return ReasonUnknown
}
