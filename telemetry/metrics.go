// Package telemetry provides Prometheus metrics, correlation-id aware logging
// helpers, and OpenTelemetry tracing setup.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	AdmissionsApproved prometheus.Counter
	FanoutsApproved    prometheus.Counter
	AdmissionsDenied   *prometheus.CounterVec
	BatteryReserved    prometheus.Counter
	DailySnapshots     prometheus.Counter

	// Histograms (seconds)
	AdmissionDuration prometheus.Observer
	DispatchDuration  prometheus.Observer
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		AdmissionsApproved = promauto.NewCounter(prometheus.CounterOpts{Name: "battery_admissions_approved_total", Help: "Number of approved admission requests"})
		FanoutsApproved = promauto.NewCounter(prometheus.CounterOpts{Name: "battery_fanouts_approved_total", Help: "Number of approved fan-out admissions"})
		AdmissionsDenied = promauto.NewCounterVec(prometheus.CounterOpts{Name: "battery_admissions_denied_total", Help: "Number of denied admission requests by reason"}, []string{"reason"})
		BatteryReserved = promauto.NewCounter(prometheus.CounterOpts{Name: "battery_reserved_total", Help: "Total battery quantity reserved by approved admissions"})
		DailySnapshots = promauto.NewCounter(prometheus.CounterOpts{Name: "battery_daily_snapshots_total", Help: "Number of daily usage snapshots emitted"})
		AdmissionDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "battery_admission_duration_seconds", Help: "Admission decision duration seconds", Buckets: prometheus.DefBuckets})
		DispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "battery_dispatch_duration_seconds", Help: "Dispatch agent call duration seconds", Buckets: prometheus.DefBuckets})
	})
}

// CountApproved increments the approval counters; fanout additionally bumps the fan-out counter.
func CountApproved(fanout bool) {
	if AdmissionsApproved != nil {
		AdmissionsApproved.Inc()
	}
	if fanout && FanoutsApproved != nil {
		FanoutsApproved.Inc()
	}
}

// CountDenied increments the denial counter for a reason label.
func CountDenied(reason string) {
	if AdmissionsDenied != nil {
		AdmissionsDenied.WithLabelValues(reason).Inc()
	}
}

// AddBatteryReserved records the committed quantity of an approved reservation.
func AddBatteryReserved(n int) {
	if BatteryReserved != nil {
		BatteryReserved.Add(float64(n))
	}
}

// CountDailySnapshot records one emitted daily usage snapshot.
func CountDailySnapshot() {
	if DailySnapshots != nil {
		DailySnapshots.Inc()
	}
}

// ObserveAdmission records one admission decision duration.
func ObserveAdmission(d time.Duration) {
	if AdmissionDuration != nil {
		AdmissionDuration.Observe(d.Seconds())
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
