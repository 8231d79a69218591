/*
Package metrics holds the Prometheus collectors for the lease engine.

COLLECTORS:
  lease_operations_total{op, outcome}          every service call; outcome is "ok" or the error kind
  lease_operation_duration_seconds{op}         service call latency
  lease_payments_recorded_total                payments accepted
  lease_payment_amount_total                   sum of accepted payment amounts
  lease_tenant_transitions_total{from, to}     lease status changes written to the store
  lease_property_status_changes_total{from,to} property availability changes
  lease_sweep_runs_total{outcome}              lifecycle sweeps
  lease_lock_wait_seconds                      time spent acquiring per-entity locks

All methods are safe on a nil *Metrics so callers never branch on configuration.
*/
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Config supplies constant labels.
type Config struct {
	ServiceName string
	Environment string
}

// Metrics is the set of application collectors.
type Metrics struct {
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	paymentsRecorded  prometheus.Counter
	paymentAmount     prometheus.Counter
	tenantTransitions *prometheus.CounterVec
	propertyStatus    *prometheus.CounterVec
	sweepRuns         *prometheus.CounterVec
	lockWait          prometheus.Histogram
}

// NewRegistry returns a registry with the Go runtime and process collectors installed.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New creates the collectors and registers them with registerer.
func New(registerer prometheus.Registerer, cfg Config) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "lease-engine"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lease_operations_total",
			Help:        "Service operations by name and outcome.",
			ConstLabels: constLabels,
		}, []string{"op", "outcome"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "lease_operation_duration_seconds",
			Help:        "Service operation latency.",
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}, []string{"op"}),
		paymentsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "lease_payments_recorded_total",
			Help:        "Payments accepted.",
			ConstLabels: constLabels,
		}),
		paymentAmount: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "lease_payment_amount_total",
			Help:        "Sum of accepted payment amounts.",
			ConstLabels: constLabels,
		}),
		tenantTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lease_tenant_transitions_total",
			Help:        "Tenant lease status changes written to the store.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		propertyStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lease_property_status_changes_total",
			Help:        "Property availability changes.",
			ConstLabels: constLabels,
		}, []string{"from", "to"}),
		sweepRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "lease_sweep_runs_total",
			Help:        "Lifecycle sweeps by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		lockWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "lease_lock_wait_seconds",
			Help:        "Time spent acquiring per-entity locks.",
			Buckets:     []float64{0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			ConstLabels: constLabels,
		}),
	}

	registerer.MustRegister(
		m.operations,
		m.operationDuration,
		m.paymentsRecorded,
		m.paymentAmount,
		m.tenantTransitions,
		m.propertyStatus,
		m.sweepRuns,
		m.lockWait,
	)
	return m
}

// ObserveOperation records one service call. outcome is "ok" or an error kind.
func (m *Metrics) ObserveOperation(op, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.operationDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// PaymentRecorded counts an accepted payment.
func (m *Metrics) PaymentRecorded(amount float64) {
	if m == nil {
		return
	}
	m.paymentsRecorded.Inc()
	if amount > 0 {
		m.paymentAmount.Add(amount)
	}
}

func (m *Metrics) TenantTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.tenantTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) PropertyStatusChanged(from, to string) {
	if m == nil {
		return
	}
	m.propertyStatus.WithLabelValues(from, to).Inc()
}

func (m *Metrics) SweepRun(outcome string) {
	if m == nil {
		return
	}
	m.sweepRuns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d.Seconds())
}
