package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "opcost_"

	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	registerOnce sync.Once

	computeTotal    *prometheus.CounterVec
	computeLatency  *prometheus.HistogramVec
	computeWarnings *prometheus.CounterVec

	documentTotal   *prometheus.CounterVec
	documentLatency *prometheus.HistogramVec

	exportTotal *prometheus.CounterVec

	deliveryTotal *prometheus.CounterVec
)

// Init registers the statement metrics with the default registry. Calling it
// more than once is a no-op; recording before Init is silently dropped.
func Init() {
	registerOnce.Do(func() {
		computeTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_compute_total",
				Help: "Total statement computations by result",
			},
			[]string{"result"},
		)
		computeLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_compute_latency_seconds",
				Help:    "Statement computation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		computeWarnings = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_compute_warnings_total",
				Help: "Allocation warnings by code",
			},
			[]string{"code"},
		)
		documentTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_documents_total",
				Help: "Generated tenant documents by renderer and result",
			},
			[]string{"renderer", "result"},
		)
		documentLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "statement_document_latency_seconds",
				Help:    "Document rendering latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"renderer"},
		)
		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_export_total",
				Help: "Statement exports by format and result",
			},
			[]string{"format", "result"},
		)
		deliveryTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "statement_delivery_total",
				Help: "Statement delivery attempts by status",
			},
			[]string{"status"},
		)
		prometheus.MustRegister(
			computeTotal,
			computeLatency,
			computeWarnings,
			documentTotal,
			documentLatency,
			exportTotal,
			deliveryTotal,
		)
	})
}

func resultOf(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultSuccess
}

// ObserveCompute records computation latency and result.
func ObserveCompute(err error, duration time.Duration) {
	result := resultOf(err)
	if computeTotal != nil {
		computeTotal.WithLabelValues(result).Inc()
	}
	if computeLatency != nil {
		computeLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncComputeWarning increments the warning counter for a code.
func IncComputeWarning(code string) {
	if code == "" {
		code = "unknown"
	}
	if computeWarnings != nil {
		computeWarnings.WithLabelValues(code).Inc()
	}
}

// ObserveDocument records a rendered document.
func ObserveDocument(renderer string, err error, duration time.Duration) {
	if documentTotal == nil {
		return
	}
	documentTotal.WithLabelValues(renderer, resultOf(err)).Inc()
	if err == nil {
		documentLatency.WithLabelValues(renderer).Observe(duration.Seconds())
	}
}

// IncExport increments the export counter.
func IncExport(format string, err error) {
	if format == "" {
		format = "unknown"
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, resultOf(err)).Inc()
	}
}

// IncDelivery increments the delivery counter.
func IncDelivery(status string) {
	if deliveryTotal != nil {
		deliveryTotal.WithLabelValues(status).Inc()
	}
}
