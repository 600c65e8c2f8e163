package metrics

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "flexmarket_"

	resultSuccess = "success"
	resultError   = "error"
)

var (
	registerOnce sync.Once

	clearingRuns    *prometheus.CounterVec
	clearingSlots   prometheus.Counter
	clearingLatency *prometheus.HistogramVec

	bidsAccepted prometheus.Counter
	bidsRejected prometheus.Counter

	ledgerWrites  *prometheus.CounterVec
	ledgerLatency *prometheus.HistogramVec

	platformRequests *prometheus.CounterVec
	platformLatency  *prometheus.HistogramVec

	reportExports *prometheus.CounterVec

	simulationSlots prometheus.Counter
)

// Init registers the market metrics. Safe to call more than once.
func Init(logger *log.Logger) {
	if logger == nil {
		logger = log.Default()
	}
	registerOnce.Do(func() {
		clearingRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "clearing_runs_total",
				Help: "Total market clearing runs by result",
			},
			[]string{"result"},
		)
		clearingSlots = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "clearing_slots_total",
				Help: "Total time slots cleared",
			},
		)
		clearingLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "clearing_latency_seconds",
				Help:    "Market clearing latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		bidsAccepted = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "bids_accepted_total",
				Help: "Total accepted bids",
			},
		)
		bidsRejected = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "bids_rejected_total",
				Help: "Total non-accepted bids",
			},
		)

		ledgerWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ledger_writes_total",
				Help: "Total market ledger writes by result",
			},
			[]string{"result"},
		)
		ledgerLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ledger_write_latency_seconds",
				Help:    "Market ledger write latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		platformRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "platform_requests_total",
				Help: "Total trading platform requests by method and result",
			},
			[]string{"method", "result"},
		)
		platformLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "platform_request_latency_seconds",
				Help:    "Trading platform request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "result"},
		)

		reportExports = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "report_exports_total",
				Help: "Total clearing report exports by format and result",
			},
			[]string{"format", "result"},
		)

		simulationSlots = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "simulation_slots_total",
				Help: "Total simulated time slots",
			},
		)

		prometheus.MustRegister(
			clearingRuns,
			clearingSlots,
			clearingLatency,
			bidsAccepted,
			bidsRejected,
			ledgerWrites,
			ledgerLatency,
			platformRequests,
			platformLatency,
			reportExports,
			simulationSlots,
		)

		logger.Printf("metrics registered with prefix %s", metricPrefix)
	})
}

// ObserveClearing records one clearing run.
func ObserveClearing(result string, slots int, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if clearingRuns != nil {
		clearingRuns.WithLabelValues(result).Inc()
	}
	if clearingSlots != nil && slots > 0 {
		clearingSlots.Add(float64(slots))
	}
	if clearingLatency != nil {
		clearingLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// AddBidsAccepted increments the accepted bid counter by count.
func AddBidsAccepted(count int) {
	if count <= 0 {
		return
	}
	if bidsAccepted != nil {
		bidsAccepted.Add(float64(count))
	}
}

// AddBidsRejected increments the rejected bid counter by count.
func AddBidsRejected(count int) {
	if count <= 0 {
		return
	}
	if bidsRejected != nil {
		bidsRejected.Add(float64(count))
	}
}

// ObserveLedgerWrite records one ledger write.
func ObserveLedgerWrite(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ledgerWrites != nil {
		ledgerWrites.WithLabelValues(result).Inc()
	}
	if ledgerLatency != nil {
		ledgerLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObservePlatformRequest records one trading platform request.
func ObservePlatformRequest(method, result string, duration time.Duration) {
	if method == "" {
		method = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if platformRequests != nil {
		platformRequests.WithLabelValues(method, result).Inc()
	}
	if platformLatency != nil {
		platformLatency.WithLabelValues(method, result).Observe(duration.Seconds())
	}
}

// IncReportExport increments the report export counter.
func IncReportExport(format, result string) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if reportExports != nil {
		reportExports.WithLabelValues(format, result).Inc()
	}
}

// IncSimulationSlot increments the simulated slot counter.
func IncSimulationSlot() {
	if simulationSlots != nil {
		simulationSlots.Inc()
	}
}

// Exported result constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
)
