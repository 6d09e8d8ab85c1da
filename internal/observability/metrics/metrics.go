package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "battmon_"

	IngestResultSuccess = "success"
	IngestResultError   = "error"

	DrainResultCommitted = "committed"
	DrainResultFailed    = "failed"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	queueDepth   prometheus.Gauge
	queueDropped prometheus.Counter

	drainGroups  *prometheus.CounterVec
	drainLatency prometheus.Histogram

	storeSize       *prometheus.GaugeVec
	onlineEquipment prometheus.Gauge

	broadcastEvents  *prometheus.CounterVec
	broadcastDropped prometheus.Counter

	alarmsRaised *prometheus.CounterVec
)

// Init registers all telemetry-plane metrics. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest requests by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)

		queueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "persist_queue_depth",
				Help: "Items buffered for the next persistence drain",
			},
		)
		queueDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "persist_queue_dropped_total",
				Help: "Items dropped from the persistence queue on overflow",
			},
		)

		drainGroups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "drain_groups_total",
				Help: "Equipment groups persisted per drain by result",
			},
			[]string{"result"},
		)
		drainLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "drain_latency_seconds",
				Help:    "End-to-end drain cycle latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		)

		storeSize = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "store_entries",
				Help: "Latest-value store sizes by telemetry kind",
			},
			[]string{"kind"},
		)
		onlineEquipment = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "online_equipment",
				Help: "Equipment currently inside the offline threshold",
			},
		)

		broadcastEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_events_total",
				Help: "Events handed to the dashboard dispatcher by type",
			},
			[]string{"event"},
		)
		broadcastDropped = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "broadcast_dropped_total",
				Help: "Events dropped because the dispatcher buffer was full",
			},
		)

		alarmsRaised = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "alarms_raised_total",
				Help: "Alarms raised by level",
			},
			[]string{"level"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			queueDepth,
			queueDropped,
			drainGroups,
			drainLatency,
			storeSize,
			onlineEquipment,
			broadcastEvents,
			broadcastDropped,
			alarmsRaised,
		)
	})
}

// ObserveIngest records one ingest request and its latency.
func ObserveIngest(result string, elapsed time.Duration) {
	if result == "" {
		result = IngestResultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(elapsed.Seconds())
	}
}

// IncIngestError counts one rejected ingest by reason.
func IncIngestError(reason string) {
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// SetQueueDepth reports the current persistence buffer depth.
func SetQueueDepth(depth int) {
	if queueDepth != nil {
		queueDepth.Set(float64(depth))
	}
}

// AddQueueDropped counts items lost to queue overflow.
func AddQueueDropped(n int) {
	if queueDropped != nil && n > 0 {
		queueDropped.Add(float64(n))
	}
}

// ObserveDrain records one drain cycle and its per-group outcomes.
func ObserveDrain(committed, failed int, elapsed time.Duration) {
	if drainGroups != nil {
		drainGroups.WithLabelValues(DrainResultCommitted).Add(float64(committed))
		drainGroups.WithLabelValues(DrainResultFailed).Add(float64(failed))
	}
	if drainLatency != nil {
		drainLatency.Observe(elapsed.Seconds())
	}
}

// SetStoreSize reports the entry count of one latest-value store.
func SetStoreSize(kind string, size int) {
	if storeSize != nil {
		storeSize.WithLabelValues(kind).Set(float64(size))
	}
}

// SetOnlineEquipment reports the number of online equipment.
func SetOnlineEquipment(n int) {
	if onlineEquipment != nil {
		onlineEquipment.Set(float64(n))
	}
}

// IncBroadcast counts one event handed to the dispatcher.
func IncBroadcast(event string) {
	if broadcastEvents != nil {
		broadcastEvents.WithLabelValues(event).Inc()
	}
}

// IncBroadcastDropped counts one event dropped by a full dispatcher buffer.
func IncBroadcastDropped() {
	if broadcastDropped != nil {
		broadcastDropped.Inc()
	}
}

// IncAlarm counts one raised alarm by level.
func IncAlarm(level string) {
	if alarmsRaised != nil {
		alarmsRaised.WithLabelValues(level).Inc()
	}
}
