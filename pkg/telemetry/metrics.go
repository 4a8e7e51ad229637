// Package telemetry holds the Prometheus collectors for the chat core and
// the request instrumentation middleware. Everything is registered on the
// default registry and exposed via promhttp on /metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campuschat_messages_appended_total",
		Help: "Messages durably appended to a thread log.",
	})
	MessagesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campuschat_messages_skipped_total",
		Help: "Sends skipped because content was empty after trimming.",
	})
	MessagesSeen = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campuschat_messages_seen_total",
		Help: "Delivery-state transitions to seen.",
	})
	ThreadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campuschat_threads_created_total",
		Help: "Threads created by the directory.",
	})
	TypingUpdates = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campuschat_typing_updates_total",
		Help: "Typing state writes, including expiries.",
	})
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "campuschat_fanout_events_total",
		Help: "Events published to thread topics.",
	}, []string{"type"})
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "campuschat_fanout_dropped_subscribers_total",
		Help: "Subscriptions closed because the client fell behind.",
	})
	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "campuschat_fanout_subscribers",
		Help: "Currently connected fan-out subscribers.",
	})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "campuschat_http_request_duration_seconds",
		Help:    "HTTP request latency by method and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "code"})
)

// StorageStats is the view of store internals the gauges read on scrape.
type StorageStats struct {
	DiskUsage  uint64
	MemtableSz uint64
}

// RegisterStorage wires a stats source (the pebble store) into gauge
// collectors. Call once at startup.
func RegisterStorage(stats func() StorageStats) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "campuschat_storage_disk_bytes",
		Help: "On-disk size of the message store.",
	}, func() float64 { return float64(stats().DiskUsage) })
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "campuschat_storage_memtable_bytes",
		Help: "Memtable size of the message store.",
	}, func() float64 { return float64(stats().MemtableSz) })
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request durations. WebSocket upgrades pass through
// untouched so the recorder does not mask the http.Hijacker the upgrader
// needs.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		requestDuration.WithLabelValues(r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
