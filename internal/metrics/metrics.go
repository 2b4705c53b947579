package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts API requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records API request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// PollCycles counts completed polls by outcome (ok or the error kind)
	PollCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "poll_cycles_total", Help: "Completed polls by outcome."},
		[]string{"outcome"},
	)
	// FetchDuration records remote fetch latency in seconds
	FetchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "poll_fetch_duration_seconds", Help: "Remote fetch duration in seconds.", Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 15, 30}},
	)
	// RefreshRequests counts refresh requests; coalesced ones joined a fetch already in flight
	RefreshRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "poll_refresh_requests_total", Help: "Refresh requests by whether they were coalesced."},
		[]string{"coalesced"},
	)
	// SnapshotParcels is the number of parcels in the current snapshot
	SnapshotParcels = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "snapshot_parcels", Help: "Parcels in the current snapshot."},
	)
	// KnownDestinations is the size of the known destination set
	KnownDestinations = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "known_destination_points", Help: "Destination points seen since start."},
	)
	// DeliveredParcels is the delivered count per reporting sensor
	DeliveredParcels = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "delivered_parcels", Help: "Delivered parcels per destination point."},
		[]string{"key", "destination_id"},
	)

	// WebhookDeliveries counts webhook delivery outcomes by event type and status
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks webhook delivery latencies in milliseconds
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers all collectors on Registry. Safe to call more
// than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests, HTTPDuration)
		Registry.MustRegister(PollCycles, FetchDuration, RefreshRequests)
		Registry.MustRegister(SnapshotParcels, KnownDestinations, DeliveredParcels)
		Registry.MustRegister(WebhookDeliveries, WebhookLatency)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
