// Package api serves poll status, sensors and webhook administration over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"parcelwatch/internal/auth"
	"parcelwatch/internal/metrics"
	"parcelwatch/internal/model"
	"parcelwatch/internal/store"
)

// Poller is the scheduler surface the API reads and drives.
type Poller interface {
	Status() model.PollStatus
	Snapshot() *model.Snapshot
	Refresh(ctx context.Context) (model.Snapshot, error)
}

// Sensors lists reporting sensors.
type Sensors interface {
	List() []model.SensorView
	Get(key string) (model.SensorView, bool)
}

type Server struct {
	Poller  Poller
	Sensors Sensors
	Store   store.Store
	Auth    *auth.Verifier
	// Limiter throttles manual refreshes. Nil means unlimited.
	Limiter *rate.Limiter
	// Config is the non-secret configuration shown on /debug.
	Config map[string]any
	// Events backs the /v1/events websocket stream. Nil disables it.
	Events *Events
}

// NewLimiter builds the manual refresh limiter from requests per second and
// burst. A non-positive rps disables limiting.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Handler returns the routed, instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.HandleFunc("/readyz", s.ReadyHandler)

	mux.HandleFunc("/v1/status", s.StatusHandler)
	mux.HandleFunc("/v1/refresh", s.RefreshHandler)
	mux.HandleFunc("/v1/destinations", s.DestinationsHandler)
	mux.HandleFunc("/v1/destinations/{key}", s.DestinationByKeyHandler)
	mux.HandleFunc("GET /v1/events", s.EventsHandler)

	mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
	mux.HandleFunc("/v1/subscriptions/{id}", s.SubscriptionByIDHandler)

	mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
	mux.HandleFunc("/v1/admin/webhook-deliveries/{id}/retry", s.WebhookDeliveryRetryHandler)

	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug", s.DebugJSON)

	return requestID(logMiddleware(mux))
}
