// Package app assembles one account's poller, sinks, relays and API into a
// Runtime owned by the process entry point.
package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"parcelwatch/internal/api"
	"parcelwatch/internal/auth"
	"parcelwatch/internal/config"
	"parcelwatch/internal/integrations"
	"parcelwatch/internal/integrations/novaposhta"
	"parcelwatch/internal/integrations/replay"
	"parcelwatch/internal/metrics"
	"parcelwatch/internal/mqttsink"
	"parcelwatch/internal/notify"
	"parcelwatch/internal/poller"
	"parcelwatch/internal/relay"
	"parcelwatch/internal/report"
	"parcelwatch/internal/store"
	"parcelwatch/internal/webhooks"
)

// Runtime holds everything tied to one credential. There is no package
// level state; two runtimes in one process are independent.
type Runtime struct {
	Config    config.Config
	AccountID string
	Scheduler *poller.Scheduler
	Sensors   *report.Manager
	Store     store.Store
	Webhooks  *webhooks.Worker
	API       *api.Server

	server  *http.Server
	closers []func() error
}

// AccountID derives a stable, non-secret identifier from the API key.
func AccountID(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:12]
}

// NewRuntime wires the components but starts nothing. Broker connections
// are opened here so misconfiguration fails fast.
func NewRuntime(cfg config.Config) (*Runtime, error) {
	metrics.RegisterDefault()
	rt := &Runtime{Config: cfg, AccountID: AccountID(cfg.APIKey)}
	ok := false
	defer func() {
		if !ok {
			rt.closeAll()
		}
	}()

	st, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	rt.Store = st
	rt.closers = append(rt.closers, st.Close)

	fetcher := poller.NewFetcher(newSource(cfg))
	fetcher.HistoryDays = cfg.HistoryDays
	fetcher.PageLimit = cfg.PageLimit
	fetcher.MaxPages = cfg.MaxPages

	observers := notify.NewRegistry()
	rt.Scheduler = poller.New(fetcher, observers, poller.Options{
		Interval:       cfg.RefreshInterval,
		FailureBackoff: cfg.FailureBackoff,
	})

	sinks := []report.Sink{report.GaugeSink{}, webhooks.SensorSink{Pub: webhooks.NewPublisher(st, rt.AccountID)}}
	if cfg.MQTT.Broker != "" {
		pub, err := mqttsink.Connect(mqttsink.Config{
			Broker:          cfg.MQTT.Broker,
			ClientID:        cfg.MQTT.ClientID,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			BaseTopic:       cfg.MQTT.BaseTopic,
			AccountID:       rt.AccountID,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, pub)
		rt.closers = append(rt.closers, func() error { pub.Close(); return nil })
	}
	rt.Sensors = report.NewManager(rt.AccountID, rt.Scheduler, sinks...)
	observers.Add(rt.Sensors)

	if cfg.RedisURL != "" {
		r, err := relay.NewRedis(cfg.RedisURL, cfg.RedisChannel, rt.AccountID, rt.Scheduler)
		if err != nil {
			return nil, fmt.Errorf("redis relay: %w", err)
		}
		observers.Add(r)
		rt.closers = append(rt.closers, r.Close)
	}
	if len(cfg.KafkaBrokers) > 0 {
		k := relay.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, rt.AccountID, rt.Scheduler)
		observers.Add(k)
		rt.closers = append(rt.closers, k.Close)
	}

	rt.Webhooks = webhooks.NewWorker(st, cfg.WebhookMaxAttempts, cfg.WebhookPollInterval)

	if cfg.InsecureAuth() {
		log.Printf("app: WARNING AUTH_MODE=dev: any \"subject:admin\" bearer token is accepted as admin; set AUTH_MODE=hmac or jwks outside development")
	}
	var verifier *auth.Verifier
	if cfg.AuthMode != "" {
		verifier = auth.NewVerifier(cfg.AuthMode, []byte(cfg.AuthHMACSecret), cfg.AuthJWKSURL, cfg.AuthRoleClaim)
	}
	rt.API = &api.Server{
		Poller:  rt.Scheduler,
		Sensors: rt.Sensors,
		Store:   st,
		Auth:    verifier,
		Limiter: api.NewLimiter(cfg.RefreshRPS, cfg.RefreshBurst),
		Config:  cfg.Redacted(),
		Events:  &api.Events{Registry: rt.Scheduler.Observers(), Source: rt.Scheduler, Account: rt.AccountID},
	}
	rt.server = &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.Port)),
		Handler:           rt.API.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	ok = true
	return rt, nil
}

func newSource(cfg config.Config) integrations.ShipmentSource {
	if cfg.Source == config.SourceReplay {
		return replay.Adapter{APIKey: cfg.APIKey, Path: cfg.ReplayFile}
	}
	return novaposhta.New(cfg.APIKey,
		novaposhta.WithBaseURL(cfg.BaseURL),
		novaposhta.WithTimeout(cfg.HTTPTimeout),
	)
}

// Setup validates the credential and performs the first poll. See
// poller.Scheduler.Setup for the error contract.
func (rt *Runtime) Setup(ctx context.Context) error {
	err := rt.Scheduler.Setup(ctx)
	if err != nil {
		log.Printf("app: setup failed account=%s code=%s err=%v", rt.AccountID, poller.SetupErrorCode(err), err)
		return err
	}
	log.Printf("app: setup ok account=%s sensors=%d", rt.AccountID, rt.Sensors.Len())
	return nil
}

// Run starts the poll loop, the webhook worker and the HTTP server, and
// blocks until ctx ends or the server fails.
func (rt *Runtime) Run(ctx context.Context) error {
	rt.Scheduler.Start()
	rt.Webhooks.Start()

	errc := make(chan error, 1)
	go func() {
		log.Printf("API listening on %s", rt.server.Addr)
		if err := rt.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err, open := <-errc:
		if open && err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}
}

// Close stops the HTTP server, the scheduler and the worker, then releases
// brokers and the store. It is safe to call after a failed Setup.
func (rt *Runtime) Close(ctx context.Context) error {
	var errs []error
	if err := rt.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := rt.Scheduler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
	}
	rt.Webhooks.Close()
	errs = append(errs, rt.closeAll())
	return errors.Join(errs...)
}

func (rt *Runtime) closeAll() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}
