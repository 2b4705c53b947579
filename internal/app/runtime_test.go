package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parcelwatch/internal/config"
	"parcelwatch/internal/poller"
)

func replayConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.APIKey = "test-key"
	cfg.Source = config.SourceReplay
	cfg.ReplayFile = "../../testdata/incoming.json"
	cfg.DatabaseURL = "sqlite::memory:"
	cfg.Port = 0
	cfg.AuthMode = "dev"
	return cfg
}

func TestRuntimeSetupCreatesSensors(t *testing.T) {
	rt, err := NewRuntime(replayConfig(t))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer rt.Close(context.Background())

	if err := rt.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if rt.Sensors.Len() != 3 {
		t.Fatalf("sensors = %+v", rt.Sensors.List())
	}
	kyiv, ok := rt.Sensors.Get("delivered_parcels_kyiv_12")
	if !ok {
		t.Fatalf("kyiv sensor missing: %+v", rt.Sensors.List())
	}
	if kyiv.DeliveredCount != 1 || kyiv.Parcels[0] != "Документи - ТОВ Ромашка" {
		t.Fatalf("kyiv = %+v", kyiv)
	}
	if kyiv.UniqueID != rt.AccountID+"-delivered_parcels_kyiv_12" {
		t.Fatalf("unique id = %q", kyiv.UniqueID)
	}
	bila, ok := rt.Sensors.Get("delivered_parcels_bila__tserkva_3")
	if !ok || bila.DeliveredCount != 1 {
		t.Fatalf("bila tserkva = %+v ok=%v", bila, ok)
	}

	h := rt.API.Handler()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz = %d %s", rr.Code, rr.Body.String())
	}
}

func TestRuntimeSetupRejectsEmptyKey(t *testing.T) {
	cfg := replayConfig(t)
	cfg.APIKey = ""
	rt, err := NewRuntime(cfg)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer rt.Close(context.Background())

	err = rt.Setup(context.Background())
	var sv *poller.SetupValidationError
	if !errors.As(err, &sv) {
		t.Fatalf("err = %v, want SetupValidationError", err)
	}
}

func TestRuntimeSetupMissingFileNotReady(t *testing.T) {
	cfg := replayConfig(t)
	cfg.ReplayFile = t.TempDir() + "/missing.json"
	rt, err := NewRuntime(cfg)
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	defer rt.Close(context.Background())

	if err := rt.Setup(context.Background()); !errors.Is(err, poller.ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}
}

func TestRuntimeRunStopsOnCancel(t *testing.T) {
	rt, err := NewRuntime(replayConfig(t))
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	if err := rt.Setup(context.Background()); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	if err := rt.Close(closeCtx); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAccountIDStable(t *testing.T) {
	a, b := AccountID("key"), AccountID("key")
	if a != b || len(a) != 12 || a == AccountID("other") {
		t.Fatalf("account ids: %q %q", a, b)
	}
}
