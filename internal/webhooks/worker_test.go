package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"parcelwatch/internal/model"
	"parcelwatch/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 3}
	id, err := rs.Memory.EnqueueWebhook(context.Background(), "sub1", EventDestinationAdded, srv.URL, "secret", []byte(`{"id":"evt1"}`))
	if err != nil || id == "" {
		t.Fatalf("enqueue failed: %v", err)
	}

	w.processOnce()

	if gotType != EventDestinationAdded {
		t.Fatalf("X-Event-Type = %q", gotType)
	}
	if !VerifyHMAC("secret", gotBody, gotSig) {
		t.Fatalf("signature %q does not verify", gotSig)
	}
	if len(rs.marks) == 0 || !rs.marks[0].Success {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnce_RetryThenFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := &Worker{Store: rs, HTTP: srv.Client(), Stop: make(chan struct{}), MaxAttempts: 2}
	id, _ := rs.Memory.EnqueueWebhook(context.Background(), "sub1", EventDeliveredChanged, srv.URL, "", []byte(`{}`))

	w.processOnce()
	if len(rs.marks) != 1 || rs.marks[0].Success || rs.marks[0].Code != 500 || rs.marks[0].LastErr == "" {
		t.Fatalf("first attempt marks = %+v", rs.marks)
	}
	// not due yet: backoff pushed it into the future
	w.processOnce()
	if len(rs.marks) != 1 || len(rs.fails) != 0 {
		t.Fatalf("delivery retried before its backoff: marks=%+v fails=%+v", rs.marks, rs.fails)
	}

	if err := rs.RetryWebhookDelivery(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	w.processOnce()
	if len(rs.fails) != 1 || rs.fails[0].ID != id {
		t.Fatalf("expected dead-letter, got fails=%+v", rs.fails)
	}
}

func TestWorkerStartClose(t *testing.T) {
	hits := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case hits <- struct{}{}:
		default:
		}
	}))
	defer srv.Close()
	mem := store.NewMemory()
	w := NewWorker(mem, 3, 10*time.Millisecond)
	_, _ = mem.EnqueueWebhook(context.Background(), "sub1", EventDestinationAdded, srv.URL, "", []byte(`{"id":"e"}`))
	w.Start()
	select {
	case <-hits:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never delivered")
	}
	w.Close()
	w.Close()
}

func TestNextBackoff(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{3, 8 * time.Second},
		{12, time.Hour},
		{50, time.Hour},
	}
	for _, c := range cases {
		if got := nextBackoff(c.attempts); got != c.want {
			t.Fatalf("nextBackoff(%d) = %v, want %v", c.attempts, got, c.want)
		}
	}
}

func TestSensorSinkEmits(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()
	if _, err := mem.CreateSubscription(ctx, model.SubscriptionRequest{URL: "https://hooks.test/a", Events: []string{"*"}}); err != nil {
		t.Fatal(err)
	}
	sink := SensorSink{Pub: NewPublisher(mem, "acc")}
	v := model.SensorView{Key: "delivered_parcels_kyiv_12", DestinationID: "12", DestinationName: "Kyiv", DeliveredCount: 1, Parcels: []string{"Docs - Sender"}}

	sink.SensorAdded(ctx, v)
	sink.SensorUpdated(ctx, v, false)
	sink.SensorUpdated(ctx, v, true)

	due, _ := mem.FetchDueWebhookDeliveries(ctx, 10)
	if len(due) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(due))
	}
	if due[0].EventType != EventDestinationAdded || due[1].EventType != EventDeliveredChanged {
		t.Fatalf("event types = %s, %s", due[0].EventType, due[1].EventType)
	}
	var evt struct {
		Type    string        `json:"type"`
		Account string        `json:"account"`
		Data    sensorPayload `json:"data"`
	}
	if err := json.Unmarshal(due[1].Payload, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Account != "acc" || evt.Data.Destination.ID != "12" || evt.Data.DeliveredCount != 1 {
		t.Fatalf("payload = %+v", evt)
	}
}
