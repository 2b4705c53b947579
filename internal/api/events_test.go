package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"parcelwatch/internal/model"
	"parcelwatch/internal/notify"
	"parcelwatch/internal/relay"
)

type eventSource struct{}

func (eventSource) Status() model.PollStatus { return model.PollStatus{Parcels: 2} }
func (eventSource) Added() []model.DestinationPoint {
	return []model.DestinationPoint{{ID: "12", DisplayName: "Kyiv"}}
}
func (eventSource) DestinationPoints() []model.DestinationPoint {
	return []model.DestinationPoint{{ID: "12", DisplayName: "Kyiv"}}
}

func waitLen(t *testing.T, reg *notify.Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for reg.Len() != want {
		if time.Now().After(deadline) {
			t.Fatalf("observers = %d, want %d", reg.Len(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventsStreamPollCompleted(t *testing.T) {
	s, _ := newTestServer(t)
	reg := notify.NewRegistry()
	s.Events = &Events{Registry: reg, Source: eventSource{}, Account: "acc"}
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/events"
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil || resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token: err=%v resp=%v", err, resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?access_token=alice:user", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	waitLen(t, reg, 1)
	reg.NotifyAll()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt relay.PollEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read: %v", err)
	}
	if evt.Type != relay.EventPollCompleted || evt.Account != "acc" || !evt.OK || evt.Parcels != 2 || len(evt.Added) != 1 {
		t.Fatalf("event = %+v", evt)
	}

	_ = conn.Close()
	waitLen(t, reg, 0)
}

func TestEventsDisabled(t *testing.T) {
	s, _ := newTestServer(t)
	rr := do(t, s.Handler(), http.MethodGet, "/v1/events", "alice:user", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rr.Code)
	}
}
