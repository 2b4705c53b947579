package api

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"parcelwatch/internal/notify"
	"parcelwatch/internal/relay"
)

// Events streams poll.completed events to websocket clients.
type Events struct {
	Registry *notify.Registry
	Source   relay.Source
	Account  string
}

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
)

// wsObserver hands poll notifications to one connection. NotifyAll runs
// observers serially, so a slow client drops events instead of blocking it.
type wsObserver struct {
	ch chan relay.PollEvent
	ev *Events
}

func (o *wsObserver) Notify() {
	select {
	case o.ch <- relay.NewEvent(o.ev.Account, o.ev.Source):
	default:
		log.Printf("api: events client lagging, event dropped")
	}
}

// EventsHandler handles GET /v1/events. Browsers cannot set headers on a
// websocket handshake, so the token may also come as ?access_token=.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	if s.Events == nil || s.Events.Registry == nil {
		writeProblem(w, http.StatusNotFound, "Not Found", "event stream disabled", r.URL.Path)
		return
	}
	if tok := r.URL.Query().Get("access_token"); tok != "" && r.Header.Get("Authorization") == "" {
		r.Header.Set("Authorization", "Bearer "+strings.TrimSpace(tok))
	}
	if _, ok := s.principal(r); !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "valid bearer token required", r.URL.Path)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	obs := &wsObserver{ch: make(chan relay.PollEvent, 8), ev: s.Events}
	s.Events.Registry.Add(obs)
	defer s.Events.Registry.Remove(obs)

	// Reads only serve control frames and detect the client going away.
	closed := make(chan struct{})
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		select {
		case evt := <-obs.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
