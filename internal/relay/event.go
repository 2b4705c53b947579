// Package relay forwards poll results to message brokers. Each relay is a
// poll observer.
package relay

import (
	"time"

	"github.com/google/uuid"

	"parcelwatch/internal/model"
)

const EventPollCompleted = "poll.completed"

// Source is the scheduler state a relay reads after each poll.
type Source interface {
	Status() model.PollStatus
	Added() []model.DestinationPoint
	DestinationPoints() []model.DestinationPoint
}

type PollEvent struct {
	ID           string                   `json:"id"`
	Type         string                   `json:"type"`
	Account      string                   `json:"account"`
	TS           time.Time                `json:"ts"`
	OK           bool                     `json:"ok"`
	FetchedAt    *time.Time               `json:"fetchedAt,omitempty"`
	Error        string                   `json:"error,omitempty"`
	ErrorKind    model.ErrorKind          `json:"errorKind,omitempty"`
	Parcels      int                      `json:"parcels"`
	Added        []model.DestinationPoint `json:"added"`
	Destinations []model.DestinationPoint `json:"destinations"`
}

// NewEvent snapshots the scheduler state into a poll.completed event.
func NewEvent(account string, src Source) PollEvent {
	st := src.Status()
	added := src.Added()
	if added == nil {
		added = []model.DestinationPoint{}
	}
	return PollEvent{
		ID:           "evt_" + uuid.NewString(),
		Type:         EventPollCompleted,
		Account:      account,
		TS:           time.Now().UTC(),
		OK:           !st.Stale(),
		FetchedAt:    st.FetchedAt,
		Error:        st.LastError,
		ErrorKind:    st.LastErrorKind,
		Parcels:      st.Parcels,
		Added:        added,
		Destinations: src.DestinationPoints(),
	}
}
