// Package model holds the domain types shared by the poller, the derivation
// engine and the reporting layer.
package model

import (
	"sort"
	"time"
)

// Document types and tracking status codes as reported by the carrier.
const (
	DocumentIncoming = "Incoming"

	StatusDeliveredToPoint    = "7"
	StatusReceivedByRecipient = "8"
)

// Parcel is a typed view of one shipment record. Raw API field names stay
// inside the integration adapters.
type Parcel struct {
	Number            string `json:"number,omitempty"`
	DocumentType      string `json:"documentType"`
	StatusCode        string `json:"statusCode"`
	StatusName        string `json:"statusName,omitempty"`
	WarehouseID       string `json:"warehouseId"`
	CityName          string `json:"cityName,omitempty"`
	SettlementName    string `json:"settlementName,omitempty"`
	CargoDescription  string `json:"cargoDescription"`
	SenderDescription string `json:"senderDescription"`
}

// Delivered reports whether the parcel is an incoming shipment that reached
// its destination point or was picked up.
func (p Parcel) Delivered() bool {
	if p.DocumentType != DocumentIncoming {
		return false
	}
	return p.StatusCode == StatusDeliveredToPoint || p.StatusCode == StatusReceivedByRecipient
}

// Snapshot is the immutable result of one successful fetch.
type Snapshot struct {
	FetchedAt time.Time `json:"fetchedAt"`
	Parcels   []Parcel  `json:"parcels"`
}

// DestinationPoint identifies a recipient warehouse. Two points are equal when
// both fields are equal, so the struct is usable as a map key.
type DestinationPoint struct {
	ID          string `json:"id"`
	DisplayName string `json:"name"`
}

// DestinationPointSet is a set of destination points.
type DestinationPointSet map[DestinationPoint]struct{}

func NewDestinationPointSet(points ...DestinationPoint) DestinationPointSet {
	s := make(DestinationPointSet, len(points))
	for _, p := range points {
		s[p] = struct{}{}
	}
	return s
}

func (s DestinationPointSet) Add(p DestinationPoint) { s[p] = struct{}{} }

func (s DestinationPointSet) Has(p DestinationPoint) bool {
	_, ok := s[p]
	return ok
}

func (s DestinationPointSet) Len() int { return len(s) }

// Minus returns the points of s that are not in other.
func (s DestinationPointSet) Minus(other DestinationPointSet) DestinationPointSet {
	out := DestinationPointSet{}
	for p := range s {
		if !other.Has(p) {
			out[p] = struct{}{}
		}
	}
	return out
}

// Sorted returns the points ordered by ID, then by name.
func (s DestinationPointSet) Sorted() []DestinationPoint {
	out := make([]DestinationPoint, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	SortPoints(out)
	return out
}

func SortPoints(points []DestinationPoint) {
	sort.Slice(points, func(i, j int) bool {
		if points[i].ID != points[j].ID {
			return points[i].ID < points[j].ID
		}
		return points[i].DisplayName < points[j].DisplayName
	})
}

// ErrorKind classifies the last poll failure.
type ErrorKind string

const (
	ErrorNone        ErrorKind = ""
	ErrorTransport   ErrorKind = "transport"
	ErrorAuth        ErrorKind = "auth"
	ErrorApplication ErrorKind = "application"
	ErrorUnknown     ErrorKind = "unknown"
)

// PollStatus is a point-in-time copy of the scheduler state.
type PollStatus struct {
	FetchedAt           *time.Time `json:"fetchedAt,omitempty"`
	Parcels             int        `json:"parcels"`
	DestinationPoints   int        `json:"destinationPoints"`
	KnownPoints         int        `json:"knownPoints"`
	InFlight            bool       `json:"inFlight"`
	LastError           string     `json:"lastError,omitempty"`
	LastErrorKind       ErrorKind  `json:"lastErrorKind,omitempty"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastAttemptAt       *time.Time `json:"lastAttemptAt,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	NextRefreshAt       *time.Time `json:"nextRefreshAt,omitempty"`
}

// Stale reports whether the most recent poll failed.
func (s PollStatus) Stale() bool { return s.LastErrorKind != ErrorNone }

// SensorView is the read model of one per-destination reporting object.
type SensorView struct {
	Key             string    `json:"key"`
	UniqueID        string    `json:"uniqueId"`
	Name            string    `json:"name"`
	DestinationID   string    `json:"destinationId"`
	DestinationName string    `json:"destinationName"`
	DeliveredCount  int       `json:"deliveredCount"`
	Parcels         []string  `json:"parcels"`
	Details         []Parcel  `json:"details,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Stale           bool      `json:"stale"`
}

// Subscription is a webhook subscriber registered through the API.
type Subscription struct {
	ID     string   `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}

type SubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret,omitempty"`
}
