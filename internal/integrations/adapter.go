package integrations

import (
	"context"
	"time"

	"parcelwatch/internal/model"
)

// ShipmentSource is the boundary to a remote shipment-tracking service.
// Implementations classify every failure as an *Error and never retry.
type ShipmentSource interface {
	Name() string
	// ValidateCredentials performs the cheapest authenticated call the
	// service offers.
	ValidateCredentials(ctx context.Context) error
	// IncomingByPhone returns one page of shipments addressed to the
	// account's phone number within the query window.
	IncomingByPhone(ctx context.Context, q Query) (Page, error)
	// Close releases client handles.
	Close() error
}

// Query selects one page of incoming shipments.
type Query struct {
	DateFrom time.Time
	DateTo   time.Time
	Limit    int
	Page     int
}

type Page struct {
	Parcels []model.Parcel
}
