package report

import (
	"context"

	"parcelwatch/internal/metrics"
	"parcelwatch/internal/model"
)

// GaugeSink mirrors sensor counts into the delivered_parcels gauge.
type GaugeSink struct{}

func (GaugeSink) SensorAdded(_ context.Context, v model.SensorView) {
	metrics.DeliveredParcels.WithLabelValues(v.Key, v.DestinationID).Set(0)
}

func (GaugeSink) SensorUpdated(_ context.Context, v model.SensorView, _ bool) {
	metrics.DeliveredParcels.WithLabelValues(v.Key, v.DestinationID).Set(float64(v.DeliveredCount))
}
