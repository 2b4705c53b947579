package webhooks

import (
	"context"

	"parcelwatch/internal/model"
)

// SensorSink turns sensor lifecycle events into webhook events.
type SensorSink struct {
	Pub *Publisher
}

func (s SensorSink) SensorAdded(ctx context.Context, v model.SensorView) {
	s.Pub.Emit(ctx, EventDestinationAdded, sensorData(v))
}

func (s SensorSink) SensorUpdated(ctx context.Context, v model.SensorView, changed bool) {
	if !changed {
		return
	}
	s.Pub.Emit(ctx, EventDeliveredChanged, sensorData(v))
}

type sensorPayload struct {
	Key            string                 `json:"key"`
	UniqueID       string                 `json:"uniqueId"`
	Name           string                 `json:"name"`
	Destination    model.DestinationPoint `json:"destination"`
	DeliveredCount int                    `json:"deliveredCount"`
	Parcels        []string               `json:"parcels"`
}

func sensorData(v model.SensorView) sensorPayload {
	parcels := v.Parcels
	if parcels == nil {
		parcels = []string{}
	}
	return sensorPayload{
		Key:            v.Key,
		UniqueID:       v.UniqueID,
		Name:           v.Name,
		Destination:    model.DestinationPoint{ID: v.DestinationID, DisplayName: v.DestinationName},
		DeliveredCount: v.DeliveredCount,
		Parcels:        parcels,
	}
}
