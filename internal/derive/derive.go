// Package derive turns a fetched snapshot into destination points and
// per-destination delivered parcel views. Everything here is pure.
package derive

import "parcelwatch/internal/model"

// DestinationPoints returns the deduplicated set of destination points seen
// in the snapshot. The locality falls back to the settlement name when the
// city is empty. Dedup is on the (id, name) pair, so one warehouse id can
// yield several points when its locality is spelled differently.
func DestinationPoints(snap *model.Snapshot) model.DestinationPointSet {
	set := model.DestinationPointSet{}
	if snap == nil {
		return set
	}
	for _, p := range snap.Parcels {
		set.Add(PointOf(p))
	}
	return set
}

// PointOf derives the destination point a parcel is addressed to.
func PointOf(p model.Parcel) model.DestinationPoint {
	locality := p.CityName
	if locality == "" {
		locality = p.SettlementName
	}
	return model.DestinationPoint{ID: p.WarehouseID, DisplayName: Normalize(locality)}
}

// FilterDelivered returns, in snapshot order, the delivered incoming parcels
// addressed to destinationID. An empty id matches parcels with no warehouse.
func FilterDelivered(snap *model.Snapshot, destinationID string) []model.Parcel {
	if snap == nil {
		return nil
	}
	var out []model.Parcel
	for _, p := range snap.Parcels {
		if p.Delivered() && p.WarehouseID == destinationID {
			out = append(out, p)
		}
	}
	return out
}

// ParcelLines renders parcels as "cargo - sender".
func ParcelLines(parcels []model.Parcel) []string {
	out := make([]string, 0, len(parcels))
	for _, p := range parcels {
		out = append(out, p.CargoDescription+" - "+p.SenderDescription)
	}
	return out
}
