// Package report maintains one "delivered parcels" sensor per destination
// point and pushes sensor changes to sinks.
package report

import (
	"strings"
	"unicode"

	"parcelwatch/internal/model"
)

const keyPrefix = "delivered_parcels"

// SensorKey returns the stable key of a destination point's sensor,
// e.g. "delivered_parcels_bila__tserkva_12".
func SensorKey(p model.DestinationPoint) string {
	return keyPrefix + "_" + snake(p.DisplayName) + "_" + p.ID
}

// SensorName returns the display name, e.g. "Delivered parcels in Kyiv@12".
// The "@id" suffix is left out when the id is empty.
func SensorName(p model.DestinationPoint) string {
	name := "Delivered parcels in " + p.DisplayName
	if p.ID != "" {
		name += "@" + p.ID
	}
	return name
}

func UniqueID(accountID, key string) string { return accountID + "-" + key }

// snake converts a display name the way existing Home Assistant entity ids
// were built, so keys stay stable for installs migrating to this service:
// '-', '.' and whitespace become '_', the first rune is lower-cased and every
// later ASCII capital becomes '_' plus its lower case. Runs of separators are
// kept, so "Bila Tserkva" gives "bila__tserkva" and "m. Kyiv" "m___kyiv".
func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '-' || r == '.' || unicode.IsSpace(r):
			b.WriteByte('_')
		case i == 0:
			b.WriteRune(unicode.ToLower(r))
		case r >= 'A' && r <= 'Z':
			b.WriteByte('_')
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
