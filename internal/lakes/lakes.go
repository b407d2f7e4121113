// Package lakes holds the static registry of supported Great Lakes.
package lakes

import (
	"strings"

	"github.com/samber/lo"

	"lesnet-viewer/internal/grid"
)

// Lake describes one supported lake
type Lake struct {
	ID      string      `json:"id"`      // "erie"
	Name    string      `json:"name"`    // "Erie"
	Initial byte        `json:"initial"` // 'e'
	South   grid.LatLng `json:"south"`   // south-west corner of the map view
	North   grid.LatLng `json:"north"`   // north-east corner of the map view
}

// Default is used when a folder names an unknown lake.
const Default = "erie"

var registry = []Lake{
	{ID: "erie", Name: "Erie", Initial: 'e', South: grid.LatLng{Lat: 41, Lng: -83}, North: grid.LatLng{Lat: 43, Lng: -78}},
	{ID: "michigan", Name: "Michigan", Initial: 'm', South: grid.LatLng{Lat: 41.5, Lng: -88}, North: grid.LatLng{Lat: 46, Lng: -85}},
	{ID: "ontario", Name: "Ontario", Initial: 'o', South: grid.LatLng{Lat: 42.5, Lng: -80}, North: grid.LatLng{Lat: 44.5, Lng: -76}},
	{ID: "superior", Name: "Superior", Initial: 's', South: grid.LatLng{Lat: 46, Lng: -92}, North: grid.LatLng{Lat: 49, Lng: -85}},
}

// All returns every lake in display order.
func All() []Lake {
	out := make([]Lake, len(registry))
	copy(out, registry)
	return out
}

// ByID looks a lake up by its lowercase id or display name.
func ByID(id string) (Lake, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	return lo.Find(registry, func(l Lake) bool { return l.ID == id })
}

// ByInitial looks a lake up by the single-letter code used in folder names.
func ByInitial(c byte) (Lake, bool) {
	c = byte(strings.ToLower(string(c))[0])
	return lo.Find(registry, func(l Lake) bool { return l.Initial == c })
}

// ForInitial is ByInitial falling back to the default lake.
func ForInitial(c byte) Lake {
	if l, ok := ByInitial(c); ok {
		return l
	}
	l, _ := ByID(Default)
	return l
}

// Center returns the midpoint of the lake's map view.
func (l Lake) Center() grid.LatLng {
	return grid.LatLng{
		Lat: (l.South.Lat + l.North.Lat) / 2,
		Lng: (l.South.Lng + l.North.Lng) / 2,
	}
}
