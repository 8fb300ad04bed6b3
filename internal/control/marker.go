package control

import (
	"github.com/google/uuid"

	"github.com/placefinder/placefinder/internal/geocoding"
)

// Marker is a labelled point placed on the map for a selected result.
type Marker struct {
	ID       string
	Position geocoding.LatLng
	Label    string
}

// NewMarker creates a marker with a fresh ID.
func NewMarker(position geocoding.LatLng, label string) *Marker {
	return &Marker{
		ID:       uuid.New().String(),
		Position: position,
		Label:    label,
	}
}

func (m *Marker) LayerID() string {
	return m.ID
}

// moveTo fits the map to r's bounds, or pans to its center.
func moveTo(m Map, r geocoding.Result) {
	if r.Bounds != nil {
		m.FitBounds(*r.Bounds)
		return
	}
	m.PanTo(r.Center)
}
