package control

import (
	"context"

	"github.com/placefinder/placefinder/internal/geocoding"
)

// Geocoder resolves queries for the control. *geocoding.Client satisfies it.
type Geocoder interface {
	Geocode(ctx context.Context, query string, near geocoding.CenterProvider) ([]geocoding.Result, error)
	Reverse(ctx context.Context, location geocoding.LatLng, scale float64, near geocoding.CenterProvider) ([]geocoding.Result, error)
}

// Layer is anything that can be placed on a Map.
type Layer interface {
	LayerID() string
}

// Map is the map the control is attached to. Implementations must not call
// back into the Control synchronously from AddLayer or RemoveLayer; move-start
// listeners may.
type Map interface {
	geocoding.CenterProvider
	PanTo(center geocoding.LatLng)
	FitBounds(bounds geocoding.Bounds)
	AddLayer(layer Layer) error
	RemoveLayer(layer Layer)
	// OnMoveStart registers fn and returns a func that removes it.
	OnMoveStart(fn func()) (unsubscribe func())
}

// Item is one rendered entry of a result list.
type Item struct {
	Index  int
	Result geocoding.Result
	// Icon is set only when result icons are enabled and the result carries
	// an http(s) icon URL.
	Icon string
}

// View renders the control. Methods are called with the control's lock held
// and must not call back into the Control.
type View interface {
	SetExpanded(expanded bool, placeholder string)
	SetBusy(busy bool)
	// ShowError displays message; an empty message hides the indicator.
	ShowError(message string)
	RenderResults(generation uint64, items []Item)
	ClearResults()
	// Highlight marks the item at index; -1 removes the highlight.
	Highlight(index int)
}

// Plugin is the capability a host uses to drive a search control.
type Plugin interface {
	OnAdd(m Map, v View) error
	OnQuery(ctx context.Context, query string) error
	OnSelect(r geocoding.Result)
}

// SelectionRecorder is told how every selection was made.
type SelectionRecorder interface {
	RecordSelection(ctx context.Context, source string)
}

type noopSelectionRecorder struct{}

func (noopSelectionRecorder) RecordSelection(context.Context, string) {}
