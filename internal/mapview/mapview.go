// Package mapview is an in-memory map that hosts without a graphical map
// attach a search control to. It tracks the view center, the last fitted
// bounds and the layers placed on it.
package mapview

import (
	"sort"
	"sync"

	"github.com/placefinder/placefinder/internal/control"
	"github.com/placefinder/placefinder/internal/geocoding"
)

// Map implements control.Map. It is safe for concurrent use.
type Map struct {
	mu        sync.RWMutex
	center    *geocoding.LatLng
	bounds    *geocoding.Bounds
	layers    map[string]control.Layer
	order     []string
	listeners map[int]func()
	nextID    int
}

var _ control.Map = (*Map)(nil)

// New creates an empty map with no center.
func New() *Map {
	return &Map{
		layers:    make(map[string]control.Layer),
		listeners: make(map[int]func()),
	}
}

// NewAt creates a map centered on center.
func NewAt(center geocoding.LatLng) *Map {
	m := New()
	m.center = &center
	return m
}

func (m *Map) GetCenter() (geocoding.LatLng, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.center == nil {
		return geocoding.LatLng{}, false
	}
	return *m.center, true
}

// SetCenter moves the view without notifying move-start listeners.
func (m *Map) SetCenter(center geocoding.LatLng) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.center = &center
}

// ClearCenter forgets the view center.
func (m *Map) ClearCenter() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.center = nil
}

// PanTo centers the view on center.
func (m *Map) PanTo(center geocoding.LatLng) {
	m.mu.Lock()
	m.center = &center
	m.bounds = nil
	m.mu.Unlock()

	m.fireMoveStart()
}

// FitBounds shows bounds and centers on its midpoint.
func (m *Map) FitBounds(bounds geocoding.Bounds) {
	center := bounds.Center()

	m.mu.Lock()
	m.center = &center
	m.bounds = &bounds
	m.mu.Unlock()

	m.fireMoveStart()
}

// Bounds returns the bounds set by the last FitBounds, if the view has not
// been panned since.
func (m *Map) Bounds() (geocoding.Bounds, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.bounds == nil {
		return geocoding.Bounds{}, false
	}
	return *m.bounds, true
}

// AddLayer places layer on the map. Adding a layer twice keeps one copy.
func (m *Map) AddLayer(layer control.Layer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := layer.LayerID()
	if _, ok := m.layers[id]; !ok {
		m.order = append(m.order, id)
	}
	m.layers[id] = layer
	return nil
}

// RemoveLayer takes layer off the map. Unknown layers are ignored.
func (m *Map) RemoveLayer(layer control.Layer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := layer.LayerID()
	if _, ok := m.layers[id]; !ok {
		return
	}
	delete(m.layers, id)
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Layers returns the layers in the order they were added.
func (m *Map) Layers() []control.Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]control.Layer, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.layers[id])
	}
	return out
}

// Markers returns the markers on the map.
func (m *Map) Markers() []*control.Marker {
	var markers []*control.Marker
	for _, layer := range m.Layers() {
		if marker, ok := layer.(*control.Marker); ok {
			markers = append(markers, marker)
		}
	}
	return markers
}

// OnMoveStart registers fn to run whenever the view starts moving.
func (m *Map) OnMoveStart(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Map) fireMoveStart() {
	m.mu.RLock()
	ids := make([]int, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.listeners[id])
	}
	m.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}
