package bothandler

import (
	"github.com/placefinder/placefinder/internal/control"
	"github.com/placefinder/placefinder/internal/geocoding"
	"github.com/placefinder/placefinder/internal/mapview"
)

// chatMap is the map behind a chat. The center is the proximity hint sent
// with searches; placing a marker pins the result as a venue.
type chatMap struct {
	*mapview.Map
	view *telegramView
}

var _ control.Map = (*chatMap)(nil)

func newChatMap(view *telegramView) *chatMap {
	return &chatMap{Map: mapview.New(), view: view}
}

func (m *chatMap) AddLayer(layer control.Layer) error {
	if err := m.Map.AddLayer(layer); err != nil {
		return err
	}
	if marker, ok := layer.(*control.Marker); ok {
		m.view.Venue(markerResult(marker))
	}
	return nil
}

func markerResult(m *control.Marker) geocoding.Result {
	return geocoding.Result{Name: m.Label, Center: m.Position}
}
