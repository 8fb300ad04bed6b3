package geocoding

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
)

// CenterProvider reports the current view center, used as a proximity hint.
// ok is false when the view has no center yet.
type CenterProvider interface {
	GetCenter() (LatLng, bool)
}

// FormatLatLng renders "lat,lng" using the shortest float representation.
func FormatLatLng(ll LatLng) string {
	return strconv.FormatFloat(ll.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(ll.Lng, 'f', -1, 64)
}

// ParseLatLng parses "lat,lng" and checks both values are in range.
func ParseLatLng(s string) (LatLng, error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return LatLng{}, fmt.Errorf("expected \"lat,lng\", got %q", s)
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return LatLng{}, fmt.Errorf("invalid latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return LatLng{}, fmt.Errorf("invalid longitude: %w", err)
	}
	if lat < -90 || lat > 90 {
		return LatLng{}, fmt.Errorf("latitude %v out of range", lat)
	}
	if lng < -180 || lng > 180 {
		return LatLng{}, fmt.Errorf("longitude %v out of range", lng)
	}
	return LatLng{Lat: lat, Lng: lng}, nil
}

// Distance returns the great-circle distance between a and b in kilometres.
func Distance(a, b LatLng) float64 {
	const R = 6371.0 // Earth radius in km
	dLat := (b.Lat - a.Lat) * (math.Pi / 180.0)
	dLng := (b.Lng - a.Lng) * (math.Pi / 180.0)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*(math.Pi/180.0))*math.Cos(b.Lat*(math.Pi/180.0))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return R * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func centerOf(near CenterProvider) (LatLng, bool) {
	if near == nil {
		return LatLng{}, false
	}
	return near.GetCenter()
}

// buildParams applies, in order: q/limit/key, proximity, then extra. Later
// entries overwrite earlier ones.
func buildParams(query string, limit int, key string, near CenterProvider, extra map[string]string) url.Values {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(limit))
	if key != "" {
		params.Set("key", key)
	}

	if center, ok := centerOf(near); ok {
		params.Set("proximity", FormatLatLng(center))
	}

	for k, v := range extra {
		params.Set(k, v)
	}
	return params
}
