package geocoding

import (
	"bytes"
	"encoding/json"
)

// LatLng is a WGS84 coordinate pair.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds is a bounding box given by its south-west and north-east corners.
type Bounds struct {
	SouthWest LatLng `json:"southwest"`
	NorthEast LatLng `json:"northeast"`
}

// Center returns the midpoint of the box. Boxes crossing the antimeridian
// are not special-cased.
func (b Bounds) Center() LatLng {
	return LatLng{
		Lat: (b.SouthWest.Lat + b.NorthEast.Lat) / 2,
		Lng: (b.SouthWest.Lng + b.NorthEast.Lng) / 2,
	}
}

// Result is a normalized geocoding match. A Result is never modified after
// Normalize returns it.
type Result struct {
	Name       string         `json:"name"`
	Center     LatLng         `json:"center"`
	Bounds     *Bounds        `json:"bounds,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Extension returns the value extracted for key. ok is false when the
// configured path was missing from the raw result.
func (r Result) Extension(key string) (any, bool) {
	v, ok := r.Extensions[key]
	return v, ok
}

// Icon returns the "icon" extension when it is a string.
func (r Result) Icon() string {
	if v, ok := r.Extensions["icon"].(string); ok {
		return v
	}
	return ""
}

// RawResult is one element of the API's "results" array. The fully decoded
// object is kept so that dotted extension paths can reach any annotation and
// so the proxy can re-emit the record unchanged.
type RawResult struct {
	Formatted string  `json:"formatted"`
	Geometry  LatLng  `json:"geometry"`
	Bounds    *Bounds `json:"bounds,omitempty"`

	fields map[string]any
}

type plainRawResult RawResult

// UnmarshalJSON decodes the typed fields and the full object.
func (r *RawResult) UnmarshalJSON(data []byte) error {
	var p plainRawResult
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return err
	}

	*r = RawResult(p)
	r.fields = fields
	return nil
}

// MarshalJSON re-emits the original object when one was decoded.
func (r RawResult) MarshalJSON() ([]byte, error) {
	if r.fields != nil {
		return json.Marshal(r.fields)
	}
	return json.Marshal(plainRawResult(r))
}

// Status is the status block OpenCage includes in every response.
type Status struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Rate describes the remaining request quota of a free-tier key.
type Rate struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// Response is the decoded body of a geocoding request.
type Response struct {
	Results      []RawResult `json:"results"`
	Status       *Status     `json:"status,omitempty"`
	Rate         *Rate       `json:"rate,omitempty"`
	TotalResults int         `json:"total_results"`
}
