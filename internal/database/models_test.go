package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/placefinder/placefinder/internal/geocoding"
)

func brandenburgResult() geocoding.Result {
	return geocoding.Result{
		Name:   "Brandenburger Tor, Pariser Platz, 10117 Berlin, Germany",
		Center: geocoding.LatLng{Lat: 52.5162746, Lng: 13.3777041},
		Bounds: &geocoding.Bounds{
			SouthWest: geocoding.LatLng{Lat: 52.5161, Lng: 13.3775},
			NorthEast: geocoding.LatLng{Lat: 52.5164, Lng: 13.3779},
		},
		Extensions: map[string]any{"geohash": "u33db2m2p0eu"},
	}
}

func TestBounds_Value(t *testing.T) {
	b := Bounds(*brandenburgResult().Bounds)

	v, err := b.Value()
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"southwest":{"lat":52.5161,"lng":13.3775},"northeast":{"lat":52.5164,"lng":13.3779}}`,
		string(v.([]byte)))
}

func TestBounds_Scan(t *testing.T) {
	tests := []struct {
		name     string
		input    interface{}
		expected Bounds
		hasError bool
	}{
		{
			name:  "Bytes",
			input: []byte(`{"southwest":{"lat":1,"lng":2},"northeast":{"lat":3,"lng":4}}`),
			expected: Bounds{
				SouthWest: geocoding.LatLng{Lat: 1, Lng: 2},
				NorthEast: geocoding.LatLng{Lat: 3, Lng: 4},
			},
		},
		{
			name:  "String",
			input: `{"southwest":{"lat":-1,"lng":-2},"northeast":{"lat":0,"lng":0}}`,
			expected: Bounds{
				SouthWest: geocoding.LatLng{Lat: -1, Lng: -2},
			},
		},
		{
			name:  "Nil",
			input: nil,
		},
		{
			name:     "Unsupported type",
			input:    42,
			hasError: true,
		},
		{
			name:     "Invalid JSON",
			input:    []byte(`{`),
			hasError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b Bounds
			err := b.Scan(tt.input)
			if tt.hasError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, b)
		})
	}
}

func TestExtensions_ValueScan(t *testing.T) {
	t.Run("Nil is NULL", func(t *testing.T) {
		v, err := Extensions(nil).Value()
		require.NoError(t, err)
		assert.Nil(t, v)

		e := Extensions{"stale": true}
		require.NoError(t, e.Scan(nil))
		assert.Nil(t, e)
	})

	t.Run("Round trip keeps values", func(t *testing.T) {
		in := Extensions{"geohash": "u33db2", "confidence": float64(9), "flag": false}
		v, err := in.Value()
		require.NoError(t, err)

		var out Extensions
		require.NoError(t, out.Scan(v))
		assert.Equal(t, in, out)
	})
}

func TestSelection_FromAndToResult(t *testing.T) {
	r := brandenburgResult()
	s := NewSelection(42, "brandenburger tor", r, "keyboard")

	assert.Equal(t, int64(42), s.ChatID)
	assert.Equal(t, "brandenburger tor", s.Query)
	assert.Equal(t, "keyboard", s.Source)
	require.NotNil(t, s.Bounds)
	assert.Equal(t, r, s.Result())

	noBounds := r
	noBounds.Bounds = nil
	assert.Nil(t, NewSelection(1, "", noBounds, "click").Result().Bounds)
}

func TestSelection_Validate(t *testing.T) {
	valid := NewSelection(1, "q", brandenburgResult(), "single")
	assert.NoError(t, valid.Validate())

	tests := []struct {
		name    string
		mutate  func(*Selection)
		problem string
	}{
		{"Missing chat", func(s *Selection) { s.ChatID = 0 }, "chat_id is required"},
		{"Blank name", func(s *Selection) { s.Name = "  " }, "name is required"},
		{"Latitude out of range", func(s *Selection) { s.Lat = 91 }, "lat out of range"},
		{"Longitude out of range", func(s *Selection) { s.Lng = -181 }, "lng out of range"},
		{"Missing source", func(s *Selection) { s.Source = "" }, "source is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			err := s.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.problem)
		})
	}
}
