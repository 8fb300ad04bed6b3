package terminal

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/placefinder/placefinder/internal/control"
	"github.com/placefinder/placefinder/internal/errors"
	"github.com/placefinder/placefinder/internal/geocoding"
)

// MockGeocoder is a testify mock of control.Geocoder.
type MockGeocoder struct {
	mock.Mock
}

func (m *MockGeocoder) Geocode(ctx context.Context, query string, near geocoding.CenterProvider) ([]geocoding.Result, error) {
	args := m.Called(ctx, query, near)
	results, _ := args.Get(0).([]geocoding.Result)
	return results, args.Error(1)
}

func (m *MockGeocoder) Reverse(ctx context.Context, location geocoding.LatLng, scale float64, near geocoding.CenterProvider) ([]geocoding.Result, error) {
	args := m.Called(ctx, location, scale, near)
	results, _ := args.Get(0).([]geocoding.Result)
	return results, args.Error(1)
}

func springfields() []geocoding.Result {
	return []geocoding.Result{
		{Name: "Springfield, Illinois, United States", Center: geocoding.LatLng{Lat: 39.7990, Lng: -89.6440}},
		{Name: "Springfield, Missouri, United States", Center: geocoding.LatLng{Lat: 37.2153, Lng: -93.2982}},
		{
			Name:   "Springfield, Massachusetts, United States",
			Center: geocoding.LatLng{Lat: 42.1015, Lng: -72.5898},
			Bounds: &geocoding.Bounds{
				SouthWest: geocoding.LatLng{Lat: 42.06, Lng: -72.62},
				NorthEast: geocoding.LatLng{Lat: 42.16, Lng: -72.47},
			},
		},
	}
}

func newTestPicker(t *testing.T, results []geocoding.Result) (*Picker, *View, *MockGeocoder) {
	t.Helper()
	geocoder := &MockGeocoder{}
	geocoder.On("Geocode", mock.Anything, "Springfield", mock.Anything).Return(results, nil)

	view := NewView(nil, false)
	picker, err := NewPicker(geocoder, control.DefaultOptions(), view, nil)
	require.NoError(t, err)
	require.NoError(t, picker.Search(context.Background(), "Springfield"))
	return picker, view, geocoder
}

func TestPicker_ArrowKeysAndEnter(t *testing.T) {
	picker, view, geocoder := newTestPicker(t, springfields())
	require.Equal(t, 3, view.Len())

	result, ok, err := picker.Run(context.Background(), strings.NewReader("\x1b[B\x1b[Bjk\r"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Springfield, Missouri, United States", result.Name)

	markers := picker.Map().Markers()
	require.Len(t, markers, 1)
	assert.Equal(t, result.Center, markers[0].Position)
	assert.Zero(t, view.Len(), "the list is cleared after a selection")
	geocoder.AssertExpectations(t)
}

func TestPicker_DigitPicksByPosition(t *testing.T) {
	picker, _, _ := newTestPicker(t, springfields())

	result, ok, err := picker.Run(context.Background(), strings.NewReader("3"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Springfield, Massachusetts, United States", result.Name)

	bounds, fitted := picker.Map().Bounds()
	require.True(t, fitted, "results with bounds fit the map")
	assert.Equal(t, *result.Bounds, bounds)
}

func TestPicker_OutOfRangeDigitThenQuit(t *testing.T) {
	picker, view, _ := newTestPicker(t, springfields())

	_, ok, err := picker.Run(context.Background(), strings.NewReader("9q"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 3, view.Len(), "a bad pick leaves the list alone")
	assert.Empty(t, picker.Map().Markers())
}

func TestPicker_EnterWithoutHighlight(t *testing.T) {
	picker, _, _ := newTestPicker(t, springfields())

	_, ok, err := picker.Run(context.Background(), strings.NewReader("\r"))
	require.NoError(t, err)
	assert.False(t, ok, "input ran out with nothing highlighted")
}

func TestPicker_SingleResultIsSelectedImmediately(t *testing.T) {
	only := springfields()[:1]
	picker, view, _ := newTestPicker(t, only)

	assert.Zero(t, view.Len())
	result, ok, err := picker.Run(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, only[0].Name, result.Name)
}

func TestPicker_NoResults(t *testing.T) {
	picker, view, _ := newTestPicker(t, []geocoding.Result{})

	assert.Contains(t, view.Frame(), control.DefaultErrorMessage)
	_, ok := picker.Selected()
	assert.False(t, ok)
}

func TestPicker_CancelledContext(t *testing.T) {
	picker, _, _ := newTestPicker(t, springfields())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := picker.Run(ctx, strings.NewReader("1"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

func TestPicker_ReadError(t *testing.T) {
	picker, _, _ := newTestPicker(t, springfields())

	_, _, err := picker.Run(context.Background(), failingReader{})
	assert.EqualError(t, err, "tty gone")
}

func TestPicker_Reverse(t *testing.T) {
	geocoder := &MockGeocoder{}
	location := geocoding.LatLng{Lat: 39.8, Lng: -89.64}
	near := geocoding.LatLng{Lat: 40, Lng: -89}
	geocoder.On("Reverse", mock.Anything, location, float64(0), mock.Anything).
		Return(springfields()[:1], nil).
		Run(func(args mock.Arguments) {
			center, ok := args.Get(3).(geocoding.CenterProvider).GetCenter()
			assert.True(t, ok)
			assert.Equal(t, near, center)
		})

	view := NewView(nil, false)
	picker, err := NewPicker(geocoder, control.DefaultOptions(), view, &near)
	require.NoError(t, err)
	require.NoError(t, picker.Reverse(context.Background(), location))

	_, ok := picker.Selected()
	assert.True(t, ok)
	geocoder.AssertExpectations(t)
}

func TestPicker_MissingKey(t *testing.T) {
	geocoder := &MockGeocoder{}
	geocoder.On("Geocode", mock.Anything, "Springfield", mock.Anything).Return(nil, errors.NewMissingAPIKeyError())

	view := NewView(nil, false)
	picker, err := NewPicker(geocoder, control.DefaultOptions(), view, nil)
	require.NoError(t, err)

	err = picker.Search(context.Background(), "Springfield")
	assert.True(t, errors.HasCode(err, errors.CodeMissingAPIKey))
	assert.Contains(t, view.Frame(), errors.MessageMissingKey)
}

func TestPicker_KeepsCallerHook(t *testing.T) {
	geocoder := &MockGeocoder{}
	geocoder.On("Geocode", mock.Anything, "Springfield", mock.Anything).Return(springfields()[:1], nil)

	var hooked []string
	opts := control.DefaultOptions()
	opts.OnResultClick = func(_ context.Context, r geocoding.Result) {
		hooked = append(hooked, r.Name)
	}

	picker, err := NewPicker(geocoder, opts, NewView(nil, false), nil)
	require.NoError(t, err)
	require.NoError(t, picker.Search(context.Background(), "Springfield"))
	assert.Equal(t, []string{"Springfield, Illinois, United States"}, hooked)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, stderrors.New("tty gone")
}
