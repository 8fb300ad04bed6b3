package control

import (
	"context"
	"fmt"

	"github.com/placefinder/placefinder/internal/geocoding"
)

// ExpandTrigger selects how a collapsed control opens.
type ExpandTrigger string

const (
	ExpandClick ExpandTrigger = "click"
	ExpandHover ExpandTrigger = "hover"
)

const (
	DefaultPlaceholder  = "Search..."
	DefaultErrorMessage = "Nothing found."
)

// Options configure a Control. Use DefaultOptions as the starting point; the
// zero value disables collapsing and map placement.
type Options struct {
	Placeholder     string
	ErrorMessage    string
	Collapsed       bool
	Expand          ExpandTrigger
	ShowResultIcons bool
	AddResultToMap  bool

	// OnResultClick runs after the list is cleared and before the result is
	// placed on the map.
	OnResultClick func(ctx context.Context, result geocoding.Result)

	// ReverseScale is passed to Geocoder.Reverse by SubmitReverse.
	ReverseScale float64

	Recorder SelectionRecorder
}

// DefaultOptions returns the stock configuration.
func DefaultOptions() Options {
	return Options{
		Placeholder:    DefaultPlaceholder,
		ErrorMessage:   DefaultErrorMessage,
		Collapsed:      true,
		Expand:         ExpandClick,
		AddResultToMap: true,
	}
}

// Validate reports unusable option values.
func (o Options) Validate() error {
	switch o.Expand {
	case "", ExpandClick, ExpandHover:
	default:
		return fmt.Errorf("unknown expand trigger %q", o.Expand)
	}
	return nil
}

func (o Options) withDefaults() Options {
	if o.Placeholder == "" {
		o.Placeholder = DefaultPlaceholder
	}
	if o.ErrorMessage == "" {
		o.ErrorMessage = DefaultErrorMessage
	}
	if o.Expand == "" {
		o.Expand = ExpandClick
	}
	if o.Recorder == nil {
		o.Recorder = noopSelectionRecorder{}
	}
	return o
}
