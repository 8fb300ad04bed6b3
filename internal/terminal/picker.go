package terminal

import (
	"context"
	stderrors "errors"
	"io"
	"sync"

	"github.com/placefinder/placefinder/internal/control"
	"github.com/placefinder/placefinder/internal/geocoding"
	"github.com/placefinder/placefinder/internal/mapview"
	"github.com/placefinder/placefinder/internal/telemetry"
)

// Picker is a search control attached to a terminal view and an in-memory
// map. The map center is the proximity hint for every search.
type Picker struct {
	ctl  *control.Control
	view *View
	m    *mapview.Map

	mu       sync.Mutex
	selected *geocoding.Result
}

// NewPicker builds the control. near may be nil.
func NewPicker(geocoder control.Geocoder, opts control.Options, view *View, near *geocoding.LatLng) (*Picker, error) {
	p := &Picker{view: view, m: mapview.New()}
	if near != nil {
		p.m.SetCenter(*near)
	}

	hook := opts.OnResultClick
	opts.OnResultClick = func(ctx context.Context, r geocoding.Result) {
		p.mu.Lock()
		p.selected = &r
		p.mu.Unlock()
		if hook != nil {
			hook(ctx, r)
		}
	}
	opts.Collapsed = false

	ctl, err := control.New(geocoder, opts)
	if err != nil {
		return nil, err
	}
	if err := ctl.OnAdd(p.m, view); err != nil {
		return nil, err
	}
	p.ctl = ctl
	return p, nil
}

// Control exposes the underlying control.
func (p *Picker) Control() *control.Control {
	return p.ctl
}

// Map exposes the map the selection is placed on.
func (p *Picker) Map() *mapview.Map {
	return p.m
}

// Search runs a forward lookup. A single result is selected immediately.
func (p *Picker) Search(ctx context.Context, query string) error {
	p.view.SetTitle(query)
	return p.ctl.Submit(ctx, query)
}

// Reverse looks up the place at location.
func (p *Picker) Reverse(ctx context.Context, location geocoding.LatLng) error {
	p.view.SetTitle(geocoding.FormatLatLng(location))
	return p.ctl.SubmitReverse(ctx, location)
}

// Selected returns the chosen result, if any.
func (p *Picker) Selected() (geocoding.Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.selected == nil {
		return geocoding.Result{}, false
	}
	return *p.selected, true
}

// Run feeds keypresses from in to the control until a result is chosen, the
// user quits or in is exhausted. ok is false when nothing was chosen.
func (p *Picker) Run(ctx context.Context, in io.Reader) (result geocoding.Result, ok bool, err error) {
	if r, ok := p.Selected(); ok {
		return r, true, nil
	}

	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return geocoding.Result{}, false, err
		}

		n, readErr := in.Read(buf)
		for _, key := range ParseKeys(buf[:n]) {
			if quit := p.handleKey(ctx, key); quit {
				return geocoding.Result{}, false, nil
			}
			if r, ok := p.Selected(); ok {
				return r, true, nil
			}
		}

		if readErr != nil {
			if stderrors.Is(readErr, io.EOF) {
				return geocoding.Result{}, false, nil
			}
			return geocoding.Result{}, false, readErr
		}
	}
}

func (p *Picker) handleKey(ctx context.Context, key Key) (quit bool) {
	switch key.Kind {
	case KeyUp:
		p.ctl.MoveSelection(control.Previous)
	case KeyDown:
		p.ctl.MoveSelection(control.Next)
	case KeyEnter:
		p.ctl.Confirm(ctx)
	case KeyDigit:
		if err := p.ctl.Click(ctx, p.view.Generation(), key.Digit-1); err != nil {
			telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
				"component": "terminal",
				"digit":     key.Digit,
			}).WithError(err).Debug("Ignoring pick outside the list")
		}
	case KeyQuit:
		return true
	}
	return false
}
