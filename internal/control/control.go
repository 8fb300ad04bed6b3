package control

import (
	"context"
	stderrors "errors"
	"net/url"
	"sync"

	"github.com/placefinder/placefinder/internal/errors"
	"github.com/placefinder/placefinder/internal/geocoding"
	"github.com/placefinder/placefinder/internal/telemetry"
)

// State is the display state of a Control.
type State int

const (
	StateIdle State = iota
	StateListing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListing:
		return "listing"
	default:
		return "unknown"
	}
}

// Source says how a result was selected.
type Source string

const (
	SourceSingle   Source = "single"
	SourceKeyboard Source = "keyboard"
	SourceClick    Source = "click"
	SourceExternal Source = "external"
)

// Direction is a keyboard selection step.
type Direction int

const (
	Previous Direction = -1
	Next     Direction = 1
)

var (
	ErrNilView      = stderrors.New("control: view is required")
	ErrAlreadyAdded = stderrors.New("control: already added to a map")
)

// Control is a geocoding search box bound to a map. It is safe for
// concurrent use; only the latest submission may change what is shown.
type Control struct {
	geocoder Geocoder
	opts     Options

	mu          sync.Mutex
	m           Map
	v           View
	added       bool
	unsubscribe func()

	state      State
	results    []geocoding.Result
	selection  int
	generation uint64
	busy       bool
	expanded   bool
	errorShown bool
	marker     *Marker

	// placeMu serializes map placement; placed is the marker actually on placedOn.
	placeMu  sync.Mutex
	placed   *Marker
	placedOn Map
}

var _ Plugin = (*Control)(nil)

// New creates a Control. It renders nothing until OnAdd is called.
func New(geocoder Geocoder, opts Options) (*Control, error) {
	if geocoder == nil {
		return nil, stderrors.New("control: geocoder is required")
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Control{
		geocoder:  geocoder,
		opts:      opts.withDefaults(),
		v:         nopView{},
		selection: -1,
	}, nil
}

// OnAdd attaches the control to m and starts rendering into v. m may be nil
// for hosts without a map; results are then never placed.
func (c *Control) OnAdd(m Map, v View) error {
	if v == nil {
		return ErrNilView
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.added {
		return ErrAlreadyAdded
	}
	c.added = true
	c.m = m
	c.v = v

	if !c.opts.Collapsed {
		c.expanded = true
	} else if c.opts.Expand == ExpandHover && m != nil {
		c.unsubscribe = m.OnMoveStart(c.Collapse)
	}

	placeholder := ""
	if c.expanded {
		placeholder = c.opts.Placeholder
	}
	v.SetExpanded(c.expanded, placeholder)
	return nil
}

// OnRemove detaches the control from its map.
func (c *Control) OnRemove() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.added = false
	c.m = nil
	c.v = nopView{}
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// OnQuery submits query.
func (c *Control) OnQuery(ctx context.Context, query string) error {
	return c.Submit(ctx, query)
}

// OnSelect selects r as if it had been picked from a list.
func (c *Control) OnSelect(r geocoding.Result) {
	c.mu.Lock()
	p := c.selectLocked(r)
	c.mu.Unlock()

	c.complete(context.Background(), p, SourceExternal)
}

// Submit clears the current results and geocodes query. Only configuration
// and validation errors are returned; failed lookups show the error message.
func (c *Control) Submit(ctx context.Context, query string) error {
	gen, near := c.begin()
	results, err := c.geocoder.Geocode(ctx, query, near)
	return c.finish(ctx, gen, results, err)
}

// SubmitReverse is Submit for a coordinate.
func (c *Control) SubmitReverse(ctx context.Context, location geocoding.LatLng) error {
	gen, near := c.begin()
	results, err := c.geocoder.Reverse(ctx, location, c.opts.ReverseScale, near)
	return c.finish(ctx, gen, results, err)
}

func (c *Control) begin() (uint64, geocoding.CenterProvider) {
	c.mu.Lock()
	c.generation++
	c.clearLocked()
	c.marker = nil
	c.busy = true
	c.v.SetBusy(true)

	gen := c.generation
	var near geocoding.CenterProvider
	if c.m != nil {
		near = c.m
	}
	c.mu.Unlock()

	c.placeMu.Lock()
	c.syncMarkerLocked()
	c.placeMu.Unlock()
	return gen, near
}

func (c *Control) finish(ctx context.Context, gen uint64, results []geocoding.Result, err error) error {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"component":  "control",
		"generation": gen,
	})

	c.mu.Lock()
	if gen != c.generation {
		latest := c.generation
		c.mu.Unlock()
		logger.WithField("latest_generation", latest).Debug("Discarding stale geocoding response")
		return nil
	}

	c.busy = false
	c.v.SetBusy(false)

	if err != nil {
		message := err.Error()
		if appErr, ok := errors.AsAppError(err); ok {
			message = appErr.Message
		}
		c.showErrorLocked(message)
		c.mu.Unlock()
		logger.WithError(err).Warn("Geocoding failed")
		return err
	}

	switch len(results) {
	case 0:
		c.showErrorLocked(c.opts.ErrorMessage)
		c.mu.Unlock()
	case 1:
		p := c.selectLocked(results[0])
		c.mu.Unlock()
		c.complete(ctx, p, SourceSingle)
	default:
		c.results = results
		c.selection = -1
		c.state = StateListing
		c.v.RenderResults(gen, c.itemsLocked())
		c.mu.Unlock()
		logger.WithField("results", len(results)).Debug("Showing alternatives")
	}
	return nil
}

// MoveSelection steps the keyboard selection. From no selection, Next goes
// to the first item and Previous to the last; stepping past either end
// clears the selection. It does nothing unless a list is shown.
func (c *Control) MoveSelection(dir Direction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.results)
	if c.state != StateListing || n == 0 {
		return
	}

	step := 1
	if dir < 0 {
		step = -1
	}

	var next int
	switch {
	case c.selection < 0 && step > 0:
		next = 0
	case c.selection < 0:
		next = n - 1
	default:
		next = c.selection + step
		if next < 0 || next >= n {
			next = -1
		}
	}
	c.selection = next
	c.v.Highlight(next)
}

// Confirm selects the highlighted item. ok is false when nothing is highlighted.
func (c *Control) Confirm(ctx context.Context) (result geocoding.Result, ok bool) {
	c.mu.Lock()
	if c.state != StateListing || c.selection < 0 || c.selection >= len(c.results) {
		c.mu.Unlock()
		return geocoding.Result{}, false
	}
	result = c.results[c.selection]
	p := c.selectLocked(result)
	c.mu.Unlock()

	c.complete(ctx, p, SourceKeyboard)
	return result, true
}

// Click selects item index of the list rendered for generation, ignoring the
// keyboard selection. A list that is no longer shown yields a stale result
// set error and changes nothing.
func (c *Control) Click(ctx context.Context, generation uint64, index int) error {
	c.mu.Lock()
	if c.state != StateListing || generation != c.generation || index < 0 || index >= len(c.results) {
		c.mu.Unlock()
		return errors.NewStaleResultSetError(generation).WithMetadata("index", index)
	}
	p := c.selectLocked(c.results[index])
	c.mu.Unlock()

	c.complete(ctx, p, SourceClick)
	return nil
}

// IsStale reports whether err came from Click on an outdated list.
func IsStale(err error) bool {
	return errors.HasCode(err, errors.CodeStaleResultSet)
}

// Expand opens the search box.
func (c *Control) Expand() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expandLocked()
}

// Collapse closes the search box and drops the current list and selection.
func (c *Control) Collapse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collapseLocked()
}

// Toggle flips between expanded and collapsed.
func (c *Control) Toggle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.expanded {
		c.collapseLocked()
	} else {
		c.expandLocked()
	}
}

// IconClick handles a click on the search icon of a collapsed click-to-expand control.
func (c *Control) IconClick() {
	if c.opts.Collapsed && c.opts.Expand == ExpandClick {
		c.Toggle()
	}
}

// MouseOver expands a collapsed hover-to-expand control.
func (c *Control) MouseOver() {
	if c.opts.Collapsed && c.opts.Expand == ExpandHover {
		c.Expand()
	}
}

// MouseOut collapses a hover-to-expand control.
func (c *Control) MouseOut() {
	if c.opts.Collapsed && c.opts.Expand == ExpandHover {
		c.Collapse()
	}
}

// Snapshot is a point-in-time copy of the control state.
type Snapshot struct {
	State      State
	Results    []geocoding.Result
	Selection  int
	Generation uint64
	Busy       bool
	Expanded   bool
	ErrorShown bool
}

// Selected returns the highlighted result, if any.
func (s Snapshot) Selected() (geocoding.Result, bool) {
	if s.Selection < 0 || s.Selection >= len(s.Results) {
		return geocoding.Result{}, false
	}
	return s.Results[s.Selection], true
}

// Snapshot returns the current state.
func (c *Control) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	var results []geocoding.Result
	if len(c.results) > 0 {
		results = append([]geocoding.Result(nil), c.results...)
	}
	return Snapshot{
		State:      c.state,
		Results:    results,
		Selection:  c.selection,
		Generation: c.generation,
		Busy:       c.busy,
		Expanded:   c.expanded,
		ErrorShown: c.errorShown,
	}
}

// Options returns the effective options.
func (c *Control) Options() Options {
	return c.opts
}

func (c *Control) expandLocked() {
	if c.expanded {
		return
	}
	c.expanded = true
	c.v.SetExpanded(true, c.opts.Placeholder)
}

func (c *Control) collapseLocked() {
	c.clearLocked()
	if !c.expanded {
		return
	}
	c.expanded = false
	c.v.SetExpanded(false, "")
}

func (c *Control) clearLocked() {
	if c.state == StateListing {
		c.v.ClearResults()
	}
	c.state = StateIdle
	c.results = nil
	c.selection = -1
	if c.errorShown {
		c.errorShown = false
		c.v.ShowError("")
	}
}

func (c *Control) showErrorLocked(message string) {
	c.errorShown = true
	c.v.ShowError(message)
}

func (c *Control) itemsLocked() []Item {
	items := make([]Item, len(c.results))
	for i, r := range c.results {
		items[i] = Item{Index: i, Result: r}
		if c.opts.ShowResultIcons {
			items[i].Icon = iconURL(r.Icon())
		}
	}
	return items
}

// iconURL returns raw when it is an absolute http(s) URL.
func iconURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}

// pendingSelection is the part of a selection that runs without the lock:
// the hook and the map may call back into the control.
type pendingSelection struct {
	result geocoding.Result
	m      Map
	marker *Marker
}

func (c *Control) selectLocked(r geocoding.Result) pendingSelection {
	if c.opts.Collapsed {
		c.collapseLocked()
	} else {
		c.clearLocked()
	}

	p := pendingSelection{result: r}
	if c.opts.AddResultToMap && c.m != nil {
		p.m = c.m
		p.marker = NewMarker(r.Center, r.Name)
		c.marker = p.marker
	}
	return p
}

func (c *Control) complete(ctx context.Context, p pendingSelection, source Source) {
	c.opts.Recorder.RecordSelection(ctx, string(source))

	if hook := c.opts.OnResultClick; hook != nil {
		hook(ctx, p.result)
	}

	if p.marker == nil {
		return
	}

	c.placeMu.Lock()
	defer c.placeMu.Unlock()

	c.mu.Lock()
	current := c.marker == p.marker
	c.mu.Unlock()
	if !current {
		// A newer submission or selection owns the map now.
		return
	}

	moveTo(p.m, p.result)
	if err := c.syncMarkerLocked(); err != nil {
		telemetry.GetContextualLogger(ctx).WithField("component", "control").
			WithError(err).Warn("Failed to place result marker")
	}
}

// syncMarkerLocked makes the map show exactly the current marker.
// placeMu must be held.
func (c *Control) syncMarkerLocked() error {
	c.mu.Lock()
	want, m := c.marker, c.m
	c.mu.Unlock()

	if c.placed == want && c.placedOn == m {
		return nil
	}
	if c.placed != nil && c.placedOn != nil {
		c.placedOn.RemoveLayer(c.placed)
	}
	c.placed, c.placedOn = nil, nil

	if want == nil || m == nil {
		return nil
	}
	if err := m.AddLayer(want); err != nil {
		return err
	}
	c.placed, c.placedOn = want, m
	return nil
}

type nopView struct{}

func (nopView) SetExpanded(bool, string) {}
func (nopView) SetBusy(bool) {}
func (nopView) ShowError(string) {}
func (nopView) RenderResults(uint64, []Item) {}
func (nopView) ClearResults() {}
func (nopView) Highlight(int) {}
