package terminal

import (
	"io"
	"strings"
	"sync"

	"github.com/placefinder/placefinder/internal/control"
)

const clearScreen = "\x1b[H\x1b[2J"

// View renders the control as a full-screen frame. Every change redraws the
// frame; it never calls back into the control.
type View struct {
	mu  sync.Mutex
	out io.Writer
	// raw terminals need \r\n and a cleared screen per frame.
	raw bool

	title       string
	expanded    bool
	placeholder string
	busy        bool
	message     string
	generation  uint64
	items       []control.Item
	highlight   int
}

var _ control.View = (*View)(nil)

// NewView writes frames to out. raw selects raw-mode line endings and
// clears the screen before each frame.
func NewView(out io.Writer, raw bool) *View {
	return &View{out: out, raw: raw, highlight: -1}
}

// SetTitle shows the query being searched above the list.
func (v *View) SetTitle(title string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.title = title
}

func (v *View) SetExpanded(expanded bool, placeholder string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expanded = expanded
	v.placeholder = placeholder
	v.redrawLocked()
}

func (v *View) SetBusy(busy bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.busy = busy
	v.redrawLocked()
}

func (v *View) ShowError(message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.message = message
	v.redrawLocked()
}

func (v *View) RenderResults(generation uint64, items []control.Item) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.generation = generation
	v.items = append([]control.Item(nil), items...)
	v.highlight = -1
	v.redrawLocked()
}

func (v *View) ClearResults() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.items = nil
	v.highlight = -1
	v.redrawLocked()
}

func (v *View) Highlight(index int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.highlight = index
	v.redrawLocked()
}

// Generation is the generation of the list on screen.
func (v *View) Generation() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.generation
}

// Len is the number of items on screen.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.items)
}

// Frame returns the current frame without terminal control sequences.
func (v *View) Frame() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return strings.Join(v.linesLocked(), "\n")
}

func (v *View) linesLocked() []string {
	var lines []string
	switch {
	case v.title != "":
		lines = append(lines, AccentBold.Render("🔎 "+v.title))
	case v.expanded && v.placeholder != "":
		lines = append(lines, Muted.Render("🔎 "+v.placeholder))
	}
	if v.busy {
		lines = append(lines, Muted.Render("Searching…"))
	}
	if v.message != "" {
		lines = append(lines, "⚠ "+v.message)
	}
	if len(v.items) > 0 {
		lines = append(lines, RenderItems(v.items, v.highlight)...)
		lines = append(lines, "", Muted.Render(keyHint))
	}
	return lines
}

func (v *View) redrawLocked() {
	if v.out == nil {
		return
	}
	newline := "\n"
	prefix := ""
	if v.raw {
		newline = "\r\n"
		prefix = clearScreen
	}
	lines := v.linesLocked()
	if len(lines) == 0 && !v.raw {
		return
	}
	_, _ = io.WriteString(v.out, prefix+strings.Join(lines, newline)+newline)
}
