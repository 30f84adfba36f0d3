// gui.go
package main

import (
	"context"
	"fmt"
	"image/color"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"ringflex/devicestate"
)

// --- Status handling ---
var statusColors = map[devicestate.State]color.RGBA{
	devicestate.ConnectedWithAccessory: {0, 200, 0, 255},
	devicestate.ConnectedNoAccessory:   {200, 100, 0, 255},
	devicestate.Connecting:             {200, 200, 200, 255},
	devicestate.Disconnected:           {200, 0, 0, 255},
	devicestate.Faulted:                {150, 150, 150, 255},
}

func newStatus(s devicestate.State) *canvas.Text {
	txt := canvas.NewText(stateLabel(s), statusColors[s])
	txt.TextSize = 18
	txt.Alignment = fyne.TextAlignCenter
	return txt
}

// applyStatus must run on the fyne thread.
func applyStatus(label *canvas.Text, s devicestate.State) {
	if label == nil {
		return
	}
	col, ok := statusColors[s]
	if !ok {
		col = statusColors[devicestate.Connecting]
	}
	label.Text = stateLabel(s)
	label.Color = col
	label.Refresh()
}

func stateLabel(s devicestate.State) string {
	switch s {
	case devicestate.ConnectedWithAccessory:
		return "Ring-Con active"
	case devicestate.ConnectedNoAccessory:
		return "Waiting for Ring-Con"
	case devicestate.Connecting:
		return "Connecting"
	case devicestate.Faulted:
		return "Unsupported controller"
	default:
		return "Disconnected"
	}
}

// describe is the one-line console entry for a snapshot.
func describe(s devicestate.Snapshot) string {
	line := stateLabel(s.State)
	if s.Reason != "" && !s.State.Connected() {
		line += ": " + s.Reason
	}
	if s.State == devicestate.ConnectedWithAccessory && s.HasProfile {
		line += fmt.Sprintf(" (center %d, range %d-%d)", s.Profile.Center, s.Profile.Min, s.Profile.Max)
	}
	return line
}

// --- Console handling ---
type Console struct {
	widget *widget.Entry
	lines  []string
	limit  int
}

func newConsole(limit int) *Console {
	c := &Console{
		widget: widget.NewMultiLineEntry(),
		limit:  limit,
	}
	c.widget.SetPlaceHolder("Console output...")
	c.widget.Wrapping = fyne.TextWrapWord
	c.widget.Disable()
	return c
}

// append must run on the fyne thread.
func (c *Console) append(line string) {
	c.lines = append(c.lines, time.Now().Format(time.TimeOnly)+"  "+line)

	// enforce max lines
	if len(c.lines) > c.limit {
		c.lines = c.lines[len(c.lines)-c.limit:]
	}
	c.widget.SetText(strings.Join(c.lines, "\n"))
	c.widget.CursorRow = len(c.lines)
}

// --- Window ---
type statusView struct {
	status  *canvas.Text
	value   *widget.ProgressBar
	stretch *widget.Label
	console *Console

	last devicestate.Snapshot
	seen bool
}

func newStatusView() *statusView {
	value := widget.NewProgressBar()
	value.Min = 1
	value.Max = 3
	value.TextFormatter = func() string { return fmt.Sprintf("%.3f", value.Value) }

	return &statusView{
		status:  newStatus(devicestate.Disconnected),
		value:   value,
		stretch: widget.NewLabel("Stretch: -"),
		console: newConsole(100),
	}
}

func (v *statusView) content() fyne.CanvasObject {
	consoleScroll := container.NewVScroll(v.console.widget)
	consoleScroll.SetMinSize(fyne.NewSize(0, 200))

	return container.NewVBox(
		v.status,
		v.value,
		v.stretch,
		widget.NewLabel("Console:"),
		consoleScroll,
	)
}

// update must run on the fyne thread.
func (v *statusView) update(s devicestate.Snapshot) {
	if !v.seen || s.State != v.last.State || s.Reason != v.last.Reason {
		applyStatus(v.status, s.State)
		v.console.append(describe(s))
	}
	if s.HasValue {
		v.value.SetValue(float64(s.Value))
	}
	if s.State == devicestate.ConnectedWithAccessory {
		v.stretch.SetText(fmt.Sprintf("Stretch: %d", s.Stretch))
	} else {
		v.stretch.SetText("Stretch: -")
	}
	v.last = s
	v.seen = true
}

func (v *statusView) watch(ctx context.Context, m *devicestate.Machine) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		s := m.Snapshot()
		fyne.Do(func() { v.update(s) })
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runWithWindow runs the engine behind a status window. Closing the window
// stops the engine; the engine stopping closes the window.
func runWithWindow(ctx context.Context, e *engine) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a := app.New()
	w := a.NewWindow("Ring-Con Flex")
	view := newStatusView()
	w.SetContent(view.content())
	w.Resize(fyne.NewSize(420, 360))
	w.SetOnClosed(cancel)

	errCh := make(chan error, 1)
	go func() {
		errCh <- e.run(ctx)
		fyne.Do(a.Quit)
	}()
	go view.watch(ctx, e.machine)

	// --- Run GUI ---
	w.ShowAndRun()
	cancel()
	return <-errCh
}
