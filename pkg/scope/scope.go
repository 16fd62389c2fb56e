package scope

import (
	"fmt"
	"image/color"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"
	"github.com/chewxy/math32"

	"github.com/NWU-FAE/analogRead-SEK/pkg/sample"
	"github.com/NWU-FAE/analogRead-SEK/pkg/series"
)

const defaultDisplayPoints = 1000

// palette assigns trace colors in channel order.
var palette = []color.RGBA{
	{R: 230, G: 60, B: 60, A: 255},  // red
	{R: 60, G: 200, B: 90, A: 255},  // green
	{R: 80, G: 150, B: 255, A: 255}, // blue
	{R: 255, G: 165, B: 0, A: 255},  // orange
}

// trace is the decimated history of one channel.
type trace struct {
	name   string
	color  color.RGBA
	points []series.Point
	last   series.Point
	ok     bool
}

// ScopeWidget is a Fyne widget plotting channel voltages over time, with the
// latest voltage and formula result of each channel as a title overlay.
type ScopeWidget struct {
	widget.BaseWidget

	mu     sync.RWMutex
	traces []trace

	// Reused snapshot buffer
	snapshot []series.Point

	yMin, yMax float32
	xMin, xMax time.Time

	window           time.Duration
	maxDisplayPoints int
}

// New creates a scope showing at least window of time and at most
// maxPoints points per trace.
func New(window time.Duration, maxPoints int) *ScopeWidget {
	if maxPoints <= 0 {
		maxPoints = defaultDisplayPoints
	}
	if window <= 0 {
		window = 10 * time.Second
	}
	s := &ScopeWidget{
		window:           window,
		maxDisplayPoints: maxPoints,
		yMin:             0,
		yMax:             1,
	}
	s.ExtendBaseWidget(s)
	s.Refresh()
	return s
}

// Update copies the display series. Call it on the Fyne goroutine (fyne.Do).
func (s *ScopeWidget) Update(set *series.Set) {
	s.mu.Lock()

	names := set.Names()
	traces := make([]trace, 0, len(names))
	for i, name := range names {
		ring := set.Ring(name)
		if ring == nil {
			continue
		}
		s.snapshot = ring.Snapshot(s.snapshot)

		t := trace{name: name, color: palette[i%len(palette)]}
		t.points = sample.Decimate(nil, s.snapshot, s.maxDisplayPoints)
		t.last, t.ok = ring.Last()
		traces = append(traces, t)
	}
	s.traces = traces
	s.updateAutoScale()

	s.mu.Unlock()

	s.Refresh()
}

// Title returns the overlay text for the latest values.
func (s *ScopeWidget) Title() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return overlay(s.traces)
}

func (s *ScopeWidget) updateAutoScale() {
	s.yMin, s.yMax = voltageRange(s.traces)

	s.xMin, s.xMax = time.Now(), time.Now().Add(s.window)
	first := true
	for _, t := range s.traces {
		if len(t.points) == 0 {
			continue
		}
		start, end := t.points[0].Time, t.points[len(t.points)-1].Time
		if first || start.Before(s.xMin) {
			s.xMin = start
		}
		if first || end.After(s.xMax) {
			s.xMax = end
		}
		first = false
	}
	if s.xMax.Sub(s.xMin) < s.window {
		s.xMax = s.xMin.Add(s.window)
	}
}

// voltageRange returns the plotted voltage range with a 10% margin.
func voltageRange(traces []trace) (float32, float32) {
	lo, hi := math32.Inf(1), math32.Inf(-1)
	for _, t := range traces {
		for _, p := range t.points {
			v := float32(p.Voltage)
			if math32.IsNaN(v) {
				continue
			}
			lo = math32.Min(lo, v)
			hi = math32.Max(hi, v)
		}
	}
	if math32.IsInf(lo, 1) {
		return 0, 1
	}

	span := hi - lo
	if span == 0 {
		span = 1
	}
	margin := span * 0.1
	return lo - margin, hi + margin
}

// overlay formats "<name>Voltage: v V Result: r" for every channel with data.
func overlay(traces []trace) string {
	parts := make([]string, 0, len(traces))
	for _, t := range traces {
		if !t.ok {
			continue
		}
		result := "NaN"
		if t.last.Valid {
			result = fmt.Sprintf("%.3f", t.last.Value)
		}
		parts = append(parts, fmt.Sprintf("%sVoltage: %.3f V Result: %s", t.name, t.last.Voltage, result))
	}
	return strings.Join(parts, "    ")
}

// CreateRenderer creates the widget renderer.
func (s *ScopeWidget) CreateRenderer() fyne.WidgetRenderer {
	grid := canvas.NewRectangle(color.RGBA{R: 20, G: 20, B: 20, A: 255})
	return &scopeRenderer{
		scope:   s,
		grid:    grid,
		objects: []fyne.CanvasObject{grid},
	}
}
