package scope

import (
	"fmt"
	"image/color"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"github.com/chewxy/math32"

	"github.com/NWU-FAE/analogRead-SEK/pkg/series"
)

var (
	gridColor  = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	labelColor = color.RGBA{R: 150, G: 150, B: 150, A: 255}
	titleColor = color.RGBA{R: 220, G: 220, B: 220, A: 255}
)

// plotArea maps time and voltage onto widget coordinates.
type plotArea struct {
	x, y, width, height float32
	yMin, yMax          float32
	xMin                time.Time
	xSpan               float32 // seconds
}

func (a plotArea) project(t time.Time, volts float64) fyne.Position {
	fx := float32(t.Sub(a.xMin).Seconds()) / a.xSpan
	fy := (float32(volts) - a.yMin) / (a.yMax - a.yMin)
	fx = math32.Max(0, math32.Min(1, fx))
	fy = math32.Max(0, math32.Min(1, fy))
	return fyne.NewPos(a.x+fx*a.width, a.y+a.height-fy*a.height)
}

// scopeRenderer renders the scope widget.
type scopeRenderer struct {
	scope *ScopeWidget

	grid    *canvas.Rectangle
	objects []fyne.CanvasObject

	lastSize fyne.Size
}

func (r *scopeRenderer) MinSize() fyne.Size {
	return fyne.NewSize(400, 300)
}

func (r *scopeRenderer) Layout(size fyne.Size) {
	r.grid.Resize(size)

	if r.lastSize != size {
		r.lastSize = size
		r.scope.BaseWidget.Refresh()
	}
}

func (r *scopeRenderer) Refresh() {
	r.scope.mu.RLock()
	traces := make([]trace, len(r.scope.traces))
	copy(traces, r.scope.traces)
	yMin, yMax := r.scope.yMin, r.scope.yMax
	xMin, xMax := r.scope.xMin, r.scope.xMax
	r.scope.mu.RUnlock()

	size := r.scope.Size()
	if size.Width == 0 || size.Height == 0 {
		return
	}

	r.objects = []fyne.CanvasObject{r.grid}

	const (
		marginLeft   = 60
		marginRight  = 20
		marginTop    = 30
		marginBottom = 40
	)
	area := plotArea{
		x:      marginLeft,
		y:      marginTop,
		width:  size.Width - marginLeft - marginRight,
		height: size.Height - marginTop - marginBottom,
		yMin:   yMin,
		yMax:   yMax,
		xMin:   xMin,
		xSpan:  math32.Max(float32(xMax.Sub(xMin).Seconds()), 1e-3),
	}

	r.drawGrid(area, xMax)
	for _, t := range traces {
		r.drawTrace(area, t.points, t.color)
	}
	r.drawTitle(area, overlay(traces))
}

func (r *scopeRenderer) drawGrid(a plotArea, xMax time.Time) {
	const numHLines = 8
	for i := range numHLines + 1 {
		y := a.y + float32(i)*a.height/numHLines
		r.addLine(fyne.NewPos(a.x, y), fyne.NewPos(a.x+a.width, y), gridColor, 1)

		value := a.yMax - float32(i)*(a.yMax-a.yMin)/numHLines
		text := canvas.NewText(fmt.Sprintf("%.3fV", value), labelColor)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignTrailing
		text.Move(fyne.NewPos(a.x-5, y-6))
		r.objects = append(r.objects, text)
	}

	const numVLines = 10
	span := xMax.Sub(a.xMin)
	for i := range numVLines + 1 {
		x := a.x + float32(i)*a.width/numVLines
		r.addLine(fyne.NewPos(x, a.y), fyne.NewPos(x, a.y+a.height), gridColor, 1)

		offset := time.Duration(int64(i) * int64(span) / numVLines)
		text := canvas.NewText(formatOffset(offset), labelColor)
		text.TextSize = 10
		text.Alignment = fyne.TextAlignCenter
		text.Move(fyne.NewPos(x-20, a.y+a.height+5))
		r.objects = append(r.objects, text)
	}
}

func (r *scopeRenderer) drawTrace(a plotArea, points []series.Point, c color.RGBA) {
	for i := 1; i < len(points); i++ {
		r.addLine(a.project(points[i-1].Time, points[i-1].Voltage), a.project(points[i].Time, points[i].Voltage), c, 1.5)
	}
}

func (r *scopeRenderer) drawTitle(a plotArea, title string) {
	if title == "" {
		return
	}
	text := canvas.NewText(title, titleColor)
	text.TextSize = 12
	text.Move(fyne.NewPos(a.x, 6))
	r.objects = append(r.objects, text)
}

func (r *scopeRenderer) addLine(from, to fyne.Position, c color.Color, width float32) {
	line := canvas.NewLine(c)
	line.Position1 = from
	line.Position2 = to
	line.StrokeWidth = width
	r.objects = append(r.objects, line)
}

func (r *scopeRenderer) Objects() []fyne.CanvasObject {
	return r.objects
}

func (r *scopeRenderer) Destroy() {}

func formatOffset(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
