// Package chart renders small data charts to PNG for embedding in slides.
// The output is deliberately plain: white canvas, one series, axis labels
// drawn with a fixed bitmap font. Anything fancier belongs in a real
// charting stack downstream.
package chart

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/haasonsaas/presgen/internal/toolerr"
)

// Kind selects the chart layout.
type Kind string

const (
	KindBar         Kind = "bar"
	KindLine        Kind = "line"
	KindSingleValue Kind = "single_value"
)

// Canvas size matches the 16:9 slide image region.
const (
	canvasWidth  = 1200
	canvasHeight = 675

	marginLeft   = 90
	marginRight  = 40
	marginTop    = 70
	marginBottom = 70
)

var (
	colorBackground = color.RGBA{255, 255, 255, 255}
	colorBar        = color.RGBA{66, 133, 244, 255}
	colorAxis       = color.RGBA{60, 60, 60, 255}
	colorText       = color.RGBA{20, 20, 20, 255}
)

// Series is one labelled sequence of values.
type Series struct {
	Labels []string
	Values []float64
}

// Renderer writes chart PNGs into a directory.
type Renderer struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

// NewRenderer creates a renderer writing into dir.
func NewRenderer(dir string, logger *slog.Logger) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{dir: dir, logger: logger, now: time.Now}
}

// Render draws the chart into the renderer's directory with a
// timestamped name and returns the written file path.
func (r *Renderer) Render(kind Kind, title string, s Series) (string, error) {
	path := filepath.Join(r.dir, fmt.Sprintf("chart_%d.png", r.now().UnixNano()))
	if err := r.RenderFile(path, kind, title, s); err != nil {
		return "", err
	}
	return path, nil
}

// RenderFile draws the chart to an exact path, creating parent
// directories as needed.
func (r *Renderer) RenderFile(path string, kind Kind, title string, s Series) error {
	if len(s.Values) == 0 {
		return toolerr.New(toolerr.BadRequest, "chart requires at least one value")
	}
	if len(s.Labels) != len(s.Values) {
		return toolerr.New(toolerr.BadRequest, "chart labels/values length mismatch: %d vs %d", len(s.Labels), len(s.Values))
	}

	img := image.NewRGBA(image.Rect(0, 0, canvasWidth, canvasHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{colorBackground}, image.Point{}, draw.Src)

	drawText(img, title, canvasWidth/2-len(title)*7/2, marginTop/2)

	switch kind {
	case KindSingleValue:
		r.drawSingleValue(img, s)
	case KindLine:
		r.drawAxes(img)
		r.drawLine(img, s)
	default:
		r.drawAxes(img)
		r.drawBars(img, s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("chart: create dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("chart: create file: %w", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("chart: encode png: %w", err)
	}
	r.logger.Debug("rendered chart", "kind", string(kind), "path", path, "points", len(s.Values))
	return nil
}

func (r *Renderer) drawAxes(img *image.RGBA) {
	x0, y0 := marginLeft, canvasHeight-marginBottom
	x1, y1 := canvasWidth-marginRight, marginTop
	// X axis.
	for x := x0; x <= x1; x++ {
		img.Set(x, y0, colorAxis)
	}
	// Y axis.
	for y := y1; y <= y0; y++ {
		img.Set(x0, y, colorAxis)
	}
}

func (r *Renderer) drawBars(img *image.RGBA, s Series) {
	maxVal := maxValue(s.Values)
	plotW := canvasWidth - marginLeft - marginRight
	plotH := canvasHeight - marginTop - marginBottom
	n := len(s.Values)
	slot := plotW / n
	barW := slot * 7 / 10

	for i, v := range s.Values {
		h := 0
		if maxVal > 0 {
			h = int(float64(plotH) * v / maxVal)
		}
		x := marginLeft + i*slot + (slot-barW)/2
		y := canvasHeight - marginBottom - h
		fillRect(img, x, y, x+barW, canvasHeight-marginBottom, colorBar)

		drawText(img, FormatValue(v), x, y-8)
		drawText(img, truncate(s.Labels[i], 14), x, canvasHeight-marginBottom+18)
	}
}

func (r *Renderer) drawLine(img *image.RGBA, s Series) {
	maxVal := maxValue(s.Values)
	plotW := canvasWidth - marginLeft - marginRight
	plotH := canvasHeight - marginTop - marginBottom
	n := len(s.Values)

	pointAt := func(i int) (int, int) {
		x := marginLeft + plotW/2
		if n > 1 {
			x = marginLeft + i*plotW/(n-1)
		}
		y := canvasHeight - marginBottom
		if maxVal > 0 {
			y -= int(float64(plotH) * s.Values[i] / maxVal)
		}
		return x, y
	}

	for i := 0; i < n; i++ {
		x, y := pointAt(i)
		fillRect(img, x-3, y-3, x+3, y+3, colorBar)
		if i > 0 {
			px, py := pointAt(i - 1)
			drawSegment(img, px, py, x, y, colorBar)
		}
		drawText(img, truncate(s.Labels[i], 14), x-20, canvasHeight-marginBottom+18)
	}
}

func (r *Renderer) drawSingleValue(img *image.RGBA, s Series) {
	value := FormatValue(s.Values[0])
	label := s.Labels[0]
	// Bitmap font only; scale the value up by drawing a filled block bar
	// under it so a single number still reads as a chart.
	drawText(img, value, canvasWidth/2-len(value)*7/2, canvasHeight/2-20)
	drawText(img, label, canvasWidth/2-len(label)*7/2, canvasHeight/2+10)
	fillRect(img, canvasWidth/2-120, canvasHeight/2+40, canvasWidth/2+120, canvasHeight/2+52, colorBar)
}

// FormatValue renders a numeric value the way axis labels expect:
// integers without a fraction, everything else with two decimals.
func FormatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func maxValue(vs []float64) float64 {
	m := 0.0
	for _, v := range vs {
		if v > m {
			m = v
		}
	}
	return m
}

func fillRect(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			img.Set(x, y, c)
		}
	}
}

func drawSegment(img *image.RGBA, x0, y0, x1, y1 int, c color.Color) {
	dx := abs(x1 - x0)
	dy := -abs(y1 - y0)
	sx, sy := 1, 1
	if x0 > x1 {
		sx = -1
	}
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy
	for {
		img.Set(x0, y0, c)
		img.Set(x0, y0+1, c)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func drawText(img *image.RGBA, text string, x, y int) {
	d := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{colorText},
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
