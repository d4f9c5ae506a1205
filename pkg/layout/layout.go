// Package layout draws the line driven by each car of a session, seen from
// above (x/z plane), as an SVG image.
package layout

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"image"
	"image/color"
	"io"
	"math"
	"sync"

	"github.com/llgcode/draw2d"
	"github.com/llgcode/draw2d/draw2dkit"
	"github.com/llgcode/draw2d/draw2dsvg"

	"f1telemetryhub/pkg/model"
)

type Point struct {
	X float64 `json:"x"`
	Z float64 `json:"z"`
}

// Line is the driven line of one driver, in sample order.
type Line struct {
	DriverID string  `json:"driverId"`
	Points   []Point `json:"points"`
}

type Trace []Line

const (
	ScaleSVG = 0.75
	margin   = 240
	// samples closer than this to the previous kept one add nothing visible
	minStep = 2.0
)

var (
	mu = sync.Mutex{}

	palette = []color.RGBA{
		{0xe1, 0x06, 0x00, 0xff},
		{0x00, 0x5a, 0xff, 0xff},
		{0x00, 0xa1, 0x9b, 0xff},
		{0xff, 0x87, 0x00, 0xff},
		{0x22, 0x22, 0x22, 0xff},
		{0x6c, 0xd3, 0xbf, 0xff},
		{0x9b, 0x00, 0xff, 0xff},
		{0xb6, 0xba, 0xbd, 0xff},
	}
)

// Builder accumulates samples into a Trace, one line per driver in order of
// first appearance.
type Builder struct {
	lines map[string]int
	trace Trace
}

func NewBuilder() *Builder {
	return &Builder{lines: map[string]int{}}
}

func (b *Builder) Add(s model.TelemetrySample) {
	i, ok := b.lines[s.DriverID]
	if !ok {
		i = len(b.trace)
		b.lines[s.DriverID] = i
		b.trace = append(b.trace, Line{DriverID: s.DriverID})
	}
	p := Point{X: s.Position.X, Z: s.Position.Z}
	pts := b.trace[i].Points
	if n := len(pts); n > 0 && math.Hypot(p.X-pts[n-1].X, p.Z-pts[n-1].Z) < minStep {
		return
	}
	b.trace[i].Points = append(pts, p)
}

func (b *Builder) Trace() Trace {
	return b.trace
}

// FromSamples is a shortcut for a Builder fed with every sample.
func FromSamples(samples []model.TelemetrySample) Trace {
	b := NewBuilder()
	for _, s := range samples {
		b.Add(s)
	}
	return b.Trace()
}

type SvgMetadata struct {
	MinX    float64         `json:"minX"`
	MaxX    float64         `json:"maxX"`
	OffsetX float64         `json:"offsetX"`
	MinZ    float64         `json:"minZ"`
	MaxZ    float64         `json:"maxZ"`
	OffsetZ float64         `json:"offsetZ"`
	Rotate  bool            `json:"rotate"`
	Width   float64         `json:"width"`
	Height  float64         `json:"height"`
	Drivers []string        `json:"drivers"`
	Rect    image.Rectangle `json:"-"`
}

// bounds places the trace on the canvas. The longest side of the track is
// laid horizontally.
func bounds(trace Trace, scale float64) SvgMetadata {
	minX, minZ := math.Inf(1), math.Inf(1)
	maxX, maxZ := math.Inf(-1), math.Inf(-1)
	var drivers []string
	for _, line := range trace {
		drivers = append(drivers, line.DriverID)
		for _, p := range line.Points {
			minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
			minZ, maxZ = math.Min(minZ, p.Z), math.Max(maxZ, p.Z)
		}
	}
	if math.IsInf(minX, 1) {
		minX, maxX, minZ, maxZ = 0, 0, 0, 0
	}

	factor := 1.0 - scale
	md := SvgMetadata{
		MinX:    minX,
		MaxX:    maxX,
		MinZ:    minZ,
		MaxZ:    maxZ,
		OffsetX: (margin - minX) * factor,
		OffsetZ: (margin - minZ) * factor,
		Drivers: drivers,
	}
	md.Width = (maxX - minX + 2*margin) * factor
	md.Height = (maxZ - minZ + 2*margin) * factor
	if md.Width < md.Height {
		md.Rotate = true
		md.Width, md.Height = md.Height, md.Width
	}
	md.Rect = image.Rect(0, 0, int(md.Width), int(md.Height))
	return md
}

// RenderSVG writes the trace as an SVG document followed by its placement
// metadata in an XML comment.
func RenderSVG(w io.Writer, trace Trace) error {
	mu.Lock()
	defer mu.Unlock()
	md := bounds(trace, ScaleSVG)

	dest := draw2dsvg.NewSvg()
	gc := draw2dsvg.NewGraphicContext(dest)
	for i, line := range trace {
		drawLine(gc, line, md, palette[i%len(palette)], ScaleSVG)
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	if err := xml.NewEncoder(w).Encode(dest); err != nil {
		return err
	}

	jsonBytes, err := json.Marshal(md)
	if err != nil {
		return err
	}
	buffer := new(bytes.Buffer)
	if err := json.Compact(buffer, jsonBytes); err != nil {
		return err
	}
	_, _ = w.Write([]byte("\n<!--\n"))
	_, _ = w.Write(buffer.Bytes())
	_, err = w.Write([]byte("\n-->"))
	return err
}

// Flips the image around the Y axis.
func invertY(gc draw2d.GraphicContext, rect image.Rectangle) {
	gc.Translate(0, float64(rect.Max.Y))
	gc.Scale(1.0, -1.0)
}

func drawLine(gc draw2d.GraphicContext, line Line, md SvgMetadata, c color.RGBA, scale float64) {
	if len(line.Points) == 0 {
		return
	}
	gc.Save()
	defer gc.Restore()

	factor := 1.0 - scale
	project := func(p Point) (float64, float64) {
		return p.X*factor + md.OffsetX, p.Z*factor + md.OffsetZ
	}

	invertY(gc, md.Rect)
	if md.Rotate {
		gc.Rotate(math.Pi / 2)
		f := md.Width / md.Height
		gc.Translate(0, -f*float64(md.Rect.Max.Y))
	}

	gc.SetStrokeColor(c)
	gc.SetLineWidth(12 * scale)
	for i, p := range line.Points {
		x, z := project(p)
		if i == 0 {
			gc.MoveTo(x, z)
			continue
		}
		gc.LineTo(x, z)
	}
	gc.Stroke()

	// start marker
	x, z := project(line.Points[0])
	gc.SetFillColor(c)
	draw2dkit.Circle(gc, x, z, 16*scale)
	gc.Fill()
}
