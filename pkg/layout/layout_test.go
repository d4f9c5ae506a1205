package layout

import (
	"bytes"
	"strings"
	"testing"

	"f1telemetryhub/pkg/model"
)

func sampleAt(driver string, x, z float64) model.TelemetrySample {
	return model.TelemetrySample{DriverID: driver, Position: model.Vec3{X: x, Z: z}}
}

func TestFromSamplesGroupsAndThins(t *testing.T) {
	trace := FromSamples([]model.TelemetrySample{
		sampleAt("ham", 0, 0),
		sampleAt("lec", 5, 5),
		sampleAt("ham", 0.5, 0.5), // too close, dropped
		sampleAt("ham", 10, 0),
		sampleAt("lec", 20, 5),
	})
	if len(trace) != 2 || trace[0].DriverID != "ham" || trace[1].DriverID != "lec" {
		t.Fatalf("trace = %+v", trace)
	}
	if len(trace[0].Points) != 2 || trace[0].Points[1] != (Point{X: 10, Z: 0}) {
		t.Fatalf("ham points = %+v", trace[0].Points)
	}
}

func TestBoundsRotatesTallTracks(t *testing.T) {
	tall := Trace{{DriverID: "a", Points: []Point{{X: 0, Z: 0}, {X: 100, Z: 1000}}}}
	md := bounds(tall, ScaleSVG)
	if !md.Rotate || md.Width < md.Height {
		t.Fatalf("metadata = %+v", md)
	}
	wide := Trace{{DriverID: "a", Points: []Point{{X: 0, Z: 0}, {X: 1000, Z: 100}}}}
	if md := bounds(wide, ScaleSVG); md.Rotate {
		t.Fatalf("wide track rotated: %+v", md)
	}
}

func TestRenderSVG(t *testing.T) {
	var buf bytes.Buffer
	trace := Trace{{DriverID: "a", Points: []Point{{X: -50, Z: 10}, {X: 300, Z: 40}, {X: 200, Z: 400}}}}
	if err := RenderSVG(&buf, trace); err != nil {
		t.Fatalf("RenderSVG: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "<svg") || !strings.Contains(out, "<path") {
		t.Fatalf("no svg drawing in output:\n%s", out)
	}
	if !strings.Contains(out, `"drivers":["a"]`) {
		t.Fatalf("metadata comment missing:\n%s", out)
	}
}

func TestRenderSVGEmptyTrace(t *testing.T) {
	var buf bytes.Buffer
	if err := RenderSVG(&buf, nil); err != nil {
		t.Fatalf("RenderSVG: %v", err)
	}
	if !strings.Contains(buf.String(), "<svg") {
		t.Fatal("empty trace should still produce a document")
	}
}
