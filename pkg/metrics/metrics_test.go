package metrics

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestInstrumentsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	in, err := NewInstruments(mp)
	if err != nil {
		t.Fatalf("NewInstruments: %v", err)
	}
	ctx := context.Background()
	in.SamplePublished(ctx, "s1")
	in.SamplePublished(ctx, "s1")
	in.SampleDropped(ctx, "s1")
	in.SubscriberJoined(ctx, "s1")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	if totals["telemetry.samples.published"] != 2 {
		t.Errorf("published = %d, want 2", totals["telemetry.samples.published"])
	}
	if totals["telemetry.samples.dropped"] != 1 {
		t.Errorf("dropped = %d, want 1", totals["telemetry.samples.dropped"])
	}
	if totals["telemetry.subscribers.live"] != 1 {
		t.Errorf("live = %d, want 1", totals["telemetry.subscribers.live"])
	}
}

func TestNilInstrumentsAreNoops(t *testing.T) {
	var in *Instruments
	in.SamplePublished(context.Background(), "s")
	in.ExportDropped(context.Background(), "kafka")
}

func TestNewProviderWithoutEndpoint(t *testing.T) {
	p, err := NewProvider(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
