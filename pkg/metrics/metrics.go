// Package metrics sets up the OpenTelemetry meter provider and the
// instruments recorded by the fan-out engine.
package metrics

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const ServiceName = "f1telemetryhub"

type Provider struct {
	MeterProvider *sdkmetric.MeterProvider
	Shutdown      func(context.Context) error
}

// NewProvider exports over OTLP/gRPC when endpoint is set. Without an
// endpoint instruments are still recorded, they are just never exported.
func NewProvider(ctx context.Context, endpoint string, logger *slog.Logger) (*Provider, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		mp := sdkmetric.NewMeterProvider()
		return &Provider{MeterProvider: mp, Shutdown: mp.Shutdown}, nil
	}

	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid OTLP endpoint %q", endpoint)
	}
	if u.Host == "" {
		return nil, errors.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceNameKey.String(ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(u.Host)}
	if u.Scheme != "https" {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "creating OTLP metric exporter")
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))),
	)
	logger.Info("exporting metrics", "endpoint", u.Host)
	return &Provider{MeterProvider: mp, Shutdown: mp.Shutdown}, nil
}

// Instruments is safe to use through a nil pointer, which records nothing.
type Instruments struct {
	published   metric.Int64Counter
	dropped     metric.Int64Counter
	evicted     metric.Int64Counter
	persistErrs metric.Int64Counter
	live        metric.Int64UpDownCounter
	exportDrops metric.Int64Counter
}

func NewInstruments(mp metric.MeterProvider) (*Instruments, error) {
	meter := mp.Meter(ServiceName)
	var (
		in  Instruments
		err error
	)
	if in.published, err = meter.Int64Counter("telemetry.samples.published",
		metric.WithDescription("Samples accepted by the broadcaster")); err != nil {
		return nil, err
	}
	if in.dropped, err = meter.Int64Counter("telemetry.samples.dropped",
		metric.WithDescription("Samples dropped from saturated subscriber queues")); err != nil {
		return nil, err
	}
	if in.evicted, err = meter.Int64Counter("telemetry.subscribers.evicted",
		metric.WithDescription("Subscribers disconnected after staying saturated")); err != nil {
		return nil, err
	}
	if in.persistErrs, err = meter.Int64Counter("telemetry.persistence.errors",
		metric.WithDescription("Failed durable appends")); err != nil {
		return nil, err
	}
	if in.live, err = meter.Int64UpDownCounter("telemetry.subscribers.live",
		metric.WithDescription("Currently joined subscribers")); err != nil {
		return nil, err
	}
	if in.exportDrops, err = meter.Int64Counter("telemetry.export.dropped",
		metric.WithDescription("Samples dropped by export pumps")); err != nil {
		return nil, err
	}
	return &in, nil
}

func sessionAttr(sessionID string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("session", sessionID))
}

func (in *Instruments) SamplePublished(ctx context.Context, sessionID string) {
	if in == nil {
		return
	}
	in.published.Add(ctx, 1, sessionAttr(sessionID))
}

func (in *Instruments) SampleDropped(ctx context.Context, sessionID string) {
	if in == nil {
		return
	}
	in.dropped.Add(ctx, 1, sessionAttr(sessionID))
}

func (in *Instruments) SubscriberEvicted(ctx context.Context, sessionID string) {
	if in == nil {
		return
	}
	in.evicted.Add(ctx, 1, sessionAttr(sessionID))
}

func (in *Instruments) PersistenceFailed(ctx context.Context, sessionID string) {
	if in == nil {
		return
	}
	in.persistErrs.Add(ctx, 1, sessionAttr(sessionID))
}

func (in *Instruments) SubscriberJoined(ctx context.Context, sessionID string) {
	if in == nil {
		return
	}
	in.live.Add(ctx, 1, sessionAttr(sessionID))
}

func (in *Instruments) SubscriberLeft(ctx context.Context, sessionID string) {
	if in == nil {
		return
	}
	in.live.Add(ctx, -1, sessionAttr(sessionID))
}

func (in *Instruments) ExportDropped(ctx context.Context, sink string) {
	if in == nil {
		return
	}
	in.exportDrops.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}
