package otel

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

const meterName = "github.com/MrEthical07/goIdentity"

// LogExporter is a push exporter that writes every collection as one
// structured log record. Zero-valued points are left out.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter returns an exporter logging at Info on logger.
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger}
}

func (x *LogExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (x *LogExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (x *LogExporter) Export(ctx context.Context, rm *metricdata.ResourceMetrics) error {
	var attrs []slog.Attr
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				attrs = appendPoints(attrs, m.Name, data.DataPoints)
			case metricdata.Gauge[int64]:
				attrs = appendPoints(attrs, m.Name, data.DataPoints)
			}
		}
	}
	x.logger.LogAttrs(ctx, slog.LevelInfo, "engine metrics", attrs...)
	return nil
}

func appendPoints(attrs []slog.Attr, name string, points []metricdata.DataPoint[int64]) []slog.Attr {
	for _, dp := range points {
		if dp.Value == 0 {
			continue
		}
		key := name
		if le, ok := dp.Attributes.Value(attribute.Key("le")); ok {
			key += "{le=" + le.Emit() + "}"
		}
		attrs = append(attrs, slog.Int64(key, dp.Value))
	}
	return attrs
}

func (x *LogExporter) ForceFlush(context.Context) error { return nil }

func (x *LogExporter) Shutdown(context.Context) error { return nil }

// Pipeline owns a MeterProvider whose periodic reader pushes the engine's
// metrics to an exporter.
type Pipeline struct {
	provider *sdkmetric.MeterProvider
	exporter *Exporter
}

// Start registers source on a new MeterProvider and pushes to exp every
// interval. Shutdown performs a final export.
func Start(source Source, exp sdkmetric.Exporter, interval time.Duration) (*Pipeline, error) {
	if interval <= 0 {
		return nil, errors.New("otel export interval must be positive")
	}
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
	)
	e, err := Register(provider.Meter(meterName), source)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return nil, err
	}
	return &Pipeline{provider: provider, exporter: e}, nil
}

// Shutdown flushes the last collection and stops the reader.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return errors.Join(p.provider.Shutdown(ctx), p.exporter.Close())
}
