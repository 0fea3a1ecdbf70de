package main

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

// logExporter is an OpenTelemetry metric exporter that writes non-zero
// counters to the process logger. It is the collection side of the otel
// bridge when no collector is deployed.
type logExporter struct {
	logger *zap.Logger
}

var _ sdkmetric.Exporter = (*logExporter)(nil)

func newLogExporter(logger *zap.Logger) *logExporter {
	return &logExporter{logger: logger}
}

func (e *logExporter) Temporality(k sdkmetric.InstrumentKind) metricdata.Temporality {
	return sdkmetric.DefaultTemporalitySelector(k)
}

func (e *logExporter) Aggregation(k sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return sdkmetric.DefaultAggregationSelector(k)
}

func (e *logExporter) Export(_ context.Context, rm *metricdata.ResourceMetrics) error {
	fields := make([]zap.Field, 0, 32)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			fields = appendInt64Points(fields, m.Name, m.Data)
		}
	}
	if len(fields) > 0 {
		e.logger.Info("metrics", fields...)
	}
	return nil
}

func (e *logExporter) ForceFlush(context.Context) error { return nil }

func (e *logExporter) Shutdown(context.Context) error { return nil }

// appendInt64Points adds one field per non-zero int64 data point, keyed by
// the series name with its attributes, e.g. pin_verify_total{outcome=success}.
func appendInt64Points(fields []zap.Field, name string, data metricdata.Aggregation) []zap.Field {
	var points []metricdata.DataPoint[int64]
	switch d := data.(type) {
	case metricdata.Sum[int64]:
		points = d.DataPoints
	case metricdata.Gauge[int64]:
		points = d.DataPoints
	default:
		return fields
	}

	for _, dp := range points {
		if dp.Value == 0 {
			continue
		}
		fields = append(fields, zap.Int64(seriesKey(name, dp.Attributes), dp.Value))
	}
	return fields
}

func seriesKey(name string, attrs attribute.Set) string {
	if attrs.Len() == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, kv := range attrs.ToSlice() {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(string(kv.Key))
		b.WriteByte('=')
		b.WriteString(kv.Value.Emit())
	}
	b.WriteByte('}')
	return b.String()
}
