package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/pjuts-monitor/pjutsauth"
	"github.com/pjuts-monitor/pjutsauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() pjutsauth.MetricsSnapshot
	AuditDropped() uint64
}

type observedFamily struct {
	def        internaldefs.Family
	instrument metric.Int64ObservableCounter
	// outcomeAttrs[i] is precomputed for def.Outcomes[i].
	outcomeAttrs []metric.ObserveOption
}

// OTelExporter keeps the callback registration alive until Close.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration

	families     []observedFamily
	buckets      metric.Int64ObservableGauge
	bucketAttrs  [internaldefs.BucketCount]metric.ObserveOption
	sampleCount  metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that observe engine.
func NewOTelExporter(meter metric.Meter, engine *pjutsauth.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{
		source:   source,
		families: make([]observedFamily, 0, len(internaldefs.Families)),
	}
	observables := make([]metric.Observable, 0, len(internaldefs.Families)+3)

	for _, def := range internaldefs.Families {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		fam := observedFamily{def: def, instrument: ins}
		for _, o := range def.Outcomes {
			fam.outcomeAttrs = append(fam.outcomeAttrs,
				metric.WithAttributes(attribute.String(internaldefs.OutcomeLabel, o.Value)))
		}
		e.families = append(e.families, fam)
		observables = append(observables, ins)
	}

	lat := internaldefs.Latency
	var err error
	e.buckets, err = meter.Int64ObservableGauge(lat.Name+"_bucket",
		metric.WithDescription(lat.Help+" Cumulative count per upper bound (le)."))
	if err != nil {
		return nil, fmt.Errorf("create latency bucket gauge: %w", err)
	}
	for i, le := range internaldefs.BucketBounds {
		e.bucketAttrs[i] = metric.WithAttributes(attribute.String("le", le))
	}
	e.sampleCount, err = meter.Int64ObservableGauge(lat.Name+"_count",
		metric.WithDescription("Credential checks observed by the latency histogram."))
	if err != nil {
		return nil, fmt.Errorf("create latency count gauge: %w", err)
	}
	e.auditDropped, err = meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	observables = append(observables, e.buckets, e.sampleCount, e.auditDropped)

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

// observe reads one snapshot per collection so every series in a cycle is
// consistent.
func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()

	for _, fam := range e.families {
		if !fam.def.Labelled() {
			o.ObserveInt64(fam.instrument, int64(snapshot.Counters[fam.def.ID]))
			continue
		}
		for i, out := range fam.def.Outcomes {
			o.ObserveInt64(fam.instrument, int64(snapshot.Counters[out.ID]), fam.outcomeAttrs[i])
		}
	}

	cumulative := internaldefs.Cumulative(snapshot.Histograms[internaldefs.Latency.ID])
	for i, v := range cumulative {
		o.ObserveInt64(e.buckets, int64(v), e.bucketAttrs[i])
	}
	o.ObserveInt64(e.sampleCount, int64(cumulative[internaldefs.BucketCount-1]))
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
