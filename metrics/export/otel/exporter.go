package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	authflow "github.com/PHPxCODER/rdp-website-sub000"
	"github.com/PHPxCODER/rdp-website-sub000/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() authflow.MetricsSnapshot
	AuditDropped() uint64
}

// familyCounter is one observable counter fed by several engine counters,
// each under its own attribute set.
type familyCounter struct {
	instrument metric.Int64ObservableCounter
	ids        []authflow.MetricID
	attrs      []metric.ObserveOption
}

type latencyInstruments struct {
	buckets metric.Int64ObservableGauge
	bounds  []metric.ObserveOption
	count   metric.Int64ObservableCounter
	sum     metric.Float64ObservableCounter
}

// Exporter publishes engine metrics as observable OpenTelemetry instruments.
// Values are read from the engine on every collection.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	families     []familyCounter
	latency      latencyInstruments
	auditDropped metric.Int64ObservableCounter
}

func New(meter metric.Meter, engine *authflow.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewFromSource(meter, engine)
}

// NewFromSource registers one counter per family, the latency bucket gauge
// with an "le" attribute, and a single callback that fills them.
func NewFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	observables := make([]metric.Observable, 0, len(internaldefs.Families)+4)

	for _, fam := range internaldefs.Families {
		ins, err := meter.Int64ObservableCounter(fam.Name, metric.WithDescription(fam.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", fam.Name, err)
		}
		fc := familyCounter{instrument: ins}
		for _, s := range fam.Samples {
			fc.ids = append(fc.ids, s.ID)
			fc.attrs = append(fc.attrs, attributes(fam.Label, s.Value))
		}
		e.families = append(e.families, fc)
		observables = append(observables, ins)
	}

	if err := e.registerLatency(meter); err != nil {
		return nil, err
	}
	observables = append(observables, e.latency.buckets, e.latency.count, e.latency.sum)

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName, metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *Exporter) registerLatency(meter metric.Meter) error {
	h := internaldefs.StepLatency
	buckets, err := meter.Int64ObservableGauge(h.Name+"_bucket",
		metric.WithDescription(h.Help+" Cumulative count per upper bound."))
	if err != nil {
		return fmt.Errorf("create gauge %s_bucket: %w", h.Name, err)
	}
	count, err := meter.Int64ObservableCounter(h.Name+"_count", metric.WithDescription(h.Help+" Sample count."))
	if err != nil {
		return fmt.Errorf("create counter %s_count: %w", h.Name, err)
	}
	sum, err := meter.Float64ObservableCounter(h.Name+"_sum",
		metric.WithDescription(h.Help+" Total seconds."), metric.WithUnit("s"))
	if err != nil {
		return fmt.Errorf("create counter %s_sum: %w", h.Name, err)
	}

	e.latency = latencyInstruments{buckets: buckets, count: count, sum: sum}
	for _, le := range internaldefs.BucketBounds() {
		e.latency.bounds = append(e.latency.bounds, attributes(internaldefs.LabelBound, le))
	}
	return nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, fc := range e.families {
		for i, id := range fc.ids {
			o.ObserveInt64(fc.instrument, int64(snapshot.Counters[id]), fc.attrs[i])
		}
	}

	if raw, ok := snapshot.Histograms[internaldefs.StepLatency.ID]; ok {
		cumulative := internaldefs.Cumulative(raw)
		for i, opt := range e.latency.bounds {
			o.ObserveInt64(e.latency.buckets, int64(cumulative[i]), opt)
		}
		o.ObserveInt64(e.latency.count, int64(cumulative[len(cumulative)-1]))
		o.ObserveFloat64(e.latency.sum, snapshot.HistogramSums[internaldefs.StepLatency.ID].Seconds())
	}

	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// attributes builds the observe option for one label pair. An empty key
// yields an empty set.
func attributes(key, value string) metric.ObserveOption {
	if key == "" {
		return metric.WithAttributeSet(*attribute.EmptySet())
	}
	return metric.WithAttributeSet(attribute.NewSet(attribute.String(key, value)))
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
