package asr

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type coreMetrics struct {
	loads   metric.Int64Counter
	results metric.Int64Counter
	stale   metric.Int64Counter
	flushes metric.Int64Counter
	dropped metric.Int64Counter
	breaks  metric.Int64Counter
}

func newCoreMetrics(meter metric.Meter) (*coreMetrics, error) {
	if meter == nil {
		return nil, nil
	}
	var (
		m   coreMetrics
		err error
	)
	if m.loads, err = meter.Int64Counter("captions.model.loads", metric.WithDescription("Model load attempts by outcome")); err != nil {
		return nil, err
	}
	if m.results, err = meter.Int64Counter("captions.results", metric.WithDescription("Recognizer results by kind")); err != nil {
		return nil, err
	}
	if m.stale, err = meter.Int64Counter("captions.results.stale", metric.WithDescription("Results dropped from released sessions")); err != nil {
		return nil, err
	}
	if m.flushes, err = meter.Int64Counter("captions.flushes", metric.WithDescription("Flush requests issued on silence")); err != nil {
		return nil, err
	}
	if m.dropped, err = meter.Int64Counter("captions.frames.dropped", metric.WithDescription("Audio frames not forwarded to the recognizer")); err != nil {
		return nil, err
	}
	if m.breaks, err = meter.Int64Counter("captions.watchdog.breaks", metric.WithDescription("Line clears forced by the silence watchdog")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *coreMetrics) load(outcome string) {
	if m == nil {
		return
	}
	m.loads.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *coreMetrics) result(kind string) {
	if m == nil {
		return
	}
	m.results.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *coreMetrics) staleResult() {
	if m == nil {
		return
	}
	m.stale.Add(context.Background(), 1)
}

func (m *coreMetrics) flush() {
	if m == nil {
		return
	}
	m.flushes.Add(context.Background(), 1)
}

func (m *coreMetrics) drop(reason string) {
	if m == nil {
		return
	}
	m.dropped.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *coreMetrics) watchdogBreak() {
	if m == nil {
		return
	}
	m.breaks.Add(context.Background(), 1)
}
