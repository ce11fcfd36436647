// Package observe provides observability primitives for Solivox:
// OpenTelemetry metrics with a Prometheus exporter bridge, plus the SDK
// provider bootstrap.
//
// A package-level default [Metrics] instance ([DefaultMetrics]) is provided
// for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Solivox metrics.
const meterName = "github.com/solivox/solivox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// TurnDuration tracks finalized-transcript-to-reply latency.
	TurnDuration metric.Float64Histogram

	// LLMDuration tracks reasoning-engine inference latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks speech synthesis latency.
	TTSDuration metric.Float64Histogram

	// ToolExecutionDuration tracks tool dispatch latency.
	ToolExecutionDuration metric.Float64Histogram

	// ToolCalls counts tool invocations. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolCalls metric.Int64Counter

	// Replies counts spoken replies by session profile.
	Replies metric.Int64Counter

	// Commits counts record commits by sink kind.
	Commits metric.Int64Counter

	// BargeIns counts playback interruptions caused by the caller speaking.
	BargeIns metric.Int64Counter

	// Fallbacks counts turns that ended in the fallback utterance.
	Fallbacks metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TurnDuration, err = m.Float64Histogram("solivox.turn.duration",
		metric.WithDescription("Latency from finalized transcript to reply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("solivox.llm.duration",
		metric.WithDescription("Latency of reasoning-engine inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("solivox.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolExecutionDuration, err = m.Float64Histogram("solivox.tool_execution.duration",
		metric.WithDescription("Latency of tool dispatch."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.ToolCalls, err = m.Int64Counter("solivox.tool.calls",
		metric.WithDescription("Total tool invocations by tool name and status."),
	); err != nil {
		return nil, err
	}
	if met.Replies, err = m.Int64Counter("solivox.replies",
		metric.WithDescription("Total spoken replies by session profile."),
	); err != nil {
		return nil, err
	}
	if met.Commits, err = m.Int64Counter("solivox.commits",
		metric.WithDescription("Total record commits by sink kind."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("solivox.barge_ins",
		metric.WithDescription("Total playback interruptions caused by the caller speaking."),
	); err != nil {
		return nil, err
	}
	if met.Fallbacks, err = m.Int64Counter("solivox.fallbacks",
		metric.WithDescription("Total turns that ended in the fallback utterance."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("solivox.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordToolCall records a tool call counter increment with the standard
// attribute set. Safe on a nil receiver.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordTurn records one completed turn. Safe on a nil receiver.
func (m *Metrics) RecordTurn(ctx context.Context, profile string, seconds float64) {
	if m == nil {
		return
	}
	m.TurnDuration.Record(ctx, seconds)
	m.Replies.Add(ctx, 1, metric.WithAttributes(attribute.String("profile", profile)))
}

// RecordCommit records a record commit by sink kind. Safe on a nil receiver.
func (m *Metrics) RecordCommit(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.Commits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordBargeIn records one playback interruption. Safe on a nil receiver.
func (m *Metrics) RecordBargeIn(ctx context.Context) {
	if m == nil {
		return
	}
	m.BargeIns.Add(ctx, 1)
}

// RecordFallback records a turn that ended in the fallback utterance. Safe on
// a nil receiver.
func (m *Metrics) RecordFallback(ctx context.Context) {
	if m == nil {
		return
	}
	m.Fallbacks.Add(ctx, 1)
}

// SessionOpened increments the live session gauge. Safe on a nil receiver.
func (m *Metrics) SessionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, 1)
}

// SessionClosed decrements the live session gauge. Safe on a nil receiver.
func (m *Metrics) SessionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveSessions.Add(ctx, -1)
}
