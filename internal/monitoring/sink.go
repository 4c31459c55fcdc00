// Package monitoring implements the tool-call observation sink described
// in spec §4.J: a duration histogram, a requests/errors counter, spans,
// and a structured record written to storage.
package monitoring

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/vmcpmesh/gateway/pkg/errors"
	"github.com/vmcpmesh/gateway/pkg/logger"
	"github.com/vmcpmesh/gateway/pkg/mesh"
)

// Call is one completed (or in-flight) tool call observation.
type Call struct {
	ConnectionID    string
	ConnectionTitle string
	ToolName        string
	OrganizationID  string
	UserID          string
	UserAgent       string
	VirtualMCPID    string
	RequestID       string
	Input           map[string]any
	Properties      map[string]any
}

// Span is the open observation for one in-flight call, returned by Start
// and closed by the caller on completion.
type Span struct {
	call      Call
	startedAt time.Time
	span      trace.Span
}

// Sink is the monitoring surface consumed by internal/middleware. Start
// opens a span and records the call's start time; Finish closes it out
// with a duration histogram entry, a requests/errors counter increment,
// and (when enabled) a storage write. Finish must never propagate a
// storage failure to the caller (spec §4.B).
type Sink interface {
	Start(ctx context.Context, call Call) (context.Context, *Span)
	Finish(ctx context.Context, span *Span, output any, callErr error)
}

// OTelSink is the production Sink backed by an OTel tracer/meter pair and
// an optional Storage writer (spec §4.J wiring: go.opentelemetry.io/otel
// + prometheus/client_golang, per the teacher's telemetry package).
type OTelSink struct {
	tracer   trace.Tracer
	duration metric.Float64Histogram
	requests metric.Int64Counter
	errs     metric.Int64Counter

	storage mesh.MonitoringStore
	enabled bool
}

// Option configures an OTelSink.
type Option func(*OTelSink)

// WithStorage attaches the monitoring store records are written to when
// the feature is enabled and an organization is in context.
func WithStorage(store mesh.MonitoringStore) Option {
	return func(s *OTelSink) { s.storage = store }
}

// WithEnabled toggles the monitoring feature flag (spec §6.4): metrics
// always emit, but DB writes are skipped when disabled.
func WithEnabled(enabled bool) Option {
	return func(s *OTelSink) { s.enabled = enabled }
}

// NewOTelSink builds a Sink from a tracer and meter, registering the
// duration histogram and requests/errors counters described in §4.J.
func NewOTelSink(tracer trace.Tracer, meter metric.Meter, opts ...Option) (*OTelSink, error) {
	duration, err := meter.Float64Histogram(
		"gateway.tool.call.duration",
		metric.WithDescription("Duration of a downstream tool call"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, errors.NewError(errors.ErrInternal, "register duration histogram", err)
	}
	requests, err := meter.Int64Counter(
		"gateway.tool.call.requests",
		metric.WithDescription("Count of downstream tool calls"),
	)
	if err != nil {
		return nil, errors.NewError(errors.ErrInternal, "register requests counter", err)
	}
	errs, err := meter.Int64Counter(
		"gateway.tool.call.errors",
		metric.WithDescription("Count of failed downstream tool calls"),
	)
	if err != nil {
		return nil, errors.NewError(errors.ErrInternal, "register errors counter", err)
	}

	s := &OTelSink{tracer: tracer, duration: duration, requests: requests, errs: errs}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Start opens a span for call and records its start time.
func (s *OTelSink) Start(ctx context.Context, call Call) (context.Context, *Span) {
	spanCtx, span := s.tracer.Start(ctx, "gateway.tool.call",
		trace.WithAttributes(
			attribute.String("connection.id", call.ConnectionID),
			attribute.String("tool.name", call.ToolName),
		),
	)
	if call.RequestID != "" {
		span.SetAttributes(attribute.String("request.id", call.RequestID))
	}
	return spanCtx, &Span{call: call, startedAt: time.Now(), span: span}
}

// Finish records the duration histogram, success/error counters, closes
// the span, and — when enabled and an organization is present — writes a
// structured record to storage. Storage failures are logged, never
// surfaced.
func (s *OTelSink) Finish(ctx context.Context, span *Span, output any, callErr error) {
	if span == nil {
		return
	}
	durationMS := float64(time.Since(span.startedAt)) / float64(time.Millisecond)
	status := "ok"
	if callErr != nil {
		status = "error"
	}

	attrs := []attribute.KeyValue{
		attribute.String("connection.id", span.call.ConnectionID),
		attribute.String("tool.name", span.call.ToolName),
		attribute.String("status", status),
	}
	s.duration.Record(ctx, durationMS, metric.WithAttributes(attrs...))
	s.requests.Add(ctx, 1, metric.WithAttributes(attrs...))

	if callErr != nil {
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
		span.span.RecordError(callErr)
		span.span.SetStatus(codes.Error, callErr.Error())
	} else {
		span.span.SetStatus(codes.Ok, "")
	}
	span.span.End()

	if !s.enabled || s.storage == nil || span.call.OrganizationID == "" {
		return
	}

	record := mesh.MonitoringRecord{
		OrganizationID:  span.call.OrganizationID,
		ConnectionID:    span.call.ConnectionID,
		ConnectionTitle: span.call.ConnectionTitle,
		ToolName:        span.call.ToolName,
		Input:           span.call.Input,
		Output:          output,
		IsError:         callErr != nil,
		DurationMS:      int64(durationMS),
		Timestamp:       time.Now().UnixMilli(),
		UserID:          span.call.UserID,
		RequestID:       span.call.RequestID,
		UserAgent:       span.call.UserAgent,
		VirtualMCPID:    span.call.VirtualMCPID,
		Properties:      mergeProperties(span.call.Properties, extractMetaProperties(span.call.Input)),
	}
	if callErr != nil {
		record.ErrorMessage = callErr.Error()
	}

	if err := s.storage.Log(ctx, record); err != nil {
		logger.Warnw("monitoring record write failed", "error", err, "connection_id", record.ConnectionID)
	}
}

// CloseOpen ends span with a transport.closed status, used when the
// owning transport shuts down while a call is still in flight (spec
// §4.B "on transport close").
func CloseOpen(span *Span) {
	if span == nil || span.span == nil {
		return
	}
	span.span.SetAttributes(attribute.Bool("transport.closed", true))
	span.span.SetStatus(codes.Error, "transport closed")
	span.span.End()
}

// mergeProperties merges request-metadata properties with _meta-extracted
// properties from the tool input, the latter taking precedence on key
// collision since it is more specific to this call.
func mergeProperties(requestProps, metaProps map[string]any) map[string]any {
	if len(requestProps) == 0 && len(metaProps) == 0 {
		return nil
	}
	merged := make(map[string]any, len(requestProps)+len(metaProps))
	for k, v := range requestProps {
		merged[k] = v
	}
	for k, v := range metaProps {
		merged[k] = v
	}
	return merged
}

// extractMetaProperties pulls the "_meta" object out of a tool call's
// input arguments, if present.
func extractMetaProperties(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	meta, ok := input["_meta"].(map[string]any)
	if !ok {
		return nil
	}
	return meta
}
