// Copyright 2026 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package event provides the structured, span-scoped logging used
// throughout the mcp engine and its transports. It is a trimmed
// adaptation of golang.org/x/tools/internal/event: the same
// Start/Log/Error vocabulary, but bridged directly onto the real
// OpenTelemetry SDK (golang.org/x/tools/internal/event/export/otel hand-rolls
// its own OTLP/JSON encoder; here that SDK is just a dependency, so the
// exporter talks to it through the real API instead).
package event

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Level is the severity of a logged event, matching the levels the MCP
// logging capability negotiates over the wire (debug, info, ..., emergency
// collapse onto these four for engine-internal purposes).
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Label is a single structured key/value attached to a logged event.
type Label struct {
	Key   string
	Value any
}

// String builds a string-valued Label, mirroring the key/value
// keys.XXX.Of(...) helpers in x/tools/internal/event/keys.
func String(key, value string) Label { return Label{key, value} }

// Int builds an int-valued Label.
func Int(key string, value int) Label { return Label{key, value} }

// Err builds a Label carrying an error's message.
func Err(err error) Label {
	if err == nil {
		return Label{"error", nil}
	}
	return Label{"error", err.Error()}
}

// Exporter receives every event logged through this package, in addition
// to the OpenTelemetry span event every Log/Error call already produces.
// Tests and embedders install one to capture events as MCP log
// notifications (see mcp.Server's logging capability) or for assertions.
type Exporter func(ctx context.Context, level Level, message string, labels []Label)

var currentExporter atomic.Pointer[Exporter]

// SetExporter installs the process-wide event exporter. A nil exporter
// restores the no-op default.
func SetExporter(e Exporter) {
	if e == nil {
		currentExporter.Store(nil)
		return
	}
	currentExporter.Store(&e)
}

// Log emits a structured event at LevelInfo.
func Log(ctx context.Context, message string, labels ...Label) {
	emit(ctx, LevelInfo, message, labels)
}

// Error emits a structured event at LevelError, attaching err as a label.
func Error(ctx context.Context, message string, err error, labels ...Label) {
	emit(ctx, LevelError, message, append(labels, Err(err)))
}

// Logf emits a formatted event at LevelDebug, for call sites that don't
// otherwise carry structured labels worth preserving.
func Logf(ctx context.Context, format string, args ...any) {
	emit(ctx, LevelDebug, fmt.Sprintf(format, args...), nil)
}

func emit(ctx context.Context, level Level, message string, labels []Label) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(message, trace.WithAttributes(toAttributes(level, labels)...))
	}
	if p := currentExporter.Load(); p != nil {
		(*p)(ctx, level, message, labels)
	}
}

func toAttributes(level Level, labels []Label) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(labels)+1)
	attrs = append(attrs, attribute.String("level", level.String()))
	for _, l := range labels {
		switch v := l.Value.(type) {
		case string:
			attrs = append(attrs, attribute.String(l.Key, v))
		case int:
			attrs = append(attrs, attribute.Int(l.Key, v))
		case int64:
			attrs = append(attrs, attribute.Int64(l.Key, v))
		case bool:
			attrs = append(attrs, attribute.Bool(l.Key, v))
		case nil:
			// omit
		default:
			attrs = append(attrs, attribute.String(l.Key, fmt.Sprint(v)))
		}
	}
	return attrs
}

// tracerName identifies this package's spans and meters to whichever
// TracerProvider/MeterProvider the embedder has installed via
// otel.SetTracerProvider / otel.SetMeterProvider. With neither installed,
// the otel global API defaults to no-op implementations.
const tracerName = "golang.org/x/mcp"

// Start begins a span named name and returns a context carrying it along
// with a function that must be called to end the span, mirroring
// x/tools/internal/event.Start's (ctx, done) shape.
func Start(ctx context.Context, name string, labels ...Label) (context.Context, func()) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(toAttributes(LevelInfo, labels)...))
	return ctx, func() { span.End() }
}

// Meter returns this package's OpenTelemetry meter. The mcp package does
// not record through it: its request, timeout and session counters are
// Prometheus collectors (mcp/metrics.go).
func Meter() metric.Meter {
	return otel.Meter(tracerName)
}
