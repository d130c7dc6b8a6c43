// Package tracing provides an opt-in OpenTelemetry tracer for the
// publisher's flush and the recovery server's request handling, adapted
// from amirimatin-go-cluster's pkg/observability/tracing. Off by default;
// Setup(false) is a no-op so production use carries no tracing overhead
// unless explicitly enabled.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

var enabled bool

// Setup configures a global tracer provider when enable is true, exporting
// spans to stdout. It returns a shutdown function the caller should defer.
func Setup(enable bool) (func(context.Context) error, error) {
	enabled = enable
	if !enable {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartSpan starts a span named name if tracing is enabled, otherwise
// returns ctx unchanged and a no-op end function.
func StartSpan(ctx context.Context, name string) (context.Context, func()) {
	if !enabled {
		return ctx, func() {}
	}
	tr := otel.Tracer("moldudp64")
	ctx, span := tr.Start(ctx, name)
	return ctx, func() { span.End() }
}
