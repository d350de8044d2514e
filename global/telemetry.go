package global

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer is used to delimit the spans of the bootstrap steps and of
// each sync invocation. It defaults to a noop implementation until
// SetupTracing is called.
var Tracer trace.Tracer = noop.NewTracerProvider().Tracer("ctfd-deploy")

// SetupTracing installs a stdout trace exporter when tracing is turned
// on in the configuration. The returned function flushes and stops the
// provider.
func SetupTracing(ctx context.Context) (func(context.Context) error, error) {
	if !Conf.Otel.Tracing {
		return func(context.Context) error { return nil }, nil
	}

	exp, err := stdouttrace.New()
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
	)
	otel.SetTracerProvider(tp)

	name := Conf.Otel.ServiceName
	if name == "" {
		name = "ctfd-deploy"
	}
	Tracer = tp.Tracer(name)

	return tp.Shutdown, nil
}
