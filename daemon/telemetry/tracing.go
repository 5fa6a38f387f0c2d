package telemetry

import (
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// NewTracerProvider installs the global tracer provider the dispatcher starts its pipeline and action
// spans from. Spans are printed to w as JSON; pass io.Discard to keep ids in the logs without the output.
// attrs end up on the resource of every span, e.g. the watched directory.
func NewTracerProvider(appName string, w io.Writer, attrs ...attribute.KeyValue) (*sdktrace.TracerProvider, error) {
	exp, err := stdouttrace.New(
		stdouttrace.WithPrettyPrint(),
		stdouttrace.WithWriter(w),
	)
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			append([]attribute.KeyValue{semconv.ServiceName(appName)}, attrs...)...,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource merger: %w", err)
	}

	// one span per file plus one per action is low volume, nothing to sample away
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(r),
	)
	otel.SetTracerProvider(tp)

	return tp, nil
}
