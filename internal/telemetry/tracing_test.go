package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

func TestPropagatorFields(t *testing.T) {
	t.Parallel()

	require.ElementsMatch(t, []string{"traceparent", "tracestate", "baggage"}, Propagator().Fields())
}

func TestInitTracerProviderInstallsGlobals(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(), "xkcd-mirror-test", sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, span := otel.Tracer("test").Start(context.Background(), "unit")
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	span.End()

	require.Contains(t, carrier.Get("traceparent"), span.SpanContext().TraceID().String())
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "unit", ended[0].Name())
	name, ok := ended[0].Resource().Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	require.Equal(t, "xkcd-mirror-test", name.AsString())
}
