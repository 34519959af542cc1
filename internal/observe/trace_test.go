package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newTestTracerProvider returns a TracerProvider with an in-memory exporter
// for inspecting recorded spans.
func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

func TestCorrelationID(t *testing.T) {
	t.Run("empty without a span", func(t *testing.T) {
		if got := CorrelationID(context.Background()); got != "" {
			t.Errorf("CorrelationID(background) = %q, want empty", got)
		}
	})

	t.Run("returns the trace id", func(t *testing.T) {
		tp, _ := newTestTracerProvider(t)
		tracer := tp.Tracer("test")

		ctx, span := tracer.Start(context.Background(), "test-span")
		defer span.End()

		cid := CorrelationID(ctx)
		if len(cid) != 32 {
			t.Errorf("correlation ID length = %d, want 32", len(cid))
		}
	})
}

func TestLogger(t *testing.T) {
	newBufLogger := func() (*bytes.Buffer, *slog.Logger) {
		var buf bytes.Buffer
		return &buf, slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	t.Run("enriches the base logger with trace and span ids", func(t *testing.T) {
		tp, _ := newTestTracerProvider(t)
		tracer := tp.Tracer("test")

		ctx, span := tracer.Start(context.Background(), "log-test")
		defer span.End()

		buf, base := newBufLogger()
		Logger(ctx, base).Info("turn started")

		logged := buf.String()
		if !strings.Contains(logged, "trace_id=") {
			t.Errorf("log output missing trace_id, got: %s", logged)
		}
		if !strings.Contains(logged, "span_id=") {
			t.Errorf("log output missing span_id, got: %s", logged)
		}
	})

	t.Run("returns the base unchanged without a span", func(t *testing.T) {
		buf, base := newBufLogger()
		Logger(context.Background(), base).Info("turn started")

		if logged := buf.String(); strings.Contains(logged, "trace_id") {
			t.Errorf("log output should not contain trace_id, got: %s", logged)
		}
	})

	t.Run("nil base falls back to the default logger", func(t *testing.T) {
		if Logger(context.Background(), nil) == nil {
			t.Error("Logger returned nil for nil base")
		}
	})
}
