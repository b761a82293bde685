package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func newTestTracerProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.InMemoryExporter) {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return tp, exp
}

// captureLogs redirects the default logger into a buffer for one test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestCorrelationID(t *testing.T) {
	tp, _ := newTestTracerProvider(t)

	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}

	ctx, span := tp.Tracer("test").Start(context.Background(), "analyze")
	defer span.End()
	cid := CorrelationID(ctx)
	if len(cid) != 32 || strings.Trim(cid, "0123456789abcdef") != "" {
		t.Errorf("correlation ID = %q, want 32 lowercase hex chars", cid)
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	origTP := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(origTP) })

	ctx, span := StartSpan(context.Background(), "ingest.analyze")
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan did not create a span with a trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "ingest.analyze" {
		t.Fatalf("spans = %+v, want one named ingest.analyze", spans)
	}
	if got := spans[0].InstrumentationScope.Name; got != tracerName {
		t.Errorf("scope = %q, want %q", got, tracerName)
	}
}

func TestLogger_Attributes(t *testing.T) {
	tp, _ := newTestTracerProvider(t)

	tests := []struct {
		name    string
		span    bool
		session string
		want    []string
		absent  []string
	}{
		{name: "bare", absent: []string{"trace_id", "span_id", "session"}},
		{name: "span", span: true, want: []string{"trace_id=", "span_id="}, absent: []string{"session"}},
		{name: "session", session: "s-42", want: []string{"session=s-42"}, absent: []string{"trace_id"}},
		{name: "both", span: true, session: "s-7", want: []string{"trace_id=", "session=s-7"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			ctx := context.Background()
			if tt.span {
				var span trace.Span
				ctx, span = tp.Tracer("test").Start(ctx, "log")
				defer span.End()
			}
			if tt.session != "" {
				ctx = WithSession(ctx, tt.session)
			}

			Logger(ctx).Info("workspace edited")
			out := buf.String()
			for _, w := range tt.want {
				if !strings.Contains(out, w) {
					t.Errorf("log %q lacks %q", out, w)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(out, a) {
					t.Errorf("log %q should not contain %q", out, a)
				}
			}
		})
	}
}

func TestSessionID(t *testing.T) {
	t.Parallel()
	if got := SessionID(context.Background()); got != "" {
		t.Errorf("SessionID(background) = %q", got)
	}
	if got := SessionID(WithSession(context.Background(), "abc")); got != "abc" {
		t.Errorf("SessionID = %q, want abc", got)
	}
}

func TestEndSpan_RecordsError(t *testing.T) {
	tp, exp := newTestTracerProvider(t)
	tracer := tp.Tracer("test")

	_, ok := tracer.Start(context.Background(), "ok-op")
	EndSpan(ok, nil)
	_, failed := tracer.Start(context.Background(), "failed-op")
	EndSpan(failed, errors.New("step meeting: boom"))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Unset {
		t.Errorf("ok span status = %v", spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error || len(spans[1].Events) == 0 {
		t.Errorf("failed span status = %v, events = %d", spans[1].Status.Code, len(spans[1].Events))
	}
}
