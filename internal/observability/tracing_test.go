package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/pitabwire/gridform/internal/config"
)

func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return exporter
}

// --- Setup ---

func TestInitTracing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TracingConfig
		wantErr bool
	}{
		{"disabled", config.TracingConfig{Enabled: false}, false},
		{"stdout", config.TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}, false},
		{"unsupported", config.TracingConfig{Enabled: true, Exporter: "zipkin"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := InitTracing(context.Background(), tt.cfg, "gridform-test", "1.0.0")
			if (err != nil) != tt.wantErr {
				t.Fatalf("InitTracing() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				if err := shutdown(context.Background()); err != nil {
					t.Errorf("shutdown() error = %v", err)
				}
			}
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		rate float64
		want string
	}{
		{0, "TraceIDRatioBased{0.1}"},
		{0.5, "TraceIDRatioBased{0.5}"},
		{1, "AlwaysOnSampler"},
		{7, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		desc := newSampler(config.TracingConfig{SamplingRate: tt.rate}).Description()
		if !strings.Contains(desc, tt.want) {
			t.Errorf("rate %v: Description() = %q, want it to contain %q", tt.rate, desc, tt.want)
		}
	}
}

// --- Spans ---

func TestStartSpan_attributesAndParent(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, parent := StartSpan(context.Background(), "item.request", AttrGridID.String("testfield"), AttrDepth.Int(1))
	_, child := StartSpan(ctx, "store.find", AttrOperation.String("find"))
	child.End()
	parent.End()

	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Parent.SpanID() != spans[1].SpanContext.SpanID() {
		t.Error("child span not parented to item.request")
	}
	found := false
	for _, a := range spans[1].Attributes {
		if a.Key == AttrGridID && a.Value.AsString() == "testfield" {
			found = true
		}
	}
	if !found {
		t.Errorf("grid attribute missing: %v", spans[1].Attributes)
	}
}

func TestEndSpanWithError(t *testing.T) {
	exporter := setupTestTracer(t)

	_, span := StartSpan(context.Background(), "failing")
	EndSpanWithError(span, errors.New("boom"))
	_, ok := StartSpan(context.Background(), "fine")
	EndSpanWithError(ok, nil)

	spans := exporter.GetSpans()
	if spans[0].Status.Code != codes.Error || spans[0].Status.Description != "boom" {
		t.Errorf("failing status = %+v", spans[0].Status)
	}
	if spans[1].Status.Code == codes.Error {
		t.Error("nil error marked span failed")
	}
}

func TestTraceAndSpanIDFromContext(t *testing.T) {
	setupTestTracer(t)
	if TraceIDFromContext(context.Background()) != "" || SpanIDFromContext(context.Background()) != "" {
		t.Error("IDs from empty context should be empty")
	}

	ctx, span := StartSpan(context.Background(), "x")
	defer span.End()
	if TraceIDFromContext(ctx) != span.SpanContext().TraceID().String() {
		t.Error("trace ID mismatch")
	}
	if SpanIDFromContext(ctx) != span.SpanContext().SpanID().String() {
		t.Error("span ID mismatch")
	}
}

// --- Middleware ---

func TestTracingMiddleware(t *testing.T) {
	exporter := setupTestTracer(t)

	var handlerTraceID string
	h := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerTraceID = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := httptest.NewRequest(http.MethodGet, "/admin/testfield", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if handlerTraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace ID = %q, want inbound trace continued", handlerTraceID)
	}
	if rec.Header().Get("traceparent") == "" {
		t.Error("response missing traceparent")
	}
	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name != "GET /admin/testfield" || spans[0].Status.Code != codes.Error {
		t.Errorf("span = %q status %v", spans[0].Name, spans[0].Status.Code)
	}
}
