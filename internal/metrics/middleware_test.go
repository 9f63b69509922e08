package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

func TestStatusWriter(t *testing.T) {
	tests := []struct {
		name       string
		write      func(w http.ResponseWriter)
		wantStatus int
		wantBytes  int
	}{
		{"explicit header", func(w http.ResponseWriter) { w.WriteHeader(http.StatusNotFound) }, 404, 0},
		{"implicit 200", func(w http.ResponseWriter) { w.Write([]byte("hello")) }, 200, 5},
		{"header then body", func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte("ab"))
			w.Write([]byte("cde"))
		}, 201, 5},
		{"late header ignored", func(w http.ResponseWriter) {
			w.Write([]byte("x"))
			w.WriteHeader(http.StatusInternalServerError)
		}, 200, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			sw := &statusWriter{ResponseWriter: rec, status: http.StatusOK}
			tt.write(sw)
			if sw.status != tt.wantStatus {
				t.Fatalf("status = %d, want %d", sw.status, tt.wantStatus)
			}
			if sw.n != tt.wantBytes {
				t.Fatalf("bytes = %d, want %d", sw.n, tt.wantBytes)
			}
		})
	}
}

func TestStatusWriter_UnwrapAllowsFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := &statusWriter{ResponseWriter: rec}
	if err := http.NewResponseController(sw).Flush(); err != nil {
		t.Fatalf("Flush through statusWriter: %v", err)
	}
	if !rec.Flushed {
		t.Fatal("underlying recorder was not flushed")
	}
}

func TestMiddleware_Labels(t *testing.T) {
	m := New()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/some/random/path", http.NoBody))

	labels := firstLabels(t, m, "http_requests_total")
	if labels["method"] != http.MethodPost || labels["status"] != "404" || labels["route"] != "unmatched" {
		t.Fatalf("labels = %v", labels)
	}
}

func TestMiddleware_ChiRoutePattern(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {})
	r.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/-/ready", http.NoBody))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/app/users/42", http.NoBody))

	f := gatherMetric(t, m.reg, "http_requests_total")
	routes := map[string]bool{}
	for _, metric := range f.GetMetric() {
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == "route" {
				routes[lp.GetValue()] = true
			}
		}
	}
	if !routes["/-/ready"] || !routes["/*"] || len(routes) != 2 {
		t.Fatalf("routes = %v, want /-/ready and /*", routes)
	}
}

func TestMiddleware_ErrorCounter(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusOK, false},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		m := New()
		handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
		}))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

		f := gatherMetric(t, m.reg, "http_errors_total")
		if got := f != nil; got != tt.want {
			t.Errorf("status %d: http_errors_total present = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestMiddleware_InflightDuration(t *testing.T) {
	m := New()
	var during float64
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		during = gatherMetric(t, m.reg, "http_inflight_requests").GetMetric()[0].GetGauge().GetValue()
		w.Write([]byte("hello world"))
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))

	if during != 1 {
		t.Fatalf("inflight during request = %f, want 1", during)
	}
	if after := gatherMetric(t, m.reg, "http_inflight_requests").GetMetric()[0].GetGauge().GetValue(); after != 0 {
		t.Fatalf("inflight after request = %f, want 0", after)
	}
	if n := histogramCount(t, m.reg, "http_request_duration_seconds"); n != 1 {
		t.Fatalf("duration samples = %d, want 1", n)
	}
	if sum := gatherMetric(t, m.reg, "http_response_size_bytes").GetMetric()[0].GetHistogram().GetSampleSum(); sum != 11 {
		t.Fatalf("response size sum = %f, want 11", sum)
	}
}

func TestMiddleware_CreatesRouteContext(t *testing.T) {
	m := New()
	var ok bool
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok = chi.RouteContext(r.Context()) != nil
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if !ok {
		t.Fatal("middleware should inject chi route context when missing")
	}
}

func TestTraceExemplar(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	withFlags := func(f trace.TraceFlags) context.Context {
		return trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
			TraceID: traceID, SpanID: spanID, TraceFlags: f,
		}))
	}

	if got := traceExemplar(withFlags(trace.FlagsSampled)); got["trace_id"] != "0102030405060708090a0b0c0d0e0f10" {
		t.Fatalf("sampled exemplar = %v", got)
	}
	if got := traceExemplar(withFlags(0)); got != nil {
		t.Fatalf("unsampled trace produced exemplar %v", got)
	}
	if got := traceExemplar(context.Background()); got != nil {
		t.Fatalf("no trace produced exemplar %v", got)
	}
}
