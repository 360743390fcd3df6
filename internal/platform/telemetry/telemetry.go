// Package telemetry wires Prometheus metrics and OpenTelemetry tracing for
// the workstation service. All recording methods are safe on a nil *Metrics
// so components can run without instrumentation in tests.
package telemetry

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ehr/clinicdesk"

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	httpRequests          *prometheus.CounterVec
	httpDuration          *prometheus.HistogramVec
	submissions           *prometheus.CounterVec
	subResourceCalls      *prometheus.CounterVec
	referenceLoads        *prometheus.CounterVec
	referenceLoadDuration prometheus.Histogram
	draftSaves            *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicdesk_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status_code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "clinicdesk_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicdesk_encounter_submissions_total",
			Help: "Encounter submissions by outcome status",
		}, []string{"status"}),
		subResourceCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicdesk_subresource_calls_total",
			Help: "Sub-resource creation calls made during submission",
		}, []string{"resource", "result"}),
		referenceLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicdesk_reference_loads_total",
			Help: "Reference data loads by result",
		}, []string{"result"}),
		referenceLoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clinicdesk_reference_load_duration_seconds",
			Help:    "Duration of the aggregate reference data load",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		draftSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinicdesk_draft_writes_total",
			Help: "Debounced draft writes by kind (save or clear)",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.httpRequests, m.httpDuration, m.submissions, m.subResourceCalls,
		m.referenceLoads, m.referenceLoadDuration, m.draftSaves,
	)
	return m
}

// Handler exposes the gathered metrics in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveSubmission(status string) {
	if m == nil {
		return
	}
	m.submissions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSubResource(resource string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.subResourceCalls.WithLabelValues(resource, result).Inc()
}

func (m *Metrics) ObserveReferenceLoad(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.referenceLoads.WithLabelValues(result).Inc()
	m.referenceLoadDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveDraftWrite(kind string) {
	if m == nil {
		return
	}
	m.draftSaves.WithLabelValues(kind).Inc()
}

// Middleware records request counts and latencies by route pattern.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			m.httpRequests.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// StartSpan starts a span on the service tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span (if any) and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// TracingMiddleware starts a server span for every request, named after the
// route pattern.
func TracingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = req.URL.Path
			}
			ctx, span := Tracer().Start(req.Context(), "HTTP "+req.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", route),
				),
			)
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}
			return err
		}
	}
}
