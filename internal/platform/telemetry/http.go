package telemetry

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// HTTPMetrics records request counts and latencies per route and opens a
// server span for every request.
type HTTPMetrics struct {
	requests   metric.Int64Counter
	duration   metric.Float64Histogram
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

func NewHTTPMetrics(mp metric.MeterProvider, tp trace.TracerProvider, prop propagation.TextMapPropagator) (*HTTPMetrics, error) {
	meter := mp.Meter(InstrumentationName)

	requests, err := meter.Int64Counter(
		"http.server.request.count",
		metric.WithDescription("Number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"http.server.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &HTTPMetrics{
		requests:   requests,
		duration:   duration,
		tracer:     tp.Tracer(InstrumentationName),
		propagator: prop,
	}, nil
}

// Middleware labels by the echo route pattern, never the raw path, so IDs do
// not explode metric cardinality.
func (m *HTTPMetrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}

			ctx := m.propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := m.tracer.Start(ctx, req.Method+" "+route, trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)
			elapsed := time.Since(start)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			} else if err != nil {
				status = http.StatusInternalServerError
			}

			attrs := metric.WithAttributes(
				attribute.String("http.method", req.Method),
				attribute.String("http.route", route),
				attribute.Int("http.status_code", status),
			)
			m.requests.Add(ctx, 1, attrs)
			m.duration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)

			span.SetAttributes(
				attribute.String("http.route", route),
				attribute.Int("http.status_code", status),
			)
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
				if err != nil {
					span.RecordError(err)
				}
			}
			return err
		}
	}
}
