package middleware

import (
	"fmt"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Default tracer name for the HTTP endpoints.
const defaultTracerName = "uisync/http"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "uisync/http").
	TracerName string

	// TracerProvider supplies the tracer. Defaults to the global provider.
	TracerProvider trace.TracerProvider

	// Propagator extracts the remote span context from request headers.
	// Defaults to the global text map propagator.
	Propagator propagation.TextMapPropagator

	// Filter determines which requests to trace.
	// Return true to trace the request, false to skip.
	// If nil, all requests are traced.
	Filter func(r *http.Request) bool

	// AttributeExtractor extracts custom attributes from the request.
	AttributeExtractor func(r *http.Request) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithPropagator sets the propagator used for incoming requests.
func WithPropagator(p propagation.TextMapPropagator) OTelOption {
	return func(c *OTelConfig) {
		c.Propagator = p
	}
}

// WithRequestFilter sets a filter function for requests.
func WithRequestFilter(filter func(r *http.Request) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(r *http.Request) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{TracerName: defaultTracerName}
}

// Tracing creates middleware that opens a server span for every request.
// The span context is stored in the request context, so the dispatcher's
// per-invocation spans become its children.
//
// The tracer uses the global OpenTelemetry tracer provider unless one is
// given. Configure it in main() before starting the server:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func Tracing(opts ...OTelOption) func(http.Handler) http.Handler {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}
	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(config.TracerName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Filter != nil && !config.Filter(r) {
				next.ServeHTTP(w, r)
				return
			}

			prop := config.Propagator
			if prop == nil {
				prop = otel.GetTextMapPropagator()
			}
			ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			attrs := []attribute.KeyValue{
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(r)...)
			}

			ctx, span := tracer.Start(ctx, formatSpanName(r),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			if route := routePattern(r); route != "unmatched" {
				span.SetAttributes(attribute.String("http.route", route))
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

// SpanFromRequest returns the span opened for r, or a no-op span.
func SpanFromRequest(r *http.Request) trace.Span {
	return trace.SpanFromContext(r.Context())
}

func formatSpanName(r *http.Request) string {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	return fmt.Sprintf("uisync %s %s", r.Method, path)
}
