// Package middleware provides observability for a uisync server.
//
// # Prometheus Metrics
//
// Metrics implements server.Observer and records session, invocation,
// push and upload events. Its HTTP method wraps the protocol endpoints and
// records request counts and durations labelled by route pattern.
//
//	m := middleware.NewMetrics(middleware.WithNamespace("myapp"))
//	srv.SetObserver(m)
//	srv.Use(m.HTTP)
//	srv.Handle("/metrics", m.Handler())
//
// # OpenTelemetry
//
// Tracing opens a server span per request, continuing any trace carried by
// the request headers. Invocation spans started by the dispatcher become
// its children.
//
//	srv.Use(middleware.Tracing(
//	    middleware.WithTracerName("myapp"),
//	    middleware.WithRequestFilter(func(r *http.Request) bool {
//	        return r.URL.Path != "/metrics"
//	    }),
//	))
package middleware
