package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psantana5/shotread/pkg/auth"
	"github.com/psantana5/shotread/pkg/metrics"
	"github.com/psantana5/shotread/pkg/ratelimit"
	"github.com/psantana5/shotread/pkg/tracing"
)

// RouterOptions wires the optional middleware. Nil fields are skipped.
type RouterOptions struct {
	Gatherer prometheus.Gatherer
	Metrics  *metrics.HTTPMetrics
	Limiter  *ratelimit.Limiter
	Tracer   *tracing.Provider
	Auth     *auth.APIKeyChecker
}

// openPaths are served without an API key
var openPaths = []string{"/health", "/metrics"}

// RouteName returns the matched route template, or the raw path when no
// route matched.
func RouteName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}

// NewRouter builds the control API router
func NewRouter(h *Handler, opts RouterOptions) *mux.Router {
	r := mux.NewRouter()
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	h.RegisterRoutes(r)

	if opts.Limiter != nil {
		r.Use(mux.MiddlewareFunc(opts.Limiter.Middleware(ratelimit.IPKeyFunc)))
	}
	if opts.Auth != nil {
		r.Use(mux.MiddlewareFunc(opts.Auth.Middleware(openPaths...)))
	}
	if opts.Tracer != nil {
		r.Use(mux.MiddlewareFunc(tracing.HTTPMiddleware(opts.Tracer, RouteName)))
	}
	if opts.Metrics != nil {
		r.Use(mux.MiddlewareFunc(opts.Metrics.Middleware(RouteName)))
	}
	return r
}

// NewServer wraps a router in an http.Server with conservative timeouts
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
