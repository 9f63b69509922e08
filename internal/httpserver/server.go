package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/headerguard/internal/headerpolicy"
	"github.com/keithlinneman/headerguard/internal/health"
	"github.com/keithlinneman/headerguard/internal/httpmw"
	"github.com/keithlinneman/headerguard/internal/log"
	"github.com/keithlinneman/headerguard/internal/xerrors"
)

const (
	DefaultPort         = 8080
	DefaultMaxBodyBytes = 10 << 20

	pathHealthy = "/-/healthy"
	pathReady   = "/-/ready"
)

// NewHandler builds the edge handler: probes, the upstream proxy and the
// middleware stack with the header policy applied to every response.
// main() owns *http.Server so it can do graceful shutdown.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	maxBody := opts.MaxBodyBytes
	if maxBody == 0 {
		maxBody = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.Compress(5,
		"text/html",
		"text/css",
		"text/plain",
		"application/javascript",
		"application/json",
		"image/svg+xml",
	))
	r.Use(httpmw.AccessLog(httpmw.AccessLogOptions{SkipPaths: []string{pathHealthy, pathReady}}))
	r.Use(httpmw.MaxBody(maxBody))
	r.NotFound(httpmw.NotFound)
	r.MethodNotAllowed(httpmw.MethodNotAllowed)

	r.Get(pathHealthy, health.HealthzHandler(opts.Health))
	r.Get(pathReady, health.ReadyzHandler(opts.Readiness))

	if opts.Upstream != nil {
		r.Handle("/*", newUpstreamProxy(opts.Upstream, opts.UpstreamTransport))
	}

	// outermost first
	return httpmw.Chain(r,
		recoverMW(opts),
		policyMW(opts),
		httpmw.RequestID(httpmw.DefaultRequestIDHeader),
		httpmw.ClientIPWithOptions(opts.ClientIPOpts),
		opts.RateLimitMW,
		tracingMW,
		httpmw.TraceResponseHeaders("", ""),
		opts.MetricsMW,
		httpmw.WithLogger(opts.Logger),
	)
}

func recoverMW(opts Options) func(http.Handler) http.Handler {
	if !opts.UseRecoverMW {
		return nil
	}
	return httpmw.Recover(opts.Logger, opts.OnPanic)
}

// policyMW sits just inside Recover so 429s, 404s, proxy errors and
// recovered panics all carry the policy headers.
func policyMW(opts Options) func(http.Handler) http.Handler {
	if opts.Provider == nil {
		return nil
	}
	popts := []headerpolicy.Option{headerpolicy.WithLogger(opts.Logger)}
	if opts.PolicyObserver != nil {
		popts = append(popts, headerpolicy.WithObserver(opts.PolicyObserver))
	}
	return headerpolicy.Middleware(opts.Provider, popts...)
}

func tracingMW(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "http.server",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != pathHealthy && r.URL.Path != pathReady
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			// AccessLog renames the span to the route pattern once it is known
			return r.Method
		}),
		otelhttp.WithPublicEndpointFn(func(*http.Request) bool { return true }),
	)
}

// Server timeout defaults.
const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 60 * time.Second
	DefaultIdleTimeout       = 90 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20
)

func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}
}

// Start listens on opts.Port and serves NewHandler(opts) in the background.
// It returns an idempotent stop(ctx) for graceful shutdown.
func Start(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	port := opts.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := fmt.Sprintf(":%d", port)

	srv := NewServer(addr, NewHandler(opts))
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "listen %s", addr)
	}

	L := opts.Logger
	go func() {
		L.Info(ctx, "http server listening", "addr", addr, "upstream", upstreamString(opts))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			L.Error(ctx, err, "http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "http server shutting down")
			c, cancel := context.WithTimeout(sctx, 10*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}

func upstreamString(opts Options) string {
	if opts.Upstream == nil {
		return ""
	}
	return opts.Upstream.Redacted()
}
