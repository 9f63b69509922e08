package httpserver

import (
	"net/http"
	"net/url"

	"github.com/keithlinneman/headerguard/internal/headerpolicy"
	"github.com/keithlinneman/headerguard/internal/health"
	"github.com/keithlinneman/headerguard/internal/httpmw"
	"github.com/keithlinneman/headerguard/internal/log"
)

type Options struct {
	Logger log.Logger
	Port   int

	// Provider supplies the header policy, read on every request.
	Provider       headerpolicy.Provider
	PolicyObserver headerpolicy.Observer

	// Upstream is the application requests are forwarded to. Without one,
	// only the probe routes answer and everything else is 404.
	Upstream *url.URL
	// UpstreamTransport defaults to an otelhttp-instrumented http.DefaultTransport.
	UpstreamTransport http.RoundTripper

	Health    health.Probe
	Readiness health.Probe

	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions

	// MaxBodyBytes caps request bodies; 0 uses DefaultMaxBodyBytes, < 0 disables.
	MaxBodyBytes int64
}
