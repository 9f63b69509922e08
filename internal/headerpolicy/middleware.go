package headerpolicy

import (
	"io"
	"net/http"

	"github.com/keithlinneman/headerguard/internal/log"
)

// Observer receives per-request outcomes, implemented by the metrics package.
type Observer interface {
	ObserveHeaderPolicy(frameOptions, contentTypeOptions bool)
	IncHeaderPolicyLookupError()
}

// ErrorHandler answers a request whose policy could not be resolved.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

type options struct {
	logger   log.Logger
	observer Observer
	onError  ErrorHandler
}

type Option func(*options)

// WithLogger sets the logger for lookup failures.
func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithErrorHandler replaces the default 500 response for lookup failures.
func WithErrorHandler(h ErrorHandler) Option {
	return func(o *options) { o.onError = h }
}

// defaultErrorHandler answers 500. http.Error is avoided because it adds
// X-Content-Type-Options on its own, and no policy was decided here.
func defaultErrorHandler(w http.ResponseWriter, _ *http.Request, _ error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	_, _ = io.WriteString(w, http.StatusText(http.StatusInternalServerError)+"\n")
}

// Middleware resolves the policy from p on every request, sets the headers,
// then calls next exactly once. If p fails the error is logged and handed to
// the error handler and next is not called.
func Middleware(p Provider, opts ...Option) func(http.Handler) http.Handler {
	o := options{logger: log.Nop(), onError: defaultErrorHandler}
	for _, fn := range opts {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = log.Nop()
	}
	if o.onError == nil {
		o.onError = defaultErrorHandler
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := Resolve(p)
			if err != nil {
				if o.observer != nil {
					o.observer.IncHeaderPolicyLookupError()
				}
				o.logger.Error(r.Context(), err, "header policy lookup failed",
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
				)
				o.onError(w, r, err)
				return
			}

			d.Apply(w.Header())
			if o.observer != nil {
				o.observer.ObserveHeaderPolicy(d.SetFrameOptions, d.SetContentTypeOptions)
			}

			next.ServeHTTP(w, r)
		})
	}
}
