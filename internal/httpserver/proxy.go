package httpserver

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/headerguard/internal/headerpolicy"
	"github.com/keithlinneman/headerguard/internal/httpmw"
	"github.com/keithlinneman/headerguard/internal/log"
)

// newUpstreamProxy forwards to target. Policy headers from the upstream are
// dropped so the values set at the edge are the only ones the client sees.
func newUpstreamProxy(target *url.URL, transport http.RoundTripper) *httputil.ReverseProxy {
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
		},
		Transport: transport,
		ModifyResponse: func(resp *http.Response) error {
			resp.Header.Del(headerpolicy.HeaderFrameOptions)
			resp.Header.Del(headerpolicy.HeaderContentTypeOptions)
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			ctx := r.Context()
			if errors.Is(err, ctx.Err()) {
				// client went away; nothing useful to send
				w.WriteHeader(499)
				return
			}
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				log.FromContext(ctx).Debug(ctx, "request body over limit", "limit", mbe.Limit)
				httpmw.PlainError(w, "", http.StatusRequestEntityTooLarge)
				return
			}
			log.FromContext(ctx).Error(ctx, err, "upstream request failed", "upstream", target.Host)
			httpmw.PlainError(w, "", http.StatusBadGateway)
		},
	}
}
