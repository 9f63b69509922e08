package httpmw

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/keithlinneman/headerguard/internal/log"
	"github.com/keithlinneman/headerguard/internal/xerrors"
)

// Recover turns a handler panic into a 500, logs it with the stack and calls
// onPanic (e.g. a metrics counter) if set. http.ErrAbortHandler is re-raised
// so the server can abort the connection as intended.
func Recover(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	if L == nil {
		L = log.Nop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				if onPanic != nil {
					onPanic()
				}

				err, ok := rec.(error)
				if !ok {
					err = fmt.Errorf("%v", rec)
				}
				L.With(
					"http.request.method", r.Method,
					"url.path", r.URL.Path,
					"request_id", RequestIDFromContext(r.Context()),
				).Error(r.Context(), xerrors.Wrap(err, "panic"), "httpserver panic recovered",
					"stack", string(debug.Stack()),
				)

				PlainError(w, "", http.StatusInternalServerError)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
