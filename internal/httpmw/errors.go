package httpmw

import (
	"fmt"
	"net/http"
)

// PlainError writes a text/plain error response. Unlike http.Error it does
// not add X-Content-Type-Options; that header belongs to the header policy.
// An empty msg uses the status text.
func PlainError(w http.ResponseWriter, msg string, code int) {
	if msg == "" {
		msg = http.StatusText(code)
	}
	h := w.Header()
	h.Del("Content-Length")
	h.Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	_, _ = fmt.Fprintln(w, msg)
}

// NotFound and MethodNotAllowed are router fallbacks built on PlainError.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	PlainError(w, "", http.StatusNotFound)
}

func MethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	PlainError(w, "", http.StatusMethodNotAllowed)
}
