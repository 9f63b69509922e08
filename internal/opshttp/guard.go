package opshttp

import (
	"net/http"
	"net/netip"

	"github.com/keithlinneman/headerguard/internal/log"
)

// requireNonPublicNetwork rejects requests that arrived through a proxy or
// from a public address. The admin port exposes runtime property writes, so
// only loopback, private and link-local peers get through.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-For") != "" || r.Header.Get("Forwarded") != "" {
			L.Warn(r.Context(), "ops request rejected: forwarded", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		ap, err := netip.ParseAddrPort(r.RemoteAddr)
		if err != nil {
			L.Warn(r.Context(), "ops request rejected: bad remote addr", "remote_addr", r.RemoteAddr, "error", err)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		if !nonPublic(ap.Addr().Unmap()) {
			L.Warn(r.Context(), "ops request rejected: public address", "remote_addr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func nonPublic(a netip.Addr) bool {
	return a.IsLoopback() || a.IsPrivate() || a.IsLinkLocalUnicast()
}
