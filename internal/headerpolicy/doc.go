// Package headerpolicy sets the anti-clickjacking and anti-MIME-sniffing
// response headers (X-Frame-Options, X-Content-Type-Options) according to
// configuration that is looked up on every request.
//
// Three properties drive it:
//
//	shouldSetPolicy              emit X-Frame-Options (default true)
//	policy                       X-Frame-Options value (default SAMEORIGIN)
//	xContentTypeShouldSetPolicy  emit X-Content-Type-Options: nosniff (default true)
//
// Values are never cached, so changing a property takes effect on the next
// request. The policy value is written verbatim; DENY, SAMEORIGIN and
// ALLOW-FROM <uri> are conventional but nothing is enforced.
package headerpolicy
