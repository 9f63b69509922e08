// Package httpmw provides the HTTP middleware shared by the edge and admin
// servers: panic recovery, request IDs, client IP extraction, request-scoped
// logging, access logs, trace response headers and body limits.
//
// Header policy enforcement lives in package headerpolicy; httpserver places
// it directly inside Recover so every response, including rate limited and
// proxied ones, carries the policy headers.
//
// Query strings, user agents and other client supplied headers are kept out
// of log lines.
package httpmw
