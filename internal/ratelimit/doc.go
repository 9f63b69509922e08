// Package ratelimit is per-client-IP token bucket rate limiting for the edge
// server, backed by golang.org/x/time/rate.
//
// State is in memory and per instance. It bounds what a single address can
// push through to the upstream; distributed floods need limiting in front of
// the service.
package ratelimit
