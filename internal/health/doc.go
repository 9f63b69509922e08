// Package health provides composable probes and the HTTP handlers that
// expose them as liveness and readiness endpoints.
//
// [ShutdownGate] fails readiness as soon as draining starts so load
// balancers stop routing new requests before the listener closes.
package health
