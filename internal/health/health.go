// Package health reports liveness and readiness, adapted from api-gateway's
// health check: liveness is unconditional once the process is up; readiness
// there polled a gRPC peer's connectivity, but kissvdb has no RPC dependency,
// so readiness instead tracks whether startup recovery (snapshot load, WAL
// replay, vector manager open) has finished.
package health

import "sync/atomic"

// Checker tracks whether the server has finished recovering and is safe to
// accept traffic.
type Checker struct {
	ready atomic.Bool
}

func New() *Checker {
	return &Checker{}
}

// MarkReady flips the checker to ready. Called once, at the end of the
// bootstrap sequence in cmd/kissvdb.
func (c *Checker) MarkReady() {
	c.ready.Store(true)
}

// IsReady reports the checker's current state.
func (c *Checker) IsReady() bool {
	return c.ready.Load()
}

// LivenessResponse is the /healthz body: always healthy once the process can
// answer HTTP requests at all.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse is the /readyz body.
type ReadinessResponse struct {
	Status string `json:"status"`
}
