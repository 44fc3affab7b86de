// Package pingset models the ICMP probe library boundary described in the
// design: construct a batch handle, add hosts to it with an opaque per-host
// context, send the batch, iterate per-host results, destroy the handle.
//
// The daemon never talks to raw sockets directly — send/receive mechanics are
// someone else's problem (fping underneath, or a test double). This package
// only defines the shape of that boundary and the one production
// implementation we ship.
package pingset

import (
	"context"
	"time"
)

// Result is what Iterate yields for a single host: the opaque context handed
// to AddHost, and the measured latency. A negative latency means the host
// timed out or was otherwise unreachable for this round.
type Result struct {
	Context any
	// LatencyMs is round-trip time in milliseconds. Negative means
	// unreachable/timeout.
	LatencyMs float64
}

// Alive reports whether the result represents a live host (latency >= 0).
func (r Result) Alive() bool {
	return r.LatencyMs >= 0
}

// Set is a single batch handle: a probe-set in spec terms. Hosts are added
// incrementally; Send probes everything added so far in one round; Iterate
// yields the per-host outcomes of the most recent Send.
type Set interface {
	// AddHost adds a single host to the set, associating it with ctx (the
	// opaque context the caller will get back from Iterate). Returns an
	// error if the underlying probe library rejects the host (bad name,
	// resource exhaustion, etc).
	AddHost(name string, ctx any) error

	// Send issues one batched probe round against every host added so far.
	Send(ctx context.Context) error

	// Iterate returns the outcome of the most recent Send, one Result per
	// host currently in the set.
	Iterate() []Result

	// Destroy releases any resources held by the set. A destroyed set must
	// not be reused.
	Destroy()

	// Empty reports whether the set currently has zero hosts.
	Empty() bool
}

// Factory constructs a fresh Set, configured with the given per-batch
// timeout (spec: timeout = 0.8 x active bucket period).
type Factory interface {
	NewSet(timeout time.Duration) Set
}
