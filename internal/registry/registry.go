// Package registry is the authoritative host table: the sole owner of host
// records. Every other component (buckets, protocol handlers) refers to
// hosts by ID and never retains a record past a mutation.
//
// The registry is not safe for concurrent use — by design, every call into
// it happens from the single event-loop goroutine (design note in the
// daemon package). There is no internal locking.
package registry

import (
	"log/slog"

	"github.com/pilot-net/nopingd/internal/types"
)

// Result is the outcome of a registry mutation, surfaced to the control
// protocol layer: Ok as "OK", ProbeAddFailure as "failed", and every other
// value as a specific ERROR line.
type Result int

const (
	Ok Result = iota
	DuplicateId
	DuplicateRequest
	NoSuchServer
	AlreadyDefunct
	ProbeAddFailure
)

func (r Result) String() string {
	switch r {
	case Ok:
		return "OK"
	case DuplicateId:
		return "DUPLICATE ID"
	case DuplicateRequest:
		return "DUPLICATE REQUEST"
	case NoSuchServer:
		return "NO SERVER"
	case AlreadyDefunct:
		return "ALREADY DEFUNCT"
	case ProbeAddFailure:
		return "PROBE ADD FAILURE"
	default:
		return "UNKNOWN"
	}
}

// BucketAdopter is the subset of Probe Bucket behavior the registry needs:
// incremental adoption of a single host, and marking a bucket dirty so it's
// rebuilt from scratch at its next tick.
type BucketAdopter interface {
	Adopt(host *types.Host) bool
	MarkDirty()
}

// Registry owns every known Host by ID and knows how to reach the three
// buckets in order to request adoption or mark one dirty on mutation.
type Registry struct {
	hosts   map[uint64]*types.Host
	buckets map[types.BucketClass]BucketAdopter
	logger  *slog.Logger
}

// New returns an empty Registry. buckets must contain an entry for each of
// BucketUntested, BucketActive, BucketDefunct before Add/MarkDefunct are
// called.
func New(buckets map[types.BucketClass]BucketAdopter, logger *slog.Logger) *Registry {
	return &Registry{
		hosts:   make(map[uint64]*types.Host),
		buckets: buckets,
		logger:  logger,
	}
}

// Add creates a new UNTESTED host, or reports why an existing id blocks
// creation.
func (r *Registry) Add(id uint64, name string) Result {
	if existing, ok := r.hosts[id]; ok {
		if existing.Name != name {
			return DuplicateId
		}
		return DuplicateRequest
	}

	host := &types.Host{ID: id, Name: name, Status: types.StatusUntested}
	bucket := r.buckets[types.BucketUntested]
	if !bucket.Adopt(host) {
		r.logger.Warn("probe-add failed for new host", "host_id", id, "name", name)
		return ProbeAddFailure
	}

	r.hosts[id] = host
	r.logger.Info("host added", "host_id", id, "name", name)
	return Ok
}

// Remove deletes a host record, marking the bucket that held it dirty so
// the stale opaque context is dropped at that bucket's next rebuild.
func (r *Registry) Remove(id uint64) Result {
	host, ok := r.hosts[id]
	if !ok {
		return NoSuchServer
	}

	bucket := r.buckets[types.BucketOf(host.Status)]
	bucket.MarkDirty()
	delete(r.hosts, id)
	r.logger.Info("host removed", "host_id", id, "name", host.Name)
	return Ok
}

// MarkDefunct forces a host straight to DEFUNCT, as if it had just failed a
// probe in its prior bucket, without waiting for the next tick.
func (r *Registry) MarkDefunct(id uint64) Result {
	host, ok := r.hosts[id]
	if !ok {
		return NoSuchServer
	}
	if host.Status == types.StatusDefunct {
		return AlreadyDefunct
	}

	oldStatus := host.Status
	sourceBucket := r.buckets[types.BucketOf(oldStatus)]

	host.Status = types.StatusDefunct
	result := Ok
	if !r.buckets[types.BucketDefunct].Adopt(host) {
		r.logger.Warn("probe-add failed marking host defunct", "host_id", id)
		result = ProbeAddFailure
	}

	// The source bucket is always marked dirty so it reconciles
	// membership at its next rebuild, regardless of whether adoption by
	// the defunct bucket succeeded.
	sourceBucket.MarkDirty()

	r.logger.Info("host marked defunct", "host_id", id, "name", host.Name, "from_status", oldStatus.String())
	return result
}

// Get returns the host record for id, if present. The returned pointer must
// not be retained past the current event-loop iteration.
func (r *Registry) Get(id uint64) (*types.Host, bool) {
	h, ok := r.hosts[id]
	return h, ok
}

// Each calls fn for every host currently in the registry. fn must not mutate
// the map (add/remove); it may read or write Status in place.
func (r *Registry) Each(fn func(*types.Host)) {
	for _, h := range r.hosts {
		fn(h)
	}
}

// Len returns the number of hosts currently registered.
func (r *Registry) Len() int {
	return len(r.hosts)
}

// CountByStatus returns a snapshot of host counts per status, used by the
// STATUS control command and the HTTP status endpoint.
func (r *Registry) CountByStatus() map[types.Status]int {
	counts := make(map[types.Status]int)
	for _, h := range r.hosts {
		counts[h.Status]++
	}
	return counts
}
