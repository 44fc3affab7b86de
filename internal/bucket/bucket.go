// Package bucket implements the Probe Bucket abstraction: a batch of hosts
// sharing one probe-set handle, rebuilt from registry membership whenever
// dirty, and ticked on its own cadence by the daemon's event loop.
package bucket

import (
	"context"
	"log/slog"
	"time"

	"github.com/pilot-net/nopingd/internal/pingset"
	"github.com/pilot-net/nopingd/internal/statemachine"
	"github.com/pilot-net/nopingd/internal/types"
)

// HostSource is the read access a bucket needs into the registry to rebuild
// its membership and resolve probe results. Satisfied by *registry.Registry
// without either package importing the other.
type HostSource interface {
	Each(fn func(*types.Host))
	Get(id uint64) (*types.Host, bool)
}

// Notifier is the narrow interface a bucket needs to emit NOPING messages.
// Satisfied by *notifier.Notifier.
type Notifier interface {
	Notify(hostID uint64, hostName string)
}

// Adopter is implemented by Bucket and consumed by the registry so it can
// request adoption/dirtying without importing this package back.
type Adopter interface {
	Adopt(host *types.Host) bool
	MarkDirty()
}

// Bucket is one of the three probe buckets (UNTESTED, ACTIVE, DEFUNCT).
type Bucket struct {
	class   types.BucketClass
	factory pingset.Factory
	timeout func() time.Duration
	logger  *slog.Logger

	// set is the current probe-set handle. The opaque context handed to
	// pingset for each host is the host ID itself, not a pointer to the
	// record, so results are resolved back to hosts through
	// HostSource.Get.
	set   pingset.Set
	dirty bool
}

// New returns an empty, clean Bucket for the given status class. timeout is
// called each time the bucket constructs a fresh probe-set, to obtain that
// set's per-batch timeout.
func New(class types.BucketClass, factory pingset.Factory, timeout func() time.Duration, logger *slog.Logger) *Bucket {
	return &Bucket{
		class:   class,
		factory: factory,
		timeout: timeout,
		logger:  logger.With("bucket", class.String()),
	}
}

// Adopt incrementally adds host to the bucket's probe-set, lazily
// constructing the handle if this is the first member.
func (b *Bucket) Adopt(host *types.Host) bool {
	if b.set == nil {
		b.set = b.factory.NewSet(b.timeout())
	}
	if err := b.set.AddHost(host.Name, host.ID); err != nil {
		b.logger.Warn("adopt failed", "host_id", host.ID, "name", host.Name, "error", err)
		return false
	}
	return true
}

// MarkDirty flags the bucket for a full rebuild at its next tick.
func (b *Bucket) MarkDirty() {
	b.dirty = true
}

// rebuild destroys the current handle and reconstructs it from the
// registry's current membership for this bucket's status class.
func (b *Bucket) rebuild(hosts HostSource) {
	if b.set != nil {
		b.set.Destroy()
		b.set = nil
	}
	hosts.Each(func(h *types.Host) {
		if types.BucketOf(h.Status) != b.class {
			return
		}
		b.Adopt(h)
	})
	b.dirty = false
}

// rebuildDefunctCopyForward implements the DEFUNCT bucket's "copy-forward"
// variant (spec §4.2.6): rather than re-scanning the whole registry, keep
// only the hosts that remained unreachable in the just-completed round.
func (b *Bucket) rebuildDefunctCopyForward(survivors []uint64, hosts HostSource) {
	if b.set != nil {
		b.set.Destroy()
		b.set = nil
	}
	if len(survivors) == 0 {
		b.dirty = false
		return
	}
	want := make(map[uint64]bool, len(survivors))
	for _, id := range survivors {
		want[id] = true
	}
	hosts.Each(func(h *types.Host) {
		if !want[h.ID] {
			return
		}
		b.Adopt(h)
	})
	b.dirty = false
}

// TickResult summarizes what a Tick call did, for logging/tests.
type TickResult struct {
	Probed    int
	Anomalies int
}

// Tick runs one probe round for this bucket: rebuild if dirty, send, apply
// the state machine to every result, mutate host records, and request
// cross-bucket adoption for hosts that moved.
func (b *Bucket) Tick(ctx context.Context, hosts HostSource, adopters map[types.BucketClass]Adopter, notifier Notifier) (TickResult, error) {
	if b.dirty {
		b.rebuild(hosts)
	}
	if b.set == nil || b.set.Empty() {
		return TickResult{}, nil
	}

	if err := b.set.Send(ctx); err != nil {
		return TickResult{}, err
	}

	results := b.set.Iterate()
	var survivors []uint64
	tr := TickResult{}

	for _, res := range results {
		hostID, ok := res.Context.(uint64)
		if !ok {
			continue
		}
		host, ok := hosts.Get(hostID)
		if !ok {
			// Host was removed between send and iterate; the bucket
			// that held it is already marked dirty by Remove and will
			// drop the stale entry at its next rebuild.
			continue
		}

		tr.Probed++
		transition := statemachine.Apply(host.Status, b.class, res.Alive())
		if transition.Anomaly {
			tr.Anomalies++
			b.logger.Warn("anomalous probe result for host's bucket",
				"host_id", host.ID, "status", host.Status.String())
		}

		oldStatus := host.Status
		host.Status = transition.NewStatus

		if transition.NewStatus == types.StatusDefunct && b.class == types.BucketDefunct {
			survivors = append(survivors, host.ID)
		}

		if types.BucketOf(transition.NewStatus) != b.class {
			if adopter, ok := adopters[types.BucketOf(transition.NewStatus)]; ok {
				adopter.Adopt(host)
			}
			b.MarkDirty()
			b.logger.Debug("host changed bucket",
				"host_id", host.ID, "from_status", oldStatus.String(), "to_status", transition.NewStatus.String())
		}

		if transition.Notify {
			notifier.Notify(host.ID, host.Name)
		}
	}

	// UNTESTED bucket: unconditionally empty after every tick regardless
	// of dirty state, per spec §4.2.5 — every result triggers a
	// transition out of UNTESTED, so nothing should remain, but the
	// handle is destroyed either way.
	if b.class == types.BucketUntested {
		b.set.Destroy()
		b.set = nil
		b.dirty = false
	} else if b.class == types.BucketDefunct {
		b.rebuildDefunctCopyForward(survivors, hosts)
	}

	return tr, nil
}
