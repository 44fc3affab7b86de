// Package daemon owns the single-threaded event loop that is the whole
// concurrency model of this program: one goroutine serializes every timer
// tick, every accepted connection, and every line read from a controller, so
// the registry and probe buckets are never touched from two places at once.
//
// Reader goroutines exist only to turn blocking socket reads into channel
// sends (see internal/protocol); they hold no daemon state and never call
// into the registry or buckets directly.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pilot-net/nopingd/internal/alertforward"
	"github.com/pilot-net/nopingd/internal/audit"
	"github.com/pilot-net/nopingd/internal/bucket"
	"github.com/pilot-net/nopingd/internal/fanout"
	"github.com/pilot-net/nopingd/internal/notifier"
	"github.com/pilot-net/nopingd/internal/pingset"
	"github.com/pilot-net/nopingd/internal/protocol"
	"github.com/pilot-net/nopingd/internal/registry"
	"github.com/pilot-net/nopingd/internal/selfstatus"
	"github.com/pilot-net/nopingd/internal/types"
)

// Periods holds the three bucket tick intervals. Untested and Active follow
// the published constants (chosen as near-primes to decorrelate ticks);
// Defunct is operator-tunable per the design note on the source's 10-second
// debug leftover — DefaultPeriods documents the formally specified ~5 hour
// value rather than reproducing that leftover.
type Periods struct {
	Untested time.Duration
	Active   time.Duration
	Defunct  time.Duration
}

// DefaultPeriods returns the published reference cadences.
func DefaultPeriods() Periods {
	return Periods{
		Untested: 30011 * time.Millisecond,
		Active:   5003 * time.Millisecond,
		Defunct:  18000041 * time.Millisecond,
	}
}

// probeTimeout is the per-batch probe-set timeout: 0.8x the active bucket
// period, used for every bucket's probe-set regardless of its own period.
func (p Periods) probeTimeout() time.Duration {
	return time.Duration(float64(p.Active) * 0.8)
}

// Daemon wires together the registry, the three probe buckets, the control
// listener, and the notifier, and runs the event loop that serializes all
// of their interaction.
type Daemon struct {
	logger     *slog.Logger
	periods    Periods
	registry   *registry.Registry
	buckets    map[types.BucketClass]*bucket.Bucket
	adopters   map[types.BucketClass]bucket.Adopter
	listener   *protocol.Listener
	notifier   *compositeNotifier
	conns      map[uuid.UUID]*protocol.Connection
	selfstatus *selfstatus.Collector
	audit      *audit.Writer
}

// Options holds the optional ambient components a Daemon can be wired with.
// Every field may be left nil/zero, in which case that concern is simply
// not exercised — Fanout and AlertForward skip publishing, Audit skips
// writing. None of them can fail a tick. Audit only enqueues; Fanout and
// AlertForward publish synchronously inside the tick that emits the
// NOPING, so a slow Redis server or webhook delays that tick.
type Options struct {
	Fanout       *fanout.Fanout
	AlertForward *alertforward.Forwarder
	Audit        *audit.Writer
}

// New constructs a Daemon. factory is consulted by every bucket to build
// fresh probe-sets on rebuild; it is normally a single *pingset.FpingFactory
// shared across all three so its rate limiter bounds total outbound probes,
// or a *pingset.MockFactory in tests. opts may be nil.
func New(logger *slog.Logger, listener *protocol.Listener, periods Periods, factory pingset.Factory, opts *Options) *Daemon {
	if opts == nil {
		opts = &Options{}
	}

	timeoutFn := func() time.Duration { return periods.probeTimeout() }

	buckets := map[types.BucketClass]*bucket.Bucket{
		types.BucketUntested: bucket.New(types.BucketUntested, factory, timeoutFn, logger),
		types.BucketActive:   bucket.New(types.BucketActive, factory, timeoutFn, logger),
		types.BucketDefunct:  bucket.New(types.BucketDefunct, factory, timeoutFn, logger),
	}

	adopters := make(map[types.BucketClass]bucket.Adopter, len(buckets))
	regAdopters := make(map[types.BucketClass]registry.BucketAdopter, len(buckets))
	for class, b := range buckets {
		adopters[class] = b
		regAdopters[class] = b
	}

	auditWriter := opts.Audit

	return &Daemon{
		logger:   logger.With("component", "daemon"),
		periods:  periods,
		registry: registry.New(regAdopters, logger),
		buckets:  buckets,
		adopters: adopters,
		listener: listener,
		notifier: &compositeNotifier{
			base:         notifier.New(logger),
			fanout:       opts.Fanout,
			alertforward: opts.AlertForward,
			audit:        auditWriter,
		},
		conns:      make(map[uuid.UUID]*protocol.Connection),
		selfstatus: selfstatus.NewCollector(),
		audit:      auditWriter,
	}
}

// compositeNotifier fans a single NOPING event out to every configured
// delivery path: the local control-socket controllers (canonical and
// always present), and optionally Redis Pub/Sub, a signed webhook, and the
// audit trail. Each leg is independently best-effort and nil-safe.
type compositeNotifier struct {
	base         *notifier.Notifier
	fanout       *fanout.Fanout
	alertforward *alertforward.Forwarder
	audit        *audit.Writer
}

func (n *compositeNotifier) Notify(hostID uint64, hostName string) {
	n.base.Notify(hostID, hostName)

	ctx := context.Background()
	n.fanout.Publish(ctx, hostID, hostName)
	n.alertforward.Forward(ctx, alertforward.Event{HostID: hostID, HostName: hostName, At: time.Now()})
	n.audit.Enqueue(audit.NewEvent(audit.EventNoping, hostID, hostName, nil))
}

func (n *compositeNotifier) Register(connID uuid.UUID, c notifier.Conn) { n.base.Register(connID, c) }
func (n *compositeNotifier) Unregister(connID uuid.UUID)                { n.base.Unregister(connID) }

// Run starts the listener's accept loop and drives the event loop until ctx
// is canceled or a controller sends !SHUTDOWN!. It returns nil on clean
// shutdown; the listener's socket file is removed before returning.
func (d *Daemon) Run(ctx context.Context) error {
	go d.listener.Serve()
	defer d.listener.Close()

	untestedTicker := time.NewTicker(d.periods.Untested)
	activeTicker := time.NewTicker(d.periods.Active)
	defunctTicker := time.NewTicker(d.periods.Defunct)
	defer untestedTicker.Stop()
	defer activeTicker.Stop()
	defer defunctTicker.Stop()

	d.logger.Info("event loop started",
		"untested_period", d.periods.Untested,
		"active_period", d.periods.Active,
		"defunct_period", d.periods.Defunct,
	)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down on context cancellation")
			d.teardownAllConnections()
			return nil

		case ev := <-d.listener.Events:
			if shutdown := d.handleEvent(ev); shutdown {
				d.logger.Info("shutting down on !SHUTDOWN! command")
				d.teardownAllConnections()
				return nil
			}

		case <-untestedTicker.C:
			d.tick(ctx, types.BucketUntested)

		case <-activeTicker.C:
			d.tick(ctx, types.BucketActive)

		case <-defunctTicker.C:
			d.tick(ctx, types.BucketDefunct)
		}
	}
}

// tick runs one bucket's probe round. A send failure ends this tick early
// with no state changes and no notifications — it never aborts the daemon.
func (d *Daemon) tick(ctx context.Context, class types.BucketClass) {
	tickCtx, cancel := context.WithTimeout(ctx, d.periods.probeTimeout())
	defer cancel()

	result, err := d.buckets[class].Tick(tickCtx, d.registry, d.adopters, d.notifier)
	if err != nil {
		d.logger.Error("tick failed", "bucket", class.String(), "error", err)
		return
	}
	if result.Probed > 0 {
		d.logger.Debug("tick complete", "bucket", class.String(), "probed", result.Probed, "anomalies", result.Anomalies)
	}
}

// handleEvent processes one accept/line/closed event from the listener. It
// returns true if the daemon should shut down.
func (d *Daemon) handleEvent(ev protocol.Event) bool {
	switch ev.Kind {
	case protocol.EventAccept:
		d.conns[ev.ConnID] = ev.Conn
		d.notifier.Register(ev.ConnID, ev.Conn)
		d.logger.Debug("controller connected", "conn_id", ev.ConnID)
		return false

	case protocol.EventClosed:
		d.closeConn(ev.ConnID)
		return false

	case protocol.EventLine:
		return d.handleLine(ev)

	default:
		return false
	}
}

func (d *Daemon) handleLine(ev protocol.Event) bool {
	conn, ok := d.conns[ev.ConnID]
	if !ok {
		return false
	}

	if ev.Overflow {
		_ = conn.WriteLine("ERROR " + ev.Line + "\n")
		return false
	}

	cmd := protocol.Parse(ev.Line)
	response, disconnect, shutdown := d.dispatch(cmd)
	_ = conn.WriteLine(response + "\n")

	if disconnect {
		_ = conn.Drain()
		d.closeConn(ev.ConnID)
	}
	return shutdown
}

func (d *Daemon) dispatch(cmd protocol.Command) (response string, disconnect bool, shutdown bool) {
	switch cmd.Kind {
	case protocol.KindAdd:
		result := d.registry.Add(cmd.HostID, cmd.HostName)
		if result == registry.Ok {
			d.audit.Enqueue(audit.NewEvent(audit.EventAdd, cmd.HostID, cmd.HostName, nil))
		}
		return resultResponse(result), false, false

	case protocol.KindRemove:
		hostName := d.hostName(cmd.HostID)
		result := d.registry.Remove(cmd.HostID)
		if result == registry.Ok {
			d.audit.Enqueue(audit.NewEvent(audit.EventRemove, cmd.HostID, hostName, nil))
		}
		return resultResponse(result), false, false

	case protocol.KindMarkDefunct:
		hostName := d.hostName(cmd.HostID)
		result := d.registry.MarkDefunct(cmd.HostID)
		if result == registry.Ok {
			d.audit.Enqueue(audit.NewEvent(audit.EventMarkDefunct, cmd.HostID, hostName, nil))
		}
		return resultResponse(result), false, false

	case protocol.KindStatus:
		return d.statusResponse(), false, false

	case protocol.KindQuit:
		return "DISCONNECTING", true, false

	case protocol.KindShutdown:
		return "SHUTTING DOWN", true, true

	default:
		return "ERROR " + cmd.Raw, false, false
	}
}

// Registry returns the daemon's host registry, for read-only consumers
// like internal/httpstatus. Callers must never mutate hosts through it
// outside the event loop.
func (d *Daemon) Registry() *registry.Registry {
	return d.registry
}

// SelfStatus returns the daemon's self-process metrics collector, for
// read-only consumers like internal/httpstatus.
func (d *Daemon) SelfStatus() *selfstatus.Collector {
	return d.selfstatus
}

func (d *Daemon) hostName(hostID uint64) string {
	if h, ok := d.registry.Get(hostID); ok {
		return h.Name
	}
	return ""
}

// statusResponse builds the one-line STATUS summary: host counts per
// status, total host count, daemon uptime, and self-process metrics. It
// never mutates registry or bucket state.
func (d *Daemon) statusResponse() string {
	counts := d.registry.CountByStatus()
	snap := d.selfstatus.Snapshot(context.Background())

	statuses := []types.Status{
		types.StatusUntested, types.StatusActive,
		types.StatusInactive1, types.StatusInactive2, types.StatusInactive3, types.StatusInactive4,
		types.StatusInactiveFlagged, types.StatusDefunct,
	}

	var b strings.Builder
	b.WriteString("STATUS")
	total := 0
	for _, s := range statuses {
		n := counts[s]
		total += n
		fmt.Fprintf(&b, " %s=%d", strings.ToLower(s.String()), n)
	}
	fmt.Fprintf(&b, " hosts=%d uptime=%ds cpu=%.1f%% mem=%s goroutines=%d",
		total, snap.UptimeSeconds, snap.CPUPercent, snap.MemoryRSSFormatted, snap.Goroutines)
	return b.String()
}

func resultResponse(r registry.Result) string {
	if r == registry.Ok {
		return "OK"
	}
	if r == registry.ProbeAddFailure {
		return "failed"
	}
	return fmt.Sprintf("ERROR %s", r.String())
}

func (d *Daemon) closeConn(connID uuid.UUID) {
	conn, ok := d.conns[connID]
	if !ok {
		return
	}
	conn.Close()
	delete(d.conns, connID)
	d.notifier.Unregister(connID)
}

func (d *Daemon) teardownAllConnections() {
	for id := range d.conns {
		d.closeConn(id)
	}
}
