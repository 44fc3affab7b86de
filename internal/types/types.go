// Package types holds the core domain vocabulary shared by the registry,
// buckets, and state machine: hosts, their status, and the bucket each
// status belongs to.
package types

import "fmt"

// Status is the fine-grained liveness status tracked per host. Only
// BucketOf(status) is visible to the scheduler; the finer gradations exist
// so the state machine can distinguish "just failed once" from "has failed
// three checks in a row" before a host is flagged.
type Status int

const (
	// StatusUntested is assigned to a host the moment it's registered,
	// before its first probe round completes.
	StatusUntested Status = iota
	// StatusActive means the host answered its most recent probe.
	StatusActive
	// StatusInactive1 through StatusInactive4 count consecutive failed
	// probes while the host is still in the active bucket.
	StatusInactive1
	StatusInactive2
	StatusInactive3
	StatusInactive4
	// StatusInactiveFlagged means the host has failed enough consecutive
	// probes (escalating from StatusInactive3, or StatusInactive4) to be
	// reported via a NOPING notification. It stays in the active bucket;
	// further failures are silent until it answers again.
	StatusInactiveFlagged
	// StatusDefunct is a host in the defunct bucket: unreachable, probed
	// on the slow cadence, reclassified to Active the moment it answers.
	StatusDefunct
)

func (s Status) String() string {
	switch s {
	case StatusUntested:
		return "UNTESTED"
	case StatusActive:
		return "ACTIVE"
	case StatusInactive1:
		return "INACTIVE_1"
	case StatusInactive2:
		return "INACTIVE_2"
	case StatusInactive3:
		return "INACTIVE_3"
	case StatusInactive4:
		return "INACTIVE_4"
	case StatusInactiveFlagged:
		return "INACTIVE_FLAGGED"
	case StatusDefunct:
		return "DEFUNCT"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

// BucketClass identifies which of the three probe buckets a host belongs
// to. Only BucketClass, never Status, determines which ticker drives a
// host's next probe.
type BucketClass int

const (
	BucketUntested BucketClass = iota
	BucketActive
	BucketDefunct
)

func (b BucketClass) String() string {
	switch b {
	case BucketUntested:
		return "untested"
	case BucketActive:
		return "active"
	case BucketDefunct:
		return "defunct"
	default:
		return fmt.Sprintf("bucket(%d)", int(b))
	}
}

// BucketOf maps a Status to the bucket that owns hosts in that status.
func BucketOf(s Status) BucketClass {
	switch s {
	case StatusUntested:
		return BucketUntested
	case StatusDefunct:
		return BucketDefunct
	default:
		// Active and every INACTIVE_* gradation, including
		// INACTIVE_FLAGGED, live in the active bucket.
		return BucketActive
	}
}

// Host is a single monitored endpoint. ID is the one the controller supplied
// in its add command and is stable for the host's lifetime; Name is whatever the
// controller supplied (hostname or literal IP) and is passed straight
// through to the probe library and to NOPING notifications.
type Host struct {
	ID     uint64
	Name   string
	Status Status
}

// ProbeOutcome is what a single probe round reports for one host: whether
// it answered, and the opaque per-host context the bucket handed to the
// probe-set so it can map the result back to a Host.
type ProbeOutcome struct {
	HostID  uint64
	Alive   bool
	Latency float64
}
