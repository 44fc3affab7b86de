// Package statemachine implements the pure host-status transition rule: for
// a given current status, the bucket that just probed the host, and whether
// the probe succeeded, decide the host's next status and whether a failure
// notification should fire.
//
// This mirrors the switch-per-bucket structure of the original pinger's
// doUntestedPing/doActivePing/doDefunctPing, collapsed into one function so
// every bucket's tick loop can call through the same entry point.
package statemachine

import "github.com/pilot-net/nopingd/internal/types"

// Transition is the outcome of applying the rule: the host's new status, and
// whether that transition should emit a NOPING notification.
type Transition struct {
	NewStatus types.Status
	Notify    bool
	// Anomaly is set when the input (status, bucket) combination should
	// never occur in normal operation — logged by the caller, not acted
	// on beyond the reclassification already folded into NewStatus.
	Anomaly bool
}

// Apply computes the next status for a host given its current status, the
// bucket that just probed it, and whether the probe succeeded.
func Apply(current types.Status, bucket types.BucketClass, alive bool) Transition {
	switch bucket {
	case types.BucketUntested:
		return untested(alive)
	case types.BucketActive:
		return active(current, alive)
	case types.BucketDefunct:
		return defunct(alive)
	default:
		// Unreachable for any bucket produced by BucketOf; treat as a
		// no-op rather than panic in a tick loop.
		return Transition{NewStatus: current}
	}
}

func untested(alive bool) Transition {
	if alive {
		return Transition{NewStatus: types.StatusActive}
	}
	return Transition{NewStatus: types.StatusDefunct}
}

func active(current types.Status, alive bool) Transition {
	if alive {
		switch current {
		case types.StatusActive,
			types.StatusInactive1, types.StatusInactive2,
			types.StatusInactive3, types.StatusInactive4,
			types.StatusInactiveFlagged:
			return Transition{NewStatus: types.StatusActive}
		default:
			// current is UNTESTED or DEFUNCT — wrong bucket for a
			// host in that status. Reclassify to DEFUNCT per the
			// original's observed behavior; flagged in spec as an
			// open question rather than silently changed.
			return Transition{NewStatus: types.StatusDefunct, Anomaly: true}
		}
	}

	switch current {
	case types.StatusActive:
		return Transition{NewStatus: types.StatusInactive1}
	case types.StatusInactive1:
		return Transition{NewStatus: types.StatusInactive2}
	case types.StatusInactive2:
		return Transition{NewStatus: types.StatusInactive3}
	case types.StatusInactive3:
		return Transition{NewStatus: types.StatusInactiveFlagged, Notify: true}
	case types.StatusInactive4:
		// INACTIVE_4 is never produced by this state machine; retained
		// so a host carried over from an earlier version still
		// escalates correctly instead of getting stuck.
		return Transition{NewStatus: types.StatusInactiveFlagged, Notify: true}
	case types.StatusInactiveFlagged:
		return Transition{NewStatus: types.StatusInactiveFlagged}
	default:
		// UNTESTED or DEFUNCT showing up in the active bucket.
		return Transition{NewStatus: types.StatusDefunct, Anomaly: true}
	}
}

func defunct(alive bool) Transition {
	if alive {
		return Transition{NewStatus: types.StatusActive}
	}
	return Transition{NewStatus: types.StatusDefunct}
}
