package statemachine

import (
	"testing"

	"github.com/pilot-net/nopingd/internal/types"
)

func TestApply_Untested(t *testing.T) {
	tests := []struct {
		name  string
		alive bool
		want  types.Status
	}{
		{"responds", true, types.StatusActive},
		{"times out", false, types.StatusDefunct},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Apply(types.StatusUntested, types.BucketUntested, tt.alive)
			if got.NewStatus != tt.want {
				t.Errorf("got %v, want %v", got.NewStatus, tt.want)
			}
			if got.Notify {
				t.Error("untested transitions never notify")
			}
		})
	}
}

func TestApply_ActiveEscalation(t *testing.T) {
	tests := []struct {
		current    types.Status
		wantStatus types.Status
		wantNotify bool
	}{
		{types.StatusActive, types.StatusInactive1, false},
		{types.StatusInactive1, types.StatusInactive2, false},
		{types.StatusInactive2, types.StatusInactive3, false},
		{types.StatusInactive3, types.StatusInactiveFlagged, true},
		{types.StatusInactive4, types.StatusInactiveFlagged, true},
		{types.StatusInactiveFlagged, types.StatusInactiveFlagged, false},
	}
	for _, tt := range tests {
		t.Run(tt.current.String(), func(t *testing.T) {
			got := Apply(tt.current, types.BucketActive, false)
			if got.NewStatus != tt.wantStatus {
				t.Errorf("status: got %v, want %v", got.NewStatus, tt.wantStatus)
			}
			if got.Notify != tt.wantNotify {
				t.Errorf("notify: got %v, want %v", got.Notify, tt.wantNotify)
			}
		})
	}
}

func TestApply_ActiveRecovery(t *testing.T) {
	inputs := []types.Status{
		types.StatusActive, types.StatusInactive1, types.StatusInactive2,
		types.StatusInactive3, types.StatusInactive4, types.StatusInactiveFlagged,
	}
	for _, current := range inputs {
		got := Apply(current, types.BucketActive, true)
		if got.NewStatus != types.StatusActive {
			t.Errorf("current=%v: got %v, want ACTIVE", current, got.NewStatus)
		}
		if got.Notify {
			t.Errorf("current=%v: recovery must not notify", current)
		}
	}
}

func TestApply_ActiveBucketAnomaly(t *testing.T) {
	for _, alive := range []bool{true, false} {
		for _, current := range []types.Status{types.StatusUntested, types.StatusDefunct} {
			got := Apply(current, types.BucketActive, alive)
			if got.NewStatus != types.StatusDefunct {
				t.Errorf("alive=%v current=%v: got %v, want DEFUNCT", alive, current, got.NewStatus)
			}
			if !got.Anomaly {
				t.Errorf("alive=%v current=%v: expected Anomaly flag", alive, current)
			}
			if got.Notify {
				t.Error("anomaly reclassification must not notify")
			}
		}
	}
}

func TestApply_Defunct(t *testing.T) {
	if got := Apply(types.StatusDefunct, types.BucketDefunct, true); got.NewStatus != types.StatusActive {
		t.Errorf("recovered defunct host: got %v, want ACTIVE", got.NewStatus)
	}
	if got := Apply(types.StatusDefunct, types.BucketDefunct, false); got.NewStatus != types.StatusDefunct {
		t.Errorf("still-dead defunct host: got %v, want DEFUNCT", got.NewStatus)
	}
}

// P4: a host escalating to flagged, recovering, then escalating again
// produces exactly two notify=true transitions.
func TestApply_RecoveryRoundTripNotifiesTwice(t *testing.T) {
	notifies := 0
	status := types.StatusActive

	escalate := func() {
		for _, alive := range []bool{false, false, false, false} {
			tr := Apply(status, types.BucketActive, alive)
			status = tr.NewStatus
			if tr.Notify {
				notifies++
			}
		}
	}

	escalate()
	if status != types.StatusInactiveFlagged {
		t.Fatalf("after first escalation: got %v", status)
	}

	tr := Apply(status, types.BucketActive, true)
	status = tr.NewStatus
	if status != types.StatusActive {
		t.Fatalf("after recovery: got %v", status)
	}

	escalate()
	if status != types.StatusInactiveFlagged {
		t.Fatalf("after second escalation: got %v", status)
	}

	if notifies != 2 {
		t.Errorf("expected exactly 2 notifications, got %d", notifies)
	}
}
