package pingset

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func TestParseFpingOutput(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   map[string]float64
	}{
		{
			name:   "all successful, last RTT wins",
			output: "host-a : 12.45 13.22 11.80\n",
			want:   map[string]float64{"host-a": 11.80},
		},
		{
			name:   "partial loss falls back to last success",
			output: "host-b : 12.45 - 11.80\n",
			want:   map[string]float64{"host-b": 11.80},
		},
		{
			name:   "trailing loss keeps earlier success",
			output: "host-c : 12.45 13.0 -\n",
			want:   map[string]float64{"host-c": 13.0},
		},
		{
			name:   "all failed produces no entry",
			output: "host-d : - - -\n",
			want:   map[string]float64{},
		},
		{
			name:   "multiple hosts",
			output: "host-a : 5.5 6.1 5.9\nhost-d : - - -\n",
			want:   map[string]float64{"host-a": 5.9},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseFpingOutput([]byte(tt.output))
			for name, latency := range tt.want {
				v, ok := got[name]
				if !ok {
					t.Fatalf("missing entry for %s", name)
				}
				if !floatClose(v, latency, 0.01) {
					t.Errorf("%s: got %f, want %f", name, v, latency)
				}
			}
			for name := range got {
				if _, want := tt.want[name]; !want {
					t.Errorf("unexpected entry for %s", name)
				}
			}
		})
	}
}

func TestFpingFactory_NewSet(t *testing.T) {
	f := NewFpingFactory(0)
	s := f.NewSet(2 * time.Second)
	if !s.Empty() {
		t.Fatal("freshly constructed set should be empty")
	}
	if err := s.AddHost("host-a", 42); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Empty() {
		t.Fatal("set should no longer be empty after AddHost")
	}
	if err := s.AddHost("", 1); err == nil {
		t.Error("expected error for empty host name")
	}
}

func TestFpingFactory_Integration(t *testing.T) {
	if _, err := exec.LookPath("fping"); err != nil {
		t.Skip("fping not installed, skipping integration test")
	}

	f := NewFpingFactory(0)
	s := f.NewSet(2 * time.Second)
	if err := s.AddHost("127.0.0.1", "loopback"); err != nil {
		t.Fatalf("AddHost: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Send(ctx); err != nil {
		t.Fatalf("Send: %v", err)
	}

	results := s.Iterate()
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Alive() {
		t.Error("loopback should be reachable")
	}
	if results[0].Context != "loopback" {
		t.Errorf("context not preserved: got %v", results[0].Context)
	}

	s.Destroy()
	if !s.Empty() {
		t.Error("set should be empty after Destroy")
	}
}

func TestMockFactory_DefaultReachable(t *testing.T) {
	f := NewMockFactory()
	s := f.NewSet(time.Second)
	s.AddHost("a", 1)
	s.AddHost("b", 2)

	if err := s.Send(context.Background()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	results := s.Iterate()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if !r.Alive() {
			t.Errorf("expected reachable by default, got latency %f", r.LatencyMs)
		}
	}
	if f.Sent != 1 {
		t.Errorf("expected Sent=1, got %d", f.Sent)
	}
}

func TestMockFactory_SetUnreachable(t *testing.T) {
	f := NewMockFactory()
	f.SetUnreachable("flaky")
	f.SetReachable("stable", 3.5)

	s := f.NewSet(time.Second)
	s.AddHost("flaky", "ctx-flaky")
	s.AddHost("stable", "ctx-stable")

	if err := s.Send(context.Background()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	byCtx := make(map[string]Result)
	for _, r := range s.Iterate() {
		byCtx[r.Context.(string)] = r
	}

	if byCtx["ctx-flaky"].Alive() {
		t.Error("flaky host should be unreachable")
	}
	if !byCtx["ctx-stable"].Alive() {
		t.Error("stable host should be reachable")
	}
	if !floatClose(byCtx["ctx-stable"].LatencyMs, 3.5, 0.01) {
		t.Errorf("stable host latency: got %f, want 3.5", byCtx["ctx-stable"].LatencyMs)
	}
}

func floatClose(a, b, tolerance float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}
