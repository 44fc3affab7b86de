package pingset

import (
	"context"
	"sync"
	"time"
)

// MockFactory builds Sets backed by an in-memory reachability function
// instead of real ICMP traffic. The design explicitly sanctions a mock
// implementation of this boundary; it's also what the daemon's own test
// suite uses to drive deterministic scenarios without a network.
type MockFactory struct {
	mu sync.Mutex

	// Reachable, when set, is consulted for every AddHost'd name on each
	// Send; returning false (or the name being absent with AllReachable
	// false) marks that host unreachable for the round. Overrides
	// LatencyMs when both are set.
	Reachable map[string]bool

	// LatencyMs supplies a fixed latency for a reachable host; defaults
	// to 1.0ms if the name isn't present.
	LatencyMs map[string]float64

	// AllReachable, when true and Reachable has no entry for a name,
	// treats that host as reachable. Defaults to true so a fresh mock
	// behaves like a healthy network until told otherwise.
	AllReachable bool

	// Sent counts how many Send rounds have been issued, across every
	// Set this factory produced. Tests use it to assert tick counts.
	Sent int
}

// NewMockFactory returns a MockFactory that treats every host as reachable
// until told otherwise via SetUnreachable/SetReachable.
func NewMockFactory() *MockFactory {
	return &MockFactory{
		Reachable:    make(map[string]bool),
		LatencyMs:    make(map[string]float64),
		AllReachable: true,
	}
}

// SetUnreachable marks a host name as failing every future probe round.
func (f *MockFactory) SetUnreachable(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reachable[name] = false
}

// SetReachable marks a host name as succeeding every future probe round,
// optionally with a fixed latency.
func (f *MockFactory) SetReachable(name string, latencyMs float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reachable[name] = true
	f.LatencyMs[name] = latencyMs
}

func (f *MockFactory) NewSet(timeout time.Duration) Set {
	return &mockSet{factory: f}
}

type mockSet struct {
	factory *MockFactory
	hosts   []hostEntry
	last    []Result
}

func (s *mockSet) AddHost(name string, ctx any) error {
	s.hosts = append(s.hosts, hostEntry{name: name, ctx: ctx})
	return nil
}

func (s *mockSet) Empty() bool {
	return len(s.hosts) == 0
}

func (s *mockSet) Send(ctx context.Context) error {
	s.factory.mu.Lock()
	defer s.factory.mu.Unlock()
	s.factory.Sent++

	results := make([]Result, 0, len(s.hosts))
	for _, h := range s.hosts {
		reachable, known := s.factory.Reachable[h.name]
		if !known {
			reachable = s.factory.AllReachable
		}
		if !reachable {
			results = append(results, Result{Context: h.ctx, LatencyMs: -1})
			continue
		}
		latency := s.factory.LatencyMs[h.name]
		if latency == 0 {
			latency = 1.0
		}
		results = append(results, Result{Context: h.ctx, LatencyMs: latency})
	}
	s.last = results
	return nil
}

func (s *mockSet) Iterate() []Result {
	return s.last
}

func (s *mockSet) Destroy() {
	s.hosts = nil
	s.last = nil
}
