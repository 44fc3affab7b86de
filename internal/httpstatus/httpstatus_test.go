package httpstatus

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pilot-net/nopingd/internal/registry"
	"github.com/pilot-net/nopingd/internal/selfstatus"
	"github.com/pilot-net/nopingd/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeBucket struct{}

func (fakeBucket) Adopt(h *types.Host) bool { return true }
func (fakeBucket) MarkDirty()               {}

func newTestRegistry() *registry.Registry {
	adopters := map[types.BucketClass]registry.BucketAdopter{
		types.BucketUntested: fakeBucket{},
		types.BucketActive:   fakeBucket{},
		types.BucketDefunct:  fakeBucket{},
	}
	return registry.New(adopters, discardLogger())
}

func TestHandleHealthz(t *testing.T) {
	s := NewServer(newTestRegistry(), selfstatus.NewCollector(), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want %q", body["status"], "ok")
	}
}

func TestHandleStats(t *testing.T) {
	reg := newTestRegistry()
	reg.Add(1, "host-a")
	reg.Add(2, "host-b")

	s := NewServer(reg, selfstatus.NewCollector(), discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body statsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.TotalHosts != 2 {
		t.Errorf("total_hosts = %d, want 2", body.TotalHosts)
	}
	if body.Hosts[types.StatusUntested.String()] != 2 {
		t.Errorf("untested count = %d, want 2", body.Hosts[types.StatusUntested.String()])
	}
}

func TestHandleStats_PostNotAllowed(t *testing.T) {
	s := NewServer(newTestRegistry(), selfstatus.NewCollector(), discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/stats", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}
