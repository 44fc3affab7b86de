package daemon

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pilot-net/nopingd/internal/pingset"
	"github.com/pilot-net/nopingd/internal/protocol"
)

// testHarness starts a Daemon against a MockFactory with fast tick periods
// so scenario tests run in well under a second.
type testHarness struct {
	t       *testing.T
	mock    *pingset.MockFactory
	conn    net.Conn
	reader  *bufio.Reader
	cancel  context.CancelFunc
	periods Periods
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	socketPath := filepath.Join(t.TempDir(), "nopingd.sock")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ln, err := protocol.Listen(socketPath, logger)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	periods := Periods{
		Untested: 20 * time.Millisecond,
		Active:   20 * time.Millisecond,
		Defunct:  20 * time.Millisecond,
	}
	mock := pingset.NewMockFactory()
	d := New(logger, ln, periods, mock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)

	// Give the accept loop a moment to start listening.
	time.Sleep(10 * time.Millisecond)

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		cancel()
		t.Fatalf("dial: %v", err)
	}

	h := &testHarness{
		t:       t,
		mock:    mock,
		conn:    conn,
		reader:  bufio.NewReader(conn),
		cancel:  cancel,
		periods: periods,
	}
	t.Cleanup(func() {
		conn.Close()
		cancel()
	})
	return h
}

func (h *testHarness) send(line string) {
	h.t.Helper()
	if _, err := h.conn.Write([]byte(line + "\n")); err != nil {
		h.t.Fatalf("write: %v", err)
	}
}

func (h *testHarness) expect(want string) {
	h.t.Helper()
	h.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := h.reader.ReadString('\n')
	if err != nil {
		h.t.Fatalf("read: %v", err)
	}
	got := line[:len(line)-1]
	if got != want {
		h.t.Errorf("got %q, want %q", got, want)
	}
}

func (h *testHarness) waitTicks(n int) {
	time.Sleep(time.Duration(n) * (h.periods.Active + 15*time.Millisecond))
}

// S1 — add and classify.
func TestScenario_AddAndClassify(t *testing.T) {
	h := newHarness(t)
	h.mock.SetReachable("host.example", 10)

	h.send("A 7 host.example")
	h.expect("OK")

	h.waitTicks(2)
}

// S2 — duplicate id.
func TestScenario_DuplicateID(t *testing.T) {
	h := newHarness(t)

	h.send("A 7 host.example")
	h.expect("OK")

	h.send("A 7 other.example")
	h.expect("ERROR DUPLICATE ID")

	h.send("A 7 host.example")
	h.expect("ERROR DUPLICATE REQUEST")
}

// S3 — escalation to INACTIVE_FLAGGED emits exactly one NOPING.
func TestScenario_Escalation(t *testing.T) {
	h := newHarness(t)
	h.mock.SetUnreachable("host.example")

	h.send("A 7 host.example")
	h.expect("OK")

	// First untested tick classifies it DEFUNCT (unreachable), which
	// would never reach the active escalation path. Use a reachable
	// first response so it lands ACTIVE, then go unreachable.
	h.mock.SetReachable("host.example", 5)
	h.waitTicks(1)
	h.mock.SetUnreachable("host.example")

	h.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	line, err := h.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read NOPING: %v", err)
	}
	want := fmt.Sprintf("NOPING %d %s\n", 7, "host.example")
	if line != want {
		t.Errorf("got %q, want %q", line, want)
	}
}

// S4 — malformed command.
func TestScenario_Malformed(t *testing.T) {
	h := newHarness(t)
	h.send("A seven host.example")
	h.expect("ERROR A seven host.example")
}

// S5 — graceful disconnect.
func TestScenario_GracefulDisconnect(t *testing.T) {
	h := newHarness(t)
	h.send("Q")
	h.expect("DISCONNECTING")

	h.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := h.reader.Read(buf); err != io.EOF {
		t.Errorf("expected EOF after DISCONNECTING, got %v", err)
	}
}

// S7 — STATUS reports a one-line summary without mutating state.
func TestScenario_Status(t *testing.T) {
	h := newHarness(t)
	h.mock.SetReachable("host.example", 5)

	h.send("A 7 host.example")
	h.expect("OK")
	h.waitTicks(1)

	h.send("STATUS")
	h.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := h.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.HasPrefix(line, "STATUS ") {
		t.Fatalf("got %q, want line starting with %q", line, "STATUS ")
	}
	if !strings.Contains(line, "hosts=1") {
		t.Errorf("expected status line to report hosts=1, got %q", line)
	}

	// A second STATUS call must not change host counts.
	h.send("STATUS")
	line2, err := h.reader.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(line2, "hosts=1") {
		t.Errorf("expected repeat status line to still report hosts=1, got %q", line2)
	}
}

// S6 — manual defunct then recovery.
func TestScenario_ManualDefunctThenRecovery(t *testing.T) {
	h := newHarness(t)
	h.mock.SetReachable("host.example", 5)

	h.send("A 7 host.example")
	h.expect("OK")
	h.waitTicks(1)

	h.send("D 7")
	h.expect("OK")

	h.mock.SetReachable("host.example", 3)
	h.waitTicks(2)
	// No NOPING should have arrived; recovery is silent. A short extra
	// read with a tight deadline confirms nothing is pending.
	h.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	buf := make([]byte, 1)
	if _, err := h.reader.Read(buf); err == nil {
		t.Error("unexpected data after silent recovery")
	}
}
