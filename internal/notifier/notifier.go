// Package notifier broadcasts NOPING failure messages to every currently
// connected controller. Delivery is best-effort: a connection whose write or
// flush fails is closed and skipped, and the broadcast continues to the
// rest. Writes carry no deadline, so a peer that stops reading while its
// socket buffer is full blocks the broadcast until the write completes or
// fails.
package notifier

import (
	"bufio"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Conn is the narrow interface notifier needs on a controller connection: a
// buffered writer to push bytes into, plus a way to signal the connection
// should be torn down when a write fails. Satisfied by *protocol.Connection.
type Conn interface {
	Writer() *bufio.Writer
	Close()
}

// Notifier holds the set of currently connected controllers and writes a
// NOPING line to each of them on every failure escalation.
type Notifier struct {
	mu     sync.Mutex
	conns  map[uuid.UUID]Conn
	logger *slog.Logger
}

// New returns an empty Notifier.
func New(logger *slog.Logger) *Notifier {
	return &Notifier{
		conns:  make(map[uuid.UUID]Conn),
		logger: logger.With("component", "notifier"),
	}
}

// Register adds a controller connection to the broadcast set.
func (n *Notifier) Register(connID uuid.UUID, c Conn) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.conns[connID] = c
}

// Unregister removes a controller connection, normally called once its
// teardown has been processed by the event loop.
func (n *Notifier) Unregister(connID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.conns, connID)
}

// Notify formats "NOPING <hostId> <hostName>\n" and writes it to every
// connected controller. A write failure only tears down that one
// connection; it never aborts the broadcast to the rest.
//
// Notify runs on the event-loop goroutine, same as every other Registry/
// Bucket mutation, so no locking is needed around the write fan-out itself
// — the mutex here only protects the connection set against concurrent
// Register/Unregister from accept/close handling on that same loop.
func (n *Notifier) Notify(hostID uint64, hostName string) {
	msg := fmt.Sprintf("NOPING %d %s\n", hostID, hostName)

	n.mu.Lock()
	targets := make(map[uuid.UUID]Conn, len(n.conns))
	for id, c := range n.conns {
		targets[id] = c
	}
	n.mu.Unlock()

	for id, c := range targets {
		w := c.Writer()
		if _, err := w.WriteString(msg); err != nil {
			n.logger.Debug("dropping notification, write failed", "conn_id", id, "error", err)
			c.Close()
			continue
		}
		if err := w.Flush(); err != nil {
			n.logger.Debug("dropping notification, flush failed", "conn_id", id, "error", err)
			c.Close()
		}
	}
}
