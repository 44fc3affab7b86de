package protocol

import (
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/google/uuid"
)

// Event is what the listener's background goroutines feed into the event
// loop's select: a new connection accepted, a line read from an existing
// connection (an oversized line arrives as a line event with Overflow set),
// or a connection that needs tearing down (EOF or read error).
type Event struct {
	Kind   EventKind
	ConnID uuid.UUID
	Conn   *Connection
	Line   string
	// Overflow is set on EventLine when the line had to be truncated to
	// MaxLineLength; the handler should respond with an ERROR for it.
	Overflow bool
}

type EventKind int

const (
	EventAccept EventKind = iota
	EventLine
	EventClosed
)

// Listener accepts controller connections on a Unix-domain socket and fans
// both accepts and per-connection reads into a single Events channel, so
// the daemon's event loop can select over everything without its own
// goroutine per connection.
type Listener struct {
	path   string
	ln     net.Listener
	logger *slog.Logger
	Events chan Event
}

// Listen binds a Unix-domain socket at path, removing any stale socket file
// left behind by a prior unclean shutdown, and creates it world-accessible
// per spec §6.
func Listen(path string, logger *slog.Logger) (*Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding control socket: %w", err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		ln.Close()
		return nil, fmt.Errorf("setting socket permissions: %w", err)
	}

	l := &Listener{
		path:   path,
		ln:     ln,
		logger: logger.With("component", "protocol"),
		Events: make(chan Event, 64),
	}
	return l, nil
}

// Serve runs the accept loop until the listener is closed. It returns once
// Accept starts failing, which happens on Close.
func (l *Listener) Serve() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.logger.Debug("accept loop exiting", "error", err)
			return
		}
		id := uuid.New()
		c := newConnection(id, conn)
		l.Events <- Event{Kind: EventAccept, ConnID: id, Conn: c}
		go l.readLoop(c)
	}
}

// readLoop reads framed lines from one connection and feeds them to Events
// until the connection is closed, either by the peer or by the event loop.
func (l *Listener) readLoop(c *Connection) {
	for {
		line, overflow, err := readLine(c.reader)
		if err != nil {
			l.Events <- Event{Kind: EventClosed, ConnID: c.ID}
			return
		}
		l.Events <- Event{Kind: EventLine, ConnID: c.ID, Line: line, Overflow: overflow}
	}
}

// Close stops accepting new connections and removes the socket file.
func (l *Listener) Close() error {
	err := l.ln.Close()
	if rerr := os.Remove(l.path); rerr != nil && !os.IsNotExist(rerr) {
		l.logger.Warn("removing control socket on shutdown", "error", rerr)
	}
	return err
}
