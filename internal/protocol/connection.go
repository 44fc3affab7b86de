package protocol

import (
	"bufio"
	"net"

	"github.com/google/uuid"
)

// Connection wraps one accepted controller socket: a buffered writer the
// event loop writes responses and notifications through, and a background
// reader goroutine that turns incoming bytes into framed lines.
//
// All writes to a Connection happen from the event-loop goroutine (direct
// command responses and notifier broadcasts alike), so Writer() needs no
// locking of its own.
type Connection struct {
	ID     uuid.UUID
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
}

func newConnection(id uuid.UUID, c net.Conn) *Connection {
	return &Connection{
		ID:     id,
		conn:   c,
		reader: bufio.NewReader(c),
		writer: bufio.NewWriter(c),
	}
}

// Writer returns the connection's buffered writer.
func (c *Connection) Writer() *bufio.Writer {
	return c.writer
}

// Close tears down the underlying socket. Safe to call more than once.
func (c *Connection) Close() {
	_ = c.conn.Close()
}

// WriteLine writes s followed by a flush, for direct command responses.
func (c *Connection) WriteLine(s string) error {
	if _, err := c.writer.WriteString(s); err != nil {
		return err
	}
	return c.writer.Flush()
}

// Drain flushes any pending output and half-closes the write side so the
// peer observes EOF after reading the final response, mirroring the
// original daemon's waitForBytesWritten-then-close on Q and !SHUTDOWN!.
func (c *Connection) Drain() error {
	if err := c.writer.Flush(); err != nil {
		return err
	}
	type closeWriter interface {
		CloseWrite() error
	}
	if cw, ok := c.conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return nil
}

// readLine reads one LF-terminated line, honoring MaxLineLength. A line
// longer than the limit is truncated to the limit and overflow is reported
// as true; the remainder up to the next '\n' is discarded silently, so the
// next call to readLine starts clean at the following line — this is the
// "drop the line, error on next sync" behavior spec'd for oversized input.
func readLine(r *bufio.Reader) (line string, overflow bool, err error) {
	var buf []byte
	for {
		b, rerr := r.ReadByte()
		if rerr != nil {
			if len(buf) > 0 {
				return string(buf), overflow, nil
			}
			return "", overflow, rerr
		}
		if b == '\n' {
			return string(buf), overflow, nil
		}
		if b == '\r' {
			continue
		}
		if len(buf) < MaxLineLength {
			buf = append(buf, b)
		} else {
			overflow = true
		}
	}
}
