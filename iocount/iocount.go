// Package iocount wraps a net.Conn with transparent byte accounting,
// counting at the socket layer so TLS and framing overhead are captured —
// counting at the HTTP layer would miss both.
package iocount

import (
	"net"
	"sync"
)

// Publisher receives byte totals when a counting connection closes.
type Publisher interface {
	CollectConnection(sent, received uint64)
}

// Conn wraps a net.Conn, tallying bytes in both directions into private
// counters and publishing the totals to a Publisher exactly once on Close.
// It must be wrapped around the raw socket before TLS and HTTP layers see
// it, so those layers' overhead is included in the tally.
type Conn struct {
	net.Conn
	publisher Publisher

	mu       sync.Mutex
	sent     uint64
	received uint64
	closed   bool
}

// New wraps conn so bytes flowing through it are credited to publisher
// when the wrapper is closed.
func New(conn net.Conn, publisher Publisher) *Conn {
	return &Conn{Conn: conn, publisher: publisher}
}

func (c *Conn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if n > 0 {
		c.mu.Lock()
		c.received += uint64(n)
		c.mu.Unlock()
	}
	return n, err
}

func (c *Conn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if n > 0 {
		c.mu.Lock()
		c.sent += uint64(n)
		c.mu.Unlock()
	}
	return n, err
}

// Close closes the underlying connection and publishes the accumulated
// byte totals to the collector. Safe to call more than once; only the
// first call publishes.
func (c *Conn) Close() error {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	sent, received := c.sent, c.received
	c.mu.Unlock()

	if !alreadyClosed && c.publisher != nil {
		c.publisher.CollectConnection(sent, received)
	}
	return c.Conn.Close()
}
