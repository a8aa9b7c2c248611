package ofconn

import (
	"bufio"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"
)

// ErrHijacked is returned by Conn methods once the connection has been
// handed over to a caller via Hijack.
var ErrHijacked = errors.New("ofconn: connection has been hijacked")

// Conn is a framed OpenFlow connection: Send/Receive operate on whole
// messages rather than raw bytes, matching the teacher's Conn interface
// in net.go but trimmed to what ConnectionServer and OFAgent need.
type Conn struct {
	rwc net.Conn
	buf *bufio.ReadWriter

	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	mu        sync.Mutex
	hijackedv bool
}

// NewConn wraps a net.Conn (TCP or TLS) in buffered read/write framing.
func NewConn(c net.Conn) *Conn {
	br := bufio.NewReader(c)
	bw := bufio.NewWriter(c)
	return &Conn{rwc: c, buf: bufio.NewReadWriter(br, bw)}
}

func (c *Conn) hijacked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hijackedv
}

// Hijack takes over the raw connection, e.g. to splice it onto an
// already-alive Switch when a duplicate-DPID session reattaches.
func (c *Conn) Hijack() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hijackedv {
		return nil, ErrHijacked
	}

	c.hijackedv = true
	rwc := c.rwc
	c.rwc = nil
	return rwc, nil
}

// Receive reads and decodes a single OpenFlow message from the wire.
func (c *Conn) Receive() (*Message, error) {
	if c.hijacked() {
		return nil, ErrHijacked
	}

	if d := c.ReadTimeout; d != 0 {
		c.rwc.SetReadDeadline(time.Now().Add(d))
	}

	m := &Message{}
	if _, err := m.ReadFrom(c.buf); err != nil {
		return nil, err
	}
	return m, nil
}

// Send encodes and writes a single OpenFlow message, flushing
// immediately so partial writes never interleave across goroutines
// calling Send concurrently is still unsafe -- callers serialize sends
// per session, matching spec.md §5's ordering guarantees.
func (c *Conn) Send(m *Message) error {
	if c.hijacked() {
		return ErrHijacked
	}

	if d := c.WriteTimeout; d != 0 {
		defer c.rwc.SetWriteDeadline(time.Now().Add(d))
	}

	if _, err := m.WriteTo(c.buf); err != nil {
		return err
	}
	return c.buf.Flush()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	if c.hijacked() {
		return nil
	}
	return c.rwc.Close()
}

// RemoteAddr returns the remote network address of the session.
func (c *Conn) RemoteAddr() net.Addr {
	if c.rwc == nil {
		return nil
	}
	return c.rwc.RemoteAddr()
}

// Dial establishes an outbound OpenFlow connection, optionally over TLS
// when cfg is non-nil. Used by tests and by tools that speak the
// controller role from the other side of the wire.
func Dial(network, addr string, cfg *tls.Config) (*Conn, error) {
	var (
		c   net.Conn
		err error
	)

	if cfg != nil {
		c, err = tls.Dial(network, addr, cfg)
	} else {
		c, err = net.Dial(network, addr)
	}
	if err != nil {
		return nil, err
	}

	return NewConn(c), nil
}
