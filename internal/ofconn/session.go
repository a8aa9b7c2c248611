package ofconn

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the liveness state of a ConnectionSession, per spec.md §3.
type State int32

const (
	StateStarting State = iota
	StateEstablished
	StateNegotiationFailed
	StateClosed
	StateDead
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateEstablished:
		return "established"
	case StateNegotiationFailed:
		return "negotiation-failed"
	case StateClosed:
		return "closed"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// DPID is a 64-bit OpenFlow datapath identifier.
type DPID uint64

// Session is a ConnectionSession (spec.md §3): the live TCP/TLS socket to
// one switch, its negotiated protocol version, and the counters and
// liveness state a ConnectionServer tracks about it.
type Session struct {
	conn    *Conn
	addr    net.Addr
	created time.Time

	state   int32 // atomic State
	version uint8

	dpid    atomic.Value // DPID, zero value until features-reply arrives
	dpidSet int32        // atomic bool

	rx, tx, packetIn int64 // atomic counters

	missedEcho int32 // atomic count of unanswered keepalive echoes

	mu sync.Mutex
}

// NewSession wraps an accepted connection.
func NewSession(c net.Conn) *Session {
	s := &Session{
		conn:    NewConn(c),
		addr:    c.RemoteAddr(),
		created: time.Now(),
		state:   int32(StateStarting),
	}
	s.dpid.Store(DPID(0))
	return s
}

// State returns the current liveness state.
func (s *Session) State() State { return State(atomic.LoadInt32(&s.state)) }

func (s *Session) setState(st State) { atomic.StoreInt32(&s.state, int32(st)) }

// Alive reports whether the session can still carry traffic.
func (s *Session) Alive() bool {
	switch s.State() {
	case StateEstablished, StateStarting:
		return true
	default:
		return false
	}
}

// DPID returns the bound datapath id, or (0, false) before the features
// reply has arrived.
func (s *Session) DPID() (DPID, bool) {
	if atomic.LoadInt32(&s.dpidSet) == 0 {
		return 0, false
	}
	return s.dpid.Load().(DPID), true
}

// BindDPID associates the session with a datapath id once the features
// reply is received. Calling it twice with different values is a
// programmer error and the second call is ignored.
func (s *Session) BindDPID(d DPID) {
	if atomic.CompareAndSwapInt32(&s.dpidSet, 0, 1) {
		s.dpid.Store(d)
	}
}

// RemoteAddr returns the peer's network address.
func (s *Session) RemoteAddr() net.Addr { return s.addr }

// Version returns the negotiated OpenFlow version byte.
func (s *Session) Version() uint8 { return s.version }

// Counters returns the (rx, tx, packet-in) message counts.
func (s *Session) Counters() (rx, tx, packetIn int64) {
	return atomic.LoadInt64(&s.rx), atomic.LoadInt64(&s.tx), atomic.LoadInt64(&s.packetIn)
}

// Send serializes and writes a single message to the wire, bumping the
// tx counter. Sends on one Session must be serialized by the caller
// (OFAgent and FlowVerifier each own a per-session/per-DPID lock for
// this, per spec.md §5).
func (s *Session) Send(m *Message) error {
	if err := s.conn.Send(m); err != nil {
		return err
	}
	atomic.AddInt64(&s.tx, 1)
	return nil
}

// Receive reads the next message and updates counters. Server owns this
// for sessions it accepted; a caller that manages its own session (e.g.
// package agent's tests, or a client-mode dialer) can drive the same
// read loop directly.
func (s *Session) Receive() (*Message, error) {
	return s.receive()
}

// receive reads the next message and updates counters; it is only
// called from the Server's per-session read loop.
func (s *Session) receive() (*Message, error) {
	m, err := s.conn.Receive()
	if err != nil {
		return nil, err
	}

	atomic.AddInt64(&s.rx, 1)
	if m.Header.Type == TypePacketIn {
		atomic.AddInt64(&s.packetIn, 1)
	}
	return m, nil
}

// Close marks the session closed and closes the underlying socket.
func (s *Session) Close() error {
	s.setState(StateClosed)
	return s.conn.Close()
}

// markDead marks the session as no longer live, e.g. after missed
// keepalive echoes. The caller (Server) is responsible for closing the
// socket and notifying OFAgent so pending requests resolve with
// request_error.
func (s *Session) markDead() { s.setState(StateDead) }

func (s *Session) recordEchoSent() int32 {
	return atomic.AddInt32(&s.missedEcho, 1)
}

func (s *Session) recordEchoReply() {
	atomic.StoreInt32(&s.missedEcho, 0)
}
