// Package heartbeat implements HeartbeatCore: the UDP-based liveness
// protocol RecoveryManager uses to detect a dead primary or a dead
// backup and to advertise each cluster member's endpoints.
package heartbeat

import (
	"bytes"
	"fmt"
	"io"
	"net"

	"github.com/ARCCN/runos-sub001/internal/encoding"
)

// command is the wire opcode every datagram leads with, mirroring the
// original's HeartbeatCommand enum (BEGIN/END are sentinel bounds, not
// sent on the wire, so this codec has no constants for them).
type command uint16

const (
	cmdEchoRequest command = iota + 1
	cmdEchoReply
	cmdParamsUpdate
)

func (c command) String() string {
	switch c {
	case cmdEchoRequest:
		return "ECHO_REQUEST"
	case cmdEchoReply:
		return "ECHO_REPLY"
	case cmdParamsUpdate:
		return "PARAMETERS_UPDATE"
	default:
		return fmt.Sprintf("command(%d)", uint16(c))
	}
}

// endpoint is an IPv4 address plus port, encoded as 4 address bytes
// followed by a big-endian uint16 port — the fixed-width wire shape
// Connection (QHostAddress, quint16) took in the original.
type endpoint struct {
	addr net.IP
	port uint16
}

func newEndpoint(addr string, port int) endpoint {
	ip := net.ParseIP(addr)
	if ip != nil {
		if v4 := ip.To4(); v4 != nil {
			ip = v4
		}
	}
	if ip == nil || len(ip) != 4 {
		ip = net.IPv4zero.To4()
	}
	return endpoint{addr: ip, port: uint16(port)}
}

func (e endpoint) String() string { return fmt.Sprintf("%s:%d", e.addr, e.port) }

func (e endpoint) WriteTo(w io.Writer) (int64, error) {
	var raw [4]byte
	copy(raw[:], e.addr.To4())
	return encoding.WriteTo(w, raw, e.port)
}

func (e *endpoint) ReadFrom(r io.Reader) (int64, error) {
	var raw [4]byte
	n, err := encoding.ReadFrom(r, &raw, &e.port)
	if err != nil {
		return n, err
	}
	e.addr = net.IP(raw[:]).To4()
	return n, nil
}

// echoMessage is the ECHO_REQUEST/ECHO_REPLY payload: the original's
// EchoMessage{unique_node_id, hb_start_time, message_number}.
// startNonce replaces QTime::currentTime() — a value unique to this
// process's lifetime used to tell a genuine restart of the same node
// apart from two different processes sharing the same configured id.
type echoMessage struct {
	nodeID     int32
	startNonce int64
	number     int64
}

func (m echoMessage) WriteTo(w io.Writer) (int64, error) {
	return encoding.WriteTo(w, m.nodeID, m.startNonce, m.number)
}

func (m *echoMessage) ReadFrom(r io.Reader) (int64, error) {
	return encoding.ReadFrom(r, &m.nodeID, &m.startNonce, &m.number)
}

// paramsMessage is the PARAMETERS_UPDATE payload: the node's identity
// plus the three endpoints it advertises to the rest of the cluster.
type paramsMessage struct {
	nodeID    int32
	heartbeat endpoint
	openflow  endpoint
	db        endpoint
}

func (m paramsMessage) WriteTo(w io.Writer) (int64, error) {
	return encoding.WriteTo(w, m.nodeID, &m.heartbeat, &m.openflow, &m.db)
}

func (m *paramsMessage) ReadFrom(r io.Reader) (int64, error) {
	return encoding.ReadFrom(r, &m.nodeID, &m.heartbeat, &m.openflow, &m.db)
}

// NodeID, HeartbeatAddr, ... implement mastership.Params, so a
// received paramsMessage can be handed straight to
// Manager.ParamsReceived without mastership importing this package.
func (m paramsMessage) NodeID() string       { return fmt.Sprintf("%d", m.nodeID) }
func (m paramsMessage) HeartbeatAddr() string { return m.heartbeat.addr.String() }
func (m paramsMessage) HeartbeatPort() int    { return int(m.heartbeat.port) }
func (m paramsMessage) OpenflowAddr() string  { return m.openflow.addr.String() }
func (m paramsMessage) OpenflowPort() int     { return int(m.openflow.port) }
func (m paramsMessage) DBAddr() string        { return m.db.addr.String() }
func (m paramsMessage) DBPort() int           { return int(m.db.port) }

// encodeDatagram writes a command opcode followed by its payload.
func encodeDatagram(cmd command, payload io.WriterTo) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := encoding.WriteTo(&buf, uint16(cmd)); err != nil {
		return nil, err
	}
	if payload != nil {
		if _, err := payload.WriteTo(&buf); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func decodeCommand(data []byte) (command, []byte, error) {
	if len(data) < 2 {
		return 0, nil, fmt.Errorf("heartbeat: datagram too short (%d bytes)", len(data))
	}
	cmd := command(uint16(data[0])<<8 | uint16(data[1]))
	return cmd, data[2:], nil
}
