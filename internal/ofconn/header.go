// Package ofconn implements the OpenFlow 1.3 control-channel transport:
// message framing over a TCP (or TLS) session, version negotiation, and
// fan-out dispatch of decoded messages to registered handlers. It plays
// the role the teacher's root "of" package played for a generic OpenFlow
// library, narrowed here to exactly what a single-version 1.3 controller
// core needs.
package ofconn

import (
	"errors"
	"io"

	"github.com/ARCCN/runos-sub001/internal/encoding"
)

// Type is an OpenFlow message type (the OFPT_* constants of the 1.3
// specification).
type Type uint8

const (
	TypeHello Type = iota
	TypeError
	TypeEchoRequest
	TypeEchoReply
	TypeExperimenter

	TypeFeaturesRequest
	TypeFeaturesReply
	TypeGetConfigRequest
	TypeGetConfigReply
	TypeSetConfig

	TypePacketIn
	TypeFlowRemoved
	TypePortStatus

	TypePacketOut
	TypeFlowMod
	TypeGroupMod
	TypePortMod
	TypeTableMod

	TypeMultipartRequest
	TypeMultipartReply

	TypeBarrierRequest
	TypeBarrierReply

	TypeQueueGetConfigRequest
	TypeQueueGetConfigReply

	TypeRoleRequest
	TypeRoleReply

	TypeGetAsyncRequest
	TypeGetAsyncReply
	TypeSetAsync

	TypeMeterMod
)

// ProtocolVersion is the single wire version this controller core
// negotiates: OpenFlow 1.3, per spec.md §1 Non-goals.
const ProtocolVersion uint8 = 4

const headerLen = 8

var errShortHeader = errors.New("ofconn: short OpenFlow header")

// Header is the 8-byte common header that precedes every OpenFlow
// message: version, message type, total length (header included), and
// the transaction id used to correlate requests and replies.
type Header struct {
	Version uint8
	Type    Type
	Length  uint16
	XID     uint32
}

// Copy returns a shallow copy of the header, useful when building a
// reply that must carry the request's XID.
func (h Header) Copy() Header {
	return h
}

// BodyLen returns the number of bytes that follow the header.
func (h Header) BodyLen() int {
	n := int(h.Length) - headerLen
	if n < 0 {
		return 0
	}
	return n
}

// WriteTo implements io.WriterTo. It serializes the header in the
// big-endian wire order the 1.3 specification mandates.
func (h *Header) WriteTo(w io.Writer) (int64, error) {
	return encoding.WriteTo(w, h.Version, h.Type, h.Length, h.XID)
}

// ReadFrom implements io.ReaderFrom.
func (h *Header) ReadFrom(r io.Reader) (int64, error) {
	n, err := encoding.ReadFrom(r, &h.Version, &h.Type, &h.Length, &h.XID)
	if err != nil {
		return n, err
	}
	if h.Length < headerLen {
		return n, errShortHeader
	}
	return n, nil
}
