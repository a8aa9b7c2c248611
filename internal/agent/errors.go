// Package agent implements a typed request/reply façade over an
// ofconn.Session, correlating OpenFlow transactions by xid the way a
// synchronous RPC client correlates responses to calls.
package agent

import "fmt"

// Error is the base of every error this package returns. It always
// carries the datapath and the transaction identifier of the request
// that failed.
type Error struct {
	DPID uint64
	XID  uint32

	msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("agent: dpid=%#x xid=%d: %s", e.DPID, e.XID, e.msg)
}

func newError(dpid uint64, xid uint32, msg string) *Error {
	return &Error{DPID: dpid, XID: xid, msg: msg}
}

// OpenflowError wraps an OFPT_ERROR reply the switch sent in response to
// a request this package issued.
type OpenflowError struct {
	*Error
	Type uint16
	Code uint16
}

func (e *OpenflowError) Error() string {
	return fmt.Sprintf("%s: switch returned error type=%d code=%d", e.Error.Error(), e.Type, e.Code)
}

// BadReply is returned when the switch replied, but the reply was of a
// different message type than the request expects, or could not be
// decoded as the type the request expected.
type BadReply struct{ *Error }

// NotResponded is returned when the caller's context was done before a
// reply for the request arrived.
type NotResponded struct{ *Error }

// RequestError is returned when a request could not be sent at all
// (session already closed, message could not be encoded), or when the
// session died while the request was still waiting for its reply.
type RequestError struct{ *Error }
