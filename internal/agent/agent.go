package agent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// xidFloor is the floor this package allocates transaction identifiers
// above: the first one handed out is xidFloor+1. Identifiers below the
// floor are reserved for the keepalive echo
// requests ofconn.Server sends on its own, so a stray reply can never be
// mistaken for an answer to one of this package's requests.
const xidFloor = 1 << 24

// pending tracks one outstanding request awaiting a reply.
type pending struct {
	reply chan *ofconn.Message
	done  chan struct{}

	// multipart accumulates the body of every MultipartReply message
	// carrying this xid until one arrives without the "more" flag set.
	multipart []byte
}

// Agent is a typed request/reply façade over a single control-channel
// session. One Agent is created per Session and lives for as long as
// the session does.
type Agent struct {
	sess *ofconn.Session

	xid uint32

	mu      sync.Mutex
	waiting map[uint32]*pending
	dead    chan struct{}
	once    sync.Once
}

// New creates an Agent bound to sess. Call RegisterWith once, on the
// TypeMux the session's messages are dispatched through, so replies can
// be routed back to the request that is awaiting them.
func New(sess *ofconn.Session) *Agent {
	return &Agent{
		sess:    sess,
		xid:     xidFloor,
		waiting: make(map[uint32]*pending),
		dead:    make(chan struct{}),
	}
}

// Close marks the session dead: every pending request, present and
// future, resolves immediately with RequestError. The caller (the
// Server's per-session read loop) calls this once the session's receive
// loop exits, whatever the cause.
func (a *Agent) Close() {
	a.once.Do(func() { close(a.dead) })
}

// RegisterWith installs the handlers that route reply messages back to
// their requester. It must be called once before any request method is
// used.
func (a *Agent) RegisterWith(mux *ofconn.TypeMux) {
	for _, t := range []ofconn.Type{
		ofconn.TypeError,
		ofconn.TypeEchoReply,
		ofconn.TypeFeaturesReply,
		ofconn.TypeGetConfigReply,
		ofconn.TypeBarrierReply,
		ofconn.TypeRoleReply,
		ofconn.TypeMultipartReply,
		ofconn.TypeQueueGetConfigReply,
		ofconn.TypeGetAsyncReply,
	} {
		mux.HandleFunc(t, a.deliver)
	}
	mux.HandleClose(func(*ofconn.Session) { a.Close() })
}

func (a *Agent) nextXID() uint32 {
	return atomic.AddUint32(&a.xid, 1)
}

// deliver routes an inbound reply to the pending request it answers, if
// any is still waiting.
func (a *Agent) deliver(_ *ofconn.Session, m *ofconn.Message) {
	xid := m.Header.XID

	a.mu.Lock()
	p, ok := a.waiting[xid]
	a.mu.Unlock()
	if !ok {
		return
	}

	if m.Header.Type == ofconn.TypeMultipartReply {
		if a.appendMultipart(p, m) {
			return // more fragments expected
		}
	}

	select {
	case p.reply <- m:
	case <-p.done:
	}
}

// appendMultipart folds one MultipartReply fragment into p.multipart and
// reports whether more fragments are still expected.
func (a *Agent) appendMultipart(p *pending, m *ofconn.Message) bool {
	var hdr ofp.MultipartReply
	body := m.Body
	n, err := hdr.ReadFrom(bytesReader(body))
	if err != nil {
		return false
	}
	p.multipart = append(p.multipart, body[n:]...)
	return hdr.Flags&ofp.MultipartReplyMode != 0
}

// call sends req under a freshly allocated xid and blocks until a reply
// arrives, ctx is done, or the session dies.
func (a *Agent) call(ctx context.Context, t ofconn.Type, req ofconn.Body) (*ofconn.Message, error) {
	xid := a.nextXID()

	msg, err := ofconn.NewMessage(t, xid, req)
	if err != nil {
		return nil, &RequestError{newError(a.dpid(), xid, err.Error())}
	}

	p := &pending{reply: make(chan *ofconn.Message, 1), done: make(chan struct{})}
	a.mu.Lock()
	a.waiting[xid] = p
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.waiting, xid)
		a.mu.Unlock()
		close(p.done)
	}()

	if err := a.sess.Send(msg); err != nil {
		return nil, &RequestError{newError(a.dpid(), xid, err.Error())}
	}

	select {
	case reply := <-p.reply:
		if reply.Header.Type == ofconn.TypeError {
			var oferr ofp.Error
			oferr.ReadFrom(bytesReader(reply.Body))
			return nil, &OpenflowError{
				Error: newError(a.dpid(), xid, "switch returned an error reply"),
				Type:  uint16(oferr.Type), Code: uint16(oferr.Code),
			}
		}
		expected := map[ofconn.Type]ofconn.Type{
			ofconn.TypeBarrierRequest:   ofconn.TypeBarrierReply,
			ofconn.TypeGetConfigRequest: ofconn.TypeGetConfigReply,
			ofconn.TypeFeaturesRequest:  ofconn.TypeFeaturesReply,
			ofconn.TypeRoleRequest:      ofconn.TypeRoleReply,
			ofconn.TypeMultipartRequest: ofconn.TypeMultipartReply,
		}
		if want, ok := expected[t]; ok && reply.Header.Type != want {
			return nil, &BadReply{newError(a.dpid(), xid, fmt.Sprintf("unexpected reply type %v", reply.Header.Type))}
		}
		if reply.Header.Type == ofconn.TypeMultipartReply {
			reply = &ofconn.Message{Header: reply.Header, Body: p.multipart}
		}
		return reply, nil
	case <-ctx.Done():
		return nil, &NotResponded{newError(a.dpid(), xid, ctx.Err().Error())}
	case <-a.dead:
		return nil, &RequestError{newError(a.dpid(), xid, "session closed")}
	}
}

func (a *Agent) dpid() uint64 {
	d, _ := a.sess.DPID()
	return uint64(d)
}

func decode(m *ofconn.Message, dst io.ReaderFrom, dpid uint64, xid uint32) error {
	if err := m.Decode(dst); err != nil {
		return &BadReply{newError(dpid, xid, fmt.Sprintf("decode reply: %s", err))}
	}
	return nil
}
