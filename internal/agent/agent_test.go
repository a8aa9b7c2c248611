package agent

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// fakeSwitch drives the peer end of a net.Pipe and answers exactly one
// request with a canned reply, mimicking enough of a real datapath to
// exercise Agent's request/reply correlation.
func fakeSwitch(t *testing.T, peer net.Conn, respond func(req *ofconn.Message) *ofconn.Message) {
	t.Helper()
	conn := ofconn.NewConn(peer)
	req, err := conn.Receive()
	if err != nil {
		return
	}
	if reply := respond(req); reply != nil {
		conn.Send(reply)
	}
}

// newTestAgent wires an Agent to one end of a net.Pipe and starts the
// read loop that feeds inbound replies to it, standing in for the part
// of Server's accept loop that calls TypeMux.Dispatch.
func newTestAgent(t *testing.T) (*Agent, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	sess := ofconn.NewSession(server)
	a := New(sess)
	a.RegisterWith(ofconn.NewTypeMux(nil))

	go func() {
		for {
			m, err := sess.Receive()
			if err != nil {
				return
			}
			a.deliver(sess, m)
		}
	}()

	return a, client
}

func TestAgentBarrier(t *testing.T) {
	a, client := newTestAgent(t)

	go fakeSwitch(t, client, func(req *ofconn.Message) *ofconn.Message {
		reply, _ := ofconn.NewMessage(ofconn.TypeBarrierReply, req.Header.XID, nil)
		return reply
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := a.Barrier(ctx); err != nil {
		t.Fatalf("Barrier: %v", err)
	}
}

func TestAgentRequestConfigTimesOut(t *testing.T) {
	a, client := newTestAgent(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := a.RequestConfig(ctx)
	if err == nil {
		t.Fatal("expected a timeout error when nothing replies")
	}
	if _, ok := err.(*NotResponded); !ok {
		t.Fatalf("expected *NotResponded, got %T: %v", err, err)
	}
}

func TestAgentOpenflowErrorReply(t *testing.T) {
	a, client := newTestAgent(t)

	go fakeSwitch(t, client, func(req *ofconn.Message) *ofconn.Message {
		reply, _ := ofconn.NewMessage(ofconn.TypeError, req.Header.XID, &ofp.Error{
			Type: ofp.ErrTypeFlowModFailed,
			Code: ofp.ErrCodeFlowModFailedUnknown,
		})
		return reply
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := a.RequestSwitchDesc(ctx)
	ofErr, ok := err.(*OpenflowError)
	if !ok {
		t.Fatalf("expected *OpenflowError, got %T: %v", err, err)
	}
	if ofErr.Type != uint16(ofp.ErrTypeFlowModFailed) {
		t.Fatalf("unexpected error type: %d", ofErr.Type)
	}
}

func TestAgentRequestFlowStats(t *testing.T) {
	a, client := newTestAgent(t)

	go fakeSwitch(t, client, func(req *ofconn.Message) *ofconn.Message {
		stats := []ofp.FlowStats{
			{Table: 0, Priority: 10, PacketCount: 1},
			{Table: 0, Priority: 20, PacketCount: 2},
		}
		var body []byte
		for i := range stats {
			body = appendWireTo(t, body, &stats[i])
		}
		reply, _ := ofconn.NewMessage(ofconn.TypeMultipartReply, req.Header.XID, &rawMultipartReply{
			typ: ofp.MultipartTypeFlow, body: body,
		})
		return reply
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	stats, err := a.RequestFlowStats(ctx, ofp.FlowStatsRequest{Table: ofp.TableAll})
	if err != nil {
		t.Fatalf("RequestFlowStats: %v", err)
	}
	if len(stats) != 2 || stats[0].Priority != 10 || stats[1].Priority != 20 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
