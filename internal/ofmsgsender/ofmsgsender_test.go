package ofmsgsender

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ARCCN/runos-sub001/internal/agent"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return logrus.NewEntry(l)
}

// newDeliveringAgent wires an Agent to one end of a net.Pipe and keeps
// dispatching inbound replies to it, the same helper internal/agent and
// internal/mastership tests use for a live request/reply round trip.
func newDeliveringAgent(t *testing.T) (*agent.Agent, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	sess := ofconn.NewSession(server)
	a := agent.New(sess)
	mux := ofconn.NewTypeMux(nil)
	a.RegisterWith(mux)

	go func() {
		for {
			m, err := sess.Receive()
			if err != nil {
				a.Close()
				return
			}
			mux.Dispatch(sess, m)
		}
	}()

	return a, client
}

// barrierResponder answers every barrier request received on peer with
// a barrier reply, until respond returns false (simulating a switch
// that stops answering, to exercise the multiplicative-decrease path).
func barrierResponder(t *testing.T, peer net.Conn, respond func() bool) {
	t.Helper()
	conn := ofconn.NewConn(peer)
	for {
		req, err := conn.Receive()
		if err != nil {
			return
		}
		if !respond() {
			continue
		}
		reply, err := ofconn.NewMessage(ofconn.TypeBarrierReply, req.Header.XID, nil)
		if err != nil {
			return
		}
		if err := conn.Send(reply); err != nil {
			return
		}
	}
}

type fakeVerifier struct {
	mu   sync.Mutex
	sent []uint64
}

func (f *fakeVerifier) Send(_ context.Context, dpid ofconn.DPID, _ *ofp.FlowMod) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, uint64(dpid))
	return nil
}

func (f *fakeVerifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestSendUnpacedSwitchPassesThrough(t *testing.T) {
	v := &fakeVerifier{}
	s := &Sender{verifier: v, log: testLog(), statuses: make(map[ofconn.DPID]*status), stop: make(chan struct{})}

	if err := s.Send(context.Background(), 1, &ofp.FlowMod{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if v.count() != 1 {
		t.Fatalf("expected the unpaced flow-mod to reach the verifier directly, got %d sends", v.count())
	}
}

func TestWindowIncreasesOnTimelyBarrierReply(t *testing.T) {
	ag, client := newDeliveringAgent(t)
	go barrierResponder(t, client, func() bool { return true })

	v := &fakeVerifier{}
	s := &Sender{
		verifier: v, log: testLog(),
		additive: 5, multiplier: 2,
		pollInterval: 10 * time.Millisecond, waitInterval: time.Second,
		statuses: make(map[ofconn.DPID]*status), stop: make(chan struct{}),
	}
	st := &status{dpid: 1, ag: ag, window: 2, additive: 5, multiplier: 2}
	s.statuses[1] = st

	for i := 0; i < 3; i++ {
		if err := s.Send(context.Background(), 1, &ofp.FlowMod{}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.pollOnce(context.Background())
		if window, _ := s.Status(1); window > 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected window to additively increase after a timely barrier reply")
}

func TestWindowHalvesOnMissedBarrierDeadline(t *testing.T) {
	ag, client := newDeliveringAgent(t)
	go barrierResponder(t, client, func() bool { return false }) // never replies

	v := &fakeVerifier{}
	s := &Sender{
		verifier: v, log: testLog(),
		additive: 5, multiplier: 2,
		pollInterval: 5 * time.Millisecond, waitInterval: 20 * time.Millisecond,
		statuses: make(map[ofconn.DPID]*status), stop: make(chan struct{}),
	}
	st := &status{dpid: 1, ag: ag, window: 40, additive: 5, multiplier: 2}
	s.statuses[1] = st

	// Fill exactly one window so sendPack issues a barrier.
	for i := 0; i < 40; i++ {
		if err := s.Send(context.Background(), 1, &ofp.FlowMod{}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.pollOnce(context.Background())
		if window, _ := s.Status(1); window < 40 {
			if window != 20 {
				t.Fatalf("expected window to halve from 40 to 20, got %d", window)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("expected window to multiplicatively decrease after a missed barrier deadline")
}

func TestWindowNeverDropsBelowFloor(t *testing.T) {
	ag, client := newDeliveringAgent(t)
	go barrierResponder(t, client, func() bool { return false })

	v := &fakeVerifier{}
	s := &Sender{
		verifier: v, log: testLog(),
		additive: 5, multiplier: 2,
		pollInterval: 5 * time.Millisecond, waitInterval: 10 * time.Millisecond,
		statuses: make(map[ofconn.DPID]*status), stop: make(chan struct{}),
	}
	st := &status{dpid: 1, ag: ag, window: 21, additive: 5, multiplier: 2}
	s.statuses[1] = st

	// Fill exactly one window so sendPack issues a barrier.
	for i := 0; i < 21; i++ {
		if err := s.Send(context.Background(), 1, &ofp.FlowMod{}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.pollOnce(context.Background())
		if window, _ := s.Status(1); window == minRate {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected window to floor at %d", minRate)
}
