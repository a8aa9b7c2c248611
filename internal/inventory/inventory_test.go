package inventory

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"

	"github.com/ARCCN/runos-sub001/internal/config"
	"github.com/ARCCN/runos-sub001/internal/devicedb"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// rawMultipartReply builds a single, non-continued multipart reply, the
// same stand-in internal/agent's own tests use for a datapath.
type rawMultipartReply struct {
	typ  ofp.MultipartType
	body []byte
}

func (r *rawMultipartReply) WriteTo(w io.Writer) (int64, error) {
	hdr := ofp.MultipartReply{Type: r.typ}
	n, err := hdr.WriteTo(w)
	if err != nil {
		return n, err
	}
	nn, err := w.Write(r.body)
	return n + int64(nn), err
}

func (r *rawMultipartReply) ReadFrom(io.Reader) (int64, error) { return 0, nil }

func appendWireTo(t *testing.T, body []byte, w io.WriterTo) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return append(body, buf.Bytes()...)
}

// newTestSwitch wires an Inventory's per-session mux to one end of a
// net.Pipe, simulating the parts of Server that matter here: binding
// the DPID once a features reply is seen, and dispatching every other
// inbound message through the mux the Inventory built.
func newTestSwitch(t *testing.T, inv *Inventory) net.Conn {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })

	sess := ofconn.NewSession(server)
	mux := inv.NewMux(sess)

	go func() {
		for {
			m, err := sess.Receive()
			if err != nil {
				return
			}
			if m.Header.Type == ofconn.TypeFeaturesReply {
				var feat ofp.SwitchFeatures
				if err := m.Decode(&feat); err == nil {
					sess.BindDPID(ofconn.DPID(feat.DatapathID))
				}
			}
			mux.Dispatch(sess, m)
		}
	}()

	return client
}

func reply(t *testing.T, conn *ofconn.Conn, xid uint32, typ ofconn.Type, body ofconn.Body) {
	t.Helper()
	m, err := ofconn.NewMessage(typ, xid, body)
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := conn.Send(m); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

// respondOnboarding answers the four startup-sequence requests in
// order, as a real switch would, over the client end of the pipe.
func respondOnboarding(t *testing.T, client net.Conn, dpid uint64, ports []ofp.Port) {
	t.Helper()
	conn := ofconn.NewConn(client)

	for i := 0; i < 4; i++ {
		req, err := conn.Receive()
		if err != nil {
			return
		}
		switch req.Header.Type {
		case ofconn.TypeFeaturesRequest:
			reply(t, conn, req.Header.XID, ofconn.TypeFeaturesReply, &ofp.SwitchFeatures{
				DatapathID: dpid, NumBuffers: 256, NumTables: 8,
			})
		case ofconn.TypeMultipartRequest:
			var mph ofp.MultipartRequest
			if err := req.Decode(&mph); err != nil {
				t.Fatalf("decode multipart request: %v", err)
			}
			switch mph.Type {
			case ofp.MultipartTypeDescription:
				reply(t, conn, req.Header.XID, ofconn.TypeMultipartReply, &rawMultipartReply{
					typ: ofp.MultipartTypeDescription,
					body: appendWireTo(t, nil, &ofp.Description{
						Manufacturer: "Noviflow Inc",
						Hardware:     "NoviSwitch",
						Software:     "1.0",
						SerialNum:    "",
						Datapath:     "test",
					}),
				})
			case ofp.MultipartTypePortDescription:
				var body []byte
				for i := range ports {
					body = appendWireTo(t, body, &ports[i])
				}
				reply(t, conn, req.Header.XID, ofconn.TypeMultipartReply, &rawMultipartReply{
					typ: ofp.MultipartTypePortDescription, body: body,
				})
			}
		case ofconn.TypeGetConfigRequest:
			reply(t, conn, req.Header.XID, ofconn.TypeGetConfigReply, &ofp.SwitchConfig{MissSendLength: 128})
		}
	}
}

func testInventory(t *testing.T) *Inventory {
	t.Helper()
	db, err := devicedb.Embedded()
	if err != nil {
		t.Fatalf("devicedb.Embedded: %v", err)
	}
	return New(db, config.SwitchInventory{PollInterval: time.Hour, StartupTimeout: time.Second}, nil)
}

func TestOnboardingCreatesSwitchAndPorts(t *testing.T) {
	inv := testInventory(t)

	up := make(chan *Switch, 1)
	inv.OnSwitchUp(func(sw *Switch) { up <- sw })

	port := ofp.Port{PortNo: 1, Name: "eth0", State: 0}
	client := newTestSwitch(t, inv)
	go respondOnboarding(t, client, 0x42, []ofp.Port{port})

	select {
	case sw := <-up:
		if sw.DPID != 0x42 {
			t.Fatalf("unexpected dpid: %v", sw.DPID)
		}
		mfr, hw, _, _, _ := sw.Description()
		if mfr != "Noviflow Inc" || hw != "NoviSwitch" {
			t.Fatalf("unexpected description: %s/%s", mfr, hw)
		}
		if sw.Tables().Statistics == devicedb.NoTable {
			t.Fatalf("expected NoviSwitch catalog entry to set a statistics table")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for switchUp")
	}

	p, ok := inv.Port(PortKey{DPID: 0x42, PortNo: 1})
	if !ok {
		t.Fatal("expected port 1 to be recorded")
	}
	if !p.LinkUp() {
		t.Fatal("expected port to start link-up")
	}
}

func TestPortStatusAddDeleteModify(t *testing.T) {
	inv := testInventory(t)
	client := newTestSwitch(t, inv)
	go respondOnboarding(t, client, 0x7, nil)

	up := make(chan *Switch, 1)
	inv.OnSwitchUp(func(sw *Switch) { up <- sw })
	select {
	case <-up:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for switchUp")
	}

	added := make(chan *Port, 1)
	linkDown := make(chan *Port, 1)
	deleted := make(chan *Port, 1)
	inv.OnPortAdded(func(p *Port) { added <- p })
	inv.OnLinkDown(func(p *Port) { linkDown <- p })
	inv.OnPortDeleted(func(p *Port) { deleted <- p })

	conn := ofconn.NewConn(client)

	send := func(reason ofp.PortReason, p ofp.Port) {
		m, _ := ofconn.NewMessage(ofconn.TypePortStatus, 0, &ofp.PortStatus{Reason: reason, Port: p})
		conn.Send(m)
	}

	send(ofp.PortReasonAdd, ofp.Port{PortNo: 2, Name: "eth1"})
	select {
	case p := <-added:
		if p.Key.PortNo != 2 {
			t.Fatalf("unexpected port added: %+v", p.Key)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for portAdded")
	}

	send(ofp.PortReasonModify, ofp.Port{PortNo: 2, Name: "eth1", State: ofp.PortStateLinkDown})
	select {
	case <-linkDown:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for linkDown")
	}

	send(ofp.PortReasonDelete, ofp.Port{PortNo: 2, Name: "eth1", State: ofp.PortStateLinkDown})
	select {
	case <-deleted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for portDeleted")
	}

	if _, ok := inv.Port(PortKey{DPID: 0x7, PortNo: 2}); ok {
		t.Fatal("expected port to be removed from the inventory")
	}
}

func TestSessionCloseTearsSwitchDown(t *testing.T) {
	inv := testInventory(t)
	client := newTestSwitch(t, inv)
	go respondOnboarding(t, client, 0x9, []ofp.Port{{PortNo: 1, Name: "eth0"}})

	up := make(chan *Switch, 1)
	down := make(chan *Switch, 1)
	deleted := make(chan *Port, 1)
	inv.OnSwitchUp(func(sw *Switch) { up <- sw })
	inv.OnSwitchDown(func(sw *Switch) { down <- sw })
	inv.OnPortDeleted(func(p *Port) { deleted <- p })

	select {
	case <-up:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for switchUp")
	}

	client.Close()

	select {
	case <-down:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for switchDown")
	}
	select {
	case <-deleted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for portDeleted")
	}

	if _, ok := inv.Switch(0x9); ok {
		t.Fatal("expected switch to be removed from the inventory")
	}
}
