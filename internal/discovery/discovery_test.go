package discovery

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/ARCCN/runos-sub001/internal/config"
	"github.com/ARCCN/runos-sub001/internal/devicedb"
	"github.com/ARCCN/runos-sub001/internal/inventory"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

func TestBeaconRoundTrip(t *testing.T) {
	frame := encodeBeacon(0x42, 7, 0, false)
	dpid, port, err := decodeBeacon(frame)
	if err != nil {
		t.Fatalf("decodeBeacon: %v", err)
	}
	if dpid != 0x42 || port != 7 {
		t.Fatalf("unexpected (dpid, port): (%v, %v)", dpid, port)
	}
}

func TestBeaconRoundTripVLANTagged(t *testing.T) {
	frame := encodeBeacon(0x9, 3, 100, true)
	dpid, port, err := decodeBeacon(frame)
	if err != nil {
		t.Fatalf("decodeBeacon: %v", err)
	}
	if dpid != 0x9 || port != 3 {
		t.Fatalf("unexpected (dpid, port): (%v, %v)", dpid, port)
	}
}

func TestDecodeBeaconRejectsForeignFrame(t *testing.T) {
	frame := make([]byte, 64)
	if _, _, err := decodeBeacon(frame); err == nil {
		t.Fatal("expected a plain zeroed frame to be rejected")
	}
}

// rawMultipartReply mirrors the same tiny stand-in internal/agent and
// internal/inventory's own tests use.
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

// bringUpSwitch makes inv aware of a switch at dpid with no ports,
// just enough to satisfy handleBeacon's "is this switch known" check.
func bringUpSwitch(t *testing.T, inv *inventory.Inventory, dpid uint64) net.Conn {
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

	go func() {
		conn := ofconn.NewConn(client)
		for i := 0; i < 4; i++ {
			req, err := conn.Receive()
			if err != nil {
				return
			}
			switch req.Header.Type {
			case ofconn.TypeFeaturesRequest:
				reply(t, conn, req.Header.XID, ofconn.TypeFeaturesReply, &ofp.SwitchFeatures{DatapathID: dpid})
			case ofconn.TypeMultipartRequest:
				var mph ofp.MultipartRequest
				if err := req.Decode(&mph); err != nil {
					return
				}
				switch mph.Type {
				case ofp.MultipartTypeDescription:
					reply(t, conn, req.Header.XID, ofconn.TypeMultipartReply, &rawMultipartReply{
						typ: ofp.MultipartTypeDescription,
					})
				case ofp.MultipartTypePortDescription:
					reply(t, conn, req.Header.XID, ofconn.TypeMultipartReply, &rawMultipartReply{
						typ: ofp.MultipartTypePortDescription,
					})
				}
			case ofconn.TypeGetConfigRequest:
				reply(t, conn, req.Header.XID, ofconn.TypeGetConfigReply, &ofp.SwitchConfig{})
			}
		}
	}()

	return client
}

func testInventory(t *testing.T) *inventory.Inventory {
	t.Helper()
	db, err := devicedb.Embedded()
	if err != nil {
		t.Fatalf("devicedb.Embedded: %v", err)
	}
	return inventory.New(db, config.SwitchInventory{PollInterval: time.Hour, StartupTimeout: time.Second}, nil)
}

func TestHandleBeaconPromotesAndExpires(t *testing.T) {
	inv := testInventory(t)
	d := New(inv, config.LinkDiscovery{PollInterval: time.Hour}, nil)

	discovered := make(chan [2]Endpoint, 1)
	broken := make(chan [2]Endpoint, 1)
	d.OnLinkDiscovered(func(from, to Endpoint) { discovered <- [2]Endpoint{from, to} })
	d.OnLinkBroken(func(from, to Endpoint) { broken <- [2]Endpoint{from, to} })

	upA := make(chan struct{}, 1)
	n := 0
	inv.OnSwitchUp(func(*inventory.Switch) {
		n++
		if n == 2 {
			close(upA)
		}
	})

	bringUpSwitch(t, inv, 1)
	bringUpSwitch(t, inv, 2)

	select {
	case <-upA:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for both switches to come up")
	}

	from := Endpoint{DPID: 1, Port: 1}
	to := Endpoint{DPID: 2, Port: 1}

	d.handleBeacon(from, to)
	select {
	case <-discovered:
		t.Fatal("should not promote on a single half-link")
	case <-time.After(50 * time.Millisecond):
	}

	d.handleBeacon(to, from)
	select {
	case pair := <-discovered:
		s, tt := canonical(from, to)
		if pair[0] != s || pair[1] != tt {
			t.Fatalf("unexpected link endpoints: %+v", pair)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for linkDiscovered")
	}

	if len(d.Links()) != 1 {
		t.Fatalf("expected exactly one confirmed link, got %d", len(d.Links()))
	}

	// Force every confirmed link to look expired and tick the expiry
	// pass directly.
	d.mu.Lock()
	for ep, l := range d.links {
		l.ValidThrough = time.Now().Add(-time.Second)
		_ = ep
	}
	d.mu.Unlock()
	d.expire()

	select {
	case <-broken:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for linkBroken on expiry")
	}
	if len(d.Links()) != 0 {
		t.Fatal("expected no links to remain after expiry")
	}
}

func TestClearLinkAtOnPortDown(t *testing.T) {
	inv := testInventory(t)
	d := New(inv, config.LinkDiscovery{PollInterval: time.Hour}, nil)

	from := Endpoint{DPID: 1, Port: 1}
	to := Endpoint{DPID: 2, Port: 1}

	bringUpSwitch(t, inv, 1)
	bringUpSwitch(t, inv, 2)

	n := 0
	upAll := make(chan struct{}, 1)
	inv.OnSwitchUp(func(*inventory.Switch) {
		n++
		if n == 2 {
			close(upAll)
		}
	})
	select {
	case <-upAll:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for both switches")
	}

	d.handleBeacon(from, to)
	d.handleBeacon(to, from)

	broken := make(chan struct{}, 1)
	d.OnLinkBroken(func(Endpoint, Endpoint) { broken <- struct{}{} })

	d.clearLinkAt(from)

	select {
	case <-broken:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for linkBroken from clearLinkAt")
	}
	if _, ok := d.Other(to); ok {
		t.Fatal("expected the link to be fully removed")
	}
}
