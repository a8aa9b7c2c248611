package inventory

import (
	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// onPortStatus handles an asynchronous PortStatus message, implementing
// the add/delete/modify semantics spec.md §4.3 describes: add creates a
// Port (and announces linkUp if the port comes up already live),
// delete tears it down (forcing linkDown first if needed), and modify
// applies the new snapshot and announces a link transition only when
// the up/down bit actually flipped.
func (inv *Inventory) onPortStatus(sess *ofconn.Session, m *ofconn.Message) {
	dpid, ok := sess.DPID()
	if !ok {
		return
	}

	var ps ofp.PortStatus
	if err := m.Decode(&ps); err != nil {
		inv.log.WithError(err).WithField("dpid", dpid).Warn("inventory: malformed port-status")
		return
	}

	key := PortKey{DPID: dpid, PortNo: ps.Port.PortNo}

	switch ps.Reason {
	case ofp.PortReasonAdd:
		port := newPort(dpid, ps.Port)
		inv.ports.put(key, port)
		inv.events.firePortAdded(port)
		if port.LinkUp() {
			inv.events.fireLinkUp(port)
		}

	case ofp.PortReasonDelete:
		port, ok := inv.ports.get(key)
		if !ok {
			return
		}
		if port.LinkUp() {
			port.forceDown()
			inv.events.fireLinkDown(port)
		}
		inv.ports.delete(key)
		inv.events.firePortDeleted(port)

	case ofp.PortReasonModify:
		port, ok := inv.ports.get(key)
		if !ok {
			// A modify for a port we never saw added: treat it as a
			// late add instead of dropping the information.
			port = newPort(dpid, ps.Port)
			inv.ports.put(key, port)
			inv.events.firePortAdded(port)
			if port.LinkUp() {
				inv.events.fireLinkUp(port)
			}
			return
		}
		changed, up := port.update(ps.Port)
		if changed {
			if up {
				inv.events.fireLinkUp(port)
			} else {
				inv.events.fireLinkDown(port)
			}
		}

	default:
		inv.log.WithField("reason", ps.Reason).Warn("inventory: unknown port-status reason")
	}
}
