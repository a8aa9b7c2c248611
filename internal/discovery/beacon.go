package discovery

import (
	"encoding/binary"
	"errors"

	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// beaconEtherType marks an untagged beacon frame, the LLDP ethertype
// reused here so commodity switches forward the frame toward the
// controller's table-miss rule instead of consuming it at L2.
const beaconEtherType = 0x88cc

// vlanEtherType marks a VLAN-tagged beacon frame (802.1Q).
const vlanEtherType = 0x8100

// beaconOUI identifies this controller's beacons among any other LLDP
// traffic on the wire.
const beaconOUI = 0x0026e1

// beaconCookie is the packet-in cookie a beacon's table-miss flow entry
// should be programmed to stamp, letting the discoverer recognize a
// beacon before it even inspects the payload.
const beaconCookie = (1 << 16) + 0x11d0

// lldpDest is the LLDP nearest-bridge multicast address.
var lldpDest = [6]byte{0x01, 0x80, 0xc2, 0x00, 0x00, 0x0e}

var errNotABeacon = errors.New("discovery: not a beacon frame")

// encodeBeacon builds the raw Ethernet frame LinkDiscoverer emits from
// (dpid, port): a minimal frame carrying only the OUI-tagged identifier
// this controller needs to recognize its own beacon, optionally
// VLAN-tagged. Endianness is big-endian throughout.
func encodeBeacon(dpid ofconn.DPID, port ofp.PortNo, vlan uint16, vlanTagged bool) []byte {
	payload := make([]byte, 4+8+4)
	payload[0] = byte(beaconOUI >> 16)
	payload[1] = byte(beaconOUI >> 8)
	payload[2] = byte(beaconOUI)
	payload[3] = 0
	binary.BigEndian.PutUint64(payload[4:12], uint64(dpid))
	binary.BigEndian.PutUint32(payload[12:16], uint32(port))

	var frame []byte
	if vlanTagged {
		frame = make([]byte, 12+4+2+len(payload))
		copy(frame[0:6], lldpDest[:])
		// Source address is irrelevant to the receiving controller;
		// it only ever inspects the payload.
		binary.BigEndian.PutUint16(frame[12:14], vlanEtherType)
		binary.BigEndian.PutUint16(frame[14:16], vlan&0x0fff)
		binary.BigEndian.PutUint16(frame[16:18], beaconEtherType)
		copy(frame[18:], payload)
	} else {
		frame = make([]byte, 12+2+len(payload))
		copy(frame[0:6], lldpDest[:])
		binary.BigEndian.PutUint16(frame[12:14], beaconEtherType)
		copy(frame[14:], payload)
	}
	return frame
}

// decodeBeacon extracts the (dpid, port) identifier from a received
// frame, rejecting anything that isn't a beacon of this controller's
// own making: wrong ethertype, or an OUI mismatch.
func decodeBeacon(frame []byte) (dpid ofconn.DPID, port ofp.PortNo, err error) {
	if len(frame) < 14 {
		return 0, 0, errNotABeacon
	}
	off := 12
	ethType := binary.BigEndian.Uint16(frame[off : off+2])
	if ethType == vlanEtherType {
		if len(frame) < off+4 {
			return 0, 0, errNotABeacon
		}
		off += 4
		if len(frame) < off+2 {
			return 0, 0, errNotABeacon
		}
		ethType = binary.BigEndian.Uint16(frame[off : off+2])
		off += 2
	} else {
		off += 2
	}

	if ethType != beaconEtherType {
		return 0, 0, errNotABeacon
	}
	if len(frame) < off+16 {
		return 0, 0, errNotABeacon
	}

	oui := uint32(frame[off])<<16 | uint32(frame[off+1])<<8 | uint32(frame[off+2])
	if oui != beaconOUI {
		return 0, 0, errNotABeacon
	}

	dpid = ofconn.DPID(binary.BigEndian.Uint64(frame[off+4 : off+12]))
	port = ofp.PortNo(binary.BigEndian.Uint32(frame[off+12 : off+16]))
	return dpid, port, nil
}
