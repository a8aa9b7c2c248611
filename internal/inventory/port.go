package inventory

import (
	"net"
	"sync"
	"time"

	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// PortKey identifies one Port: the switch that owns it (by handle, its
// DPID) and the port number within that switch. Port never holds a
// pointer back to its Switch, to avoid the Switch<->Port<->Session
// ownership cycle the original's object model had.
type PortKey struct {
	DPID   ofconn.DPID
	PortNo ofp.PortNo
}

// sample is one rolling-window observation of a monotonically
// increasing counter pair (packets, bytes), used to compute a
// delta-count/delta-time rate between ticks.
type sample struct {
	at      time.Time
	packets uint64
	bytes   uint64
}

// Port mirrors spec.md's Port entity: identity, config/state bits,
// feature bitmaps, and rolling statistics windows computed from
// successive PortStats samples.
type Port struct {
	Key PortKey

	mu sync.RWMutex

	hwAddr net.HardwareAddr
	name   string

	config ofp.PortConfig
	state  ofp.PortState

	curr, advertised, supported, peer ofp.PortFeature
	currSpeed, maxSpeed               uint32

	maintenance bool

	rx, tx         sample
	haveSample     bool
	rxRate, txRate float64 // bytes/sec, latest observed
	maxRxRate      float64
	maxTxRate      float64

	queues map[ofp.Queue]ofp.QueueStats
}

func newPort(dpid ofconn.DPID, p ofp.Port) *Port {
	port := &Port{
		Key:        PortKey{DPID: dpid, PortNo: p.PortNo},
		hwAddr:     p.HWAddr,
		name:       p.Name,
		config:     p.Config,
		state:      p.State,
		curr:       p.Curr,
		advertised: p.Advertised,
		supported:  p.Supported,
		peer:       p.Peer,
		currSpeed:  p.CurrSpeed,
		maxSpeed:   p.MaxSpeed,
		queues:     make(map[ofp.Queue]ofp.QueueStats),
	}
	return port
}

// HWAddr returns the port's hardware address.
func (p *Port) HWAddr() net.HardwareAddr {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.hwAddr
}

// Name returns the port's switch-reported name.
func (p *Port) Name() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name
}

// LinkUp reports whether the physical link is currently up.
func (p *Port) LinkUp() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state&ofp.PortStateLinkDown == 0
}

// Config returns the current port configuration bits.
func (p *Port) Config() ofp.PortConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.config
}

// State returns the current port state bits.
func (p *Port) State() ofp.PortState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Maintenance reports whether the port has been manually taken out of
// service (LinkDiscoverer and TopologyEngine both skip such ports).
func (p *Port) Maintenance() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maintenance
}

// SetMaintenance toggles the maintenance flag.
func (p *Port) SetMaintenance(m bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maintenance = m
}

// Rates returns the latest computed (rx, tx) bytes/sec and the maximum
// observed (rx, tx) bytes/sec over the port's lifetime.
func (p *Port) Rates() (rx, tx, maxRx, maxTx float64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rxRate, p.txRate, p.maxRxRate, p.maxTxRate
}

// update applies a fresh ofp.Port snapshot from a PortStatus modify and
// reports whether the link-state bit flipped, and in which direction.
func (p *Port) update(np ofp.Port) (linkChanged bool, linkUp bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wasUp := p.state&ofp.PortStateLinkDown == 0
	p.hwAddr = np.HWAddr
	p.name = np.Name
	p.config = np.Config
	p.state = np.State
	p.curr = np.Curr
	p.advertised = np.Advertised
	p.supported = np.Supported
	p.peer = np.Peer
	p.currSpeed = np.CurrSpeed
	p.maxSpeed = np.MaxSpeed

	isUp := p.state&ofp.PortStateLinkDown == 0
	return wasUp != isUp, isUp
}

// forceDown marks the port as link-down without waiting for a switch
// notification; used when a port is deleted out from under a pending
// link-up state.
func (p *Port) forceDown() (linkChanged bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wasUp := p.state&ofp.PortStateLinkDown == 0
	p.state |= ofp.PortStateLinkDown
	return wasUp
}

// applyStats feeds one PortStats sample into the rolling window. at
// must be monotonically increasing relative to the previous sample; a
// regression clears history (the observed maximum is preserved), per
// spec.md §4.3.
func (p *Port) applyStats(at time.Time, st ofp.PortStats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rxSample := sample{at: at, packets: st.RxPackets, bytes: st.RxBytes}
	txSample := sample{at: at, packets: st.TxPackets, bytes: st.TxBytes}

	if p.haveSample && at.Before(p.rx.at) {
		p.haveSample = false
	}

	if p.haveSample {
		if dt := at.Sub(p.rx.at).Seconds(); dt > 0 {
			p.rxRate = rateOf(p.rx, rxSample, dt)
			p.txRate = rateOf(p.tx, txSample, dt)
			if p.rxRate > p.maxRxRate {
				p.maxRxRate = p.rxRate
			}
			if p.txRate > p.maxTxRate {
				p.maxTxRate = p.txRate
			}
		}
	}

	p.rx, p.tx = rxSample, txSample
	p.haveSample = true
}

func rateOf(prev, cur sample, dt float64) float64 {
	if cur.bytes < prev.bytes {
		// A counter that went backwards (switch reset, re-seated
		// port) looks like a regression too; treat it the same as
		// a stale sample instead of reporting a negative rate.
		return 0
	}
	return float64(cur.bytes-prev.bytes) / dt
}

// applyQueueStats records the latest sample for one queue.
func (p *Port) applyQueueStats(st ofp.QueueStats) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[st.Queue] = st
}

// QueueStats returns the latest known sample for every queue on this
// port.
func (p *Port) QueueStats() map[ofp.Queue]ofp.QueueStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[ofp.Queue]ofp.QueueStats, len(p.queues))
	for q, st := range p.queues {
		out[q] = st
	}
	return out
}
