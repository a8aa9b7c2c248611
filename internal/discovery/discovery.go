// Package discovery implements LinkDiscoverer: beacon-based link
// discovery with aging, exactly as spec.md §4.4 describes.
package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ARCCN/runos-sub001/internal/config"
	"github.com/ARCCN/runos-sub001/internal/inventory"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// Endpoint identifies one side of a link: a switch port.
type Endpoint struct {
	DPID ofconn.DPID
	Port ofp.PortNo
}

// less orders endpoints by (DPID, port), the ordering canonical() uses
// to pick which side of a link is reported first.
func (e Endpoint) less(o Endpoint) bool {
	if e.DPID != o.DPID {
		return e.DPID < o.DPID
	}
	return e.Port < o.Port
}

// canonical places the lexicographically smaller endpoint first, so a
// link between the same two ports is always reported the same way
// regardless of which side's beacon completed it.
func canonical(a, b Endpoint) (Endpoint, Endpoint) {
	if b.less(a) {
		return b, a
	}
	return a, b
}

// DiscoveredLink is a confirmed bidirectional link between two switch
// ports, valid until ValidThrough unless refreshed by another beacon.
type DiscoveredLink struct {
	Source       Endpoint
	Target       Endpoint
	ValidThrough time.Time
}

type directedPair struct {
	from, to Endpoint
}

// Discoverer implements LinkDiscoverer: it emits beacons from every
// non-local, link-up, non-maintenance port of every alive switch, promotes half-links to full
// DiscoveredLinks once both directions have been observed, and expires
// links and unpaired half-links on its own polling interval.
type Discoverer struct {
	inv *inventory.Inventory
	log *logrus.Entry

	interval   time.Duration
	queue      int
	vlanTagged bool
	vlanID     uint16

	mu      sync.Mutex
	waiting map[directedPair]time.Time
	links   map[Endpoint]*DiscoveredLink

	events *linkEvents

	stop chan struct{}
}

// New builds a Discoverer over inv. inv's port-down and port-deleted
// events are wired in immediately, so a Discoverer is ready to react to
// link loss even before Run is started.
func New(inv *inventory.Inventory, cfg config.LinkDiscovery, log *logrus.Entry) *Discoverer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	interval := cfg.PollInterval
	if interval == 0 {
		interval = 5 * time.Second
	}

	d := &Discoverer{
		inv:      inv,
		log:      log,
		interval: interval,
		queue:    cfg.Queue,
		waiting:  make(map[directedPair]time.Time),
		links:    make(map[Endpoint]*DiscoveredLink),
		events:   newLinkEvents(log),
		stop:     make(chan struct{}),
	}

	inv.OnMux(func(sess *ofconn.Session, mux *ofconn.TypeMux) {
		mux.HandleFunc(ofconn.TypePacketIn, func(s *ofconn.Session, m *ofconn.Message) {
			d.onPacketIn(s, m)
		})
	})
	inv.OnLinkDown(func(p *inventory.Port) {
		d.clearLinkAt(Endpoint{DPID: p.Key.DPID, Port: p.Key.PortNo})
	})
	inv.OnPortDeleted(func(p *inventory.Port) {
		d.clearLinkAt(Endpoint{DPID: p.Key.DPID, Port: p.Key.PortNo})
	})

	return d
}

// OnLinkDiscovered registers f to be called when a new link is found,
// or a previously broken link recovers.
func (d *Discoverer) OnLinkDiscovered(f func(from, to Endpoint)) {
	d.events.discovered = append(d.events.discovered, f)
}

// OnLinkBroken registers f to be called when a link is no longer
// usable: expiry, port-down, or port deletion.
func (d *Discoverer) OnLinkBroken(f func(from, to Endpoint)) {
	d.events.broken = append(d.events.broken, f)
}

// Links returns every currently confirmed link.
func (d *Discoverer) Links() []DiscoveredLink {
	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[*DiscoveredLink]bool)
	out := make([]DiscoveredLink, 0, len(d.links)/2)
	for _, l := range d.links {
		if seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, *l)
	}
	return out
}

// Other returns the endpoint on the far side of ep's link, if any.
func (d *Discoverer) Other(ep Endpoint) (Endpoint, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	l, ok := d.links[ep]
	if !ok {
		return Endpoint{}, false
	}
	if l.Source == ep {
		return l.Target, true
	}
	return l.Source, true
}

// Run emits beacons on Discoverer's polling interval until ctx is done
// or Close is called, and expires stale links/half-links on the same
// tick.
func (d *Discoverer) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			d.emitBeacons(ctx)
			d.expire()
		}
	}
}

// Close stops Run.
func (d *Discoverer) Close() {
	select {
	case <-d.stop:
	default:
		close(d.stop)
	}
}

func (d *Discoverer) emitBeacons(ctx context.Context) {
	for _, sw := range d.inv.AliveSwitches() {
		ag := sw.Agent()
		for _, port := range d.inv.PortsOf(sw.DPID) {
			if port.Key.PortNo >= ofp.PortMax || port.Maintenance() || !port.LinkUp() {
				continue
			}
			frame := encodeBeacon(sw.DPID, port.Key.PortNo, d.vlanID, d.vlanTagged)
			actions := ofp.Actions{}
			if d.queue >= 0 {
				actions = append(actions, &ofp.ActionSetQueue{QueueID: ofp.Queue(d.queue)})
			}
			actions = append(actions, &ofp.ActionOutput{Port: port.Key.PortNo})

			out := &ofp.PacketOut{
				Buffer:  ofp.NoBuffer,
				InPort:  ofp.PortController,
				Actions: actions,
				Data:    frame,
			}
			if err := ag.PacketOut(ctx, out); err != nil {
				d.log.WithError(err).WithField("dpid", sw.DPID).WithField("port", port.Key.PortNo).
					Debug("discovery: beacon packet-out failed")
			}
		}
	}
}

// onPacketIn inspects an inbound packet-in; anything that doesn't parse
// as one of this controller's own beacons is silently ignored, since
// this handler is registered for every packet-in on every session.
func (d *Discoverer) onPacketIn(sess *ofconn.Session, m *ofconn.Message) {
	var pi ofp.PacketIn
	if err := m.Decode(&pi); err != nil {
		return
	}

	fromDPID, fromPort, err := decodeBeacon(pi.Data)
	if err != nil {
		return
	}

	toDPID, ok := sess.DPID()
	if !ok {
		return
	}
	inField := pi.Match.Field(ofp.XMTypeInPort)
	if inField == nil {
		return
	}
	toPort := ofp.PortNo(inField.Value.UInt32())

	d.handleBeacon(Endpoint{DPID: fromDPID, Port: fromPort}, Endpoint{DPID: toDPID, Port: toPort})
}

// handleBeacon implements spec.md §4.4's half-link waiting/promotion
// state machine for one observed beacon (source=from, target=to).
func (d *Discoverer) handleBeacon(from, to Endpoint) {
	if _, ok := d.inv.Switch(from.DPID); !ok {
		d.log.WithField("from", from).WithField("to", to).Warn("discovery: beacon from unknown switch")
		return
	}
	if _, ok := d.inv.Switch(to.DPID); !ok {
		d.log.WithField("from", from).WithField("to", to).Warn("discovery: beacon to unknown switch")
		return
	}

	now := time.Now()
	validThrough := now.Add(2 * d.interval)

	d.mu.Lock()
	_, fwdWaiting := d.waiting[directedPair{from, to}]
	_, revWaiting := d.waiting[directedPair{to, from}]

	var promoted bool
	var broken []DiscoveredLink

	switch {
	case revWaiting:
		delete(d.waiting, directedPair{to, from})
		promoted = d.addLinkLocked(from, to, validThrough)
	case fwdWaiting:
		// Already waiting in this direction; nothing else to do.
	default:
		if l := d.removeLinkAtLocked(from); l != nil {
			broken = append(broken, *l)
		}
		if l := d.removeLinkAtLocked(to); l != nil {
			broken = append(broken, *l)
		}
	}

	d.waiting[directedPair{from, to}] = validThrough
	d.mu.Unlock()

	if promoted {
		d.events.fireDiscovered(from, to)
	}
	for _, l := range broken {
		d.events.fireBroken(l.Source, l.Target)
	}
}

// addLinkLocked promotes (from, to) to a confirmed link, refreshing an
// existing link's validity instead of re-announcing it when the two
// endpoints are already linked. The "neither half waiting" branch in
// handleBeacon already cleared any stale link incident to either
// endpoint before a waiting half-link can exist, so the only case left
// to reconcile here is "this exact link already exists". Caller holds
// d.mu.
func (d *Discoverer) addLinkLocked(from, to Endpoint, validThrough time.Time) (isNew bool) {
	if existing, ok := d.links[from]; ok {
		if (existing.Source == from && existing.Target == to) || (existing.Source == to && existing.Target == from) {
			existing.ValidThrough = validThrough
			return false
		}
	}

	s, t := canonical(from, to)
	link := &DiscoveredLink{Source: s, Target: t, ValidThrough: validThrough}
	d.links[from] = link
	d.links[to] = link
	return true
}

// removeLinkAtLocked removes and returns the link incident to ep, if
// any. Caller holds d.mu.
func (d *Discoverer) removeLinkAtLocked(ep Endpoint) *DiscoveredLink {
	l, ok := d.links[ep]
	if !ok {
		return nil
	}
	delete(d.links, l.Source)
	delete(d.links, l.Target)
	return l
}

// clearLinkAt immediately breaks any link incident to ep, as spec.md
// §4.4 requires on a port-down or port-deletion event.
func (d *Discoverer) clearLinkAt(ep Endpoint) {
	d.mu.Lock()
	l := d.removeLinkAtLocked(ep)
	d.mu.Unlock()

	if l != nil {
		d.events.fireBroken(l.Source, l.Target)
	}
}

// expire drops every link whose deadline has passed (emitting
// linkBroken for each) and silently discards unpaired waiting
// half-links past their own deadline.
func (d *Discoverer) expire() {
	now := time.Now()

	d.mu.Lock()
	seen := make(map[*DiscoveredLink]bool)
	var expired []DiscoveredLink
	for _, l := range d.links {
		if seen[l] || !l.ValidThrough.Before(now) {
			continue
		}
		seen[l] = true
		expired = append(expired, *l)
		delete(d.links, l.Source)
		delete(d.links, l.Target)
	}
	for pair, validThrough := range d.waiting {
		if validThrough.Before(now) {
			delete(d.waiting, pair)
		}
	}
	d.mu.Unlock()

	for _, l := range expired {
		d.events.fireBroken(l.Source, l.Target)
	}
}
