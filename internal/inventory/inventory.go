// Package inventory implements SwitchInventory: the lifecycle of Switch
// and Port entities, and the periodic statistics poll that feeds each
// Port's rolling window.
package inventory

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ARCCN/runos-sub001/internal/agent"
	"github.com/ARCCN/runos-sub001/internal/config"
	"github.com/ARCCN/runos-sub001/internal/devicedb"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofputil"
)

// Inventory is SwitchInventory: arena-style stores for Switch and Port,
// keyed by their handles (DPID, and (DPID, port-number) respectively),
// plus the observer registry their lifecycle transitions broadcast
// through.
type Inventory struct {
	db  *devicedb.DB
	log *logrus.Entry

	pollInterval   time.Duration
	startupTimeout time.Duration

	switches *switchStore
	ports    *portStore

	events *events

	muxHooks []func(sess *ofconn.Session, mux *ofconn.TypeMux)

	stop chan struct{}
}

// New builds an empty Inventory. db supplies the table-layout defaults
// applied once a switch's description arrives; a nil db falls back to
// devicedb.Default() for every switch.
func New(db *devicedb.DB, cfg config.SwitchInventory, log *logrus.Entry) *Inventory {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	poll := cfg.PollInterval
	if poll == 0 {
		poll = 2 * time.Second
	}
	timeout := cfg.StartupTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &Inventory{
		db:             db,
		log:            log,
		pollInterval:   poll,
		startupTimeout: timeout,
		switches:       newSwitchStore(),
		ports:          newPortStore(),
		events:         newEvents(log),
		stop:           make(chan struct{}),
	}
}

// OnMux registers f to be called once for every session, right after
// Inventory has built that session's mux and registered its own OFAgent
// and handlers on it. LinkDiscoverer's packet-in handler and
// FlowVerifier's flow-removed handler attach themselves this way
// instead of each building a competing mux, since a Session dispatches
// through exactly one.
func (inv *Inventory) OnMux(f func(sess *ofconn.Session, mux *ofconn.TypeMux)) {
	inv.muxHooks = append(inv.muxHooks, f)
}

// NewMux builds the per-session TypeMux a ConnectionServer should use
// for sess: it creates and registers sess's OFAgent, registers the
// inventory's own PortStatus/close handlers, runs every hook
// registered via OnMux, and kicks off the features->desc->port-desc->
// config startup sequence in the background. Pass this method itself
// as the Server's mux factory.
func (inv *Inventory) NewMux(sess *ofconn.Session) *ofconn.TypeMux {
	mux := ofconn.NewTypeMux(inv.log)

	ag := agent.New(sess)
	ag.RegisterWith(mux)

	mux.HandleFunc(ofconn.TypePortStatus, func(s *ofconn.Session, m *ofconn.Message) {
		inv.onPortStatus(s, m)
	})
	mux.Handle(ofconn.TypeEchoRequest, ofputil.EchoHandler(nil))
	mux.HandleClose(func(s *ofconn.Session) {
		inv.onSessionClosed(s)
	})

	for _, hook := range inv.muxHooks {
		hook(sess, mux)
	}

	go inv.onboard(sess, ag)

	return mux
}

// onboard runs the startup sequence for a freshly negotiated session:
// features, then description, port description, and config, in that
// order, exactly as spec.md §4.3 describes. It is the only place a
// Switch is created.
func (inv *Inventory) onboard(sess *ofconn.Session, ag *agent.Agent) {
	ctx, cancel := context.WithTimeout(context.Background(), inv.startupTimeout)
	defer cancel()

	feat, err := ag.RequestFeatures(ctx)
	if err != nil {
		inv.log.WithError(err).Warn("inventory: features request failed")
		return
	}
	dpid := ofconn.DPID(feat.DatapathID)

	sw := newSwitch(dpid, ag)
	inv.switches.put(dpid, sw)

	desc, err := ag.RequestSwitchDesc(ctx)
	if err != nil {
		inv.log.WithError(err).WithField("dpid", dpid).Warn("inventory: switch-desc request failed")
		return
	}

	ports, err := ag.RequestPortDesc(ctx)
	if err != nil {
		inv.log.WithError(err).WithField("dpid", dpid).Warn("inventory: port-desc request failed")
		return
	}

	cfg, err := ag.RequestConfig(ctx)
	if err != nil {
		inv.log.WithError(err).WithField("dpid", dpid).Warn("inventory: get-config request failed")
		return
	}

	tables := devicedb.Default()
	if inv.db != nil {
		tables = inv.db.Lookup(devicedb.Key{
			Manufacturer: trimPad(desc.Manufacturer),
			Hardware:     trimPad(desc.Hardware),
			Software:     trimPad(desc.Software),
			Serial:       trimPad(desc.SerialNum),
		})
	}

	sw.setUp(*feat, *desc, *cfg, tables)

	for _, p := range ports {
		port := newPort(dpid, p)
		inv.ports.put(port.Key, port)
		inv.events.firePortAdded(port)
		if port.LinkUp() {
			inv.events.fireLinkUp(port)
		}
	}

	inv.events.fireSwitchUp(sw)
}

// onSessionClosed tears a switch and its ports down once its session is
// lost. Per spec.md §9's arena-store redesign, liveness is driven
// entirely by this event, not by any destructor running over a
// reference cycle.
func (inv *Inventory) onSessionClosed(sess *ofconn.Session) {
	dpid, ok := sess.DPID()
	if !ok {
		return
	}

	sw, ok := inv.switches.get(dpid)
	if !ok {
		return
	}
	sw.setDown()
	inv.events.fireSwitchDown(sw)

	for _, port := range inv.ports.byDPID(dpid) {
		inv.ports.delete(port.Key)
		inv.events.fireLinkDown(port)
		inv.events.firePortDeleted(port)
	}
	inv.switches.delete(dpid)
}

// Switch returns the Switch for dpid, if known.
func (inv *Inventory) Switch(dpid ofconn.DPID) (*Switch, bool) {
	return inv.switches.get(dpid)
}

// Switches returns every currently known switch, up or not.
func (inv *Inventory) Switches() []*Switch {
	return inv.switches.all()
}

// AliveSwitches returns every switch whose startup sequence has
// completed. LinkDiscoverer and the stats poll both iterate this.
func (inv *Inventory) AliveSwitches() []*Switch {
	all := inv.switches.all()
	out := make([]*Switch, 0, len(all))
	for _, sw := range all {
		if sw.Up() {
			out = append(out, sw)
		}
	}
	return out
}

// Port returns the Port identified by key, if known.
func (inv *Inventory) Port(key PortKey) (*Port, bool) {
	return inv.ports.get(key)
}

// PortsOf returns every port currently known for dpid.
func (inv *Inventory) PortsOf(dpid ofconn.DPID) []*Port {
	return inv.ports.byDPID(dpid)
}

// Close stops the background statistics poll, if running.
func (inv *Inventory) Close() {
	select {
	case <-inv.stop:
	default:
		close(inv.stop)
	}
}
