package inventory

import "github.com/sirupsen/logrus"

// events is the observer registry SwitchInventory broadcasts its
// lifecycle transitions through: one slice of subscriber closures per
// event kind, delivered in registration order, the same texture
// ofconn.TypeMux uses for inbound message fanout — this package's
// equivalent of the original's reflection-based signal/slot mechanism.
type events struct {
	log *logrus.Entry

	switchUp    []func(*Switch)
	switchDown  []func(*Switch)
	portAdded   []func(*Port)
	portDeleted []func(*Port)
	linkUp      []func(*Port)
	linkDown    []func(*Port)
}

func newEvents(log *logrus.Entry) *events {
	return &events{log: log}
}

// OnSwitchUp registers f to be called once a Switch has completed its
// features->desc->port-desc->config startup sequence.
func (inv *Inventory) OnSwitchUp(f func(*Switch)) {
	inv.events.switchUp = append(inv.events.switchUp, f)
}

// OnSwitchDown registers f to be called when a Switch's session is lost.
func (inv *Inventory) OnSwitchDown(f func(*Switch)) {
	inv.events.switchDown = append(inv.events.switchDown, f)
}

// OnPortAdded registers f to be called when a new Port is created.
func (inv *Inventory) OnPortAdded(f func(*Port)) {
	inv.events.portAdded = append(inv.events.portAdded, f)
}

// OnPortDeleted registers f to be called when a Port is removed.
func (inv *Inventory) OnPortDeleted(f func(*Port)) {
	inv.events.portDeleted = append(inv.events.portDeleted, f)
}

// OnLinkUp registers f to be called when a port transitions to link-up,
// either at creation or via a later PortStatus modify.
func (inv *Inventory) OnLinkUp(f func(*Port)) {
	inv.events.linkUp = append(inv.events.linkUp, f)
}

// OnLinkDown registers f to be called when a port transitions to
// link-down, including the forced transition a port deletion causes.
func (inv *Inventory) OnLinkDown(f func(*Port)) {
	inv.events.linkDown = append(inv.events.linkDown, f)
}

func (e *events) fireSwitchUp(sw *Switch) {
	for _, h := range e.switchUp {
		e.callSwitch("switchUp", h, sw)
	}
}

func (e *events) fireSwitchDown(sw *Switch) {
	for _, h := range e.switchDown {
		e.callSwitch("switchDown", h, sw)
	}
}

func (e *events) firePortAdded(p *Port) {
	for _, h := range e.portAdded {
		e.callPort("portAdded", h, p)
	}
}

func (e *events) firePortDeleted(p *Port) {
	for _, h := range e.portDeleted {
		e.callPort("portDeleted", h, p)
	}
}

func (e *events) fireLinkUp(p *Port) {
	for _, h := range e.linkUp {
		e.callPort("linkUp", h, p)
	}
}

func (e *events) fireLinkDown(p *Port) {
	for _, h := range e.linkDown {
		e.callPort("linkDown", h, p)
	}
}

// callSwitch and callPort recover from a panicking subscriber the way
// TypeMux.Dispatch does, so one misbehaving observer cannot take the
// others down with it.
func (e *events) callSwitch(name string, h func(*Switch), sw *Switch) {
	defer e.recover(name)
	h(sw)
}

func (e *events) callPort(name string, h func(*Port), p *Port) {
	defer e.recover(name)
	h(p)
}

func (e *events) recover(name string) {
	if r := recover(); r != nil && e.log != nil {
		e.log.WithField("event", name).WithField("panic", r).Error("inventory: observer panicked")
	}
}
