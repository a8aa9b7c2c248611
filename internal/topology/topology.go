package topology

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ARCCN/runos-sub001/internal/config"
	"github.com/ARCCN/runos-sub001/internal/discovery"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
)

// PortStats is the live per-link measurement TopologyEngine needs to
// refresh the port-speed/port-load/util weight inputs; a caller
// supplies it through Engine.UpdateLink.
type PortStats struct {
	SpeedMbps   uint64
	CapacityBps uint64
	CurrentBps  uint64
	UtilPercent uint8
	DropPercent uint8
}

// Engine implements TopologyEngine: it owns the Graph, every Route
// planned over it, and the trigger engine that keeps each Route's
// Paths' working/broken status current.
type Engine struct {
	log *logrus.Entry

	pollInterval time.Duration

	mu          sync.Mutex
	graph       *Graph
	routes      map[uint32]*Route
	nextRouteID uint32

	store Store

	isSwitchMaintenance func(ofconn.DPID) bool
	isPortMaintenance   func(discovery.Endpoint) bool

	// maintEndpoints remembers, across poll ticks, which endpoints were
	// last found in maintenance, so pollTriggers can detect the
	// entering/leaving edge instead of just the current level. Only
	// ever touched from the Run goroutine.
	maintEndpoints map[discovery.Endpoint]bool

	// flapTimers holds one pending debounce timer per (route, path,
	// flag) whose clear condition is waiting out Selector.Flapping
	// before routeTriggerInactive fires; guarded by mu.
	flapTimers map[flapKey]*time.Timer

	triggerActive   []func(routeID uint32, pathID uint8, flag TriggerFlag)
	triggerInactive []func(routeID uint32, pathID uint8, flag TriggerFlag)

	stop chan struct{}
}

// flapKey identifies one Path's trigger bit for flap-debounce timer
// bookkeeping.
type flapKey struct {
	route uint32
	path  uint8
	flag  TriggerFlag
}

// triggerTransition is a pending active/inactive edge collected while
// mu is held, fired (or scheduled) only after it is released so
// subscriber callbacks never run with the Engine's lock held.
type triggerTransition struct {
	route uint32
	path  uint8
	flag  TriggerFlag
	flap  uint16
}

// New builds an Engine. store may be nil, in which case Route mutations
// are never persisted (suitable for a backup node not yet primary).
func New(cfg config.Topology, store Store, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	interval := cfg.PollInterval
	if interval == 0 {
		interval = 2 * time.Second
	}
	return &Engine{
		log:            log,
		pollInterval:   interval,
		graph:          NewGraph(),
		routes:         make(map[uint32]*Route),
		maintEndpoints: make(map[discovery.Endpoint]bool),
		flapTimers:     make(map[flapKey]*time.Timer),
		store:          store,
		stop:           make(chan struct{}),
	}
}

// SetMaintenanceHooks wires the callbacks the planner uses to exclude
// switches/ports currently in maintenance. internal/inventory's
// Switch.Maintenance/Port.Maintenance satisfy these directly.
func (e *Engine) SetMaintenanceHooks(isSwitch func(ofconn.DPID) bool, isPort func(discovery.Endpoint) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.isSwitchMaintenance = isSwitch
	e.isPortMaintenance = isPort
}

// WireDiscovery hooks a Discoverer's linkDiscovered/linkBroken events
// directly into the graph.
func (e *Engine) WireDiscovery(d *discovery.Discoverer) {
	d.OnLinkDiscovered(e.addLink)
	d.OnLinkBroken(e.removeLink)
}

func (e *Engine) addLink(from, to discovery.Endpoint) {
	e.mu.Lock()
	e.graph.AddLink(&Link{Source: from, Target: to})
	e.mu.Unlock()

	e.clearTrigger(from, TriggerBroken)
}

func (e *Engine) removeLink(from, to discovery.Endpoint) {
	e.mu.Lock()
	e.graph.RemoveLinkAt(from)
	e.mu.Unlock()

	e.setTrigger(from, TriggerBroken)
}

// UpdateLink refreshes the live weight inputs of the Link incident to
// ep without altering its topology. Nothing in this module calls it
// outside this package's tests: the inventory's statistics poll does
// not feed it, so a Link's speed, load, utilization and drop inputs
// stay zero unless a caller supplies them.
func (e *Engine) UpdateLink(ep discovery.Endpoint, stats PortStats) {
	e.mu.Lock()
	defer e.mu.Unlock()

	l := e.graph.byEndpoint[ep]
	if l == nil {
		return
	}
	l.SpeedMbps = stats.SpeedMbps
	l.CapacityBps = stats.CapacityBps
	l.CurrentBps = stats.CurrentBps
	l.UtilPercent = stats.UtilPercent
	l.DropPercent = stats.DropPercent
}

// SetManualWeight assigns the operator-chosen weight a Link uses under
// MetricManual.
func (e *Engine) SetManualWeight(ep discovery.Endpoint, w uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if l := e.graph.byEndpoint[ep]; l != nil {
		l.manual = w
	}
}

// OnRouteTriggerActive/OnRouteTriggerInactive register trigger-edge
// observers, the Go equivalent of the original's routeTriggerActive/
// routeTriggerInactive Qt signals.
func (e *Engine) OnRouteTriggerActive(f func(routeID uint32, pathID uint8, flag TriggerFlag)) {
	e.triggerActive = append(e.triggerActive, f)
}

func (e *Engine) OnRouteTriggerInactive(f func(routeID uint32, pathID uint8, flag TriggerFlag)) {
	e.triggerInactive = append(e.triggerInactive, f)
}

// NewRoute plans an initial Path between from and to under selector
// and registers the Route, persisting it if a Store is configured.
func (e *Engine) NewRoute(from, to ofconn.DPID, selector Selector) (uint32, error) {
	e.mu.Lock()
	id := e.nextRouteID
	e.nextRouteID++
	route := &Route{ID: id, From: from, To: to, Selector: selector}
	e.routes[id] = route
	e.mu.Unlock()

	count := selector.ConfiguredCount
	if count == 0 {
		count = 1
	}
	for i := uint8(0); i < count; i++ {
		if _, err := e.newPathLocked(route); err != nil {
			break
		}
	}
	e.persist(route)
	return id, nil
}

// NewPath plans one additional alternate Path for an existing Route.
func (e *Engine) NewPath(routeID uint32, selector Selector) (uint8, error) {
	e.mu.Lock()
	route, ok := e.routes[routeID]
	e.mu.Unlock()
	if !ok {
		return 0, ErrNoPath
	}
	route.Selector = selector
	return e.newPathLocked(route)
}

func (e *Engine) newPathLocked(route *Route) (uint8, error) {
	e.mu.Lock()
	path, err := e.plan(route)
	if err != nil {
		e.mu.Unlock()
		return 0, err
	}
	route.Paths = append(route.Paths, path)
	e.mu.Unlock()

	e.persist(route)
	return path.ID, nil
}

// DeleteRoute removes a Route and its persisted record entirely.
func (e *Engine) DeleteRoute(id uint32) {
	e.mu.Lock()
	delete(e.routes, id)
	e.mu.Unlock()
	e.unpersist(id)
}

// DeletePath removes one Path from a Route. If the deleted Path was
// the used one, UsedPath is adjusted to preserve a valid index into
// the remaining Paths, per the Route invariant.
func (e *Engine) DeletePath(routeID uint32, pathID uint8) bool {
	e.mu.Lock()
	route, ok := e.routes[routeID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	_, idx := route.path(pathID)
	if idx < 0 {
		e.mu.Unlock()
		return false
	}
	route.Paths = append(route.Paths[:idx], route.Paths[idx+1:]...)
	if int(route.UsedPath) >= len(route.Paths) && len(route.Paths) > 0 {
		route.UsedPath = uint8(len(route.Paths) - 1)
	}
	e.mu.Unlock()

	e.persist(route)
	return true
}

// SetUsedPath selects which Path index is considered active for
// callers who don't want the dynamic-replan selector to pick for them.
func (e *Engine) SetUsedPath(routeID uint32, pathID uint8) bool {
	e.mu.Lock()
	route, ok := e.routes[routeID]
	if !ok {
		e.mu.Unlock()
		return false
	}
	_, idx := route.path(pathID)
	if idx < 0 {
		e.mu.Unlock()
		return false
	}
	route.UsedPath = uint8(idx)
	e.mu.Unlock()

	e.persist(route)
	return true
}

// GetUsedPath returns the currently selected Path's id.
func (e *Engine) GetUsedPath(routeID uint32) (uint8, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	route, ok := e.routes[routeID]
	if !ok || int(route.UsedPath) >= len(route.Paths) {
		return 0, false
	}
	return route.Paths[route.UsedPath].ID, true
}

// GetPath returns the hop sequence of one Path.
func (e *Engine) GetPath(routeID uint32, pathID uint8) ([]discovery.Endpoint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	route, ok := e.routes[routeID]
	if !ok {
		return nil, false
	}
	p, idx := route.path(pathID)
	if idx < 0 {
		return nil, false
	}
	return p.Hops, true
}

// GetFirstWorkPath returns the first Path, in declared order, with no
// trigger bits set.
func (e *Engine) GetFirstWorkPath(routeID uint32) ([]discovery.Endpoint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	route, ok := e.routes[routeID]
	if !ok {
		return nil, false
	}
	p := route.FirstWorkPath()
	if p == nil {
		return nil, false
	}
	return p.Hops, true
}

// RoutesByApp returns every Route owned by the given ServiceFlag,
// the core-side index the original's REST layer filters through.
func (e *Engine) RoutesByApp(app ServiceFlag) []*Route {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Route
	for _, r := range e.routes {
		if r.Selector.App == app {
			out = append(out, r)
		}
	}
	return out
}

// Route returns the Route by id, for read-only inspection.
func (e *Engine) Route(id uint32) (*Route, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.routes[id]
	return r, ok
}

// AddDynamic marks a Route as dynamically replanned: its selector is
// replaced, and FirstWorkPath is expected to be re-evaluated by the
// caller as links come and go rather than pinned via SetUsedPath.
func (e *Engine) AddDynamic(routeID uint32, selector Selector) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.routes[routeID]
	if !ok {
		return false
	}
	r.Dynamic = true
	r.Selector = selector
	e.persist(r)
	return true
}

// DelDynamic reverts a Route to manually-selected paths.
func (e *Engine) DelDynamic(routeID uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.routes[routeID]
	if !ok {
		return false
	}
	r.Dynamic = false
	e.persist(r)
	return true
}

// GetDynamic reports whether a Route is currently dynamically managed.
func (e *Engine) GetDynamic(routeID uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.routes[routeID]
	return ok && r.Dynamic
}

// evalFlag applies condition, flag's live true/false reading for p, to
// p's trigger bit and reports what the caller owes once the Engine's
// lock is released. condition true always asks for cancelPending
// (any debounce timer counting down this flag's prior clear must be
// killed — this also covers a reactivation mid-debounce, where the bit
// was never actually cleared) and, only on a fresh 0->1 edge, activate
// (routeTriggerActive). condition false returns a non-nil clear when
// the bit is still set, meaning a clear (immediate or debounced) is
// owed; the bit itself is left untouched here — per spec.md §4.5 a
// flap-debounced clear only takes effect once the timer settles.
func evalFlag(r *Route, p *Path, flag TriggerFlag, condition bool) (activate, cancelPending bool, clear *triggerTransition) {
	has := p.Triggers&flag != 0
	if condition {
		cancelPending = true
		if !has {
			p.Triggers |= flag
			activate = true
		}
		return
	}
	if has {
		t := triggerTransition{r.ID, p.ID, flag, r.Selector.Flapping}
		clear = &t
	}
	return
}

func appendFlagResult(r *Route, p *Path, flag TriggerFlag, activate, cancel bool, clear *triggerTransition, activations, cancellations, cleared *[]triggerTransition) {
	t := triggerTransition{r.ID, p.ID, flag, r.Selector.Flapping}
	if cancel {
		*cancellations = append(*cancellations, t)
	}
	if activate {
		*activations = append(*activations, t)
	}
	if clear != nil {
		*cleared = append(*cleared, *clear)
	}
}

// setTrigger sets flag's condition true on every Path incident to ep:
// each Path's refcount (for the refcounted Broken/Maintenance flags)
// is bumped, then evalFlag decides whether that is a fresh activation
// (fires routeTriggerActive) and/or cancels a flap-debounce timer left
// over from a clear that is no longer warranted.
func (e *Engine) setTrigger(ep discovery.Endpoint, flag TriggerFlag) {
	e.mu.Lock()
	var activations, cancellations []triggerTransition
	for _, r := range e.routes {
		for _, p := range r.Paths {
			if !pathUsesEndpoint(p, ep) {
				continue
			}
			switch flag {
			case TriggerBroken:
				p.brokenRefs++
			case TriggerMaintenance:
				p.maintRefs++
			}
			activate, cancel, _ := evalFlag(r, p, flag, true)
			appendFlagResult(r, p, flag, activate, cancel, nil, &activations, &cancellations, nil)
		}
	}
	e.mu.Unlock()

	for _, t := range cancellations {
		e.cancelFlap(t.route, t.path, t.flag)
	}
	for _, t := range activations {
		for _, h := range e.triggerActive {
			h(t.route, t.path, t.flag)
		}
	}
}

// clearTrigger sets flag's condition false on every Path incident to
// ep, honoring the broken/maintenance refcount (the condition is only
// false once the last offending link/endpoint is gone), and routes any
// resulting clear through scheduleOrFireClear so a configured
// flap-debounce is honored.
func (e *Engine) clearTrigger(ep discovery.Endpoint, flag TriggerFlag) {
	e.mu.Lock()
	var cleared []triggerTransition
	for _, r := range e.routes {
		for _, p := range r.Paths {
			if !pathUsesEndpoint(p, ep) {
				continue
			}
			ready := true
			switch flag {
			case TriggerBroken:
				if p.brokenRefs > 0 {
					p.brokenRefs--
				}
				ready = p.brokenRefs == 0
			case TriggerMaintenance:
				if p.maintRefs > 0 {
					p.maintRefs--
				}
				ready = p.maintRefs == 0
			}
			if !ready {
				continue
			}
			if _, _, clear := evalFlag(r, p, flag, false); clear != nil {
				cleared = append(cleared, *clear)
			}
		}
	}
	e.mu.Unlock()

	for _, t := range cleared {
		e.scheduleOrFireClear(t.route, t.path, t.flag, t.flap)
	}
}

// scheduleOrFireClear clears the bit and fires routeTriggerInactive
// immediately when no flap-debounce is configured for the Path;
// otherwise it (re)starts a per-(route, path, flag) timer and leaves
// the bit set — so the Path stays non-working throughout the debounce
// window — clearing it and firing the event only once the timer
// settles without an intervening reactivation, per spec.md §4.5's
// "start/restart a flap timer; emit routeTriggerInactive only when the
// timer fires without further activation."
func (e *Engine) scheduleOrFireClear(routeID uint32, pathID uint8, flag TriggerFlag, flapSeconds uint16) {
	if flapSeconds == 0 {
		e.clearAndFire(routeID, pathID, flag)
		return
	}

	key := flapKey{routeID, pathID, flag}
	e.mu.Lock()
	if t, ok := e.flapTimers[key]; ok {
		t.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(time.Duration(flapSeconds)*time.Second, func() {
		e.mu.Lock()
		if e.flapTimers[key] != timer {
			// Superseded or cancelled by a later call before this
			// goroutine could acquire the lock.
			e.mu.Unlock()
			return
		}
		delete(e.flapTimers, key)
		e.mu.Unlock()
		e.clearAndFire(routeID, pathID, flag)
	})
	e.flapTimers[key] = timer
	e.mu.Unlock()
}

// clearAndFire clears flag on the named Path, if it is still set, and
// fires routeTriggerInactive; shared by the no-debounce fast path and
// by a flap timer settling.
func (e *Engine) clearAndFire(routeID uint32, pathID uint8, flag TriggerFlag) {
	e.mu.Lock()
	r, ok := e.routes[routeID]
	if !ok {
		e.mu.Unlock()
		return
	}
	p, idx := r.path(pathID)
	if idx < 0 || p.Triggers&flag == 0 {
		e.mu.Unlock()
		return
	}
	p.Triggers &^= flag
	e.mu.Unlock()

	e.fireInactive(routeID, pathID, flag)
}

// cancelFlap stops and discards a pending flap timer for (route, path,
// flag), if one is running; called whenever the flag's condition is
// true so a clear that is counting down toward routeTriggerInactive
// gets cancelled the moment it reactivates.
func (e *Engine) cancelFlap(routeID uint32, pathID uint8, flag TriggerFlag) {
	key := flapKey{routeID, pathID, flag}
	e.mu.Lock()
	if t, ok := e.flapTimers[key]; ok {
		t.Stop()
		delete(e.flapTimers, key)
	}
	e.mu.Unlock()
}

func (e *Engine) fireInactive(routeID uint32, pathID uint8, flag TriggerFlag) {
	for _, h := range e.triggerInactive {
		h(routeID, pathID, flag)
	}
}

func pathUsesEndpoint(p *Path, ep discovery.Endpoint) bool {
	for _, h := range p.Hops {
		if h == ep {
			return true
		}
	}
	return false
}

// Run polls live drop/utilization stats every pollInterval, comparing
// against each Path's configured thresholds, until ctx is done or Close
// is called.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.pollTriggers()
		}
	}
}

func (e *Engine) Close() {
	select {
	case <-e.stop:
	default:
		close(e.stop)
	}

	e.mu.Lock()
	for key, t := range e.flapTimers {
		t.Stop()
		delete(e.flapTimers, key)
	}
	e.mu.Unlock()
}

// pollTriggers reads each Link's live maintenance/drop/utilization
// fields (maintenance from the hooks SetMaintenanceHooks wired,
// drop/util from the fields UpdateLink refreshes) and toggles the
// maintenance/drop/util trigger bits per spec.md §4.5, emitting the
// same routeTriggerActive/routeTriggerInactive edges setTrigger/
// clearTrigger do.
func (e *Engine) pollTriggers() {
	e.pollMaintenance()
	e.pollUtilAndDrop()
}

// pollMaintenance detects endpoints entering or leaving maintenance
// since the previous tick and drives the maintenance trigger through
// setTrigger/clearTrigger, so a switch or port placed in maintenance
// marks every Path through it non-working within one poll cycle
// (boundary property #11), and Paths recover the same way a broken
// link does.
func (e *Engine) pollMaintenance() {
	e.mu.Lock()
	endpoints := make([]discovery.Endpoint, 0, len(e.graph.byEndpoint))
	for ep := range e.graph.byEndpoint {
		endpoints = append(endpoints, ep)
	}
	e.mu.Unlock()

	current := make(map[discovery.Endpoint]bool, len(endpoints))
	for _, ep := range endpoints {
		current[ep] = true
	}
	for ep := range e.maintEndpoints {
		if !current[ep] {
			delete(e.maintEndpoints, ep)
		}
	}

	for _, ep := range endpoints {
		inMaint := e.endpointMaintenance(ep)
		was := e.maintEndpoints[ep]
		if inMaint == was {
			continue
		}
		if inMaint {
			e.maintEndpoints[ep] = true
			e.setTrigger(ep, TriggerMaintenance)
		} else {
			delete(e.maintEndpoints, ep)
			e.clearTrigger(ep, TriggerMaintenance)
		}
	}
}

func (e *Engine) endpointMaintenance(ep discovery.Endpoint) bool {
	if e.isSwitchMaintenance != nil && e.isSwitchMaintenance(ep.DPID) {
		return true
	}
	if e.isPortMaintenance != nil && e.isPortMaintenance(ep) {
		return true
	}
	return false
}

// pollUtilAndDrop reads each Path's worst-case live utilization/drop
// percentage across its Links and toggles TriggerUtil/TriggerDrop
// against the Route's configured thresholds, via the same evalFlag
// logic setTrigger/clearTrigger use so a configured flap-debounce is
// honored here too.
func (e *Engine) pollUtilAndDrop() {
	e.mu.Lock()
	var activations, cancellations, cleared []triggerTransition
	for _, r := range e.routes {
		for _, p := range r.Paths {
			var worstUtil, worstDrop uint8
			for _, l := range p.links(e.graph) {
				if l.UtilPercent > worstUtil {
					worstUtil = l.UtilPercent
				}
				if l.DropPercent > worstDrop {
					worstDrop = l.DropPercent
				}
			}

			wantUtil := r.Selector.UtilTrigger > 0 && worstUtil > r.Selector.UtilTrigger
			activate, cancel, clear := evalFlag(r, p, TriggerUtil, wantUtil)
			appendFlagResult(r, p, TriggerUtil, activate, cancel, clear, &activations, &cancellations, &cleared)

			wantDrop := r.Selector.DropTrigger > 0 && worstDrop > r.Selector.DropTrigger
			activate, cancel, clear = evalFlag(r, p, TriggerDrop, wantDrop)
			appendFlagResult(r, p, TriggerDrop, activate, cancel, clear, &activations, &cancellations, &cleared)
		}
	}
	e.mu.Unlock()

	for _, t := range cancellations {
		e.cancelFlap(t.route, t.path, t.flag)
	}
	for _, t := range activations {
		for _, h := range e.triggerActive {
			h(t.route, t.path, t.flag)
		}
	}
	for _, t := range cleared {
		e.scheduleOrFireClear(t.route, t.path, t.flag, t.flap)
	}
}
