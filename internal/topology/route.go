package topology

import (
	"github.com/ARCCN/runos-sub001/internal/discovery"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
)

// ServiceFlag tags which kind of caller owns a Route, mirroring the
// original's ServiceFlag enum.
type ServiceFlag uint8

const (
	ServiceNone ServiceFlag = iota
	ServiceInBand
	ServiceMCast
	ServiceBBD
)

// TriggerFlag is a bit in a Path's trigger bitmask.
type TriggerFlag uint8

const (
	TriggerBroken TriggerFlag = 1 << iota
	TriggerMaintenance
	TriggerDrop
	TriggerUtil
)

// Selector carries every option newRoute/newPath accepts, matching
// spec.md §4.5's RouteSelector field list one-for-one.
type Selector struct {
	App ServiceFlag

	Metrics Metric

	// Flapping is the per-path trigger debounce, in seconds; zero
	// disables debounce (a clear condition fires routeTriggerInactive
	// immediately).
	Flapping uint16

	BrokenTrigger bool
	// DropTrigger/UtilTrigger are percentage thresholds; zero disables
	// the corresponding trigger.
	DropTrigger uint8
	UtilTrigger uint8

	// ConfiguredCount is how many alternate paths to plan up-front
	// (1-9) when the route is created.
	ConfiguredCount uint8

	IncludeDPID []ofconn.DPID
	ExcludeDPID []ofconn.DPID
	ExactDPID   []ofconn.DPID
}

// Path is one planned sequence of Links from a Route's source to its
// target.
type Path struct {
	ID uint8

	// Hops is the ordered switch_and_port sequence the original
	// exposes as data_link_route: for each traversed Link, its Source
	// then Target endpoint, in traversal order.
	Hops []discovery.Endpoint

	Triggers TriggerFlag

	// brokenRefs/maintRefs count how many of this Path's Links are
	// currently broken/in-maintenance; the corresponding trigger bit
	// only clears once its refcount reaches zero.
	brokenRefs int
	maintRefs  int
}

// Working reports whether every trigger bit on the Path is clear.
func (p *Path) Working() bool {
	return p.Triggers == 0
}

// links returns the Links this Path traverses, derived from Hops
// (pairs of endpoints), for graph-weight inflation during planning.
func (p *Path) links(g *Graph) []*Link {
	out := make([]*Link, 0, len(p.Hops)/2)
	for i := 0; i+1 < len(p.Hops); i += 2 {
		if l := g.byEndpoint[p.Hops[i]]; l != nil {
			out = append(out, l)
		}
	}
	return out
}

// Route is spec.md's Route entity: a planning intent between two
// switches, holding every Path planned for it so far.
type Route struct {
	ID       uint32
	From, To ofconn.DPID

	Selector Selector

	Paths      []*Path
	UsedPath   uint8
	nextPathID uint8

	Dynamic bool
}

func (r *Route) path(id uint8) (*Path, int) {
	for i, p := range r.Paths {
		if p.ID == id {
			return p, i
		}
	}
	return nil, -1
}

// FirstWorkPath returns the first Path (in declared order) whose
// trigger bits are all clear.
func (r *Route) FirstWorkPath() *Path {
	for _, p := range r.Paths {
		if p.Working() {
			return p
		}
	}
	return nil
}
