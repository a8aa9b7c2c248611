package topology

import (
	"container/heap"
	"errors"

	"github.com/ARCCN/runos-sub001/internal/discovery"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
)

// ErrNoPath is returned when no route satisfying the selector exists.
var ErrNoPath = errors.New("topology: no path")

// plan runs spec.md §4.5's five-step planning algorithm over e's
// current graph and returns the resulting Path, or ErrNoPath.
func (e *Engine) plan(route *Route) (*Path, error) {
	g := e.graph.Clone()

	inflated := e.usedLinks(g)

	for dpid, sw := range e.maintenanceSwitches() {
		if sw {
			g.RemoveSwitch(dpid)
		}
	}
	for ep := range e.maintenancePorts() {
		g.RemoveLinkAt(ep)
	}

	if route.Selector.UtilTrigger > 0 {
		removeOverUtilized(g, route.Selector.UtilTrigger)
	}

	var hops []discovery.Endpoint
	var err error

	switch {
	case len(route.Selector.ExactDPID) > 0:
		hops, err = walkExact(g, route.Selector.ExactDPID)
	case len(route.Selector.IncludeDPID) > 0 || len(route.Selector.ExcludeDPID) > 0:
		hops, err = walkWaypoints(g, route.From, route.To, route.Selector, inflated)
	default:
		hops, err = dijkstra(g, route.From, route.To, route.Selector.Metrics, inflated)
	}
	if err != nil {
		return nil, err
	}

	for _, p := range route.Paths {
		if hopsEqual(p.Hops, hops) {
			return nil, ErrNoPath
		}
	}

	id := route.nextPathID
	route.nextPathID++
	return &Path{ID: id, Hops: hops}, nil
}

func hopsEqual(a, b []discovery.Endpoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func removeOverUtilized(g *Graph, threshold uint8) {
	for ep, l := range g.byEndpoint {
		if l.UtilPercent > threshold {
			g.RemoveLinkAt(ep)
		}
	}
}

// usedLinks returns every Link traversed by any Path of any Route
// currently tracked by e, so the planner can inflate them and prefer a
// disjoint alternative.
func (e *Engine) usedLinks(g *Graph) map[*Link]bool {
	out := make(map[*Link]bool)
	for _, r := range e.routes {
		for _, p := range r.Paths {
			for _, l := range p.links(g) {
				out[l] = true
			}
		}
	}
	return out
}

func (e *Engine) maintenanceSwitches() map[ofconn.DPID]bool {
	out := make(map[ofconn.DPID]bool)
	if e.isSwitchMaintenance == nil {
		return out
	}
	for _, dpid := range e.graph.Switches() {
		out[dpid] = e.isSwitchMaintenance(dpid)
	}
	return out
}

func (e *Engine) maintenancePorts() map[discovery.Endpoint]bool {
	out := make(map[discovery.Endpoint]bool)
	if e.isPortMaintenance == nil {
		return out
	}
	for ep := range e.graph.byEndpoint {
		if e.isPortMaintenance(ep) {
			out[ep] = true
		}
	}
	return out
}

func effectiveWeight(l *Link, m Metric, inflated map[*Link]bool) uint64 {
	w := weight(l, m)
	if inflated[l] {
		w += maxWeight
	}
	return w
}

// walkExact follows the literal switch sequence in dpids, returning
// ErrNoPath if any hop has no connecting Link.
func walkExact(g *Graph, dpids []ofconn.DPID) ([]discovery.Endpoint, error) {
	if len(dpids) < 2 {
		return nil, ErrNoPath
	}
	var hops []discovery.Endpoint
	for i := 0; i+1 < len(dpids); i++ {
		l := g.BestLink(dpids[i], dpids[i+1], MetricHop)
		if l == nil {
			return nil, ErrNoPath
		}
		hops = append(hops, orient(l, dpids[i])...)
	}
	return hops, nil
}

// walkWaypoints runs Dijkstra stepwise through from -> include... -> to,
// with every excluded DPID removed from the graph for the whole walk.
func walkWaypoints(g *Graph, from, to ofconn.DPID, sel Selector, inflated map[*Link]bool) ([]discovery.Endpoint, error) {
	cleared := g
	if len(sel.ExcludeDPID) > 0 {
		cleared = g.Clone()
		for _, dpid := range sel.ExcludeDPID {
			cleared.RemoveSwitch(dpid)
		}
	}

	waypoints := append([]ofconn.DPID{from}, sel.IncludeDPID...)
	waypoints = append(waypoints, to)

	var hops []discovery.Endpoint
	for i := 0; i+1 < len(waypoints); i++ {
		leg, err := dijkstra(cleared, waypoints[i], waypoints[i+1], sel.Metrics, inflated)
		if err != nil {
			return nil, err
		}
		hops = append(hops, leg...)
	}
	return hops, nil
}

// orient returns l's two endpoints ordered so the Source side is on
// dpid, letting callers walking a known switch sequence build Hops in
// traversal order regardless of how the Link itself was recorded.
func orient(l *Link, dpid ofconn.DPID) []discovery.Endpoint {
	if l.Source.DPID == dpid {
		return []discovery.Endpoint{l.Source, l.Target}
	}
	return []discovery.Endpoint{l.Target, l.Source}
}

type queueItem struct {
	dpid ofconn.DPID
	dist uint64
}

type priorityQueue []queueItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x interface{}) { *pq = append(*pq, x.(queueItem)) }
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// dijkstra finds the lowest-weight path from -> to under metric m,
// choosing among parallel edges the one of lowest effective weight
// (inflation included), the same rule Graph.BestLink applies.
func dijkstra(g *Graph, from, to ofconn.DPID, m Metric, inflated map[*Link]bool) ([]discovery.Endpoint, error) {
	if from == to {
		return nil, ErrNoPath
	}

	dist := map[ofconn.DPID]uint64{from: 0}
	prevLink := map[ofconn.DPID]*Link{}
	visited := map[ofconn.DPID]bool{}

	pq := &priorityQueue{{dpid: from, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(queueItem)
		if visited[cur.dpid] {
			continue
		}
		visited[cur.dpid] = true
		if cur.dpid == to {
			break
		}

		for neighbor, links := range g.adj[cur.dpid] {
			if visited[neighbor] {
				continue
			}
			var best *Link
			var bestW uint64
			for _, l := range links {
				w := effectiveWeight(l, m, inflated)
				if best == nil || w < bestW {
					best, bestW = l, w
				}
			}
			if best == nil {
				continue
			}
			nd := cur.dist + bestW
			if existing, ok := dist[neighbor]; !ok || nd < existing {
				dist[neighbor] = nd
				prevLink[neighbor] = best
				heap.Push(pq, queueItem{dpid: neighbor, dist: nd})
			}
		}
	}

	if _, ok := dist[to]; !ok {
		return nil, ErrNoPath
	}

	var hops []discovery.Endpoint
	cur := to
	for cur != from {
		l := prevLink[cur]
		if l == nil {
			return nil, ErrNoPath
		}
		var prev ofconn.DPID
		if l.Source.DPID == cur {
			hops = append([]discovery.Endpoint{l.Target, l.Source}, hops...)
			prev = l.Target.DPID
		} else {
			hops = append([]discovery.Endpoint{l.Source, l.Target}, hops...)
			prev = l.Source.DPID
		}
		cur = prev
	}
	return hops, nil
}
