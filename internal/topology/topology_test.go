package topology

import (
	"sync"
	"testing"
	"time"

	"github.com/ARCCN/runos-sub001/internal/config"
	"github.com/ARCCN/runos-sub001/internal/discovery"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// line(a, aPort, b, bPort) is a small helper building a Link for tests.
func line(a ofconn.DPID, aPort uint32, b ofconn.DPID, bPort uint32) *Link {
	return &Link{
		Source: discovery.Endpoint{DPID: a, Port: ofp.PortNo(aPort)},
		Target: discovery.Endpoint{DPID: b, Port: ofp.PortNo(bPort)},
	}
}

func TestDijkstraPicksShortestHopPath(t *testing.T) {
	g := NewGraph()
	// 1 -- 2 -- 4 and 1 -- 3 -- 4, both two hops; plus a direct 1 -- 4.
	g.AddLink(line(1, 1, 2, 1))
	g.AddLink(line(2, 2, 4, 1))
	g.AddLink(line(1, 2, 3, 1))
	g.AddLink(line(3, 2, 4, 2))
	g.AddLink(line(1, 3, 4, 3))

	hops, err := dijkstra(g, 1, 4, MetricHop, nil)
	if err != nil {
		t.Fatalf("dijkstra: %v", err)
	}
	if len(hops) != 2 {
		t.Fatalf("expected the direct one-hop link, got %d hops: %+v", len(hops), hops)
	}
	if hops[0].DPID != 1 || hops[1].DPID != 4 {
		t.Fatalf("unexpected path: %+v", hops)
	}
}

func TestPlanningInflatesUsedLinks(t *testing.T) {
	e := New(config.Topology{}, nil, nil)
	e.graph.AddLink(line(1, 1, 2, 1))
	e.graph.AddLink(line(2, 2, 3, 1))
	e.graph.AddLink(line(1, 2, 4, 1))
	e.graph.AddLink(line(4, 2, 3, 2))

	id, err := e.NewRoute(1, 3, Selector{Metrics: MetricHop})
	if err != nil {
		t.Fatalf("NewRoute: %v", err)
	}
	route, _ := e.Route(id)
	if len(route.Paths) != 1 {
		t.Fatalf("expected one planned path, got %d", len(route.Paths))
	}
	first := route.Paths[0].Hops

	pathID, err := e.NewPath(id, Selector{Metrics: MetricHop, ConfiguredCount: 1})
	if err != nil {
		t.Fatalf("NewPath: %v", err)
	}
	second, _ := e.GetPath(id, pathID)

	if hopsEqual(first, second) {
		t.Fatal("expected the second plan to avoid the first path's links")
	}
}

func TestDuplicatePathRejected(t *testing.T) {
	e := New(config.Topology{}, nil, nil)
	e.graph.AddLink(line(1, 1, 2, 1))

	id, err := e.NewRoute(1, 2, Selector{Metrics: MetricHop})
	if err != nil {
		t.Fatalf("NewRoute: %v", err)
	}
	if _, err := e.NewPath(id, Selector{Metrics: MetricHop}); err == nil {
		t.Fatal("expected the only possible path to be rejected as a duplicate")
	}
}

func TestLinkBrokenSetsTriggerAndReconnectClears(t *testing.T) {
	e := New(config.Topology{}, nil, nil)
	e.graph.AddLink(line(1, 1, 2, 1))

	id, err := e.NewRoute(1, 2, Selector{Metrics: MetricHop, BrokenTrigger: true})
	if err != nil {
		t.Fatalf("NewRoute: %v", err)
	}

	active := make(chan TriggerFlag, 1)
	inactive := make(chan TriggerFlag, 1)
	e.OnRouteTriggerActive(func(r uint32, p uint8, f TriggerFlag) { active <- f })
	e.OnRouteTriggerInactive(func(r uint32, p uint8, f TriggerFlag) { inactive <- f })

	from := discovery.Endpoint{DPID: 1, Port: ofp.PortNo(1)}
	to := discovery.Endpoint{DPID: 2, Port: ofp.PortNo(1)}

	e.removeLink(from, to)
	select {
	case f := <-active:
		if f != TriggerBroken {
			t.Fatalf("unexpected trigger flag: %v", f)
		}
	default:
		t.Fatal("expected routeTriggerActive to fire")
	}

	route, _ := e.Route(id)
	if route.Paths[0].Working() {
		t.Fatal("expected the path to be marked not-working while broken")
	}

	e.addLink(from, to)
	select {
	case f := <-inactive:
		if f != TriggerBroken {
			t.Fatalf("unexpected trigger flag: %v", f)
		}
	default:
		t.Fatal("expected routeTriggerInactive to fire")
	}
	if !route.Paths[0].Working() {
		t.Fatal("expected the path to be working again")
	}
}

func TestDeletePathAdjustsUsedPath(t *testing.T) {
	e := New(config.Topology{}, nil, nil)
	e.graph.AddLink(line(1, 1, 2, 1))
	e.graph.AddLink(line(1, 2, 2, 2))

	id, err := e.NewRoute(1, 2, Selector{Metrics: MetricHop, ConfiguredCount: 2})
	if err != nil {
		t.Fatalf("NewRoute: %v", err)
	}
	route, _ := e.Route(id)
	if len(route.Paths) != 2 {
		t.Fatalf("expected two planned paths, got %d", len(route.Paths))
	}

	e.SetUsedPath(id, route.Paths[1].ID)
	e.DeletePath(id, route.Paths[1].ID)

	if int(route.UsedPath) >= len(route.Paths) {
		t.Fatalf("UsedPath %d out of range after deleting the selected path (len=%d)", route.UsedPath, len(route.Paths))
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	store := newMemStore()
	e := New(config.Topology{}, store, nil)
	e.graph.AddLink(line(1, 1, 2, 1))

	id, err := e.NewRoute(1, 2, Selector{Metrics: MetricHop})
	if err != nil {
		t.Fatalf("NewRoute: %v", err)
	}

	reloaded := New(config.Topology{}, store, nil)
	reloaded.graph.AddLink(line(1, 1, 2, 1))
	if err := reloaded.LoadFromStore(); err != nil {
		t.Fatalf("LoadFromStore: %v", err)
	}

	r, ok := reloaded.Route(id)
	if !ok {
		t.Fatal("expected the persisted route to reload")
	}
	if len(r.Paths) != 1 {
		t.Fatalf("expected one reloaded path, got %d", len(r.Paths))
	}
}

func TestMaintenanceTriggerFiresOnPollAndClearsOnLeave(t *testing.T) {
	e := New(config.Topology{}, nil, nil)
	e.graph.AddLink(line(1, 1, 2, 1))

	id, err := e.NewRoute(1, 2, Selector{Metrics: MetricHop})
	if err != nil {
		t.Fatalf("NewRoute: %v", err)
	}

	inMaint := false
	e.SetMaintenanceHooks(func(ofconn.DPID) bool { return inMaint }, nil)

	active := make(chan TriggerFlag, 1)
	inactive := make(chan TriggerFlag, 1)
	e.OnRouteTriggerActive(func(r uint32, p uint8, f TriggerFlag) { active <- f })
	e.OnRouteTriggerInactive(func(r uint32, p uint8, f TriggerFlag) { inactive <- f })

	inMaint = true
	e.pollTriggers()
	select {
	case f := <-active:
		if f != TriggerMaintenance {
			t.Fatalf("unexpected trigger flag: %v", f)
		}
	default:
		t.Fatal("expected routeTriggerActive(TriggerMaintenance) on the poll that enters maintenance")
	}

	route, _ := e.Route(id)
	if route.Paths[0].Working() {
		t.Fatal("expected the path to be non-working while its switch is in maintenance")
	}

	inMaint = false
	e.pollTriggers()
	select {
	case f := <-inactive:
		if f != TriggerMaintenance {
			t.Fatalf("unexpected trigger flag: %v", f)
		}
	default:
		t.Fatal("expected routeTriggerInactive(TriggerMaintenance) on the poll that leaves maintenance")
	}
	if !route.Paths[0].Working() {
		t.Fatal("expected the path to be working again")
	}
}

func TestUtilAndDropTriggersFireOnPoll(t *testing.T) {
	e := New(config.Topology{}, nil, nil)
	e.graph.AddLink(line(1, 1, 2, 1))

	_, err := e.NewRoute(1, 2, Selector{Metrics: MetricHop, UtilTrigger: 80, DropTrigger: 5})
	if err != nil {
		t.Fatalf("NewRoute: %v", err)
	}

	active := make(chan TriggerFlag, 2)
	e.OnRouteTriggerActive(func(r uint32, p uint8, f TriggerFlag) { active <- f })

	ep := discovery.Endpoint{DPID: 1, Port: ofp.PortNo(1)}
	e.UpdateLink(ep, PortStats{UtilPercent: 95, DropPercent: 10})
	e.pollTriggers()

	seen := map[TriggerFlag]bool{}
	for i := 0; i < 2; i++ {
		select {
		case f := <-active:
			seen[f] = true
		default:
			t.Fatal("expected both util and drop routeTriggerActive events")
		}
	}
	if !seen[TriggerUtil] || !seen[TriggerDrop] {
		t.Fatalf("expected TriggerUtil and TriggerDrop, got %+v", seen)
	}
}

func TestFlapDebounceDelaysInactive(t *testing.T) {
	e := New(config.Topology{}, nil, nil)
	e.graph.AddLink(line(1, 1, 2, 1))

	_, err := e.NewRoute(1, 2, Selector{Metrics: MetricHop, BrokenTrigger: true, Flapping: 3})
	if err != nil {
		t.Fatalf("NewRoute: %v", err)
	}

	var mu sync.Mutex
	var inactiveCount int
	e.OnRouteTriggerInactive(func(r uint32, p uint8, f TriggerFlag) {
		mu.Lock()
		inactiveCount++
		mu.Unlock()
	})

	from := discovery.Endpoint{DPID: 1, Port: ofp.PortNo(1)}
	to := discovery.Endpoint{DPID: 2, Port: ofp.PortNo(1)}

	e.removeLink(from, to)
	e.addLink(from, to)

	time.Sleep(1 * time.Second)
	mu.Lock()
	got := inactiveCount
	mu.Unlock()
	if got != 0 {
		t.Fatalf("expected no routeTriggerInactive yet at t=1s, got %d", got)
	}

	// Reactivate and clear again before the first debounce window would
	// have settled; this must not cause a spurious inactive fire from the
	// superseded timer once it would have fired.
	e.removeLink(from, to)
	e.addLink(from, to)

	time.Sleep(3500 * time.Millisecond)
	mu.Lock()
	got = inactiveCount
	mu.Unlock()
	if got != 1 {
		t.Fatalf("expected exactly one routeTriggerInactive after the debounce window settles, got %d", got)
	}
}

// memStore is a trivial in-memory Store for tests.
type memStore struct {
	m map[string][]byte
}

func newMemStore() *memStore { return &memStore{m: make(map[string][]byte)} }

func (s *memStore) Set(key string, value []byte) error {
	s.m[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) Get(key string) ([]byte, bool, error) {
	v, ok := s.m[key]
	return v, ok, nil
}

func (s *memStore) Delete(key string) error {
	delete(s.m, key)
	return nil
}

func (s *memStore) Keys(prefix string) ([]string, error) {
	var out []string
	for k := range s.m {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}
