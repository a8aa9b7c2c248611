package inventory

import (
	"sync"

	"github.com/ARCCN/runos-sub001/internal/ofconn"
)

// switchStore is the arena-style Switch table: switches are looked up
// and iterated by DPID handle only, never by pointer chased from a
// Port or a Session.
type switchStore struct {
	mu sync.RWMutex
	m  map[ofconn.DPID]*Switch
}

func newSwitchStore() *switchStore {
	return &switchStore{m: make(map[ofconn.DPID]*Switch)}
}

func (s *switchStore) put(dpid ofconn.DPID, sw *Switch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[dpid] = sw
}

func (s *switchStore) get(dpid ofconn.DPID) (*Switch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sw, ok := s.m[dpid]
	return sw, ok
}

func (s *switchStore) delete(dpid ofconn.DPID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, dpid)
}

func (s *switchStore) all() []*Switch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Switch, 0, len(s.m))
	for _, sw := range s.m {
		out = append(out, sw)
	}
	return out
}

// portStore is the arena-style Port table: ports are looked up by
// (DPID, port-number) handle, with a secondary index for "every port
// of this switch" since that's how the stats-poll loop and the
// startup/teardown sequences both iterate it.
type portStore struct {
	mu sync.RWMutex
	m  map[PortKey]*Port
}

func newPortStore() *portStore {
	return &portStore{m: make(map[PortKey]*Port)}
}

func (s *portStore) put(key PortKey, p *Port) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = p
}

func (s *portStore) get(key PortKey) (*Port, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.m[key]
	return p, ok
}

func (s *portStore) delete(key PortKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

func (s *portStore) byDPID(dpid ofconn.DPID) []*Port {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Port, 0)
	for key, p := range s.m {
		if key.DPID == dpid {
			out = append(out, p)
		}
	}
	return out
}
