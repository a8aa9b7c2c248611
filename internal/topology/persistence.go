package topology

import (
	"encoding/json"
	"fmt"

	"github.com/ARCCN/runos-sub001/internal/discovery"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
)

// Store is the minimal key/value surface Engine needs for Route
// persistence: spec.md §4.5 says every Route mutation writes the full
// Route JSON under topology:route:<id>, and that on promotion to
// primary routes are loaded back. internal/persistence's Redis-backed
// store satisfies this; Engine is built against the interface so it
// never has to import a concrete storage package.
type Store interface {
	Set(key string, value []byte) error
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

func routeKey(id uint32) string {
	return fmt.Sprintf("topology:route:%d", id)
}

// routeDoc is the on-wire JSON shape a Route is persisted as; Link
// weight inputs live in the graph, not the Route, so only topology and
// selector state needs to round-trip.
type routeDoc struct {
	ID       uint32
	From, To ofconn.DPID
	Selector Selector
	Paths    []pathDoc
	UsedPath uint8
	Dynamic  bool
}

type pathDoc struct {
	ID   uint8
	Hops []discovery.Endpoint
}

func (r *Route) toDoc() routeDoc {
	doc := routeDoc{
		ID:       r.ID,
		From:     r.From,
		To:       r.To,
		Selector: r.Selector,
		UsedPath: r.UsedPath,
		Dynamic:  r.Dynamic,
	}
	for _, p := range r.Paths {
		doc.Paths = append(doc.Paths, pathDoc{ID: p.ID, Hops: p.Hops})
	}
	return doc
}

func fromDoc(doc routeDoc) *Route {
	r := &Route{
		ID:       doc.ID,
		From:     doc.From,
		To:       doc.To,
		Selector: doc.Selector,
		UsedPath: doc.UsedPath,
		Dynamic:  doc.Dynamic,
	}
	for _, p := range doc.Paths {
		path := &Path{ID: p.ID, Hops: p.Hops}
		r.Paths = append(r.Paths, path)
		if p.ID >= r.nextPathID {
			r.nextPathID = p.ID + 1
		}
	}
	return r
}

// persist writes r's full JSON under its topology:route:<id> key.
func (e *Engine) persist(r *Route) {
	if e.store == nil {
		return
	}
	buf, err := json.Marshal(r.toDoc())
	if err != nil {
		e.log.WithError(err).WithField("route", r.ID).Error("topology: marshal route")
		return
	}
	if err := e.store.Set(routeKey(r.ID), buf); err != nil {
		e.log.WithError(err).WithField("route", r.ID).Error("topology: persist route")
	}
}

// unpersist removes r's persisted record, used when a Route is deleted.
func (e *Engine) unpersist(id uint32) {
	if e.store == nil {
		return
	}
	if err := e.store.Delete(routeKey(id)); err != nil {
		e.log.WithError(err).WithField("route", id).Error("topology: delete persisted route")
	}
}

// LoadFromStore reloads every persisted Route, as done on promotion to
// primary; pending-id is advanced past the maximum id seen so new
// routes never collide with a reloaded one. A record that fails to
// decode is logged and skipped.
func (e *Engine) LoadFromStore() error {
	if e.store == nil {
		return nil
	}
	keys, err := e.store.Keys("topology:route:")
	if err != nil {
		return fmt.Errorf("topology: listing persisted routes: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, key := range keys {
		buf, ok, err := e.store.Get(key)
		if err != nil {
			return fmt.Errorf("topology: loading %s: %w", key, err)
		}
		if !ok {
			continue
		}
		var doc routeDoc
		if err := json.Unmarshal(buf, &doc); err != nil {
			e.log.WithError(err).WithField("key", key).Warn("topology: skipping malformed persisted route")
			continue
		}
		r := fromDoc(doc)
		e.routes[r.ID] = r
		if r.ID >= e.nextRouteID {
			e.nextRouteID = r.ID + 1
		}
	}
	return nil
}
