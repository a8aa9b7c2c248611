package discovery

import "github.com/sirupsen/logrus"

// linkEvents is LinkDiscoverer's observer registry for linkDiscovered/
// linkBroken, the same panic-recovering fan-out texture
// internal/inventory's events and internal/ofconn's TypeMux both use.
type linkEvents struct {
	log *logrus.Entry

	discovered []func(from, to Endpoint)
	broken     []func(from, to Endpoint)
}

func newLinkEvents(log *logrus.Entry) *linkEvents {
	return &linkEvents{log: log}
}

func (e *linkEvents) fireDiscovered(from, to Endpoint) {
	for _, h := range e.discovered {
		e.call("linkDiscovered", h, from, to)
	}
}

func (e *linkEvents) fireBroken(from, to Endpoint) {
	for _, h := range e.broken {
		e.call("linkBroken", h, from, to)
	}
}

func (e *linkEvents) call(name string, h func(from, to Endpoint), from, to Endpoint) {
	defer func() {
		if r := recover(); r != nil && e.log != nil {
			e.log.WithField("event", name).WithField("panic", r).Error("discovery: observer panicked")
		}
	}()
	h(from, to)
}
