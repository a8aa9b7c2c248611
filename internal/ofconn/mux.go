package ofconn

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Handler processes a single decoded message received on a Session.
type Handler interface {
	Serve(*Session, *Message)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(*Session, *Message)

// Serve implements Handler.
func (f HandlerFunc) Serve(s *Session, m *Message) { f(s, m) }

// TypeMux dispatches a decoded message to every handler registered for
// its Type, in registration order. This is the "receive fanout" policy
// of spec.md §4.2: unlike the teacher's original ServeMux (which picked
// one matching handler), every registered observer sees every message
// of its type, and a handler that panics is recovered and logged rather
// than aborting the remaining handlers or the session.
type TypeMux struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	onClose  []func(*Session)
	log      *logrus.Entry
}

// NewTypeMux allocates an empty multiplexer.
func NewTypeMux(log *logrus.Entry) *TypeMux {
	return &TypeMux{handlers: make(map[Type][]Handler), log: log}
}

// Handle registers handler to be invoked for every message of type t.
func (mux *TypeMux) Handle(t Type, h Handler) {
	mux.mu.Lock()
	defer mux.mu.Unlock()
	mux.handlers[t] = append(mux.handlers[t], h)
}

// HandleFunc registers a plain function as a handler for type t.
func (mux *TypeMux) HandleFunc(t Type, f func(*Session, *Message)) {
	mux.Handle(t, HandlerFunc(f))
}

// Dispatch calls every handler registered for m.Header.Type, in
// registration order, recovering from and logging any panic so that one
// misbehaving observer cannot take down the others or the session.
func (mux *TypeMux) Dispatch(s *Session, m *Message) {
	mux.mu.RLock()
	handlers := mux.handlers[m.Header.Type]
	mux.mu.RUnlock()

	for _, h := range handlers {
		mux.serveOne(h, s, m)
	}
}

func (mux *TypeMux) serveOne(h Handler, s *Session, m *Message) {
	defer func() {
		if r := recover(); r != nil && mux.log != nil {
			mux.log.WithField("panic", r).Error("ofconn: receive handler panicked")
		}
	}()

	h.Serve(s, m)
}

// HandleClose registers a handler invoked once, when the session this
// mux belongs to is torn down for any reason (unknown or duplicate
// DPID, dead keepalive, EOF). A session that fails version negotiation
// never gets a mux, so no close handler runs for it. OFAgent uses this to resolve every request still
// pending with RequestError, regardless of what caused the loss.
func (mux *TypeMux) HandleClose(f func(*Session)) {
	mux.mu.Lock()
	defer mux.mu.Unlock()
	mux.onClose = append(mux.onClose, f)
}

// dispatchClose calls every registered close handler, in registration
// order, recovering from and logging any panic the same way Dispatch
// does.
func (mux *TypeMux) dispatchClose(s *Session) {
	mux.mu.RLock()
	handlers := append([]func(*Session){}, mux.onClose...)
	mux.mu.RUnlock()

	for _, f := range handlers {
		mux.serveClose(f, s)
	}
}

func (mux *TypeMux) serveClose(f func(*Session), s *Session) {
	defer func() {
		if r := recover(); r != nil && mux.log != nil {
			mux.log.WithField("panic", r).Error("ofconn: close handler panicked")
		}
	}()

	f(s)
}
