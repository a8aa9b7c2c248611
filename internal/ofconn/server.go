package ofconn

import (
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimiter decides whether an inbound message should be dropped. It
// is consulted once per received message when configured; a nil
// RateLimiter disables the optional inbound rate-limit of spec.md §4.2.
type RateLimiter interface {
	Allow() bool
}

// Config collects the ConnectionServer policies of spec.md §4.2.
type Config struct {
	Addr string
	TLS  *tls.Config

	EchoInterval time.Duration
	EchoAttempts int

	// FeaturesDPID extracts the datapath id carried by a decoded
	// features-reply message. It is supplied by the caller (package
	// agent knows how to decode ofp.SwitchFeatures) so this package
	// never needs to import the wire-type package.
	FeaturesDPID func(*Message) (DPID, bool)

	// Allowlist reports whether dpid is a known switch (DpidGuard).
	// A session whose features reply carries a DPID rejected here is
	// closed immediately and the rejection is rate-logged.
	Allowlist func(DPID) bool

	// NewLimiter, when non-nil, is called once per accepted session to
	// build its inbound rate limiter.
	NewLimiter func() RateLimiter

	Log *logrus.Entry
}

// Server accepts OpenFlow control-channel sessions and owns their
// lifecycle: version negotiation, keepalive, the unknown/duplicate DPID
// policies, and fanout of decoded messages to a TypeMux.
//
// Fanout is per session ("each decoded message is dispatched to every
// receive handler registered on the session"): newMux builds a fresh
// TypeMux for every accepted Session, so a per-session OFAgent can
// register its own reply-routing handlers without its transaction ids
// colliding with another switch's Agent on the same server.
type Server struct {
	cfg    Config
	newMux func(*Session) *TypeMux

	mu       sync.Mutex
	sessions map[DPID]*Session

	closeLog *dpidCloseLog

	onOpened []func(*Session)
	onClosed []func(*Session, string)
}

// OnSessionOpened registers f to be called once a session completes
// version negotiation, before its TypeMux is built. Used by callers
// wiring session-count metrics rather than anything on the protocol
// path itself.
func (srv *Server) OnSessionOpened(f func(*Session)) {
	srv.onOpened = append(srv.onOpened, f)
}

// OnSessionClosed registers f to be called once a session's serve loop
// exits, with the terminal outcome: "negotiation_failed", "unknown_dpid",
// "duplicate_dpid", or "closed" for every other teardown.
func (srv *Server) OnSessionClosed(f func(*Session, string)) {
	srv.onClosed = append(srv.onClosed, f)
}

// NewServer builds a Server around the given configuration. newMux is
// called once per accepted session to build that session's TypeMux; the
// caller typically uses it to create and register a fresh OFAgent (and
// any other per-session observer) bound to the Session it is handed.
func NewServer(cfg Config, newMux func(*Session) *TypeMux) *Server {
	if cfg.Log == nil {
		cfg.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.EchoAttempts == 0 {
		cfg.EchoAttempts = 3
	}
	if cfg.EchoInterval == 0 {
		cfg.EchoInterval = 10 * time.Second
	}
	if newMux == nil {
		shared := NewTypeMux(cfg.Log)
		newMux = func(*Session) *TypeMux { return shared }
	}

	return &Server{
		cfg:      cfg,
		newMux:   newMux,
		sessions: make(map[DPID]*Session),
		closeLog: newDPIDCloseLog(5 * time.Minute),
	}
}

// ListenAndServe opens the listening socket and serves forever.
func (srv *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", srv.cfg.Addr)
	if err != nil {
		return err
	}
	if srv.cfg.TLS != nil {
		ln = tlsListener{ln, srv.cfg.TLS}
	}
	return srv.Serve(ln)
}

type tlsListener struct {
	net.Listener
	cfg *tls.Config
}

func (l tlsListener) Accept() (net.Conn, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	return tls.Server(c, l.cfg), nil
}

// Serve accepts connections from ln until it errors or is closed.
func (srv *Server) Serve(ln net.Listener) error {
	defer ln.Close()

	for {
		c, err := ln.Accept()
		if err != nil {
			return err
		}

		sess := NewSession(c)
		go srv.serve(sess)
	}
}

func (srv *Server) serve(sess *Session) {
	log := srv.cfg.Log.WithField("remote", sess.RemoteAddr())

	limiter := srv.limiterFor()

	outcome := "closed"

	if !srv.negotiate(sess, log) {
		sess.Close()
		srv.fireClosed(sess, "negotiation_failed")
		return
	}
	srv.fireOpened(sess)

	mux := srv.newMux(sess)

	stop := make(chan struct{})
	if srv.cfg.EchoInterval > 0 {
		go srv.keepalive(sess, stop, log)
	}

	defer func() {
		close(stop)
		srv.forget(sess)
		sess.Close()
		if sess.State() != StateDead {
			sess.setState(StateClosed)
		}
		mux.dispatchClose(sess)
		srv.fireClosed(sess, outcome)
	}()

	for {
		m, err := sess.receive()
		if err != nil {
			return
		}

		if limiter != nil && !limiter.Allow() {
			continue
		}

		if m.Header.Type == TypeEchoReply {
			sess.recordEchoReply()
		}

		if m.Header.Type == TypeFeaturesReply && srv.cfg.FeaturesDPID != nil {
			reason, ok := srv.onFeaturesReply(sess, m, log)
			if !ok {
				outcome = reason
				return
			}
		}

		mux.Dispatch(sess, m)
	}
}

func (srv *Server) fireOpened(sess *Session) {
	for _, f := range srv.onOpened {
		f(sess)
	}
}

func (srv *Server) fireClosed(sess *Session, outcome string) {
	for _, f := range srv.onClosed {
		f(sess, outcome)
	}
}

func (srv *Server) limiterFor() RateLimiter {
	if srv.cfg.NewLimiter == nil {
		return nil
	}
	return srv.cfg.NewLimiter()
}

// negotiate performs the hello exchange. Only OpenFlow 1.3 is accepted
// (spec.md §4.2); a mismatched peer is closed with negotiation-failed.
func (srv *Server) negotiate(sess *Session, log *logrus.Entry) bool {
	hello, err := sess.receive()
	if err != nil {
		sess.setState(StateNegotiationFailed)
		return false
	}

	if hello.Header.Type != TypeHello || hello.Header.Version != ProtocolVersion {
		sess.setState(StateNegotiationFailed)
		log.WithField("version", hello.Header.Version).Warn("ofconn: version negotiation failed")
		reply, _ := NewMessage(TypeHello, hello.Header.XID, nil)
		sess.Send(reply)
		return false
	}

	reply, _ := NewMessage(TypeHello, hello.Header.XID, nil)
	if err := sess.Send(reply); err != nil {
		sess.setState(StateNegotiationFailed)
		return false
	}

	sess.version = ProtocolVersion
	sess.setState(StateEstablished)
	return true
}

// onFeaturesReply applies the unknown/duplicate DPID policies. It
// returns ("", true) when the session may proceed, or the terminal
// outcome and false when it must be torn down.
func (srv *Server) onFeaturesReply(sess *Session, m *Message, log *logrus.Entry) (string, bool) {
	dpid, ok := srv.cfg.FeaturesDPID(m)
	if !ok {
		return "", true
	}

	if srv.cfg.Allowlist != nil && !srv.cfg.Allowlist(dpid) {
		if srv.closeLog.shouldLog(dpid) {
			log.WithField("dpid", dpid).Warn("ofconn: rejecting session for unknown dpid")
		}
		sess.setState(StateClosed)
		return "unknown_dpid", false
	}

	srv.mu.Lock()
	prior, exists := srv.sessions[dpid]
	if exists && prior.Alive() && prior != sess {
		srv.mu.Unlock()
		log.WithField("dpid", dpid).Info("ofconn: closing duplicate session for already-alive dpid")
		sess.setState(StateClosed)
		return "duplicate_dpid", false
	}
	srv.sessions[dpid] = sess
	srv.mu.Unlock()

	sess.BindDPID(dpid)
	return "", true
}

func (srv *Server) forget(sess *Session) {
	dpid, ok := sess.DPID()
	if !ok {
		return
	}

	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.sessions[dpid] == sess {
		delete(srv.sessions, dpid)
	}
}

// keepalive emits echo requests at the configured interval and marks
// the session dead after EchoAttempts consecutive unanswered echoes.
func (srv *Server) keepalive(sess *Session, stop <-chan struct{}, log *logrus.Entry) {
	ticker := time.NewTicker(srv.cfg.EchoInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if missed := sess.recordEchoSent(); int(missed) > srv.cfg.EchoAttempts {
				log.WithField("dpid", dpidOrZero(sess)).Warn("ofconn: session missed too many keepalive echoes")
				sess.markDead()
				sess.Close()
				return
			}

			msg, _ := NewMessage(TypeEchoRequest, 0, nil)
			if err := sess.Send(msg); err != nil {
				sess.markDead()
				return
			}
		}
	}
}

func dpidOrZero(sess *Session) DPID {
	d, _ := sess.DPID()
	return d
}

// dpidCloseLog coalesces repeated unknown-DPID rejection log lines into
// one line per window, per spec.md §4.2 and scenario D.
type dpidCloseLog struct {
	window time.Duration

	mu   sync.Mutex
	last map[DPID]time.Time
}

func newDPIDCloseLog(window time.Duration) *dpidCloseLog {
	return &dpidCloseLog{window: window, last: make(map[DPID]time.Time)}
}

func (l *dpidCloseLog) shouldLog(dpid DPID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if last, ok := l.last[dpid]; ok && now.Sub(last) < l.window {
		return false
	}
	l.last[dpid] = now
	return true
}
