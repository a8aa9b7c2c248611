// Package ofmsgsender implements OFMsgSender: the per-switch AIMD
// pacer that sits between FlowVerifier and whatever issues flow-mods,
// exactly as spec.md §5/§9 describes — "the only non-trivial feedback
// loop" in the controller.
package ofmsgsender

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ARCCN/runos-sub001/internal/agent"
	"github.com/ARCCN/runos-sub001/internal/config"
	"github.com/ARCCN/runos-sub001/internal/inventory"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// minRate is the floor the multiplicative-decrease step never goes
// below, named identically to the original's min_rate constant.
const minRate = 20

// Verifier is the surface this package paces traffic through:
// FlowVerifier.Send installs a flow-mod and updates the controller's
// shadow table. Declared as a forward-referenced interface, the same
// pattern internal/topology and internal/mastership use for their own
// collaborators.
type Verifier interface {
	Send(ctx context.Context, dpid ofconn.DPID, fm *ofp.FlowMod) error
}

// Sender is OFMsgSender: it paces flow-mod emission per switch using an
// additive-increase/multiplicative-decrease window, bounded below by
// minRate, and passes every message that targets an unpaced switch
// straight through to the Verifier.
type Sender struct {
	verifier Verifier
	log      *logrus.Entry

	limit        uint32
	additive     uint32
	multiplier   uint32
	pollInterval time.Duration
	waitInterval time.Duration

	mu      sync.Mutex
	statuses map[ofconn.DPID]*status

	stop chan struct{}
}

// pending is one flow-mod queued behind a switch's current pacing
// window.
type pending struct {
	ctx context.Context
	fm  *ofp.FlowMod
}

// status is the original's MsgStatus: one switch's pacing state.
type status struct {
	mu sync.Mutex

	dpid ofconn.DPID
	ag   *agent.Agent

	window uint32 // limit for sending msgs per pack
	sent   uint32 // amount sent without a barrier
	queue  []pending

	additive   uint32
	multiplier uint32

	barrierPending bool
	barrierDone    chan error
	barrierSentAt  time.Time
}

// New builds a Sender over inv. inv's switchUp/switchDown events wire a
// pacing status in and out automatically, per cfg.Limit: Limit == 0
// disables pacing tree-wide, so every Send call goes straight to
// verifier.
func New(inv *inventory.Inventory, cfg config.OFMsgSender, verifier Verifier, log *logrus.Entry) *Sender {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	poll := cfg.PollInterval
	if poll == 0 {
		poll = 100 * time.Millisecond
	}
	wait := cfg.WaitInterval
	if wait == 0 {
		wait = 2 * time.Second
	}
	additive := cfg.AdditiveRatio
	if additive == 0 {
		additive = 5
	}
	multiplier := cfg.MultiplicativeRatio
	if multiplier == 0 {
		multiplier = 2
	}

	s := &Sender{
		verifier:     verifier,
		log:          log,
		limit:        cfg.Limit,
		additive:     additive,
		multiplier:   multiplier,
		pollInterval: poll,
		waitInterval: wait,
		statuses:     make(map[ofconn.DPID]*status),
		stop:         make(chan struct{}),
	}

	if s.limit > 0 {
		inv.OnSwitchUp(func(sw *inventory.Switch) {
			s.mu.Lock()
			s.statuses[sw.DPID] = &status{
				dpid: sw.DPID, ag: sw.Agent(),
				window: s.limit, additive: s.additive, multiplier: s.multiplier,
			}
			s.mu.Unlock()
		})
		inv.OnSwitchDown(func(sw *inventory.Switch) {
			s.mu.Lock()
			delete(s.statuses, sw.DPID)
			s.mu.Unlock()
		})
	}

	return s
}

// Send queues fm for dpid if pacing is active for that switch,
// otherwise forwards it to the Verifier immediately. Matches the
// original's dual API (a rvalue/lvalue overload in C++); Go needs only
// the one signature.
func (s *Sender) Send(ctx context.Context, dpid ofconn.DPID, fm *ofp.FlowMod) error {
	s.mu.Lock()
	st, paced := s.statuses[dpid]
	s.mu.Unlock()

	if !paced {
		return s.verifier.Send(ctx, dpid, fm)
	}

	st.mu.Lock()
	st.queue = append(st.queue, pending{ctx: ctx, fm: fm})
	st.mu.Unlock()
	return nil
}

// Run polls every paced switch's status at pollInterval until ctx is
// done or Close is called: advancing the AIMD window on a timely
// barrier reply, halving it on a missed deadline, and otherwise
// draining whatever of the queue the current window allows.
func (s *Sender) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// Close stops Run.
func (s *Sender) Close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

func (s *Sender) pollOnce(ctx context.Context) {
	s.mu.Lock()
	snapshot := make([]*status, 0, len(s.statuses))
	for _, st := range s.statuses {
		snapshot = append(snapshot, st)
	}
	s.mu.Unlock()

	for _, st := range snapshot {
		s.pollStatus(ctx, st)
	}
}

func (s *Sender) pollStatus(ctx context.Context, st *status) {
	st.mu.Lock()
	empty := len(st.queue) == 0
	pendingBarrier := st.barrierPending
	st.mu.Unlock()

	if empty && !pendingBarrier {
		return
	}

	if pendingBarrier {
		select {
		case err := <-st.barrierDone:
			st.mu.Lock()
			st.barrierPending = false
			st.mu.Unlock()
			if err != nil {
				s.log.WithError(err).WithField("dpid", st.dpid).Warn("ofmsgsender: barrier request failed")
				return
			}
			s.addIncrease(st)
		default:
			st.mu.Lock()
			deadline := st.barrierSentAt.Add(s.waitInterval)
			st.mu.Unlock()
			if time.Now().After(deadline) {
				s.multDecrease(st)
				s.sendBarrier(ctx, st)
			}
			return // wait for the barrier reply before sending more
		}
	}

	s.sendPack(ctx, st)
}

// sendPack drains st's queue up to its current window, installing each
// flow-mod through the Verifier; once the window is exhausted it issues
// a barrier and resets the sent counter.
func (s *Sender) sendPack(ctx context.Context, st *status) {
	st.mu.Lock()
	var sentInPack uint32
	for len(st.queue) > 0 && sentInPack < st.window && st.sent < st.window {
		p := st.queue[0]
		st.queue = st.queue[1:]
		st.mu.Unlock()

		sendCtx := p.ctx
		if sendCtx == nil {
			sendCtx = ctx
		}
		if err := s.verifier.Send(sendCtx, st.dpid, p.fm); err != nil {
			s.log.WithError(err).WithField("dpid", st.dpid).Warn("ofmsgsender: paced flow-mod send failed")
		}

		st.mu.Lock()
		sentInPack++
		st.sent++
		if sentInPack == st.window || st.sent == st.window {
			st.sent = 0
			st.mu.Unlock()
			s.sendBarrier(ctx, st)
			return
		}
	}
	st.mu.Unlock()
}

// sendBarrier issues a barrier request on a separate goroutine so the
// polling loop is never blocked on the switch's reply; pollStatus polls
// the result channel on the next tick instead of awaiting it inline —
// the idiomatic Go replacement for the original's boost::future.
func (s *Sender) sendBarrier(ctx context.Context, st *status) {
	done := make(chan error, 1)
	st.mu.Lock()
	st.barrierPending = true
	st.barrierDone = done
	st.barrierSentAt = time.Now()
	st.mu.Unlock()

	go func() {
		done <- st.ag.Barrier(ctx)
	}()
}

func (s *Sender) addIncrease(st *status) {
	st.mu.Lock()
	st.window += st.additive
	w := st.window
	st.mu.Unlock()
	s.log.WithField("dpid", st.dpid).WithField("window", w).Debug("ofmsgsender: barrier acked, window increased")
}

func (s *Sender) multDecrease(st *status) {
	st.mu.Lock()
	if st.window >= st.multiplier*minRate {
		st.window /= st.multiplier
	} else {
		st.window = minRate
	}
	w := st.window
	st.mu.Unlock()
	s.log.WithField("dpid", st.dpid).WithField("window", w).
		Warn("ofmsgsender: switch did not reply to barrier, window decreased")
}

// Status reports whether dpid is currently paced and, if so, its
// current window — used by tests and would back a metrics gauge.
func (s *Sender) Status(dpid ofconn.DPID) (window uint32, paced bool) {
	s.mu.Lock()
	st, ok := s.statuses[dpid]
	s.mu.Unlock()
	if !ok {
		return 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.window, true
}
