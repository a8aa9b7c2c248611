package mastership

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ARCCN/runos-sub001/internal/agent"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// defaultRoleMonitoringInterval is the poll cadence at which MastershipView
// re-asserts every tracked switch's role with a NOCHANGE probe, the
// mechanism that detects a switch having silently drifted (another
// controller grabbed MASTER, or a switch that quietly reset its
// generation id).
const defaultRoleMonitoringInterval = time.Second

// MastershipView is this controller node's aggregated view over every
// switch's role-tracking state: the direct analogue of the original's
// MastershipView, minus the Qt event loop it used to serialize
// view mutation and to drive its polling timer.
type MastershipView struct {
	log              *logrus.Entry
	roleMonitorEvery time.Duration

	mu     sync.Mutex
	view   map[ofconn.DPID]*switchView
	status ControllerStatus

	initOnce sync.Once
	initCh   chan struct{}

	pollerRunning bool
	pollerStop    chan struct{}
	pollerDone    chan struct{}

	// pushMu serializes whole-cluster role-push batches, mirroring the
	// original's (effectively global) mutex around setupNewRoleForAll.
	pushMu sync.Mutex

	onSplitBrain   func(dpid ofconn.DPID)
	onEqualRefused func(dpid ofconn.DPID)
}

// NewMastershipView builds an empty view. interval, if zero, defaults to
// one second, matching the original's role-monitoring-interval default.
func NewMastershipView(interval time.Duration, log *logrus.Entry) *MastershipView {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if interval == 0 {
		interval = defaultRoleMonitoringInterval
	}
	return &MastershipView{
		log:              log,
		roleMonitorEvery: interval,
		view:             make(map[ofconn.DPID]*switchView),
		initCh:           make(chan struct{}),
	}
}

// SetSplitBrainHook wires the callback fired when any switch unilaterally
// reports SLAVE. RecoveryManager wires this to setupBackupMode.
func (mv *MastershipView) SetSplitBrainHook(f func(dpid ofconn.DPID)) {
	mv.mu.Lock()
	defer mv.mu.Unlock()
	mv.onSplitBrain = f
}

// SetEqualRefusedHook wires the callback fired when a switch exhausts its
// equal-refusal retry budget. RecoveryManager wires this to
// dpidguard.Guard.Remove; the switch's live session is not closed.
func (mv *MastershipView) SetEqualRefusedHook(f func(dpid ofconn.DPID)) {
	mv.mu.Lock()
	defer mv.mu.Unlock()
	mv.onEqualRefused = f
}

// AddSwitch starts tracking dpid: it sends the initial NOCHANGE,
// get-only-generation-id probe synchronously (so a caller blocking on
// the cluster-status init future observes an already-probed switch),
// then starts the role-monitoring poller if this is the first tracked
// switch.
func (mv *MastershipView) AddSwitch(ctx context.Context, dpid ofconn.DPID, ag *agent.Agent) {
	sv := newSwitchView(dpid, ag, mv.log)

	mv.mu.Lock()
	sv.onSplitBrain = mv.onSplitBrain
	sv.onEqualRefused = mv.onEqualRefused
	mv.view[dpid] = sv
	shouldStart := !mv.pollerRunning
	if shouldStart {
		mv.pollerRunning = true
		mv.pollerStop = make(chan struct{})
		mv.pollerDone = make(chan struct{})
	}
	mv.mu.Unlock()

	sv.probe(ctx)

	if shouldStart {
		go mv.pollLoop(mv.pollerStop, mv.pollerDone)
	}
}

// DeleteSwitch stops tracking dpid, pausing the role-monitoring poller
// once the view becomes empty.
func (mv *MastershipView) DeleteSwitch(dpid ofconn.DPID) {
	mv.mu.Lock()
	delete(mv.view, dpid)
	empty := len(mv.view) == 0
	var stop chan struct{}
	if empty && mv.pollerRunning {
		mv.pollerRunning = false
		stop = mv.pollerStop
	}
	mv.mu.Unlock()

	if stop != nil {
		close(stop)
	}
}

// SetStatus records the cluster status this node now believes it holds.
// The first call with a non-Undefined status fulfills the init future
// switchUp blocks on before acting on the very first switch.
func (mv *MastershipView) SetStatus(status ControllerStatus) {
	mv.mu.Lock()
	mv.status = status
	mv.mu.Unlock()

	if status != StatusUndefined {
		mv.initOnce.Do(func() { close(mv.initCh) })
	}
}

// Status returns the currently tracked cluster status.
func (mv *MastershipView) Status() ControllerStatus {
	mv.mu.Lock()
	defer mv.mu.Unlock()
	return mv.status
}

// WaitInit blocks until the first SetStatus call, or ctx is done.
func (mv *MastershipView) WaitInit(ctx context.Context) error {
	select {
	case <-mv.initCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SetupNewRoleForAll pushes role to every tracked switch, serialized
// against any other whole-cluster role-push batch in flight.
func (mv *MastershipView) SetupNewRoleForAll(ctx context.Context, role ofp.ControllerRole) {
	mv.pushMu.Lock()
	defer mv.pushMu.Unlock()

	mv.mu.Lock()
	views := make([]*switchView, 0, len(mv.view))
	for _, sv := range mv.view {
		views = append(views, sv)
	}
	mv.mu.Unlock()

	for _, sv := range views {
		sv.changeSwitchRole(ctx, role)
	}
}

// ChangeRole pushes role to a single tracked switch, the per-switch push
// switchUp issues once this node's status is known — independent of
// SetupNewRoleForAll's whole-cluster batch lock, exactly as the
// original's switchUp calls switch_view_ptr->changeSwitchRole directly.
func (mv *MastershipView) ChangeRole(ctx context.Context, dpid ofconn.DPID, role ofp.ControllerRole) {
	mv.mu.Lock()
	sv, ok := mv.view[dpid]
	mv.mu.Unlock()
	if !ok {
		return
	}
	sv.changeSwitchRole(ctx, role)
}

// Switches returns the dpids currently tracked.
func (mv *MastershipView) Switches() []ofconn.DPID {
	mv.mu.Lock()
	defer mv.mu.Unlock()
	out := make([]ofconn.DPID, 0, len(mv.view))
	for dpid := range mv.view {
		out = append(out, dpid)
	}
	return out
}

func (mv *MastershipView) pollLoop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(mv.roleMonitorEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			mv.SetupNewRoleForAll(context.Background(), ofp.ControllerRoleNoChange)
		}
	}
}
