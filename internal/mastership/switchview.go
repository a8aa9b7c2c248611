// Package mastership implements MastershipController and the cluster
// state machine: per-switch OpenFlow role tracking with generation-id
// bookkeeping, split-brain avoidance, and the primary/backup/recovery
// promotion rules spec.md §4.7 describes.
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

// maxTimesMeetEqual bounds how many consecutive EQUAL replies a switch
// may give to a MASTER/SLAVE role push before it is treated as
// misbehaving and de-allowlisted. The original names this
// MAX_TIMES_MEET_EQUAL and fixes it at 1 — one retry, then give up.
const maxTimesMeetEqual = 1

// roleRequestTimeout bounds a single role-request/reply round trip.
const roleRequestTimeout = 5 * time.Second

// switchView is one switch's role-tracking state: the role this
// controller last believes it holds on that switch and the generation
// id the switch last reported, updated strictly through role-request
// replies.
type switchView struct {
	mu sync.Mutex

	dpid ofconn.DPID
	ag   *agent.Agent

	role         ofp.ControllerRole
	generationID uint64

	// probed is false only for the very first request sent for this
	// switch: a NOCHANGE, get-only-generation-id probe whose returned
	// role is never evaluated, matching the original's
	// get_only_generation_id semantics.
	probed bool

	roleRequestTimes int

	log *logrus.Entry

	// onSplitBrain fires when a switch unilaterally reports SLAVE while
	// this view's tracked role says otherwise — wired by MastershipView
	// to demote the whole controller node to backup, not just this one
	// switch, exactly as the original's roleMasterToSlaveChanged signal
	// drives RecoveryManager::setupBackupMode for every switch at once.
	onSplitBrain func(dpid ofconn.DPID)

	// onEqualRefused fires once the retry budget is exhausted; wired by
	// MastershipView to de-allowlist the switch. Its session stays open.
	onEqualRefused func(dpid ofconn.DPID)
}

func newSwitchView(dpid ofconn.DPID, ag *agent.Agent, log *logrus.Entry) *switchView {
	return &switchView{dpid: dpid, ag: ag, log: log}
}

// probe sends the initial NOCHANGE role request a newly-up switch
// receives: its only purpose is to learn the switch's current
// generation id, so the returned role is deliberately never inspected.
func (v *switchView) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, roleRequestTimeout)
	defer cancel()

	reply, err := v.ag.RequestRole(ctx, ofp.ControllerRoleNoChange, 0)
	if err != nil {
		v.log.WithError(err).WithField("dpid", v.dpid).
			Warn("mastership: initial generation-id probe failed")
		return
	}

	v.mu.Lock()
	v.role = ofp.ControllerRoleNoChange
	v.generationID = reply.GenerationID
	v.probed = true
	v.mu.Unlock()
}

// changeSwitchRole is the public entry point for pushing a new role:
// every error it can encounter — an equal-refusal past the retry
// budget, a request timeout, an OpenFlow error reply, or a send
// failure — is logged and swallowed. None of them abort the caller,
// matching the original's changeSwitchRole wrapping change_switch_role
// in a catch-everything try/catch.
func (v *switchView) changeSwitchRole(ctx context.Context, role ofp.ControllerRole) {
	if err := v.changeRole(ctx, role); err != nil {
		switch err.(type) {
		case *EqualError:
			v.log.WithField("dpid", v.dpid).Warn(
				"mastership: switch refused role change with EQUAL past retry budget, de-allowlisting")
			if v.onEqualRefused != nil {
				v.onEqualRefused(v.dpid)
			}
		case *TimeoutError:
			v.log.WithField("dpid", v.dpid).Warn("mastership: role-request timed out")
		default:
			v.log.WithError(err).WithField("dpid", v.dpid).Warn("mastership: role-request failed")
		}
	}
}

// changeRole sends a single role request and evaluates the reply,
// recursing once if the switch answers EQUAL to a MASTER/SLAVE push.
func (v *switchView) changeRole(ctx context.Context, role ofp.ControllerRole) error {
	v.mu.Lock()
	genID := v.generationID
	sendingRole := role
	v.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, roleRequestTimeout)
	reply, err := v.ag.RequestRole(reqCtx, role, genID)
	cancel()
	if err != nil {
		if _, ok := err.(*agent.NotResponded); ok {
			return &TimeoutError{DPID: v.dpid}
		}
		return err
	}

	return v.processRoleReply(sendingRole, reply)
}

// processRoleReply applies one role-request reply to the tracked view.
// The very first probe never evaluates the returned role: it exists
// only to learn the generation id.
func (v *switchView) processRoleReply(sendingRole ofp.ControllerRole, reply *ofp.RoleRequest) error {
	v.mu.Lock()
	wasProbe := !v.probed
	trackedRole := v.role
	v.probed = true
	v.generationID = reply.GenerationID
	v.mu.Unlock()

	if wasProbe {
		v.mu.Lock()
		v.role = reply.Role
		v.mu.Unlock()
		return nil
	}

	switch {
	case reply.Role == ofp.ControllerRoleSlave && trackedRole != ofp.ControllerRoleSlave:
		// The switch unilaterally dropped us to SLAVE: someone else
		// claimed mastership. Avoid a split brain by demoting this
		// whole controller node, not just this switch.
		if v.onSplitBrain != nil {
			v.onSplitBrain(v.dpid)
		}
		v.mu.Lock()
		v.role = reply.Role
		v.mu.Unlock()
		return nil

	case reply.Role == ofp.ControllerRoleEqual && trackedRole == ofp.ControllerRoleEqual:
		// We believed we already held EQUAL and got EQUAL again. A bare
		// NOCHANGE re-assertion (the role-monitoring poller's periodic
		// check) gives up immediately; an explicit MASTER/SLAVE push
		// gets the retry budget instead.
		if sendingRole == ofp.ControllerRoleNoChange {
			return &EqualError{DPID: v.dpid}
		}
		return v.handleEqualError(sendingRole)

	case reply.Role == ofp.ControllerRoleEqual &&
		(trackedRole == ofp.ControllerRoleMaster || trackedRole == ofp.ControllerRoleSlave):
		// The switch dropped us from MASTER/SLAVE straight to EQUAL:
		// treat it the same as the already-EQUAL case above.
		return v.handleEqualError(sendingRole)

	default:
		v.mu.Lock()
		v.role = reply.Role
		v.roleRequestTimes = 0
		v.mu.Unlock()
		return nil
	}
}

// handleEqualError retries the role push exactly once more before
// giving up, per maxTimesMeetEqual.
func (v *switchView) handleEqualError(sendingRole ofp.ControllerRole) error {
	v.mu.Lock()
	v.roleRequestTimes++
	times := v.roleRequestTimes
	v.mu.Unlock()

	if times > maxTimesMeetEqual {
		v.mu.Lock()
		v.roleRequestTimes = 0
		v.mu.Unlock()
		return &EqualError{DPID: v.dpid}
	}

	return v.changeRole(context.Background(), sendingRole)
}

func (v *switchView) snapshot() (role ofp.ControllerRole, generationID uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.role, v.generationID
}
