package mastership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ARCCN/runos-sub001/internal/agent"
	"github.com/ARCCN/runos-sub001/internal/config"
	"github.com/ARCCN/runos-sub001/internal/dpidguard"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// primaryControllerUnset is the sentinel "no primary known yet" id, the
// analogue of the original's DEFAULT_PRIMARY_CONTROLLER_ID.
const primaryControllerUnset = ""

// HeartbeatService is the surface Manager drives on internal/heartbeat,
// built later against this interface rather than the other way around —
// the same forward-reference shape internal/topology's Store
// establishes for internal/persistence.
type HeartbeatService interface {
	StartService(mode string, status ControllerStatus) error
	StopService()
}

// FlowVerifier is the surface Manager drives on internal/flowverifier:
// its shadow tables must only trust live traffic while this node is
// primary, and must reload from disk on every recovery/promotion.
type FlowVerifier interface {
	SetPrimaryHook(func() bool)
	LoadFromStore() error
	Clear()
}

// Manager is the cluster-wide orchestrator: the direct analogue of the
// original's RecoveryManager, minus the Qt event loop and the REST
// command surface (out of scope per the excluded REST package).
type Manager struct {
	log *logrus.Entry

	guard *dpidguard.Guard
	mv    *MastershipView

	recoveryWaiting time.Duration
	hbMode          string

	mu               sync.Mutex
	status           ControllerStatus
	currentNode      *ClusterNode
	cluster          []*ClusterNode
	primaryID        string
	heartbeatStarted bool

	checker *recoveryChecker

	hb       HeartbeatService
	verifier FlowVerifier
}

// New builds a Manager from the recovery-manager config section. store
// may be nil, in which case the recovery baseline is never persisted —
// suitable for a deployment without a shared datastore.
func New(cfg config.RecoveryManager, guard *dpidguard.Guard, store Store, log *logrus.Entry) (*Manager, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	status, err := parseStatus(cfg.Status)
	if err != nil {
		return nil, err
	}

	recoveryWaiting := cfg.RecoveryWaitingSeconds

	m := &Manager{
		log:             log,
		guard:           guard,
		mv:              NewMastershipView(cfg.RoleMonitoringInterval, log),
		recoveryWaiting: recoveryWaiting,
		hbMode:          cfg.HBMode,
		status:          StatusUndefined,
		currentNode:     NewClusterNode(cfg.ID, StateActive, ofp.ControllerRoleNoChange),
		primaryID:       primaryControllerUnset,
		checker:         newRecoveryChecker(store, log),
	}
	m.currentNode.SetCurrent(true)
	m.cluster = []*ClusterNode{m.currentNode}

	m.mv.SetSplitBrainHook(func(dpid ofconn.DPID) {
		m.log.WithField("dpid", dpid).Warn(
			"mastership: switch unilaterally reported slave, demoting this node to backup")
		m.setupBackupMode(uint64(dpid))
	})
	m.mv.SetEqualRefusedHook(func(dpid ofconn.DPID) {
		if m.guard != nil {
			m.guard.Remove(uint64(dpid))
		}
		m.log.WithField("dpid", dpid).Warn("mastership: de-allowlisted switch after repeated EQUAL refusal")
	})

	m.checker.loadBaseline()
	m.status = status

	return m, nil
}

func parseStatus(s string) (ControllerStatus, error) {
	switch s {
	case "", "Primary", "primary":
		return StatusPrimary, nil
	case "Backup", "backup":
		return StatusBackup, nil
	case "Recovery", "recovery":
		return StatusRecovery, nil
	default:
		return StatusUndefined, fmt.Errorf("mastership: unknown recovery-manager status %q", s)
	}
}

// SetHeartbeat wires the heartbeat transport Manager starts/stops as it
// transitions status. Call before Init.
func (m *Manager) SetHeartbeat(hb HeartbeatService) { m.hb = hb }

// SetVerifier wires FlowVerifier's primary gate and recovery reload
// hooks. Call before Init.
func (m *Manager) SetVerifier(v FlowVerifier) {
	m.verifier = v
	v.SetPrimaryHook(m.IsPrimary)
}

// IsPrimary reports whether this node currently believes it is primary.
func (m *Manager) IsPrimary() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status == StatusPrimary
}

// Init starts the heartbeat service under this node's configured
// initial status, applying the same "stay undefined" special case the
// original's setInitControllerStatus does: a BACKUP node on a
// multicast/broadcast heartbeat never knows how many peers exist, so it
// defers committing to BACKUP until it either hears from a primary or
// times out waiting for one and self-promotes.
func (m *Manager) Init() error {
	m.mu.Lock()
	initial := m.status
	m.mu.Unlock()

	deferInitialStatus := initial == StatusBackup &&
		(m.hbMode == "multicast" || m.hbMode == "broadcast")

	if initial == StatusRecovery {
		m.beginRecovery()
	} else if !deferInitialStatus {
		m.setStatus(initial)
	}

	if m.hb != nil {
		if err := m.hb.StartService(m.hbMode, initial); err != nil {
			return fmt.Errorf("mastership: start heartbeat service: %w", err)
		}
	}
	m.mu.Lock()
	m.heartbeatStarted = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) setStatus(status ControllerStatus) {
	m.mu.Lock()
	m.status = status
	m.currentNode.SetHBStatus(status)
	m.mu.Unlock()
	m.mv.SetStatus(status)
}

func (m *Manager) beginRecovery() {
	m.mu.Lock()
	m.status = StatusRecovery
	m.currentNode.SetHBStatus(StatusRecovery)
	m.mu.Unlock()
	m.mv.SetStatus(StatusRecovery)

	m.checker.onReady = func() {
		m.setStatus(StatusBackup)
		m.recovery()
	}
	m.checker.onFailed = func() {
		m.setStatus(StatusBackup)
		m.beginRecovery()
	}
	m.checker.startRecoveryCheck(m.recoveryWaiting)
}

// SwitchUp registers dpid with the mastership view and pushes the role
// this node's current status implies, exactly as the original's
// switchUp blocks on the init future before acting.
func (m *Manager) SwitchUp(ctx context.Context, dpid ofconn.DPID, ag *agent.Agent) {
	m.mv.AddSwitch(ctx, dpid, ag)

	if err := m.mv.WaitInit(ctx); err != nil {
		m.log.WithError(err).WithField("dpid", dpid).Warn("mastership: switchUp aborted waiting for init")
		return
	}

	switch m.mv.Status() {
	case StatusUndefined:
	case StatusPrimary:
		m.mv.ChangeRole(ctx, dpid, ofp.ControllerRoleMaster)
	case StatusBackup:
		m.mv.ChangeRole(ctx, dpid, ofp.ControllerRoleSlave)
	case StatusRecovery:
		// Switches keep whatever role they already hold.
	}

	m.checker.updateSwitch(uint64(dpid), recoveryActionAdd, m.IsPrimary())
}

// SwitchDown unregisters dpid.
func (m *Manager) SwitchDown(dpid ofconn.DPID) {
	m.mv.DeleteSwitch(dpid)
	m.checker.updateSwitch(uint64(dpid), recoveryActionDelete, m.IsPrimary())
}

// PrimaryDied is called by the heartbeat service when the primary-dead
// timer elapses without a heartbeat: a backup escalates to primary, a
// node already primary ignores its own signal.
func (m *Manager) PrimaryDied() {
	m.recovery()
}

func (m *Manager) recovery() {
	m.mu.Lock()
	if m.status == StatusPrimary {
		m.mu.Unlock()
		return
	}
	m.log.WithField("from", m.status).Warn("mastership: starting recovery procedure, promoting to primary")
	m.status = StatusPrimary
	m.mu.Unlock()

	m.mv.SetupNewRoleForAll(context.Background(), ofp.ControllerRoleMaster)
	m.mv.SetStatus(StatusPrimary)

	m.mu.Lock()
	for _, node := range m.cluster {
		switch {
		case node.HBStatus() == StatusPrimary && node.ID() != m.currentNode.ID():
			node.SetState(StateNotActive)
			node.SetHBStatus(StatusBackup)
		case node.ID() == m.currentNode.ID():
			node.SetState(StateActive)
			node.SetHBStatus(StatusPrimary)
		default:
			node.SetHBStatus(StatusBackup)
		}
	}
	m.currentNode.SetHBStatus(StatusPrimary)
	m.mu.Unlock()

	m.checker.saveBaseline()

	if m.hb != nil {
		m.hb.StartService(m.hbMode, StatusPrimary)
	}
	if m.verifier != nil {
		if err := m.verifier.LoadFromStore(); err != nil {
			m.log.WithError(err).Warn("mastership: reload flow shadow on promotion")
		}
	}
	m.log.Warn("mastership: recovery complete, now primary")
}

// BackupDied marks a cluster member's backup status inactive, called by
// the heartbeat service when a primary stops hearing from a backup
// within the backup-dead interval.
func (m *Manager) BackupDied(backupID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, node := range m.cluster {
		if node.ID() == backupID && node.HBStatus() == StatusBackup {
			m.log.WithField("backup", backupID).Warn("mastership: backup controller failed")
			node.SetState(StateNotActive)
			return
		}
	}
}

// ConnectionToPrimaryEstablished is called by the heartbeat service when
// this node, as a backup, receives a heartbeat from primaryID.
func (m *Manager) ConnectionToPrimaryEstablished(primaryID string) {
	m.mu.Lock()
	if m.status == StatusPrimary {
		m.mu.Unlock()
		return
	}
	if m.primaryID == primaryControllerUnset {
		m.primaryID = primaryID
	}
	changed := m.primaryID != primaryID
	m.mu.Unlock()

	m.log.WithField("primary", primaryID).Warn("mastership: connection to primary controller established")
	m.setPrimaryNode(primaryID)

	if !changed {
		m.setStatus(StatusBackup)
	} else {
		m.setFormerPrimaryToBackup()
		m.mu.Lock()
		m.primaryID = primaryID
		m.mu.Unlock()
	}
}

func (m *Manager) setPrimaryNode(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, node := range m.cluster {
		if node.ID() == id {
			node.SetState(StateActive)
			node.SetHBStatus(StatusPrimary)
			return
		}
	}
	node := NewClusterNode(id, StateActive, ofp.ControllerRoleMaster)
	node.SetHBStatus(StatusPrimary)
	m.cluster = append(m.cluster, node)
	m.log.WithField("count", len(m.cluster)).Warn("mastership: new cluster node added")
}

func (m *Manager) setFormerPrimaryToBackup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, node := range m.cluster {
		if node.ID() == m.primaryID {
			node.SetState(StateNotActive)
			node.SetHBStatus(StatusBackup)
			return
		}
	}
}

// ConnectionToBackupEstablished is called by the heartbeat service when
// this node, as primary, hears from a backup.
func (m *Manager) ConnectionToBackupEstablished(backupID string) {
	m.log.WithField("backup", backupID).Warn("mastership: connection to backup controller established")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, node := range m.cluster {
		if node.ID() == backupID {
			node.SetState(StateActive)
			node.SetHBStatus(StatusBackup)
			return
		}
	}
	node := NewClusterNode(backupID, StateActive, ofp.ControllerRoleSlave)
	node.SetHBStatus(StatusBackup)
	m.cluster = append(m.cluster, node)
}

// setupBackupMode demotes this node to backup, pushing SLAVE to every
// tracked switch. dpidOfFailedSwitch is 0 when the demotion was not
// triggered by a specific switch's split-brain report.
func (m *Manager) setupBackupMode(dpidOfFailedSwitch uint64) {
	m.mu.Lock()
	if m.status == StatusBackup {
		m.mu.Unlock()
		return
	}
	m.status = StatusBackup
	m.mu.Unlock()

	if dpidOfFailedSwitch == 0 {
		m.log.Warn("mastership: switching from primary to backup mode")
	} else {
		m.log.WithField("dpid", dpidOfFailedSwitch).Warn(
			"mastership: switching from primary to backup mode after switch reported slave")
	}

	m.mv.SetupNewRoleForAll(context.Background(), ofp.ControllerRoleSlave)
	m.mv.SetStatus(StatusBackup)

	m.mu.Lock()
	m.currentNode.SetHBStatus(StatusBackup)
	for _, node := range m.cluster {
		if node.ID() != m.currentNode.ID() {
			node.SetState(StateNotActive)
			node.SetHBStatus(StatusBackup)
		}
	}
	m.mu.Unlock()

	if m.hb != nil {
		m.hb.StartService(m.hbMode, StatusBackup)
	}
	if m.verifier != nil {
		m.verifier.Clear()
	}
}

// SetupBackupMode is the exported, externally-triggerable form of
// setupBackupMode (the REST "changeStatus: Backup" command's target in
// the original — the transport itself stays out of scope, this method
// is where a future operator-facing surface would call in).
func (m *Manager) SetupBackupMode() { m.setupBackupMode(0) }

// SetupPrimaryMode escalates this node to primary: immediately, if it
// was a plain backup, or after running the recovery-mode switch-arrival
// check if it was in RECOVERY.
func (m *Manager) SetupPrimaryMode() {
	m.mu.Lock()
	status := m.status
	m.mu.Unlock()

	switch status {
	case StatusPrimary:
		return
	case StatusRecovery:
		m.log.Warn("mastership: no primary controller found, staying in recovery mode")
		m.checker.onReady = func() {
			m.setStatus(StatusBackup)
			m.recovery()
		}
		m.checker.onFailed = func() {
			m.setStatus(StatusBackup)
			m.SetupPrimaryMode()
		}
		m.checker.startRecoveryCheck(m.recoveryWaiting)
		m.currentNode.SetHBStatus(StatusPrimary)
		if m.hb != nil {
			m.hb.StartService(m.hbMode, StatusPrimary)
		}
	case StatusBackup:
		m.mu.Lock()
		m.status = StatusPrimary
		m.mu.Unlock()
		m.log.Warn("mastership: switching from backup to primary mode")
		m.mv.SetupNewRoleForAll(context.Background(), ofp.ControllerRoleMaster)
		m.mv.SetStatus(StatusPrimary)
		m.currentNode.SetHBStatus(StatusPrimary)
		if m.hb != nil {
			m.hb.StartService(m.hbMode, StatusPrimary)
		}
	}
}

// ParamsReceived applies a PARAMETERS_UPDATE heartbeat datagram: it
// updates the sending node's advertised endpoints and, if this node is
// not primary, points Persistence's replica link at whichever cluster
// member is currently marked primary.
func (m *Manager) ParamsReceived(p Params, setupReplicaOf func(addr string, port int)) {
	m.mu.Lock()
	var node *ClusterNode
	for _, n := range m.cluster {
		if n.ID() == p.NodeID() {
			node = n
			break
		}
	}
	if node == nil {
		m.mu.Unlock()
		return
	}
	node.SetOpenflowAddr(fmt.Sprintf("%s:%d", p.OpenflowAddr(), p.OpenflowPort()))
	node.SetHeartbeatEndpoint(p.HeartbeatAddr(), p.HeartbeatPort())
	node.SetDBEndpoint(p.DBAddr(), p.DBPort())

	notPrimary := m.status != StatusPrimary
	var primaryNode *ClusterNode
	if notPrimary {
		for _, n := range m.cluster {
			if n.HBStatus() == StatusPrimary {
				primaryNode = n
				break
			}
		}
	}
	m.mu.Unlock()

	if notPrimary && primaryNode != nil && setupReplicaOf != nil {
		addr, port := primaryNode.DBEndpoint()
		setupReplicaOf(addr, port)
	}
}

// ChangeRole pushes role to every tracked switch immediately, bypassing
// the cluster state machine — the manual override surface a future
// operator-facing handler would call into.
func (m *Manager) ChangeRole(role string) error {
	var r ofp.ControllerRole
	switch role {
	case "NOCHANGE":
		r = ofp.ControllerRoleNoChange
	case "MASTER":
		r = ofp.ControllerRoleMaster
	case "EQUAL":
		r = ofp.ControllerRoleEqual
	case "SLAVE":
		r = ofp.ControllerRoleSlave
	default:
		return fmt.Errorf("mastership: unknown role %q", role)
	}
	m.mv.SetupNewRoleForAll(context.Background(), r)
	return nil
}

// ChangeStatus forces this node directly into Primary or Backup mode.
func (m *Manager) ChangeStatus(status string) error {
	switch status {
	case "Primary":
		m.recovery()
	case "Backup":
		m.SetupBackupMode()
	default:
		return fmt.Errorf("mastership: unknown status %q", status)
	}
	return nil
}

// Cluster returns every known cluster member, this node included.
func (m *Manager) Cluster() []*ClusterNode {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ClusterNode, len(m.cluster))
	copy(out, m.cluster)
	return out
}

// MastershipView returns the per-switch role-tracking view.
func (m *Manager) MastershipView() *MastershipView { return m.mv }

// Status returns this node's current cluster status.
func (m *Manager) Status() ControllerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// NodeID returns this node's configured cluster identity.
func (m *Manager) NodeID() string { return m.currentNode.ID() }
