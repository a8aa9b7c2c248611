package mastership

import (
	"github.com/ARCCN/runos-sub001/ofp"
)

// ControllerStatus mirrors the original's ControllerStatus enum: the
// cluster-wide role this controller node currently plays. It starts
// Undefined deliberately, to avoid pushing an OpenFlow role change
// before the node knows whether it is primary, backup, or recovering.
type ControllerStatus int

const (
	StatusUndefined ControllerStatus = iota
	StatusPrimary
	StatusBackup
	StatusRecovery
)

func (s ControllerStatus) String() string {
	switch s {
	case StatusPrimary:
		return "primary"
	case StatusBackup:
		return "backup"
	case StatusRecovery:
		return "recovery"
	default:
		return "undefined"
	}
}

// ControllerState is a cluster node's heartbeat liveness, independent of
// its ControllerStatus: a node can be the ACTIVE backup or a NOT_ACTIVE
// one whose heartbeat lapsed.
type ControllerState int

const (
	StateActive ControllerState = iota
	StateNotActive
)

// ClusterNode is this controller's record of one member of the cluster
// — itself included — carrying everything RecoveryManager needs to
// decide role transitions and everything the heartbeat service needs to
// dial a peer: address material, per-mode intervals, and the datastore
// endpoint it last advertised.
type ClusterNode struct {
	id    string
	state ControllerState
	role  ofp.ControllerRole

	// current reports whether this ClusterNode is the node this process
	// is running as.
	current bool

	openflowAddr string

	hbStatus        ControllerStatus
	heartbeatAddr   string
	heartbeatPort   int
	primaryDead     int // seconds
	backupDead      int // seconds
	primaryWaiting  int // seconds

	dbAddr string
	dbPort int
}

// NewClusterNode builds a ClusterNode the way the original's constructor
// does: id, liveness state, and the OpenFlow role this node is expected
// to hold.
func NewClusterNode(id string, state ControllerState, role ofp.ControllerRole) *ClusterNode {
	return &ClusterNode{id: id, state: state, role: role}
}

func (n *ClusterNode) ID() string              { return n.id }
func (n *ClusterNode) State() ControllerState  { return n.state }
func (n *ClusterNode) SetState(s ControllerState) { n.state = s }
func (n *ClusterNode) Role() ofp.ControllerRole   { return n.role }
func (n *ClusterNode) SetRole(r ofp.ControllerRole) { n.role = r }

func (n *ClusterNode) Current() bool     { return n.current }
func (n *ClusterNode) SetCurrent(c bool) { n.current = c }

func (n *ClusterNode) OpenflowAddr() string     { return n.openflowAddr }
func (n *ClusterNode) SetOpenflowAddr(a string) { n.openflowAddr = a }

func (n *ClusterNode) HBStatus() ControllerStatus     { return n.hbStatus }
func (n *ClusterNode) SetHBStatus(s ControllerStatus) { n.hbStatus = s }

func (n *ClusterNode) HeartbeatEndpoint() (string, int) { return n.heartbeatAddr, n.heartbeatPort }
func (n *ClusterNode) SetHeartbeatEndpoint(addr string, port int) {
	n.heartbeatAddr, n.heartbeatPort = addr, port
}

func (n *ClusterNode) SetIntervalsSeconds(primaryDead, backupDead, primaryWaiting int) {
	n.primaryDead, n.backupDead, n.primaryWaiting = primaryDead, backupDead, primaryWaiting
}
func (n *ClusterNode) IntervalsSeconds() (primaryDead, backupDead, primaryWaiting int) {
	return n.primaryDead, n.backupDead, n.primaryWaiting
}

func (n *ClusterNode) DBEndpoint() (string, int) { return n.dbAddr, n.dbPort }
func (n *ClusterNode) SetDBEndpoint(addr string, port int) {
	n.dbAddr, n.dbPort = addr, port
}
