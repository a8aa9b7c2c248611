package mastership

// Params is what a PARAMETERS_UPDATE heartbeat datagram carries: the
// sending node's identity and the three endpoints it advertises. It is
// an interface rather than a concrete struct so internal/heartbeat,
// built against this package later, can hand over its own decoded
// message type without mastership importing heartbeat's wire package —
// the same forward-reference-interface shape internal/topology's Store
// already established.
type Params interface {
	NodeID() string
	HeartbeatAddr() string
	HeartbeatPort() int
	OpenflowAddr() string
	OpenflowPort() int
	DBAddr() string
	DBPort() int
}
