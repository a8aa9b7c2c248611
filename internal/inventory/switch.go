package inventory

import (
	"sync"
	"time"

	"github.com/ARCCN/runos-sub001/internal/agent"
	"github.com/ARCCN/runos-sub001/internal/devicedb"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// Switch mirrors spec.md's Switch entity: identity, capabilities, the
// vendor description, and the table layout resolved from the device
// catalog. It holds no pointer to its owning Session or to its Ports —
// only the DPID handle, per the arena-store redesign (spec.md §9
// "cyclic ownership").
type Switch struct {
	DPID ofconn.DPID

	mu sync.RWMutex

	agent *agent.Agent

	numBuffers   uint32
	numTables    uint8
	capabilities ofp.Capability

	manufacturer string
	hardware     string
	software     string
	serialNum    string
	datapath     string

	tables devicedb.TableLayout

	config ofp.SwitchConfig

	up          bool
	connectedAt time.Time

	maintenance bool
}

func newSwitch(dpid ofconn.DPID, ag *agent.Agent) *Switch {
	return &Switch{DPID: dpid, agent: ag, connectedAt: time.Now()}
}

// Agent returns the typed request/reply façade for this switch's
// session. FlowVerifier, LinkDiscoverer and OFMsgSender all act on a
// switch exclusively through this handle.
func (sw *Switch) Agent() *agent.Agent {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.agent
}

// Up reports whether the startup sequence (features, desc, port-desc,
// config) has completed.
func (sw *Switch) Up() bool {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.up
}

// Description returns the manufacturer/hardware/software/serial/
// datapath description retrieved from the switch.
func (sw *Switch) Description() (manufacturer, hardware, software, serialNum, datapath string) {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.manufacturer, sw.hardware, sw.software, sw.serialNum, sw.datapath
}

// Tables returns the resolved table layout: which table index plays
// which pipeline role for this switch.
func (sw *Switch) Tables() devicedb.TableLayout {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.tables
}

// Capabilities returns the switch's advertised capability bitmap.
func (sw *Switch) Capabilities() ofp.Capability {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.capabilities
}

// NumTables returns the number of flow tables the datapath supports.
func (sw *Switch) NumTables() uint8 {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.numTables
}

func (sw *Switch) setUp(feat ofp.SwitchFeatures, desc ofp.Description, cfg ofp.SwitchConfig, tables devicedb.TableLayout) {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	sw.numBuffers = feat.NumBuffers
	sw.numTables = feat.NumTables
	sw.capabilities = feat.Capabilities

	sw.manufacturer = trimPad(desc.Manufacturer)
	sw.hardware = trimPad(desc.Hardware)
	sw.software = trimPad(desc.Software)
	sw.serialNum = trimPad(desc.SerialNum)
	sw.datapath = trimPad(desc.Datapath)

	sw.tables = tables
	sw.config = cfg
	sw.up = true
}

func (sw *Switch) setDown() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.up = false
}

// Maintenance reports whether the switch has been manually taken out of
// service (TopologyEngine excludes it as a path-planning vertex).
func (sw *Switch) Maintenance() bool {
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return sw.maintenance
}

// SetMaintenance toggles the maintenance flag.
func (sw *Switch) SetMaintenance(m bool) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.maintenance = m
}

// trimPad strips the trailing NUL padding ofp.Description's fixed-width
// wire encoding leaves in place after decoding.
func trimPad(s string) string {
	for i, r := range s {
		if r == 0 {
			return s[:i]
		}
	}
	return s
}
