package ofputil

import (
	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// TableFlush builds a flow-mod message that deletes every entry of the
// given table.
func TableFlush(table ofp.Table) (*ofconn.Message, error) {
	return ofconn.NewMessage(ofconn.TypeFlowMod, 0, &ofp.FlowMod{
		Table:    table,
		Command:  ofp.FlowDelete,
		BufferID: ofp.NoBuffer,
		OutPort:  ofp.PortAny,
		OutGroup: ofp.GroupAny,
		Match:    ofp.Match{Type: ofp.MatchTypeXM},
	})
}

// FlowFlush builds a flow-mod message that deletes every entry matching
// match from the given table.
func FlowFlush(table ofp.Table, match ofp.Match) (*ofconn.Message, error) {
	return ofconn.NewMessage(ofconn.TypeFlowMod, 0, &ofp.FlowMod{
		Table:    table,
		Command:  ofp.FlowDelete,
		BufferID: ofp.NoBuffer,
		OutPort:  ofp.PortAny,
		OutGroup: ofp.GroupAny,
		Match:    match,
	})
}

// FlowDrop builds a flow-mod message that installs a table-miss,
// match-all "drop" entry into the given table.
func FlowDrop(table ofp.Table) (*ofconn.Message, error) {
	return ofconn.NewMessage(ofconn.TypeFlowMod, 0, &ofp.FlowMod{
		Table:    table,
		Command:  ofp.FlowAdd,
		BufferID: ofp.NoBuffer,
		Match:    ofp.Match{Type: ofp.MatchTypeXM},
	})
}
