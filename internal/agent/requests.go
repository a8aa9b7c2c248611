package agent

import (
	"context"
	"io"

	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/ofp"
)

// Barrier sends a barrier request and waits for the matching reply. A
// FlowMod call followed by Barrier is the standard way to know that the
// flow table has actually been updated before acting on that fact
// (OFMsgSender's pacing relies on this).
func (a *Agent) Barrier(ctx context.Context) error {
	_, err := a.call(ctx, ofconn.TypeBarrierRequest, nil)
	return err
}

// RequestConfig retrieves the switch's current configuration flags and
// miss-send length.
func (a *Agent) RequestConfig(ctx context.Context) (*ofp.SwitchConfig, error) {
	reply, err := a.call(ctx, ofconn.TypeGetConfigRequest, nil)
	if err != nil {
		return nil, err
	}
	var cfg ofp.SwitchConfig
	if err := decode(reply, &cfg, a.dpid(), reply.Header.XID); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetConfig installs a new switch configuration. Set-config carries no
// reply in the OpenFlow wire protocol, so the caller is expected to
// follow it with Barrier if it needs to know the switch applied it.
func (a *Agent) SetConfig(ctx context.Context, cfg ofp.SwitchConfig) error {
	xid := a.nextXID()
	msg, err := ofconn.NewMessage(ofconn.TypeSetConfig, xid, &cfg)
	if err != nil {
		return &RequestError{newError(a.dpid(), xid, err.Error())}
	}
	if err := a.sess.Send(msg); err != nil {
		return &RequestError{newError(a.dpid(), xid, err.Error())}
	}
	return nil
}

// RequestFeatures retrieves the switch's datapath id, buffer count,
// table count and capabilities. SwitchInventory issues this first, once
// per session, before anything else — the datapath id it returns is
// what binds the session to a Switch entry.
func (a *Agent) RequestFeatures(ctx context.Context) (*ofp.SwitchFeatures, error) {
	reply, err := a.call(ctx, ofconn.TypeFeaturesRequest, nil)
	if err != nil {
		return nil, err
	}
	var feat ofp.SwitchFeatures
	if err := decode(reply, &feat, a.dpid(), reply.Header.XID); err != nil {
		return nil, err
	}
	return &feat, nil
}

// RequestSwitchDesc retrieves the manufacturer/hardware/software/serial
// description multipart.
func (a *Agent) RequestSwitchDesc(ctx context.Context) (*ofp.Description, error) {
	reply, err := a.multipart(ctx, ofp.MultipartTypeDescription, nil)
	if err != nil {
		return nil, err
	}
	var desc ofp.Description
	if err := decode(reply, &desc, a.dpid(), reply.Header.XID); err != nil {
		return nil, err
	}
	return &desc, nil
}

// RequestRole asks the switch to assume (or report, for
// ControllerRoleNoChange) a controller role.
func (a *Agent) RequestRole(ctx context.Context, role ofp.ControllerRole, genID uint64) (*ofp.RoleRequest, error) {
	req := &ofp.RoleRequest{Role: role, GenerationID: genID}
	reply, err := a.call(ctx, ofconn.TypeRoleRequest, req)
	if err != nil {
		return nil, err
	}
	var rr ofp.RoleRequest
	if err := decode(reply, &rr, a.dpid(), reply.Header.XID); err != nil {
		return nil, err
	}
	return &rr, nil
}

// RequestPortDesc retrieves the port description multipart: the
// OpenFlow 1.3 way to enumerate a switch's ports (OFPMP_PORT_DESC),
// superseding the deprecated port list once carried on FeaturesReply.
func (a *Agent) RequestPortDesc(ctx context.Context) ([]ofp.Port, error) {
	reply, err := a.multipart(ctx, ofp.MultipartTypePortDescription, nil)
	if err != nil {
		return nil, err
	}
	var ports ofp.Ports
	if err := decode(reply, &ports, a.dpid(), reply.Header.XID); err != nil {
		return nil, err
	}
	return []ofp.Port(ports), nil
}

// RequestPortStats retrieves per-port statistics. port is
// ofp.PortAny to request every port at once, in which case the reply
// carries one ofp.PortStats per port.
func (a *Agent) RequestPortStats(ctx context.Context, port ofp.PortNo) ([]ofp.PortStats, error) {
	reply, err := a.multipart(ctx, ofp.MultipartTypePortStats, &ofp.PortStatsRequest{PortNo: port})
	if err != nil {
		return nil, err
	}
	stats, err := readElements[ofp.PortStats](reply.Body)
	if err != nil {
		return nil, &BadReply{newError(a.dpid(), reply.Header.XID, err.Error())}
	}
	return stats, nil
}

// RequestQueueStats retrieves per-queue statistics for one port (or
// every port, with ofp.PortAny) and one queue (or every queue, with
// ofp.QueueAll).
func (a *Agent) RequestQueueStats(ctx context.Context, port ofp.PortNo, queue ofp.Queue) ([]ofp.QueueStats, error) {
	reply, err := a.multipart(ctx, ofp.MultipartTypeQueue, &ofp.QueueStatsRequest{Port: port, Queue: queue})
	if err != nil {
		return nil, err
	}
	stats, err := readElements[ofp.QueueStats](reply.Body)
	if err != nil {
		return nil, &BadReply{newError(a.dpid(), reply.Header.XID, err.Error())}
	}
	return stats, nil
}

// RequestFlowStats retrieves the flow entries matching req.
func (a *Agent) RequestFlowStats(ctx context.Context, req ofp.FlowStatsRequest) ([]ofp.FlowStats, error) {
	reply, err := a.multipart(ctx, ofp.MultipartTypeFlow, &req)
	if err != nil {
		return nil, err
	}
	stats, err := readElements[ofp.FlowStats](reply.Body)
	if err != nil {
		return nil, &BadReply{newError(a.dpid(), reply.Header.XID, err.Error())}
	}
	return stats, nil
}

// RequestAggregate retrieves the packet/byte/flow-count aggregate over
// the entries matching req.
func (a *Agent) RequestAggregate(ctx context.Context, req ofp.FlowStatsRequest) (*ofp.AggregateStats, error) {
	asr := ofp.AggregateStatsRequest(req)
	reply, err := a.multipart(ctx, ofp.MultipartTypeAggregate, &asr)
	if err != nil {
		return nil, err
	}
	var stats ofp.AggregateStats
	if err := decode(reply, &stats, a.dpid(), reply.Header.XID); err != nil {
		return nil, err
	}
	return &stats, nil
}

// RequestGroupDesc retrieves the configured group descriptions.
func (a *Agent) RequestGroupDesc(ctx context.Context) ([]ofp.GroupDescStats, error) {
	reply, err := a.multipart(ctx, ofp.MultipartTypeGroupDescription, nil)
	if err != nil {
		return nil, err
	}
	stats, err := readElements[ofp.GroupDescStats](reply.Body)
	if err != nil {
		return nil, &BadReply{newError(a.dpid(), reply.Header.XID, err.Error())}
	}
	return stats, nil
}

// RequestGroupStats retrieves statistics for one group, or every group
// when group is ofp.GroupAll.
func (a *Agent) RequestGroupStats(ctx context.Context, group ofp.Group) ([]ofp.GroupStats, error) {
	reply, err := a.multipart(ctx, ofp.MultipartTypeGroup, &ofp.GroupStatsRequest{Group: group})
	if err != nil {
		return nil, err
	}
	stats, err := readElements[ofp.GroupStats](reply.Body)
	if err != nil {
		return nil, &BadReply{newError(a.dpid(), reply.Header.XID, err.Error())}
	}
	return stats, nil
}

// RequestTableStats retrieves per-table statistics.
func (a *Agent) RequestTableStats(ctx context.Context) ([]ofp.TableStats, error) {
	reply, err := a.multipart(ctx, ofp.MultipartTypeTable, nil)
	if err != nil {
		return nil, err
	}
	stats, err := readElements[ofp.TableStats](reply.Body)
	if err != nil {
		return nil, &BadReply{newError(a.dpid(), reply.Header.XID, err.Error())}
	}
	return stats, nil
}

// RequestMeterStats retrieves statistics for one meter, or every meter
// when meter is ofp.MeterAll.
func (a *Agent) RequestMeterStats(ctx context.Context, meter ofp.Meter) ([]ofp.MeterStats, error) {
	reply, err := a.multipart(ctx, ofp.MultipartTypeMeter, &ofp.MeterStatsRequest{Meter: meter})
	if err != nil {
		return nil, err
	}
	stats, err := readElements[ofp.MeterStats](reply.Body)
	if err != nil {
		return nil, &BadReply{newError(a.dpid(), reply.Header.XID, err.Error())}
	}
	return stats, nil
}

// RequestMeterConfig retrieves configured meter bands.
func (a *Agent) RequestMeterConfig(ctx context.Context) ([]ofp.MeterConfig, error) {
	reply, err := a.multipart(ctx, ofp.MultipartTypeMeterConfig, &ofp.MeterConfigRequest{Meter: ofp.MeterAll})
	if err != nil {
		return nil, err
	}
	cfg, err := readElements[ofp.MeterConfig](reply.Body)
	if err != nil {
		return nil, &BadReply{newError(a.dpid(), reply.Header.XID, err.Error())}
	}
	return cfg, nil
}

// RequestMeterFeatures retrieves the meter capabilities of the switch.
func (a *Agent) RequestMeterFeatures(ctx context.Context) (*ofp.MeterFeatures, error) {
	reply, err := a.multipart(ctx, ofp.MultipartTypeMeterFeatures, nil)
	if err != nil {
		return nil, err
	}
	var feat ofp.MeterFeatures
	if err := decode(reply, &feat, a.dpid(), reply.Header.XID); err != nil {
		return nil, err
	}
	return &feat, nil
}

// FlowMod installs, modifies or deletes a flow table entry. It does not
// wait for a reply (OpenFlow flow-mod has none); pair it with Barrier to
// know when the switch has applied it.
func (a *Agent) FlowMod(ctx context.Context, fm *ofp.FlowMod) error {
	return a.fireAndForget(ofconn.TypeFlowMod, fm)
}

// GroupMod installs, modifies or deletes a group table entry.
func (a *Agent) GroupMod(ctx context.Context, gm *ofp.GroupMod) error {
	return a.fireAndForget(ofconn.TypeGroupMod, gm)
}

// MeterMod installs, modifies or deletes a meter.
func (a *Agent) MeterMod(ctx context.Context, mm *ofp.MeterMod) error {
	return a.fireAndForget(ofconn.TypeMeterMod, mm)
}

// PacketOut asks the switch to emit (or re-inject) a packet.
func (a *Agent) PacketOut(ctx context.Context, po *ofp.PacketOut) error {
	return a.fireAndForget(ofconn.TypePacketOut, po)
}

func (a *Agent) fireAndForget(t ofconn.Type, body ofconn.Body) error {
	xid := a.nextXID()
	msg, err := ofconn.NewMessage(t, xid, body)
	if err != nil {
		return &RequestError{newError(a.dpid(), xid, err.Error())}
	}
	if err := a.sess.Send(msg); err != nil {
		return &RequestError{newError(a.dpid(), xid, err.Error())}
	}
	return nil
}

// multipart issues a multipart request and returns the reassembled
// reply once every fragment (spec.md §4.1 "more" flag continuation) has
// arrived.
func (a *Agent) multipart(ctx context.Context, t ofp.MultipartType, body io.WriterTo) (*ofconn.Message, error) {
	req := ofp.NewMultipartRequest(t, body)
	return a.call(ctx, ofconn.TypeMultipartRequest, req)
}
