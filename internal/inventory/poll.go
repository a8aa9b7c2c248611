package inventory

import (
	"context"
	"time"

	"github.com/ARCCN/runos-sub001/ofp"
)

// Run drives the periodic statistics poll until ctx is done or Close is
// called. Each tick visits every switch that has completed its startup
// sequence and fetches port and queue statistics for it; a tick is
// skipped for a switch whose prior poll is still outstanding, so a slow
// or wedged switch cannot back the whole loop up — spec.md notes that
// beacon and stats polling are idempotent and tolerate a skipped tick.
func (inv *Inventory) Run(ctx context.Context) {
	ticker := time.NewTicker(inv.pollInterval)
	defer ticker.Stop()

	inFlight := make(map[*Switch]chan struct{})

	for {
		select {
		case <-ctx.Done():
			return
		case <-inv.stop:
			return
		case <-ticker.C:
			for _, sw := range inv.AliveSwitches() {
				if done, busy := inFlight[sw]; busy {
					select {
					case <-done:
						delete(inFlight, sw)
					default:
						continue
					}
				}
				done := make(chan struct{})
				inFlight[sw] = done
				go func(sw *Switch, done chan struct{}) {
					defer close(done)
					inv.pollSwitch(sw)
				}(sw, done)
			}
		}
	}
}

// pollSwitch fetches one round of port and queue statistics for sw and
// feeds them into each Port's rolling window.
func (inv *Inventory) pollSwitch(sw *Switch) {
	ctx, cancel := context.WithTimeout(context.Background(), inv.pollInterval)
	defer cancel()

	ag := sw.Agent()
	now := time.Now()

	stats, err := ag.RequestPortStats(ctx, ofp.PortAny)
	if err != nil {
		inv.log.WithError(err).WithField("dpid", sw.DPID).Debug("inventory: port-stats poll failed")
		return
	}
	for _, st := range stats {
		port, ok := inv.ports.get(PortKey{DPID: sw.DPID, PortNo: st.PortNo})
		if !ok {
			continue
		}
		port.applyStats(now, st)
	}

	for _, port := range inv.ports.byDPID(sw.DPID) {
		qstats, err := ag.RequestQueueStats(ctx, port.Key.PortNo, ofp.QueueAll)
		if err != nil {
			inv.log.WithError(err).WithField("dpid", sw.DPID).WithField("port", port.Key.PortNo).
				Debug("inventory: queue-stats poll failed")
			continue
		}
		for _, qs := range qstats {
			port.applyQueueStats(qs)
		}
	}
}
