package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestNewRegistersAndUpdates(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SessionOpened()
	m.SessionOpened()
	m.SessionClosed("closed")
	m.SetSwitchesUp(3)
	m.RouteTrigger("broken", "active")
	m.SetPacerWindow("0x1", 40)
	m.FlowReinstalled("missing_on_poll")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(mfs) == 0 {
		t.Fatal("expected at least one registered metric family")
	}

	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "runos_switches_up" {
			found = true
			if got := mf.Metric[0].GetGauge().GetValue(); got != 3 {
				t.Fatalf("runos_switches_up = %v, want 3", got)
			}
		}
	}
	if !found {
		t.Fatal("runos_switches_up not registered")
	}
}

func TestNilMetricsIsANoOp(t *testing.T) {
	var m *Metrics
	m.SessionOpened()
	m.SessionClosed("closed")
	m.SetPendingRequests("0x1", 2)
	m.RouteTrigger("broken", "active")
	m.SetPacerWindow("0x1", 20)
	m.SetSwitchesUp(1)
	m.FlowReinstalled("unexpected_removal")
}
