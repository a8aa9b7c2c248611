// Package metrics collects the Prometheus counters and gauges for the
// controller's core: session count, switches up, route trigger
// transitions, pending-request count, the AIMD pacer's window and flow
// re-installs. cmd/runosd updates the session, switches-up and route
// trigger metrics; the pending-request, pacer-window and flow-reinstall
// metrics are registered, but nothing outside this package's tests
// updates them. Exposing them over HTTP is the REST
// surface's job (out of scope per spec.md §1); this package only owns
// the registry and the metric objects.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every gauge/counter the controller core updates. A nil
// *Metrics is a valid no-op collector: every method tolerates a nil
// receiver, the same contract marmos91-dittofs's own metrics package
// uses for its NullMetrics.
type Metrics struct {
	SessionsActive  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	PendingRequests *prometheus.GaugeVec

	RouteTriggersTotal *prometheus.CounterVec

	PacerWindow *prometheus.GaugeVec

	SwitchesUp prometheus.Gauge

	FlowReinstallsTotal *prometheus.CounterVec
}

// New builds and registers every metric against reg. Panics on a
// registration conflict, matching the teacher-pack's own
// NewMetrics(reg) idiom — intended to fire only during startup wiring,
// never at runtime.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runos_sessions_active",
			Help: "Number of currently established OpenFlow control-channel sessions.",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runos_sessions_total",
			Help: "Total control-channel sessions by terminal outcome.",
		}, []string{"outcome"}), // "negotiation_failed", "unknown_dpid", "duplicate_dpid", "closed"
		PendingRequests: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "runos_ofagent_pending_requests",
			Help: "Pending OFAgent request/reply transactions, by switch.",
		}, []string{"dpid"}),
		RouteTriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runos_route_triggers_total",
			Help: "Route trigger activations/deactivations, by flag and transition.",
		}, []string{"flag", "transition"}), // transition: "active", "inactive"
		PacerWindow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "runos_ofmsgsender_window",
			Help: "Current AIMD pacing window, by switch.",
		}, []string{"dpid"}),
		SwitchesUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "runos_switches_up",
			Help: "Number of switches with a completed startup sequence.",
		}),
		FlowReinstallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "runos_flowverifier_reinstalls_total",
			Help: "Flow entries FlowVerifier re-installed, by reason.",
		}, []string{"reason"}), // "missing_on_poll", "unexpected_removal"
	}

	reg.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.PendingRequests,
		m.RouteTriggersTotal,
		m.PacerWindow,
		m.SwitchesUp,
		m.FlowReinstallsTotal,
	)

	return m
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsActive.Inc()
}

func (m *Metrics) SessionClosed(outcome string) {
	if m == nil {
		return
	}
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetPendingRequests(dpid string, n int) {
	if m == nil {
		return
	}
	m.PendingRequests.WithLabelValues(dpid).Set(float64(n))
}

func (m *Metrics) RouteTrigger(flag, transition string) {
	if m == nil {
		return
	}
	m.RouteTriggersTotal.WithLabelValues(flag, transition).Inc()
}

func (m *Metrics) SetPacerWindow(dpid string, window uint32) {
	if m == nil {
		return
	}
	m.PacerWindow.WithLabelValues(dpid).Set(float64(window))
}

func (m *Metrics) SetSwitchesUp(n int) {
	if m == nil {
		return
	}
	m.SwitchesUp.Set(float64(n))
}

func (m *Metrics) FlowReinstalled(reason string) {
	if m == nil {
		return
	}
	m.FlowReinstallsTotal.WithLabelValues(reason).Inc()
}
