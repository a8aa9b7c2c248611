package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ARCCN/runos-sub001/internal/config"
	"github.com/ARCCN/runos-sub001/internal/devicedb"
	"github.com/ARCCN/runos-sub001/internal/discovery"
	"github.com/ARCCN/runos-sub001/internal/dpidguard"
	"github.com/ARCCN/runos-sub001/internal/flowverifier"
	"github.com/ARCCN/runos-sub001/internal/heartbeat"
	"github.com/ARCCN/runos-sub001/internal/inventory"
	"github.com/ARCCN/runos-sub001/internal/mastership"
	"github.com/ARCCN/runos-sub001/internal/metrics"
	"github.com/ARCCN/runos-sub001/internal/ofconn"
	"github.com/ARCCN/runos-sub001/internal/ofmsgsender"
	"github.com/ARCCN/runos-sub001/internal/persistence"
	"github.com/ARCCN/runos-sub001/internal/topology"
	"github.com/ARCCN/runos-sub001/ofp"
)

// options collects the CLI surface of spec.md §6. tooldir/etcdir/dumpdir
// have no component to bind to in this tree (the original used them to
// locate its dynamically-loaded application plugins and crash-dump
// directory, both out of scope here) — they are accepted and recorded so
// a caller's existing invocation keeps working, never consumed further.
type options struct {
	conf    string
	tooldir string
	etcdir  string
	dumpdir string
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "runosd",
		Short: "runosd is the RunOS OpenFlow 1.3 controller daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&opts.conf, "conf", "c", "network-settings.json", "path to configuration file")
	cmd.Flags().StringVar(&opts.tooldir, "tooldir", "", "path to tools executables")
	cmd.Flags().StringVar(&opts.etcdir, "etcdir", "", "path to etc dir")
	cmd.Flags().StringVar(&opts.dumpdir, "dumpdir", "", "path to crashdump dir")

	return cmd
}

// run loads the configuration and wires every component together,
// mirroring original_source/src/core/Main.cc's single-process Loader
// sequence without the Qt event loop: each component here owns its own
// goroutine(s) started explicitly below instead of a signal/slot bus.
func run(opts options) error {
	log := logrus.NewEntry(logrus.StandardLogger())

	cfg, err := config.Load(opts.conf)
	if err != nil {
		return fmt.Errorf("runosd: %w", err)
	}

	guard, err := dpidguard.New(cfg.DpidChecker)
	if err != nil {
		return fmt.Errorf("runosd: dpid allowlist: %w", err)
	}

	db, err := devicedb.Embedded()
	if err != nil {
		return fmt.Errorf("runosd: device catalog: %w", err)
	}

	store, err := persistence.New(cfg.DatabaseConnector, log.WithField("component", "persistence"))
	if err != nil {
		return fmt.Errorf("runosd: persistence: %w", err)
	}
	defer store.Close()

	inv := inventory.New(db, cfg.SwitchInventory, log.WithField("component", "inventory"))
	defer inv.Close()

	disc := discovery.New(inv, cfg.LinkDiscovery, log.WithField("component", "discovery"))
	defer disc.Close()

	topo := topology.New(cfg.Topology, store, log.WithField("component", "topology"))
	defer topo.Close()
	topo.WireDiscovery(disc)
	topo.SetMaintenanceHooks(
		func(dpid ofconn.DPID) bool {
			sw, ok := inv.Switch(dpid)
			return ok && sw.Maintenance()
		},
		func(ep discovery.Endpoint) bool {
			p, ok := inv.Port(inventory.PortKey{DPID: ep.DPID, PortNo: ep.Port})
			return ok && p.Maintenance()
		},
	)

	fv := flowverifier.New(inv, cfg.FlowEntriesVerifier, store, log.WithField("component", "flowverifier"))
	defer fv.Close()

	sender := ofmsgsender.New(inv, cfg.OFMsgSender, fv, log.WithField("component", "ofmsgsender"))
	defer sender.Close()

	mgr, err := mastership.New(cfg.RecoveryManager, guard, store, log.WithField("component", "mastership"))
	if err != nil {
		return fmt.Errorf("runosd: mastership: %w", err)
	}

	hb, err := heartbeat.New(cfg.RecoveryManager, cfg.OFServer, cfg.DatabaseConnector, log.WithField("component", "heartbeat"))
	if err != nil {
		return fmt.Errorf("runosd: heartbeat: %w", err)
	}
	defer hb.Close()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	wireMastership(mgr, hb, fv, store, log)

	inv.OnSwitchUp(func(sw *inventory.Switch) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		mgr.SwitchUp(ctx, sw.DPID, sw.Agent())
		m.SetSwitchesUp(len(inv.AliveSwitches()))
	})
	inv.OnSwitchDown(func(sw *inventory.Switch) {
		mgr.SwitchDown(sw.DPID)
		m.SetSwitchesUp(len(inv.AliveSwitches()))
	})

	topo.OnRouteTriggerActive(func(_ uint32, _ uint8, flag topology.TriggerFlag) {
		m.RouteTrigger(triggerFlagName(flag), "active")
	})
	topo.OnRouteTriggerInactive(func(_ uint32, _ uint8, flag topology.TriggerFlag) {
		m.RouteTrigger(triggerFlagName(flag), "inactive")
	})

	if err := mgr.Init(); err != nil {
		return fmt.Errorf("runosd: starting mastership: %w", err)
	}

	srv, err := newServer(cfg, guard, inv, m, log)
	if err != nil {
		return fmt.Errorf("runosd: building control server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go inv.Run(ctx)
	go disc.Run(ctx)
	go topo.Run(ctx)
	go fv.Run(ctx)
	go sender.Run(ctx)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serveErr:
		return fmt.Errorf("runosd: control server: %w", err)
	case s := <-sig:
		log.WithField("signal", s).Info("runosd: shutting down")
		return nil
	}
}

// wireMastership connects the heartbeat transport's callbacks to the
// cluster orchestrator and back, the Go analogue of the original's
// RecoveryManager constructor wiring its QObject::connect calls to its
// own HeartbeatController member. Must run before mgr.Init, which starts
// the heartbeat service under the node's configured initial status.
func wireMastership(mgr *mastership.Manager, hb *heartbeat.Service, fv *flowverifier.Verifier, store *persistence.Store, log *logrus.Entry) {
	mgr.SetHeartbeat(hb)
	mgr.SetVerifier(fv)

	hb.SetOnPrimaryDied(mgr.PrimaryDied)
	hb.SetOnBackupDied(mgr.BackupDied)
	hb.SetOnConnectionToPrimaryEstablished(mgr.ConnectionToPrimaryEstablished)
	hb.SetOnConnectionToBackupEstablished(mgr.ConnectionToBackupEstablished)
	hb.SetOnModeChangedToPrimary(mgr.SetupPrimaryMode)
	hb.SetOnParamsChanged(func(p mastership.Params) {
		mgr.ParamsReceived(p, store.ReplicaOf)
	})
	hb.SetOnDuplicateNodeID(func(err error) {
		log.WithError(err).Fatal("runosd: duplicate controller id on the heartbeat channel")
	})
}

// newServer builds the ConnectionServer, wiring the unknown/duplicate
// DPID policy to the dpid allowlist and session metrics to m.
func newServer(cfg *config.Config, guard *dpidguard.Guard, inv *inventory.Inventory, m *metrics.Metrics, log *logrus.Entry) (*ofconn.Server, error) {
	tlsCfg, err := buildTLSConfig(cfg.OFServer)
	if err != nil {
		return nil, err
	}

	echoInterval := cfg.OFServer.EchoInterval
	if !cfg.OFServer.LivenessCheck {
		echoInterval = 0
	}

	serverCfg := ofconn.Config{
		Addr: cfg.OFServer.Addr(),
		TLS:  tlsCfg,

		EchoInterval: echoInterval,
		EchoAttempts: cfg.OFServer.EchoAttempts,

		FeaturesDPID: decodeFeaturesDPID,
		Allowlist: func(dpid ofconn.DPID) bool {
			_, ok := guard.Allowed(uint64(dpid))
			return ok
		},

		Log: log.WithField("component", "ofconn"),
	}
	if cfg.OFServer.Limiter && cfg.OFServer.MaxPPS > 0 {
		maxPPS := cfg.OFServer.MaxPPS
		serverCfg.NewLimiter = func() ofconn.RateLimiter { return ofconn.NewPPSLimiter(maxPPS) }
	}

	srv := ofconn.NewServer(serverCfg, inv.NewMux)
	srv.OnSessionOpened(func(*ofconn.Session) { m.SessionOpened() })
	srv.OnSessionClosed(func(_ *ofconn.Session, outcome string) { m.SessionClosed(outcome) })
	return srv, nil
}

// decodeFeaturesDPID pulls the datapath id out of a raw features-reply
// message without the caller needing to track pending request state;
// Server only uses this to apply the allowlist/duplicate-session policy,
// the actual reply delivery to the waiting caller happens through
// OFAgent's own TypeMux registration.
func decodeFeaturesDPID(m *ofconn.Message) (ofconn.DPID, bool) {
	var feat ofp.SwitchFeatures
	if err := m.Decode(&feat); err != nil {
		return 0, false
	}
	return ofconn.DPID(feat.DatapathID), true
}

// buildTLSConfig constructs the listener's TLS material from the
// of-server section when secure is enabled, requiring and verifying a
// client certificate against cacert — switches authenticate to the
// controller the same way the controller authenticates to them.
func buildTLSConfig(cfg config.Server) (*tls.Config, error) {
	if !cfg.Secure {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CtlCert, cfg.CtlPrivKey)
	if err != nil {
		return nil, fmt.Errorf("loading controller certificate: %w", err)
	}

	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	if cfg.CACert != "" {
		pem, err := os.ReadFile(cfg.CACert)
		if err != nil {
			return nil, fmt.Errorf("reading CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates parsed from %s", cfg.CACert)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return tlsCfg, nil
}

// triggerFlagName renders a TriggerFlag for the route-trigger metric's
// label. The trigger events carry one bit at a time; any value that is
// not a single known bit renders as "unknown".
func triggerFlagName(flag topology.TriggerFlag) string {
	switch flag {
	case topology.TriggerBroken:
		return "broken"
	case topology.TriggerMaintenance:
		return "maintenance"
	case topology.TriggerDrop:
		return "drop"
	case topology.TriggerUtil:
		return "util"
	default:
		return "unknown"
	}
}
