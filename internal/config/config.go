// Package config loads the controller's network-settings.json (or any
// viper-supported format) into a typed Config, the way the teacher's
// tooling layer keeps wire types and configuration cleanly separated.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Server holds the of-server section: listen address, TLS material, and
// the keepalive/rate-limit policy ConnectionServer enforces.
type Server struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	NThreads int   `mapstructure:"nthreads"`

	Secure     bool   `mapstructure:"secure"`
	CtlCert    string `mapstructure:"ctl-cert"`
	CtlPrivKey string `mapstructure:"ctl-privkey"`
	CACert     string `mapstructure:"cacert"`

	EchoInterval time.Duration `mapstructure:"echo-interval"`
	EchoAttempts int           `mapstructure:"echo-attempts"`

	LivenessCheck bool `mapstructure:"liveness-check"`

	Limiter bool `mapstructure:"limiter"`
	MaxPPS  int  `mapstructure:"max_pps"`
}

// Addr formats the listen address as host:port for net.Listen.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Address, s.Port)
}

// DpidChecker holds the dpid-checker section: the static allowlist
// DpidGuard loads at startup.
type DpidChecker struct {
	DpidFormat string   `mapstructure:"dpid-format"`
	AR         []string `mapstructure:"AR"`
	DR         []string `mapstructure:"DR"`
}

// SwitchInventory holds the switch-inventory section: the stats-poll
// cadence and the startup-sequence timeout SwitchInventory applies to
// each newly connected switch.
type SwitchInventory struct {
	PollInterval   time.Duration `mapstructure:"poll-interval"`
	StartupTimeout time.Duration `mapstructure:"startup-timeout"`
}

// LinkDiscovery holds the link-discovery section.
type LinkDiscovery struct {
	PollInterval time.Duration `mapstructure:"poll-interval"`
	Queue        int           `mapstructure:"queue"`
}

// Topology holds the topology section: the trigger engine's poll
// cadence.
type Topology struct {
	PollInterval time.Duration `mapstructure:"poll-interval"`
}

// FlowEntriesVerifier holds the flow-entries-verifier section.
type FlowEntriesVerifier struct {
	Active       bool          `mapstructure:"active"`
	PollInterval time.Duration `mapstructure:"poll-interval"`
}

// OFMsgSender holds the ofmsg-sender section: the AIMD pacer's tunables.
// Limit is the original's per-switch "ofmsg_limit" device property,
// flattened to a single controller-wide setting since this tree's
// device catalog (internal/devicedb) carries table-layout overrides
// only — Limit == 0 disables pacing entirely (the original's "no
// limits" switchUp path), matching every switch passing straight
// through to the verifier.
type OFMsgSender struct {
	PollInterval        time.Duration `mapstructure:"poll-interval"`
	WaitInterval        time.Duration `mapstructure:"wait-interval"`
	Limit               uint32        `mapstructure:"limit"`
	AdditiveRatio        uint32       `mapstructure:"additive-ratio"`
	MultiplicativeRatio  uint32       `mapstructure:"multiplicative-ratio"`
}

// RecoveryManager holds the recovery-manager section: the cluster state
// machine and heartbeat service configuration.
type RecoveryManager struct {
	ID     string `mapstructure:"id"`
	Status string `mapstructure:"status"`

	HBMode string `mapstructure:"hb-mode"`

	HBAddressPrimary string `mapstructure:"hb-address-primary"`
	HBAddressBackup  string `mapstructure:"hb-address-backup"`
	HBPortPrimary    int    `mapstructure:"hb-port-primary"`
	HBPortBackup     int    `mapstructure:"hb-port-backup"`

	HBPortBroadcast   int    `mapstructure:"hb-port-broadcast"`
	HBAddressMulticast string `mapstructure:"hb-address-multicast"`
	HBPortMulticast   int    `mapstructure:"hb-port-multicast"`

	HBInterval               time.Duration `mapstructure:"hb-interval"`
	HBPrimaryDeadInterval    time.Duration `mapstructure:"hb-primaryDeadInterval"`
	HBBackupDeadInterval     time.Duration `mapstructure:"hb-backupDeadInterval"`
	HBPrimaryWaitingInterval time.Duration `mapstructure:"hb-primaryWaitingInterval"`

	RoleMonitoringInterval time.Duration `mapstructure:"role-monitoring-interval"`
	RecoveryWaitingSeconds time.Duration `mapstructure:"recovery-waiting-seconds"`
}

// DatabaseConnector holds the database-connector section: the Redis
// endpoint Persistence dials.
type DatabaseConnector struct {
	Address  string `mapstructure:"db-address"`
	Port     int    `mapstructure:"db-port"`
	Password string `mapstructure:"db-password"`
	DB       int    `mapstructure:"db-index"`
}

// Addr formats the database address as host:port for redis.Options.
func (d DatabaseConnector) Addr() string {
	return fmt.Sprintf("%s:%d", d.Address, d.Port)
}

// Config is the full recognized subset of network-settings.json.
type Config struct {
	OFServer            Server              `mapstructure:"of-server"`
	DpidChecker         DpidChecker         `mapstructure:"dpid-checker"`
	SwitchInventory     SwitchInventory     `mapstructure:"switch-inventory"`
	LinkDiscovery       LinkDiscovery       `mapstructure:"link-discovery"`
	Topology            Topology            `mapstructure:"topology"`
	FlowEntriesVerifier FlowEntriesVerifier `mapstructure:"flow-entries-verifier"`
	OFMsgSender         OFMsgSender         `mapstructure:"ofmsg-sender"`
	RecoveryManager     RecoveryManager     `mapstructure:"recovery-manager"`
	DatabaseConnector   DatabaseConnector   `mapstructure:"database-connector"`
}

// defaults mirrors the teacher's habit of seeding viper with sane
// fallbacks before a config file is read, so a minimal or missing file
// still produces a runnable Config.
func defaults(v *viper.Viper) {
	v.SetDefault("of-server.address", "0.0.0.0")
	v.SetDefault("of-server.port", 6653)
	v.SetDefault("of-server.nthreads", 4)
	v.SetDefault("of-server.echo-interval", "10s")
	v.SetDefault("of-server.echo-attempts", 3)
	v.SetDefault("of-server.liveness-check", true)

	v.SetDefault("dpid-checker.dpid-format", "hex")

	v.SetDefault("switch-inventory.poll-interval", "2s")
	v.SetDefault("switch-inventory.startup-timeout", "10s")

	v.SetDefault("link-discovery.poll-interval", "5s")
	v.SetDefault("link-discovery.queue", 1024)

	v.SetDefault("topology.poll-interval", "2s")

	v.SetDefault("flow-entries-verifier.active", true)
	v.SetDefault("flow-entries-verifier.poll-interval", "30s")

	v.SetDefault("ofmsg-sender.poll-interval", "100ms")
	v.SetDefault("ofmsg-sender.wait-interval", "2s")
	v.SetDefault("ofmsg-sender.limit", 0)
	v.SetDefault("ofmsg-sender.additive-ratio", 5)
	v.SetDefault("ofmsg-sender.multiplicative-ratio", 2)

	v.SetDefault("recovery-manager.hb-mode", "unicast")
	v.SetDefault("recovery-manager.hb-address-primary", "127.0.0.1")
	v.SetDefault("recovery-manager.hb-address-backup", "127.0.0.1")
	v.SetDefault("recovery-manager.hb-port-primary", 1234)
	v.SetDefault("recovery-manager.hb-port-backup", 1237)
	v.SetDefault("recovery-manager.hb-port-broadcast", 50000)
	v.SetDefault("recovery-manager.hb-address-multicast", "239.0.0.1")
	v.SetDefault("recovery-manager.hb-port-multicast", 50000)
	v.SetDefault("recovery-manager.hb-interval", "1s")
	v.SetDefault("recovery-manager.hb-primaryDeadInterval", "5s")
	v.SetDefault("recovery-manager.hb-backupDeadInterval", "5s")
	v.SetDefault("recovery-manager.hb-primaryWaitingInterval", "10s")
	v.SetDefault("recovery-manager.role-monitoring-interval", "2s")
	v.SetDefault("recovery-manager.recovery-waiting-seconds", "30s")

	v.SetDefault("database-connector.db-address", "127.0.0.1")
	v.SetDefault("database-connector.db-port", 6379)
}

// Load reads path (network-settings.json by default) into a Config,
// applying the defaults above for anything the file omits.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	return &cfg, nil
}
