package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "network-settings.json")

	const body = `{
		"of-server": {"address": "10.0.0.1", "port": 6633},
		"dpid-checker": {"AR": ["00:00:00:00:00:00:00:01"], "DR": []}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.OFServer.Addr() != "10.0.0.1:6633" {
		t.Fatalf("unexpected address: %s", cfg.OFServer.Addr())
	}
	if cfg.OFServer.EchoInterval != 10*time.Second {
		t.Fatalf("expected default echo-interval, got %s", cfg.OFServer.EchoInterval)
	}
	if len(cfg.DpidChecker.AR) != 1 || cfg.DpidChecker.AR[0] != "00:00:00:00:00:00:00:01" {
		t.Fatalf("unexpected AR list: %v", cfg.DpidChecker.AR)
	}
	if cfg.DatabaseConnector.Addr() != "127.0.0.1:6379" {
		t.Fatalf("expected default database address, got %s", cfg.DatabaseConnector.Addr())
	}
	if cfg.OFMsgSender.Limit != 0 {
		t.Fatalf("expected ofmsg-sender pacing disabled by default, got limit=%d", cfg.OFMsgSender.Limit)
	}
	if cfg.OFMsgSender.AdditiveRatio != 5 || cfg.OFMsgSender.MultiplicativeRatio != 2 {
		t.Fatalf("unexpected AIMD ratios: +%d /%d", cfg.OFMsgSender.AdditiveRatio, cfg.OFMsgSender.MultiplicativeRatio)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}
