package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Relay.Port != 8080 || cfg.Relay.PingPeriod != 30*time.Second || cfg.Relay.SecureCookie {
		t.Fatalf("unexpected relay defaults %+v", cfg.Relay)
	}
	if cfg.Call.RingTimeout != 45*time.Second || len(cfg.Call.ICEServers) != 1 {
		t.Fatalf("unexpected call defaults %+v", cfg.Call)
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.test.yaml")
	yaml := `
mode: debug
client:
  identity: alice
  relay_url: http://relay:9000
call:
  ring_timeout: 10s
  ice_servers:
    - stun:stun.example.org:3478
    - turn:turn.example.org:3478
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRIBECALL_CLIENT_IDENTITY", "bob")
	t.Setenv("TRIBECALL_RELAY_PORT", "9100")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Mode != "debug" || cfg.Client.RelayURL != "http://relay:9000" {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Client.Identity != "bob" || cfg.Relay.Port != 9100 {
		t.Fatalf("env overrides not applied: identity=%q port=%d", cfg.Client.Identity, cfg.Relay.Port)
	}
	if cfg.Call.RingTimeout != 10*time.Second || len(cfg.Call.ICEServers) != 2 {
		t.Fatalf("call section not applied: %+v", cfg.Call)
	}
}

func TestValidateRejectsPortRange(t *testing.T) {
	t.Setenv("TRIBECALL_CALL_UDP_PORT_MIN", "50000")
	t.Setenv("TRIBECALL_CALL_UDP_PORT_MAX", "40000")
	if _, err := LoadFrom(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected port range error")
	}
}
