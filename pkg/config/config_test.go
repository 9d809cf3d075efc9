package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	orig, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { os.Chdir(orig) })

	// No config.toml present: defaults apply.
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if cfg.P2PPort != 5000 || cfg.APIPort != 3030 {
		t.Fatalf("default ports = %d/%d, want 5000/3030", cfg.P2PPort, cfg.APIPort)
	}
	if len(cfg.Peers) != 0 {
		t.Fatalf("default peers = %v, want none", cfg.Peers)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("default log level = %q, want info", cfg.Logging.Level)
	}

	// A config.toml overrides the defaults.
	toml := `
p2p_port = 6000
peers = ["10.0.0.1:5000", "10.0.0.2:5000"]

[logging]
level = "debug"
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(toml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err = Load()
	if err != nil {
		t.Fatalf("load with file: %v", err)
	}
	if cfg.P2PPort != 6000 {
		t.Fatalf("p2p_port = %d, want 6000", cfg.P2PPort)
	}
	if cfg.APIPort != 3030 {
		t.Fatalf("api_port = %d, want default 3030", cfg.APIPort)
	}
	if len(cfg.Peers) != 2 || cfg.Peers[0] != "10.0.0.1:5000" {
		t.Fatalf("peers = %v", cfg.Peers)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("log level = %q, want debug", cfg.Logging.Level)
	}
}
