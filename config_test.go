package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arcam-control.toml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfigFile(t, `
[[receivers]]
host = "192.168.1.50"
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Listen != ":8080" {
		t.Errorf("Listen = %q, want :8080", cfg.Listen)
	}
	if cfg.ScanInterval != 10 || cfg.PollInterval != 10 {
		t.Errorf("Intervals = %d/%d, want 10/10", cfg.ScanInterval, cfg.PollInterval)
	}
	if !cfg.Zone2Enabled {
		t.Error("Zone2Enabled must default to true")
	}
	if cfg.MQTT.TopicPrefix != "arcam" {
		t.Errorf("TopicPrefix = %q, want arcam", cfg.MQTT.TopicPrefix)
	}

	r := cfg.Receivers[0]
	if r.Port != 50000 {
		t.Errorf("Port = %d, want 50000", r.Port)
	}
	if r.Name != "192.168.1.50" {
		t.Errorf("Name = %q, want the host as fallback", r.Name)
	}
}

func TestLoadConfigFull(t *testing.T) {
	path := writeConfigFile(t, `
listen = ":9090"
log_level = "debug"
scan_interval = 5
poll_interval = 30
zone2_enabled = false

[[receivers]]
name = "Living Room"
host = "192.168.1.50"
port = 50001

[[receivers]]
host = "192.168.1.51"

[mqtt]
broker = "tcp://broker:1883"
topic_prefix = "home/av"
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}

	if cfg.Listen != ":9090" || cfg.LogLevel != "debug" {
		t.Errorf("Overrides not applied: %+v", cfg)
	}
	if cfg.Zone2Enabled {
		t.Error("zone2_enabled = false not applied")
	}
	if len(cfg.Receivers) != 2 {
		t.Fatalf("Got %d receivers, want 2", len(cfg.Receivers))
	}
	if cfg.Receivers[0].Name != "Living Room" || cfg.Receivers[0].Port != 50001 {
		t.Errorf("Receiver 0 = %+v", cfg.Receivers[0])
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" || cfg.MQTT.TopicPrefix != "home/av" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
	}
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "poll interval too low",
			content: `
poll_interval = 4
[[receivers]]
host = "h"
`,
			wantErr: "poll_interval",
		},
		{
			name: "poll interval too high",
			content: `
poll_interval = 61
[[receivers]]
host = "h"
`,
			wantErr: "poll_interval",
		},
		{
			name: "scan interval zero",
			content: `
scan_interval = 0
[[receivers]]
host = "h"
`,
			wantErr: "scan_interval",
		},
		{
			name:    "no receivers",
			content: ``,
			wantErr: "receivers",
		},
		{
			name: "receiver without host",
			content: `
[[receivers]]
name = "nameless"
`,
			wantErr: "host",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfigFile(t, tt.content)
			_, err := loadConfig(path)
			if err == nil {
				t.Fatal("Expected an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Expected an error for a missing config file")
	}
}

func TestLoadConfigBadTOML(t *testing.T) {
	path := writeConfigFile(t, "listen = [broken")
	if _, err := loadConfig(path); err == nil {
		t.Error("Expected an error for malformed TOML")
	}
}
