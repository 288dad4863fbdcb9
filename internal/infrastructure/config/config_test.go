package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
backend:
  base_url: "http://railway.local:8000"
channel:
  transport: "websocket"
  path: "/api/state"
poll:
  interval: 5
database:
  path: "/tmp/signalbox.db"
api:
  port: 9090
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.BaseURL != "http://railway.local:8000" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Errorf("PollInterval() = %v, want 5s", cfg.PollInterval())
	}
	if cfg.API.Port != 9090 {
		t.Errorf("API.Port = %d, want 9090", cfg.API.Port)
	}
	// Defaults survive partial files
	if cfg.WebSocket.Path != "/ws" {
		t.Errorf("WebSocket.Path = %q, want default /ws", cfg.WebSocket.Path)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	configPath := writeConfig(t, `
backend:
  base_url: "http://from-file:8000"
`)
	t.Setenv("SIGNALBOX_BACKEND_URL", "https://from-env:8443")
	t.Setenv("SIGNALBOX_API_PORT", "7070")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.BaseURL != "https://from-env:8443" {
		t.Errorf("Backend.BaseURL = %q, want env override", cfg.Backend.BaseURL)
	}
	if cfg.API.Port != 7070 {
		t.Errorf("API.Port = %d, want 7070", cfg.API.Port)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing backend url",
			mutate:  func(c *Config) { c.Backend.BaseURL = "" },
			wantErr: "backend.base_url is required",
		},
		{
			name:    "relative backend url",
			mutate:  func(c *Config) { c.Backend.BaseURL = "localhost:8000" },
			wantErr: "absolute http(s) URL",
		},
		{
			name:    "unknown transport",
			mutate:  func(c *Config) { c.Channel.Transport = "carrier-pigeon" },
			wantErr: "channel.transport",
		},
		{
			name: "mqtt transport without topics",
			mutate: func(c *Config) {
				c.Channel.Transport = TransportMQTT
				c.Channel.InboundTopic = ""
			},
			wantErr: "inbound_topic",
		},
		{
			name:    "zero poll interval",
			mutate:  func(c *Config) { c.Poll.Interval = 0 },
			wantErr: "poll.interval",
		},
		{
			name: "inverted reconnect delays",
			mutate: func(c *Config) {
				c.Channel.Reconnect.InitialDelay = 10
				c.Channel.Reconnect.MaxDelay = 1
			},
			wantErr: "channel.reconnect",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid api port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ChannelURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8000", "ws://localhost:8000/api/state"},
		{"https://railway.example/", "wss://railway.example/api/state"},
		{"http://host/prefix", "ws://host/prefix/api/state"},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			cfg := Default()
			cfg.Backend.BaseURL = tt.base
			got, err := cfg.ChannelURL()
			if err != nil {
				t.Fatalf("ChannelURL() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ChannelURL() = %q, want %q", got, tt.want)
			}
		})
	}
}
