package config

import (
	"testing"
	"time"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing database url",
			mutate:  func(c *Config) { c.Database.URL = "" },
			wantErr: true,
		},
		{
			name:    "zero join ack timeout",
			mutate:  func(c *Config) { c.Realtime.JoinAckTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero delete ack timeout",
			mutate:  func(c *Config) { c.Realtime.DeleteAckTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "poll interval too small",
			mutate:  func(c *Config) { c.Realtime.SnapshotPollInterval = 10 * time.Millisecond },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Database: DatabaseConfig{URL: "postgresql://localhost:5432/agora"},
				Realtime: RealtimeConfig{
					JoinAckTimeout:       5 * time.Second,
					DeleteAckTimeout:     5 * time.Second,
					SnapshotPollInterval: 3 * time.Second,
				},
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestToEnvKey(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"database_url", "DATABASE_URL"},
		{"log-level", "LOG_LEVEL"},
		{"snapshot_poll_interval_ms", "SNAPSHOT_POLL_INTERVAL_MS"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if got := toEnvKey(tt.key); got != tt.expected {
				t.Errorf("toEnvKey(%q) = %q, want %q", tt.key, got, tt.expected)
			}
		})
	}
}
