package logging

import (
	"testing"

	"github.com/openagora/agora/pkg/config"
)

func TestInitLogger(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.LoggingConfig
	}{
		{"json format", config.LoggingConfig{Level: "INFO", Format: "json"}},
		{"text format", config.LoggingConfig{Level: "DEBUG", Format: "text"}},
		{"invalid level falls back to info", config.LoggingConfig{Level: "bogus", Format: "json"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := InitLogger(&tt.cfg); err != nil {
				t.Errorf("InitLogger() error = %v", err)
			}
			if Logger == nil {
				t.Error("Logger not set after InitLogger()")
			}
		})
	}
}

func TestGetLoggerFallback(t *testing.T) {
	Logger = nil
	if GetLogger() == nil {
		t.Error("GetLogger() returned nil")
	}
}

func TestWithComponent(t *testing.T) {
	if WithComponent("test") == nil {
		t.Error("WithComponent() returned nil")
	}
}
