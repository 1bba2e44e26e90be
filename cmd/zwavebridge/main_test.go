package main

import (
	"context"
	"testing"
	"time"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/bridge"
)

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("ZWBRIDGE_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("ZWBRIDGE_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("ZWBRIDGE_CONFIG", "/etc/zwavebridge/config.yaml")
	if got := getConfigPath(); got != "/etc/zwavebridge/config.yaml" {
		t.Errorf("getConfigPath() = %q", got)
	}
}

// mqttBridgeAdapter must keep satisfying the bridge's Bus interface.
var _ bridge.Bus = (*mqttBridgeAdapter)(nil)
