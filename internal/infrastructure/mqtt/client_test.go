package mqtt

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/slvwolf/zwave-mqtt-bridge/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "broker.lan",
			Port:     1883,
			ClientID: "zwbridge-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     60,
		},
	}
}

func TestBuildClientOptions(t *testing.T) {
	opts := buildClientOptions(testConfig())

	if len(opts.Servers) != 1 {
		t.Fatalf("Servers = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://broker.lan:1883" {
		t.Errorf("broker URL = %q, want tcp://broker.lan:1883", got)
	}
	if opts.ClientID != "zwbridge-test" {
		t.Errorf("ClientID = %q, want zwbridge-test", opts.ClientID)
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
	if !opts.CleanSession {
		t.Error("CleanSession should be enabled")
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("scheme = %q, want ssl", got)
	}
	if opts.TLSConfig == nil {
		t.Fatal("TLSConfig should be set")
	}
}

func TestBuildClientOptionsAuth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)

	if opts.Username != "bridge" {
		t.Errorf("Username = %q, want bridge", opts.Username)
	}
	if opts.Password != "secret" {
		t.Errorf("Password not carried through")
	}
}

func TestStatusPayloads(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantStatus string
		wantReason string
	}{
		{"online", buildOnlinePayload("cid"), "online", ""},
		{"offline", buildOfflinePayload("cid"), "offline", "graceful_shutdown"},
		{"lwt", buildLWTPayload("cid"), "offline", "unexpected_disconnect"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var decoded map[string]string
			if err := json.Unmarshal([]byte(tt.payload), &decoded); err != nil {
				t.Fatalf("payload is not valid JSON: %v", err)
			}
			if decoded["status"] != tt.wantStatus {
				t.Errorf("status = %q, want %q", decoded["status"], tt.wantStatus)
			}
			if decoded["client_id"] != "cid" {
				t.Errorf("client_id = %q, want cid", decoded["client_id"])
			}
			if tt.wantReason != "" && decoded["reason"] != tt.wantReason {
				t.Errorf("reason = %q, want %q", decoded["reason"], tt.wantReason)
			}
		})
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, "zwave/bridge/status", "cid")

	if !opts.WillEnabled {
		t.Fatal("will should be enabled")
	}
	if opts.WillTopic != "zwave/bridge/status" {
		t.Errorf("WillTopic = %q, want zwave/bridge/status", opts.WillTopic)
	}
	if !opts.WillRetained {
		t.Error("will should be retained")
	}
	if !strings.Contains(string(opts.WillPayload), "unexpected_disconnect") {
		t.Errorf("WillPayload = %q, want unexpected_disconnect reason", opts.WillPayload)
	}
}
