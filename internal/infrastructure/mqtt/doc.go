// Package mqtt provides the MQTT client connectivity for the bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS and retention control
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// The bridge talks to the home-automation controller exclusively through
// this broker: retained discovery records on the controller's discovery
// prefix, state topics published here, command topics subscribed here.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, "zwave/bridge/status")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe("zwave/+/+/+/set", 1,
//	    func(topic string, payload []byte) error {
//	        return handleCommand(topic, payload)
//	    })
package mqtt
