// Package config loads and validates bridge configuration.
//
// Configuration comes from a single YAML file with three layers of
// precedence: hardcoded defaults, file values, then ZWBRIDGE_* environment
// variables. Validation collects every problem in one pass so a broken
// config reports all its errors at once.
//
// # Usage
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
