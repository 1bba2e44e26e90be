// Package influxdb provides optional time-series export for sensor telemetry.
//
// When enabled in configuration, numeric sensor readings and battery levels
// observed on the network are written to an InfluxDB v2 bucket using the
// non-blocking batched write API. The bridge never reads this data back;
// it exists purely for dashboards and offline analysis, and a write failure
// never affects state reporting or command handling.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // Telemetry off, carry on without it
//	}
//	client.WriteSensorReading(5, 1, "Temperature", 21.5)
package influxdb
