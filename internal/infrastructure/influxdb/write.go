package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSensorReading records a numeric sensor reading from a node.
//
// The write is non-blocking; data is batched and sent asynchronously.
// If the client is not connected the reading is silently dropped, since
// telemetry must never block state reporting.
//
// Parameters:
//   - nodeID: Network node identifier
//   - slotIndex: Capability slot the reading came from
//   - label: Human-readable reading label (e.g., "Temperature", "Luminance")
//   - value: The reading value in the sensor's native unit
//
// Example:
//
//	client.WriteSensorReading(5, 1, "Temperature", 21.5)
func (c *Client) WriteSensorReading(nodeID int, slotIndex int, label string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sensor_readings",
		map[string]string{
			"node_id": strconv.Itoa(nodeID),
			"slot":    strconv.Itoa(slotIndex),
			"label":   label,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteBatteryLevel records a battery level report from a node.
//
// Parameters:
//   - nodeID: Network node identifier
//   - percent: Remaining battery charge, 0-100
func (c *Client) WriteBatteryLevel(nodeID int, percent float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"battery",
		map[string]string{
			"node_id": strconv.Itoa(nodeID),
		},
		map[string]interface{}{
			"percent": percent,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
