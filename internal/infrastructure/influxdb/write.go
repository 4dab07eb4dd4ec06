package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementAuthEvents is the measurement auth outcomes are written to.
const MeasurementAuthEvents = "auth_events"

// WriteAuthEvent records one authentication outcome as a counter point.
// Tags stay low-cardinality: user IDs and addresses belong in the audit
// table, not in the time-series store.
//
// The write is non-blocking; points are batched and sent asynchronously.
//
// Example:
//
//	client.WriteAuthEvent("login_failure", "failure")
func (c *Client) WriteAuthEvent(action, result string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(authEventPoint(action, result, time.Now()))
}

func authEventPoint(action, result string, at time.Time) *write.Point {
	return write.NewPoint(
		MeasurementAuthEvents,
		map[string]string{
			"action": action,
			"result": result,
		},
		map[string]interface{}{
			"count": 1,
		},
		at,
	)
}
