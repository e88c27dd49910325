package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteAuthEvent records a single security event occurrence.
//
// This is the primary method for auth telemetry. The write is
// non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - eventType: The event name (e.g., "login", "login_failed", "lockout")
//   - role: Role of the account involved (empty for unknown-account failures)
//
// Example:
//
//	client.WriteAuthEvent("login", "technician")
//	client.WriteAuthEvent("login_failed", "")
func (c *Client) WriteAuthEvent(eventType string, role string) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"event": eventType,
	}
	if role != "" {
		tags["role"] = role
	}

	point := write.NewPoint(
		"auth_events",
		tags,
		map[string]interface{}{
			"count": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteLockout records an account lockout with the failure count that
// triggered it. Used for brute-force dashboards and alerting.
//
// Parameters:
//   - accountID: The locked account
//   - failedAttempts: Consecutive failures at the moment of lockout
func (c *Client) WriteLockout(accountID string, failedAttempts int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"lockouts",
		map[string]string{
			"account_id": accountID,
		},
		map[string]interface{}{
			"failed_attempts": failedAttempts,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteSessionGauge records the number of active sessions for an account
// after a login, logout, or revocation changed it.
//
// Parameters:
//   - accountID: Account identifier
//   - active: Active session count after the change
func (c *Client) WriteSessionGauge(accountID string, active int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sessions",
		map[string]string{
			"account_id": accountID,
		},
		map[string]interface{}{
			"active": active,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("system_stats",
//	    map[string]string{"host": "gatehouse-01"},
//	    map[string]interface{}{"cpu_percent": 45.2, "memory_mb": 512})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
