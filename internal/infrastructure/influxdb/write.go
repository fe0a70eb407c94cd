package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// RecordAuthEvent writes a single authentication activity point.
//
// This is the primary method for recording auth activity and satisfies the
// identity gateway's ActivityRecorder interface. The write is non-blocking;
// data is batched and sent asynchronously, and a disconnected client drops
// the point silently.
//
// Parameters:
//   - event: The lifecycle event name (e.g., "logged_in", "login_failed")
//   - identityID: The affected identity, empty when unknown
//   - outcome: "ok" or "denied" plus failure classifications
//
// Example:
//
//	client.RecordAuthEvent("logged_in", "usr-abc123", "ok")
//	client.RecordAuthEvent("login_failed", "", "unknown_login")
func (c *Client) RecordAuthEvent(event, identityID, outcome string) {
	if !c.IsConnected() {
		return
	}

	tags := map[string]string{
		"event":   event,
		"outcome": outcome,
	}

	fields := map[string]interface{}{
		"count": 1,
	}
	// identity_id is a field, not a tag: per-user cardinality would
	// explode the tag index.
	if identityID != "" {
		fields["identity_id"] = identityID
	}

	point := write.NewPoint("auth_events", tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
