// Package influxdb provides InfluxDB connectivity for Gatherly Auth.
//
// It wraps the official influxdb-client-go v2 library with Gatherly-specific
// patterns for connection management, activity recording, and health
// monitoring.
//
// # Purpose
//
// This package handles time-series data storage for:
//   - Authentication activity (logins, refreshes, failures, lockouts)
//   - Sign-in funnel dashboards and anomaly detection
//
// # Usage
//
//	cfg := config.InfluxDBConfig{
//	    URL:    "http://localhost:8086",
//	    Token:  "your-token",
//	    Org:    "gatherly",
//	    Bucket: "auth-activity",
//	}
//
//	client, err := influxdb.Connect(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.RecordAuthEvent("logged_in", "usr-abc123", "ok")
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are logged via a callback.
// Connection and health check errors are returned directly. A recording
// failure never fails the authentication request that produced it.
//
// # Performance
//
// Writes are batched according to config.yaml settings (batch_size, flush_interval).
// This keeps activity recording off the request hot path.
package influxdb
