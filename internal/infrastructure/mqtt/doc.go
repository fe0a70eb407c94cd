// Package mqtt provides MQTT connectivity for Gatherly Auth.
//
// The auth service is a pure publisher: it announces authentication
// lifecycle events (registrations, logins, lockouts, logouts) so other
// platform services can react without polling the auth API. Nothing here
// subscribes to inbound topics.
//
// # Features
//
//   - Connection management with automatic reconnection
//   - Last Will and Testament for offline detection
//   - Publish with QoS and retained message support
//   - Thread-safe for concurrent use
//
// # Topic Hierarchy
//
//	gatherly/auth/event/{event}    Auth lifecycle events (not retained)
//	gatherly/auth/status           Service online/offline status (retained)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	events := mqtt.NewEventPublisher(client, byte(cfg.MQTT.QoS))
//	events.PublishEvent(ctx, "logged_in", "usr-abc123", nil)
package mqtt
