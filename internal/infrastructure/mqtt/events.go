package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EventPublisher publishes auth lifecycle events on behalf of the identity
// gateway. It satisfies the gateway's Publisher interface.
//
// Events are never retained: subscribers care about the stream, not the
// last value.
type EventPublisher struct {
	client *Client
	qos    byte
}

// NewEventPublisher creates an auth event publisher over an open client.
func NewEventPublisher(client *Client, qos byte) *EventPublisher {
	return &EventPublisher{client: client, qos: qos}
}

// authEvent is the wire format of an auth lifecycle event.
type authEvent struct {
	Event      string         `json:"event"`
	IdentityID string         `json:"identity_id,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// PublishEvent publishes a single auth lifecycle event.
//
// The context is checked before publishing but the publish itself uses the
// client's own timeout; MQTT delivery is best-effort from the gateway's
// point of view.
func (p *EventPublisher) PublishEvent(ctx context.Context, event string, identityID string, detail map[string]any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publishing auth event: %w", err)
	}

	payload, err := json.Marshal(authEvent{
		Event:      event,
		IdentityID: identityID,
		Detail:     detail,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("encoding auth event: %w", err)
	}

	return p.client.Publish(Topics{}.AuthEvent(event), payload, p.qos, false)
}
