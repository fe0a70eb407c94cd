package mqtt

import "fmt"

// Topic prefixes for the Gatherly platform.
//
// Auth topics use the scheme: gatherly/auth/{category}/{name}
const (
	// TopicPrefixAuth is the base for all auth service topics.
	TopicPrefixAuth = "gatherly/auth"
)

// Topics provides builders for Gatherly MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// AuthEvent returns the topic for an auth lifecycle event.
//
// Example: gatherly/auth/event/logged_in
func (Topics) AuthEvent(event string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixAuth, event)
}

// ServiceStatus returns the topic for the auth service online/offline status.
//
// Example: gatherly/auth/status
func (Topics) ServiceStatus() string {
	return TopicPrefixAuth + "/status"
}
