package mqtt

import "fmt"

// Topic prefixes for Health Core MQTT traffic.
const (
	// TopicPrefix is the root of every Health Core topic.
	TopicPrefix = "healthcore"

	// TopicPrefixAuth is the base for authentication event topics.
	TopicPrefixAuth = "healthcore/auth"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "healthcore/system"
)

// Topics provides builders for Health Core MQTT topics.
//
//	topic := mqtt.Topics{}.AuthEvent("login_failure")
//	// Returns: "healthcore/auth/events/login_failure"
type Topics struct{}

// AuthEvent returns the topic an audit entry with the given action is
// published on.
//
// Example: healthcore/auth/events/lockout
func (Topics) AuthEvent(action string) string {
	return fmt.Sprintf("%s/events/%s", TopicPrefixAuth, action)
}

// SystemStatus returns the retained online/offline status topic.
//
// Example: healthcore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllAuthEvents returns a pattern matching every auth event, for
// downstream consumers.
//
// Pattern: healthcore/auth/events/+
func (Topics) AllAuthEvents() string {
	return fmt.Sprintf("%s/events/+", TopicPrefixAuth)
}
