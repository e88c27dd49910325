package mqtt

import "fmt"

// Topic prefixes for the Gatehouse MQTT hierarchy.
//
// Gatehouse publishes security events outward and listens on control
// topics for instructions from other services on the bus.
const (
	// TopicPrefixRoot is the base for all Gatehouse topics.
	TopicPrefixRoot = "gatehouse"

	// TopicPrefixEvents is the base for published security events.
	TopicPrefixEvents = "gatehouse/events"

	// TopicPrefixControl is the base for inbound control topics.
	TopicPrefixControl = "gatehouse/control"

	// TopicPrefixSystem is the base for service lifecycle topics.
	TopicPrefixSystem = "gatehouse/system"
)

// Topics provides builders for Gatehouse MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	loginTopic := topics.Event("login")
//	// Returns: "gatehouse/events/login"
type Topics struct{}

// =============================================================================
// Event Topics (published)
// =============================================================================

// Event returns the topic for a security event type.
//
// Example: gatehouse/events/login
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixEvents, eventType)
}

// AccountEvents returns the topic for events scoped to a single account.
// Downstream services that track one identity subscribe here instead of
// filtering the full event stream.
//
// Example: gatehouse/events/account/acc-a1b2c3d4
func (Topics) AccountEvents(accountID string) string {
	return fmt.Sprintf("%s/account/%s", TopicPrefixEvents, accountID)
}

// =============================================================================
// Control Topics (subscribed)
// =============================================================================

// ControlRevoke returns the topic on which other services request that all
// sessions for an account be revoked (payload: {"account_id": "..."}).
//
// Example: gatehouse/control/accounts/revoke
func (Topics) ControlRevoke() string {
	return fmt.Sprintf("%s/accounts/revoke", TopicPrefixControl)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the service status topic. The connect announcement
// and the last-will message are both published here.
//
// Example: gatehouse/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: gatehouse/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllEvents returns a pattern matching every published event type.
//
// Pattern: gatehouse/events/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/+", TopicPrefixEvents)
}

// AllAccountEvents returns a pattern matching every account-scoped stream.
//
// Pattern: gatehouse/events/account/+
func (Topics) AllAccountEvents() string {
	return fmt.Sprintf("%s/account/+", TopicPrefixEvents)
}

// AllControl returns a pattern matching every control topic.
//
// Pattern: gatehouse/control/#
func (Topics) AllControl() string {
	return fmt.Sprintf("%s/#", TopicPrefixControl)
}

// AllTopics returns a pattern matching all Gatehouse topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: gatehouse/#
func (Topics) AllTopics() string {
	return TopicPrefixRoot + "/#"
}
