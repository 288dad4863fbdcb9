package mqtt

import "strings"

// TopicPrefix is the root of every topic signalbox publishes on its own behalf.
const TopicPrefix = "signalbox"

// StatusTopic returns the retained availability topic for a client.
//
// Example: signalbox/status/signalbox-01
func StatusTopic(clientID string) string {
	return TopicPrefix + "/status/" + clientID
}

// ValidateTopic reports whether topic can be published to.
// Wildcards are only valid in subscriptions.
func ValidateTopic(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if strings.ContainsAny(topic, "+#") {
		return ErrInvalidTopic
	}
	return nil
}
