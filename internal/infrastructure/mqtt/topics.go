package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for service-level topics. Update and control traffic uses
// exchange-named topics built by the exchange package.
const (
	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "wellsite/system"

	// SharedSubscriptionPrefix marks an MQTT 5 / Mosquitto shared subscription.
	SharedSubscriptionPrefix = "$share"
)

// Topics provides builders for service MQTT topics.
type Topics struct{}

// ClientStatus returns the retained online/offline status topic for one
// client connection. Each consumer connects with its own client id.
//
// Example: wellsite/system/status/wellsite-core-consumer-0
func (Topics) ClientStatus(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefixSystem, clientID)
}

// AllClientStatus returns a wildcard filter for every client status topic.
func (Topics) AllClientStatus() string {
	return TopicPrefixSystem + "/status/+"
}

// Shared returns the shared-subscription filter for group. Subscribers in
// the same group compete: each message is delivered to one of them.
//
// Example: $share/wellsite-updates-site-001/wellsite.updates/#
func (Topics) Shared(group, filter string) string {
	return fmt.Sprintf("%s/%s/%s", SharedSubscriptionPrefix, group, filter)
}

// Join joins topic levels with "/". Empty levels are skipped.
func (Topics) Join(levels ...string) string {
	parts := make([]string, 0, len(levels))
	for _, l := range levels {
		if l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "/")
}

// RoutingKeyToFilter translates an AMQP-style binding key into an MQTT
// topic filter: "." separates levels, "*" matches one level and "#" matches
// any remaining levels.
//
// Example: "well.*.status" → "well/+/status"
func RoutingKeyToFilter(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty routing key", ErrInvalidTopic)
	}
	words := strings.Split(key, ".")
	for i, w := range words {
		switch {
		case w == "*":
			words[i] = "+"
		case w == "#":
			if i != len(words)-1 {
				return "", fmt.Errorf("%w: '#' must be the last word in %q", ErrInvalidTopic, key)
			}
		case strings.ContainsAny(w, "+#*/"):
			return "", fmt.Errorf("%w: invalid word %q in routing key %q", ErrInvalidTopic, w, key)
		}
	}
	return strings.Join(words, "/"), nil
}

// RoutingKeyToTopic translates a concrete routing key into topic levels.
// Wildcards are not allowed in a publish topic.
func RoutingKeyToTopic(key string) (string, error) {
	if strings.ContainsAny(key, "*#+/") {
		return "", fmt.Errorf("%w: wildcard in publish routing key %q", ErrInvalidTopic, key)
	}
	if key == "" {
		return "", fmt.Errorf("%w: empty routing key", ErrInvalidTopic)
	}
	return strings.ReplaceAll(key, ".", "/"), nil
}
