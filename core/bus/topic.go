package bus

import (
	"fmt"
	"strings"
)

// DefaultTopicPrefix namespaces channel topics on the bus.
const DefaultTopicPrefix = "ws."

// Topics maps channel names to bus topics and back.
type Topics struct {
	prefix string
}

// NewTopics uses DefaultTopicPrefix when prefix is empty.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

func (t Topics) Prefix() string { return t.prefix }

// For returns the topic of a channel.
func (t Topics) For(channel string) string {
	return t.prefix + channel
}

// Pattern matches the topic of every channel.
func (t Topics) Pattern() string {
	return t.prefix + "*"
}

// Channel recovers the channel name from a topic.
func (t Topics) Channel(topic string) (string, error) {
	name, ok := strings.CutPrefix(topic, t.prefix)
	if !ok || name == "" {
		return "", fmt.Errorf("%w: %q", ErrMalformedTopic, topic)
	}
	return name, nil
}
