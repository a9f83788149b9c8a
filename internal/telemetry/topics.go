package telemetry

import (
	"strings"
)

// Topic suffixes under <namespace>/<deviceId>/
const (
	EventSuffix = "event"
	AlertSuffix = "alert"
)

// EventTopic is the topic a device publishes its events on
func EventTopic(namespace, deviceID string) string {
	return namespace + "/" + deviceID + "/" + EventSuffix
}

// AlertTopic is the topic a device listens on for operator alerts
func AlertTopic(namespace, deviceID string) string {
	return namespace + "/" + deviceID + "/" + AlertSuffix
}

// EventWildcard matches the event topic of every device
func EventWildcard(namespace string) string {
	return namespace + "/+/" + EventSuffix
}

// ToRoutingKey converts an MQTT topic filter to the AMQP routing key used on
// the broker's topic exchange. '/' and '.' swap places and the single-level
// wildcard '+' becomes '*', matching the RabbitMQ MQTT plugin.
func ToRoutingKey(topic string) string {
	var b strings.Builder
	b.Grow(len(topic))
	for _, r := range topic {
		switch r {
		case '/':
			b.WriteByte('.')
		case '.':
			b.WriteByte('/')
		case '+':
			b.WriteByte('*')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ToTopic converts an AMQP routing key back to its MQTT topic
func ToTopic(routingKey string) string {
	var b strings.Builder
	b.Grow(len(routingKey))
	for _, r := range routingKey {
		switch r {
		case '.':
			b.WriteByte('/')
		case '/':
			b.WriteByte('.')
		case '*':
			b.WriteByte('+')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// DeviceFromTopic extracts the device segment of <namespace>/<deviceId>/<suffix>.
// It returns "" when the topic does not have that shape.
func DeviceFromTopic(namespace, topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != namespace {
		return ""
	}
	if parts[1] == "+" || parts[1] == "#" {
		return ""
	}
	return parts[1]
}
