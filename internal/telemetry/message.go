// Package telemetry turns raw device payloads into typed messages. Parsing is
// the only gate between broker bytes and the event store: a payload either
// becomes one of the Message variants or a parse error, never a half-read map.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/septivank/medimind-backend/internal/apperr"
)

var (
	ErrEmptyPayload     = fmt.Errorf("%w: empty payload", apperr.ErrValidation)
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", apperr.ErrValidation)
	ErrMissingDeviceID  = fmt.Errorf("%w: device id not found in payload or topic", apperr.ErrValidation)
)

// Message is a validated inbound device message
type Message interface {
	Device() string
}

// PillRemovedEvent reports that a pill was taken out of the box
type PillRemovedEvent struct {
	DeviceID   string
	Weight     *float64
	WeightDiff *float64
	// Timestamp is the device clock in epoch milliseconds, if it sent one
	Timestamp *int64
}

func (e PillRemovedEvent) Device() string { return e.DeviceID }

// Unhandled is a well-formed message that carries nothing to persist, such as
// a weight report with pill_removed=false or a kind this version does not know.
type Unhandled struct {
	DeviceID string
}

func (u Unhandled) Device() string { return u.DeviceID }

// eventPayload is the wire shape of medibox/<deviceId>/event
type eventPayload struct {
	DeviceID    string   `json:"device_id"`
	PillRemoved bool     `json:"pill_removed"`
	Weight      *float64 `json:"weight"`
	WeightDiff  *float64 `json:"weight_diff"`
	Timestamp   *float64 `json:"timestamp"`
}

// AlertPayload is the wire shape of medibox/<deviceId>/alert
type AlertPayload struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Parse validates a payload received on topic. The payload's device_id takes
// precedence over the device segment of the topic.
func Parse(namespace, topic string, body []byte) (Message, error) {
	if len(body) == 0 {
		return nil, ErrEmptyPayload
	}

	var p eventPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	deviceID := strings.TrimSpace(p.DeviceID)
	if deviceID == "" {
		deviceID = DeviceFromTopic(namespace, topic)
	}
	if deviceID == "" {
		return nil, ErrMissingDeviceID
	}

	if !p.PillRemoved {
		return Unhandled{DeviceID: deviceID}, nil
	}

	event := PillRemovedEvent{
		DeviceID:   deviceID,
		Weight:     p.Weight,
		WeightDiff: p.WeightDiff,
	}
	if p.Timestamp != nil {
		rounded := math.Round(*p.Timestamp)
		// float64(math.MaxInt64) is 2^63, the first value that overflows int64
		if rounded < 0 || rounded >= float64(math.MaxInt64) {
			return nil, fmt.Errorf("%w: timestamp out of range", ErrMalformedPayload)
		}
		ts := int64(rounded)
		event.Timestamp = &ts
	}

	return event, nil
}

// IsParseFailure reports whether err came from Parse
func IsParseFailure(err error) bool {
	return errors.Is(err, ErrEmptyPayload) ||
		errors.Is(err, ErrMalformedPayload) ||
		errors.Is(err, ErrMissingDeviceID)
}
