package telemetry

import (
	"errors"
	"testing"

	"github.com/septivank/medimind-backend/internal/apperr"
)

const ns = "medibox"

func TestParse_FullPillRemovedEvent(t *testing.T) {
	body := []byte(`{"device_id":"dev1","pill_removed":true,"weight":90.0,"weight_diff":5.0,"timestamp":1700000000000}`)

	msg, err := Parse(ns, "medibox/dev1/event", body)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	event, ok := msg.(PillRemovedEvent)
	if !ok {
		t.Fatalf("Expected PillRemovedEvent, got %T", msg)
	}
	if event.DeviceID != "dev1" {
		t.Errorf("Expected device dev1, got %s", event.DeviceID)
	}
	if event.Weight == nil || *event.Weight != 90.0 {
		t.Errorf("Expected weight 90.0, got %v", event.Weight)
	}
	if event.WeightDiff == nil || *event.WeightDiff != 5.0 {
		t.Errorf("Expected weight_diff 5.0, got %v", event.WeightDiff)
	}
	if event.Timestamp == nil || *event.Timestamp != 1700000000000 {
		t.Errorf("Expected timestamp 1700000000000, got %v", event.Timestamp)
	}
}

func TestParse_OptionalFieldsMayBeAbsent(t *testing.T) {
	msg, err := Parse(ns, "medibox/dev1/event", []byte(`{"pill_removed":true}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	event := msg.(PillRemovedEvent)
	if event.Weight != nil || event.WeightDiff != nil || event.Timestamp != nil {
		t.Errorf("Expected optional fields to stay nil, got %+v", event)
	}
	if event.DeviceID != "dev1" {
		t.Errorf("Expected device from topic, got %q", event.DeviceID)
	}
}

func TestParse_PayloadDeviceWinsOverTopic(t *testing.T) {
	msg, err := Parse(ns, "medibox/dev1/event", []byte(`{"device_id":"dev9","pill_removed":true}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if msg.Device() != "dev9" {
		t.Errorf("Expected payload device dev9, got %s", msg.Device())
	}
}

func TestParse_PillNotRemovedIsUnhandled(t *testing.T) {
	msg, err := Parse(ns, "medibox/dev1/event", []byte(`{"pill_removed":false,"weight":42}`))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := msg.(Unhandled); !ok {
		t.Errorf("Expected Unhandled, got %T", msg)
	}
}

func TestParse_Failures(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		body  []byte
		want  error
	}{
		{name: "nil body", topic: "medibox/dev1/event", body: nil, want: ErrEmptyPayload},
		{name: "empty body", topic: "medibox/dev1/event", body: []byte{}, want: ErrEmptyPayload},
		{name: "not json", topic: "medibox/dev1/event", body: []byte("pill!"), want: ErrMalformedPayload},
		{name: "array", topic: "medibox/dev1/event", body: []byte(`[1,2]`), want: ErrMalformedPayload},
		{name: "wrong type", topic: "medibox/dev1/event", body: []byte(`{"pill_removed":"yes"}`), want: ErrMalformedPayload},
		{name: "negative timestamp", topic: "medibox/dev1/event", body: []byte(`{"pill_removed":true,"timestamp":-5}`), want: ErrMalformedPayload},
		{name: "timestamp beyond int64", topic: "medibox/dev1/event", body: []byte(`{"pill_removed":true,"timestamp":1e30}`), want: ErrMalformedPayload},
		{name: "timestamp at 2^63", topic: "medibox/dev1/event", body: []byte(`{"pill_removed":true,"timestamp":9223372036854775808}`), want: ErrMalformedPayload},
		{name: "no device anywhere", topic: "unrelated", body: []byte(`{"pill_removed":true}`), want: ErrMissingDeviceID},
		{name: "blank payload device and bad topic", topic: "", body: []byte(`{"device_id":"  ","pill_removed":true}`), want: ErrMissingDeviceID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(ns, tt.topic, tt.body)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Expected %v, got %v", tt.want, err)
			}
			if !errors.Is(err, apperr.ErrValidation) {
				t.Errorf("Expected parse failure to be a validation error")
			}
			if !IsParseFailure(err) {
				t.Errorf("Expected IsParseFailure to be true")
			}
		})
	}
}
