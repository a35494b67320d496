package message

import (
	"strings"
	"testing"
	"time"
)

func testNewValid(t *testing.T) {
	now := time.Now()
	m, err := New("devices/temp-001/telemetry", []byte(`{"a":1}`), QoS1, false, "temp-001", now)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if m.Topic() != "devices/temp-001/telemetry" {
		t.Fatalf("unexpected topic %s", m.Topic())
	}
	if m.Size() != len(`{"a":1}`) {
		t.Fatalf("unexpected size %d", m.Size())
	}
}

func testNewDefensiveCopy(t *testing.T) {
	payload := []byte("hello")
	m, err := New("a/b", payload, QoS0, false, "", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	payload[0] = 'X'
	if string(m.Payload()) != "hello" {
		t.Fatalf("message payload aliased caller buffer: %s", m.Payload())
	}
}

func testNewRejectsEmptyTopic(t *testing.T) {
	if _, err := New("", []byte("x"), QoS0, false, "", time.Now()); err != ErrEmptyTopic {
		t.Fatalf("expected ErrEmptyTopic, got %v", err)
	}
}

func testNewRejectsNullByte(t *testing.T) {
	if _, err := New("a/\x00/b", []byte("x"), QoS0, false, "", time.Now()); err != ErrTopicHasNullByte {
		t.Fatalf("expected ErrTopicHasNullByte, got %v", err)
	}
}

func testNewRejectsTooLong(t *testing.T) {
	topic := strings.Repeat("a", maxTopicBytes+1)
	if _, err := New(topic, []byte("x"), QoS0, false, "", time.Now()); err != ErrTopicTooLong {
		t.Fatalf("expected ErrTopicTooLong, got %v", err)
	}
}

func testNewRejectsInvalidQoS(t *testing.T) {
	if _, err := New("a/b", []byte("x"), QoS(3), false, "", time.Now()); err != ErrInvalidQoS {
		t.Fatalf("expected ErrInvalidQoS, got %v", err)
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		name string
		fct  func(t *testing.T)
	}{
		{"new valid", testNewValid},
		{"new defensive copy", testNewDefensiveCopy},
		{"new rejects empty topic", testNewRejectsEmptyTopic},
		{"new rejects null byte", testNewRejectsNullByte},
		{"new rejects too long", testNewRejectsTooLong},
		{"new rejects invalid qos", testNewRejectsInvalidQoS},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.fct(t)
		})
	}
}
