// Package message defines the unit of work flowing through the proxy pipeline.
package message

import (
	"errors"
	"time"
	"unicode/utf8"
)

// QoS represents an MQTT quality-of-service level.
type QoS byte

// Valid QoS levels.
const (
	QoS0 QoS = 0
	QoS1 QoS = 1
	QoS2 QoS = 2
)

const maxTopicBytes = 65535

var (
	// ErrEmptyTopic is returned when a topic is empty.
	ErrEmptyTopic = errors.New("message: topic must not be empty")
	// ErrTopicTooLong is returned when a topic exceeds maxTopicBytes.
	ErrTopicTooLong = errors.New("message: topic exceeds 65535 bytes")
	// ErrTopicNotUTF8 is returned when a topic is not valid UTF-8.
	ErrTopicNotUTF8 = errors.New("message: topic is not valid UTF-8")
	// ErrTopicHasNullByte is returned when a topic contains a null byte.
	ErrTopicHasNullByte = errors.New("message: topic contains a null byte")
	// ErrInvalidQoS is returned for a QoS value outside 0..2.
	ErrInvalidQoS = errors.New("message: qos must be 0, 1 or 2")
)

// Message is the immutable unit of work ingested by the pipeline. It is
// never mutated after construction; decisions made about a message are
// carried alongside it (see quarantine.Record, audit.Record), not inside it.
type Message struct {
	topic      string
	payload    []byte
	qos        QoS
	retain     bool
	clientID   string
	receivedAt time.Time
}

// New validates and constructs a Message. It is the only way to obtain one.
func New(topic string, payload []byte, qos QoS, retain bool, clientID string, receivedAt time.Time) (Message, error) {
	if topic == "" {
		return Message{}, ErrEmptyTopic
	}
	if len(topic) > maxTopicBytes {
		return Message{}, ErrTopicTooLong
	}
	if !utf8.ValidString(topic) {
		return Message{}, ErrTopicNotUTF8
	}
	for i := 0; i < len(topic); i++ {
		if topic[i] == 0 {
			return Message{}, ErrTopicHasNullByte
		}
	}
	if qos != QoS0 && qos != QoS1 && qos != QoS2 {
		return Message{}, ErrInvalidQoS
	}
	// defensive copy: the caller's buffer (often reused by the MQTT
	// client library) must not alias the message after construction.
	buf := make([]byte, len(payload))
	copy(buf, payload)

	return Message{
		topic:      topic,
		payload:    buf,
		qos:        qos,
		retain:     retain,
		clientID:   clientID,
		receivedAt: receivedAt,
	}, nil
}

// Topic returns the message topic.
func (m Message) Topic() string { return m.topic }

// Payload returns the message payload. Callers must not mutate the
// returned slice.
func (m Message) Payload() []byte { return m.payload }

// Size returns the payload size in bytes.
func (m Message) Size() int { return len(m.payload) }

// QoS returns the message QoS level.
func (m Message) QoS() QoS { return m.qos }

// Retain returns whether the message was published with the retain flag.
func (m Message) Retain() bool { return m.retain }

// ClientID returns the originating publisher's client id, or "" if unknown.
func (m Message) ClientID() string { return m.clientID }

// ReceivedAt returns the ingress timestamp.
func (m Message) ReceivedAt() time.Time { return m.receivedAt }
