// Package protocol defines the wire format of the live wizard socket.
package protocol

import "time"

// Protocol events.
const (
	EventJoin      = "join"
	EventLeave     = "leave"
	EventHeartbeat = "heartbeat"
	EventReply     = "reply"
	EventRender    = "render"
)

// Reply statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Message is one frame exchanged between the browser and the server.
type Message struct {
	// Ref correlates a reply with the client message that caused it.
	Ref string `json:"ref,omitempty" msgpack:"ref,omitempty"`

	// Topic is the socket's channel, "lv:<socket id>".
	Topic string `json:"topic" msgpack:"topic"`

	Event   string         `json:"event" msgpack:"event"`
	Payload map[string]any `json:"payload,omitempty" msgpack:"payload,omitempty"`

	// Unix milliseconds
	Timestamp int64 `json:"ts,omitempty" msgpack:"ts,omitempty"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(topic, event string, payload map[string]any) *Message {
	return &Message{
		Topic:     topic,
		Event:     event,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// String returns a payload value as a string, or "".
func (m *Message) String(key string) string {
	if m.Payload == nil {
		return ""
	}
	s, _ := m.Payload[key].(string)
	return s
}

// Reply builds the reply to a client message.
func Reply(ref, topic, status string, response map[string]any) *Message {
	msg := NewMessage(topic, EventReply, map[string]any{
		"status":   status,
		"response": response,
	})
	msg.Ref = ref
	return msg
}

// ErrorReply builds an error reply carrying reason.
func ErrorReply(ref, topic, reason string) *Message {
	return Reply(ref, topic, StatusError, map[string]any{"reason": reason})
}
