package testing

import (
	"sync"

	"github.com/google/uuid"

	"github.com/Anvisninger/signup-flow/pkg/core"
)

// MockTransport implements core.Transport and records every push.
type MockTransport struct {
	ID        string
	Connected bool
	Sent      []core.Message
	Closed    bool

	errorToSend error

	mu sync.Mutex
}

// NewMockTransport creates a connected mock transport.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		ID:        "test-socket-" + uuid.NewString()[:8],
		Connected: true,
		Sent:      make([]core.Message, 0),
	}
}

// Send records a sent message.
func (mt *MockTransport) Send(msg core.Message) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	if mt.errorToSend != nil {
		return mt.errorToSend
	}
	if mt.Closed {
		return core.ErrSocketClosed
	}

	mt.Sent = append(mt.Sent, msg)
	return nil
}

// Close marks the transport closed.
func (mt *MockTransport) Close() error {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.Closed = true
	mt.Connected = false
	return nil
}

// IsConnected returns the connection status.
func (mt *MockTransport) IsConnected() bool {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	return mt.Connected && !mt.Closed
}

// SetError makes every following Send fail with err (nil clears it).
func (mt *MockTransport) SetError(err error) {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.errorToSend = err
}

// SentMessages returns a copy of all sent messages.
func (mt *MockTransport) SentMessages() []core.Message {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	result := make([]core.Message, len(mt.Sent))
	copy(result, mt.Sent)
	return result
}

// Pushed returns the sent messages with the given event.
func (mt *MockTransport) Pushed(event string) []core.Message {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	var out []core.Message
	for _, msg := range mt.Sent {
		if msg.Event == event {
			out = append(out, msg)
		}
	}
	return out
}

// LastPushed returns the last message with the given event and whether one
// was sent.
func (mt *MockTransport) LastPushed(event string) (core.Message, bool) {
	msgs := mt.Pushed(event)
	if len(msgs) == 0 {
		return core.Message{}, false
	}
	return msgs[len(msgs)-1], true
}

// Reset clears recorded messages and reconnects.
func (mt *MockTransport) Reset() {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.Sent = make([]core.Message, 0)
	mt.Closed = false
	mt.Connected = true
	mt.errorToSend = nil
}
