package router

import (
	"github.com/Anvisninger/signup-flow/pkg/core"
	"github.com/Anvisninger/signup-flow/pkg/protocol"
	"github.com/Anvisninger/signup-flow/pkg/transport"
)

// TransportAdapter lets a core.Socket push through a WebSocketTransport.
type TransportAdapter struct {
	ws *transport.WebSocketTransport
}

// NewTransportAdapter creates a new adapter.
func NewTransportAdapter(ws *transport.WebSocketTransport) *TransportAdapter {
	return &TransportAdapter{ws: ws}
}

// Send implements core.Transport.
func (a *TransportAdapter) Send(msg core.Message) error {
	out := protocol.NewMessage(msg.Topic, msg.Event, msg.Payload)
	out.Ref = msg.Ref
	return a.ws.Send(out)
}

// Close implements core.Transport.
func (a *TransportAdapter) Close() error {
	return a.ws.Close()
}

// IsConnected implements core.Transport.
func (a *TransportAdapter) IsConnected() bool {
	return a.ws.IsConnected()
}

// WebSocket returns the underlying transport.
func (a *TransportAdapter) WebSocket() *transport.WebSocketTransport {
	return a.ws
}
