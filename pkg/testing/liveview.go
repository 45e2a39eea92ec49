// Package testing drives live components without a browser or WebSocket
// connection.
package testing

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Anvisninger/signup-flow/pkg/core"
	"github.com/Anvisninger/signup-flow/pkg/pool"
)

// LiveViewTest is a mounted component under test.
type LiveViewTest struct {
	component core.Component
	transport *MockTransport
	socket    *core.Socket
	rendered  string
	events    []core.Event
	ctx       context.Context
	t         *testing.T
}

type mountConfig struct {
	params  core.Params
	session core.Session
}

// MountOption configures the test mount.
type MountOption func(*mountConfig)

// WithParams sets mount parameters.
func WithParams(params core.Params) MountOption {
	return func(c *mountConfig) {
		c.params = params
	}
}

// WithSession sets session data.
func WithSession(session core.Session) MountOption {
	return func(c *mountConfig) {
		c.session = session
	}
}

// Mount wires comp to a mock socket, mounts it and renders once.
func Mount(t *testing.T, comp core.Component, opts ...MountOption) *LiveViewTest {
	t.Helper()

	cfg := mountConfig{params: core.Params{}, session: core.Session{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	lvt := &LiveViewTest{
		component: comp,
		transport: NewMockTransport(),
		t:         t,
	}
	lvt.socket = core.NewSocket(lvt.transport.ID, lvt.transport)
	t.Cleanup(func() { lvt.socket.Close() })

	if sa, ok := comp.(core.SocketAware); ok {
		sa.SetSocket(lvt.socket)
	}

	lvt.ctx = context.Background()
	if err := comp.Mount(lvt.ctx, cfg.params, cfg.session); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}

	lvt.render()
	return lvt
}

// Event sends a client event and re-renders. A rejected event fails the test.
func (lvt *LiveViewTest) Event(event string, payload map[string]any) *LiveViewTest {
	lvt.t.Helper()
	if err := lvt.TryEvent(event, payload); err != nil {
		lvt.t.Errorf("HandleEvent %s failed: %v", event, err)
	}
	return lvt
}

// TryEvent sends a client event and returns the component's error.
func (lvt *LiveViewTest) TryEvent(event string, payload map[string]any) error {
	lvt.t.Helper()

	lvt.events = append(lvt.events, core.Event{Type: event, Payload: payload})
	if err := lvt.component.HandleEvent(lvt.ctx, event, payload); err != nil {
		return err
	}
	lvt.render()
	return nil
}

// Click sends a payload-less event such as "forward".
func (lvt *LiveViewTest) Click(event string) *LiveViewTest {
	lvt.t.Helper()
	return lvt.Event(event, nil)
}

// Choose sends a radio selection.
func (lvt *LiveViewTest) Choose(event, value string) *LiveViewTest {
	lvt.t.Helper()
	return lvt.Event(event, map[string]any{"value": value})
}

// Input sends an input event for the element with the given id.
func (lvt *LiveViewTest) Input(field, value string) *LiveViewTest {
	lvt.t.Helper()
	return lvt.Event("input", map[string]any{"field": field, "value": value})
}

// SendInfo delivers a server-side message and re-renders.
func (lvt *LiveViewTest) SendInfo(msg any) *LiveViewTest {
	lvt.t.Helper()

	if err := lvt.component.HandleInfo(lvt.ctx, msg); err != nil {
		lvt.t.Errorf("HandleInfo failed: %v", err)
		return lvt
	}
	lvt.render()
	return lvt
}

// AwaitInfo waits for the component to queue an info message on its socket,
// then delivers it like the session loop would.
func (lvt *LiveViewTest) AwaitInfo(timeout time.Duration) any {
	lvt.t.Helper()

	select {
	case msg := <-lvt.socket.Info():
		lvt.SendInfo(msg)
		return msg
	case <-time.After(timeout):
		lvt.t.Fatalf("no info message within %s", timeout)
		return nil
	}
}

func (lvt *LiveViewTest) render() {
	lvt.t.Helper()

	renderer := lvt.component.Render(lvt.ctx)
	if renderer == nil {
		lvt.t.Fatal("Render returned nil")
	}

	buf := pool.GetBuffer()
	defer pool.PutBuffer(buf)

	if err := renderer.Render(lvt.ctx, buf); err != nil {
		lvt.t.Fatalf("Render failed: %v", err)
	}
	lvt.rendered = buf.String()
}

// Rendered returns the current HTML.
func (lvt *LiveViewTest) Rendered() string {
	return lvt.rendered
}

// AssertText verifies the rendered output contains text.
func (lvt *LiveViewTest) AssertText(text string) *LiveViewTest {
	lvt.t.Helper()
	if !strings.Contains(lvt.rendered, text) {
		lvt.t.Errorf("text not found: %q\nrendered HTML:\n%s", text, lvt.rendered)
	}
	return lvt
}

// AssertNoText verifies the rendered output does not contain text.
func (lvt *LiveViewTest) AssertNoText(text string) *LiveViewTest {
	lvt.t.Helper()
	if strings.Contains(lvt.rendered, text) {
		lvt.t.Errorf("text should not be rendered: %q", text)
	}
	return lvt
}

// AssertID verifies an element with the id is rendered.
func (lvt *LiveViewTest) AssertID(id string) *LiveViewTest {
	lvt.t.Helper()
	return lvt.AssertText(`id="` + id + `"`)
}

// AssertPushed verifies the component pushed event at least once.
func (lvt *LiveViewTest) AssertPushed(event string) *LiveViewTest {
	lvt.t.Helper()
	if len(lvt.transport.Pushed(event)) == 0 {
		lvt.t.Errorf("expected push %q, got %d messages", event, len(lvt.transport.SentMessages()))
	}
	return lvt
}

// Transport returns the mock transport.
func (lvt *LiveViewTest) Transport() *MockTransport {
	return lvt.transport
}

// Socket returns the socket the component was mounted on.
func (lvt *LiveViewTest) Socket() *core.Socket {
	return lvt.socket
}

// Component returns the component under test.
func (lvt *LiveViewTest) Component() core.Component {
	return lvt.component
}

// Events returns every event sent so far.
func (lvt *LiveViewTest) Events() []core.Event {
	return lvt.events
}
