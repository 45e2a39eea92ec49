package wizard

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Anvisninger/signup-flow/pkg/core"
	"github.com/Anvisninger/signup-flow/pkg/logging"
	"github.com/Anvisninger/signup-flow/pkg/pubsub"
)

// TopicCompleted carries a JSON Completion for every finished signup.
const TopicCompleted = "signup.completed"

// Client events.
const (
	EventForward      = "forward"
	EventBack         = "back"
	EventCustomerType = "customer_type"
	EventBasisOrPro   = "basis_or_pro"
	EventInput        = "input"
	EventConfirm      = "confirm"
	EventCompleted    = "signup_completed"
)

// Server pushes.
const (
	PushSlide    = "slide"
	PushCheckout = "outseta:open"
	PushDegraded = "signup:degraded"
	PushPlan     = "signup:plan"
)

// ErrUnknownEvent is returned for events the wizard does not handle.
var ErrUnknownEvent = errors.New("unknown event")

// LookupDone is delivered to HandleInfo when a background lookup finishes.
type LookupDone struct {
	Event string
	Step  Step
}

// Deps wires a Component to its collaborators.
type Deps struct {
	Config Config
	Lookup Lookup
	PubSub pubsub.PubSub

	// Inline runs lookups on the event goroutine instead of in the
	// background.
	Inline bool

	Logger logging.Logger
}

// Component serves one wizard session over a live socket.
type Component struct {
	core.BaseComponent

	deps    Deps
	machine *Machine
	logger  logging.Logger
}

// NewComponent returns a factory suitable for router.Live.
func NewComponent(deps Deps) func() core.Component {
	return func() core.Component {
		return &Component{deps: deps, logger: logging.OrNop(deps.Logger)}
	}
}

// Name returns the component name.
func (c *Component) Name() string {
	return "signup-wizard"
}

// Machine returns the session's state machine, nil before Mount.
func (c *Component) Machine() *Machine {
	return c.machine
}

// Mount creates the session's state machine.
func (c *Component) Mount(ctx context.Context, params core.Params, session core.Session) error {
	cfg := c.deps.Config
	if lang := params.Get("lang"); lang != "" {
		cfg.Locale = lang
		cfg.Translator = nil
	}
	if cfg.Logger == nil {
		cfg.Logger = c.logger
	}

	cfg.View = ViewFunc(func(step Step, index int) {
		c.push(PushSlide, map[string]any{"step": string(step), "index": index})
	})
	if cfg.Handoff == nil {
		cfg.Handoff = HandoffFunc(c.openCheckout)
	}
	onPlan := cfg.OnPlanChange
	cfg.OnPlanChange = func(uid string) {
		c.push(PushPlan, map[string]any{"planUid": uid})
		if onPlan != nil {
			onPlan(uid)
		}
	}

	c.machine = New(cfg, c.deps.Lookup)
	c.machine.OnCritical(func(err error) {
		c.push(PushDegraded, map[string]any{"reason": err.Error()})
	})
	c.machine.OnComplete(c.publishCompletion)
	return nil
}

func (c *Component) push(event string, payload map[string]any) {
	socket := c.Socket()
	if socket == nil {
		return
	}
	if err := socket.Push(event, payload); err != nil && !errors.Is(err, core.ErrSocketClosed) {
		c.logger.Warn("push failed", logging.String("event", event), logging.Err(err))
	}
}

func (c *Component) openCheckout(ctx context.Context, h Handoff) error {
	socket := c.Socket()
	if socket == nil {
		return core.ErrSocketClosed
	}
	return socket.Push(PushCheckout, map[string]any{
		"planUid":              h.PlanUID,
		"state":                h.State,
		"registrationDefaults": h.Defaults,
	})
}

func (c *Component) publishCompletion(done Completion) {
	if c.deps.PubSub == nil {
		return
	}
	if err := pubsub.PublishJSON(c.deps.PubSub, TopicCompleted, done); err != nil {
		c.logger.Error("publish completion", logging.Err(err))
	}
}

// HandleEvent applies a client event to the machine.
func (c *Component) HandleEvent(ctx context.Context, event string, payload map[string]any) error {
	if c.machine == nil {
		return fmt.Errorf("%s before mount", event)
	}

	switch event {
	case EventForward:
		if c.machine.Current() == StepCVR {
			c.background(ctx, event, func(ctx context.Context) { c.machine.Forward(ctx) })
			return nil
		}
		c.machine.Forward(ctx)

	case EventBack:
		c.machine.Back()

	case EventCustomerType:
		c.machine.CustomerTypeChanged(stringValue(payload, "value"))

	case EventBasisOrPro:
		c.machine.BasisOrProChanged(stringValue(payload, "value"))

	case EventInput:
		id := stringValue(payload, "field")
		if id == "" {
			return fmt.Errorf("%w: input without field", core.ErrInvalidMessage)
		}
		c.machine.SetFieldByID(id, stringValue(payload, "value"))

	case EventConfirm:
		c.background(ctx, event, func(ctx context.Context) { c.machine.Confirm(ctx) })

	case EventCompleted:
		c.machine.Complete()

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event)
	}
	return nil
}

// background runs fn off the session loop and reports back through
// HandleInfo so the result is rendered.
func (c *Component) background(ctx context.Context, event string, fn func(context.Context)) {
	socket := c.Socket()
	if c.deps.Inline || socket == nil {
		fn(ctx)
		return
	}

	step := c.machine.Current()
	go func() {
		fn(ctx)
		if err := socket.SendInfo(LookupDone{Event: event, Step: step}); err != nil {
			c.logger.Debug("lookup finished after disconnect", logging.String("event", event))
		}
	}()
}

// HandleInfo re-renders after background lookups.
func (c *Component) HandleInfo(ctx context.Context, msg any) error {
	switch msg := msg.(type) {
	case LookupDone:
		c.logger.Debug("lookup done", logging.String("event", msg.Event), logging.Step(string(msg.Step)))
	default:
		c.logger.Warn("unexpected info message", logging.Any("type", fmt.Sprintf("%T", msg)))
	}
	return nil
}

// Render renders the wizard.
func (c *Component) Render(ctx context.Context) core.Renderer {
	return core.RendererFunc(func(ctx context.Context, w io.Writer) error {
		if c.machine == nil {
			return errors.New("render before mount")
		}
		return c.machine.Render(w)
	})
}

// Terminate logs how the session ended.
func (c *Component) Terminate(ctx context.Context, reason core.TerminateReason) error {
	if c.machine == nil {
		return nil
	}
	snap := c.machine.Snapshot()
	c.logger.Info("wizard session ended",
		logging.String("reason", reason.String()),
		logging.Step(string(snap.Step)),
		logging.Bool("completed", snap.Completed),
	)
	return nil
}

func stringValue(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
