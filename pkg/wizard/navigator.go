package wizard

import (
	"sync"
	"time"

	"github.com/Anvisninger/signup-flow/pkg/logging"
)

// DefaultSettleDelay outlasts the slider's transition animation.
const DefaultSettleDelay = 150 * time.Millisecond

// View renders step changes. It is called with the machine locked and must
// not call back into it.
type View interface {
	ShowStep(step Step, index int)
}

// ViewFunc adapts a function to View.
type ViewFunc func(step Step, index int)

func (f ViewFunc) ShowStep(step Step, index int) { f(step, index) }

// Navigator owns the current step and the back-navigation history.
type Navigator struct {
	index  *StepIndex
	view   View
	settle time.Duration
	logger logging.Logger

	mu            sync.Mutex
	current       Step
	history       []Step
	programmatic  bool
	settleTimer   *time.Timer
	transitionSeq uint64
}

// NewNavigator creates a navigator positioned at start. A zero settle clears
// the programmatic guard immediately.
func NewNavigator(index *StepIndex, start Step, view View, settle time.Duration, logger logging.Logger) *Navigator {
	return &Navigator{
		index:   index,
		view:    view,
		settle:  settle,
		logger:  logging.OrNop(logger),
		current: start,
	}
}

// Current returns the step being shown.
func (n *Navigator) Current() Step {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// History returns a copy of the back stack, oldest first.
func (n *Navigator) History() []Step {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Step, len(n.history))
	copy(out, n.history)
	return out
}

// IsProgrammatic reports whether a program-initiated transition is settling.
func (n *Navigator) IsProgrammatic() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.programmatic
}

// GoToStep shows target without touching history. Unknown steps are logged
// and ignored.
func (n *Navigator) GoToStep(target Step) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.goTo(target)
}

// GoToStepWithHistory records the current step before showing target,
// unless the current step already is target.
func (n *Navigator) GoToStepWithHistory(target Step) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.index.Has(target) {
		logUnknownStep(n.logger, target, n.index)
		return false
	}
	if n.current != "" && n.current != target {
		n.history = append(n.history, n.current)
	}
	return n.goTo(target)
}

// PopHistory removes and returns the most recent history entry.
func (n *Navigator) PopHistory() (Step, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.history) == 0 {
		return "", false
	}
	last := n.history[len(n.history)-1]
	n.history = n.history[:len(n.history)-1]
	return last, true
}

// TruncateHistory drops step and every entry recorded after it. History
// that never passed through step is left alone.
func (n *Navigator) TruncateHistory(step Step) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for i, s := range n.history {
		if s == step {
			n.history = n.history[:i]
			return
		}
	}
}

// goTo must be called with mu held.
func (n *Navigator) goTo(target Step) bool {
	pos, ok := n.index.Position(target)
	if !ok {
		logUnknownStep(n.logger, target, n.index)
		return false
	}

	n.current = target
	n.programmatic = true
	n.transitionSeq++
	if n.view != nil {
		n.view.ShowStep(target, pos)
	}
	n.logger.Debug("step shown", logging.Step(string(target)), logging.Int("index", pos))

	if n.settle <= 0 {
		n.programmatic = false
		return true
	}

	if n.settleTimer != nil {
		n.settleTimer.Stop()
	}
	seq := n.transitionSeq
	n.settleTimer = time.AfterFunc(n.settle, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.transitionSeq == seq {
			n.programmatic = false
		}
	})
	return true
}
