// Package wizard implements the signup wizard: the step graph, back
// navigation history, the per-step transition and validation rules, and the
// live component that serves it to the browser.
package wizard

import (
	"github.com/Anvisninger/signup-flow/pkg/logging"
)

// Step names a wizard slide.
type Step string

const (
	StepCustomerType Step = "customerType"
	StepBasisOrPro   Step = "basisOrPro"
	StepCVR          Step = "cvr"
	StepCompany      Step = "company"
	StepPlanReview   Step = "planReview"
	StepInvoicing    Step = "invoicing"
	StepContactSales Step = "contactSales"
	StepContact      Step = "contact"
)

// StepOrder is the display order of the slides.
var StepOrder = []Step{
	StepCustomerType,
	StepBasisOrPro,
	StepCVR,
	StepCompany,
	StepPlanReview,
	StepInvoicing,
	StepContactSales,
	StepContact,
}

// IsTerminal reports whether the slide has no forward arrow.
func (s Step) IsTerminal() bool {
	return s == StepContactSales || s == StepContact
}

// StepIndex maps step names to slide positions.
type StepIndex struct {
	steps    []Step
	position map[Step]int
}

// NewStepIndex builds an index from the rendered slides. Empty names are
// skipped and a repeated name keeps its last position.
func NewStepIndex(rendered []Step) *StepIndex {
	idx := &StepIndex{position: make(map[Step]int, len(rendered))}
	for i, step := range rendered {
		if step == "" {
			continue
		}
		if _, seen := idx.position[step]; !seen {
			idx.steps = append(idx.steps, step)
		}
		idx.position[step] = i
	}
	return idx
}

// Position returns the slide position of step.
func (idx *StepIndex) Position(step Step) (int, bool) {
	i, ok := idx.position[step]
	return i, ok
}

// Steps returns the known step names in slide order.
func (idx *StepIndex) Steps() []Step {
	out := make([]Step, len(idx.steps))
	copy(out, idx.steps)
	return out
}

// Has reports whether step is rendered.
func (idx *StepIndex) Has(step Step) bool {
	_, ok := idx.position[step]
	return ok
}

func stepNames(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = string(s)
	}
	return names
}

func logUnknownStep(logger logging.Logger, step Step, idx *StepIndex) {
	logger.Error("unknown step",
		logging.Step(string(step)),
		logging.Any("known", stepNames(idx.Steps())),
	)
}
