package wizard

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Anvisninger/signup-flow/pkg/forms"
	"github.com/Anvisninger/signup-flow/pkg/i18n"
	"github.com/Anvisninger/signup-flow/pkg/logging"
	"github.com/Anvisninger/signup-flow/pkg/lookup"
)

// Health reports whether the lookup backend is usable. Once a critical
// failure is seen it stays critical for the life of the machine.
type Health struct {
	Critical bool      `json:"critical"`
	Reason   string    `json:"reason,omitempty"`
	Since    time.Time `json:"since,omitempty"`
}

// ConfirmState describes the hand-off button.
type ConfirmState struct {
	Enabled bool   `json:"enabled"`
	Pending bool   `json:"pending"`
	Label   string `json:"label"`
}

// Snapshot is a consistent copy of the machine state for rendering.
type Snapshot struct {
	Step         Step              `json:"step"`
	Index        int               `json:"index"`
	History      []Step            `json:"history"`
	Session      Session           `json:"session"`
	Fields       map[Field]string  `json:"fields"`
	CustomerType string            `json:"customerType,omitempty"`
	BasisOrPro   string            `json:"basisOrPro,omitempty"`
	Errors       map[string]string `json:"errors"`
	Loading      bool              `json:"loading"`
	CanForward   bool              `json:"canForward"`
	CanBack      bool              `json:"canBack"`
	Confirm      ConfirmState      `json:"confirm"`
	Health       Health            `json:"health"`
	HandedOff    bool              `json:"handedOff"`
	Completed    bool              `json:"completed"`
}

// Machine is the signup wizard state machine. It is safe for concurrent use;
// lookups run without the lock held, and the in-flight guards keep
// navigation out while they do.
type Machine struct {
	cfg    Config
	lookup Lookup
	index  *StepIndex
	nav    *Navigator
	tr     *i18n.Translator
	logger logging.Logger

	mu           sync.Mutex
	session      Session
	fields       map[Field]string
	customerType string
	basisOrPro   string
	errors       map[string]string
	cvrInFlight  bool
	health       Health
	handedOff    bool
	completed    bool
	onComplete   []func(Completion)
	onCritical   []func(error)

	// deferred callbacks run after mu is released
	deferred []func()
}

// New creates a machine positioned on the customer type slide.
func New(cfg Config, lk Lookup) *Machine {
	cfg.withDefaults()

	index := NewStepIndex(cfg.Steps)
	start := StepCustomerType
	if !index.Has(start) {
		cfg.Logger.Warn("customer type slide not rendered", logging.Any("steps", stepNames(index.Steps())))
		if steps := index.Steps(); len(steps) > 0 {
			start = steps[0]
		}
	}

	return &Machine{
		cfg:     cfg,
		lookup:  lk,
		index:   index,
		nav:     NewNavigator(index, start, cfg.View, cfg.SettleDelay, cfg.Logger),
		tr:      cfg.Translator,
		logger:  cfg.Logger,
		session: newSession(),
		fields:  make(map[Field]string),
		errors:  make(map[string]string),
	}
}

// Config returns the machine's effective configuration.
func (m *Machine) Config() Config {
	return m.cfg
}

// Translator returns the translator messages are rendered with.
func (m *Machine) Translator() *i18n.Translator {
	return m.tr
}

func (m *Machine) unlock() {
	deferred := m.deferred
	m.deferred = nil
	m.mu.Unlock()
	for _, fn := range deferred {
		fn()
	}
}

// Current returns the step being shown.
func (m *Machine) Current() Step {
	return m.nav.Current()
}

// History returns the back-navigation stack.
func (m *Machine) History() []Step {
	return m.nav.History()
}

// Session returns a copy of the signup session.
func (m *Machine) Session() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone()
}

// Health returns the lookup backend health.
func (m *Machine) Health() Health {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// OnCritical registers fn to be called once when a critical lookup failure
// is first seen.
func (m *Machine) OnCritical(fn func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCritical = append(m.onCritical, fn)
}

// OnComplete registers fn to be called when the signup completes.
func (m *Machine) OnComplete(fn func(Completion)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onComplete = append(m.onComplete, fn)
}

// CustomerTypeChanged records the customer type radio and resets the whole
// session along with every displayed error. The history is cleared and the
// wizard returns to the customer type slide, so the next Forward is routed
// by the new value alone.
func (m *Machine) CustomerTypeChanged(value string) {
	m.mu.Lock()
	defer m.unlock()

	if m.busy() {
		m.logger.Debug("customer type change ignored while busy")
		return
	}
	m.customerType = value
	m.resetSession(false)
	m.clearAllErrors()
	m.rewindTo(StepCustomerType)
}

// BasisOrProChanged records the basis/pro radio and resets the session
// except for the person type.
func (m *Machine) BasisOrProChanged(value string) {
	m.mu.Lock()
	defer m.unlock()

	if m.busy() {
		m.logger.Debug("basis/pro change ignored while busy")
		return
	}
	m.basisOrPro = value
	m.resetSession(true)
	m.clearAllErrors()
	m.rewindTo(StepBasisOrPro)
}

// rewindTo drops the history recorded from step onwards and shows step if
// the wizard has moved past it. Caller holds mu.
func (m *Machine) rewindTo(step Step) {
	m.nav.TruncateHistory(step)
	if m.nav.Current() != step {
		m.nav.GoToStep(step)
	}
}

// SetField records an input value and clears or updates the field's error.
// Contact fields are read-only while the email check is pending.
func (m *Machine) SetField(f Field, value string) {
	m.mu.Lock()
	defer m.unlock()

	if f.Step() == StepContact && m.session.EmailCheck.Status == EmailPending {
		m.logger.Debug("contact input ignored while email check is pending", logging.String("field", string(f)))
		return
	}

	prev := m.fields[f]
	m.fields[f] = value

	switch f {
	case FieldCVR:
		m.clearError(m.cfg.FieldErrorBoxID(f))
	case FieldPhone:
		phone := strings.TrimSpace(value)
		if phone != "" && !forms.IsValidDanishPhone(phone) {
			m.setFieldError(f, m.tr.T(MsgPhone))
		} else {
			m.clearError(m.cfg.FieldErrorBoxID(f))
		}
	default:
		m.clearError(m.cfg.FieldErrorBoxID(f))
	}

	if f == FieldEmail && value != prev {
		m.session.EmailCheck = EmailCheckStatus{Status: EmailIdle}
	}
}

// SetFieldByID records an input by its element id. Unknown ids are logged
// and ignored.
func (m *Machine) SetFieldByID(id, value string) bool {
	f, ok := m.cfg.Fields.Lookup(id)
	if !ok {
		m.logger.Warn("unknown input", logging.String("id", id))
		return false
	}
	m.SetField(f, value)
	return true
}

// Forward performs the forward transition of the current step and returns
// the step shown afterwards. It is a no-op while a transition is settling
// or a lookup is in flight.
func (m *Machine) Forward(ctx context.Context) Step {
	m.mu.Lock()
	defer m.unlock()

	if m.nav.IsProgrammatic() || m.busy() {
		return m.nav.Current()
	}

	switch current := m.nav.Current(); current {
	case StepCustomerType:
		m.forwardCustomerType()
	case StepBasisOrPro:
		m.forwardBasisOrPro()
	case StepCVR:
		m.forwardCVR(ctx)
	case StepCompany:
		m.clearStepError(current)
		m.nav.GoToStepWithHistory(m.nextAfterCompany())
	case StepPlanReview:
		m.clearStepError(current)
		m.nav.GoToStepWithHistory(StepInvoicing)
	case StepInvoicing:
		m.forwardInvoicing()
	default:
		m.logger.Debug("forward ignored", logging.Step(string(current)))
	}

	return m.nav.Current()
}

func (m *Machine) forwardCustomerType() {
	m.clearStepError(StepCustomerType)

	switch m.customerType {
	case CustomerPrivate:
		m.session.PersonType = PersonPrivate
		m.session.SubscriptionType = SubscriptionFree
		m.setPlan(basisPlan(m.cfg.BasisPlanUID))
		m.nav.GoToStepWithHistory(StepContact)
	case CustomerBusiness:
		m.session.PersonType = PersonOrganisation
		m.nav.GoToStepWithHistory(StepBasisOrPro)
	case CustomerPublic:
		m.session.PersonType = PersonPublic
		m.nav.GoToStepWithHistory(StepContactSales)
	case CustomerEducation:
		m.session.PersonType = PersonEducation
		m.nav.GoToStepWithHistory(StepContactSales)
	case "":
		m.logger.Debug("no customer type selected")
	default:
		m.logger.Warn("unknown customer type", logging.String("value", m.customerType))
	}
}

func (m *Machine) forwardBasisOrPro() {
	m.clearStepError(StepBasisOrPro)

	switch m.basisOrPro {
	case ChoiceBasis:
		m.session.SubscriptionType = SubscriptionFree
		m.setPlan(basisPlan(m.cfg.BasisPlanUID))
	case ChoicePro:
		m.session.SubscriptionType = SubscriptionPaid
		m.setPlan(nil)
	case "":
		m.logger.Debug("no subscription selected")
		return
	default:
		m.logger.Warn("unknown subscription choice", logging.String("value", m.basisOrPro))
		return
	}
	m.nav.GoToStepWithHistory(StepCVR)
}

// forwardCVR is called and returns with mu held. It releases mu around the
// lookups.
func (m *Machine) forwardCVR(ctx context.Context) {
	if m.cfg.Fields.CVR == "" {
		m.logger.Warn("cvr input not configured")
		m.setStepError(StepCVR, m.tr.T(MsgTechnicalError))
		return
	}

	m.clearStepError(StepCVR)

	cvr := forms.StripWhitespace(m.fields[FieldCVR])
	if !forms.IsValidCVR(cvr) {
		m.setStepError(StepCVR, m.tr.T(MsgCVRFormat))
		return
	}

	m.cvrInFlight = true
	paid := m.session.SubscriptionType == SubscriptionPaid
	m.unlock()

	res := m.resolveCompany(ctx, cvr, paid)

	m.mu.Lock()
	m.cvrInFlight = false

	if res.err != nil {
		m.latchCritical(res.err)
	}
	if res.company != nil {
		m.session.Company = *res.company
	}
	if res.msg != "" {
		m.setStepError(StepCVR, res.msg)
		return
	}
	m.setPlan(res.plan)
	m.nav.GoToStepWithHistory(StepCompany)
}

type companyResult struct {
	company *CompanyInfo
	plan    *lookup.Plan
	msg     string
	err     error
}

// resolveCompany runs without mu held.
func (m *Machine) resolveCompany(ctx context.Context, cvr string, paid bool) companyResult {
	data, err := m.lookup.Company(ctx, cvr)
	if err != nil {
		m.logger.Warn("company lookup failed", logging.String("cvr", cvr), logging.Err(err))
		return companyResult{msg: failureMessage(m.tr, err, MsgCVRLookupFailed), err: err}
	}

	switch {
	case data.Error != "":
		return companyResult{msg: data.Error}
	case data.CVR == "" || data.Name == "":
		return companyResult{msg: m.tr.T(MsgCVRNotFound)}
	case data.Employees == nil && paid:
		return companyResult{msg: m.tr.T(MsgEmployeesMissing)}
	case data.Address == "":
		return companyResult{msg: m.tr.T(MsgCVRAddressMissing)}
	}

	company := CompanyInfo{
		CVR:           data.CVR,
		Name:          data.Name,
		Address:       data.Address,
		AddressObject: data.AddressObject,
		Employees:     data.Employees,
	}

	if !paid {
		return companyResult{company: &company, plan: basisPlan(m.cfg.BasisPlanUID)}
	}

	resp, err := m.lookup.PlansForEmployees(ctx, *company.Employees)
	if err != nil {
		m.logger.Warn("plan lookup failed", logging.Int("employees", *company.Employees), logging.Err(err))
		return companyResult{company: &company, msg: m.tr.T(MsgPlanNotFound), err: err}
	}

	uid := resp.SelectedUID()
	if resp.Plan == nil || uid == "" {
		m.logger.Warn("no plan for employee count", logging.Int("employees", *company.Employees))
		return companyResult{company: &company, msg: m.tr.T(MsgPlanNotFound)}
	}

	plan := *resp.Plan
	plan.PlanUID = uid
	return companyResult{company: &company, plan: &plan}
}

func (m *Machine) nextAfterCompany() Step {
	switch {
	case m.session.SubscriptionType == SubscriptionPaid:
		return StepPlanReview
	case m.session.PersonType == PersonOrganisation && m.session.SubscriptionType == SubscriptionFree:
		return StepContact
	default:
		return StepInvoicing
	}
}

func (m *Machine) forwardInvoicing() {
	m.clearError(m.cfg.FieldErrorBoxID(FieldInvoiceEmail))
	m.clearError(m.cfg.FieldErrorBoxID(FieldEAN))

	valid := true
	if msg, ok := forms.Check(m.value(FieldInvoiceEmail), forms.Email{Msg: MsgInvoiceEmail}); !ok {
		m.setFieldError(FieldInvoiceEmail, m.tr.T(msg))
		valid = false
	}
	if msg, ok := forms.Check(m.value(FieldEAN), forms.EAN{Msg: MsgEAN}); !ok {
		m.setFieldError(FieldEAN, m.tr.T(msg))
		valid = false
	}
	if !valid {
		return
	}
	m.nav.GoToStepWithHistory(StepContact)
}

// Back pops one history entry and shows it. Returning from contactSales to
// customerType keeps the earlier selections; any other return applies the
// destination's reset rule and clears the left step's error.
func (m *Machine) Back() bool {
	m.mu.Lock()
	defer m.unlock()

	if m.nav.IsProgrammatic() || m.busy() {
		return false
	}

	current := m.nav.Current()
	prev, ok := m.nav.PopHistory()
	if !ok {
		return false
	}

	if current != StepContactSales || prev != StepCustomerType {
		m.resetFromStep(prev)
		m.clearStepError(current)
	}
	m.nav.GoToStep(prev)
	return true
}

func (m *Machine) resetFromStep(step Step) {
	switch step {
	case StepCustomerType:
		m.resetSession(false)
		m.clearAllErrors()
	case StepBasisOrPro:
		m.resetSession(true)
		m.clearAllErrors()
	case StepCVR:
		m.session.Company = CompanyInfo{}
		m.clearStepError(StepCVR)
	default:
		m.clearStepError(step)
	}
}

func (m *Machine) resetSession(keepPersonType bool) {
	if !keepPersonType {
		m.session.PersonType = PersonNone
	}
	m.session.SubscriptionType = SubscriptionNone
	m.setPlan(nil)
	m.session.Company = CompanyInfo{}
}

var contactRules = []struct {
	field      Field
	validators []forms.Validator
}{
	{FieldFirstName, []forms.Validator{forms.Required{Msg: MsgFirstName}}},
	{FieldLastName, []forms.Validator{forms.Required{Msg: MsgLastName}}},
	{FieldEmail, []forms.Validator{forms.Required{Msg: MsgEmailRequired}, forms.Email{Msg: MsgEmailRequired}}},
}

// Confirm validates the contact slide, checks the email is not already
// registered and hands off to the checkout provider. It reports whether the
// hand-off happened.
func (m *Machine) Confirm(ctx context.Context) bool {
	m.mu.Lock()

	if current := m.nav.Current(); current != StepContact {
		m.logger.Warn("confirm outside contact step", logging.Step(string(current)))
		m.unlock()
		return false
	}

	for _, f := range ContactFields {
		m.clearError(m.cfg.FieldErrorBoxID(f))
	}

	hasError := false
	for _, rule := range contactRules {
		if msg, ok := forms.Check(m.value(rule.field), rule.validators...); !ok {
			m.setFieldError(rule.field, m.tr.T(msg))
			hasError = true
		}
	}
	email := m.value(FieldEmail)

	if !hasError {
		check := m.session.EmailCheck
		switch {
		case check.Email != email || check.Status == EmailIdle:
			m.session.EmailCheck = EmailCheckStatus{Email: email, Status: EmailPending}
			m.unlock()

			res := m.lookup.CheckEmail(ctx, email)

			m.mu.Lock()
			if m.applyEmailCheck(email, res) {
				hasError = true
			}
		case check.Status == EmailPending:
			m.setFieldError(FieldEmail, m.tr.T(MsgEmailPending))
			hasError = true
		case check.Status == EmailExists:
			m.setFieldError(FieldEmail, m.tr.T(MsgEmailExists))
			hasError = true
		case check.Status == EmailError:
			m.setFieldError(FieldEmail, m.tr.T(MsgEmailError))
			hasError = true
		}
	}

	if msg, ok := forms.Check(m.value(FieldPhone), forms.DanishPhone{Msg: MsgPhone}); !ok {
		m.setFieldError(FieldPhone, m.tr.T(msg))
		hasError = true
	}

	if hasError {
		m.unlock()
		return false
	}

	sink := m.cfg.Handoff
	if sink == nil {
		m.logger.Warn("checkout provider not available")
		m.setStepError(StepContact, m.tr.T(MsgCheckout))
		m.unlock()
		return false
	}

	planUID := m.session.PlanUID
	input := m.registrationInput()
	m.unlock()

	h := Handoff{
		PlanUID:  planUID,
		State:    m.cfg.CheckoutState,
		Defaults: buildRegistrationDefaults(input, m.cfg.BuildDefaults),
	}
	err := sink.OpenCheckout(ctx, h)

	m.mu.Lock()
	defer m.unlock()

	if err != nil {
		m.logger.Error("open checkout failed", logging.Err(err))
		m.setStepError(StepContact, m.tr.T(MsgCheckout))
		return false
	}
	m.handedOff = true
	m.logger.Info("handed off to checkout", logging.String("plan_uid", planUID))
	return true
}

// applyEmailCheck must be called with mu held. It reports whether the result
// blocks confirmation.
func (m *Machine) applyEmailCheck(email string, res *lookup.EmailCheck) bool {
	if m.session.EmailCheck.Email != email {
		return true
	}

	switch {
	case res.Exists:
		m.session.EmailCheck.Status = EmailExists
		m.setFieldError(FieldEmail, m.tr.T(MsgEmailExists))
		return true
	case res.Error != "":
		m.session.EmailCheck.Status = EmailError
		m.setFieldError(FieldEmail, m.tr.T(MsgEmailError))
		if res.Failure != nil {
			m.latchCritical(res.Failure)
		}
		return true
	default:
		m.session.EmailCheck.Status = EmailOK
		return false
	}
}

func (m *Machine) registrationInput() RegistrationInput {
	fields := make(map[Field]string, len(m.fields))
	for f := range m.fields {
		fields[f] = m.value(f)
	}
	return RegistrationInput{Session: m.session.Clone(), Fields: fields}
}

// Complete marks the signup as completed by the checkout provider and
// notifies completion listeners. It fires at most once and only after a
// hand-off.
func (m *Machine) Complete() bool {
	m.mu.Lock()
	defer m.unlock()

	if !m.handedOff {
		m.logger.Warn("completion reported before hand-off")
		return false
	}
	if m.completed {
		return false
	}
	m.completed = true

	session := m.session.Clone()
	c := Completion{
		PlanUID:    session.PlanUID,
		Plan:       session.Plan,
		PersonType: session.PersonType,
		At:         time.Now(),
	}
	for _, fn := range m.onComplete {
		m.deferred = append(m.deferred, func() { fn(c) })
	}
	return true
}

// Snapshot returns a consistent copy of the state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	step := m.nav.Current()
	index, _ := m.index.Position(step)
	history := m.nav.History()

	fields := make(map[Field]string, len(m.fields))
	for f, v := range m.fields {
		fields[f] = v
	}
	errs := make(map[string]string, len(m.errors))
	for id, msg := range m.errors {
		errs[id] = msg
	}

	return Snapshot{
		Step:         step,
		Index:        index,
		History:      history,
		Session:      m.session.Clone(),
		Fields:       fields,
		CustomerType: m.customerType,
		BasisOrPro:   m.basisOrPro,
		Errors:       errs,
		Loading:      m.cvrInFlight,
		CanForward:   m.canForward(step),
		CanBack:      len(history) > 0 && !m.busy(),
		Confirm:      m.confirmState(),
		Health:       m.health,
		HandedOff:    m.handedOff,
		Completed:    m.completed,
	}
}

func (m *Machine) canForward(step Step) bool {
	if m.busy() || step.IsTerminal() {
		return false
	}
	switch step {
	case StepCustomerType:
		return m.customerType != ""
	case StepBasisOrPro:
		return m.basisOrPro != ""
	default:
		return true
	}
}

func (m *Machine) confirmState() ConfirmState {
	email := m.value(FieldEmail)
	phone := m.value(FieldPhone)
	check := m.session.EmailCheck
	emailValid := forms.IsValidEmail(email)

	enabled := m.value(FieldFirstName) != "" && m.value(FieldLastName) != "" && emailValid
	if emailValid && check.Email == email {
		switch check.Status {
		case EmailExists, EmailError, EmailPending:
			enabled = false
		}
	}
	if phone != "" && !forms.IsValidDanishPhone(phone) {
		enabled = false
	}
	for _, f := range ContactFields {
		if m.errors[m.cfg.FieldErrorBoxID(f)] != "" {
			enabled = false
		}
	}

	pending := check.Status == EmailPending
	label := m.tr.T(LabelConfirm)
	if pending {
		label = m.tr.T(LabelValidating)
	}
	return ConfirmState{Enabled: enabled, Pending: pending, Label: label}
}

// busy reports whether a lookup is in flight.
func (m *Machine) busy() bool {
	return m.cvrInFlight || m.session.EmailCheck.Status == EmailPending
}

func (m *Machine) value(f Field) string {
	return strings.TrimSpace(m.fields[f])
}

func (m *Machine) setPlan(plan *lookup.Plan) {
	prev := m.session.PlanUID
	m.session.Plan = plan
	m.session.PlanUID = plan.UID()

	if uid := m.session.PlanUID; uid != prev && m.cfg.OnPlanChange != nil {
		notify := m.cfg.OnPlanChange
		m.deferred = append(m.deferred, func() { notify(uid) })
	}
}

func (m *Machine) latchCritical(err error) {
	if !lookup.IsCritical(err) || m.health.Critical {
		return
	}
	m.health = Health{Critical: true, Reason: err.Error(), Since: time.Now()}
	m.logger.Error("critical lookup failure, signup form is degraded", logging.Err(err))

	for _, fn := range m.onCritical {
		m.deferred = append(m.deferred, func() { fn(err) })
	}
}

func (m *Machine) setStepError(step Step, msg string) {
	if id := m.cfg.ErrorBoxID(step, ""); id != "" {
		m.errors[id] = msg
	}
}

func (m *Machine) clearStepError(step Step) {
	m.clearError(m.cfg.ErrorBoxID(step, ""))
}

func (m *Machine) setFieldError(f Field, msg string) {
	if id := m.cfg.FieldErrorBoxID(f); id != "" {
		m.errors[id] = msg
	}
}

func (m *Machine) clearError(id string) {
	delete(m.errors, id)
}

func (m *Machine) clearAllErrors() {
	m.errors = make(map[string]string)
}
