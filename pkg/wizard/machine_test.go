package wizard

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Anvisninger/signup-flow/pkg/lookup"
)

type fakeLookup struct {
	mu sync.Mutex

	company    *lookup.Company
	companyErr error
	plans      *lookup.PlanResponse
	plansErr   error
	taken      map[string]bool
	emailErr   *lookup.Failure

	companyCalls  int
	planCalls     int
	emailCalls    int
	lastCVR       string
	lastEmployees int
}

func (f *fakeLookup) Company(ctx context.Context, cvr string) (*lookup.Company, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.companyCalls++
	f.lastCVR = cvr
	if f.companyErr != nil {
		return nil, f.companyErr
	}
	if f.company == nil {
		return &lookup.Company{}, nil
	}
	c := *f.company
	return &c, nil
}

func (f *fakeLookup) PlansForEmployees(ctx context.Context, employees int) (*lookup.PlanResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planCalls++
	f.lastEmployees = employees
	if f.plansErr != nil {
		return nil, f.plansErr
	}
	if f.plans == nil {
		return &lookup.PlanResponse{}, nil
	}
	return f.plans, nil
}

func (f *fakeLookup) CheckEmail(ctx context.Context, email string) *lookup.EmailCheck {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emailCalls++
	if f.emailErr != nil {
		return &lookup.EmailCheck{Email: email, Error: f.emailErr.Error(), Failure: f.emailErr}
	}
	return &lookup.EmailCheck{Email: email, Exists: f.taken[email]}
}

func (f *fakeLookup) calls() (company, plans, email int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.companyCalls, f.planCalls, f.emailCalls
}

type recordingSink struct {
	mu       sync.Mutex
	handoffs []Handoff
	err      error
}

func (s *recordingSink) OpenCheckout(ctx context.Context, h Handoff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.handoffs = append(s.handoffs, h)
	return nil
}

func intPtr(n int) *int { return &n }

func testCompany(employees *int) *lookup.Company {
	return &lookup.Company{
		CVR:     "12345678",
		Name:    "Testfirma ApS",
		Address: "Testvej 1, 2100 København Ø",
		AddressObject: &lookup.Address{
			AddressLine1: "Testvej 1",
			City:         "København Ø",
			PostalCode:   "2100",
			Country:      "Denmark",
		},
		Employees: employees,
	}
}

func testPlans() *lookup.PlanResponse {
	return &lookup.PlanResponse{
		Plan: &lookup.Plan{PlanUID: "pro-50", Name: "Pro 50", AnnualRate: 12000, MaximumPeople: intPtr(50)},
	}
}

func newTestMachine(lk Lookup, sink HandoffSink) *Machine {
	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	cfg.Handoff = sink
	return New(cfg, lk)
}

func toCVR(t *testing.T, m *Machine, choice string) {
	t.Helper()
	ctx := context.Background()
	m.CustomerTypeChanged(CustomerBusiness)
	m.Forward(ctx)
	m.BasisOrProChanged(choice)
	if got := m.Forward(ctx); got != StepCVR {
		t.Fatalf("expected cvr step, got %s", got)
	}
}

func TestPrivateGoesStraightToContact(t *testing.T) {
	lk := &fakeLookup{}
	m := newTestMachine(lk, nil)

	m.CustomerTypeChanged(CustomerPrivate)
	if got := m.Forward(context.Background()); got != StepContact {
		t.Fatalf("expected contact, got %s", got)
	}

	s := m.Session()
	if s.PersonType != PersonPrivate || s.SubscriptionType != SubscriptionFree {
		t.Errorf("expected private/free, got %s/%s", s.PersonType, s.SubscriptionType)
	}
	if s.PlanUID != DefaultBasisPlanUID {
		t.Errorf("expected basis plan uid, got %q", s.PlanUID)
	}
	if c, p, e := lk.calls(); c+p+e != 0 {
		t.Errorf("expected no lookups, got %d/%d/%d", c, p, e)
	}
}

func TestForwardWithoutSelectionIsNoop(t *testing.T) {
	m := newTestMachine(&fakeLookup{}, nil)
	if got := m.Forward(context.Background()); got != StepCustomerType {
		t.Errorf("expected customerType, got %s", got)
	}
	if len(m.History()) != 0 {
		t.Error("expected empty history")
	}
}

func TestPublicGoesToContactSales(t *testing.T) {
	m := newTestMachine(&fakeLookup{}, nil)

	m.CustomerTypeChanged(CustomerPublic)
	if got := m.Forward(context.Background()); got != StepContactSales {
		t.Fatalf("expected contactSales, got %s", got)
	}
	if got := m.Session().PersonType; got != PersonPublic {
		t.Errorf("expected public, got %s", got)
	}

	if !m.Back() {
		t.Fatal("expected back to succeed")
	}
	if m.Current() != StepCustomerType {
		t.Errorf("expected customerType, got %s", m.Current())
	}
	if got := m.Session().PersonType; got != PersonPublic {
		t.Errorf("expected person type kept on return from contactSales, got %s", got)
	}
}

func TestPaidCompanyResolvesPlan(t *testing.T) {
	lk := &fakeLookup{company: testCompany(intPtr(50)), plans: testPlans()}
	var planChanges []string
	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	cfg.OnPlanChange = func(uid string) { planChanges = append(planChanges, uid) }
	m := New(cfg, lk)
	ctx := context.Background()

	toCVR(t, m, ChoicePro)
	m.SetField(FieldCVR, "1234 5678")

	if got := m.Forward(ctx); got != StepCompany {
		t.Fatalf("expected company, got %s (errors %v)", got, m.Snapshot().Errors)
	}
	if lk.lastCVR != "12345678" {
		t.Errorf("expected stripped cvr, got %q", lk.lastCVR)
	}
	if lk.lastEmployees != 50 {
		t.Errorf("expected plan lookup for 50 employees, got %d", lk.lastEmployees)
	}

	s := m.Session()
	if s.PlanUID != "pro-50" || s.Plan == nil || s.Plan.PlanUID != s.PlanUID {
		t.Errorf("expected planUid to match plan, got %q / %+v", s.PlanUID, s.Plan)
	}
	if s.Company.Name != "Testfirma ApS" {
		t.Errorf("expected company committed, got %+v", s.Company)
	}
	if len(planChanges) != 1 || planChanges[0] != "pro-50" {
		t.Errorf("expected one plan change to pro-50, got %v", planChanges)
	}

	if got := m.Forward(ctx); got != StepPlanReview {
		t.Fatalf("expected planReview, got %s", got)
	}
	if got := m.Forward(ctx); got != StepInvoicing {
		t.Fatalf("expected invoicing, got %s", got)
	}
	if got := m.Forward(ctx); got != StepContact {
		t.Fatalf("expected contact, got %s", got)
	}

	want := []Step{StepCustomerType, StepBasisOrPro, StepCVR, StepCompany, StepPlanReview, StepInvoicing}
	history := m.History()
	if len(history) != len(want) {
		t.Fatalf("expected history %v, got %v", want, history)
	}
	for i := range want {
		if history[i] != want[i] {
			t.Errorf("history[%d]: expected %s, got %s", i, want[i], history[i])
		}
	}
}

func TestPlanUIDFallback(t *testing.T) {
	lk := &fakeLookup{
		company: testCompany(intPtr(10)),
		plans: &lookup.PlanResponse{
			Plan:    &lookup.Plan{Name: "Pro 10", AnnualRate: 5000},
			PlanUID: "top-level",
		},
	}
	m := newTestMachine(lk, nil)
	toCVR(t, m, ChoicePro)
	m.SetField(FieldCVR, "12345678")
	m.Forward(context.Background())

	s := m.Session()
	if s.PlanUID != "top-level" || s.Plan.PlanUID != "top-level" {
		t.Errorf("expected top-level uid on session and plan, got %q / %q", s.PlanUID, s.Plan.PlanUID)
	}
}

func TestPaidWithoutEmployeesStays(t *testing.T) {
	lk := &fakeLookup{company: testCompany(nil), plans: testPlans()}
	m := newTestMachine(lk, nil)
	toCVR(t, m, ChoicePro)
	m.SetField(FieldCVR, "12345678")

	if got := m.Forward(context.Background()); got != StepCVR {
		t.Fatalf("expected to stay on cvr, got %s", got)
	}
	snap := m.Snapshot()
	if got := snap.Errors["errorbox-cvr"]; got != danish[MsgEmployeesMissing] {
		t.Errorf("expected employees message, got %q", got)
	}
	if _, plans, _ := lk.calls(); plans != 0 {
		t.Errorf("expected no plan lookup, got %d", plans)
	}
	if snap.Session.Company.Name != "" {
		t.Error("expected company not committed")
	}
}

func TestFreeOrganisationSkipsPlanLookup(t *testing.T) {
	lk := &fakeLookup{company: testCompany(nil)}
	m := newTestMachine(lk, nil)
	ctx := context.Background()
	toCVR(t, m, ChoiceBasis)
	m.SetField(FieldCVR, "12345678")

	if got := m.Forward(ctx); got != StepCompany {
		t.Fatalf("expected company, got %s", got)
	}
	if got := m.Session().PlanUID; got != DefaultBasisPlanUID {
		t.Errorf("expected basis plan, got %q", got)
	}
	if got := m.Forward(ctx); got != StepContact {
		t.Errorf("expected free organisation to go to contact, got %s", got)
	}
	if _, plans, _ := lk.calls(); plans != 0 {
		t.Errorf("expected no plan lookup, got %d", plans)
	}
}

func TestInvalidCVRFormat(t *testing.T) {
	lk := &fakeLookup{company: testCompany(intPtr(5))}
	m := newTestMachine(lk, nil)
	toCVR(t, m, ChoiceBasis)

	for _, in := range []string{"", "1234567", "123456789", "1234567a"} {
		m.SetField(FieldCVR, in)
		if got := m.Forward(context.Background()); got != StepCVR {
			t.Errorf("%q: expected to stay on cvr, got %s", in, got)
		}
		if got := m.Snapshot().Errors["errorbox-cvr"]; got != danish[MsgCVRFormat] {
			t.Errorf("%q: expected format message, got %q", in, got)
		}
	}
	if c, _, _ := lk.calls(); c != 0 {
		t.Errorf("expected no company lookups, got %d", c)
	}

	m.SetField(FieldCVR, "1")
	if got := m.Snapshot().Errors["errorbox-cvr"]; got != "" {
		t.Errorf("expected editing to clear the error, got %q", got)
	}
}

func TestCompanyResponseErrors(t *testing.T) {
	tests := []struct {
		name    string
		company *lookup.Company
		want    string
	}{
		{"body error", &lookup.Company{Error: "Company not found."}, "Company not found."},
		{"no name", &lookup.Company{CVR: "12345678", Address: "x"}, danish[MsgCVRNotFound]},
		{"no cvr", &lookup.Company{Name: "x", Address: "x", Employees: intPtr(3)}, danish[MsgCVRNotFound]},
		{"no address", &lookup.Company{CVR: "12345678", Name: "x", Employees: intPtr(3)}, danish[MsgCVRAddressMissing]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMachine(&fakeLookup{company: tt.company}, nil)
			toCVR(t, m, ChoiceBasis)
			m.SetField(FieldCVR, "12345678")
			m.Forward(context.Background())

			if got := m.Snapshot().Errors["errorbox-cvr"]; got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
			if m.Current() != StepCVR {
				t.Errorf("expected cvr, got %s", m.Current())
			}
		})
	}
}

func TestCriticalFailureLatches(t *testing.T) {
	lk := &fakeLookup{companyErr: &lookup.Failure{Kind: lookup.KindServer, Status: 502, Critical: true}}
	m := newTestMachine(lk, nil)
	var critical int
	m.OnCritical(func(err error) { critical++ })

	toCVR(t, m, ChoiceBasis)
	m.SetField(FieldCVR, "12345678")
	m.Forward(context.Background())
	m.Forward(context.Background())

	if got := m.Snapshot().Errors["errorbox-cvr"]; got != danish[MsgServerError] {
		t.Errorf("expected server message, got %q", got)
	}
	if !m.Health().Critical {
		t.Error("expected critical health")
	}
	if critical != 1 {
		t.Errorf("expected one critical notification, got %d", critical)
	}
}

func TestUpstreamMessageShown(t *testing.T) {
	lk := &fakeLookup{companyErr: &lookup.Failure{Kind: lookup.KindUpstream, Status: 400, Message: "Invalid CVR. Must be 8 digits."}}
	m := newTestMachine(lk, nil)
	toCVR(t, m, ChoiceBasis)
	m.SetField(FieldCVR, "12345678")
	m.Forward(context.Background())

	if got := m.Snapshot().Errors["errorbox-cvr"]; got != "Invalid CVR. Must be 8 digits." {
		t.Errorf("expected upstream message, got %q", got)
	}
	if m.Health().Critical {
		t.Error("expected non-critical failure not to latch")
	}
}

func TestPlanLookupFailureCommitsCompany(t *testing.T) {
	lk := &fakeLookup{company: testCompany(intPtr(500)), plans: &lookup.PlanResponse{Plans: []lookup.Plan{}}}
	m := newTestMachine(lk, nil)
	toCVR(t, m, ChoicePro)
	m.SetField(FieldCVR, "12345678")

	if got := m.Forward(context.Background()); got != StepCVR {
		t.Fatalf("expected to stay on cvr, got %s", got)
	}
	snap := m.Snapshot()
	if got := snap.Errors["errorbox-cvr"]; got != danish[MsgPlanNotFound] {
		t.Errorf("expected plan message, got %q", got)
	}
	if snap.Session.Company.Name == "" {
		t.Error("expected company to be committed")
	}
	if snap.Session.PlanUID != "" {
		t.Errorf("expected no plan, got %q", snap.Session.PlanUID)
	}
}

func TestMissingCVRInputIsTechnicalError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	cfg.Fields.CVR = ""
	lk := &fakeLookup{}
	m := New(cfg, lk)
	toCVR(t, m, ChoiceBasis)

	m.Forward(context.Background())
	if got := m.Snapshot().Errors["errorbox-cvr"]; got != danish[MsgTechnicalError] {
		t.Errorf("expected technical error, got %q", got)
	}
	if c, _, _ := lk.calls(); c != 0 {
		t.Errorf("expected no lookup, got %d", c)
	}
}

// blockingLookup holds company lookups until release is closed.
type blockingLookup struct {
	*fakeLookup
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingLookup) Company(ctx context.Context, cvr string) (*lookup.Company, error) {
	b.once.Do(func() { close(b.started) })
	<-b.release
	return b.fakeLookup.Company(ctx, cvr)
}

func TestCVRLookupInFlightIgnoresInput(t *testing.T) {
	lk := &blockingLookup{
		fakeLookup: &fakeLookup{company: testCompany(intPtr(50)), plans: testPlans()},
		started:    make(chan struct{}),
		release:    make(chan struct{}),
	}
	m := newTestMachine(lk, nil)
	ctx := context.Background()
	toCVR(t, m, ChoicePro)
	m.SetField(FieldCVR, "12345678")

	done := make(chan Step)
	go func() { done <- m.Forward(ctx) }()
	<-lk.started

	if !m.Snapshot().Loading {
		t.Error("expected loading while the lookup is in flight")
	}
	if got := m.Forward(ctx); got != StepCVR {
		t.Errorf("expected second forward to stay on cvr, got %s", got)
	}
	if m.Back() {
		t.Error("expected back to be ignored while loading")
	}
	m.CustomerTypeChanged(CustomerPrivate)
	m.BasisOrProChanged(ChoiceBasis)
	if got := m.Session().PersonType; got != PersonOrganisation {
		t.Errorf("expected radio changes ignored, got person type %s", got)
	}

	close(lk.release)
	if got := <-done; got != StepCompany {
		t.Errorf("expected company, got %s", got)
	}
	if c, _, _ := lk.calls(); c != 1 {
		t.Errorf("expected exactly one company lookup, got %d", c)
	}
	if m.Snapshot().Loading {
		t.Error("expected loading cleared")
	}
	if got := m.Session().SubscriptionType; got != SubscriptionPaid {
		t.Errorf("expected paid subscription kept, got %s", got)
	}
}

func TestBackPopsOneEntry(t *testing.T) {
	m := newTestMachine(&fakeLookup{}, nil)
	ctx := context.Background()

	if m.Back() {
		t.Error("expected back with empty history to be a no-op")
	}

	m.CustomerTypeChanged(CustomerBusiness)
	m.Forward(ctx)
	m.BasisOrProChanged(ChoicePro)
	m.Forward(ctx)

	if !m.Back() {
		t.Fatal("expected back to succeed")
	}
	if m.Current() != StepBasisOrPro {
		t.Errorf("expected basisOrPro, got %s", m.Current())
	}
	if got := len(m.History()); got != 1 {
		t.Errorf("expected 1 history entry, got %d", got)
	}

	s := m.Session()
	if s.PersonType != PersonOrganisation {
		t.Errorf("expected person type kept, got %s", s.PersonType)
	}
	if s.SubscriptionType != SubscriptionNone {
		t.Errorf("expected subscription reset, got %s", s.SubscriptionType)
	}

	m.Back()
	if got := m.Session().PersonType; got != PersonNone {
		t.Errorf("expected full reset at customerType, got %s", got)
	}
}

func TestBackToCVRClearsCompany(t *testing.T) {
	lk := &fakeLookup{company: testCompany(intPtr(50)), plans: testPlans()}
	m := newTestMachine(lk, nil)
	toCVR(t, m, ChoicePro)
	m.SetField(FieldCVR, "12345678")
	m.Forward(context.Background())

	m.Back()
	s := m.Session()
	if s.Company.Name != "" {
		t.Errorf("expected company cleared, got %+v", s.Company)
	}
	if s.PlanUID != "pro-50" {
		t.Errorf("expected plan kept, got %q", s.PlanUID)
	}
}

func TestCustomerTypeChangeResets(t *testing.T) {
	lk := &fakeLookup{company: testCompany(intPtr(50)), plans: testPlans()}
	m := newTestMachine(lk, nil)
	toCVR(t, m, ChoicePro)
	m.SetField(FieldCVR, "12345678")
	m.Forward(context.Background())

	m.CustomerTypeChanged(CustomerPrivate)

	s := m.Session()
	if s.Company.Name != "" || s.Plan != nil || s.PlanUID != "" {
		t.Errorf("expected company and plan cleared, got %+v", s)
	}
	if s.PersonType != PersonNone || s.SubscriptionType != SubscriptionNone {
		t.Errorf("expected types cleared, got %s/%s", s.PersonType, s.SubscriptionType)
	}
	if got := m.History(); len(got) != 0 {
		t.Errorf("expected history cleared, got %v", got)
	}
	if m.Current() != StepCustomerType {
		t.Errorf("expected customerType, got %s", m.Current())
	}
	if m.Back() {
		t.Error("expected back after a customer type change to be a no-op")
	}
	if got := m.Forward(context.Background()); got != StepContact {
		t.Errorf("expected private to go to contact, got %s", got)
	}
}

func TestBasisOrProChangeRewinds(t *testing.T) {
	lk := &fakeLookup{company: testCompany(intPtr(50)), plans: testPlans()}
	m := newTestMachine(lk, nil)
	ctx := context.Background()
	toCVR(t, m, ChoicePro)
	m.SetField(FieldCVR, "12345678")
	if got := m.Forward(ctx); got != StepCompany {
		t.Fatalf("expected company, got %s", got)
	}

	m.BasisOrProChanged(ChoiceBasis)

	if m.Current() != StepBasisOrPro {
		t.Errorf("expected basisOrPro, got %s", m.Current())
	}
	history := m.History()
	if len(history) != 1 || history[0] != StepCustomerType {
		t.Errorf("expected history [customerType], got %v", history)
	}
	s := m.Session()
	if s.PersonType != PersonOrganisation || s.Company.Name != "" || s.PlanUID != "" {
		t.Errorf("expected person type kept and the rest cleared, got %+v", s)
	}
	if got := m.Forward(ctx); got != StepCVR {
		t.Errorf("expected cvr, got %s", got)
	}
	if got := m.Session().SubscriptionType; got != SubscriptionFree {
		t.Errorf("expected basis to select free, got %s", got)
	}
}

func TestInvoicingValidation(t *testing.T) {
	lk := &fakeLookup{company: testCompany(intPtr(50)), plans: testPlans()}
	m := newTestMachine(lk, nil)
	ctx := context.Background()
	toCVR(t, m, ChoicePro)
	m.SetField(FieldCVR, "12345678")
	m.Forward(ctx)
	m.Forward(ctx)
	if got := m.Forward(ctx); got != StepInvoicing {
		t.Fatalf("expected invoicing, got %s", got)
	}

	m.SetField(FieldInvoiceEmail, "not-an-email")
	m.SetField(FieldEAN, "123")
	if got := m.Forward(ctx); got != StepInvoicing {
		t.Fatalf("expected to stay on invoicing, got %s", got)
	}
	errs := m.Snapshot().Errors
	if errs["errorbox-invoicing-faktureringsmail"] != danish[MsgInvoiceEmail] {
		t.Errorf("expected invoice email error, got %v", errs)
	}
	if errs["errorbox-invoicing-ean"] != danish[MsgEAN] {
		t.Errorf("expected EAN error, got %v", errs)
	}

	m.SetField(FieldInvoiceEmail, "")
	m.SetField(FieldEAN, "5790000000000")
	if got := m.Forward(ctx); got != StepContact {
		t.Errorf("expected contact, got %s", got)
	}
}

func toContact(t *testing.T, m *Machine) {
	t.Helper()
	m.CustomerTypeChanged(CustomerPrivate)
	if got := m.Forward(context.Background()); got != StepContact {
		t.Fatalf("expected contact, got %s", got)
	}
}

func fillContact(m *Machine, email string) {
	m.SetField(FieldFirstName, "Karen")
	m.SetField(FieldLastName, "Jensen")
	m.SetField(FieldEmail, email)
	m.SetField(FieldPhone, "12 34 56 78")
}

func TestConfirmRequiresFields(t *testing.T) {
	lk := &fakeLookup{}
	m := newTestMachine(lk, &recordingSink{})
	toContact(t, m)

	if m.Confirm(context.Background()) {
		t.Fatal("expected confirm to fail")
	}
	errs := m.Snapshot().Errors
	if errs["errorbox-contact-first-name"] != danish[MsgFirstName] {
		t.Errorf("expected first name error, got %v", errs)
	}
	if errs["errorbox-contact-last-name"] != danish[MsgLastName] {
		t.Errorf("expected last name error, got %v", errs)
	}
	if errs["errorbox-contact-email"] != danish[MsgEmailRequired] {
		t.Errorf("expected email error, got %v", errs)
	}
	if _, _, e := lk.calls(); e != 0 {
		t.Errorf("expected no email check, got %d", e)
	}
}

func TestConfirmRejectsBlankAndMalformed(t *testing.T) {
	lk := &fakeLookup{}
	m := newTestMachine(lk, &recordingSink{})
	toContact(t, m)
	m.SetField(FieldFirstName, "   ")
	m.SetField(FieldLastName, "Jensen")
	m.SetField(FieldEmail, "karen@example")

	if m.Confirm(context.Background()) {
		t.Fatal("expected confirm to fail")
	}
	errs := m.Snapshot().Errors
	if errs["errorbox-contact-first-name"] != danish[MsgFirstName] {
		t.Errorf("expected whitespace first name rejected, got %v", errs)
	}
	if errs["errorbox-contact-last-name"] != "" {
		t.Errorf("expected last name accepted, got %q", errs["errorbox-contact-last-name"])
	}
	if errs["errorbox-contact-email"] != danish[MsgEmailRequired] {
		t.Errorf("expected malformed email rejected, got %v", errs)
	}
}

func TestConfirmHandsOff(t *testing.T) {
	lk := &fakeLookup{}
	sink := &recordingSink{}
	m := newTestMachine(lk, sink)
	toContact(t, m)
	fillContact(m, "karen@example.dk")

	if !m.Confirm(context.Background()) {
		t.Fatalf("expected hand-off, errors %v", m.Snapshot().Errors)
	}
	if len(sink.handoffs) != 1 {
		t.Fatalf("expected one hand-off, got %d", len(sink.handoffs))
	}

	h := sink.handoffs[0]
	if h.PlanUID != DefaultBasisPlanUID || h.State != "checkout" {
		t.Errorf("unexpected hand-off %+v", h)
	}
	if h.Defaults.Person["Email"] != "karen@example.dk" {
		t.Errorf("expected email in defaults, got %v", h.Defaults.Person)
	}
	if h.Defaults.Person["PhoneMobile"] != "+4512345678" {
		t.Errorf("expected formatted phone, got %v", h.Defaults.Person["PhoneMobile"])
	}
	if got := m.Session().EmailCheck.Status; got != EmailOK {
		t.Errorf("expected ok email status, got %s", got)
	}
}

func TestEmailCheckMemoized(t *testing.T) {
	lk := &fakeLookup{taken: map[string]bool{"taken@example.dk": true}}
	sink := &recordingSink{}
	m := newTestMachine(lk, sink)
	ctx := context.Background()
	toContact(t, m)
	fillContact(m, "taken@example.dk")

	m.Confirm(ctx)
	m.Confirm(ctx)

	if _, _, e := lk.calls(); e != 1 {
		t.Errorf("expected one email check, got %d", e)
	}
	if got := m.Snapshot().Errors["errorbox-contact-email"]; got != danish[MsgEmailExists] {
		t.Errorf("expected exists message, got %q", got)
	}
	if m.Snapshot().Confirm.Enabled {
		t.Error("expected confirm disabled for a taken email")
	}

	m.SetField(FieldEmail, "free@example.dk")
	if got := m.Session().EmailCheck.Status; got != EmailIdle {
		t.Errorf("expected edit to reset the check, got %s", got)
	}
	if !m.Confirm(ctx) {
		t.Errorf("expected hand-off after fixing the email, errors %v", m.Snapshot().Errors)
	}
	if _, _, e := lk.calls(); e != 2 {
		t.Errorf("expected a second email check, got %d", e)
	}
}

func TestEmailCheckErrorBlocks(t *testing.T) {
	lk := &fakeLookup{emailErr: &lookup.Failure{Kind: lookup.KindTimeout, Critical: true}}
	m := newTestMachine(lk, &recordingSink{})
	toContact(t, m)
	fillContact(m, "karen@example.dk")

	if m.Confirm(context.Background()) {
		t.Fatal("expected confirm to fail")
	}
	if got := m.Session().EmailCheck.Status; got != EmailError {
		t.Errorf("expected error status, got %s", got)
	}
	if got := m.Snapshot().Errors["errorbox-contact-email"]; got != danish[MsgEmailError] {
		t.Errorf("expected email error message, got %q", got)
	}
	if !m.Health().Critical {
		t.Error("expected timeout to latch critical")
	}
}

func TestConfirmWithoutCheckout(t *testing.T) {
	m := newTestMachine(&fakeLookup{}, nil)
	toContact(t, m)
	fillContact(m, "karen@example.dk")

	if m.Confirm(context.Background()) {
		t.Fatal("expected confirm to fail without checkout")
	}
	if got := m.Snapshot().Errors["errorbox-contact"]; got != danish[MsgCheckout] {
		t.Errorf("expected checkout message, got %q", got)
	}
}

func TestConfirmCheckoutError(t *testing.T) {
	sink := &recordingSink{err: errors.New("closed")}
	m := newTestMachine(&fakeLookup{}, sink)
	toContact(t, m)
	fillContact(m, "karen@example.dk")

	if m.Confirm(context.Background()) {
		t.Fatal("expected confirm to fail")
	}
	if got := m.Snapshot().Errors["errorbox-contact"]; got != danish[MsgCheckout] {
		t.Errorf("expected checkout message, got %q", got)
	}
}

func TestLivePhoneValidation(t *testing.T) {
	m := newTestMachine(&fakeLookup{}, nil)
	toContact(t, m)

	m.SetField(FieldPhone, "123")
	if got := m.Snapshot().Errors["errorbox-contact-phone-number"]; got != danish[MsgPhone] {
		t.Errorf("expected phone error, got %q", got)
	}
	m.SetField(FieldPhone, "+45 12 34 56 78")
	if got := m.Snapshot().Errors["errorbox-contact-phone-number"]; got != "" {
		t.Errorf("expected phone error cleared, got %q", got)
	}
}

func TestConfirmState(t *testing.T) {
	m := newTestMachine(&fakeLookup{}, nil)
	toContact(t, m)

	state := m.Snapshot().Confirm
	if state.Enabled {
		t.Error("expected confirm disabled with empty fields")
	}
	if state.Label != "Bekræft" {
		t.Errorf("expected default label, got %q", state.Label)
	}

	fillContact(m, "karen@example.dk")
	if !m.Snapshot().Confirm.Enabled {
		t.Error("expected confirm enabled with valid fields")
	}
}

func TestCompleteOnce(t *testing.T) {
	m := newTestMachine(&fakeLookup{}, &recordingSink{})
	var done []Completion
	m.OnComplete(func(c Completion) { done = append(done, c) })

	if m.Complete() {
		t.Error("expected completion before hand-off to be rejected")
	}

	toContact(t, m)
	fillContact(m, "karen@example.dk")
	m.Confirm(context.Background())

	if !m.Complete() {
		t.Fatal("expected completion")
	}
	if m.Complete() {
		t.Error("expected second completion to be ignored")
	}
	if len(done) != 1 {
		t.Fatalf("expected one completion, got %d", len(done))
	}
	if done[0].PlanUID != DefaultBasisPlanUID || done[0].PersonType != PersonPrivate {
		t.Errorf("unexpected completion %+v", done[0])
	}
}

func TestStartsOnFirstRenderedStep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SettleDelay = 0
	cfg.Steps = []Step{StepCVR, StepContact}
	m := New(cfg, &fakeLookup{})

	if m.Current() != StepCVR {
		t.Errorf("expected cvr, got %s", m.Current())
	}
}
