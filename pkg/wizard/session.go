package wizard

import (
	"github.com/Anvisninger/signup-flow/pkg/lookup"
)

// PersonType is the customer category chosen on the first slide.
type PersonType string

const (
	PersonNone         PersonType = ""
	PersonPrivate      PersonType = "private"
	PersonOrganisation PersonType = "organisation"
	PersonPublic       PersonType = "public"
	PersonEducation    PersonType = "education"
)

// SubscriptionType is free (basis) or paid (pro).
type SubscriptionType string

const (
	SubscriptionNone SubscriptionType = ""
	SubscriptionFree SubscriptionType = "free"
	SubscriptionPaid SubscriptionType = "paid"
)

// Radio values as posted by the page.
const (
	CustomerPrivate   = "Privat"
	CustomerBusiness  = "Erhverv"
	CustomerPublic    = "Offentlig"
	CustomerEducation = "Uddannelse"

	ChoiceBasis = "Basis"
	ChoicePro   = "Pro"
)

// EmailStatus is the state of the duplicate-email check.
type EmailStatus string

const (
	EmailIdle    EmailStatus = "idle"
	EmailPending EmailStatus = "pending"
	EmailOK      EmailStatus = "ok"
	EmailExists  EmailStatus = "exists"
	EmailError   EmailStatus = "error"
)

// EmailCheckStatus ties a check result to the exact email it was run for.
type EmailCheckStatus struct {
	Email  string      `json:"email"`
	Status EmailStatus `json:"status"`
}

// CompanyInfo is the company data committed from a successful CVR lookup.
type CompanyInfo struct {
	CVR           string          `json:"cvr,omitempty"`
	Name          string          `json:"name,omitempty"`
	Address       string          `json:"address,omitempty"`
	AddressObject *lookup.Address `json:"addressObject,omitempty"`
	Employees     *int            `json:"employees,omitempty"`
}

func (c CompanyInfo) clone() CompanyInfo {
	out := c
	if c.AddressObject != nil {
		addr := *c.AddressObject
		out.AddressObject = &addr
	}
	if c.Employees != nil {
		n := *c.Employees
		out.Employees = &n
	}
	return out
}

// Session is the signup state owned by one wizard.
type Session struct {
	PersonType       PersonType       `json:"personType"`
	SubscriptionType SubscriptionType `json:"subscriptionType"`
	PlanUID          string           `json:"planUid,omitempty"`
	Plan             *lookup.Plan     `json:"plan,omitempty"`
	Company          CompanyInfo      `json:"company"`
	EmailCheck       EmailCheckStatus `json:"emailCheck"`
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	out := s
	out.Company = s.Company.clone()
	if s.Plan != nil {
		plan := *s.Plan
		if s.Plan.MaximumPeople != nil {
			n := *s.Plan.MaximumPeople
			plan.MaximumPeople = &n
		}
		out.Plan = &plan
	}
	return out
}

func newSession() Session {
	return Session{EmailCheck: EmailCheckStatus{Status: EmailIdle}}
}

// basisPlan is the free tier, synthesized locally.
func basisPlan(uid string) *lookup.Plan {
	return &lookup.Plan{
		PlanUID:    uid,
		Name:       ChoiceBasis,
		AnnualRate: 0,
	}
}
