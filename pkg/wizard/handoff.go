package wizard

import (
	"context"
	"time"

	"github.com/Anvisninger/signup-flow/pkg/forms"
	"github.com/Anvisninger/signup-flow/pkg/lookup"
)

// RegistrationDefaults pre-fills the checkout provider's signup form.
type RegistrationDefaults struct {
	Person       map[string]any `json:"Person" msgpack:"Person"`
	Account      map[string]any `json:"Account" msgpack:"Account"`
	Subscription map[string]any `json:"Subscription,omitempty" msgpack:"Subscription,omitempty"`
}

// RegistrationInput is what a RegistrationBuilder sees.
type RegistrationInput struct {
	Session Session
	Fields  map[Field]string
}

// RegistrationBuilder customizes registration defaults. Its Person and
// Account entries override the built-in ones key by key; a non-nil
// Subscription is passed through.
type RegistrationBuilder func(in RegistrationInput) RegistrationDefaults

// Handoff is what the checkout provider is opened with.
type Handoff struct {
	PlanUID  string               `json:"planUid" msgpack:"planUid"`
	State    string               `json:"state" msgpack:"state"`
	Defaults RegistrationDefaults `json:"registrationDefaults" msgpack:"registrationDefaults"`
}

// HandoffSink opens the external checkout surface.
type HandoffSink interface {
	OpenCheckout(ctx context.Context, h Handoff) error
}

// HandoffFunc adapts a function to HandoffSink.
type HandoffFunc func(ctx context.Context, h Handoff) error

func (f HandoffFunc) OpenCheckout(ctx context.Context, h Handoff) error { return f(ctx, h) }

// Completion is reported once the checkout provider confirms the signup.
type Completion struct {
	PlanUID    string       `json:"planUid"`
	Plan       *lookup.Plan `json:"plan,omitempty"`
	PersonType PersonType   `json:"personType"`
	At         time.Time    `json:"at"`
}

func buildRegistrationDefaults(in RegistrationInput, builder RegistrationBuilder) RegistrationDefaults {
	person := map[string]any{
		"Email":     in.Fields[FieldEmail],
		"FirstName": in.Fields[FieldFirstName],
		"LastName":  in.Fields[FieldLastName],
	}
	if phone := in.Fields[FieldPhone]; phone != "" {
		person["PhoneMobile"] = forms.FormatDanishPhone(phone)
	}

	account := map[string]any{}
	company := in.Session.Company
	if company.Name != "" {
		account["Name"] = company.Name
	}
	if company.CVR != "" {
		account["CVR_VAT"] = company.CVR
	}
	if company.AddressObject != nil {
		account["BillingAddress"] = *company.AddressObject
	}
	if company.Employees != nil {
		account["AntalAnsatte"] = *company.Employees
	}
	if ean := in.Fields[FieldEAN]; ean != "" {
		account["Ean"] = ean
	}
	if invoiceEmail := in.Fields[FieldInvoiceEmail]; invoiceEmail != "" {
		account["Faktureringsmail"] = invoiceEmail
	}

	defaults := RegistrationDefaults{Person: person, Account: account}
	if builder == nil {
		return defaults
	}

	custom := builder(in)
	for k, v := range custom.Person {
		defaults.Person[k] = v
	}
	for k, v := range custom.Account {
		defaults.Account[k] = v
	}
	if custom.Subscription != nil {
		defaults.Subscription = custom.Subscription
	}
	return defaults
}
