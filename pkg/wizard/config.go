package wizard

import (
	"context"
	"time"

	"github.com/Anvisninger/signup-flow/pkg/i18n"
	"github.com/Anvisninger/signup-flow/pkg/logging"
	"github.com/Anvisninger/signup-flow/pkg/lookup"
)

// DefaultBasisPlanUID is the checkout provider's uid of the free tier.
const DefaultBasisPlanUID = "BWzE5N9E"

// Field is a form input the wizard reads.
type Field string

const (
	FieldCVR          Field = "cvr"
	FieldInvoiceEmail Field = "invoiceEmail"
	FieldEAN          Field = "ean"
	FieldFirstName    Field = "firstName"
	FieldLastName     Field = "lastName"
	FieldEmail        Field = "email"
	FieldPhone        Field = "phone"
)

// ContactFields are the inputs on the final slide.
var ContactFields = []Field{FieldFirstName, FieldLastName, FieldEmail, FieldPhone}

// Step returns the slide the field lives on.
func (f Field) Step() Step {
	switch f {
	case FieldCVR:
		return StepCVR
	case FieldInvoiceEmail, FieldEAN:
		return StepInvoicing
	default:
		return StepContact
	}
}

// FieldIDs are the page's element ids for each field.
type FieldIDs struct {
	CVR          string
	InvoiceEmail string
	EAN          string
	FirstName    string
	LastName     string
	Email        string
	Phone        string
}

// DefaultFieldIDs matches the published signup page.
func DefaultFieldIDs() FieldIDs {
	return FieldIDs{
		CVR:          "CVR-input",
		InvoiceEmail: "Faktureringsmail",
		EAN:          "EAN",
		FirstName:    "first-name",
		LastName:     "last-name",
		Email:        "email",
		Phone:        "phone-number",
	}
}

// ID returns the element id of f, or "" when the page has none.
func (ids FieldIDs) ID(f Field) string {
	switch f {
	case FieldCVR:
		return ids.CVR
	case FieldInvoiceEmail:
		return ids.InvoiceEmail
	case FieldEAN:
		return ids.EAN
	case FieldFirstName:
		return ids.FirstName
	case FieldLastName:
		return ids.LastName
	case FieldEmail:
		return ids.Email
	case FieldPhone:
		return ids.Phone
	default:
		return ""
	}
}

// Lookup resolves element id to field.
func (ids FieldIDs) Lookup(id string) (Field, bool) {
	if id == "" {
		return "", false
	}
	for _, f := range []Field{FieldCVR, FieldInvoiceEmail, FieldEAN, FieldFirstName, FieldLastName, FieldEmail, FieldPhone} {
		if ids.ID(f) == id {
			return f, true
		}
	}
	return "", false
}

// OutputIDs are the element ids the company and plan summary render into.
type OutputIDs struct {
	CVR          string
	Name         string
	Address      string
	Employees    string
	PlanName     string
	PricePerYear string
}

// DefaultOutputIDs matches the published signup page.
func DefaultOutputIDs() OutputIDs {
	return OutputIDs{
		CVR:          "CVR",
		Name:         "companyName",
		Address:      "companyAddress",
		Employees:    "companyEmployees",
		PlanName:     "planName",
		PricePerYear: "pricePerYear",
	}
}

// Config configures a Machine.
type Config struct {
	// Steps are the rendered slides in display order. Defaults to StepOrder.
	Steps []Step

	SliderID        string
	OverlayID       string
	HandOffButtonID string

	Fields  FieldIDs
	Outputs OutputIDs

	// ErrorBoxIDs overrides the derived errorbox-<step>[-<field>] ids per step.
	ErrorBoxIDs map[Step]string

	BasisPlanUID string

	// CheckoutState is passed to the checkout provider when it opens.
	CheckoutState string

	// SettleDelay is how long the programmatic navigation guard stays up.
	SettleDelay time.Duration

	Locale     string
	Translator *i18n.Translator

	View          View
	Handoff       HandoffSink
	BuildDefaults RegistrationBuilder

	// OnPlanChange is called with the new plan uid whenever it changes.
	OnPlanChange func(planUID string)

	Logger logging.Logger
}

// DefaultConfig returns the configuration of the published signup page.
func DefaultConfig() Config {
	return Config{
		Steps:           append([]Step(nil), StepOrder...),
		SliderID:        "slider-signup",
		OverlayID:       "cvr-loading-overlay",
		HandOffButtonID: "hand-off-outseta",
		Fields:          DefaultFieldIDs(),
		Outputs:         DefaultOutputIDs(),
		BasisPlanUID:    DefaultBasisPlanUID,
		CheckoutState:   "checkout",
		SettleDelay:     DefaultSettleDelay,
		Locale:          "da",
	}
}

func (c *Config) withDefaults() {
	def := DefaultConfig()
	if len(c.Steps) == 0 {
		c.Steps = def.Steps
	}
	if c.Fields == (FieldIDs{}) {
		c.Fields = def.Fields
	}
	if c.Outputs == (OutputIDs{}) {
		c.Outputs = def.Outputs
	}
	if c.SliderID == "" {
		c.SliderID = def.SliderID
	}
	if c.OverlayID == "" {
		c.OverlayID = def.OverlayID
	}
	if c.HandOffButtonID == "" {
		c.HandOffButtonID = def.HandOffButtonID
	}
	if c.BasisPlanUID == "" {
		c.BasisPlanUID = def.BasisPlanUID
	}
	if c.CheckoutState == "" {
		c.CheckoutState = def.CheckoutState
	}
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.Locale == "" {
		c.Locale = def.Locale
	}
	if c.Translator == nil {
		c.Translator = NewTranslator(c.Locale)
	}
	c.Logger = logging.OrNop(c.Logger)
}

// Lookup is the remote lookup gateway the wizard calls.
type Lookup interface {
	Company(ctx context.Context, cvr string) (*lookup.Company, error)
	PlansForEmployees(ctx context.Context, employees int) (*lookup.PlanResponse, error)
	CheckEmail(ctx context.Context, email string) *lookup.EmailCheck
}
