package wizard

import (
	"github.com/Anvisninger/signup-flow/pkg/i18n"
	"github.com/Anvisninger/signup-flow/pkg/lookup"
)

// Message keys.
const (
	MsgTechnicalError    = "technical_error"
	MsgCVRFormat         = "cvr.format"
	MsgCVRNotFound       = "cvr.not_found"
	MsgCVRAddressMissing = "cvr.address_missing"
	MsgEmployeesMissing  = "cvr.employees_missing"
	MsgCVRLookupFailed   = "cvr.lookup_failed"
	MsgPlanNotFound      = "plan.not_found"
	MsgInvoiceEmail      = "invoicing.email_invalid"
	MsgEAN               = "invoicing.ean_invalid"
	MsgFirstName         = "contact.first_name_required"
	MsgLastName          = "contact.last_name_required"
	MsgEmailRequired     = "contact.email_required"
	MsgEmailExists       = "contact.email_exists"
	MsgEmailError        = "contact.email_error"
	MsgEmailPending      = "contact.email_pending"
	MsgPhone             = "contact.phone_invalid"
	MsgCheckout          = "checkout.unavailable"
	MsgAccessDenied      = "lookup.access_denied"
	MsgLookupNotFound    = "lookup.not_found"
	MsgServerError       = "lookup.server"
	MsgTimeout           = "lookup.timeout"
	MsgSystemError       = "lookup.status"
	LabelConfirm         = "button.confirm"
	LabelValidating      = "button.validating"
)

var danish = i18n.Catalog{
	MsgTechnicalError:    "Der opstod en teknisk fejl. Opdater siden og prøv igen.",
	MsgCVRFormat:         "CVR skal være 8 cifre.",
	MsgCVRNotFound:       "CVR blev ikke fundet. Tjek at CVR'et er korrekt.",
	MsgCVRAddressMissing: "Virksomhedsadresse kunne ikke findes. Kontakt venligst vores salgsteam.",
	MsgEmployeesMissing:  "Vi kunne ikke finde medarbejdertallet for denne virksomhed. Kontakt venligst vores salgsteam.",
	MsgCVRLookupFailed:   "Vi kunne ikke hente virksomhedsoplysninger. Tjek CVR'et og prøv igen.",
	MsgPlanNotFound:      "Vi kunne ikke finde et abonnement til virksomhedens antal medarbejdere. Kontakt venligst vores salgsteam.",
	MsgInvoiceEmail:      "Faktureringse-mailadresse er ugyldig.",
	MsgEAN:               "EAN skal være 13 cifre.",
	MsgFirstName:         "Fornavn er påkrævet.",
	MsgLastName:          "Efternavn er påkrævet.",
	MsgEmailRequired:     "En gyldig e-mailadresse er påkrævet.",
	MsgEmailExists:       "Denne e-mailadresse er allerede registreret. Brug venligst en anden e-mailadresse.",
	MsgEmailError:        "E-mailadressen kunne ikke valideres. Prøv igen.",
	MsgEmailPending:      "E-mailadressen valideres. Vent et øjeblik.",
	MsgPhone:             "Telefonnummeret skal være 8 cifre (dansk) eller inkludere landekode.",
	MsgCheckout:          "Betalingssystemet er ikke tilgængeligt. Prøv igen senere.",
	MsgAccessDenied:      "Systemet er ikke tilgængeligt fra dit lokation. Kontakt venligst support.",
	MsgLookupNotFound:    "Systemet svarede ikke korrekt. Prøv igen senere.",
	MsgServerError:       "Serveren har problemer. Prøv igen senere.",
	MsgTimeout:           "Anmodningen tok for lang tid. Prøv igen.",
	MsgSystemError:       "Systemfejl (%1)",
	LabelConfirm:         "Bekræft",
	LabelValidating:      "Validerer e-mail...",
}

var english = i18n.Catalog{
	MsgTechnicalError:    "A technical error occurred. Refresh the page and try again.",
	MsgCVRFormat:         "CVR must be 8 digits.",
	MsgCVRNotFound:       "CVR was not found. Check that the CVR is correct.",
	MsgCVRAddressMissing: "Company address could not be found. Please contact our sales team.",
	MsgEmployeesMissing:  "We could not find the employee count for this company. Please contact our sales team.",
	MsgCVRLookupFailed:   "We could not fetch company details. Check the CVR and try again.",
	MsgPlanNotFound:      "No plan found for the company's employee count. Please contact our sales team.",
	MsgInvoiceEmail:      "Invoice email address is invalid.",
	MsgEAN:               "EAN must be 13 digits.",
	MsgFirstName:         "First name is required.",
	MsgLastName:          "Last name is required.",
	MsgEmailRequired:     "A valid email address is required.",
	MsgEmailExists:       "This email address is already registered. Please use another email address.",
	MsgEmailError:        "The email address could not be validated. Try again.",
	MsgEmailPending:      "The email address is being validated. Please wait.",
	MsgPhone:             "The phone number must be 8 digits (Danish) or include a country code.",
	MsgCheckout:          "The payment system is unavailable. Try again later.",
	MsgAccessDenied:      "The system is not available from your location. Please contact support.",
	MsgLookupNotFound:    "The system did not respond correctly. Try again later.",
	MsgServerError:       "The server is having problems. Try again later.",
	MsgTimeout:           "The request took too long. Try again.",
	MsgSystemError:       "System error (%1)",
	LabelConfirm:         "Confirm",
	LabelValidating:      "Validating email...",
}

// NewTranslator returns a translator loaded with the wizard's messages,
// falling back to Danish.
func NewTranslator(locale string) *i18n.Translator {
	tr := i18n.NewTranslator(locale)
	tr.SetFallback("da")
	tr.Load("da", danish)
	tr.Load("en", english)
	return tr
}

// failureMessage renders a classified lookup failure. fallback is used for
// network failures and upstream errors without a message.
func failureMessage(tr *i18n.Translator, err error, fallback string) string {
	f, ok := lookup.AsFailure(err)
	if !ok {
		return tr.T(fallback)
	}
	switch f.Kind {
	case lookup.KindAccessDenied:
		return tr.T(MsgAccessDenied)
	case lookup.KindNotFound:
		return tr.T(MsgLookupNotFound)
	case lookup.KindServer:
		return tr.T(MsgServerError)
	case lookup.KindTimeout:
		return tr.T(MsgTimeout)
	case lookup.KindUpstream:
		if f.Message != "" {
			return f.Message
		}
		return tr.T(MsgSystemError, f.Status)
	default:
		return tr.T(fallback)
	}
}
