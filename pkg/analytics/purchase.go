// Package analytics turns completed signups into GA4 purchase events.
package analytics

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Anvisninger/signup-flow/pkg/lookup"
)

// Defaults.
const (
	DefaultAffiliation  = "Anvisninger.dk"
	DefaultItemCategory = "Abonnement"
	Currency            = "DKK"

	MissingPlanUID  = "PLAN_UID_IKKE_FUNDET"
	MissingPlanName = "PLAN_NAVN_IKKE_FUNDET"

	transactionPrefix = "ANV"
)

// Item is one purchased line.
type Item struct {
	ItemID       string `json:"item_id"`
	ItemName     string `json:"item_name"`
	Affiliation  string `json:"affiliation"`
	ItemCategory string `json:"item_category"`
	ItemBrand    string `json:"item_brand"`
	Price        int    `json:"price"`
	Quantity     int    `json:"quantity"`
}

// Ecommerce is the GA4 ecommerce block of a purchase.
type Ecommerce struct {
	TransactionID string `json:"transaction_id"`
	Affiliation   string `json:"affiliation"`
	Value         int    `json:"value"`
	Currency      string `json:"currency"`
	Items         []Item `json:"items"`
}

// Event is a purchase in dataLayer shape.
type Event struct {
	Event     string    `json:"event"`
	Ecommerce Ecommerce `json:"ecommerce"`
}

// Options tune the purchase event.
type Options struct {
	Affiliation  string
	ItemCategory string
}

func (o Options) withDefaults() Options {
	if o.Affiliation == "" {
		o.Affiliation = DefaultAffiliation
	}
	if o.ItemCategory == "" {
		o.ItemCategory = DefaultItemCategory
	}
	return o
}

// NewTransactionID returns ANV-YYYYMMDD-xxxxxxxx for the local date of now.
func NewTransactionID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return transactionPrefix + "-" + now.Format("20060102") + "-" + suffix
}

// Purchase builds the purchase event for plan. Plans without a positive
// annual rate are not purchases and report false.
func Purchase(plan *lookup.Plan, opts Options, now time.Time) (Event, bool) {
	if plan == nil || plan.AnnualRate <= 0 {
		return Event{}, false
	}
	opts = opts.withDefaults()

	id := plan.PlanUID
	if id == "" {
		id = MissingPlanUID
	}
	name := plan.Name
	if name == "" {
		name = MissingPlanName
	}
	price := int(math.Round(plan.AnnualRate))

	return Event{
		Event: "purchase",
		Ecommerce: Ecommerce{
			TransactionID: NewTransactionID(now),
			Affiliation:   opts.Affiliation,
			Value:         price,
			Currency:      Currency,
			Items: []Item{{
				ItemID:       id,
				ItemName:     name,
				Affiliation:  opts.Affiliation,
				ItemCategory: opts.ItemCategory,
				ItemBrand:    opts.Affiliation,
				Price:        price,
				Quantity:     1,
			}},
		},
	}, true
}
