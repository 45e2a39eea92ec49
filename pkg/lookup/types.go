// Package lookup is the client side of the company, plan and email-check
// proxies. The response types double as the proxies' wire contract.
package lookup

// Address is a structured billing address in the shape the checkout provider expects.
type Address struct {
	AddressLine1 string `json:"AddressLine1"`
	AddressLine2 string `json:"AddressLine2"`
	City         string `json:"City"`
	State        string `json:"State"`
	PostalCode   string `json:"PostalCode"`
	Country      string `json:"Country"`
}

// Company is the company lookup response.
type Company struct {
	CVR             string         `json:"cvr,omitempty"`
	Name            string         `json:"name,omitempty"`
	Address         string         `json:"address,omitempty"`
	AddressObject   *Address       `json:"addressObject"`
	Employees       *int           `json:"employees"`
	EmployeesSource string         `json:"employeesSource,omitempty"`
	EmployeesPeriod string         `json:"employeesPeriod,omitempty"`
	IsSoleTrade     bool           `json:"isSoleTrade"`
	Debug           map[string]any `json:"debug,omitempty"`

	// Error is set when the proxy answered with an error body.
	Error string `json:"error,omitempty"`
}

// Plan is a priced subscription tier.
type Plan struct {
	PlanUID       string  `json:"planUid"`
	Name          string  `json:"name"`
	AnnualRate    float64 `json:"annualRate"`
	MaximumPeople *int    `json:"maximumPeople"`

	// LegacyUID carries plans serialized with the checkout provider's field name.
	LegacyUID string `json:"Uid,omitempty"`
}

// UID returns the plan identifier regardless of which field carried it.
func (p *Plan) UID() string {
	if p == nil {
		return ""
	}
	if p.PlanUID != "" {
		return p.PlanUID
	}
	return p.LegacyUID
}

// PlanResponse is the plan lookup response.
type PlanResponse struct {
	PlanFamilyName string   `json:"planFamilyName,omitempty"`
	Plans          []Plan   `json:"plans"`
	Plan           *Plan    `json:"plan,omitempty"`
	Employees      *float64 `json:"employees,omitempty"`
	PlanUID        string   `json:"planUid,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// SelectedUID returns the selected plan's identifier, falling back to the
// top-level planUid.
func (r *PlanResponse) SelectedUID() string {
	if r == nil {
		return ""
	}
	if uid := r.Plan.UID(); uid != "" {
		return uid
	}
	return r.PlanUID
}

// EmailCheck is the email existence response.
type EmailCheck struct {
	Email   string `json:"email"`
	Exists  bool   `json:"exists"`
	Message string `json:"message,omitempty"`

	// Error marks a degraded check: the lookup failed and Exists defaulted to false.
	Error string `json:"error,omitempty"`

	// Failure is the classified lookup failure behind Error, if any.
	Failure *Failure `json:"-"`
}
