package plans

import (
	"sort"

	"github.com/Anvisninger/signup-flow/pkg/lookup"
)

// outsetaPlan is a plan as the billing API returns it.
type outsetaPlan struct {
	UID           string   `json:"Uid"`
	Name          string   `json:"Name"`
	AnnualRate    float64  `json:"AnnualRate"`
	MaximumPeople *float64 `json:"MaximumPeople"`
	IsActive      *bool    `json:"IsActive"`
}

type planFamily struct {
	Name  string         `json:"Name"`
	Plans []*outsetaPlan `json:"Plans"`
}

type planFamilies struct {
	Items []*planFamily `json:"items"`
}

func (pf *planFamilies) find(name string) *planFamily {
	for _, f := range pf.Items {
		if f != nil && f.Name == name {
			return f
		}
	}
	return nil
}

func (pf *planFamilies) names() []string {
	out := make([]string, 0, len(pf.Items))
	for _, f := range pf.Items {
		if f != nil && f.Name != "" {
			out = append(out, f.Name)
		}
	}
	return out
}

// Normalize keeps the active plans that carry a uid and a name, sorted by
// maximum people with unbounded plans last.
func normalize(family *planFamily) []lookup.Plan {
	plans := make([]lookup.Plan, 0, len(family.Plans))
	for _, p := range family.Plans {
		if p == nil || (p.IsActive != nil && !*p.IsActive) {
			continue
		}
		if p.UID == "" || p.Name == "" {
			continue
		}

		plan := lookup.Plan{PlanUID: p.UID, Name: p.Name, AnnualRate: p.AnnualRate}
		if p.MaximumPeople != nil {
			max := int(*p.MaximumPeople)
			plan.MaximumPeople = &max
		}
		plans = append(plans, plan)
	}

	SortPlans(plans)
	return plans
}

// SortPlans orders plans by maximum people ascending, unbounded plans last.
// The sort is stable.
func SortPlans(plans []lookup.Plan) {
	sort.SliceStable(plans, func(i, j int) bool {
		a, b := plans[i].MaximumPeople, plans[j].MaximumPeople
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
}

// SelectPlan returns the first plan of sorted plans whose maximum fits
// employees. Without one it falls back to the unbounded plan, then the last
// plan, and nil for an empty list.
func SelectPlan(plans []lookup.Plan, employees float64) *lookup.Plan {
	for i := range plans {
		if max := plans[i].MaximumPeople; max != nil && employees <= float64(*max) {
			return &plans[i]
		}
	}
	for i := range plans {
		if plans[i].MaximumPeople == nil {
			return &plans[i]
		}
	}
	if len(plans) == 0 {
		return nil
	}
	return &plans[len(plans)-1]
}
