package wizard

import (
	"html/template"
	"io"
	"strconv"

	"github.com/Anvisninger/signup-flow/pkg/forms"
	"github.com/Anvisninger/signup-flow/pkg/lookup"
)

// PlanDisplay returns the plan name and yearly price as shown on the plan
// review slide. The basis plan is always free.
func PlanDisplay(plan *lookup.Plan, basisUID string) (name, price string) {
	if plan == nil {
		return forms.Placeholder, forms.Placeholder
	}
	name = plan.Name
	if name == "" {
		name = forms.Placeholder
	}
	if plan.UID() == basisUID {
		return name, "0"
	}
	return name, forms.FormatCurrency(plan.AnnualRate)
}

func orPlaceholder(s string) string {
	if s == "" {
		return forms.Placeholder
	}
	return s
}

type inputView struct {
	ID       string
	Label    string
	Type     string
	Value    string
	ErrorBox string
	Error    string
	Disabled bool
}

type outputView struct {
	ID    string
	Value string
}

type stepView struct {
	Name     Step
	Index    int
	Active   bool
	ErrorBox string
	Error    string
	Inputs   []inputView
	Outputs  []outputView
}

type pageView struct {
	SliderID        string
	OverlayID       string
	HandOffButtonID string
	Snap            Snapshot
	Steps           []stepView
}

var stepLabels = map[Field]string{
	FieldCVR:          "CVR",
	FieldInvoiceEmail: "Faktureringsmail",
	FieldEAN:          "EAN",
	FieldFirstName:    "Fornavn",
	FieldLastName:     "Efternavn",
	FieldEmail:        "E-mail",
	FieldPhone:        "Telefon",
}

var inputTypes = map[Field]string{
	FieldInvoiceEmail: "email",
	FieldEmail:        "email",
	FieldPhone:        "tel",
}

func (m *Machine) pageView(snap Snapshot) pageView {
	cfg := &m.cfg
	pending := snap.Session.EmailCheck.Status == EmailPending

	input := func(f Field) inputView {
		box := cfg.FieldErrorBoxID(f)
		typ := inputTypes[f]
		if typ == "" {
			typ = "text"
		}
		return inputView{
			ID:       cfg.Fields.ID(f),
			Label:    stepLabels[f],
			Type:     typ,
			Value:    snap.Fields[f],
			ErrorBox: box,
			Error:    snap.Errors[box],
			Disabled: f.Step() == StepContact && pending,
		}
	}

	company := snap.Session.Company
	employees := forms.Placeholder
	if company.Employees != nil {
		employees = strconv.Itoa(*company.Employees)
	}
	planName, price := PlanDisplay(snap.Session.Plan, cfg.BasisPlanUID)

	steps := m.index.Steps()
	views := make([]stepView, 0, len(steps))
	for i, step := range steps {
		v := stepView{Name: step, Index: i, Active: step == snap.Step}
		switch step {
		case StepCVR:
			v.Inputs = []inputView{input(FieldCVR)}
		case StepCompany:
			v.Outputs = []outputView{
				{ID: cfg.Outputs.CVR, Value: orPlaceholder(company.CVR)},
				{ID: cfg.Outputs.Name, Value: orPlaceholder(company.Name)},
				{ID: cfg.Outputs.Address, Value: orPlaceholder(company.Address)},
				{ID: cfg.Outputs.Employees, Value: employees},
			}
		case StepPlanReview:
			v.Outputs = []outputView{
				{ID: cfg.Outputs.PlanName, Value: planName},
				{ID: cfg.Outputs.PricePerYear, Value: price},
			}
		case StepInvoicing:
			v.Inputs = []inputView{input(FieldInvoiceEmail), input(FieldEAN)}
		case StepContact:
			for _, f := range ContactFields {
				v.Inputs = append(v.Inputs, input(f))
			}
		}
		v.ErrorBox = cfg.ErrorBoxID(step, "")
		v.Error = snap.Errors[v.ErrorBox]
		// a field sharing the step's box renders it once, after the inputs
		for j := range v.Inputs {
			if v.Inputs[j].ErrorBox == v.ErrorBox {
				v.Inputs[j].ErrorBox = ""
			}
		}
		views = append(views, v)
	}

	return pageView{
		SliderID:        cfg.SliderID,
		OverlayID:       cfg.OverlayID,
		HandOffButtonID: cfg.HandOffButtonID,
		Snap:            snap,
		Steps:           views,
	}
}

// Render writes the wizard markup for the current state.
func (m *Machine) Render(w io.Writer) error {
	return pageTemplate.Execute(w, m.pageView(m.Snapshot()))
}

var pageTemplate = template.Must(template.New("wizard").Funcs(template.FuncMap{
	"list": func(values ...string) []string { return values },
}).Parse(`
<div id="{{.SliderID}}" class="signup-slider" data-current-step="{{.Snap.Step}}" data-index="{{.Snap.Index}}"{{if .Snap.Health.Critical}} data-degraded{{end}}>
  <div id="{{.OverlayID}}" class="loading-overlay"{{if not .Snap.Loading}} hidden{{end}}></div>
{{- range .Steps}}
  <section class="signup-slide" data-step="{{.Name}}" data-index="{{.Index}}"{{if not .Active}} hidden{{end}}>
  {{- if eq .Name "customerType"}}
    {{template "customerType" $.Snap}}
  {{- else if eq .Name "basisOrPro"}}
    {{template "basisOrPro" $.Snap}}
  {{- end}}
  {{- range .Outputs}}
    <div id="{{.ID}}" data-output>{{.Value}}</div>
  {{- end}}
  {{- range .Inputs}}
    <label for="{{.ID}}">{{.Label}}</label>
    <input id="{{.ID}}" name="{{.ID}}" type="{{.Type}}" value="{{.Value}}" data-field="{{.ID}}"{{if .Disabled}} disabled{{end}}>
    {{- if .ErrorBox}}
    <div id="{{.ErrorBox}}" class="errorbox"{{if not .Error}} hidden{{end}}>{{.Error}}</div>
    {{- end}}
  {{- end}}
    <div id="{{.ErrorBox}}" class="errorbox"{{if not .Error}} hidden{{end}}>{{.Error}}</div>
  {{- if eq .Name "contact"}}
    <button type="button" data-event="back"{{if $.Snap.Confirm.Pending}} disabled{{end}}>&larr;</button>
    <button type="button" id="{{$.HandOffButtonID}}" data-event="confirm"{{if not $.Snap.Confirm.Enabled}} disabled{{end}}>{{$.Snap.Confirm.Label}}</button>
  {{- else if ne .Name "contactSales"}}
    {{- if gt .Index 0}}
    <button type="button" data-event="back"{{if not $.Snap.CanBack}} disabled{{end}}>&larr;</button>
    {{- end}}
    <button type="button" data-event="forward"{{if not $.Snap.CanForward}} disabled{{end}}>&rarr;</button>
  {{- else}}
    <button type="button" data-event="back"{{if not $.Snap.CanBack}} disabled{{end}}>&larr;</button>
  {{- end}}
  </section>
{{- end}}
</div>

{{define "customerType"}}
    {{- range $v := (list "Privat" "Erhverv" "Offentlig" "Uddannelse")}}
    <label><input type="radio" name="customerType" value="{{$v}}" data-event="customer_type"{{if eq $v $.CustomerType}} checked{{end}}> {{$v}}</label>
    {{- end}}
{{- end}}

{{define "basisOrPro"}}
    {{- range $v := (list "Basis" "Pro")}}
    <label><input type="radio" name="basisOrPro" value="{{$v}}" data-event="basis_or_pro"{{if eq $v $.BasisOrPro}} checked{{end}}> {{$v}}</label>
    {{- end}}
{{- end}}
`))
