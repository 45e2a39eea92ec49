package cvr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Anvisninger/signup-flow/pkg/lookup"
)

// text decodes a JSON string, number or null into a string. cvr.dev sends
// house numbers and postcodes as numbers on some records and strings on
// others.
type text string

func (t *text) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*t = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*t = text(s)
	default:
		var n json.Number
		if err := json.Unmarshal(b, &n); err != nil {
			return err
		}
		*t = text(n.String())
	}
	return nil
}

type name struct {
	Navn string `json:"navn"`
}

type companyForm struct {
	KortBeskrivelse string `json:"kortBeskrivelse"`
}

type address struct {
	Vejnavn      text `json:"vejnavn"`
	HusnummerFra text `json:"husnummerFra"`
	Husnummer    text `json:"husnummer"`
	BogstavFra   text `json:"bogstavFra"`
	Etage        text `json:"etage"`
	Sidedoer     text `json:"sidedoer"`
	Postnummer   text `json:"postnummer"`
	Postdistrikt text `json:"postdistrikt"`
	AdresseTekst text `json:"adresseTekst"`
}

type employment struct {
	Aar          int  `json:"aar"`
	Maaned       int  `json:"maaned"`
	Kvartal      int  `json:"kvartal"`
	AntalAnsatte *int `json:"antalAnsatte"`
	IntervalKode text `json:"intervalKodeAntalAnsatte"`
}

type metadata struct {
	NyesteNavn                  *name        `json:"nyesteNavn"`
	NyesteVirksomhedsform       *companyForm `json:"nyesteVirksomhedsform"`
	NyesteBeliggenhedsadresse   *address     `json:"nyesteBeliggenhedsadresse"`
	NyestePostadresse           *address     `json:"nyestePostadresse"`
	NyesteMaanedsbeskaeftigelse *employment  `json:"nyesteMaanedsbeskaeftigelse"`
}

// record is one virksomhed entry from cvr.dev.
type record struct {
	Metadata            metadata      `json:"virksomhedMetadata"`
	Navne               []name        `json:"navne"`
	Virksomhedsform     []companyForm `json:"virksomhedsform"`
	Beliggenhedsadresse []address     `json:"beliggenhedsadresse"`
	Postadresse         []address     `json:"postadresse"`

	Maanedsbeskaeftigelse  []employment `json:"maanedsbeskaeftigelse"`
	Kvartalsbeskaeftigelse []employment `json:"kvartalsbeskaeftigelse"`
	Aarsbeskaeftigelse     []employment `json:"aarsbeskaeftigelse"`
}

// headcount is one entry of the aggregated ansatte endpoint.
type headcount struct {
	Dato                  string `json:"dato"`
	Ansatte               *int   `json:"ansatte"`
	Interval              text   `json:"ansatte_interval"`
	Rapporteringsinterval text   `json:"rapporteringsinterval"`
}

type headcountList struct {
	Ansatte []headcount `json:"ansatte"`
}

// parseHeadcounts accepts both the bare object and the one-element array
// the endpoint returns depending on API version.
func parseHeadcounts(body []byte) ([]headcount, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '[' {
		var list []headcountList
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			return nil, nil
		}
		return list[0].Ansatte, nil
	}

	var obj headcountList
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, err
	}
	return obj.Ansatte, nil
}

// soleTradeForms are Enkeltmandsvirksomhed and Personligt ejet mindre virksomhed.
var soleTradeForms = map[string]bool{"ENK": true, "PMV": true}

func (r *record) name() string {
	if n := r.Metadata.NyesteNavn; n != nil && n.Navn != "" {
		return n.Navn
	}
	if len(r.Navne) > 0 {
		return r.Navne[0].Navn
	}
	return ""
}

func (r *record) companyForm() string {
	if f := r.Metadata.NyesteVirksomhedsform; f != nil && f.KortBeskrivelse != "" {
		return f.KortBeskrivelse
	}
	if len(r.Virksomhedsform) > 0 {
		return r.Virksomhedsform[0].KortBeskrivelse
	}
	return ""
}

func (r *record) isSoleTrade() bool {
	return soleTradeForms[strings.ToUpper(r.companyForm())]
}

// address prefers the newest business address, then the registered
// business address, then the postal addresses.
func (r *record) address() *address {
	switch {
	case r.Metadata.NyesteBeliggenhedsadresse != nil:
		return r.Metadata.NyesteBeliggenhedsadresse
	case len(r.Beliggenhedsadresse) > 0:
		return &r.Beliggenhedsadresse[0]
	case r.Metadata.NyestePostadresse != nil:
		return r.Metadata.NyestePostadresse
	case len(r.Postadresse) > 0:
		return &r.Postadresse[0]
	}
	return nil
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func (a *address) street() string {
	number := string(a.HusnummerFra)
	if number == "" {
		number = string(a.Husnummer)
	}
	return joinNonEmpty(" ", string(a.Vejnavn), number, string(a.BogstavFra))
}

func (a *address) floorDoor() string {
	floor := ""
	if a.Etage != "" {
		floor = string(a.Etage) + "."
	}
	return joinNonEmpty(" ", floor, string(a.Sidedoer))
}

// formatAddress renders a single-line Danish address, preferring the
// registry's own address text.
func formatAddress(a *address) string {
	if a == nil {
		return ""
	}
	if a.AdresseTekst != "" {
		return string(a.AdresseTekst)
	}
	zipCity := joinNonEmpty(" ", string(a.Postnummer), string(a.Postdistrikt))
	return joinNonEmpty(", ", a.street(), a.floorDoor(), zipCity)
}

// billingAddress maps a to the checkout provider's address shape.
func billingAddress(a *address) *lookup.Address {
	if a == nil {
		return nil
	}
	line1 := joinNonEmpty(", ", a.street(), a.floorDoor())
	if line1 == "" {
		line1 = string(a.AdresseTekst)
	}
	return &lookup.Address{
		AddressLine1: line1,
		City:         string(a.Postdistrikt),
		PostalCode:   string(a.Postnummer),
		Country:      "Denmark",
	}
}

// latest returns the highest-scoring record, the first one on ties.
func latest[T any](records []T, keep func(T) bool, score func(T) int) *T {
	var best *T
	bestScore := 0
	for i := range records {
		if !keep(records[i]) {
			continue
		}
		if s := score(records[i]); best == nil || s > bestScore {
			best, bestScore = &records[i], s
		}
	}
	return best
}

func hasCount(e employment) bool { return e.AntalAnsatte != nil }

// Employee count sources, most trusted first.
const (
	SourceAnsatte   = "ansatte"
	SourceMonthly   = "monthly"
	SourceQuarterly = "quarterly"
	SourceAnnual    = "annual"
	SourceSoleTrade = "soleTrade"
	SourceNone      = "none"
)

// provenance is the chosen employee count and the records considered.
type provenance struct {
	Employees *int
	Source    string
	Period    string

	Headcount *headcount
	Monthly   *employment
	Quarterly *employment
	Annual    *employment
}

// employees picks the employee count: the aggregated headcount endpoint
// first, then the newest monthly, quarterly and annual employment figures,
// and finally one employee for sole traders without any records.
func employees(r *record, counts []headcount) provenance {
	p := provenance{Source: SourceNone}

	p.Headcount = latestHeadcount(counts)
	p.Monthly = latest(r.Maanedsbeskaeftigelse, hasCount, func(e employment) int { return e.Aar*100 + e.Maaned })
	p.Quarterly = latest(r.Kvartalsbeskaeftigelse, hasCount, func(e employment) int { return e.Aar*10 + e.Kvartal })
	p.Annual = latest(r.Aarsbeskaeftigelse, hasCount, func(e employment) int { return e.Aar })

	switch {
	case p.Headcount != nil:
		p.Employees, p.Source, p.Period = p.Headcount.Ansatte, SourceAnsatte, p.Headcount.Dato
	case p.Monthly != nil:
		p.Employees, p.Source = p.Monthly.AntalAnsatte, SourceMonthly
		p.Period = fmt.Sprintf("%d-%02d", p.Monthly.Aar, p.Monthly.Maaned)
	case p.Quarterly != nil:
		p.Employees, p.Source = p.Quarterly.AntalAnsatte, SourceQuarterly
		p.Period = fmt.Sprintf("%d-Q%d", p.Quarterly.Aar, p.Quarterly.Kvartal)
	case p.Annual != nil:
		p.Employees, p.Source = p.Annual.AntalAnsatte, SourceAnnual
		p.Period = strconv.Itoa(p.Annual.Aar)
	}

	if p.Employees == nil && r.isSoleTrade() {
		one := 1
		p.Employees, p.Source = &one, SourceSoleTrade
	}
	return p
}

// latestHeadcount compares dates with the dashes removed, so records
// without a date sort first.
func latestHeadcount(counts []headcount) *headcount {
	var best *headcount
	bestKey := ""
	for i := range counts {
		if counts[i].Ansatte == nil {
			continue
		}
		key := strings.ReplaceAll(counts[i].Dato, "-", "")
		if key == "" {
			key = "0"
		}
		if best == nil || key > bestKey {
			best, bestKey = &counts[i], key
		}
	}
	return best
}
