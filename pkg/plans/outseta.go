package plans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Anvisninger/signup-flow/pkg/retry"
)

const maxUpstreamBody = 4 << 20

var errTransport = errors.New("outseta unreachable")

// reply is a raw Outseta answer.
type reply struct {
	Status int
	Body   []byte
}

func (r *reply) ok() bool {
	return r.Status >= 200 && r.Status <= 299
}

// outseta calls the Outseta REST API with server credentials.
type outseta struct {
	base   string
	key    string
	secret string
	http   *http.Client
	retry  *retry.Config
}

func (o *outseta) planFamilies(ctx context.Context) (*reply, error) {
	return o.get(ctx, "/billing/planfamilies", nil)
}

func (o *outseta) people(ctx context.Context, email string) (*reply, error) {
	return o.get(ctx, "/crm/people", url.Values{"email": {email}, "expand": {"PersonAccount"}})
}

func (o *outseta) get(ctx context.Context, path string, q url.Values) (*reply, error) {
	endpoint := strings.TrimRight(o.base, "/") + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	return retry.Do(ctx, o.retry, func(ctx context.Context) (*reply, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Outseta "+o.key+":"+o.secret)
		req.Header.Set("Accept", "application/json")

		resp, err := o.http.Do(req)
		if err != nil {
			return nil, errors.Join(errTransport, err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
		if err != nil {
			return nil, errors.Join(errTransport, err)
		}
		return &reply{Status: resp.StatusCode, Body: body}, nil
	})
}

func retryTransport(err error) bool {
	return errors.Is(err, errTransport) && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// person is a CRM person with its account link.
type person struct {
	AccountID  json.RawMessage `json:"account_id"`
	AccountUID string          `json:"AccountUid"`
	Account    *account        `json:"Account"`
	Links      personAccount   `json:"PersonAccount"`
}

type account struct {
	UID string `json:"Uid"`
}

type accountLink struct {
	Account *account `json:"Account"`
}

// personAccount decodes PersonAccount as either one link or a list of them.
type personAccount []accountLink

func (pa *personAccount) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	switch {
	case trimmed == "null" || trimmed == "":
		*pa = nil
		return nil
	case trimmed[0] == '[':
		var links []accountLink
		if err := json.Unmarshal(b, &links); err != nil {
			return err
		}
		*pa = links
		return nil
	default:
		var link accountLink
		if err := json.Unmarshal(b, &link); err != nil {
			return err
		}
		*pa = personAccount{link}
		return nil
	}
}

// hasAccount reports whether the person is linked to an account.
func (p *person) hasAccount() bool {
	for _, l := range p.Links {
		if l.Account != nil && l.Account.UID != "" {
			return true
		}
	}
	return truthy(p.AccountID) || p.AccountUID != "" || (p.Account != nil && p.Account.UID != "")
}

// truthy reports whether a raw JSON value is set to something other than
// null, zero, false or the empty string.
func truthy(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", `""`, "0", "false":
		return false
	}
	return true
}

type peopleList struct {
	Items []*person `json:"items"`
}
