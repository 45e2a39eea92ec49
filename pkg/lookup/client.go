package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Anvisninger/signup-flow/pkg/forms"
	"github.com/Anvisninger/signup-flow/pkg/logging"
)

// Default timeouts per lookup type.
const (
	DefaultCompanyTimeout = 12 * time.Second
	DefaultPlanTimeout    = 12 * time.Second
	DefaultEmailTimeout   = 8 * time.Second
)

// maxBodySize bounds how much of a proxy response is read.
const maxBodySize = 1 << 20

// Config configures a Client.
type Config struct {
	CompanyURL    string
	PlansURL      string
	EmailCheckURL string

	CompanyTimeout time.Duration
	PlanTimeout    time.Duration
	EmailTimeout   time.Duration

	HTTPClient *http.Client
	Logger     logging.Logger
}

// Client calls the company, plan and email-check proxies.
type Client struct {
	cfg    Config
	http   *http.Client
	logger logging.Logger
}

// New creates a client. EmailCheckURL defaults to PlansURL with /plans
// replaced by /check-email.
func New(cfg Config) *Client {
	if cfg.CompanyTimeout <= 0 {
		cfg.CompanyTimeout = DefaultCompanyTimeout
	}
	if cfg.PlanTimeout <= 0 {
		cfg.PlanTimeout = DefaultPlanTimeout
	}
	if cfg.EmailTimeout <= 0 {
		cfg.EmailTimeout = DefaultEmailTimeout
	}
	if cfg.EmailCheckURL == "" && cfg.PlansURL != "" {
		cfg.EmailCheckURL = strings.Replace(cfg.PlansURL, "/plans", "/check-email", 1)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	return &Client{
		cfg:    cfg,
		http:   client,
		logger: logging.OrNop(cfg.Logger),
	}
}

// Company looks up a company by CVR number.
func (c *Client) Company(ctx context.Context, cvr string) (*Company, error) {
	u, err := withQuery(c.cfg.CompanyURL, url.Values{"cvr": {cvr}})
	if err != nil {
		return nil, err
	}

	var company Company
	if err := c.fetch(ctx, u, c.cfg.CompanyTimeout, &company); err != nil {
		return nil, err
	}
	return &company, nil
}

// PlansForEmployees returns the plan list and the plan selected for the
// given employee count.
func (c *Client) PlansForEmployees(ctx context.Context, employees int) (*PlanResponse, error) {
	u, err := withQuery(c.cfg.PlansURL, url.Values{"employees": {strconv.Itoa(employees)}})
	if err != nil {
		return nil, err
	}

	var resp PlanResponse
	if err := c.fetch(ctx, u, c.cfg.PlanTimeout, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CheckEmail reports whether email already belongs to an account. It never
// fails: invalid input answers not-existing without a call, and lookup
// failures answer not-existing with Error set.
func (c *Client) CheckEmail(ctx context.Context, email string) *EmailCheck {
	if !forms.IsValidEmail(email) {
		return &EmailCheck{Email: email, Exists: false}
	}

	u, err := withQuery(c.cfg.EmailCheckURL, url.Values{"email": {email}})
	if err != nil {
		return &EmailCheck{Email: email, Error: err.Error()}
	}

	var check EmailCheck
	if err := c.fetch(ctx, u, c.cfg.EmailTimeout, &check); err != nil {
		c.logger.Warn("email check failed", logging.Err(err))
		failure, _ := AsFailure(err)
		return &EmailCheck{Email: email, Exists: false, Error: err.Error(), Failure: failure}
	}
	if check.Email == "" {
		check.Email = email
	}
	return &check
}

// fetch issues a GET bounded by timeout and decodes the JSON body into out.
// A body that does not parse leaves out untouched.
func (c *Client) fetch(ctx context.Context, rawURL string, timeout time.Duration, out any) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Failure{Kind: KindTimeout, Critical: true, Err: err}
		}
		return &Failure{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Failure{Kind: KindTimeout, Status: resp.StatusCode, Critical: true, Err: err}
		}
		return &Failure{Kind: KindNetwork, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &errBody)
		f := classifyStatus(resp.StatusCode, errBody.Error)
		c.logger.Warn("lookup failed",
			logging.String("url", rawURL),
			logging.Int("status", resp.StatusCode),
			logging.String("kind", string(f.Kind)),
		)
		return f
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Debug("lookup returned unparseable body", logging.String("url", rawURL))
	}
	return nil
}

func withQuery(base string, q url.Values) (string, error) {
	if base == "" {
		return "", errors.New("lookup endpoint not configured")
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if len(q) > 0 {
		existing := u.Query()
		for k, v := range q {
			existing[k] = v
		}
		u.RawQuery = existing.Encode()
	}
	return u.String(), nil
}
