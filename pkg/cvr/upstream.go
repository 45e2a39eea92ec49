package cvr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Anvisninger/signup-flow/pkg/retry"
)

const maxUpstreamBody = 4 << 20

// errTransport marks failures to reach cvr.dev at all.
var errTransport = errors.New("cvr.dev unreachable")

// upstream calls the cvr.dev API.
type upstream struct {
	base   string
	apiKey string
	http   *http.Client
	retry  *retry.Config
}

// reply is a raw upstream answer.
type reply struct {
	Status int
	Body   []byte
}

func (r *reply) ok() bool {
	return r != nil && r.Status >= 200 && r.Status <= 299
}

func (u *upstream) company(ctx context.Context, cvr string) (*reply, error) {
	return u.get(ctx, "/cvr/virksomhed", cvr)
}

func (u *upstream) headcount(ctx context.Context, cvr string) (*reply, error) {
	return u.get(ctx, "/cvrdev/virksomhed/ansatte", cvr)
}

// get retries transport failures only. Any HTTP answer is returned as is.
func (u *upstream) get(ctx context.Context, path, cvr string) (*reply, error) {
	endpoint := strings.TrimRight(u.base, "/") + path + "?" + url.Values{"cvr_nummer": {cvr}}.Encode()

	return retry.Do(ctx, u.retry, func(ctx context.Context) (*reply, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+u.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := u.http.Do(req)
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
