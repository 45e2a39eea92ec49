package lookup

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a lookup failure.
type Kind string

const (
	KindTimeout      Kind = "timeout"
	KindAccessDenied Kind = "access_denied"
	KindNotFound     Kind = "not_found"
	KindServer       Kind = "server"
	KindUpstream     Kind = "upstream"
	KindNetwork      Kind = "network"
)

// Failure is a classified lookup failure. Critical failures mean the backend
// itself is unreachable or misconfigured rather than the input being bad.
type Failure struct {
	Kind     Kind
	Status   int
	Critical bool

	// Message is the error text from the response body, when there was one.
	Message string

	Err error
}

func (f *Failure) Error() string {
	switch {
	case f.Message != "":
		return fmt.Sprintf("lookup %s (%d): %s", f.Kind, f.Status, f.Message)
	case f.Err != nil:
		return fmt.Sprintf("lookup %s: %v", f.Kind, f.Err)
	default:
		return fmt.Sprintf("lookup %s (%d)", f.Kind, f.Status)
	}
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsCritical reports whether err is a critical lookup failure.
func IsCritical(err error) bool {
	f, ok := AsFailure(err)
	return ok && f.Critical
}

// classifyStatus maps a non-2xx status to a failure.
func classifyStatus(status int, bodyError string) *Failure {
	switch {
	case status == http.StatusForbidden:
		return &Failure{Kind: KindAccessDenied, Status: status, Critical: true}
	case status == http.StatusNotFound:
		return &Failure{Kind: KindNotFound, Status: status, Critical: true}
	case status >= 500:
		return &Failure{Kind: KindServer, Status: status, Critical: true}
	default:
		return &Failure{Kind: KindUpstream, Status: status, Message: bodyError}
	}
}
