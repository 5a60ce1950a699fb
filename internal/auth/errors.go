package auth

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingCredentials is returned when the client id or client secret
	// is not configured.
	ErrMissingCredentials = errors.New("client id and client secret are required (SF_CLIENT_ID, SF_CLIENT_SECRET)")

	// ErrAuthorizationTimeout is returned when the browser never reaches the
	// callback listener within the authorization timeout.
	ErrAuthorizationTimeout = errors.New("timed out waiting for authorization callback")
)

// Error reports a failed authorization attempt. Op names the step that
// failed: "configure", "listen", "authorize" or "exchange".
type Error struct {
	Op          string
	Status      int    // token endpoint HTTP status, 0 when not applicable
	Body        string // raw token endpoint response body
	Code        string // provider error code
	Description string // provider error_description or local detail
	Err         error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("auth ")
	b.WriteString(e.Op)
	b.WriteString(" failed")
	if e.Status != 0 {
		fmt.Fprintf(&b, ": status %d", e.Status)
	}
	if e.Code != "" {
		b.WriteString(": ")
		b.WriteString(e.Code)
	}
	if e.Description != "" {
		b.WriteString(": ")
		b.WriteString(e.Description)
	}
	if e.Status != 0 && e.Code == "" && e.Body != "" {
		b.WriteString(": ")
		b.WriteString(e.Body)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}
