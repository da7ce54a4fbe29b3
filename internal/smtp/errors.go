package smtp

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoMX is returned when no mail exchanger can be resolved for a domain.
var ErrNoMX = errors.New("no mail exchanger found")

// AddressError lists addresses that failed syntax validation. No connection
// is attempted when it is returned.
type AddressError struct {
	// BadSender is set when Sender failed validation; Sender may be empty.
	BadSender  bool
	Sender     string
	Recipients []string
}

func (e *AddressError) Error() string {
	var parts []string
	if e.BadSender {
		parts = append(parts, fmt.Sprintf("invalid sender address %q", e.Sender))
	}
	if len(e.Recipients) > 0 {
		parts = append(parts, fmt.Sprintf("invalid recipient addresses: %s", strings.Join(e.Recipients, ", ")))
	}
	return strings.Join(parts, "; ")
}

// ProtocolError is a failed step of the SMTP dialogue with one domain's
// mail exchanger. Code and Msg carry the server reply when there was one.
type ProtocolError struct {
	Domain string
	Host   string
	Stage  string
	Code   int
	Msg    string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("smtp %s: %s rejected by %s: %d %s", e.Domain, e.Stage, e.Host, e.Code, e.Msg)
	}
	return fmt.Sprintf("smtp %s: %s with %s: %v", e.Domain, e.Stage, e.Host, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
