// Package verr defines the single error kind returned by the validator, the
// prediction cursor and the HTTP transport. Context such as the offending row
// index, column or remote status travels in fixed fields rather than in the
// message text so callers can build precise diagnostics.
package verr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies an Error. Local validation failures are KindGeneral; the
// remaining kinds describe remote failures.
type Kind int

const (
	KindGeneral Kind = iota
	// KindAuth indicates authentication/authorization failures (401/403).
	KindAuth
	// KindRateLimit indicates 429 responses; RetryAfter may be set.
	KindRateLimit
	KindNotFound
	// KindBadRequest indicates a 4xx request problem (e.g., 400 validation).
	KindBadRequest
	KindQuota
	// KindServer indicates 5xx errors from the service.
	KindServer
	// KindUnreachable indicates the service could not be reached at all.
	KindUnreachable
	// KindResponse indicates a response body that could not be interpreted.
	KindResponse
	// KindProtocol indicates a response that decoded but does not match what
	// was asked for (wrong length, wrong element shape).
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "authentication failed"
	case KindRateLimit:
		return "rate limited"
	case KindNotFound:
		return "not found"
	case KindBadRequest:
		return "bad request"
	case KindQuota:
		return "quota exceeded"
	case KindServer:
		return "server error"
	case KindUnreachable:
		return "unreachable"
	case KindResponse:
		return "invalid response"
	case KindProtocol:
		return "unexpected response"
	default:
		return "error"
	}
}

// Error is the error type used throughout the client.
type Error struct {
	Msg  string
	Kind Kind

	// Row is the zero-based index of the offending row; only meaningful when
	// HasRow is true.
	Row    int
	HasRow bool
	Col    string
	// RequestID is the prediction request correlation id (_request_id), when
	// a request-level precondition failed.
	RequestID string

	// Remote context.
	StatusCode int
	Code       string
	RetryAfter time.Duration

	Err error
}

// New returns a general error with a formatted message.
func New(format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// AtRow returns an error identifying a row and, when col is non-empty, a column.
func AtRow(row int, col string, format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...), Row: row, HasRow: true, Col: col}
}

// AtCol returns an error identifying a column only.
func AtCol(col string, format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...), Col: col}
}

// ForRequest returns an error identifying a prediction request by its correlation id.
func ForRequest(requestID string, format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...), RequestID: requestID}
}

// Wrap returns an error of the given kind wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Msg: fmt.Sprintf(format, args...), Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	if e.Kind != KindGeneral {
		b.WriteString(e.Kind.String())
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	var ctx []string
	if e.HasRow {
		ctx = append(ctx, fmt.Sprintf("row=%d", e.Row))
	}
	if e.Col != "" {
		ctx = append(ctx, "col="+e.Col)
	}
	if e.RequestID != "" {
		ctx = append(ctx, "request_id="+e.RequestID)
	}
	if e.StatusCode != 0 {
		ctx = append(ctx, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Code != "" {
		ctx = append(ctx, "code="+e.Code)
	}
	if e.RetryAfter > 0 {
		ctx = append(ctx, fmt.Sprintf("retry_after=%ds", int(e.RetryAfter.Seconds())))
	}
	if len(ctx) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(ctx, " "))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// As reports whether err is (or wraps) an *Error and returns it.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}
