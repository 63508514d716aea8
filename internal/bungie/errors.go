package bungie

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"

	"github.com/valyala/fasthttp"
)

// ErrorCodeSuccess is the envelope ErrorCode of a successful call.
const ErrorCodeSuccess = 1

var (
	// ErrDecode wraps responses that are not a valid envelope or do not carry
	// the expected payload.
	ErrDecode = errors.New("unexpected response payload")

	// ErrNoPvPStats is returned when a character has no all-time PvP block.
	ErrNoPvPStats = errors.New("character has no all-time PvP stats")

	// ErrMalformedReport is returned when a carnage report lacks the two teams
	// needed to decide the winner.
	ErrMalformedReport = errors.New("carnage report does not describe two teams")
)

// Envelope is the wrapper Bungie puts around every response body.
type Envelope struct {
	ErrorCode       int               `json:"ErrorCode"`
	ThrottleSeconds int               `json:"ThrottleSeconds"`
	ErrorStatus     string            `json:"ErrorStatus"`
	Message         string            `json:"Message"`
	MessageData     map[string]string `json:"MessageData"`
}

// APIError is returned when the envelope reports a failure.
type APIError struct {
	Envelope
	// Context describes the request that failed.
	Context string
}

// Error implements error.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: bungie error %d (%s): %s", e.Context, e.ErrorCode, e.ErrorStatus, e.Message)
}

// isTransient reports whether err is a transport fault worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, fasthttp.ErrConnectionClosed):
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "unexpected end of JSON input")
}
