package provider

import (
	"context"
	"errors"
	"net"
	"strings"
)

// ErrorKind classifies a provider failure for the retry/fallback logic.
type ErrorKind string

const (
	KindAuthError        ErrorKind = "auth_error"
	KindModelUnavailable ErrorKind = "model_unavailable"
	KindRateLimited      ErrorKind = "rate_limited"
	KindTransient        ErrorKind = "transient"
	KindUnknown          ErrorKind = "unknown"
)

// Error is a classified provider failure. Clients build these from HTTP
// status codes and error payloads so callers never have to sniff message
// strings to decide whether to retry.
type Error struct {
	Provider string
	Model    string
	Kind     ErrorKind
	Status   int
	Message  string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Provider + ": " + string(e.Kind)
	}
	return e.Provider + ": " + e.Message
}

// Classify maps an error to an ErrorKind. Typed provider errors carry their
// kind directly; anything else falls back to pattern matching so errors from
// the transport layer (timeouts, refused connections) still classify sanely.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "api key", "unauthorized", "permission denied", "invalid authentication", "forbidden"):
		return KindAuthError
	case containsAny(msg, "model not found", "unsupported model", "unknown model", "is not found for api version"):
		return KindModelUnavailable
	case containsAny(msg, "rate limit", "too many requests", "quota", "resource exhausted"):
		return KindRateLimited
	case containsAny(msg, "timeout", "timed out", "connection refused", "connection reset", "unavailable", "overloaded", "bad gateway", "eof"):
		return KindTransient
	}
	return KindUnknown
}

// kindFromStatus maps an HTTP response status to an ErrorKind. Shared by
// both provider clients.
func kindFromStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuthError
	case status == 404:
		return KindModelUnavailable
	case status == 429:
		return KindRateLimited
	case status >= 500:
		return KindTransient
	default:
		return KindUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
