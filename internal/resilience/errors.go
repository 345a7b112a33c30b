package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrorClass buckets provider errors for retry decisions.
type ErrorClass string

const (
	// ClassRateLimited covers 429s and explicit rate-limit messages.
	ClassRateLimited ErrorClass = "rate_limited"
	// ClassServerBusy covers 5xx, overload messages, and network timeouts.
	ClassServerBusy ErrorClass = "server_busy"
	// ClassOther is everything else (auth, malformed request, ...). Never retried.
	ClassOther ErrorClass = "other"
)

// statusCoder is implemented by provider errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatus() int
}

// Classify buckets an error by HTTP status when available, otherwise by
// message content. Unknown errors are ClassOther and propagate immediately.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassOther
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		switch status := sc.HTTPStatus(); {
		case status == 429:
			return ClassRateLimited
		case status == 408 || (status >= 500 && status < 600):
			return ClassServerBusy
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassServerBusy
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return ClassServerBusy
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return ClassRateLimited
	case strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "server busy"),
		strings.Contains(msg, "service unavailable"),
		strings.Contains(msg, "connection reset by peer"),
		strings.Contains(msg, "i/o timeout"),
		strings.Contains(msg, "tls handshake timeout"):
		return ClassServerBusy
	}

	return ClassOther
}

// Retryable reports whether the error class is safe to retry.
func Retryable(err error) bool {
	return Classify(err) != ClassOther
}
