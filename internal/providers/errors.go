// Package providers talks to model-serving endpoints and normalizes their replies.
// This file contains the provider error taxonomy and classification.

package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// RetryClass indicates whether an error should be retried.
type RetryClass string

const (
	RetryClassRetryable    RetryClass = "retryable"
	RetryClassNonRetryable RetryClass = "non_retryable"
)

// RateLimitError is a 429 or an overload signal carrying the wait the provider asked for.
// RetryAfter is zero when the provider gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("rate limited: %s", e.Message)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("provider api error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.Err }

// Transient reports whether the status is on the retry allow-list.
func (e *APIError) Transient() bool {
	return transientStatus[e.StatusCode]
}

// TransportError is a failure below HTTP: reset, refused, timeout, truncated body.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "provider transport error: " + e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// transientStatus lists the statuses worth retrying. 529 is Anthropic's overload code.
var transientStatus = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
	529:                            true,
}

// Classify decides whether err is worth another attempt.
func Classify(err error) RetryClass {
	if err == nil {
		return RetryClassNonRetryable
	}
	if errors.Is(err, context.Canceled) {
		return RetryClassNonRetryable
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		return RetryClassRetryable
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Transient() {
			return RetryClassRetryable
		}
		return RetryClassNonRetryable
	}
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return RetryClassRetryable
	}
	return RetryClassNonRetryable
}

// RetryExhaustedError indicates that all attempts failed.
type RetryExhaustedError struct {
	Err      error
	Attempts int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetryExhausted checks if an error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var retryExhausted *RetryExhaustedError
	return errors.As(err, &retryExhausted)
}

// fromStatus builds the typed error for an HTTP status.
func fromStatus(status int, message string, retryAfter time.Duration, cause error) error {
	if status == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: retryAfter, Message: message, Err: cause}
	}
	return &APIError{StatusCode: status, Message: message, Err: cause}
}

// transportCause reports whether err failed below HTTP.
func transportCause(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "tls handshake")
}

// normalizeUntyped maps an SDK error that carries no structured status.
func normalizeUntyped(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	status, retryAfter := extractErrorMetadata(err)
	if status != 0 {
		return fromStatus(status, err.Error(), retryAfter, err)
	}
	if transportCause(err) {
		return &TransportError{Err: err}
	}
	return err
}

// extractErrorMetadata scrapes a status code and Retry-After hint from an error message.
func extractErrorMetadata(err error) (int, time.Duration) {
	errStr := err.Error()
	lower := strings.ToLower(errStr)
	var httpStatus int

	switch {
	case strings.Contains(errStr, "429") || strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests"):
		httpStatus = http.StatusTooManyRequests
	case strings.Contains(errStr, "529") || strings.Contains(lower, "overloaded"):
		httpStatus = 529
	case strings.Contains(errStr, "500"):
		httpStatus = http.StatusInternalServerError
	case strings.Contains(errStr, "502"):
		httpStatus = http.StatusBadGateway
	case strings.Contains(errStr, "503"):
		httpStatus = http.StatusServiceUnavailable
	case strings.Contains(errStr, "504"):
		httpStatus = http.StatusGatewayTimeout
	case strings.Contains(errStr, "401") || strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		httpStatus = http.StatusUnauthorized
	case strings.Contains(errStr, "403"):
		httpStatus = http.StatusForbidden
	case strings.Contains(errStr, "400"):
		httpStatus = http.StatusBadRequest
	case strings.Contains(errStr, "402"):
		httpStatus = http.StatusPaymentRequired
	}

	return httpStatus, parseRetryAfter(lower)
}

// parseRetryAfter finds "retry-after: N" or "retry after N[s|ms]" in a message.
func parseRetryAfter(lower string) time.Duration {
	for _, marker := range []string{"retry-after:", "retry-after", "retry after"} {
		idx := strings.Index(lower, marker)
		if idx == -1 {
			continue
		}
		fields := strings.Fields(lower[idx+len(marker):])
		if len(fields) == 0 {
			continue
		}
		value := strings.Trim(fields[0], ":,;().")
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
		if secs, err := strconv.ParseFloat(value, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 0
}

// parseRetryAfterHeader reads a Retry-After header value in seconds or HTTP-date form.
func parseRetryAfterHeader(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
