package scraper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/aluiziolira/go-scrape-fixprice/render"
)

// ErrTimeout indicates a timeout while issuing a request.
type ErrTimeout struct {
	Err error
}

func (e ErrTimeout) Error() string {
	return fmt.Errorf("timeout: %w", e.Err).Error()
}

func (e ErrTimeout) Unwrap() error {
	return e.Err
}

// ErrConnection indicates a network connectivity failure.
type ErrConnection struct {
	Err error
}

func (e ErrConnection) Error() string {
	return fmt.Errorf("connection: %w", e.Err).Error()
}

func (e ErrConnection) Unwrap() error {
	return e.Err
}

// ErrBlocked indicates the target refused automation: HTTP 403 or a
// challenge page.
type ErrBlocked struct {
	Err error
}

func (e ErrBlocked) Error() string {
	return fmt.Errorf("blocked: %w", e.Err).Error()
}

func (e ErrBlocked) Unwrap() error {
	return e.Err
}

// ErrNotFound indicates a missing resource (HTTP 404 or 410).
type ErrNotFound struct {
	Err error
}

func (e ErrNotFound) Error() string {
	return fmt.Errorf("not_found: %w", e.Err).Error()
}

func (e ErrNotFound) Unwrap() error {
	return e.Err
}

// ErrRateLimited indicates the target rate-limited the request.
type ErrRateLimited struct {
	Err error
}

func (e ErrRateLimited) Error() string {
	return fmt.Errorf("rate_limited: %w", e.Err).Error()
}

func (e ErrRateLimited) Unwrap() error {
	return e.Err
}

// ErrServer indicates a 5xx response.
type ErrServer struct {
	Status int
	Err    error
}

func (e ErrServer) Error() string {
	return fmt.Errorf("server %d: %w", e.Status, e.Err).Error()
}

func (e ErrServer) Unwrap() error {
	return e.Err
}

// ErrMalformedURL indicates a request URL that cannot be fetched.
type ErrMalformedURL struct {
	Err error
}

func (e ErrMalformedURL) Error() string {
	return fmt.Errorf("malformed_url: %w", e.Err).Error()
}

func (e ErrMalformedURL) Unwrap() error {
	return e.Err
}

// Class is the retry treatment of a failed request.
type Class string

const (
	ClassTransient Class = "transient"
	ClassBlocked   Class = "blocked"
	ClassPermanent Class = "permanent"
)

// Classify maps a classified error to its retry class. Unknown errors are
// treated as transient.
func Classify(err error) Class {
	var (
		blocked   ErrBlocked
		notFound  ErrNotFound
		malformed ErrMalformedURL
		httpErr   errHTTPStatus
	)
	switch {
	case errors.As(err, &blocked):
		return ClassBlocked
	case errors.As(err, &notFound), errors.As(err, &malformed):
		return ClassPermanent
	case errors.As(err, &httpErr):
		return ClassPermanent
	}
	return ClassTransient
}

// errHTTPStatus is a 4xx status with no more specific treatment.
type errHTTPStatus struct {
	Status int
}

func (e errHTTPStatus) Error() string {
	return fmt.Sprintf("http status %d", e.Status)
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var timeout ErrTimeout
	if errors.As(err, &timeout) {
		return "timeout"
	}
	var conn ErrConnection
	if errors.As(err, &conn) {
		return "connection"
	}
	var blocked ErrBlocked
	if errors.As(err, &blocked) {
		return "blocked"
	}
	var notFound ErrNotFound
	if errors.As(err, &notFound) {
		return "not_found"
	}
	var rateLimited ErrRateLimited
	if errors.As(err, &rateLimited) {
		return "rate_limited"
	}
	var server ErrServer
	if errors.As(err, &server) {
		return "server"
	}
	var malformed ErrMalformedURL
	if errors.As(err, &malformed) {
		return "malformed_url"
	}
	var httpErr errHTTPStatus
	if errors.As(err, &httpErr) {
		return "client_error"
	}
	return "other"
}

// classifyError turns a raw fetch failure into one of the typed errors.
// statusCode is the response status when one was received.
func classifyError(err error, statusCode int) error {
	if err == nil && statusCode == 0 {
		return nil
	}

	if errors.Is(err, render.ErrBlockedPage) {
		return ErrBlocked{Err: err}
	}
	var navErr *render.NavigationError
	if errors.As(err, &navErr) && navErr.Status != 0 && statusCode == 0 {
		statusCode = navErr.Status
	}

	if statusCode >= http.StatusBadRequest {
		wrapped := err
		if wrapped == nil {
			wrapped = fmt.Errorf("http status %d", statusCode)
		}
		switch {
		case statusCode == http.StatusForbidden:
			return ErrBlocked{Err: wrapped}
		case statusCode == http.StatusNotFound, statusCode == http.StatusGone:
			return ErrNotFound{Err: wrapped}
		case statusCode == http.StatusTooManyRequests:
			return ErrRateLimited{Err: wrapped}
		case statusCode >= http.StatusInternalServerError:
			return ErrServer{Status: statusCode, Err: wrapped}
		case statusCode == http.StatusRequestTimeout:
			return ErrTimeout{Err: wrapped}
		default:
			return fmt.Errorf("%w: %v", errHTTPStatus{Status: statusCode}, wrapped)
		}
	}

	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && isMalformed(urlErr) {
		return ErrMalformedURL{Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	if navErr != nil && navErr.Reason != "" {
		return classifyReason(navErr.Reason, err)
	}
	if isConnectionText(err.Error()) {
		return ErrConnection{Err: err}
	}
	return err
}

func isMalformed(err *url.Error) bool {
	if err.Op == "parse" {
		return true
	}
	if err.Err == nil {
		return false
	}
	msg := err.Err.Error()
	return strings.Contains(msg, "unsupported protocol scheme") ||
		strings.Contains(msg, "no Host in request URL") ||
		strings.Contains(msg, "invalid URL")
}

// classifyReason maps browser network error reasons (net::ERR_*).
func classifyReason(reason string, err error) error {
	r := strings.ToUpper(reason)
	switch {
	case strings.Contains(r, "TIMED_OUT"):
		return ErrTimeout{Err: err}
	case strings.Contains(r, "INVALID_URL"), strings.Contains(r, "UNKNOWN_URL_SCHEME"):
		return ErrMalformedURL{Err: err}
	case strings.Contains(r, "BLOCKED_BY"):
		return ErrBlocked{Err: err}
	}
	return ErrConnection{Err: err}
}

func isConnectionText(msg string) bool {
	msg = strings.ToLower(msg)
	for _, marker := range []string{"connection reset", "connection refused", "broken pipe", "eof", "no such host"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
