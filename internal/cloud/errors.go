package cloud

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx response from the cloud service.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("cloud service returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("cloud service returned %d", e.StatusCode)
}

// ProtocolError is a 2xx response whose body could not be understood.
type ProtocolError struct {
	Cause error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("malformed cloud response: %v", e.Cause)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// Class decides retry behavior and scan lifecycle for an upload outcome.
type Class int

const (
	// ClassSuccess: mark the whole batch synced.
	ClassSuccess Class = iota
	// ClassAuth: credential rejected; mark failed and halt the cycle.
	ClassAuth
	// ClassPermanent: request is at fault; mark failed, continue with the
	// next batch.
	ClassPermanent
	// ClassTransient: service hiccup (408/429/5xx); retry with backoff,
	// leave pending on exhaustion.
	ClassTransient
	// ClassNetwork: transport never delivered (timeout, reset, DNS, TLS);
	// retry, leave pending on exhaustion.
	ClassNetwork
)

func (c Class) String() string {
	switch c {
	case ClassSuccess:
		return "success"
	case ClassAuth:
		return "auth"
	case ClassPermanent:
		return "permanent"
	case ClassTransient:
		return "transient"
	case ClassNetwork:
		return "network"
	}
	return "unknown"
}

// Retryable reports whether the class is worth another attempt.
func (c Class) Retryable() bool {
	return c == ClassTransient || c == ClassNetwork
}

// Classify maps an upload error to its outcome class.
func Classify(err error) Class {
	if err == nil {
		return ClassSuccess
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden:
			return ClassAuth
		case se.StatusCode == http.StatusRequestTimeout || se.StatusCode == http.StatusTooManyRequests:
			return ClassTransient
		case se.StatusCode >= 500:
			return ClassTransient
		default:
			// 400, 404, 422, and any other unexpected status: the request
			// itself is at fault and a retry cannot fix it.
			return ClassPermanent
		}
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		return ClassPermanent
	}

	// Everything else is transport: timeouts, resets, DNS, TLS.
	return ClassNetwork
}
