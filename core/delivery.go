package core

import (
	"errors"
	"fmt"
)

// Notification is the payload pushed to a device.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// FailureKind classifies a failed delivery attempt.
type FailureKind string

const (
	FailureNone FailureKind = ""
	// FailureInvalidToken means the destination no longer resolves to a device.
	FailureInvalidToken FailureKind = "invalid_token"
	// FailureTransient covers every other failure, timeouts included.
	FailureTransient FailureKind = "transient"
)

// DeliveryError is returned by push senders with the provider's error code
// and its classification.
type DeliveryError struct {
	Kind FailureKind
	Code string
	Err  error
}

func (e *DeliveryError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("delivery failed (%s): %s", e.Kind, e.Code)
	}
	return fmt.Sprintf("delivery failed (%s): %s: %v", e.Kind, e.Code, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// InvalidToken builds a permanent DeliveryError.
func InvalidToken(code string, err error) error {
	return &DeliveryError{Kind: FailureInvalidToken, Code: code, Err: err}
}

// Transient builds a transient DeliveryError.
func Transient(code string, err error) error {
	return &DeliveryError{Kind: FailureTransient, Code: code, Err: err}
}

// Classify reports the failure kind of a send error. Errors that are not a
// DeliveryError are treated as transient.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureNone
	}
	var de *DeliveryError
	if errors.As(err, &de) && de.Kind == FailureInvalidToken {
		return FailureInvalidToken
	}
	return FailureTransient
}

// DispatchOutcome is the result of one delivery attempt to one token.
type DispatchOutcome struct {
	Token   string
	Err     error
	Failure FailureKind
}

// NewOutcome classifies err into an outcome for token.
func NewOutcome(token string, err error) DispatchOutcome {
	return DispatchOutcome{Token: token, Err: err, Failure: Classify(err)}
}

// Success reports whether the attempt was delivered.
func (o DispatchOutcome) Success() bool { return o.Err == nil }
