// Package apperr defines the business-rule failures surfaced to API callers.
//
// Every typed error matches its sentinel with errors.Is, so callers can branch on
// the kind and still reach the context (existing ticket, prior redemption) with
// errors.As.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/eventgate/backend/internal/models"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrEventFull         = errors.New("event is full")
	ErrAlreadyRegistered = errors.New("already registered for this event")
	ErrAlreadyRedeemed   = errors.New("ticket already redeemed")
	ErrInvalidPayload    = errors.New("invalid ticket payload")
	ErrStoreUnavailable  = errors.New("store unavailable")
	ErrForbidden         = errors.New("forbidden")
)

// Code is a machine-readable error code returned to clients.
type Code string

const (
	CodeUnknown           Code = "UNKNOWN"
	CodeValidation        Code = "VALIDATION"
	CodeNotFound          Code = "NOT_FOUND"
	CodeEventFull         Code = "EVENT_FULL"
	CodeAlreadyRegistered Code = "ALREADY_REGISTERED"
	CodeAlreadyRedeemed   Code = "ALREADY_REDEEMED"
	CodeInvalidPayload    Code = "INVALID_PAYLOAD"
	CodeStoreUnavailable  Code = "STORE_UNAVAILABLE"
	CodeForbidden         Code = "FORBIDDEN"
)

// CodeOf returns the code for err's kind.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrEventFull):
		return CodeEventFull
	case errors.Is(err, ErrAlreadyRegistered):
		return CodeAlreadyRegistered
	case errors.Is(err, ErrAlreadyRedeemed):
		return CodeAlreadyRedeemed
	case errors.Is(err, ErrInvalidPayload):
		return CodeInvalidPayload
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	}
	return CodeUnknown
}

// ValidationError carries one human-readable reason per offending field.
type ValidationError struct {
	Fields map[string]string
}

// NewValidation returns an empty ValidationError ready for Add.
func NewValidation() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a reason for field. The first reason for a field wins.
func (e *ValidationError) Add(field, reason string) {
	if _, ok := e.Fields[field]; ok {
		return
	}
	e.Fields[field] = reason
}

// OrNil returns e when at least one field failed, nil otherwise.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid is shorthand for a single-field ValidationError.
func Invalid(field, reason string) error {
	v := NewValidation()
	v.Add(field, reason)
	return v
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

// NotFound returns a NotFoundError for kind/id.
func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// EventFullError reports the capacity that was reached.
type EventFullError struct {
	EventID  string
	Capacity int
}

func (e *EventFullError) Error() string {
	return fmt.Sprintf("event %q is full (capacity %d)", e.EventID, e.Capacity)
}

func (e *EventFullError) Is(target error) bool { return target == ErrEventFull }

// AlreadyRegisteredError carries the ticket the participant already holds.
type AlreadyRegisteredError struct {
	Existing models.Registration
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("%s is already registered for event %q", e.Existing.Email, e.Existing.EventID)
}

func (e *AlreadyRegisteredError) Is(target error) bool { return target == ErrAlreadyRegistered }

// AlreadyRedeemedError carries the first redemption time and actor.
type AlreadyRedeemedError struct {
	Registration models.Registration
	EventTitle   string
	At           time.Time
	By           string
}

func (e *AlreadyRedeemedError) Error() string {
	return fmt.Sprintf("ticket %q already used at %s", e.Registration.ID, e.At.Format("15:04"))
}

func (e *AlreadyRedeemedError) Is(target error) bool { return target == ErrAlreadyRedeemed }

// InvalidPayloadError explains why a QR payload was rejected.
type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return "invalid ticket payload: " + e.Reason
}

func (e *InvalidPayloadError) Is(target error) bool { return target == ErrInvalidPayload }

// Unavailable wraps a backing-store failure so it matches ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
