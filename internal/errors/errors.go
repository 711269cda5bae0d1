// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed rule tree or request payload.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed for %q: %s", e.Field, e.Reason)
}

func NewValidation(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ConflictError is returned when a campaign cannot be launched from its
// current status.
type ConflictError struct {
	CampaignID int64
	Status     string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("campaign %d cannot be launched in status %s", e.CampaignID, e.Status)
}

func NewConflict(campaignID int64, status string) error {
	return &ConflictError{CampaignID: campaignID, Status: status}
}

// NotFoundError is returned for a missing campaign, customer or log.
type NotFoundError struct {
	Resource string
	ID       int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %d not found", e.Resource, e.ID)
}

func NewCampaignNotFound(id int64) error {
	return &NotFoundError{Resource: "campaign", ID: id}
}

func NewCustomerNotFound(id int64) error {
	return &NotFoundError{Resource: "customer", ID: id}
}

func NewLogNotFound(id int64) error {
	return &NotFoundError{Resource: "communication log", ID: id}
}

// TransportError wraps a failure to reach the vendor, including timeouts.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// VendorRejectedError is a non-success response to a vendor submission.
type VendorRejectedError struct {
	StatusCode int
	Message    string
}

func (e *VendorRejectedError) Error() string {
	return fmt.Sprintf("vendor rejected submission: %d - %s", e.StatusCode, e.Message)
}

// PersistenceError wraps a store failure during a state transition.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func NewPersistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsTransport(err error) bool {
	var target *TransportError
	return errors.As(err, &target)
}

func IsVendorRejected(err error) bool {
	var target *VendorRejectedError
	return errors.As(err, &target)
}

func IsPersistence(err error) bool {
	var target *PersistenceError
	return errors.As(err, &target)
}
