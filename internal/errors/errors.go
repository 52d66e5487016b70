// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning     = errors.New("campaign is already running")
	ErrCampaignNotRunning = errors.New("campaign is not running")
	ErrInvalidTransition  = errors.New("invalid campaign status transition")
	ErrValidation         = errors.New("validation failed")
)

// ErrCampaignNotFound is returned when a campaign id does not exist
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrNotFound covers the read-only collaborators (offers, tenants).
type ErrNotFound struct {
	Resource string
	ID       int
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s with ID %d not found", e.Resource, e.ID)
}

func NewNotFound(resource string, id int) error {
	return &ErrNotFound{Resource: resource, ID: id}
}

// IsNotFound matches both campaign and collaborator not-found errors.
func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var n *ErrNotFound
	return errors.As(err, &c) || errors.As(err, &n)
}

// Transition wraps ErrInvalidTransition with the status that blocked it.
func Transition(campaignID int, status, action string) error {
	return fmt.Errorf("%w: cannot %s campaign %d in status %s", ErrInvalidTransition, action, campaignID, status)
}

// Validation wraps ErrValidation with a field message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
