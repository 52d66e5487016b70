package appErrors

import (
	"errors"
	"fmt"
)

type GatewayErrorKind string

const (
	// GatewayUnavailable: the provider could not be reached (timeout, connection refused).
	GatewayUnavailable GatewayErrorKind = "GATEWAY_UNAVAILABLE"
	// GatewayRejected: the provider answered with a non-success status.
	GatewayRejected GatewayErrorKind = "GATEWAY_REJECTED"
)

// GatewayError is the outcome of a failed call to the messaging provider.
// Message is what gets stored on a failed recipient task.
type GatewayError struct {
	Kind       GatewayErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func NewGatewayUnavailable(message string, err error) *GatewayError {
	return &GatewayError{Kind: GatewayUnavailable, Message: message, Err: err}
}

func NewGatewayRejected(statusCode int, message string) *GatewayError {
	return &GatewayError{Kind: GatewayRejected, StatusCode: statusCode, Message: message}
}

func IsGatewayUnavailable(err error) bool {
	var g *GatewayError
	return errors.As(err, &g) && g.Kind == GatewayUnavailable
}

// SetupError means a campaign run could not begin at all.
type SetupError struct {
	CampaignID int
	Reason     string
	Err        error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("campaign %d setup failed: %s: %v", e.CampaignID, e.Reason, e.Err)
	}
	return fmt.Sprintf("campaign %d setup failed: %s", e.CampaignID, e.Reason)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

func NewSetupFailure(campaignID int, reason string, err error) error {
	return &SetupError{CampaignID: campaignID, Reason: reason, Err: err}
}

// MediaLoadError is logged, never stored: the recipient falls back to a text-only send.
type MediaLoadError struct {
	Path string
	Err  error
}

func (e *MediaLoadError) Error() string {
	return fmt.Sprintf("load media %q: %v", e.Path, e.Err)
}

func (e *MediaLoadError) Unwrap() error {
	return e.Err
}
