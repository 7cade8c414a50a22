package openairtc

import (
	"errors"
	"fmt"

	"github.com/codewandler/openairtc-go/transport"
)

var (
	// ErrBusy is returned by Connect while an attempt is in flight or the
	// session is connected.
	ErrBusy = errors.New("connection attempt already in progress")
	// ErrAborted is returned by Connect when Disconnect interrupts the attempt.
	ErrAborted = errors.New("connection attempt aborted")
	ErrClosed  = errors.New("session closed")
	// ErrNotConnected is returned when sending without an open event channel.
	ErrNotConnected   = errors.New("event channel not open")
	ErrIncompleteItem = errors.New("conversation item requires id, role and type")
)

// CredentialError reports a failure to obtain the ephemeral credential.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("acquire credential: %v", e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// NegotiationError reports a failure while establishing the link.
type NegotiationError struct {
	Step transport.Step
	Err  error
}

func (e *NegotiationError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("negotiate: %v", e.Err)
	}
	return fmt.Sprintf("negotiate %s: %v", e.Step, e.Err)
}

func (e *NegotiationError) Unwrap() error {
	return e.Err
}

func negotiationError(err error) *NegotiationError {
	var stepErr *transport.StepError
	if errors.As(err, &stepErr) {
		return &NegotiationError{Step: stepErr.Step, Err: stepErr.Err}
	}
	return &NegotiationError{Err: err}
}

// ChannelSendError reports an outbound event that could not be written.
type ChannelSendError struct {
	Err error
}

func (e *ChannelSendError) Error() string {
	return fmt.Sprintf("send event: %v", e.Err)
}

func (e *ChannelSendError) Unwrap() error {
	return e.Err
}

// ChannelParseError reports an inbound payload that is not a JSON event.
type ChannelParseError struct {
	Err error
}

func (e *ChannelParseError) Error() string {
	return fmt.Sprintf("parse event: %v", e.Err)
}

func (e *ChannelParseError) Unwrap() error {
	return e.Err
}
