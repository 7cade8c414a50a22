// Package transport defines the contract between a session and the connection
// carrying its audio and events. Implementations turn their library callbacks
// into an ordered stream of Events so the session never depends on a specific
// callback shape.
package transport

import (
	"context"
	"fmt"
)

// EventsLabel is the label of the ordered data channel carrying JSON events.
const EventsLabel = "oai-events"

type EventKind int

const (
	// ChannelOpen is emitted once when the event channel becomes writable.
	ChannelOpen EventKind = iota
	// ChannelMessage carries one inbound event channel payload.
	ChannelMessage
	// ChannelClosed is emitted when the event channel stops being writable.
	ChannelClosed
	// ConnectionFailed signals that the underlying connection is gone for good.
	ConnectionFailed
	// ConnectionClosed signals an orderly shutdown initiated by either side.
	ConnectionClosed
)

func (k EventKind) String() string {
	switch k {
	case ChannelOpen:
		return "channel_open"
	case ChannelMessage:
		return "channel_message"
	case ChannelClosed:
		return "channel_closed"
	case ConnectionFailed:
		return "connection_failed"
	case ConnectionClosed:
		return "connection_closed"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind   EventKind
	Data   []byte
	Binary bool
}

// Microphone is the local audio track as seen by the mute controller.
type Microphone interface {
	SetEnabled(enabled bool)
	Enabled() bool
}

// Link is the set of resources owned by one connection attempt. It is created
// by Transport.Open and invalidated by Close.
type Link interface {
	// Events delivers transport events in arrival order. The channel is closed
	// after Close.
	Events() <-chan Event
	// SendText writes one text payload to the event channel.
	SendText(data []byte) error
	// Microphone returns the local audio track, or nil if the link carries none.
	Microphone() Microphone
	// Close releases every resource of the link. It is safe to call repeatedly.
	Close() error
}

// Transport establishes a Link using an ephemeral credential.
type Transport interface {
	Open(ctx context.Context, credential string) (Link, error)
}

// Step names a stage of link establishment.
type Step string

const (
	StepPeerConnection Step = "peer_connection"
	StepAudioTrack     Step = "audio_track"
	StepDataChannel    Step = "data_channel"
	StepCreateOffer    Step = "create_offer"
	StepLocalSDP       Step = "set_local_description"
	StepGathering      Step = "ice_gathering"
	StepSignaling      Step = "signaling"
	StepRemoteSDP      Step = "set_remote_description"
	StepDial           Step = "dial"
)

// StepError reports the step at which link establishment stopped.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
