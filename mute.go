package openairtc

import (
	"sync"

	"github.com/codewandler/openairtc-go/transport"
)

// MuteController owns the mute state. It is independent of the connection
// status; a microphone attached later adopts the current state.
type MuteController struct {
	mu    sync.Mutex
	muted bool
	mic   transport.Microphone
}

// Toggle flips the mute state and returns the new value.
func (m *MuteController) Toggle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.muted = !m.muted
	if m.mic != nil {
		m.mic.SetEnabled(!m.muted)
	}
	return m.muted
}

func (m *MuteController) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *MuteController) attach(mic transport.Microphone) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mic = mic
	if mic != nil {
		mic.SetEnabled(!m.muted)
	}
}

func (m *MuteController) detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mic = nil
}
