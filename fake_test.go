package openairtc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/codewandler/openairtc-go/transport"
)

type fakeMic struct {
	mu      sync.Mutex
	enabled bool
}

func (m *fakeMic) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

func (m *fakeMic) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

type fakeLink struct {
	events chan transport.Event
	mic    *fakeMic

	mu     sync.Mutex
	sent   [][]byte
	closed bool
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		events: make(chan transport.Event, 100),
		mic:    &fakeMic{enabled: true},
	}
}

func (l *fakeLink) push(evt transport.Event) {
	l.events <- evt
}

func (l *fakeLink) message(data string) {
	l.push(transport.Event{Kind: transport.ChannelMessage, Data: []byte(data)})
}

func (l *fakeLink) Events() <-chan transport.Event {
	return l.events
}

func (l *fakeLink) SendText(data []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.New("closed")
	}
	l.sent = append(l.sent, data)
	return nil
}

func (l *fakeLink) Sent() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.sent...)
}

func (l *fakeLink) Microphone() transport.Microphone {
	return l.mic
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.events)
	}
	return nil
}

func (l *fakeLink) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type fakeTransport struct {
	mu          sync.Mutex
	credentials []string
	links       []*fakeLink
	err         error

	// entered is signalled when Open starts; release unblocks it. A blocked
	// Open ignores ctx so late completions can be simulated.
	entered chan struct{}
	release chan struct{}
}

func (t *fakeTransport) Open(ctx context.Context, credential string) (transport.Link, error) {
	t.mu.Lock()
	t.credentials = append(t.credentials, credential)
	entered, release, err := t.entered, t.release, t.err
	t.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if err != nil {
		return nil, err
	}

	l := newFakeLink()
	t.mu.Lock()
	t.links = append(t.links, l)
	t.mu.Unlock()
	return l, nil
}

func (t *fakeTransport) opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.credentials)
}

func (t *fakeTransport) link() *fakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.links) == 0 {
		return nil
	}
	return t.links[len(t.links)-1]
}

type credentialServer struct {
	*httptest.Server
	hits atomic.Int32
}

// newCredentialServer serves the credential endpoint with the given body.
func newCredentialServer(t *testing.T, status int, body string) *credentialServer {
	cs := &credentialServer{}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(cs.Close)
	return cs
}

const credentialOK = `{"client_secret":{"value":"ek_test","expires_at":1700000000}}`

type statusRecorder struct {
	mu       sync.Mutex
	statuses []Status
}

func (r *statusRecorder) record(s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, s)
}

func (r *statusRecorder) All() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Status(nil), r.statuses...)
}
