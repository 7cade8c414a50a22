package rtc

import (
	"context"
	"io"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

type fakeEngine struct {
	mu    sync.Mutex
	peers []*fakePeer
	err   error
	// failAt makes the named call on the created peer fail.
	failAt string
}

func (e *fakeEngine) NewPeerConnection() (PeerConnection, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	p := &fakePeer{failAt: e.failAt}
	e.peers = append(e.peers, p)
	return p, nil
}

func (e *fakeEngine) peer() *fakePeer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.peers[len(e.peers)-1]
}

type fakePeer struct {
	mu      sync.Mutex
	calls   []string
	failAt  string
	local   string
	remote  string
	closed  bool
	onState func(webrtc.PeerConnectionState)
	channel *fakeChannel
	track   *fakeTrack
}

var errFake = io.ErrUnexpectedEOF

func (p *fakePeer) record(call string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
	if p.failAt == call {
		return errFake
	}
	return nil
}

func (p *fakePeer) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakePeer) AddAudioTrack(trackID, streamID string) (AudioTrack, error) {
	if err := p.record("add_track"); err != nil {
		return nil, err
	}
	p.track = &fakeTrack{enabled: true}
	return p.track, nil
}

func (p *fakePeer) CreateDataChannel(label string) (DataChannel, error) {
	if err := p.record("data_channel:" + label); err != nil {
		return nil, err
	}
	p.channel = &fakeChannel{}
	return p.channel, nil
}

func (p *fakePeer) CreateOffer() (string, error) {
	if err := p.record("create_offer"); err != nil {
		return "", err
	}
	return "v=0 offer", nil
}

func (p *fakePeer) SetLocalDescription(sdp string) error {
	if err := p.record("set_local"); err != nil {
		return err
	}
	p.local = sdp
	return nil
}

func (p *fakePeer) GatheredLocalDescription(ctx context.Context) (string, error) {
	if err := p.record("gather"); err != nil {
		return "", err
	}
	return p.local + " gathered", nil
}

func (p *fakePeer) SetRemoteDescription(sdp string) error {
	if err := p.record("set_remote"); err != nil {
		return err
	}
	p.remote = sdp
	return nil
}

func (p *fakePeer) OnConnectionStateChange(f func(webrtc.PeerConnectionState)) {
	p.onState = f
}

func (p *fakePeer) PipeRemoteAudio(w io.Writer) {}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeChannel struct {
	mu        sync.Mutex
	onOpen    func()
	onClose   func()
	onMessage func([]byte, bool)
	sent      []string
}

func (c *fakeChannel) OnOpen(f func())                { c.onOpen = f }
func (c *fakeChannel) OnClose(f func())               { c.onClose = f }
func (c *fakeChannel) OnMessage(f func([]byte, bool)) { c.onMessage = f }
func (c *fakeChannel) Close() error                   { return nil }

func (c *fakeChannel) SendText(s string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, s)
	return nil
}

type fakeTrack struct {
	mu      sync.Mutex
	enabled bool
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
}

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) WriteSample(media.Sample) error { return nil }

type fakeSignaler struct {
	answer     string
	err        error
	credential string
	offer      string
}

func (s *fakeSignaler) Handshake(ctx context.Context, credential, offer string) (string, error) {
	s.credential = credential
	s.offer = offer
	return s.answer, s.err
}
