// Package rtc establishes the WebRTC link to the realtime service: one peer
// connection with a local audio track and an ordered data channel for events.
package rtc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/codewandler/openairtc-go/transport"
	"github.com/pion/webrtc/v4"
)

const (
	AudioTrackID  = "audio0"
	AudioStreamID = "stream0"

	eventBufferSize = 1000
)

type Config struct {
	Engine   Engine
	Signaler Signaler
	// Source feeds the local audio track. Defaults to SilenceSource.
	Source AudioSource
	// RemoteAudio receives remote audio as an Ogg/Opus stream. Optional.
	RemoteAudio io.Writer
	Logger      *slog.Logger
}

// Manager implements transport.Transport over WebRTC.
type Manager struct {
	engine   Engine
	signaler Signaler
	source   AudioSource
	remote   io.Writer
	logger   *slog.Logger
}

func NewManager(config Config) *Manager {
	m := &Manager{
		engine:   config.Engine,
		signaler: config.Signaler,
		source:   config.Source,
		remote:   config.RemoteAudio,
		logger:   config.Logger,
	}
	if m.engine == nil {
		m.engine = &PionEngine{Logger: config.Logger}
	}
	if m.source == nil {
		m.source = SilenceSource{}
	}
	if m.logger == nil {
		m.logger = slog.New(slog.DiscardHandler)
	}
	return m
}

func stepError(step transport.Step, err error) error {
	return &transport.StepError{Step: step, Err: err}
}

// Open runs the setup sequence once. Any failing step closes the peer
// connection and returns a *transport.StepError.
func (m *Manager) Open(ctx context.Context, credential string) (_ transport.Link, err error) {
	if m.signaler == nil {
		return nil, stepError(transport.StepSignaling, errors.New("no signaler configured"))
	}

	pc, err := m.engine.NewPeerConnection()
	if err != nil {
		return nil, stepError(transport.StepPeerConnection, err)
	}

	l := newLink(pc, m.logger)
	defer func() {
		if err != nil {
			_ = l.Close()
		}
	}()

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		m.logger.Debug("peer connection state changed", slog.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateFailed:
			l.emit(transport.Event{Kind: transport.ConnectionFailed})
		case webrtc.PeerConnectionStateClosed:
			l.emit(transport.Event{Kind: transport.ConnectionClosed})
		}
	})
	if m.remote != nil {
		pc.PipeRemoteAudio(m.remote)
	}

	mic, err := pc.AddAudioTrack(AudioTrackID, AudioStreamID)
	if err != nil {
		return nil, stepError(transport.StepAudioTrack, err)
	}
	l.mic = mic
	go l.pump(m.source)

	dc, err := pc.CreateDataChannel(transport.EventsLabel)
	if err != nil {
		return nil, stepError(transport.StepDataChannel, err)
	}
	l.dc = dc
	dc.OnOpen(func() {
		m.logger.Debug("data channel open")
		l.emit(transport.Event{Kind: transport.ChannelOpen})
	})
	dc.OnClose(func() {
		m.logger.Debug("data channel closed")
		l.emit(transport.Event{Kind: transport.ChannelClosed})
	})
	dc.OnMessage(func(data []byte, binary bool) {
		l.emit(transport.Event{Kind: transport.ChannelMessage, Data: data, Binary: binary})
	})

	offer, err := pc.CreateOffer()
	if err != nil {
		return nil, stepError(transport.StepCreateOffer, err)
	}

	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, stepError(transport.StepLocalSDP, err)
	}

	local, err := pc.GatheredLocalDescription(ctx)
	if err != nil {
		return nil, stepError(transport.StepGathering, err)
	}
	m.logger.Debug("offer ready", slog.Int("sdp_len", len(local)))

	answer, err := m.signaler.Handshake(ctx, credential, local)
	if err != nil {
		return nil, stepError(transport.StepSignaling, err)
	}
	m.logger.Debug("answer received", slog.Int("sdp_len", len(answer)))

	if err := pc.SetRemoteDescription(answer); err != nil {
		return nil, stepError(transport.StepRemoteSDP, err)
	}

	return l, nil
}

// link owns the resources of one connection attempt.
type link struct {
	pc     PeerConnection
	dc     DataChannel
	mic    AudioTrack
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
	events chan transport.Event

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newLink(pc PeerConnection, logger *slog.Logger) *link {
	ctx, cancel := context.WithCancel(context.Background())
	return &link{
		pc:     pc,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan transport.Event, eventBufferSize),
		done:   make(chan struct{}),
	}
}

func (l *link) emit(evt transport.Event) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.events <- evt:
	case <-l.done:
	}
}

func (l *link) pump(source AudioSource) {
	for {
		sample, err := source.ReadSample(l.ctx)
		if err != nil {
			if l.ctx.Err() == nil {
				l.logger.Error("audio source failed", slog.Any("err", err))
			}
			return
		}
		if err := l.mic.WriteSample(sample); err != nil {
			l.logger.Debug("failed to write audio sample", slog.Any("err", err))
		}
	}
}

func (l *link) Events() <-chan transport.Event {
	return l.events
}

func (l *link) SendText(data []byte) error {
	select {
	case <-l.done:
		return errors.New("link closed")
	default:
	}
	if l.dc == nil {
		return errors.New("no data channel")
	}
	return l.dc.SendText(string(data))
}

func (l *link) Microphone() transport.Microphone {
	if l.mic == nil {
		return nil
	}
	return l.mic
}

func (l *link) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.cancel()
		l.closeErr = l.pc.Close()

		l.mu.Lock()
		l.closed = true
		close(l.events)
		l.mu.Unlock()
	})
	return l.closeErr
}
