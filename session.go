// Package openairtc is a client for the OpenAI Realtime service. A Session
// acquires an ephemeral credential, negotiates a WebRTC peer connection
// carrying audio plus an ordered data channel for JSON events, and keeps a
// local transcript of the conversation.
package openairtc

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/codewandler/openairtc-go/events"
	"github.com/codewandler/openairtc-go/internal/metrics"
	"github.com/codewandler/openairtc-go/internal/rtc"
	"github.com/codewandler/openairtc-go/internal/websocket"
	"github.com/codewandler/openairtc-go/tool"
	"github.com/codewandler/openairtc-go/transport"
	"github.com/google/uuid"
)

const actionQueueSize = 256

// attempt is the handle of one connection attempt. It is created by Connect
// and invalidated by teardown; completions for an invalidated attempt are
// discarded.
type attempt struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	logger  *slog.Logger

	link       transport.Link
	configured bool

	settled chan error
	done    bool
}

// finish reports the outcome to the waiting Connect call once.
func (a *attempt) finish(err error) {
	if a.done {
		return
	}
	a.done = true

	result := "connected"
	if err != nil {
		result = "error"
	}
	metrics.ConnectDuration.WithLabelValues(result).Observe(time.Since(a.started).Seconds())

	a.settled <- err
}

// Session owns the lifecycle of one realtime connection. All state changes
// happen on a single control loop goroutine.
type Session struct {
	config    *sessionConfig
	logger    *slog.Logger
	broker    *CredentialBroker
	transport transport.Transport

	actions   chan func()
	done      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// closed is set once the loop has stopped; posts after that are refused
	closeMu sync.RWMutex
	closed  bool

	statusMu sync.RWMutex
	status   Status

	// owned by the control loop
	attempt *attempt
	channel *eventChannel

	conversation *Conversation
	mute         MuteController
	remote       *remoteAudio

	onStatus func(Status)
	onItem   func(ConversationItem)
	onEvent  func(evt any)
	onError  func(err error)
}

func New(opts ...Option) *Session {
	config := &sessionConfig{}
	withDefaults()(config)
	WithOptions(opts...)(config)

	s := &Session{
		config: config,
		logger: config.logger,
		broker: &CredentialBroker{
			BaseURL: config.baseURL,
			Client:  config.httpClient,
		},
		actions:      make(chan func(), actionQueueSize),
		done:         make(chan struct{}),
		loopDone:     make(chan struct{}),
		status:       StatusDisconnected,
		conversation: NewConversation(),
		remote:       newRemoteAudio(remoteAudioBufferSize),
	}

	s.transport = config.transport
	if s.transport == nil {
		s.transport = s.defaultTransport()
	}

	go s.loop()

	return s
}

func (s *Session) defaultTransport() transport.Transport {
	if s.config.websocket {
		return websocket.NewTransport(websocket.TransportConfig{
			URL:    wsURL(s.config.baseURL, s.config.model),
			Logger: s.logger,
		})
	}

	return rtc.NewManager(rtc.Config{
		Engine: &rtc.PionEngine{
			ICEServers: s.config.iceServers,
			Logger:     s.logger,
		},
		Signaler: &rtc.HTTPSignaler{
			BaseURL: s.config.baseURL,
			Model:   s.config.model,
			Client:  s.config.httpClient,
		},
		Source:      s.config.audioSource,
		RemoteAudio: s.remote,
		Logger:      s.logger,
	})
}

func wsURL(baseURL, model string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return fmt.Sprintf("%s/v1/realtime?model=%s", base, url.QueryEscape(model))
}

func (s *Session) loop() {
	defer close(s.loopDone)
	for {
		select {
		case <-s.done:
			return
		case f := <-s.actions:
			f()
		}
	}
}

// post queues f on the control loop. It reports false once the session is
// closed.
func (s *Session) post(f func()) bool {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case <-s.done:
		return false
	case s.actions <- f:
		return true
	}
}

// call runs f on the control loop and waits for its result.
func (s *Session) call(f func() error) error {
	errc := make(chan error, 1)
	if !s.post(func() { errc <- f() }) {
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		return ErrClosed
	}
}

// Connect starts a connection attempt and blocks until it settles. It returns
// ErrBusy without side effects while another attempt is in flight or the
// session is connected, and ErrAborted when Disconnect interrupts the attempt.
// ctx bounds the establishment only, not the lifetime of the connection.
func (s *Session) Connect(ctx context.Context) error {
	var a *attempt
	err := s.call(func() error {
		if s.closed {
			return ErrClosed
		}
		if !s.Status().idle() {
			return ErrBusy
		}
		a = s.begin(ctx)
		return nil
	})
	if err != nil {
		return err
	}

	select {
	case err := <-a.settled:
		return err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) begin(ctx context.Context) *attempt {
	ctx, cancel := context.WithCancel(ctx)
	id := uuid.NewString()

	a := &attempt{
		id:      id,
		ctx:     ctx,
		cancel:  cancel,
		started: time.Now(),
		logger:  s.logger.With(slog.String("attempt", id)),
		settled: make(chan error, 1),
	}
	s.attempt = a

	a.logger.Info("connecting", slog.String("model", s.config.model))
	s.setStatus(StatusFetchingCredential)

	go s.run(a)

	return a
}

func (s *Session) run(a *attempt) {
	link, err := s.establish(a)
	if !s.post(func() { s.settle(a, link, err) }) && link != nil {
		_ = link.Close()
	}
}

// establish runs the network steps of an attempt off the control loop.
func (s *Session) establish(a *attempt) (transport.Link, error) {
	if err := s.config.validate(); err != nil {
		return nil, &CredentialError{Err: err}
	}

	credential, err := s.broker.Acquire(a.ctx, s.config.apiKey, s.config.model, s.config.voice)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("credential acquired")

	s.post(func() { s.advance(a, StatusConnecting) })

	link, err := s.transport.Open(a.ctx, credential)
	if err != nil {
		return nil, negotiationError(err)
	}

	return link, nil
}

func (s *Session) advance(a *attempt, status Status) {
	if s.attempt != a {
		return
	}
	s.setStatus(status)
}

func (s *Session) settle(a *attempt, link transport.Link, err error) {
	if s.attempt != a {
		a.logger.Debug("discarding stale attempt result", slog.Bool("has_link", link != nil))
		if link != nil {
			_ = link.Close()
		}
		return
	}

	if err != nil {
		a.logger.Error("connection attempt failed", slog.Any("err", err))
		a.cancel()
		s.attempt = nil
		s.setStatus(StatusError)
		s.reportError(err)
		a.finish(err)
		return
	}

	a.link = link
	s.channel = newEventChannel(link, a.logger)
	s.mute.attach(link.Microphone())
	s.setStatus(StatusConnected)
	a.finish(nil)

	go s.forward(a, link)
}

// forward moves link events onto the control loop in arrival order.
func (s *Session) forward(a *attempt, link transport.Link) {
	for evt := range link.Events() {
		if !s.post(func() { s.handleTransportEvent(a, evt) }) {
			return
		}
	}
}

func (s *Session) handleTransportEvent(a *attempt, evt transport.Event) {
	if s.attempt != a {
		return
	}

	switch evt.Kind {
	case transport.ChannelOpen:
		a.logger.Debug("event channel open")
		s.channel.open = true
		if !a.configured {
			a.configured = true
			if err := s.channel.send(events.NewSessionUpdate(s.sessionUpdate())); err != nil {
				a.logger.Error("failed to configure session", slog.Any("err", err))
			}
		}

	case transport.ChannelMessage:
		if evt.Binary {
			a.logger.Debug("dropping binary message", slog.Int("len", len(evt.Data)))
			metrics.DroppedMessages.WithLabelValues("binary").Inc()
			return
		}
		s.handleMessage(a, evt.Data)

	case transport.ChannelClosed:
		a.logger.Debug("event channel closed")
		s.channel.open = false

	case transport.ConnectionFailed, transport.ConnectionClosed:
		a.logger.Warn("connection lost", slog.String("reason", evt.Kind.String()))
		s.teardown(StatusDisconnected, nil)
	}
}

func (s *Session) sessionUpdate() events.SessionUpdate {
	return events.SessionUpdate{
		TurnDetection: events.ServerVAD(),
		Instructions:  s.config.instruction,
		Voice:         s.config.voice,
		Tools:         s.config.tools,
		ToolChoice:    tool.ChoiceFor(s.config.tools),
	}
}

// teardown invalidates the current attempt, releases its link and resets the
// conversation. status is either StatusDisconnected or StatusError.
func (s *Session) teardown(status Status, cause error) {
	if a := s.attempt; a != nil {
		s.attempt = nil
		a.cancel()
		if a.link != nil {
			if err := a.link.Close(); err != nil {
				a.logger.Debug("failed to close link", slog.Any("err", err))
			}
		}
		a.finish(ErrAborted)
	}

	s.channel = nil
	s.mute.detach()
	s.conversation.Reset()
	s.remote.Reset()

	if cause != nil {
		s.logger.Warn("session torn down", slog.Any("err", cause))
	}
	s.setStatus(status)
}

// Disconnect releases every resource of the current attempt and returns the
// session to StatusDisconnected. It is safe to call from any state and from
// any goroutine except a handler.
func (s *Session) Disconnect() {
	_ = s.call(func() error {
		s.teardown(StatusDisconnected, nil)
		return nil
	})
}

// Close disconnects and stops the control loop. Later commands return
// ErrClosed.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.Disconnect()
		close(s.done)
		<-s.loopDone

		s.closeMu.Lock()
		s.closed = true
		s.closeMu.Unlock()

		// actions queued before the loop stopped still run, so late attempt
		// results release their links
		s.drain()
		s.remote.Close()
	})
	return nil
}

func (s *Session) drain() {
	for {
		select {
		case f := <-s.actions:
			f()
		default:
			return
		}
	}
}

func (s *Session) setStatus(to Status) {
	s.statusMu.Lock()
	from := s.status
	if from == to {
		s.statusMu.Unlock()
		return
	}
	if !from.canTransition(to) {
		s.statusMu.Unlock()
		s.logger.Warn("invalid status transition", slog.String("from", from.String()), slog.String("to", to.String()))
		return
	}
	s.status = to
	s.statusMu.Unlock()

	metrics.StatusTransitions.WithLabelValues(to.String()).Inc()
	switch {
	case to == StatusConnected:
		metrics.ConnectedSessions.Inc()
	case from == StatusConnected:
		metrics.ConnectedSessions.Dec()
	}

	s.logger.Info("status changed", slog.String("from", from.String()), slog.String("to", to.String()))

	if s.onStatus != nil {
		s.onStatus(to)
	}
}

func (s *Session) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

func (s *Session) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Session) Conversation() *Conversation {
	return s.conversation
}

// RemoteAudio streams the remote audio track as Ogg/Opus. Reads block until
// audio arrives.
func (s *Session) RemoteAudio() io.Reader {
	return s.remote
}

// ToggleMute flips the mute state and returns the new value. It works in any
// status; a microphone attached later adopts the state.
func (s *Session) ToggleMute() bool {
	return s.mute.Toggle()
}

func (s *Session) Muted() bool {
	return s.mute.Muted()
}

// Send writes any event to the event channel. It returns ErrNotConnected
// while the channel is not open.
func (s *Session) Send(evt any) error {
	return s.call(func() error {
		return s.channel.send(evt)
	})
}

func (s *Session) CreateResponse() error {
	return s.CreateResponseWithPayload(events.ResponseCreatePayload{
		Modalities:   []string{"text", "audio"},
		Instructions: "Please assist the user.",
	})
}

func (s *Session) CreateResponseWithPayload(p events.ResponseCreatePayload) error {
	return s.Send(events.NewResponseCreate(p))
}

// OnStatus registers a handler for status changes. Handlers run on the
// control loop and must not block or call Connect or Disconnect.
func (s *Session) OnStatus(h func(Status)) {
	_ = s.call(func() error { s.onStatus = h; return nil })
}

// OnItem registers a handler receiving a copy of every created or updated
// conversation item.
func (s *Session) OnItem(h func(ConversationItem)) {
	_ = s.call(func() error { s.onItem = h; return nil })
}

// OnEvent registers a handler receiving every parsed server event, e.g.
// *events.SessionCreatedEvent.
func (s *Session) OnEvent(h func(evt any)) {
	_ = s.call(func() error { s.onEvent = h; return nil })
}

// OnError registers a handler for failed attempts and server error events.
func (s *Session) OnError(h func(err error)) {
	_ = s.call(func() error { s.onError = h; return nil })
}
