package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/codewandler/openairtc-go/transport"
)

const (
	eventBufferSize = 1000
	closeTimeout    = 2 * time.Second

	DefaultPingInterval = 30 * time.Second
)

type TransportConfig struct {
	// URL is the full realtime endpoint including the model query.
	URL         string
	DialTimeout time.Duration
	// PingInterval paces keepalive pings. Defaults to DefaultPingInterval.
	PingInterval time.Duration
	Logger       *slog.Logger
}

// Transport implements transport.Transport over a single WebSocket. The
// socket is writable as soon as the handshake completes, so ChannelOpen is
// always the first event of a link.
type Transport struct {
	config TransportConfig
	logger *slog.Logger
}

func NewTransport(config TransportConfig) *Transport {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if config.PingInterval == 0 {
		config.PingInterval = DefaultPingInterval
	}
	return &Transport{config: config, logger: logger}
}

func (t *Transport) Open(ctx context.Context, credential string) (transport.Link, error) {
	headers := http.Header{}
	headers.Add("Authorization", "Bearer "+credential)
	headers.Add("OpenAI-Beta", "realtime=v1")

	l := &link{
		events: make(chan transport.Event, eventBufferSize),
		done:   make(chan struct{}),
	}

	client, err := Connect(ctx, ClientConfig{
		URL:         t.config.URL,
		DialTimeout: t.config.DialTimeout,
		Headers:     headers,
		Logger:      t.logger,
		OnOpen: func() {
			l.emit(transport.Event{Kind: transport.ChannelOpen})
		},
		OnText: func(data []byte) error {
			l.emit(transport.Event{Kind: transport.ChannelMessage, Data: data})
			return nil
		},
		OnBinary: func(data []byte) error {
			l.emit(transport.Event{Kind: transport.ChannelMessage, Data: data, Binary: true})
			return nil
		},
		OnClose: func() {
			l.emit(transport.Event{Kind: transport.ChannelClosed})
			l.emit(transport.Event{Kind: transport.ConnectionClosed})
		},
	})
	if err != nil {
		return nil, &transport.StepError{Step: transport.StepDial, Err: err}
	}
	l.client = client

	go l.keepalive(t.config.PingInterval, t.logger)

	return l, nil
}

type link struct {
	client *Client

	mu     sync.RWMutex
	closed bool
	events chan transport.Event

	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
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

func (l *link) keepalive(interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-l.client.Done():
			return
		case <-ticker.C:
			if err := l.client.Ping([]byte("ping")); err != nil {
				logger.Debug("keepalive stopped", slog.Any("err", err))
				return
			}
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
	return l.client.WriteText(data)
}

// Microphone is nil; audio is not carried over the WebSocket.
func (l *link) Microphone() transport.Microphone {
	return nil
}

func (l *link) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)

		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		l.closeErr = l.client.Close(ctx)

		l.mu.Lock()
		l.closed = true
		close(l.events)
		l.mu.Unlock()
	})
	return l.closeErr
}
