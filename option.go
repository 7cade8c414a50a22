package openairtc

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/codewandler/openairtc-go/tool"
	"github.com/codewandler/openairtc-go/transport"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	ApiKeyEnvVarNameShort = "OPENAI_KEY"
	ApiKeyEnvVarNameLong  = "OPENAI_API_KEY"

	DefaultBaseURL = "https://api.openai.com"
	DefaultModel   = "gpt-4o-realtime-preview-2024-12-17"
	DefaultVoice   = "verse"
)

// AudioSource feeds encoded Opus samples into the local audio track.
type AudioSource interface {
	ReadSample(ctx context.Context) (media.Sample, error)
}

type sessionConfig struct {
	model          string
	apiKey         string
	voice          string
	instruction    string
	baseURL        string
	tools          []tool.Tool
	httpClient     *http.Client
	transport      transport.Transport
	websocket      bool
	audioSource    AudioSource
	iceServers     []webrtc.ICEServer
	escalateErrors bool
	logger         *slog.Logger
}

func (c *sessionConfig) validate() error {
	if c.apiKey == "" {
		return fmt.Errorf("missing api key")
	}
	return nil
}

type Option func(*sessionConfig)

func WithKey(apiKey string) Option {
	return func(c *sessionConfig) {
		c.apiKey = apiKey
	}
}

// WithEnvKey takes the API key from the first non-empty variable.
func WithEnvKey(vars ...string) Option {
	return func(c *sessionConfig) {
		for _, envVarName := range vars {
			if k := os.Getenv(envVarName); k != "" {
				c.apiKey = k
				return
			}
		}
	}
}

func WithModel(model string) Option {
	return func(c *sessionConfig) {
		c.model = model
	}
}

func WithVoice(voice string) Option {
	return func(c *sessionConfig) {
		c.voice = voice
	}
}

// WithInstruction sets the instructions pushed with the initial session.update.
func WithInstruction(instruction string) Option {
	return func(c *sessionConfig) {
		c.instruction = instruction
	}
}

func WithTools(tools ...tool.Tool) Option {
	return func(c *sessionConfig) {
		c.tools = tools
	}
}

func WithBaseURL(baseURL string) Option {
	return func(c *sessionConfig) {
		c.baseURL = baseURL
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *sessionConfig) {
		c.httpClient = client
	}
}

// WithTransport replaces the link implementation entirely.
func WithTransport(t transport.Transport) Option {
	return func(c *sessionConfig) {
		c.transport = t
	}
}

// WithWebSocket carries events over a WebSocket instead of WebRTC. There is no
// local audio track in this mode.
func WithWebSocket() Option {
	return func(c *sessionConfig) {
		c.websocket = true
	}
}

func WithAudioSource(source AudioSource) Option {
	return func(c *sessionConfig) {
		c.audioSource = source
	}
}

func WithICEServers(servers ...webrtc.ICEServer) Option {
	return func(c *sessionConfig) {
		c.iceServers = servers
	}
}

// WithErrorEscalation moves the session to StatusError when the server sends
// an error event. By default such events are only logged and reported.
func WithErrorEscalation(enabled bool) Option {
	return func(c *sessionConfig) {
		c.escalateErrors = enabled
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *sessionConfig) {
		c.logger = logger
	}
}

func WithDefaultLogger() Option {
	return WithLogger(slog.Default())
}

func WithOptions(opts ...Option) Option {
	return func(c *sessionConfig) {
		for _, opt := range opts {
			opt(c)
		}
	}
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

func withDefaults() Option {
	return WithOptions(
		WithLogger(slog.New(slog.DiscardHandler)),
		WithModel(DefaultModel),
		WithVoice(DefaultVoice),
		WithBaseURL(DefaultBaseURL),
		WithHTTPClient(defaultHTTPClient()),
		WithEnvKey(ApiKeyEnvVarNameShort, ApiKeyEnvVarNameLong),
	)
}
