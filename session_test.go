package openairtc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/codewandler/openairtc-go/events"
	"github.com/codewandler/openairtc-go/internal/metrics"
	"github.com/codewandler/openairtc-go/tool"
	"github.com/codewandler/openairtc-go/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func newTestSession(t *testing.T, baseURL string, opts ...Option) (*Session, *statusRecorder) {
	t.Helper()

	s := New(WithOptions(
		WithKey("sk_test"),
		WithBaseURL(baseURL),
		WithHTTPClient(http.DefaultClient),
	), WithOptions(opts...))
	t.Cleanup(func() { _ = s.Close() })

	rec := &statusRecorder{}
	s.OnStatus(rec.record)

	return s, rec
}

// connected returns a session whose event channel is open.
func connected(t *testing.T, opts ...Option) (*Session, *fakeLink) {
	t.Helper()

	srv := newCredentialServer(t, http.StatusOK, credentialOK)
	tr := &fakeTransport{}
	s, _ := newTestSession(t, srv.URL, append([]Option{WithTransport(tr)}, opts...)...)

	require.NoError(t, s.Connect(context.Background()))
	l := tr.link()
	l.push(transport.Event{Kind: transport.ChannelOpen})
	require.Eventually(t, func() bool { return len(l.Sent()) == 1 }, waitFor, tick)

	return s, l
}

func TestSession_ConnectScenario(t *testing.T) {
	srv := newCredentialServer(t, http.StatusOK, credentialOK)
	tr := &fakeTransport{}
	s, rec := newTestSession(t, srv.URL, WithTransport(tr))

	assert.Equal(t, StatusDisconnected, s.Status())

	require.NoError(t, s.Connect(context.Background()))

	assert.Equal(t, StatusConnected, s.Status())
	assert.Equal(t, []Status{StatusFetchingCredential, StatusConnecting, StatusConnected}, rec.All())
	assert.Equal(t, []string{"ek_test"}, tr.credentials)
	assert.EqualValues(t, 1, srv.hits.Load())
}

func TestSession_ConnectWhileBusyIsNoop(t *testing.T) {
	srv := newCredentialServer(t, http.StatusOK, credentialOK)
	tr := &fakeTransport{entered: make(chan struct{}, 1), release: make(chan struct{})}
	s, _ := newTestSession(t, srv.URL, WithTransport(tr))

	result := make(chan error, 1)
	go func() { result <- s.Connect(context.Background()) }()

	<-tr.entered
	require.Eventually(t, func() bool { return s.Status() == StatusConnecting }, waitFor, tick)

	assert.ErrorIs(t, s.Connect(context.Background()), ErrBusy)
	assert.ErrorIs(t, s.Connect(context.Background()), ErrBusy)

	close(tr.release)
	require.NoError(t, <-result)

	assert.ErrorIs(t, s.Connect(context.Background()), ErrBusy)
	assert.EqualValues(t, 1, srv.hits.Load())
	assert.Equal(t, 1, tr.opens())
}

func TestSession_MalformedCredential(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"missing client_secret", http.StatusOK, `{"id":"sess_1"}`},
		{"not json", http.StatusOK, `<html>`},
		{"non-2xx", http.StatusUnauthorized, `{"error":{"message":"bad key"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newCredentialServer(t, tt.status, tt.body)
			tr := &fakeTransport{}
			s, rec := newTestSession(t, srv.URL, WithTransport(tr))

			var errs []error
			s.OnError(func(err error) { errs = append(errs, err) })

			err := s.Connect(context.Background())

			var credErr *CredentialError
			require.ErrorAs(t, err, &credErr)
			assert.Equal(t, StatusError, s.Status())
			assert.Equal(t, []Status{StatusFetchingCredential, StatusError}, rec.All())
			assert.NotContains(t, rec.All(), StatusConnecting)
			assert.Zero(t, tr.opens())
			require.Len(t, errs, 1)
		})
	}
}

func TestSession_MissingKey(t *testing.T) {
	t.Setenv(ApiKeyEnvVarNameShort, "")
	t.Setenv(ApiKeyEnvVarNameLong, "")

	srv := newCredentialServer(t, http.StatusOK, credentialOK)
	s := New(WithBaseURL(srv.URL), WithTransport(&fakeTransport{}))
	defer s.Close()

	var credErr *CredentialError
	require.ErrorAs(t, s.Connect(context.Background()), &credErr)
	assert.Equal(t, StatusError, s.Status())
	assert.Zero(t, srv.hits.Load())
}

func TestSession_ConnectFromErrorStartsFreshAttempt(t *testing.T) {
	srv := newCredentialServer(t, http.StatusOK, credentialOK)
	tr := &fakeTransport{err: &transport.StepError{Step: transport.StepDial, Err: assert.AnError}}
	s, _ := newTestSession(t, srv.URL, WithTransport(tr))

	require.Error(t, s.Connect(context.Background()))
	assert.Equal(t, StatusError, s.Status())

	tr.mu.Lock()
	tr.err = nil
	tr.mu.Unlock()

	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, StatusConnected, s.Status())
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestSession_SignalingRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/realtime/sessions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(credentialOK))
	})
	mux.HandleFunc("POST /v1/realtime", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ek_test", r.Header.Get("Authorization"))
		http.Error(w, `{"error":{"message":"invalid offer"}}`, http.StatusBadRequest)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	s, rec := newTestSession(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := s.Connect(ctx)

	var negErr *NegotiationError
	require.ErrorAs(t, err, &negErr)
	assert.Equal(t, transport.StepSignaling, negErr.Step)
	assert.Equal(t, StatusError, s.Status())
	assert.Equal(t, []Status{StatusFetchingCredential, StatusConnecting, StatusError}, rec.All())
	assert.Zero(t, s.Conversation().Len())
}

func TestSession_SessionUpdateOnOpen(t *testing.T) {
	s, l := connected(t,
		WithInstruction("Be brief."),
		WithTools(tool.Function("get_time", "Get current time", nil)),
	)

	var evt struct {
		Type    string `json:"type"`
		EventID string `json:"event_id"`
		Session struct {
			Instructions  string                `json:"instructions"`
			Voice         string                `json:"voice"`
			ToolChoice    string                `json:"tool_choice"`
			Tools         []tool.Tool           `json:"tools"`
			TurnDetection *events.TurnDetection `json:"turn_detection"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(l.Sent()[0], &evt))

	assert.Equal(t, "session.update", evt.Type)
	assert.NotEmpty(t, evt.EventID)
	require.NotNil(t, evt.Session.TurnDetection)
	assert.Equal(t, "server_vad", evt.Session.TurnDetection.Type)
	assert.Equal(t, 0.5, evt.Session.TurnDetection.Threshold)
	assert.Equal(t, 300, evt.Session.TurnDetection.PrefixPaddingMs)
	assert.Equal(t, 200, evt.Session.TurnDetection.SilenceDurationMs)
	assert.Equal(t, "Be brief.", evt.Session.Instructions)
	assert.Equal(t, DefaultVoice, evt.Session.Voice)
	assert.Equal(t, "auto", evt.Session.ToolChoice)
	assert.Len(t, evt.Session.Tools, 1)

	// a second open signal must not configure the session again
	l.push(transport.Event{Kind: transport.ChannelOpen})
	require.NoError(t, s.CreateResponse())

	sent := l.Sent()
	require.Len(t, sent, 2)
	typ, err := events.TypeOf(sent[1])
	require.NoError(t, err)
	assert.Equal(t, events.TypeResponseCreate, typ)
}

func TestSession_SendRequiresOpenChannel(t *testing.T) {
	srv := newCredentialServer(t, http.StatusOK, credentialOK)
	tr := &fakeTransport{}
	s, _ := newTestSession(t, srv.URL, WithTransport(tr))

	assert.ErrorIs(t, s.CreateResponse(), ErrNotConnected)

	require.NoError(t, s.Connect(context.Background()))
	assert.ErrorIs(t, s.Send(map[string]any{"type": "response.create"}), ErrNotConnected)
	assert.Equal(t, StatusConnected, s.Status())
	assert.Empty(t, tr.link().Sent())
}

func TestSession_SendMarshalFailure(t *testing.T) {
	s, l := connected(t)

	var sendErr *ChannelSendError
	require.ErrorAs(t, s.Send(map[string]any{"bad": make(chan int)}), &sendErr)
	assert.Equal(t, StatusConnected, s.Status())
	assert.Len(t, l.Sent(), 1)
}

func TestSession_CreateResponsePayload(t *testing.T) {
	s, l := connected(t)

	require.NoError(t, s.CreateResponse())

	evt, err := events.Parse[events.ResponseCreateEvent](l.Sent()[1])
	require.NoError(t, err)
	assert.Equal(t, []string{"text", "audio"}, evt.Response.Modalities)
	assert.Equal(t, "Please assist the user.", evt.Response.Instructions)
}

func TestSession_DropsUntypedMessages(t *testing.T) {
	s, l := connected(t)

	l.message(`{"item_id":"item_x","delta":"ignored"}`)
	l.message(`{"type":"","item_id":"item_x","delta":"ignored"}`)
	l.message(`not json`)
	l.push(transport.Event{Kind: transport.ChannelMessage, Data: []byte{0x00, 0x01}, Binary: true})
	l.message(`{"type":"response.text.delta","item_id":"item_sync","delta":"ok"}`)

	require.Eventually(t, func() bool { return s.Conversation().Len() == 1 }, waitFor, tick)

	_, ok := s.Conversation().Item("item_x")
	assert.False(t, ok)
	assert.Equal(t, StatusConnected, s.Status())
}

func TestSession_TextDeltasAreOrderDependent(t *testing.T) {
	text := func(deltas ...string) string {
		s, l := connected(t)
		for _, d := range deltas {
			data, err := json.Marshal(events.ResponseTextDeltaEvent{
				BaseEvent: events.NewBaseEvent(events.TypeResponseTextDelta),
				ItemID:    "item_1",
				Delta:     d,
			})
			require.NoError(t, err)
			l.message(string(data))
		}
		l.message(`{"type":"response.text.delta","item_id":"item_done","delta":"."}`)
		require.Eventually(t, func() bool { return s.Conversation().Len() == 2 }, waitFor, tick)

		item, ok := s.Conversation().Item("item_1")
		require.True(t, ok)
		require.NotNil(t, item.Text)
		assert.Equal(t, RoleAssistant, item.Role)
		assert.Equal(t, ItemTypeMessage, item.Type)
		return *item.Text
	}

	assert.Equal(t, "Hello", text("Hel", "lo"))
	assert.Equal(t, "loHel", text("lo", "Hel"))
}

func TestSession_ConversationItemCreated(t *testing.T) {
	s, l := connected(t)

	updates := make(chan ConversationItem, 10)
	s.OnItem(func(item ConversationItem) { updates <- item })

	l.message(`{"type":"conversation.item.created","item":{"id":"item_u","type":"message","role":"user","content":[{"type":"input_text","text":"What time is it?"}]}}`)
	l.message(`{"type":"conversation.item.created","item":{"id":"item_f","type":"function_call","call_id":"call_1","name":"get_time","arguments":"{}"}}`)
	l.message(`{"type":"response.audio.delta","item_id":"item_a","delta":"AAEC"}`)
	l.message(`{"type":"response.audio.delta","item_id":"item_a","delta":"AwQ="}`)

	require.Eventually(t, func() bool {
		item, ok := s.Conversation().Item("item_a")
		return ok && len(item.Audio) == 5
	}, waitFor, tick)

	require.Eventually(t, func() bool { return len(updates) == 4 }, waitFor, tick)
	assert.Equal(t, "item_u", (<-updates).ID)

	all := s.Conversation().Items()
	require.Len(t, all, 3)

	assert.Equal(t, "item_u", all[0].ID)
	assert.Equal(t, RoleUser, all[0].Role)
	assert.Equal(t, "What time is it?", *all[0].Text)

	assert.Equal(t, ItemTypeFunctionCall, all[1].Type)
	assert.Equal(t, RoleAssistant, all[1].Role)
	assert.Equal(t, &FunctionCall{ID: "call_1", Name: "get_time", Arguments: "{}"}, all[1].FunctionCall)

	assert.Equal(t, []byte{0, 1, 2, 3, 4}, all[2].Audio)
	assert.Nil(t, all[2].Text)
}

func TestSession_ErrorEventPolicy(t *testing.T) {
	const errorEvent = `{"type":"error","error":{"type":"invalid_request_error","code":"bad","message":"unknown parameter"}}`

	t.Run("logged by default", func(t *testing.T) {
		s, l := connected(t)

		errs := make(chan error, 1)
		s.OnError(func(err error) { errs <- err })

		l.message(errorEvent)

		var evt *events.ErrorEvent
		require.ErrorAs(t, <-errs, &evt)
		assert.Equal(t, "unknown parameter", evt.ErrorDetail.Message)
		assert.Equal(t, StatusConnected, s.Status())
		assert.False(t, l.Closed())
	})

	t.Run("escalated", func(t *testing.T) {
		s, l := connected(t, WithErrorEscalation(true))

		l.message(errorEvent)

		require.Eventually(t, func() bool { return s.Status() == StatusError }, waitFor, tick)
		assert.True(t, l.Closed())
		assert.ErrorIs(t, s.CreateResponse(), ErrNotConnected)
	})
}

func TestSession_TransportFailure(t *testing.T) {
	for _, kind := range []transport.EventKind{transport.ConnectionFailed, transport.ConnectionClosed} {
		t.Run(kind.String(), func(t *testing.T) {
			s, l := connected(t)
			l.message(`{"type":"response.text.delta","item_id":"item_1","delta":"hi"}`)
			require.Eventually(t, func() bool { return s.Conversation().Len() == 1 }, waitFor, tick)

			l.push(transport.Event{Kind: kind})

			require.Eventually(t, func() bool { return s.Status() == StatusDisconnected }, waitFor, tick)
			assert.True(t, l.Closed())
			assert.Zero(t, s.Conversation().Len())
			assert.ErrorIs(t, s.CreateResponse(), ErrNotConnected)
		})
	}
}

func TestSession_DisconnectFromEveryState(t *testing.T) {
	t.Run("disconnected", func(t *testing.T) {
		s, rec := newTestSession(t, "http://127.0.0.1:1", WithTransport(&fakeTransport{}))
		s.Disconnect()
		s.Disconnect()
		assert.Equal(t, StatusDisconnected, s.Status())
		assert.Empty(t, rec.All())
	})

	t.Run("fetching_credential", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}))
		defer srv.Close()
		defer close(release)

		tr := &fakeTransport{}
		s, _ := newTestSession(t, srv.URL, WithTransport(tr))

		result := make(chan error, 1)
		go func() { result <- s.Connect(context.Background()) }()
		require.Eventually(t, func() bool { return s.Status() == StatusFetchingCredential }, waitFor, tick)

		s.Disconnect()

		assert.ErrorIs(t, <-result, ErrAborted)
		assert.Equal(t, StatusDisconnected, s.Status())
		assert.ErrorIs(t, s.CreateResponse(), ErrNotConnected)
		assert.Zero(t, tr.opens())
	})

	t.Run("connecting", func(t *testing.T) {
		srv := newCredentialServer(t, http.StatusOK, credentialOK)
		tr := &fakeTransport{entered: make(chan struct{}, 1), release: make(chan struct{})}
		s, _ := newTestSession(t, srv.URL, WithTransport(tr))

		result := make(chan error, 1)
		go func() { result <- s.Connect(context.Background()) }()
		<-tr.entered

		s.Disconnect()
		assert.ErrorIs(t, <-result, ErrAborted)
		assert.Equal(t, StatusDisconnected, s.Status())

		// the late link is discarded and released
		close(tr.release)
		require.Eventually(t, func() bool { return tr.link() != nil && tr.link().Closed() }, waitFor, tick)
		assert.Equal(t, StatusDisconnected, s.Status())
		assert.ErrorIs(t, s.CreateResponse(), ErrNotConnected)
	})

	t.Run("connected", func(t *testing.T) {
		s, l := connected(t)
		s.Disconnect()
		s.Disconnect()

		assert.Equal(t, StatusDisconnected, s.Status())
		assert.True(t, l.Closed())
		assert.ErrorIs(t, s.CreateResponse(), ErrNotConnected)
	})

	t.Run("error", func(t *testing.T) {
		srv := newCredentialServer(t, http.StatusInternalServerError, `oops`)
		s, _ := newTestSession(t, srv.URL, WithTransport(&fakeTransport{}))

		require.Error(t, s.Connect(context.Background()))
		require.Equal(t, StatusError, s.Status())

		s.Disconnect()
		assert.Equal(t, StatusDisconnected, s.Status())
	})
}

func TestSession_ReconnectAfterDisconnect(t *testing.T) {
	srv := newCredentialServer(t, http.StatusOK, credentialOK)
	tr := &fakeTransport{}
	s, _ := newTestSession(t, srv.URL, WithTransport(tr))

	require.NoError(t, s.Connect(context.Background()))
	first := tr.link()
	s.Disconnect()

	require.NoError(t, s.Connect(context.Background()))
	second := tr.link()
	assert.NotSame(t, first, second)
	assert.True(t, first.Closed())
	assert.False(t, second.Closed())

	second.push(transport.Event{Kind: transport.ChannelOpen})
	require.Eventually(t, func() bool { return len(second.Sent()) == 1 }, waitFor, tick)
}

func TestSession_MuteAdoptedByNewMicrophone(t *testing.T) {
	srv := newCredentialServer(t, http.StatusOK, credentialOK)
	tr := &fakeTransport{}
	s, _ := newTestSession(t, srv.URL, WithTransport(tr))

	assert.True(t, s.ToggleMute())
	assert.True(t, s.Muted())

	require.NoError(t, s.Connect(context.Background()))
	mic := tr.link().mic
	assert.False(t, mic.Enabled())

	assert.False(t, s.ToggleMute())
	assert.True(t, mic.Enabled())
	assert.Equal(t, StatusConnected, s.Status())
}

func TestSession_Close(t *testing.T) {
	s, l := connected(t)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.True(t, l.Closed())
	assert.ErrorIs(t, s.Connect(context.Background()), ErrClosed)
	assert.ErrorIs(t, s.CreateResponse(), ErrClosed)
}

func TestSession_CloseReleasesLateLink(t *testing.T) {
	srv := newCredentialServer(t, http.StatusOK, credentialOK)

	for i := 0; i < 20; i++ {
		tr := &fakeTransport{entered: make(chan struct{}, 1), release: make(chan struct{})}
		s, _ := newTestSession(t, srv.URL, WithTransport(tr))

		result := make(chan error, 1)
		go func() { result <- s.Connect(context.Background()) }()
		<-tr.entered

		require.NoError(t, s.Close())
		assert.Error(t, <-result)

		close(tr.release)
		require.Eventually(t, func() bool { return tr.link() != nil && tr.link().Closed() }, waitFor, tick, "run %d", i)
	}
}

func TestSession_SessionUpdateWithoutTools(t *testing.T) {
	_, l := connected(t)

	var evt struct {
		Session map[string]any `json:"session"`
	}
	require.NoError(t, json.Unmarshal(l.Sent()[0], &evt))

	assert.NotContains(t, evt.Session, "tools")
	assert.NotContains(t, evt.Session, "tool_choice")
	assert.Contains(t, evt.Session, "turn_detection")
}

func TestSession_Metrics(t *testing.T) {
	connectedBefore := testutil.ToFloat64(metrics.StatusTransitions.WithLabelValues(StatusConnected.String()))
	outboundBefore := testutil.ToFloat64(metrics.OutboundEvents.WithLabelValues(events.TypeSessionUpdate))
	untypedBefore := testutil.ToFloat64(metrics.DroppedMessages.WithLabelValues("untyped"))

	s, l := connected(t)
	l.message(`{"delta":"x"}`)
	l.message(`{"type":"response.text.delta","item_id":"item_1","delta":"x"}`)
	require.Eventually(t, func() bool { return s.Conversation().Len() == 1 }, waitFor, tick)

	assert.Equal(t, connectedBefore+1, testutil.ToFloat64(metrics.StatusTransitions.WithLabelValues(StatusConnected.String())))
	assert.Equal(t, outboundBefore+1, testutil.ToFloat64(metrics.OutboundEvents.WithLabelValues(events.TypeSessionUpdate)))
	assert.Equal(t, untypedBefore+1, testutil.ToFloat64(metrics.DroppedMessages.WithLabelValues("untyped")))
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "wss://api.openai.com/v1/realtime?model=gpt-4o", wsURL("https://api.openai.com/", "gpt-4o"))
	assert.Equal(t, "ws://127.0.0.1:8080/v1/realtime?model=m", wsURL("http://127.0.0.1:8080", "m"))
}
