package events

import "github.com/codewandler/openairtc-go/tool"

// Session is the server's view of the session as sent in session.created and
// session.updated.
type Session struct {
	ID            string         `json:"id,omitempty"`
	Object        string         `json:"object,omitempty"`
	Model         string         `json:"model,omitempty"`
	ExpiresAt     int64          `json:"expires_at,omitempty"`
	Modalities    []string       `json:"modalities,omitempty"`
	Instructions  string         `json:"instructions,omitempty"`
	Voice         string         `json:"voice,omitempty"`
	TurnDetection *TurnDetection `json:"turn_detection,omitempty"`
}

type SessionUpdate struct {
	TurnDetection *TurnDetection `json:"turn_detection,omitempty"`
	Instructions  string         `json:"instructions,omitempty"`
	Voice         string         `json:"voice,omitempty"`
	Tools         []tool.Tool    `json:"tools,omitempty"`
	ToolChoice    tool.Choice    `json:"tool_choice,omitempty"`
}

// TurnDetection holds the VAD configuration.
type TurnDetection struct {
	Type              string  `json:"type,omitempty"`
	Threshold         float64 `json:"threshold,omitempty"`
	PrefixPaddingMs   int     `json:"prefix_padding_ms,omitempty"`
	SilenceDurationMs int     `json:"silence_duration_ms,omitempty"`
}

// ServerVAD returns the turn detection settings pushed when the event channel
// opens.
func ServerVAD() *TurnDetection {
	return &TurnDetection{
		Type:              "server_vad",
		Threshold:         0.5,
		PrefixPaddingMs:   300,
		SilenceDurationMs: 200,
	}
}
