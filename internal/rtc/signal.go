package rtc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Signaler trades a local offer for the remote answer.
type Signaler interface {
	Handshake(ctx context.Context, credential, offer string) (answer string, err error)
}

// HTTPSignaler posts the offer SDP to the realtime endpoint and reads the
// answer SDP from the response body.
type HTTPSignaler struct {
	BaseURL string
	Model   string
	Client  *http.Client
}

func (s *HTTPSignaler) endpoint() string {
	return fmt.Sprintf("%s/v1/realtime?model=%s", strings.TrimRight(s.BaseURL, "/"), url.QueryEscape(s.Model))
}

func (s *HTTPSignaler) Handshake(ctx context.Context, credential, offer string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(), bytes.NewBufferString(offer))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/sdp")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read answer: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if len(body) == 0 {
		return "", fmt.Errorf("empty answer")
	}

	return string(body), nil
}
