package openairtc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// CredentialBroker exchanges the long-lived API key for a short-lived
// credential that authorizes a single offer/answer exchange.
type CredentialBroker struct {
	BaseURL string
	Client  *http.Client
}

type sessionRequest struct {
	Model string `json:"model"`
	Voice string `json:"voice"`
}

type sessionResponse struct {
	ClientSecret *struct {
		Value *string `json:"value"`
	} `json:"client_secret"`
}

// AcquireCredential requests a credential from the default endpoint.
func AcquireCredential(ctx context.Context, apiKey, model, voice string) (string, error) {
	b := &CredentialBroker{BaseURL: DefaultBaseURL, Client: defaultHTTPClient()}
	return b.Acquire(ctx, apiKey, model, voice)
}

// Acquire issues one request and either returns the credential or a
// *CredentialError. It never retries.
func (b *CredentialBroker) Acquire(ctx context.Context, apiKey, model, voice string) (string, error) {
	credential, err := b.acquire(ctx, apiKey, model, voice)
	if err != nil {
		return "", &CredentialError{Err: err}
	}
	return credential, nil
}

func (b *CredentialBroker) acquire(ctx context.Context, apiKey, model, voice string) (string, error) {
	if apiKey == "" {
		return "", errors.New("missing api key")
	}

	body, err := json.Marshal(sessionRequest{Model: model, Voice: voice})
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(b.BaseURL, "/") + "/v1/realtime/sessions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	client := b.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var res sessionResponse
	if err := json.Unmarshal(data, &res); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if res.ClientSecret == nil || res.ClientSecret.Value == nil || *res.ClientSecret.Value == "" {
		return "", errors.New("response carries no client_secret.value")
	}

	return *res.ClientSecret.Value, nil
}
