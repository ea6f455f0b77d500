package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nichepass/nichepass/internal/pkg/httpretry"
)

// HTTPProvider sends email through a generic JSON transactional-mail API
// (POST {base}/send with a bearer key). Retries and backoff come from the
// shared retrying client, so transient 429/5xx answers are absorbed here.
type HTTPProvider struct {
	baseURL string
	apiKey  string
	http    httpretry.HTTPDoer
}

// NewHTTPProvider creates an HTTP email provider.
func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3),
	}
}

// Name identifies the provider in logs and results.
func (p *HTTPProvider) Name() string { return "http" }

type httpSendRequest struct {
	To        string            `json:"to"`
	ToName    string            `json:"to_name,omitempty"`
	FromName  string            `json:"from_name"`
	FromEmail string            `json:"from_email"`
	Subject   string            `json:"subject"`
	HTML      string            `json:"html"`
	Text      string            `json:"text,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// Send posts a single email to the provider API.
func (p *HTTPProvider) Send(ctx context.Context, msg *Message) error {
	body, err := json.Marshal(httpSendRequest{
		To:        msg.To,
		ToName:    msg.ToName,
		FromName:  msg.FromName,
		FromEmail: msg.FromEmail,
		Subject:   msg.Subject,
		HTML:      msg.HTML,
		Text:      msg.Text,
		Tags:      msg.Tags,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("email api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("email api returned %d: %s", resp.StatusCode, raw)
	}
	return nil
}
