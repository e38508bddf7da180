package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultWhatsAppBaseURL is the Graph API endpoint of the WhatsApp Cloud API.
const DefaultWhatsAppBaseURL = "https://graph.facebook.com/v17.0"

// WhatsAppTimeout bounds a single Cloud API call. Notification leases must outlast it.
const WhatsAppTimeout = 15 * time.Second

// WhatsAppTransport sends text messages through the WhatsApp Cloud API.
type WhatsAppTransport struct {
	baseURL       string
	accessToken   string
	phoneNumberID string
	httpClient    *http.Client
}

// NewWhatsAppTransport constructs a transport.
func NewWhatsAppTransport(baseURL, accessToken, phoneNumberID string) *WhatsAppTransport {
	if baseURL == "" {
		baseURL = DefaultWhatsAppBaseURL
	}
	return &WhatsAppTransport{
		baseURL:       strings.TrimRight(baseURL, "/"),
		accessToken:   accessToken,
		phoneNumberID: phoneNumberID,
		httpClient: &http.Client{
			Timeout: WhatsAppTimeout,
		},
	}
}

// Configured reports whether credentials are present.
func (t *WhatsAppTransport) Configured() bool {
	return t != nil && t.accessToken != "" && t.phoneNumberID != ""
}

type whatsAppRequest struct {
	MessagingProduct string `json:"messaging_product"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body string `json:"body"`
	} `json:"text"`
}

type whatsAppResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Send posts a text message. Network failures, 429 and 5xx are transient; every other
// non-2xx status is permanent.
func (t *WhatsAppTransport) Send(ctx context.Context, phone, message string) (string, error) {
	var body whatsAppRequest
	body.MessagingProduct = "whatsapp"
	body.To = strings.TrimPrefix(phone, "+")
	body.Type = "text"
	body.Text.Body = message
	raw, err := json.Marshal(body)
	if err != nil {
		return "", PermanentError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/%s/messages", t.baseURL, t.phoneNumberID), bytes.NewReader(raw))
	if err != nil {
		return "", PermanentError(err)
	}
	req.Header.Set("Authorization", "Bearer "+t.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", TransientError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return "", TransientError(statusError(resp.StatusCode, payload, readErr))
	case resp.StatusCode >= 400:
		return "", PermanentError(statusError(resp.StatusCode, payload, readErr))
	}

	// Accepted; an unreadable body or a missing id is not worth a resend.
	if readErr != nil {
		return "", nil
	}
	var out whatsAppResponse
	if err := json.Unmarshal(payload, &out); err != nil || len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}

func statusError(status int, payload []byte, readErr error) error {
	if readErr != nil {
		return fmt.Errorf("whatsapp returned status %d, read body: %w", status, readErr)
	}
	return fmt.Errorf("whatsapp returned status %d: %s", status, strings.TrimSpace(string(payload)))
}
