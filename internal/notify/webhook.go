package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Webhook posts a JSON message to a chat-style incoming webhook.
type Webhook struct {
	// URL is the incoming-webhook endpoint.
	URL string

	// Token is an optional bearer token.
	Token string

	// Template overrides the default message line.
	Template string

	// Client is the HTTP client to use. If nil, http.DefaultClient is used.
	Client *http.Client
}

type webhookPayload struct {
	Text    string `json:"text"`
	BuildID string `json:"build_id"`
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
}

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	msg, err := renderMessage(w.Template, ev)
	if err != nil {
		return err
	}

	body, err := json.Marshal(webhookPayload{
		Text:    msg,
		BuildID: ev.Build.ID,
		Status:  string(ev.Build.Build.Status),
		URL:     ev.URL,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.Token)
	}

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("webhook error: %s - %s", resp.Status, string(respBody))
	}

	return nil
}
