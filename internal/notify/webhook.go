package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// TokenHeader carries the shared secret of a webhook.
const TokenHeader = "X-Mkwheelhouse-Token"

// Webhook posts events as JSON to URL.
type Webhook struct {
	URL    string
	Token  string
	Client *http.Client
}

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	if w == nil || w.URL == "" {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.Token != "" {
		req.Header.Set(TokenHeader, w.Token)
	}
	cli := w.Client
	if cli == nil {
		cli = http.DefaultClient
	}
	resp, err := cli.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook post %s status %s", w.URL, resp.Status)
	}
	return nil
}
