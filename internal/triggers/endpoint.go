package triggers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPEndpoint posts trigger dispatches to an automation agent URL with an
// explicit timeout.
type HTTPEndpoint struct {
	url    string
	client *http.Client
}

func NewHTTPEndpoint(url string, timeout time.Duration) *HTTPEndpoint {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEndpoint{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (e *HTTPEndpoint) Invoke(ctx context.Context, action string, payload map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"action":  action,
		"payload": payload,
	})
	if err != nil {
		return fmt.Errorf("marshal trigger payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("invoke %s: agent returned %d", action, resp.StatusCode)
	}
	return nil
}
