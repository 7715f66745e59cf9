package action

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
)

// Webhook calls an HTTP endpoint and treats any 2xx as success. Params:
// url (required), method (default POST), body, content_type, plus any
// header_<Name> entries, forwarded as request headers.
type Webhook struct {
	client *http.Client
	logger *slog.Logger
}

func NewWebhook(logger *slog.Logger) *Webhook {
	return &Webhook{
		client: &http.Client{}, // no global timeout, the run deadline bounds each call
		logger: logger.With("action", "webhook"),
	}
}

func (w *Webhook) Invoke(ctx context.Context, params Params) error {
	url := params["url"]
	if url == "" {
		return errors.New("webhook: url param is required")
	}
	method := params["method"]
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if b := params["body"]; b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if ct := params["content_type"]; ct != "" {
		req.Header.Set("Content-Type", ct)
	}
	for k, v := range params {
		if name, ok := strings.CutPrefix(k, "header_"); ok && name != "" {
			req.Header.Set(name, v)
		}
	}

	w.logger.Debug("calling webhook", "method", method, "url", url)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body) // drain so the connection can be reused by the pool

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}
