package scanning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Webhook posts the source document to an external extraction workflow and
// returns its reply. It is the primary extraction path; the local document
// reader plus a Generator is the fallback.
type Webhook struct {
	client *resty.Client
	url    string
}

// NewWebhook creates a new Webhook for url
func NewWebhook(url string, timeout time.Duration) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &Webhook{client: client, url: url}, nil
}

// Analyze uploads the document and returns the workflow's extraction text.
// Replies wrapped as {"output": "..."} or {"text": "..."} are unwrapped.
func (w *Webhook) Analyze(ctx context.Context, filename string, data []byte, contentType string) (string, error) {
	resp, err := w.client.R().
		SetContext(ctx).
		SetMultipartField("file", filename, contentType, bytes.NewReader(data)).
		SetFormData(map[string]string{"filename": filename}).
		Post(w.url)
	if err != nil {
		return "", fmt.Errorf("calling extraction webhook: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("extraction webhook error (status %d): %s", resp.StatusCode(), resp.String())
	}

	body := strings.TrimSpace(resp.String())
	if body == "" {
		return "", fmt.Errorf("empty response from extraction webhook")
	}

	return unwrapReply(body), nil
}

func unwrapReply(body string) string {
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &wrapper); err != nil {
		return body
	}
	for _, key := range []string{"output", "text"} {
		raw, ok := wrapper[key]
		if !ok {
			continue
		}
		var inner string
		if err := json.Unmarshal(raw, &inner); err == nil {
			return inner
		}
	}
	return body
}
