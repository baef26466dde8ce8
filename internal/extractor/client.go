package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smartexam/paperingest/internal/domain"
)

// Client submits documents to the external OCR/segmentation engine and
// returns the raw candidate records it produced. It owns the retry, backoff,
// and timeout policy for this one network hop.
type Client struct {
	client   *resty.Client
	endpoint string
	policy   RetryPolicy
}

// Config holds configuration for the extraction engine client.
type Config struct {
	BaseURL       string
	APIKey        string
	SubmitTimeout time.Duration
	Policy        RetryPolicy
}

// NewClient creates a new extraction engine client.
// Parameters:
//   - cfg: client configuration including base URL and retry policy.
//
// Returns:
//   - *Client: initialized client wrapper.
func NewClient(cfg *Config) *Client {
	client := resty.New()
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	client.SetHeader("Content-Type", "application/json")

	timeout := cfg.SubmitTimeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	policy := cfg.Policy
	if policy.MaxAttempts == 0 {
		policy = DefaultRetryPolicy()
	}

	return &Client{
		client:   client,
		endpoint: cfg.BaseURL + "/v1/extract",
		policy:   policy,
	}
}

// ExtractRequest describes a document handed to the engine. The document
// itself lives in object storage; the engine fetches it by URL.
type ExtractRequest struct {
	DocumentURL  string `json:"document_url"`
	DocumentName string `json:"document_name"`
	ContentType  string `json:"content_type,omitempty"`
	Subject      string `json:"subject,omitempty"`
	PageRange    string `json:"page_range,omitempty"`
}

type extractResponse struct {
	Items []json.RawMessage `json:"items"`
	Error *struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Extract submits a document and returns the raw candidate payloads.
// Transient faults (timeouts, connection errors, 5xx) are retried per the
// configured policy; validation faults (4xx) fail immediately. Exhausted
// retries and non-retryable faults surface as DownstreamError.
func (c *Client) Extract(ctx context.Context, req *ExtractRequest) ([]json.RawMessage, error) {
	var items []json.RawMessage

	err := c.policy.Do(ctx, func(ctx context.Context) error {
		var resp extractResponse
		httpResp, err := c.client.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&resp).
			Post(c.endpoint)

		if err != nil {
			// Transport-level failures (timeout, connection reset) are retryable
			return &domain.TransientError{Err: fmt.Errorf("extraction request failed: %w", err)}
		}

		status := httpResp.StatusCode()
		switch {
		case status >= 200 && status < 300:
			// fall through
		case status >= 500 || status == 429:
			return &domain.TransientError{Err: fmt.Errorf("extraction engine returned HTTP %d: %s", status, string(httpResp.Body()))}
		default:
			msg := string(httpResp.Body())
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return fmt.Errorf("extraction engine rejected document (HTTP %d): %s", status, msg)
		}

		if resp.Error != nil {
			return fmt.Errorf("extraction engine error: %s", resp.Error.Message)
		}

		items = resp.Items
		return nil
	})

	if err != nil {
		return nil, &domain.DownstreamError{System: "extraction engine", Err: err}
	}
	return items, nil
}
