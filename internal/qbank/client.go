package qbank

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/smartexam/paperingest/internal/domain"
)

// Question is the finalized question written to the bank on approval.
type Question struct {
	Stem              string              `json:"stem"`
	Type              domain.QuestionType `json:"type"`
	Difficulty        int                 `json:"difficulty"`
	Options           []string            `json:"options,omitempty"`
	Answer            string              `json:"answer,omitempty"`
	Analysis          string              `json:"analysis,omitempty"`
	KnowledgePointIDs []int               `json:"knowledge_point_ids,omitempty"`
	SourceMeta        map[string]string   `json:"source_meta,omitempty"`
}

// Sink is the write boundary to the external question bank. This system does
// not own the committed question's lifecycle; it only records the returned ID.
type Sink interface {
	// CreateQuestion writes a finalized question and returns its bank ID.
	CreateQuestion(ctx context.Context, q *Question) (string, error)
}

// Client is the HTTP implementation of Sink.
type Client struct {
	client   *resty.Client
	endpoint string
}

// Config holds configuration for the question bank client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient creates a new question bank client.
func NewClient(cfg *Config) *Client {
	client := resty.New()
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	client.SetHeader("Content-Type", "application/json")

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client.SetTimeout(timeout)

	return &Client{
		client:   client,
		endpoint: cfg.BaseURL + "/api/questions",
	}
}

type createResponse struct {
	ID    string `json:"id"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// CreateQuestion writes a finalized question to the bank.
// Any failure surfaces as DownstreamError; the caller leaves the item
// pending so the write can be retried safely.
func (c *Client) CreateQuestion(ctx context.Context, q *Question) (string, error) {
	var resp createResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(q).
		SetResult(&resp).
		Post(c.endpoint)

	if err != nil {
		return "", &domain.DownstreamError{System: "question bank", Err: err}
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		msg := string(httpResp.Body())
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return "", &domain.DownstreamError{
			System: "question bank",
			Err:    fmt.Errorf("HTTP %d: %s", httpResp.StatusCode(), msg),
		}
	}

	if resp.ID == "" {
		return "", &domain.DownstreamError{
			System: "question bank",
			Err:    fmt.Errorf("no question ID in response (status %d)", httpResp.StatusCode()),
		}
	}

	return resp.ID, nil
}
