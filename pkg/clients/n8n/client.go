package n8n

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/alcaldia/chatrelay/internal/config"
	"github.com/alcaldia/chatrelay/internal/domain/models"
)

const (
	requestIDHeader = "X-Request-ID"
	pingTimeout     = 10 * time.Second
)

// Client exposes the n8n operations used by the relay.
type Client interface {
	Send(ctx context.Context, req SendRequest) (*Response, error)
	Ping(ctx context.Context) (int, error)
}

// SendRequest is one chat turn to forward to the webhook.
type SendRequest struct {
	Payload   models.OutboundPayload
	RequestID string
}

// Response is whatever the webhook answered, whatever the status.
type Response struct {
	StatusCode int
	Body       []byte
}

// Text returns the raw body exactly as received.
func (r *Response) Text() string {
	return string(r.Body)
}

// TransportError reports that no HTTP answer was obtained: refused
// connection, DNS failure, timeout and the like.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// APIClient is a resty-backed implementation of Client.
type APIClient struct {
	httpClient *resty.Client
	webhookURL string
	healthURL  string
}

// NewClient builds a webhook client from the provided configuration values.
// Retries are disabled: each chat turn maps to exactly one webhook call.
func NewClient(cfg config.N8NConfig, logger *zap.Logger) *APIClient {
	if logger == nil {
		logger = zap.NewNop()
	}

	restyClient := resty.New()
	restyClient.
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetLogger(logger.Sugar())

	return &APIClient{
		httpClient: restyClient,
		webhookURL: cfg.WebhookURL,
		healthURL:  cfg.HealthURL,
	}
}

// Send posts the payload to the webhook. A nil error means the webhook
// answered; the status code is left for the caller to judge.
func (c *APIClient) Send(ctx context.Context, req SendRequest) (*Response, error) {
	r := c.httpClient.R().
		SetContext(ctx).
		SetBody(req.Payload)
	if req.RequestID != "" {
		r.SetHeader(requestIDHeader, req.RequestID)
	}

	resp, err := r.Post(c.webhookURL)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	return &Response{StatusCode: resp.StatusCode(), Body: resp.Body()}, nil
}

// Ping issues a GET against the n8n health URL and returns its status code.
func (c *APIClient) Ping(ctx context.Context) (int, error) {
	if c.healthURL == "" {
		return 0, fmt.Errorf("n8n health url not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	resp, err := c.httpClient.R().
		SetContext(ctx).
		Get(c.healthURL)
	if err != nil {
		return 0, &TransportError{Err: err}
	}

	return resp.StatusCode(), nil
}
