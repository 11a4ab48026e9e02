package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/alcaldia/chatrelay/internal/domain/models"
	"github.com/alcaldia/chatrelay/internal/metrics"
	"github.com/alcaldia/chatrelay/pkg/clients/n8n"
)

var (
	// ErrNoJSON indicates the request body was absent, unparseable or empty.
	ErrNoJSON = errors.New("no JSON body received")

	// ErrMissingFields indicates mensaje or sessionId was blank.
	ErrMissingFields = errors.New("mensaje or sessionId missing")
)

var utf8BOM = []byte("\xef\xbb\xbf")

// UpstreamStatusError is returned when the webhook answered with a status
// other than 200.
type UpstreamStatusError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("n8n responded %d: %s", e.StatusCode, e.Body)
}

// Service describes the operations the HTTP layer can perform.
type Service interface {
	ParseMessage(body []byte) (models.IncomingMessage, error)
	Relay(ctx context.Context, msg models.IncomingMessage, requestID string) (string, error)
}

// WebhookRelay forwards chat turns to the n8n webhook.
type WebhookRelay struct {
	client  n8n.Client
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewWebhookRelay wires a new service instance. metrics may be nil.
func NewWebhookRelay(client n8n.Client, m *metrics.Metrics, logger *zap.Logger) *WebhookRelay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookRelay{client: client, metrics: m, logger: logger}
}

// ParseMessage decodes and validates a raw /mensaje body. The body must be a
// non-empty JSON object carrying non-blank mensaje and sessionId strings.
func (s *WebhookRelay) ParseMessage(body []byte) (models.IncomingMessage, error) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		decoded = nil
	}

	s.logger.Info("json received", zap.Any("payload", decoded))

	obj, ok := decoded.(map[string]any)
	if !ok || len(obj) == 0 {
		s.metrics.ObserveRelay(metrics.OutcomeInvalidInput)
		return models.IncomingMessage{}, ErrNoJSON
	}

	msg := models.ParseIncoming(obj)
	if !msg.Complete() {
		s.metrics.ObserveRelay(metrics.OutcomeInvalidInput)
		return models.IncomingMessage{}, ErrMissingFields
	}

	return msg, nil
}

// Relay makes exactly one webhook call and returns the reply text.
//
// The call keeps the values of ctx but not its cancellation, so a browser
// that goes away does not abort a workflow run midway; the client timeout
// still bounds it. Errors are either *n8n.TransportError or
// *UpstreamStatusError.
func (s *WebhookRelay) Relay(ctx context.Context, msg models.IncomingMessage, requestID string) (string, error) {
	start := time.Now()
	resp, err := s.client.Send(context.WithoutCancel(ctx), n8n.SendRequest{
		Payload:   msg.Payload(),
		RequestID: requestID,
	})
	s.metrics.ObserveUpstream(time.Since(start))

	if err != nil {
		s.logger.Error("error connecting to n8n",
			zap.Error(err),
			zap.String("session_id", msg.SessionID),
			zap.String("request_id", requestID),
			zap.Stack("stack"))
		s.metrics.ObserveRelay(metrics.OutcomeTransport)
		return "", err
	}

	if resp.StatusCode != http.StatusOK {
		s.logger.Error("n8n error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", resp.Text()),
			zap.String("session_id", msg.SessionID),
			zap.String("request_id", requestID))
		s.metrics.ObserveRelay(metrics.OutcomeUpstreamStatus)
		return "", &UpstreamStatusError{StatusCode: resp.StatusCode, Body: resp.Text()}
	}

	s.metrics.ObserveRelay(metrics.OutcomeOK)
	return replyFromBody(resp.Body), nil
}

// replyFromBody returns the raw text for non-JSON bodies and the extracted
// reply otherwise. A leading UTF-8 BOM is ignored.
func replyFromBody(body []byte) string {
	trimmed := bytes.TrimPrefix(body, utf8BOM)
	if !json.Valid(trimmed) {
		return string(body)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return string(body)
	}
	return models.ExtractReply(decoded)
}
