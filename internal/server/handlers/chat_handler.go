package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/alcaldia/chatrelay/internal/domain/models"
	"github.com/alcaldia/chatrelay/internal/service/relay"
	"github.com/alcaldia/chatrelay/pkg/clients/n8n"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

const (
	maxBodyBytes = 1 << 20

	msgNoJSON        = "Error: no se recibió JSON"
	msgMissingFields = "Error: 'mensaje' o 'sessionId' faltante"
	msgSmokeTest     = "Servidor Docker activo 🚀"
)

// UpstreamStatusReporter exposes the latest n8n probe result.
type UpstreamStatusReporter interface {
	UpstreamStatus() models.UpstreamStatus
}

// ChatHandler serves the chat page and relays chat turns to n8n.
type ChatHandler struct {
	svc    relay.Service
	status UpstreamStatusReporter
	logger *zap.Logger
}

// NewChatHandler constructs the HTTP handler adapter. status may be nil when
// the upstream probe is not running.
func NewChatHandler(svc relay.Service, status UpstreamStatusReporter, logger *zap.Logger) *ChatHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatHandler{svc: svc, status: status, logger: logger}
}

// Mensaje relays one chat turn and answers with {"respuesta": ...}.
func (h *ChatHandler) Mensaje(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("failed reading request body", zap.Error(err))
		body = nil
	}
	if !isJSONContentType(c.ContentType()) {
		// Treated like an absent body: nothing reaches n8n.
		body = nil
	}

	msg, err := h.svc.ParseMessage(body)
	switch {
	case errors.Is(err, relay.ErrNoJSON):
		reply(c, http.StatusBadRequest, msgNoJSON)
		return
	case errors.Is(err, relay.ErrMissingFields):
		reply(c, http.StatusBadRequest, msgMissingFields)
		return
	case err != nil:
		h.logger.Error("unexpected parse failure", zap.Error(err))
		reply(c, http.StatusBadRequest, msgNoJSON)
		return
	}

	text, err := h.svc.Relay(c.Request.Context(), msg, c.GetString(RequestIDKey))
	if err != nil {
		var statusErr *relay.UpstreamStatusError
		if errors.As(err, &statusErr) {
			reply(c, http.StatusBadGateway, fmt.Sprintf("Error n8n (%d): %s", statusErr.StatusCode, statusErr.Body))
			return
		}

		var transportErr *n8n.TransportError
		if !errors.As(err, &transportErr) {
			h.logger.Error("unexpected relay failure", zap.Error(err))
		}
		reply(c, http.StatusBadGateway, fmt.Sprintf("Error de conexión con n8n: %s", err.Error()))
		return
	}

	reply(c, http.StatusOK, text)
}

// Health always reports ok; it says nothing about n8n.
func (h *ChatHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// UpstreamHealth reports the latest n8n reachability probe.
func (h *ChatHandler) UpstreamHealth(c *gin.Context) {
	if h.status == nil {
		c.JSON(http.StatusOK, models.UpstreamStatus{Status: models.ProbeUnknown})
		return
	}
	c.JSON(http.StatusOK, h.status.UpstreamStatus())
}

// Send is a deployment smoke test endpoint.
func (h *ChatHandler) Send(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"response": msgSmokeTest})
}

// Index renders the chat page.
func (h *ChatHandler) Index(c *gin.Context) {
	c.HTML(http.StatusOK, "chat.html", gin.H{
		"ChatEndpoint":   "/mensaje",
		"HealthEndpoint": "/health",
	})
}

// isJSONContentType accepts application/json and structured +json types.
func isJSONContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return ct == "application/json" || strings.HasSuffix(ct, "+json")
}

func reply(c *gin.Context, status int, text string) {
	c.JSON(status, models.OutgoingMessage{Respuesta: text})
}
