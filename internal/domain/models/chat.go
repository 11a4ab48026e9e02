package models

import (
	"encoding/json"
	"strings"
)

// NoReplyFallback is relayed when the agent answered without any usable text.
const NoReplyFallback = "Sin respuesta del agente"

// ReplyKeys lists the fields probed in an agent reply, highest priority first.
var ReplyKeys = []string{"respuesta", "reply", "output", "text"}

// IncomingMessage is the chat turn posted by the browser.
type IncomingMessage struct {
	Text      string `json:"mensaje"`
	SessionID string `json:"sessionId"`
}

// OutboundPayload is the body forwarded to the workflow webhook.
type OutboundPayload struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

// OutgoingMessage is the normalized reply returned to the browser.
type OutgoingMessage struct {
	Respuesta string `json:"respuesta"`
}

// Payload projects the message onto the webhook contract.
func (m IncomingMessage) Payload() OutboundPayload {
	return OutboundPayload{Message: m.Text, SessionID: m.SessionID}
}

// ParseIncoming extracts an IncomingMessage from a decoded JSON object.
// Values that are not strings are treated as absent; both fields are trimmed.
func ParseIncoming(body map[string]any) IncomingMessage {
	return IncomingMessage{
		Text:      stringField(body, "mensaje"),
		SessionID: stringField(body, "sessionId"),
	}
}

// Complete reports whether both fields carry text.
func (m IncomingMessage) Complete() bool {
	return m.Text != "" && m.SessionID != ""
}

func stringField(body map[string]any, key string) string {
	s, _ := body[key].(string)
	return strings.TrimSpace(s)
}

// ExtractReply picks the reply text out of a decoded agent response.
//
// Objects are probed with ReplyKeys in order; arrays are probed through their
// first object element; a bare JSON string is the reply itself. Anything else
// yields NoReplyFallback.
func ExtractReply(decoded any) string {
	switch v := decoded.(type) {
	case map[string]any:
		for _, key := range ReplyKeys {
			if text, ok := replyText(v[key]); ok {
				return text
			}
		}
	case []any:
		for _, item := range v {
			if obj, ok := item.(map[string]any); ok {
				return ExtractReply(obj)
			}
		}
	case string:
		if v != "" {
			return v
		}
	}
	return NoReplyFallback
}

// replyText renders a probed value as text. Empty values (null, false, 0,
// empty strings and empty containers) are skipped.
func replyText(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, v != ""
	case bool:
		if !v {
			return "", false
		}
	case float64:
		if v == 0 {
			return "", false
		}
	case json.Number:
		if f, err := v.Float64(); err == nil && f == 0 {
			return "", false
		}
		return v.String(), true
	case map[string]any:
		if len(v) == 0 {
			return "", false
		}
	case []any:
		if len(v) == 0 {
			return "", false
		}
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return "", false
	}
	return string(raw), true
}
