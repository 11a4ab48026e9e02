package router

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/alcaldia/chatrelay/internal/config"
	"github.com/alcaldia/chatrelay/internal/metrics"
	"github.com/alcaldia/chatrelay/internal/server/handlers"
	"github.com/alcaldia/chatrelay/internal/service/relay"
	"github.com/alcaldia/chatrelay/pkg/clients/n8n"
)

// newStack wires the real relay stack against a fake n8n.
func newStack(t *testing.T, upstream http.HandlerFunc, timeout time.Duration) (http.Handler, *atomic.Int32) {
	t.Helper()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		upstream(w, r)
	}))
	t.Cleanup(server.Close)

	client := n8n.NewClient(config.N8NConfig{
		WebhookURL: server.URL + "/webhook/chat-alcaldia",
		HealthURL:  server.URL + "/healthz",
		Timeout:    timeout,
	}, zap.NewNop())
	m := metrics.New()
	svc := relay.NewWebhookRelay(client, m, zap.NewNop())
	h := handlers.NewChatHandler(svc, nil, zap.NewNop())

	return New(h, m, zap.NewNop()), &calls
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func doWithType(t *testing.T, h http.Handler, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func respuesta(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var out map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out["respuesta"]
}

func TestMensajeValidation(t *testing.T) {
	h, calls := newStack(t, respond(http.StatusOK, `{"reply":"x"}`), time.Second)

	rec := do(t, h, http.MethodPost, "/mensaje", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Error: no se recibió JSON", respuesta(t, rec))

	rec = do(t, h, http.MethodPost, "/mensaje", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Error: no se recibió JSON", respuesta(t, rec))

	for _, body := range []string{
		`{"mensaje":"","sessionId":"abc"}`,
		`{"mensaje":"hola","sessionId":""}`,
		`{"mensaje":"  ","sessionId":"abc"}`,
	} {
		rec = do(t, h, http.MethodPost, "/mensaje", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Equal(t, "Error: 'mensaje' o 'sessionId' faltante", respuesta(t, rec), body)
	}

	assert.Zero(t, calls.Load(), "invalid input must not reach n8n")
}

func TestMensajeRequiresJSONContentType(t *testing.T) {
	h, calls := newStack(t, respond(http.StatusOK, `{"reply":"hola"}`), time.Second)
	body := `{"mensaje":"hola","sessionId":"abc"}`

	for _, contentType := range []string{"text/plain", "application/x-www-form-urlencoded", ""} {
		rec := doWithType(t, h, "/mensaje", contentType, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, contentType)
		assert.Equal(t, "Error: no se recibió JSON", respuesta(t, rec), contentType)
	}
	assert.Zero(t, calls.Load(), "non-JSON content types must not reach n8n")

	for _, contentType := range []string{"application/json; charset=utf-8", "Application/JSON", "application/vnd.chat+json"} {
		rec := doWithType(t, h, "/mensaje", contentType, body)
		assert.Equal(t, http.StatusOK, rec.Code, contentType)
		assert.Equal(t, "hola", respuesta(t, rec), contentType)
	}
	assert.EqualValues(t, 3, calls.Load())
}

func TestWrongMethodIsNotAllowed(t *testing.T) {
	h, calls := newStack(t, respond(http.StatusOK, "{}"), time.Second)

	rec := do(t, h, http.MethodGet, "/mensaje", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, h, http.MethodGet, "/does-not-exist", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Zero(t, calls.Load())
}

func TestMensajeRelaysReplies(t *testing.T) {
	cases := []struct {
		name     string
		upstream http.HandlerFunc
		status   int
		want     string
	}{
		{"reply key", respond(http.StatusOK, `{"reply":"hola"}`), http.StatusOK, "hola"},
		{"priority", respond(http.StatusOK, `{"text":"t","respuesta":"r"}`), http.StatusOK, "r"},
		{"fallback", respond(http.StatusOK, `{}`), http.StatusOK, "Sin respuesta del agente"},
		{"plain text", respond(http.StatusOK, "plain text ok"), http.StatusOK, "plain text ok"},
		{"array", respond(http.StatusOK, `[{"output":"desde n8n"}]`), http.StatusOK, "desde n8n"},
		{"upstream 500", respond(http.StatusInternalServerError, "boom"), http.StatusBadGateway, "Error n8n (500): boom"},
		{"upstream 404 keeps whitespace", respond(http.StatusNotFound, " not here\n"), http.StatusBadGateway, "Error n8n (404):  not here\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, calls := newStack(t, tc.upstream, time.Second)

			rec := do(t, h, http.MethodPost, "/mensaje", `{"mensaje":"hola","sessionId":"abc"}`)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.want, respuesta(t, rec))
			assert.EqualValues(t, 1, calls.Load())
		})
	}
}

func TestMensajeForwardsTrimmedPayload(t *testing.T) {
	var got map[string]string
	var gotRequestID string
	h, _ := newStack(t, func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = r.Header.Get("X-Request-ID")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &got)
		_, _ = w.Write([]byte(`{"respuesta":"ok"}`))
	}, time.Second)

	rec := do(t, h, http.MethodPost, "/mensaje", `{"mensaje":"  hola  ","sessionId":" sess_1 "}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, map[string]string{"message": "hola", "sessionId": "sess_1"}, got)
	assert.NotEmpty(t, gotRequestID)
	assert.Equal(t, rec.Header().Get("X-Request-ID"), gotRequestID)
}

func TestMensajeUpstreamTimeout(t *testing.T) {
	release := make(chan struct{})
	h, _ := newStack(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 50*time.Millisecond)
	defer close(release)

	rec := do(t, h, http.MethodPost, "/mensaje", `{"mensaje":"hola","sessionId":"abc"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	msg := respuesta(t, rec)
	assert.True(t, strings.HasPrefix(msg, "Error de conexión con n8n: "), msg)
	assert.Greater(t, len(msg), len("Error de conexión con n8n: "))
}

func TestHealthIgnoresUpstream(t *testing.T) {
	h, calls := newStack(t, respond(http.StatusInternalServerError, "down"), time.Second)

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Zero(t, calls.Load())
}

func TestAuxiliaryRoutes(t *testing.T) {
	h, _ := newStack(t, respond(http.StatusOK, "{}"), time.Second)

	rec := do(t, h, http.MethodPost, "/send", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response":"Servidor Docker activo 🚀"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `data-chat-endpoint="/mensaje"`)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	rec = do(t, h, http.MethodGet, "/static/app.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "sessionId")

	rec = do(t, h, http.MethodGet, "/health/upstream", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"unknown"}`, rec.Body.String())
}

func TestMetricsRoute(t *testing.T) {
	h, _ := newStack(t, respond(http.StatusOK, `{"reply":"x"}`), time.Second)

	do(t, h, http.MethodPost, "/mensaje", `{"mensaje":"hola","sessionId":"abc"}`)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chatrelay_relay_outcomes_total{outcome="ok"} 1`)
	assert.Contains(t, rec.Body.String(), `chatrelay_http_requests_total{method="POST",route="/mensaje",status="200"} 1`)
}

func TestMetricsRouteDisabled(t *testing.T) {
	h := New(handlers.NewChatHandler(nil, nil, nil), nil, nil)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
