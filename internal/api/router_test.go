package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samhotchkiss/otter-relay/internal/agent"
	"github.com/samhotchkiss/otter-relay/internal/backend"
	"github.com/samhotchkiss/otter-relay/internal/command"
	"github.com/samhotchkiss/otter-relay/internal/conversation"
	"github.com/samhotchkiss/otter-relay/internal/mcp"
	relaymw "github.com/samhotchkiss/otter-relay/internal/middleware"
	"github.com/samhotchkiss/otter-relay/internal/processor"
	"github.com/samhotchkiss/otter-relay/internal/relaymetrics"
	"github.com/samhotchkiss/otter-relay/internal/reply"
	"github.com/samhotchkiss/otter-relay/internal/store"
	"github.com/samhotchkiss/otter-relay/internal/webhook"
	"github.com/samhotchkiss/otter-relay/internal/ws"
)

const (
	testAuthToken = "twilio-secret"
	testSender    = "whatsapp:+15550001234"
	testBase      = "http://relay.local"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestProcessor(t *testing.T) (*processor.Processor, *conversation.Manager) {
	t.Helper()
	server := mcp.NewServer("autocoder-stub", "test")
	require.NoError(t, backend.NewStub(backend.StubOptions{}).Register(server))
	client := backend.NewClient(mcp.NewInProcessCaller(server), quietLogger())
	assembler := reply.New(reply.DefaultMaxLength)

	manager := conversation.NewManager(store.NewMemoryStore(), conversation.Options{Logger: quietLogger()})
	p, err := processor.New(processor.Options{
		Manager:    manager,
		Dispatcher: command.NewDispatcher(client, assembler, quietLogger()),
		Reasoner:   agent.NewTaskAgent(client, assembler, quietLogger()),
		Assembler:  assembler,
		Logger:     quietLogger(),
	})
	require.NoError(t, err)
	return p, manager
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()
	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	proc, manager := newTestProcessor(t)
	return Deps{
		Processor:    proc,
		History:      manager,
		Verifier:     webhook.NewVerifier(testAuthToken),
		Allowlist:    relaymw.NewAllowlist([]string{testSender}, quietLogger()),
		Hub:          hub,
		OpsFeedToken: "ops",
		StoreBackend: store.BackendMemory,
		Version:      "test",
		Logger:       quietLogger(),
	}
}

func signedPost(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, testBase+path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(webhook.SignatureHeader, webhook.Sign(testBase+path, form, testAuthToken))
	return req
}

func twimlMessage(t *testing.T, body string) string {
	t.Helper()
	var parsed struct {
		Message string `xml:"Message"`
	}
	require.NoError(t, xmlUnmarshal(body, &parsed))
	return parsed.Message
}

func TestWhatsAppWebhookConversation(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	send := func(body string) string {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, signedPost("/webhook/whatsapp", url.Values{
			"From":       {testSender},
			"Body":       {body},
			"MessageSid": {"SM" + strings.ReplaceAll(body, " ", "")},
		}))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, webhook.ContentTypeXML, rec.Header().Get("Content-Type"))
		return twimlMessage(t, rec.Body.String())
	}

	require.Equal(t, "No active project. Use /new to create one or /list to see your projects.", send("/status"))
	require.Contains(t, send("/new Demo"), "Project 'Demo' created successfully!")
	got := send("/status")
	require.Contains(t, got, "*Project:* Demo")
	require.Contains(t, got, "*Progress:*")
}

func TestWhatsAppWebhookRejections(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	t.Run("unsigned", func(t *testing.T) {
		req := signedPost("/webhook/whatsapp", url.Values{"From": {testSender}, "Body": {"hi"}})
		req.Header.Del(webhook.SignatureHeader)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("not allowlisted", func(t *testing.T) {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, signedPost("/webhook/whatsapp", url.Values{"From": {"whatsapp:+19990000000"}, "Body": {"hi"}}))
		require.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestWhatsAppWebhookBadPayloadGetsApology(t *testing.T) {
	deps := newTestDeps(t)
	deps.Allowlist = nil
	router := NewRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedPost("/webhook/whatsapp", url.Values{"Body": {"hi"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, webhookApology, twimlMessage(t, rec.Body.String()))
}

func TestStatusCallbackAlwaysNoContent(t *testing.T) {
	deps := newTestDeps(t)
	router := NewRouter(deps)

	client := ws.NewClient(deps.Hub, nil)
	deps.Hub.Register(client)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedPost("/webhook/status", url.Values{
		"MessageSid":    {"SM1"},
		"MessageStatus": {"delivered"},
		"To":            {testSender},
	}))
	require.Equal(t, http.StatusNoContent, rec.Code)

	select {
	case raw := <-client.Send:
		var env ws.Envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		require.Equal(t, ws.MessageDeliveryStatus, env.Type)
		data := env.Data.(map[string]any)
		require.Equal(t, "SM1", data["message_sid"])
		require.Equal(t, "+155****1234", data["to"])
	case <-time.After(time.Second):
		t.Fatal("no delivery event published")
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, signedPost("/webhook/status", url.Values{"MessageSid": {"SM2"}, "MessageStatus": {"warp"}}))
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestHealth(t *testing.T) {
	deps := newTestDeps(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	deps.Now = func() time.Time { return now }
	router := NewRouter(deps)
	now = now.Add(90 * time.Second)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, HealthResponse{
		Status:    "ok",
		Uptime:    "1m30s",
		Version:   "test",
		Timestamp: "2026-03-01T12:01:30Z",
		Store:     store.BackendMemory,
		StoreOK:   true,
	}, resp)
}

func TestHealthReportsStoreOutage(t *testing.T) {
	deps := newTestDeps(t)
	deps.StorePing = func(context.Context) error { return errors.New("connection refused") }
	router := NewRouter(deps)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "degraded", resp.Status)
	require.False(t, resp.StoreOK)
}

func TestOpsFeedRequiresToken(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMetricsCountsTurnsAndDeliveries(t *testing.T) {
	relaymetrics.ResetForTests()
	router := NewRouter(newTestDeps(t))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedPost("/webhook/whatsapp", url.Values{"From": {testSender}, "Body": {"/status"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, signedPost("/webhook/status", url.Values{"MessageSid": {"SM1"}, "MessageStatus": {"failed"}}))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer ops")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MetricsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.EqualValues(t, 1, resp.Turns["precondition"].Total)
	require.EqualValues(t, 1, resp.Commands["status"])
	require.EqualValues(t, 1, resp.Deliveries["failed"])
}

func TestWhatsAppWebhookUsesAllowlistedSender(t *testing.T) {
	deps := newTestDeps(t)
	h := &handlers{deps: deps}

	form := url.Values{"From": {"whatsapp:+15550001234"}, "Body": {"/status"}}
	req := httptest.NewRequest(http.MethodPost, "/webhook/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req = req.WithContext(context.WithValue(req.Context(), relaymw.SenderKey, "+15559990000"))

	rec := httptest.NewRecorder()
	h.handleWhatsApp(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	ctx := context.Background()
	require.Len(t, deps.History.History(ctx, "+15559990000", 0), 1)
	require.Empty(t, deps.History.History(ctx, "+15550001234", 0))
}

func TestOpsHistory(t *testing.T) {
	router := NewRouter(newTestDeps(t))

	for _, body := range []string{"/status", "/help", "/list"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, signedPost("/webhook/whatsapp", url.Values{"From": {testSender}, "Body": {body}}))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	get := func(path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusUnauthorized, get("/ops/history/+15550001234", "").Code)
	require.Equal(t, http.StatusUnauthorized, get("/ops/history/+15550001234", "wrong").Code)
	require.Equal(t, http.StatusBadRequest, get("/ops/history/+15550001234?limit=-1", "ops").Code)

	rec := get("/ops/history/+15550001234?limit=2", "ops")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp HistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "+15550001234", resp.Sender)
	require.Len(t, resp.Turns, 2)
	require.Equal(t, "/help", resp.Turns[0].User)
	require.Equal(t, "/list", resp.Turns[1].User)
}
