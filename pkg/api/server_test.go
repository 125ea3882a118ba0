package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ceedaragents/cyrus/pkg/tracker"
)

type captureSink struct {
	events []*tracker.Event
	err    error
}

func (s *captureSink) EnqueueWebhook(event *tracker.Event) error {
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func newTestServer(secret string, sink EventSink) *Server {
	return NewServer(Config{Port: 0, WebhookSecret: secret}, sink)
}

func postWebhook(t *testing.T, srv *Server, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestWebhook_ValidSignatureEnqueues(t *testing.T) {
	sink := &captureSink{}
	srv := newTestServer("secret", sink)

	body := []byte(`{"type":"AgentSessionEvent","action":"created","organizationId":"org-1"}`)
	rec := postWebhook(t, srv, body, sign("secret", body))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, sink.events, 1)
	assert.Equal(t, tracker.PayloadAgentSessionEvent, sink.events[0].Type)
	assert.Equal(t, tracker.ActionCreated, sink.events[0].Action)
}

func TestWebhook_InvalidSignatureRejected(t *testing.T) {
	sink := &captureSink{}
	srv := newTestServer("secret", sink)

	body := []byte(`{"type":"AgentSessionEvent"}`)
	rec := postWebhook(t, srv, body, sign("wrong-secret", body))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, sink.events)
}

func TestWebhook_MissingSignatureRejected(t *testing.T) {
	sink := &captureSink{}
	srv := newTestServer("secret", sink)

	rec := postWebhook(t, srv, []byte(`{"type":"AgentSessionEvent"}`), "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, sink.events)
}

func TestWebhook_TamperedBodyRejected(t *testing.T) {
	sink := &captureSink{}
	srv := newTestServer("secret", sink)

	body := []byte(`{"type":"AgentSessionEvent"}`)
	signature := sign("secret", body)
	tampered := []byte(`{"type":"AgentSessionEvent","action":"created"}`)
	rec := postWebhook(t, srv, tampered, signature)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, sink.events)
}

func TestWebhook_MalformedJSONRejected(t *testing.T) {
	sink := &captureSink{}
	srv := newTestServer("secret", sink)

	body := []byte(`{not json`)
	rec := postWebhook(t, srv, body, sign("secret", body))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sink.events)
}

func TestWebhook_SinkErrorReturns503(t *testing.T) {
	sink := &captureSink{err: fmt.Errorf("queue full")}
	srv := newTestServer("secret", sink)

	body := []byte(`{"type":"AgentSessionEvent"}`)
	rec := postWebhook(t, srv, body, sign("secret", body))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhook_NoSecretSkipsVerification(t *testing.T) {
	sink := &captureSink{}
	srv := newTestServer("", sink)

	rec := postWebhook(t, srv, []byte(`{"type":"AgentSessionEvent"}`), "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, sink.events, 1)
}

func TestOAuthCallback_ResolvesRegisteredFlow(t *testing.T) {
	srv := newTestServer("secret", &captureSink{})

	flowID := srv.RegisterOAuthFlow()

	done := make(chan OAuthResult, 1)
	go func() {
		result, err := srv.WaitOAuth(context.Background(), flowID)
		require.NoError(t, err)
		done <- result
	}()

	url := fmt.Sprintf("/callback?token=lin_oauth_abc&workspaceId=ws-1&workspaceName=Acme&state=%s", flowID)
	req := httptest.NewRequest(http.MethodGet, url, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "window.close")

	select {
	case result := <-done:
		assert.Equal(t, "lin_oauth_abc", result.Token)
		assert.Equal(t, "ws-1", result.WorkspaceID)
		assert.Equal(t, "Acme", result.WorkspaceName)
	case <-time.After(2 * time.Second):
		t.Fatal("oauth flow did not resolve")
	}
}

func TestOAuthCallback_NoStateResolvesSolePendingFlow(t *testing.T) {
	srv := newTestServer("secret", &captureSink{})
	flowID := srv.RegisterOAuthFlow()

	done := make(chan OAuthResult, 1)
	go func() {
		result, err := srv.WaitOAuth(context.Background(), flowID)
		require.NoError(t, err)
		done <- result
	}()

	req := httptest.NewRequest(http.MethodGet, "/callback?token=tok&workspaceId=ws", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	select {
	case result := <-done:
		assert.Equal(t, "tok", result.Token)
	case <-time.After(2 * time.Second):
		t.Fatal("oauth flow did not resolve")
	}
}

func TestOAuthCallback_NoPendingFlow(t *testing.T) {
	srv := newTestServer("secret", &captureSink{})

	req := httptest.NewRequest(http.MethodGet, "/callback?token=tok", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestOAuthCallback_MissingToken(t *testing.T) {
	srv := newTestServer("secret", &captureSink{})
	srv.RegisterOAuthFlow()

	req := httptest.NewRequest(http.MethodGet, "/callback?workspaceId=ws", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWaitOAuth_ContextCancelled(t *testing.T) {
	srv := newTestServer("secret", &captureSink{})
	flowID := srv.RegisterOAuthFlow()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := srv.WaitOAuth(ctx, flowID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWaitOAuth_UnknownFlow(t *testing.T) {
	srv := newTestServer("secret", &captureSink{})
	_, err := srv.WaitOAuth(context.Background(), "nope")
	assert.Error(t, err)
}
