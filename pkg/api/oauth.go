package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// OAuthTimeout bounds how long a registered flow waits for its callback.
const OAuthTimeout = 5 * time.Minute

// OAuthResult is the credential delivered by the proxy's callback redirect.
type OAuthResult struct {
	Token         string
	WorkspaceID   string
	WorkspaceName string
}

// oauthFlows tracks pending browser OAuth flows keyed by flow id. The CLI
// registers a flow, opens the browser, and blocks on the result channel.
type oauthFlows struct {
	mu      sync.Mutex
	pending map[string]chan OAuthResult
}

func newOAuthFlows() *oauthFlows {
	return &oauthFlows{pending: make(map[string]chan OAuthResult)}
}

// RegisterOAuthFlow creates a pending flow and returns its id. WaitOAuth
// consumes the result; an unconsumed flow expires after OAuthTimeout.
func (s *Server) RegisterOAuthFlow() string {
	id := uuid.New().String()
	ch := make(chan OAuthResult, 1)

	s.oauth.mu.Lock()
	s.oauth.pending[id] = ch
	s.oauth.mu.Unlock()

	time.AfterFunc(OAuthTimeout, func() {
		s.oauth.drop(id)
	})
	return id
}

// WaitOAuth blocks until the flow's callback arrives, the timeout elapses,
// or ctx is cancelled.
func (s *Server) WaitOAuth(ctx context.Context, flowID string) (OAuthResult, error) {
	s.oauth.mu.Lock()
	ch, ok := s.oauth.pending[flowID]
	s.oauth.mu.Unlock()
	if !ok {
		return OAuthResult{}, fmt.Errorf("unknown oauth flow %q", flowID)
	}

	timer := time.NewTimer(OAuthTimeout)
	defer timer.Stop()
	select {
	case result := <-ch:
		return result, nil
	case <-timer.C:
		s.oauth.drop(flowID)
		return OAuthResult{}, fmt.Errorf("oauth flow timed out after %s", OAuthTimeout)
	case <-ctx.Done():
		s.oauth.drop(flowID)
		return OAuthResult{}, ctx.Err()
	}
}

func (f *oauthFlows) drop(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pending, id)
}

// resolve delivers a result to the flow matching id, or to the sole pending
// flow when the redirect carries no state parameter.
func (f *oauthFlows) resolve(id string, result OAuthResult) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if id != "" {
		ch, ok := f.pending[id]
		if !ok {
			return false
		}
		delete(f.pending, id)
		ch <- result
		return true
	}
	if len(f.pending) != 1 {
		return false
	}
	for pendingID, ch := range f.pending {
		delete(f.pending, pendingID)
		ch <- result
		return true
	}
	return false
}

func (s *Server) handleOAuthCallback(c *gin.Context) {
	result := OAuthResult{
		Token:         c.Query("token"),
		WorkspaceID:   c.Query("workspaceId"),
		WorkspaceName: c.Query("workspaceName"),
	}
	if result.Token == "" {
		c.String(http.StatusBadRequest, "missing token")
		return
	}

	if !s.oauth.resolve(c.Query("state"), result) {
		slog.Warn("OAuth callback with no pending flow", "workspace", result.WorkspaceName)
		c.String(http.StatusGone, "no pending authorization flow; rerun the command and try again")
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, oauthSuccessPage)
}

// oauthSuccessPage closes the browser tab after a short delay.
const oauthSuccessPage = `<!DOCTYPE html>
<html>
<head><title>Connected</title></head>
<body style="font-family: sans-serif; text-align: center; margin-top: 4em;">
<h2>Workspace connected</h2>
<p>You can close this tab and return to your terminal.</p>
<script>setTimeout(function() { window.close(); }, 1500);</script>
</body>
</html>`
