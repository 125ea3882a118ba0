package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ceedaragents/cyrus/pkg/tracker"
)

// signatureHeader carries the hex HMAC-SHA256 of the raw request body.
const signatureHeader = "linear-signature"

// maxWebhookBody bounds one webhook payload.
const maxWebhookBody = 4 * 1024 * 1024

func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	if s.cfg.WebhookSecret != "" {
		if !verifySignature(s.cfg.WebhookSecret, body, c.GetHeader(signatureHeader)) {
			slog.Warn("Webhook signature verification failed", "remote", c.ClientIP())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
	}

	var event tracker.Event
	if err := json.Unmarshal(body, &event); err != nil {
		slog.Warn("Undecodable webhook payload", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if err := s.sink.EnqueueWebhook(&event); err != nil {
		slog.Error("Failed to enqueue webhook event", "error", err, "type", event.Type)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue full"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

// verifySignature compares the expected HMAC-SHA256 of body against the
// presented hex digest in constant time.
func verifySignature(secret string, body []byte, presented string) bool {
	if presented == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(presented))
}
