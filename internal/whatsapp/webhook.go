package whatsapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"whatsapp-calling/internal/queue"
	"whatsapp-calling/pkg/logger"
)

// maxWebhookBody bounds what we read before the signature is checked.
const maxWebhookBody = 1 << 20

const webhookSource = "whatsapp"

// Rejection reasons.
const (
	RejectBadSignature = "bad_signature"
	RejectBadVerify    = "bad_verify_token"
	RejectBadBody      = "bad_body"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, task string, payload any) error
}

// RejectionObserver counts refused deliveries.
type RejectionObserver interface {
	WebhookRejected(source, reason string)
}

// RejectionAuditor records refused deliveries with the caller's address.
type RejectionAuditor interface {
	LogWebhookRejected(ctx context.Context, source, reason, remoteIP string)
}

// WebhookTask is the queued form of a verified delivery.
type WebhookTask struct {
	Body       json.RawMessage `json:"body"`
	ReceivedAt time.Time       `json:"received_at"`
}

// WebhookHandler answers the Cloud API webhook. It verifies, enqueues and
// acks; all processing happens on the worker.
type WebhookHandler struct {
	AppSecret   string
	VerifyToken string
	Queue       Enqueuer

	Observer RejectionObserver
	Auditor  RejectionAuditor

	Now func() time.Time
}

func (h WebhookHandler) reject(c *gin.Context, status int, reason string) {
	if h.Observer != nil {
		h.Observer.WebhookRejected(webhookSource, reason)
	}
	if h.Auditor != nil {
		h.Auditor.LogWebhookRejected(c.Request.Context(), webhookSource, reason, c.ClientIP())
	}
	c.AbortWithStatusJSON(status, gin.H{"error": reason})
}

// Verify handles the GET subscription handshake.
func (h WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	if mode != "subscribe" || h.VerifyToken == "" || token != h.VerifyToken {
		logger.FromGin(c).Warn("webhook verification failed", "mode", mode)
		h.reject(c, http.StatusForbidden, RejectBadVerify)
		return
	}
	c.String(http.StatusOK, c.Query("hub.challenge"))
}

// Receive handles POSTed notifications. Nothing is decoded or queued until the
// signature over the raw body checks out.
func (h WebhookHandler) Receive(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Queue == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue not configured"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		h.reject(c, http.StatusBadRequest, RejectBadBody)
		return
	}
	if !VerifySignature(h.AppSecret, body, c.GetHeader("X-Hub-Signature-256")) {
		log.Warn("webhook signature rejected", "content_length", len(body))
		h.reject(c, http.StatusUnauthorized, RejectBadSignature)
		return
	}
	if !json.Valid(body) {
		h.reject(c, http.StatusBadRequest, RejectBadBody)
		return
	}

	task := WebhookTask{Body: body, ReceivedAt: h.Now().UTC()}
	if err := h.Queue.Enqueue(c.Request.Context(), queue.TaskProcessWebhook, task); err != nil {
		// Non-2xx makes Meta redeliver.
		log.Error("webhook enqueue failed", "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "try again"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
