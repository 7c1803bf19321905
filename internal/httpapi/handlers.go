package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"whatsapp-calling/internal/auth"
	"whatsapp-calling/internal/calls"
	"whatsapp-calling/internal/conversation"
	"whatsapp-calling/internal/gateway"
	"whatsapp-calling/internal/reporting"
	"whatsapp-calling/pkg/logger"

	"github.com/gin-gonic/gin"
)

// GatewayTokenHeader carries the shared secret on gateway event callbacks.
const GatewayTokenHeader = "X-Gateway-Token"

type CallService interface {
	InitiateCall(ctx context.Context, req calls.InitiateRequest) (calls.InitiateResult, error)
	EndCall(ctx context.Context, sessionID, reason string) (bool, error)
	CallToken(ctx context.Context, sessionID, userID string) (string, error)
	ICEServers(ctx context.Context) []gateway.ICEServer
	Get(ctx context.Context, sessionID string) (calls.Session, error)
	HandleEvent(ctx context.Context, ev calls.Event) error
}

type ReportService interface {
	CallsSummary(ctx context.Context, req reporting.CallsSummaryRequest) (reporting.CallsSummary, error)
}

type ConversationAdmin interface {
	EscalateByPhone(ctx context.Context, phone, reason string) (bool, error)
	Reactivate(ctx context.Context, actor, conversationID string) (conversation.State, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls         CallService
	Reports       ReportService
	Conversations ConversationAdmin

	// GatewayToken authenticates POST /gateway/events. Empty rejects every event.
	GatewayToken string
}

// --- Calls ---

type initiateCallRequest struct {
	ToNumber string `json:"to_number"`
	LeadID   string `json:"lead_id"`
}

func (h Handlers) InitiateCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	agent, err := auth.UserID(c.Request.Context())
	if err != nil || agent == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user required"})
		return
	}
	var req initiateCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	res, err := h.Calls.InitiateCall(c.Request.Context(), calls.InitiateRequest{
		ToNumber: req.ToNumber,
		Agent:    agent,
		LeadID:   req.LeadID,
	})
	if err != nil {
		logger.FromGin(c).Warn("initiate call failed", "agent", agent, "err", err)
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

type endCallRequest struct {
	EndReason string `json:"end_reason"`
}

func (h Handlers) EndCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	var req endCallRequest
	// Body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}
	ok, err := h.Calls.EndCall(c.Request.Context(), c.Param("session_id"), req.EndReason)
	if err != nil {
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": ok})
}

func (h Handlers) CallToken(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	uid, _ := auth.UserID(c.Request.Context())
	tok, err := h.Calls.CallToken(c.Request.Context(), c.Param("session_id"), uid)
	if err != nil {
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": tok})
}

func (h Handlers) GetCall(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	s, err := h.Calls.Get(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h Handlers) ICEServers(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ice_servers": h.Calls.ICEServers(c.Request.Context())})
}

// GatewayEvent accepts session lifecycle callbacks from the media gateway.
func (h Handlers) GatewayEvent(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "calls not configured"})
		return
	}
	got := c.GetHeader(GatewayTokenHeader)
	if h.GatewayToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.GatewayToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid gateway token"})
		return
	}

	var ev calls.Event
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	switch ev.Type {
	case calls.EventRinging, calls.EventAnswered, calls.EventEnded, calls.EventFailed, calls.EventQuality:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown event_type"})
		return
	}

	if err := h.Calls.HandleEvent(c.Request.Context(), ev); err != nil {
		logger.FromGin(c).Warn("gateway event rejected", "session_id", ev.SessionID, "event_type", ev.Type, "err", err)
		abortCallError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "accepted"})
}

func abortCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, calls.ErrSessionClosed):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "session already ended"})
	case errors.Is(err, calls.ErrInvalidTransition), errors.Is(err, calls.ErrConflict):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrCallInitiationFailed):
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "call initiation failed"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// --- Reports ---

// CallsReport summarises calls created in [from, to). Both bounds are RFC3339;
// the default window is the last 24 hours.
func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reports not configured"})
		return
	}
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
	}

	sum, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		Range: reporting.TimeRange{From: from, To: to},
		Agent: strings.TrimSpace(c.Query("agent")),
	})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Conversations ---

func (h Handlers) ReactivateConversation(c *gin.Context) {
	if h.Conversations == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "bot not configured"})
		return
	}
	actor, _ := auth.UserID(c.Request.Context())
	st, err := h.Conversations.Reactivate(c.Request.Context(), actor, c.Param("conversation_id"))
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reactivation failed"})
		return
	}
	c.JSON(http.StatusOK, st)
}

type escalateRequest struct {
	PhoneNumber string `json:"phone_number"`
	Reason      string `json:"reason"`
}

// EscalateConversation hands the active conversation for a phone to sales.
func (h Handlers) EscalateConversation(c *gin.Context) {
	if h.Conversations == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "bot not configured"})
		return
	}
	var req escalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(req.PhoneNumber) == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "phone_number required"})
		return
	}
	escalated, err := h.Conversations.EscalateByPhone(c.Request.Context(), req.PhoneNumber, req.Reason)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no active conversation"})
			return
		}
		logger.FromGin(c).Error("escalation failed", "phone", req.PhoneNumber, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "escalation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"escalated": escalated})
}
