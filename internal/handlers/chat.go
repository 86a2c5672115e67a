package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/artistbot/logostudy-backend/internal/apperr"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/services"
)

type ChatHandler struct {
	log          *logger.Logger
	conversation services.ConversationService
}

func NewChatHandler(log *logger.Logger, conversation services.ConversationService) *ChatHandler {
	return &ChatHandler{
		log:          log.With("handler", "ChatHandler"),
		conversation: conversation,
	}
}

type greetingRequest struct {
	ResponseID string `json:"responseId"`
	Condition  string `json:"condition"`
}

// POST /api/greeting
// Opens (or continues) the participant's session with a condition-shaped
// welcome message.
func (h *ChatHandler) Greeting(c *gin.Context) {
	var req greetingRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ResponseID == "" || req.Condition == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", apperr.Validation("responseId and condition are required"))
		return
	}

	result, err := h.conversation.Greeting(c.Request.Context(), req.ResponseID, req.Condition)
	if err != nil {
		h.log.ForRequest(c.Request.Context()).Error("Greeting failed", "response_id", req.ResponseID, "error", err)
		RespondAppError(c, err)
		return
	}
	RespondOK(c, result)
}

type chatRequest struct {
	ResponseID string `json:"responseId"`
	Condition  string `json:"condition"`
	Message    string `json:"message"`
}

// POST /api/chat
func (h *ChatHandler) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ResponseID == "" || req.Condition == "" || req.Message == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", apperr.Validation("responseId, condition and message are required"))
		return
	}

	result, err := h.conversation.Chat(c.Request.Context(), req.ResponseID, req.Condition, req.Message)
	if err != nil {
		h.log.ForRequest(c.Request.Context()).Error("Chat turn failed", "response_id", req.ResponseID, "error", err)
		RespondAppError(c, err)
		return
	}
	RespondOK(c, result)
}

type resetRequest struct {
	ResponseID string `json:"responseId"`
}

// POST /api/chat/reset
// Ends the active session; a no-op when nothing is active.
func (h *ChatHandler) Reset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ResponseID == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", apperr.Validation("responseId is required"))
		return
	}

	if err := h.conversation.Reset(c.Request.Context(), req.ResponseID); err != nil {
		h.log.ForRequest(c.Request.Context()).Error("Chat reset failed", "response_id", req.ResponseID, "error", err)
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"success": true, "message": "Chat session reset successfully"})
}
