package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/artistbot/logostudy-backend/internal/apperr"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/services"
)

type WebhookHandler struct {
	log    *logger.Logger
	intake services.IntakeService
}

func NewWebhookHandler(log *logger.Logger, intake services.IntakeService) *WebhookHandler {
	return &WebhookHandler{
		log:    log.With("handler", "WebhookHandler"),
		intake: intake,
	}
}

type webhookRequest struct {
	ResponseID       string   `json:"responseId"`
	ArtistExperience string   `json:"artistExperience"`
	WorkSampleURLs   []string `json:"workSampleUrls"`
}

type webhookResponse struct {
	Message           string  `json:"message"`
	ResponseID        string  `json:"responseId"`
	SavedSamples      int     `json:"savedSamples"`
	AssignedCondition *string `json:"assignedCondition,omitempty"`
}

// POST /api/webhook
// Survey-completion intake: downloads the participant's uploaded reference
// files and records them.
func (h *WebhookHandler) HandleSubmission(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", apperr.Validation("invalid webhook payload"))
		return
	}

	outcome, err := h.intake.ProcessIntake(c.Request.Context(), services.IntakeRequest{
		ResponseID:       req.ResponseID,
		ArtistExperience: req.ArtistExperience,
		WorkSampleURLs:   req.WorkSampleURLs,
	})
	if err != nil {
		h.log.ForRequest(c.Request.Context()).Error("Webhook intake failed", "response_id", req.ResponseID, "error", err)
		RespondAppError(c, err)
		return
	}

	resp := webhookResponse{
		Message:      "Webhook processed successfully",
		ResponseID:   req.ResponseID,
		SavedSamples: outcome.SavedSamples,
	}
	if outcome.AssignedCondition != nil {
		s := string(*outcome.AssignedCondition)
		resp.AssignedCondition = &s
	}
	RespondOK(c, resp)
}
