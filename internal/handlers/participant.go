package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/artistbot/logostudy-backend/internal/apperr"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/services"
)

type ParticipantHandler struct {
	log   *logger.Logger
	logos services.LogoService
}

func NewParticipantHandler(log *logger.Logger, logos services.LogoService) *ParticipantHandler {
	return &ParticipantHandler{
		log:   log.With("handler", "ParticipantHandler"),
		logos: logos,
	}
}

// GET /api/response/:responseId/images
// Lists the participant's stored reference images in upload order.
func (h *ParticipantHandler) ListImages(c *gin.Context) {
	responseID := c.Param("responseId")
	if responseID == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", apperr.Validation("missing responseId parameter"))
		return
	}

	images, err := h.logos.ListReferenceImages(c.Request.Context(), responseID)
	if err != nil {
		h.log.ForRequest(c.Request.Context()).Warn("Reference image listing failed", "response_id", responseID, "error", err)
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"images": images})
}
