package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/artistbot/logostudy-backend/internal/apperr"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/services"
)

type LogoHandler struct {
	log   *logger.Logger
	logos services.LogoService
}

func NewLogoHandler(log *logger.Logger, logos services.LogoService) *LogoHandler {
	return &LogoHandler{
		log:   log.With("handler", "LogoHandler"),
		logos: logos,
	}
}

// POST /api/logos/submit
// Multipart upload of the participant's chosen final logo.
func (h *LogoHandler) Submit(c *gin.Context) {
	responseID := c.PostForm("responseId")
	fileHeader, err := c.FormFile("logoFile")
	if err != nil || responseID == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", apperr.Validation("responseId and logoFile are required"))
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", apperr.Validation("could not read uploaded file"))
		return
	}
	defer file.Close()

	logo, err := h.logos.UploadFinalLogo(c.Request.Context(), responseID, fileHeader.Filename, file)
	if err != nil {
		h.log.ForRequest(c.Request.Context()).Error("Final logo upload failed", "response_id", responseID, "error", err)
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"message": "Final logo saved successfully", "finalLogo": logo})
}

// GET /api/logos/:responseId
func (h *LogoHandler) Get(c *gin.Context) {
	responseID := c.Param("responseId")
	if responseID == "" {
		RespondError(c, http.StatusBadRequest, "bad_request", apperr.Validation("missing responseId parameter"))
		return
	}

	logo, err := h.logos.GetFinalLogo(c.Request.Context(), responseID)
	if err != nil {
		h.log.ForRequest(c.Request.Context()).Warn("Final logo fetch failed", "response_id", responseID, "error", err)
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"finalLogo": logo})
}
