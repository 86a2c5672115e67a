package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/artistbot/logostudy-backend/internal/apperr"
	"github.com/artistbot/logostudy-backend/internal/conditions"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/repos"
	"github.com/artistbot/logostudy-backend/internal/types"
)

// generalUserPrefix marks participants who never went through survey intake;
// a final-logo upload creates their record lazily with the general condition.
const generalUserPrefix = "general_"

type ImageDescriptor struct {
	FileName string `json:"fileName"`
	URL      string `json:"url"`
}

// LogoService handles the final-artifact upload and the read endpoints over a
// participant's stored assets.
type LogoService interface {
	UploadFinalLogo(ctx context.Context, responseID string, originalName string, file io.Reader) (*types.FinalLogo, error)
	GetFinalLogo(ctx context.Context, responseID string) (*types.FinalLogo, error)
	ListReferenceImages(ctx context.Context, responseID string) ([]ImageDescriptor, error)
}

type logoService struct {
	db           *gorm.DB
	log          *logger.Logger
	participants repos.ParticipantRepo
	bucket       BucketService
}

func NewLogoService(db *gorm.DB, baseLog *logger.Logger, participantRepo repos.ParticipantRepo, bucketService BucketService) LogoService {
	return &logoService{
		db:           db,
		log:          baseLog.With("service", "LogoService"),
		participants: participantRepo,
		bucket:       bucketService,
	}
}

func (ls *logoService) UploadFinalLogo(ctx context.Context, responseID string, originalName string, file io.Reader) (*types.FinalLogo, error) {
	if responseID == "" {
		return nil, apperr.Validation("missing responseId parameter")
	}
	if file == nil {
		return nil, apperr.Validation("no logo file provided")
	}

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		return nil, apperr.Validation("logo file is empty or unreadable")
	}

	contentType, ext := sniffImageType(data, originalName)
	now := time.Now().UTC()
	fileName := fmt.Sprintf("final_logo_%d.%s", now.Unix(), ext)
	key := fmt.Sprintf("%s/%s", responseID, fileName)

	if err := ls.bucket.UploadFile(ctx, key, contentType, bytes.NewReader(data)); err != nil {
		return nil, apperr.Persistence(err, "failed to store final logo for %s", responseID)
	}

	participant, err := ls.participants.GetByResponseID(ctx, nil, responseID)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to look up participant %s", responseID)
	}
	if participant == nil {
		if !strings.HasPrefix(responseID, generalUserPrefix) {
			return nil, apperr.NotFound("user not found")
		}
		general := conditions.General
		participant, err = ls.participants.Create(ctx, nil, &types.Participant{
			ID:                uuid.New(),
			ResponseID:        responseID,
			AssignedCondition: &general,
			IsGeneralUser:     true,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
		if err != nil {
			return nil, apperr.Persistence(err, "failed to create general participant %s", responseID)
		}
		ls.log.ForRequest(ctx).Info("Created general participant for final logo upload", "response_id", responseID)
	}

	logo := types.FinalLogo{
		FileName:   fileName,
		URL:        ls.bucket.GetPublicURL(key),
		StorageKey: ls.bucket.StorageURI(key),
		UploadedAt: &now,
	}
	if _, err := ls.participants.SetFinalLogo(ctx, nil, responseID, logo); err != nil {
		return nil, apperr.Persistence(err, "failed to save final logo for %s", responseID)
	}

	ls.log.ForRequest(ctx).Info("Final logo saved", "response_id", responseID, "file_name", fileName)
	return &logo, nil
}

func (ls *logoService) GetFinalLogo(ctx context.Context, responseID string) (*types.FinalLogo, error) {
	participant, err := ls.participants.GetByResponseID(ctx, nil, responseID)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to look up participant %s", responseID)
	}
	if participant == nil {
		return nil, apperr.NotFound("user not found")
	}
	if participant.FinalLogo == nil || participant.FinalLogo.FileName == "" {
		return nil, apperr.NotFound("no final logo found for this user")
	}
	return participant.FinalLogo, nil
}

func (ls *logoService) ListReferenceImages(ctx context.Context, responseID string) ([]ImageDescriptor, error) {
	participant, err := ls.participants.GetByResponseID(ctx, nil, responseID)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to look up participant %s", responseID)
	}
	if participant == nil || len(participant.WorkSamples) == 0 {
		return nil, apperr.NotFound("no images found for this user")
	}

	images := make([]ImageDescriptor, 0, len(participant.WorkSamples))
	for _, sample := range participant.WorkSamples {
		images = append(images, ImageDescriptor{FileName: sample.FileName, URL: sample.URL})
	}
	return images, nil
}

// sniffImageType prefers the actual bytes over the client-provided name.
func sniffImageType(data []byte, originalName string) (contentType string, ext string) {
	contentType = http.DetectContentType(data)
	switch contentType {
	case "image/jpeg":
		return contentType, "jpg"
	case "image/png":
		return contentType, "png"
	case "image/gif":
		return contentType, "gif"
	case "image/webp":
		return contentType, "webp"
	}
	if idx := strings.LastIndexByte(originalName, '.'); idx >= 0 && idx < len(originalName)-1 {
		return contentType, strings.ToLower(originalName[idx+1:])
	}
	return contentType, "bin"
}
