package repos

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/artistbot/logostudy-backend/internal/conditions"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/types"
)

type ParticipantRepo interface {
	Create(ctx context.Context, tx *gorm.DB, participant *types.Participant) (*types.Participant, error)
	// GetByResponseID returns (nil, nil) when no record exists; an unknown
	// participant is a normal outcome, not an error.
	GetByResponseID(ctx context.Context, tx *gorm.DB, responseID string) (*types.Participant, error)
	UpdateExperience(ctx context.Context, tx *gorm.DB, responseID string, experience string) error
	AddWorkSamples(ctx context.Context, tx *gorm.DB, samples []*types.ReferenceImage) error
	// AssignConditionIfUnset persists condition only when no condition is
	// stored yet and returns the condition that is effective afterwards.
	// A concurrent first assignment loses the conditional update and gets the
	// stored winner back.
	AssignConditionIfUnset(ctx context.Context, tx *gorm.DB, responseID string, condition conditions.Condition) (conditions.Condition, error)
	SetFinalLogo(ctx context.Context, tx *gorm.DB, responseID string, logo types.FinalLogo) (*types.Participant, error)
}

type participantRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewParticipantRepo(db *gorm.DB, baseLog *logger.Logger) ParticipantRepo {
	return &participantRepo{db: db, log: baseLog.With("repo", "ParticipantRepo")}
}

func (pr *participantRepo) Create(ctx context.Context, tx *gorm.DB, participant *types.Participant) (*types.Participant, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	if err := transaction.WithContext(ctx).Create(participant).Error; err != nil {
		return nil, err
	}
	return participant, nil
}

func (pr *participantRepo) GetByResponseID(ctx context.Context, tx *gorm.DB, responseID string) (*types.Participant, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	var result types.Participant
	err := transaction.WithContext(ctx).
		Preload("WorkSamples", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("response_id = ?", responseID).
		First(&result).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (pr *participantRepo) UpdateExperience(ctx context.Context, tx *gorm.DB, responseID string, experience string) error {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	return transaction.WithContext(ctx).
		Model(&types.Participant{}).
		Where("response_id = ?", responseID).
		Updates(map[string]interface{}{
			"artist_experience": experience,
			"updated_at":        time.Now().UTC(),
		}).Error
}

func (pr *participantRepo) AddWorkSamples(ctx context.Context, tx *gorm.DB, samples []*types.ReferenceImage) error {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}
	if len(samples) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).Create(&samples).Error
}

func (pr *participantRepo) AssignConditionIfUnset(ctx context.Context, tx *gorm.DB, responseID string, condition conditions.Condition) (conditions.Condition, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.Participant{}).
		Where("response_id = ? AND assigned_condition IS NULL", responseID).
		Updates(map[string]interface{}{
			"assigned_condition": condition,
			"updated_at":         time.Now().UTC(),
		})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected > 0 {
		return condition, nil
	}

	// Lost the write-once race (or the participant was assigned earlier):
	// the stored value wins.
	var stored types.Participant
	if err := transaction.WithContext(ctx).
		Select("assigned_condition").
		Where("response_id = ?", responseID).
		First(&stored).Error; err != nil {
		return "", err
	}
	if stored.AssignedCondition == nil {
		return "", gorm.ErrRecordNotFound
	}
	return *stored.AssignedCondition, nil
}

func (pr *participantRepo) SetFinalLogo(ctx context.Context, tx *gorm.DB, responseID string, logo types.FinalLogo) (*types.Participant, error) {
	transaction := tx
	if transaction == nil {
		transaction = pr.db
	}

	res := transaction.WithContext(ctx).
		Model(&types.Participant{}).
		Where("response_id = ?", responseID).
		Updates(map[string]interface{}{
			"final_logo_file_name":   logo.FileName,
			"final_logo_url":         logo.URL,
			"final_logo_storage_key": logo.StorageKey,
			"final_logo_uploaded_at": logo.UploadedAt,
			"updated_at":             time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return pr.GetByResponseID(ctx, transaction, responseID)
}
