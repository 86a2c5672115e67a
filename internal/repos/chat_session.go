package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/types"
)

type ChatSessionRepo interface {
	// GetActive returns the participant's single active session with turns in
	// append order, or (nil, nil) when no session is active.
	GetActive(ctx context.Context, tx *gorm.DB, responseID string) (*types.ChatSession, error)
	Create(ctx context.Context, tx *gorm.DB, session *types.ChatSession) error
	// AppendTurn assigns the next seq within the session, inserts the turn and
	// bumps the session's cumulative token counter in one transaction.
	AppendTurn(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, turn *types.ChatTurn) error
	// EndActive flips the active session to ended; returns false when there
	// was nothing to end (idempotent no-op).
	EndActive(ctx context.Context, tx *gorm.DB, responseID string) (bool, error)
	ListByResponseID(ctx context.Context, tx *gorm.DB, responseID string) ([]*types.ChatSession, error)
}

type chatSessionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChatSessionRepo(db *gorm.DB, baseLog *logger.Logger) ChatSessionRepo {
	return &chatSessionRepo{db: db, log: baseLog.With("repo", "ChatSessionRepo")}
}

func (cr *chatSessionRepo) GetActive(ctx context.Context, tx *gorm.DB, responseID string) (*types.ChatSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	var session types.ChatSession
	err := transaction.WithContext(ctx).
		Preload("Turns", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		Where("response_id = ? AND is_active = ?", responseID, true).
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (cr *chatSessionRepo) Create(ctx context.Context, tx *gorm.DB, session *types.ChatSession) error {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}
	return transaction.WithContext(ctx).Create(session).Error
}

func (cr *chatSessionRepo) AppendTurn(ctx context.Context, tx *gorm.DB, sessionID uuid.UUID, turn *types.ChatTurn) error {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	return transaction.WithContext(ctx).Transaction(func(innerTx *gorm.DB) error {
		var maxSeq *int
		if err := innerTx.Model(&types.ChatTurn{}).
			Where("session_id = ?", sessionID).
			Select("MAX(seq)").
			Scan(&maxSeq).Error; err != nil {
			return err
		}
		next := 0
		if maxSeq != nil {
			next = *maxSeq + 1
		}

		turn.SessionID = sessionID
		turn.Seq = next
		if err := innerTx.Create(turn).Error; err != nil {
			return err
		}

		return innerTx.Model(&types.ChatSession{}).
			Where("id = ?", sessionID).
			Updates(map[string]interface{}{
				"total_tokens_used": gorm.Expr("total_tokens_used + ?", turn.TokensUsed),
				"updated_at":        time.Now().UTC(),
			}).Error
	})
}

func (cr *chatSessionRepo) EndActive(ctx context.Context, tx *gorm.DB, responseID string) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	now := time.Now().UTC()
	res := transaction.WithContext(ctx).
		Model(&types.ChatSession{}).
		Where("response_id = ? AND is_active = ?", responseID, true).
		Updates(map[string]interface{}{
			"is_active":   false,
			"session_end": now,
			"updated_at":  now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (cr *chatSessionRepo) ListByResponseID(ctx context.Context, tx *gorm.DB, responseID string) ([]*types.ChatSession, error) {
	transaction := tx
	if transaction == nil {
		transaction = cr.db
	}

	var sessions []*types.ChatSession
	if err := transaction.WithContext(ctx).
		Where("response_id = ?", responseID).
		Order("session_start DESC").
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}
