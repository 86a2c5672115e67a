package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/artistbot/logostudy-backend/internal/apperr"
	"github.com/artistbot/logostudy-backend/internal/conditions"
	"github.com/artistbot/logostudy-backend/internal/logger"
	"github.com/artistbot/logostudy-backend/internal/repos"
	"github.com/artistbot/logostudy-backend/internal/types"
)

// TurnOptions carries the optional metadata stored with a turn. Condition is
// consulted only when the append has to create a fresh session.
type TurnOptions struct {
	Condition   conditions.Condition
	Images      []string
	ImagePrompt *string
	TokensUsed  int
}

// ChatContext is the frozen system prompt plus the full turn history of the
// active session.
type ChatContext struct {
	SessionID    uuid.UUID
	Condition    conditions.Condition
	SystemPrompt string
	Turns        []types.ChatTurn
}

// SessionService is the per-participant session state machine:
// NoSession -> Active -> Ended. Ended is terminal for a session instance; the
// next appended turn lazily creates a fresh Active session.
type SessionService interface {
	// AppendTurn appends to the active session, creating one first when none
	// exists. Creation requires a resolvable condition; callers resolve the
	// condition before appending.
	AppendTurn(ctx context.Context, responseID string, role string, content string, opts TurnOptions) (*types.ChatSession, error)
	// GetContext returns nil (no error) when the participant has no active
	// session; that is the fresh-session signal, not a failure.
	GetContext(ctx context.Context, responseID string) (*ChatContext, error)
	// EndSession is an idempotent no-op when nothing is active.
	EndSession(ctx context.Context, responseID string) (bool, error)
}

type sessionService struct {
	db       *gorm.DB
	log      *logger.Logger
	sessions repos.ChatSessionRepo
}

func NewSessionService(db *gorm.DB, baseLog *logger.Logger, sessionRepo repos.ChatSessionRepo) SessionService {
	return &sessionService{
		db:       db,
		log:      baseLog.With("service", "SessionService"),
		sessions: sessionRepo,
	}
}

func (ss *sessionService) AppendTurn(ctx context.Context, responseID string, role string, content string, opts TurnOptions) (*types.ChatSession, error) {
	session, err := ss.sessions.GetActive(ctx, nil, responseID)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to load active session for %s", responseID)
	}

	if session == nil {
		if opts.Condition == "" {
			return nil, apperr.Validation("cannot create session for %s: no condition resolved", responseID)
		}
		session, err = ss.createSession(ctx, responseID, opts.Condition)
		if err != nil {
			return nil, err
		}
	}

	turn := &types.ChatTurn{
		ID:          uuid.New(),
		Role:        role,
		Content:     content,
		ImagePrompt: opts.ImagePrompt,
		TokensUsed:  opts.TokensUsed,
		CreatedAt:   time.Now().UTC(),
	}
	if len(opts.Images) > 0 {
		raw, mErr := json.Marshal(opts.Images)
		if mErr != nil {
			return nil, apperr.Persistence(mErr, "failed to encode image list")
		}
		turn.Images = datatypes.JSON(raw)
	}

	if err := ss.sessions.AppendTurn(ctx, nil, session.ID, turn); err != nil {
		return nil, apperr.Persistence(err, "failed to append turn for %s", responseID)
	}
	session.Turns = append(session.Turns, *turn)
	session.TotalTokensUsed += opts.TokensUsed
	return session, nil
}

func (ss *sessionService) createSession(ctx context.Context, responseID string, condition conditions.Condition) (*types.ChatSession, error) {
	now := time.Now().UTC()
	systemPrompt := conditions.SystemPrompt(condition)
	session := &types.ChatSession{
		ID:           uuid.New(),
		ResponseID:   responseID,
		Condition:    condition,
		SystemPrompt: systemPrompt,
		SessionStart: now,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := ss.sessions.Create(ctx, nil, session); err != nil {
		// A concurrent first turn may have created the session; use theirs.
		existing, getErr := ss.sessions.GetActive(ctx, nil, responseID)
		if getErr == nil && existing != nil {
			return existing, nil
		}
		return nil, apperr.Persistence(err, "failed to create session for %s", responseID)
	}
	ss.log.ForRequest(ctx).Info("Created new chat session", "response_id", responseID, "condition", condition)

	// The frozen prompt is also the first turn so replays carry full context.
	systemTurn := &types.ChatTurn{
		ID:        uuid.New(),
		Role:      types.RoleSystem,
		Content:   systemPrompt,
		CreatedAt: now,
	}
	if err := ss.sessions.AppendTurn(ctx, nil, session.ID, systemTurn); err != nil {
		return nil, apperr.Persistence(err, "failed to record system turn for %s", responseID)
	}
	session.Turns = append(session.Turns, *systemTurn)
	return session, nil
}

func (ss *sessionService) GetContext(ctx context.Context, responseID string) (*ChatContext, error) {
	session, err := ss.sessions.GetActive(ctx, nil, responseID)
	if err != nil {
		return nil, apperr.Persistence(err, "failed to load context for %s", responseID)
	}
	if session == nil {
		return nil, nil
	}
	return &ChatContext{
		SessionID:    session.ID,
		Condition:    session.Condition,
		SystemPrompt: session.SystemPrompt,
		Turns:        session.Turns,
	}, nil
}

func (ss *sessionService) EndSession(ctx context.Context, responseID string) (bool, error) {
	ended, err := ss.sessions.EndActive(ctx, nil, responseID)
	if err != nil {
		return false, apperr.Persistence(err, "failed to end session for %s", responseID)
	}
	if ended {
		ss.log.ForRequest(ctx).Info("Ended chat session", "response_id", responseID)
	}
	return ended, nil
}
