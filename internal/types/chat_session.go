package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/artistbot/logostudy-backend/internal/conditions"
)

// Turn roles. Stored as plain strings so replay tooling can read the table
// without importing this package.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatSession is one bounded conversation for a participant. At most one row
// per response_id may have is_active = true; db.PostgresService installs the
// partial unique index that enforces this.
type ChatSession struct {
	ID              uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	ResponseID      string               `gorm:"not null;index;column:response_id" json:"response_id"`
	Condition       conditions.Condition `gorm:"column:condition;not null" json:"condition"`
	SystemPrompt    string               `gorm:"column:system_prompt;not null" json:"system_prompt"`
	SessionStart    time.Time            `gorm:"column:session_start;not null" json:"session_start"`
	SessionEnd      *time.Time           `gorm:"column:session_end" json:"session_end,omitempty"`
	IsActive        bool                 `gorm:"column:is_active;not null;default:true" json:"is_active"`
	TotalTokensUsed int                  `gorm:"column:total_tokens_used;not null;default:0" json:"total_tokens_used"`
	Turns           []ChatTurn           `gorm:"constraint:OnDelete:CASCADE;foreignKey:SessionID;references:ID" json:"turns,omitempty"`
	CreatedAt       time.Time            `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time            `gorm:"not null" json:"updated_at"`
}

func (ChatSession) TableName() string { return "chat_session" }

// ChatTurn is immutable once appended. Seq is the authoritative replay order
// within a session.
type ChatTurn struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SessionID   uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex:idx_chat_turn_session_seq" json:"session_id"`
	Seq         int            `gorm:"column:seq;not null;uniqueIndex:idx_chat_turn_session_seq" json:"seq"`
	Role        string         `gorm:"column:role;not null" json:"role"`
	Content     string         `gorm:"column:content;not null" json:"content"`
	Images      datatypes.JSON `gorm:"column:images;type:jsonb" json:"images,omitempty"`
	ImagePrompt *string        `gorm:"column:image_prompt" json:"image_prompt,omitempty"`
	TokensUsed  int            `gorm:"column:tokens_used;not null;default:0" json:"tokens_used"`
	CreatedAt   time.Time      `gorm:"not null" json:"created_at"`
}

func (ChatTurn) TableName() string { return "chat_turn" }
