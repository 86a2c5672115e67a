package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/artistbot/logostudy-backend/internal/conditions"
)

// ConditionCounter tracks how many participants have been assigned to a
// personalized variant. Count only ever moves up, by exactly one per
// assignment, through the repo's atomic upsert-increment.
type ConditionCounter struct {
	ID        uuid.UUID            `gorm:"type:uuid;primaryKey" json:"id"`
	Condition conditions.Condition `gorm:"column:condition;uniqueIndex;not null" json:"condition"`
	Count     int64                `gorm:"column:count;not null;default:0" json:"count"`
	CreatedAt time.Time            `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time            `gorm:"not null" json:"updated_at"`
}

func (ConditionCounter) TableName() string { return "condition_counter" }
