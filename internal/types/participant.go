package types

import (
	"time"

	"github.com/google/uuid"

	"github.com/artistbot/logostudy-backend/internal/conditions"
)

// Participant is the aggregate created by survey intake (or lazily by a
// general final-logo upload). AssignedCondition is write-once: once set it is
// never overwritten for the life of the study.
type Participant struct {
	ID                uuid.UUID             `gorm:"type:uuid;primaryKey" json:"id"`
	ResponseID        string                `gorm:"uniqueIndex;not null;column:response_id" json:"response_id"`
	ArtistExperience  string                `gorm:"column:artist_experience" json:"artist_experience"`
	AssignedCondition *conditions.Condition `gorm:"column:assigned_condition" json:"assigned_condition,omitempty"`
	IsGeneralUser     bool                  `gorm:"column:is_general_user;not null;default:false" json:"is_general_user"`
	WorkSamples       []ReferenceImage      `gorm:"constraint:OnDelete:CASCADE;foreignKey:ParticipantID;references:ID" json:"work_samples,omitempty"`
	FinalLogo         *FinalLogo            `gorm:"embedded;embeddedPrefix:final_logo_" json:"final_logo,omitempty"`
	CreatedAt         time.Time             `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time             `gorm:"not null" json:"updated_at"`
}

func (Participant) TableName() string { return "participant" }

// ReferenceImage is one uploaded work sample. URL is the public retrieval URL,
// StorageKey the permanent bucket locator.
type ReferenceImage struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ParticipantID uuid.UUID `gorm:"type:uuid;not null;index" json:"participant_id"`
	Position      int       `gorm:"column:position;not null" json:"position"`
	FileName      string    `gorm:"column:file_name;not null" json:"file_name"`
	URL           string    `gorm:"column:url" json:"url"`
	StorageKey    string    `gorm:"column:storage_key" json:"storage_key"`
	UploadedAt    time.Time `gorm:"column:uploaded_at;not null" json:"uploaded_at"`
}

func (ReferenceImage) TableName() string { return "reference_image" }

// FinalLogo is embedded on Participant; a re-upload replaces it wholesale.
type FinalLogo struct {
	FileName   string     `gorm:"column:file_name" json:"file_name"`
	URL        string     `gorm:"column:url" json:"url"`
	StorageKey string     `gorm:"column:storage_key" json:"storage_key"`
	UploadedAt *time.Time `gorm:"column:uploaded_at" json:"uploaded_at,omitempty"`
}
