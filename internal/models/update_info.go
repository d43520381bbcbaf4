// internal/models/update_info.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// UpdateInfo stamps one submit or unlock event. A single row may be shared by a contract revision
// and every rate revision submitted alongside it.
type UpdateInfo struct {
	BaseModel
	UpdatedAt      time.Time `json:"updated_at" gorm:"not null;index;autoUpdateTime:false"`
	UpdatedByID    uuid.UUID `json:"updated_by_id" gorm:"type:uuid;not null;index"`
	UpdatedByEmail string    `json:"updated_by_email" gorm:"size:255"`
	UpdatedReason  string    `json:"updated_reason" gorm:"type:text;not null"`
}

// RelatedSubmission records that a contract revision took part in the submission stamped by
// UpdateInfoID.
type RelatedSubmission struct {
	UpdateInfoID       uuid.UUID `json:"update_info_id" gorm:"type:uuid;primaryKey"`
	ContractRevisionID uuid.UUID `json:"contract_revision_id" gorm:"type:uuid;primaryKey;index"`
	CreatedAt          time.Time `json:"created_at"`
}

func (RelatedSubmission) TableName() string { return "related_submissions" }
