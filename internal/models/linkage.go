// internal/models/linkage.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// RateLink says a rate revision was part of a contract revision's package during
// [ValidAfter, ValidUntil). Rows are closed by setting ValidUntil, never deleted.
type RateLink struct {
	BaseModel
	RateRevisionID     uuid.UUID  `json:"rate_revision_id" gorm:"type:uuid;not null;index"`
	ContractRevisionID uuid.UUID  `json:"contract_revision_id" gorm:"type:uuid;not null;index"`
	ValidAfter         time.Time  `json:"valid_after" gorm:"not null"`
	ValidUntil         *time.Time `json:"valid_until"`
	Position           int        `json:"position" gorm:"not null"`

	// Relationships
	RateRevision     *RateRevision     `json:"-" gorm:"foreignKey:RateRevisionID"`
	ContractRevision *ContractRevision `json:"-" gorm:"foreignKey:ContractRevisionID"`
}

func (RateLink) TableName() string { return "rate_links" }

func (l *RateLink) IsActive() bool { return l.ValidUntil == nil }

// EffectiveAt reports ValidAfter <= t < ValidUntil, with a nil ValidUntil as +infinity.
func (l *RateLink) EffectiveAt(t time.Time) bool {
	if l.ValidAfter.After(t) {
		return false
	}
	return l.ValidUntil == nil || t.Before(*l.ValidUntil)
}

// LegacyRateCandidate is the pre-linkage record of which rate revisions a contract revision
// touched. It carries no ordering or validity window.
type LegacyRateCandidate struct {
	ID                 uint      `json:"id" gorm:"primaryKey"`
	ContractRevisionID uuid.UUID `json:"contract_revision_id" gorm:"type:uuid;not null;index"`
	RateRevisionID     uuid.UUID `json:"rate_revision_id" gorm:"type:uuid;not null;index"`
	// RateSubmittedAt is the rate revision's own submit time, kept once its stamp is shared.
	RateSubmittedAt *time.Time `json:"rate_submitted_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (LegacyRateCandidate) TableName() string { return "legacy_rate_candidates" }
