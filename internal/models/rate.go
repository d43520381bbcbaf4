// internal/models/rate.go
package models

import (
	"fmt"

	"github.com/google/uuid"
)

// Rate is a rate certification. ParentContractID is ownership only; which contracts a rate is
// packaged with is recorded by RateLink rows.
type Rate struct {
	BaseModel
	StateCode        string     `json:"state_code" gorm:"size:2;not null;uniqueIndex:idx_rates_state_number"`
	StateNumber      int        `json:"state_number" gorm:"not null;uniqueIndex:idx_rates_state_number"`
	ParentContractID *uuid.UUID `json:"parent_contract_id" gorm:"type:uuid;index"`

	// Relationships
	ParentContract *Contract `json:"-" gorm:"foreignKey:ParentContractID"`
}

func (r *Rate) Name() string {
	return fmt.Sprintf("%s-RATE-%04d", r.StateCode, r.StateNumber)
}

type RateRevision struct {
	BaseModel
	RateID       uuid.UUID    `json:"rate_id" gorm:"type:uuid;not null;index"`
	FormData     RateFormData `json:"form_data" gorm:"embedded"`
	SubmitInfoID *uuid.UUID   `json:"submit_info_id" gorm:"type:uuid;index"`
	UnlockInfoID *uuid.UUID   `json:"unlock_info_id" gorm:"type:uuid"`

	// Relationships
	Rate       *Rate       `json:"-" gorm:"foreignKey:RateID"`
	SubmitInfo *UpdateInfo `json:"submit_info,omitempty" gorm:"foreignKey:SubmitInfoID"`
	UnlockInfo *UpdateInfo `json:"unlock_info,omitempty" gorm:"foreignKey:UnlockInfoID"`
}

func (r *RateRevision) IsSubmitted() bool { return r.SubmitInfoID != nil }

// RateStatus derives the workflow state from revisions sorted oldest first.
func RateStatus(revisions []RateRevision) SubmissionStatus {
	if len(revisions) == 0 {
		return ""
	}
	latest := revisions[len(revisions)-1]
	return deriveStatus(len(revisions), latest.IsSubmitted(), latest.UnlockInfoID != nil)
}
