// internal/models/contract.go
package models

import (
	"fmt"

	"github.com/google/uuid"
)

type Contract struct {
	BaseModel
	StateCode   string `json:"state_code" gorm:"size:2;not null;uniqueIndex:idx_contracts_state_number"`
	StateNumber int    `json:"state_number" gorm:"not null;uniqueIndex:idx_contracts_state_number"`
}

// Name is the human-readable package identifier reviewers use, e.g. MN-0004.
func (c *Contract) Name() string {
	return fmt.Sprintf("%s-%04d", c.StateCode, c.StateNumber)
}

// ContractRevision is an immutable snapshot once SubmitInfoID is set.
type ContractRevision struct {
	BaseModel
	ContractID   uuid.UUID        `json:"contract_id" gorm:"type:uuid;not null;index"`
	FormData     ContractFormData `json:"form_data" gorm:"embedded"`
	SubmitInfoID *uuid.UUID       `json:"submit_info_id" gorm:"type:uuid;index"`
	UnlockInfoID *uuid.UUID       `json:"unlock_info_id" gorm:"type:uuid"`
	// False on an unlocked draft until its rate list is written; until then the draft shows the
	// previous submission's links.
	RateLinksMaterialized bool `json:"-" gorm:"not null"`
	// Pre-migration form data encoding, read only by the reconciler.
	LegacyFormBlob []byte `json:"-"`

	// Relationships
	Contract   *Contract   `json:"-" gorm:"foreignKey:ContractID"`
	SubmitInfo *UpdateInfo `json:"submit_info,omitempty" gorm:"foreignKey:SubmitInfoID"`
	UnlockInfo *UpdateInfo `json:"unlock_info,omitempty" gorm:"foreignKey:UnlockInfoID"`
}

func (r *ContractRevision) IsSubmitted() bool { return r.SubmitInfoID != nil }

// ContractStatus derives the workflow state from revisions sorted oldest first.
func ContractStatus(revisions []ContractRevision) SubmissionStatus {
	if len(revisions) == 0 {
		return ""
	}
	latest := revisions[len(revisions)-1]
	return deriveStatus(len(revisions), latest.IsSubmitted(), latest.UnlockInfoID != nil)
}

func deriveStatus(revisionCount int, latestSubmitted, latestUnlocked bool) SubmissionStatus {
	switch {
	case !latestSubmitted && latestUnlocked:
		return SubmissionStatusUnlocked
	case !latestSubmitted:
		return SubmissionStatusDraft
	case revisionCount > 1:
		return SubmissionStatusResubmitted
	default:
		return SubmissionStatusSubmitted
	}
}
