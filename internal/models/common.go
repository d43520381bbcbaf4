// internal/models/common.go
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base model with common fields. Revisions are never soft deleted, so there is no DeletedAt.
type BaseModel struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

// Enums
type UserRole string

const (
	UserRoleState UserRole = "STATE_USER"
	UserRoleCMS   UserRole = "CMS_USER"
)

type SubmissionStatus string

const (
	SubmissionStatusDraft       SubmissionStatus = "DRAFT"
	SubmissionStatusSubmitted   SubmissionStatus = "SUBMITTED"
	SubmissionStatusUnlocked    SubmissionStatus = "UNLOCKED"
	SubmissionStatusResubmitted SubmissionStatus = "RESUBMITTED"
)

// IsLocked reports whether the entity has no editable draft.
func (s SubmissionStatus) IsLocked() bool {
	return s == SubmissionStatusSubmitted || s == SubmissionStatusResubmitted
}

type SubmissionType string

const (
	SubmissionTypeContractOnly     SubmissionType = "CONTRACT_ONLY"
	SubmissionTypeContractAndRates SubmissionType = "CONTRACT_AND_RATES"
)

type ContractType string

const (
	ContractTypeBase      ContractType = "BASE"
	ContractTypeAmendment ContractType = "AMENDMENT"
)

type ContractExecutionStatus string

const (
	ContractExecutionStatusExecuted   ContractExecutionStatus = "EXECUTED"
	ContractExecutionStatusUnexecuted ContractExecutionStatus = "UNEXECUTED"
)

type RateType string

const (
	RateTypeNew       RateType = "NEW"
	RateTypeAmendment RateType = "AMENDMENT"
)
