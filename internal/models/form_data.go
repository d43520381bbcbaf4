// internal/models/form_data.go
package models

import (
	"time"

	"gorm.io/datatypes"
)

type Document struct {
	Name   string `json:"name"`
	S3URL  string `json:"s3_url"`
	SHA256 string `json:"sha256"`
}

type Contact struct {
	Name      string `json:"name"`
	TitleRole string `json:"title_role"`
	Email     string `json:"email"`
}

// ContractFormData is the editable body of a contract revision. Every field may be empty while the
// revision is a draft.
type ContractFormData struct {
	SubmissionType          SubmissionType                `json:"submission_type" gorm:"type:varchar(30)"`
	SubmissionDescription   string                        `json:"submission_description" gorm:"type:text"`
	ProgramIDs              datatypes.JSONSlice[string]   `json:"program_ids"`
	ContractType            ContractType                  `json:"contract_type" gorm:"type:varchar(20)"`
	ContractExecutionStatus ContractExecutionStatus       `json:"contract_execution_status" gorm:"type:varchar(20)"`
	ContractDateStart       *time.Time                    `json:"contract_date_start"`
	ContractDateEnd         *time.Time                    `json:"contract_date_end"`
	ManagedCareEntities     datatypes.JSONSlice[string]   `json:"managed_care_entities"`
	FederalAuthorities      datatypes.JSONSlice[string]   `json:"federal_authorities"`
	RiskBasedContract       *bool                         `json:"risk_based_contract"`
	ContractDocuments       datatypes.JSONSlice[Document] `json:"contract_documents"`
	SupportingDocuments     datatypes.JSONSlice[Document] `json:"supporting_documents"`
	StateContacts           datatypes.JSONSlice[Contact]  `json:"state_contacts"`
}

// IsEmpty reports whether nothing has been filled in, which is how legacy rows whose data still
// lives in a blob look.
func (f ContractFormData) IsEmpty() bool {
	return f.SubmissionType == "" && f.SubmissionDescription == "" && len(f.ProgramIDs) == 0 &&
		f.ContractType == "" && len(f.ContractDocuments) == 0
}

type RateFormData struct {
	RateType              RateType                      `json:"rate_type" gorm:"type:varchar(20)"`
	RateCertificationName string                        `json:"rate_certification_name" gorm:"size:255"`
	RateDateStart         *time.Time                    `json:"rate_date_start"`
	RateDateEnd           *time.Time                    `json:"rate_date_end"`
	RateDateCertified     *time.Time                    `json:"rate_date_certified"`
	RateProgramIDs        datatypes.JSONSlice[string]   `json:"rate_program_ids"`
	RateDocuments         datatypes.JSONSlice[Document] `json:"rate_documents"`
	SupportingDocuments   datatypes.JSONSlice[Document] `json:"supporting_documents"`
	CertifyingActuaries   datatypes.JSONSlice[Contact]  `json:"certifying_actuaries"`
}
