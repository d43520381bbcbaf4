// internal/services/locked_form.go
package services

import (
	"errors"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/javajoker/mc-review-history/internal/models"
	"github.com/javajoker/mc-review-history/internal/utils"
)

// LockedContractForm is contract form data proven complete for submission. It can only be
// built by ParseContractForm.
type LockedContractForm struct {
	revisionID uuid.UUID
	form       models.ContractFormData
}

func (l LockedContractForm) RevisionID() uuid.UUID         { return l.revisionID }
func (l LockedContractForm) Form() models.ContractFormData { return l.form }

type LockedRateForm struct {
	revisionID uuid.UUID
	form       models.RateFormData
}

func (l LockedRateForm) RevisionID() uuid.UUID     { return l.revisionID }
func (l LockedRateForm) Form() models.RateFormData { return l.form }

// The section tag names the form step a missing field belongs to.
type contractSubmission struct {
	SubmissionType          string            `json:"submission_type" section:"submission" validate:"required,oneof=CONTRACT_ONLY CONTRACT_AND_RATES"`
	SubmissionDescription   string            `json:"submission_description" section:"submission" validate:"required"`
	ProgramIDs              []string          `json:"program_ids" section:"submission" validate:"required,min=1"`
	ContractType            string            `json:"contract_type" section:"contract_details" validate:"required,oneof=BASE AMENDMENT"`
	ContractExecutionStatus string            `json:"contract_execution_status" section:"contract_details" validate:"required,oneof=EXECUTED UNEXECUTED"`
	ContractDateStart       *time.Time        `json:"contract_date_start" section:"contract_details" validate:"required"`
	ContractDateEnd         *time.Time        `json:"contract_date_end" section:"contract_details" validate:"required,gtfield=ContractDateStart"`
	ManagedCareEntities     []string          `json:"managed_care_entities" section:"contract_details" validate:"required,min=1"`
	FederalAuthorities      []string          `json:"federal_authorities" section:"contract_details" validate:"required,min=1"`
	ContractDocuments       []models.Document `json:"contract_documents" section:"contract_documents" validate:"required,min=1"`
	StateContacts           []models.Contact  `json:"state_contacts" section:"contacts" validate:"required,min=1"`
}

type rateSubmission struct {
	RateType              string            `json:"rate_type" section:"rate_details" validate:"required,oneof=NEW AMENDMENT"`
	RateCertificationName string            `json:"rate_certification_name" section:"rate_details" validate:"required"`
	RateDateStart         *time.Time        `json:"rate_date_start" section:"rate_details" validate:"required"`
	RateDateEnd           *time.Time        `json:"rate_date_end" section:"rate_details" validate:"required,gtfield=RateDateStart"`
	RateDateCertified     *time.Time        `json:"rate_date_certified" section:"rate_details" validate:"required"`
	RateProgramIDs        []string          `json:"rate_program_ids" section:"rate_details" validate:"required,min=1"`
	RateDocuments         []models.Document `json:"rate_documents" section:"rate_documents" validate:"required,min=1"`
	CertifyingActuaries   []models.Contact  `json:"certifying_actuaries" section:"actuary_contacts" validate:"required,min=1"`
}

// ParseContractForm turns a draft revision into a submittable form, or names what is missing.
// linkedRates is the number of rates the draft will be packaged with.
func ParseContractForm(revision *models.ContractRevision, linkedRates int) (LockedContractForm, error) {
	f := revision.FormData
	candidate := contractSubmission{
		SubmissionType:          string(f.SubmissionType),
		SubmissionDescription:   f.SubmissionDescription,
		ProgramIDs:              f.ProgramIDs,
		ContractType:            string(f.ContractType),
		ContractExecutionStatus: string(f.ContractExecutionStatus),
		ContractDateStart:       f.ContractDateStart,
		ContractDateEnd:         f.ContractDateEnd,
		ManagedCareEntities:     f.ManagedCareEntities,
		FederalAuthorities:      f.FederalAuthorities,
		ContractDocuments:       f.ContractDocuments,
		StateContacts:           f.StateContacts,
	}
	if err := utils.ValidateStruct(&candidate); err != nil {
		return LockedContractForm{}, incompleteFrom("contract", candidate, err)
	}

	if f.SubmissionType == models.SubmissionTypeContractAndRates && linkedRates == 0 {
		return LockedContractForm{}, &IncompleteSubmissionError{Entity: "contract", Field: "rates", FieldClass: "rates"}
	}

	return LockedContractForm{revisionID: revision.ID, form: f}, nil
}

func ParseRateForm(revision *models.RateRevision) (LockedRateForm, error) {
	f := revision.FormData
	candidate := rateSubmission{
		RateType:              string(f.RateType),
		RateCertificationName: f.RateCertificationName,
		RateDateStart:         f.RateDateStart,
		RateDateEnd:           f.RateDateEnd,
		RateDateCertified:     f.RateDateCertified,
		RateProgramIDs:        f.RateProgramIDs,
		RateDocuments:         f.RateDocuments,
		CertifyingActuaries:   f.CertifyingActuaries,
	}
	if err := utils.ValidateStruct(&candidate); err != nil {
		return LockedRateForm{}, incompleteFrom("rate", candidate, err)
	}

	return LockedRateForm{revisionID: revision.ID, form: f}, nil
}

func incompleteFrom(entity string, candidate interface{}, err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return err
	}

	first := validationErrs[0]
	section := "form"
	if field, ok := reflect.TypeOf(candidate).FieldByName(first.StructField()); ok {
		section = field.Tag.Get("section")
	}

	return &IncompleteSubmissionError{Entity: entity, Field: first.Field(), FieldClass: section}
}
