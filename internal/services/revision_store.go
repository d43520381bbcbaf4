// internal/services/revision_store.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/mc-review-history/internal/models"
)

var contractFormColumns = []string{
	"submission_type", "submission_description", "program_ids", "contract_type",
	"contract_execution_status", "contract_date_start", "contract_date_end",
	"managed_care_entities", "federal_authorities", "risk_based_contract",
	"contract_documents", "supporting_documents", "state_contacts",
}

var rateFormColumns = []string{
	"rate_type", "rate_certification_name", "rate_date_start", "rate_date_end",
	"rate_date_certified", "rate_program_ids", "rate_documents", "supporting_documents",
	"certifying_actuaries",
}

// RevisionStore persists contract and rate revisions. It runs on whatever handle it was built
// with, normally the caller's transaction, and takes no locks beyond the rows it selects
// FOR UPDATE.
type RevisionStore struct {
	db *gorm.DB
}

func NewRevisionStore(db *gorm.DB) *RevisionStore {
	return &RevisionStore{db: db}
}

// Contracts

func (s *RevisionStore) LockContract(ctx context.Context, contractID uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	if err := s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&contract, "id = ?", contractID).Error; err != nil {
		return nil, notFoundOr(err, "contract", contractID)
	}
	return &contract, nil
}

func (s *RevisionStore) CreateContractDraft(ctx context.Context, contractID uuid.UUID, form models.ContractFormData, materialized bool, unlockInfoID *uuid.UUID) (*models.ContractRevision, error) {
	revision := &models.ContractRevision{
		ContractID:            contractID,
		FormData:              form,
		UnlockInfoID:          unlockInfoID,
		RateLinksMaterialized: materialized,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(revision).Error; err != nil {
		return nil, fmt.Errorf("failed to create contract revision: %w", err)
	}
	return revision, nil
}

// FindContractDraft returns the revision with no submit stamp, locked for the rest of the
// transaction.
func (s *RevisionStore) FindContractDraft(ctx context.Context, contractID uuid.UUID) (*models.ContractRevision, error) {
	var revision models.ContractRevision
	err := s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("contract_id = ? AND submit_info_id IS NULL", contractID).
		First(&revision).Error
	if err != nil {
		return nil, notFoundOr(err, "contract draft", contractID)
	}
	return &revision, nil
}

// ContractRevisions returns every revision of the contract, oldest first, with stamps loaded.
func (s *RevisionStore) ContractRevisions(ctx context.Context, contractID uuid.UUID) ([]models.ContractRevision, error) {
	var revisions []models.ContractRevision
	if err := s.db.WithContext(ctx).Preload("SubmitInfo").Preload("UnlockInfo").
		Where("contract_id = ?", contractID).
		Order("created_at ASC").
		Find(&revisions).Error; err != nil {
		return nil, fmt.Errorf("failed to load contract revisions: %w", err)
	}
	sort.SliceStable(revisions, func(i, j int) bool {
		return revisions[i].CreatedAt.Before(revisions[j].CreatedAt)
	})
	return revisions, nil
}

func (s *RevisionStore) UpdateContractDraftForm(ctx context.Context, revisionID uuid.UUID, form models.ContractFormData) error {
	result := s.db.WithContext(ctx).Model(&models.ContractRevision{}).
		Where("id = ? AND submit_info_id IS NULL", revisionID).
		Select(contractFormColumns).
		Updates(&models.ContractRevision{FormData: form})
	if result.Error != nil {
		return fmt.Errorf("failed to update contract draft: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.writeOnceViolation(ctx, &models.ContractRevision{}, "contract revision", revisionID)
	}
	return nil
}

func (s *RevisionStore) MarkRateLinksMaterialized(ctx context.Context, revisionID uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&models.ContractRevision{}).
		Where("id = ? AND submit_info_id IS NULL", revisionID).
		Update("rate_links_materialized", true).Error
}

// SubmitContractRevision stamps a locked draft. The submit_info_id IS NULL guard makes the
// stamp write-once even if two transactions read the same draft.
func (s *RevisionStore) SubmitContractRevision(ctx context.Context, locked LockedContractForm, info *models.UpdateInfo) (*models.ContractRevision, error) {
	result := s.db.WithContext(ctx).Model(&models.ContractRevision{}).
		Where("id = ? AND submit_info_id IS NULL", locked.RevisionID()).
		Update("submit_info_id", info.ID)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to submit contract revision: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, s.writeOnceViolation(ctx, &models.ContractRevision{}, "contract revision", locked.RevisionID())
	}

	var revision models.ContractRevision
	if err := s.db.WithContext(ctx).Preload("SubmitInfo").First(&revision, "id = ?", locked.RevisionID()).Error; err != nil {
		return nil, notFoundOr(err, "contract revision", locked.RevisionID())
	}
	return &revision, nil
}

// Rates

func (s *RevisionStore) LockRate(ctx context.Context, rateID uuid.UUID) (*models.Rate, error) {
	var rate models.Rate
	if err := s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&rate, "id = ?", rateID).Error; err != nil {
		return nil, notFoundOr(err, "rate", rateID)
	}
	return &rate, nil
}

func (s *RevisionStore) CreateRateDraft(ctx context.Context, rateID uuid.UUID, form models.RateFormData, unlockInfoID *uuid.UUID) (*models.RateRevision, error) {
	revision := &models.RateRevision{
		RateID:       rateID,
		FormData:     form,
		UnlockInfoID: unlockInfoID,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(revision).Error; err != nil {
		return nil, fmt.Errorf("failed to create rate revision: %w", err)
	}
	return revision, nil
}

func (s *RevisionStore) FindRateDraft(ctx context.Context, rateID uuid.UUID) (*models.RateRevision, error) {
	var revision models.RateRevision
	err := s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("rate_id = ? AND submit_info_id IS NULL", rateID).
		First(&revision).Error
	if err != nil {
		return nil, notFoundOr(err, "rate draft", rateID)
	}
	return &revision, nil
}

// LatestRateRevision is the draft if one exists, otherwise the newest submitted revision.
func (s *RevisionStore) LatestRateRevision(ctx context.Context, rateID uuid.UUID) (*models.RateRevision, error) {
	revisions, err := s.RateRevisions(ctx, rateID)
	if err != nil {
		return nil, err
	}
	if len(revisions) == 0 {
		return nil, &NotFoundError{Entity: "rate revision", ID: rateID}
	}
	return &revisions[len(revisions)-1], nil
}

func (s *RevisionStore) RateRevisions(ctx context.Context, rateID uuid.UUID) ([]models.RateRevision, error) {
	var revisions []models.RateRevision
	if err := s.db.WithContext(ctx).Preload("SubmitInfo").Preload("UnlockInfo").
		Where("rate_id = ?", rateID).
		Order("created_at ASC").
		Find(&revisions).Error; err != nil {
		return nil, fmt.Errorf("failed to load rate revisions: %w", err)
	}
	sort.SliceStable(revisions, func(i, j int) bool {
		return revisions[i].CreatedAt.Before(revisions[j].CreatedAt)
	})
	return revisions, nil
}

func (s *RevisionStore) RateRevisionsByID(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.RateRevision, error) {
	out := make(map[uuid.UUID]models.RateRevision, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	var revisions []models.RateRevision
	if err := s.db.WithContext(ctx).Preload("SubmitInfo").Preload("UnlockInfo").
		Where("id IN ?", ids).Find(&revisions).Error; err != nil {
		return nil, fmt.Errorf("failed to load rate revisions: %w", err)
	}
	for _, revision := range revisions {
		out[revision.ID] = revision
	}
	return out, nil
}

func (s *RevisionStore) UpdateRateDraftForm(ctx context.Context, revisionID uuid.UUID, form models.RateFormData) error {
	result := s.db.WithContext(ctx).Model(&models.RateRevision{}).
		Where("id = ? AND submit_info_id IS NULL", revisionID).
		Select(rateFormColumns).
		Updates(&models.RateRevision{FormData: form})
	if result.Error != nil {
		return fmt.Errorf("failed to update rate draft: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return s.writeOnceViolation(ctx, &models.RateRevision{}, "rate revision", revisionID)
	}
	return nil
}

func (s *RevisionStore) SubmitRateRevision(ctx context.Context, locked LockedRateForm, info *models.UpdateInfo) (*models.RateRevision, error) {
	result := s.db.WithContext(ctx).Model(&models.RateRevision{}).
		Where("id = ? AND submit_info_id IS NULL", locked.RevisionID()).
		Update("submit_info_id", info.ID)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to submit rate revision: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, s.writeOnceViolation(ctx, &models.RateRevision{}, "rate revision", locked.RevisionID())
	}

	var revision models.RateRevision
	if err := s.db.WithContext(ctx).Preload("SubmitInfo").First(&revision, "id = ?", locked.RevisionID()).Error; err != nil {
		return nil, notFoundOr(err, "rate revision", locked.RevisionID())
	}
	return &revision, nil
}

// Stamps

func (s *RevisionStore) CreateUpdateInfo(ctx context.Context, info *models.UpdateInfo) error {
	if err := s.db.WithContext(ctx).Create(info).Error; err != nil {
		return fmt.Errorf("failed to create update info: %w", err)
	}
	return nil
}

func (s *RevisionStore) RecordRelatedSubmission(ctx context.Context, updateInfoID, contractRevisionID uuid.UUID) error {
	related := &models.RelatedSubmission{UpdateInfoID: updateInfoID, ContractRevisionID: contractRevisionID}
	if err := s.db.WithContext(ctx).Create(related).Error; err != nil {
		return fmt.Errorf("failed to record related submission: %w", err)
	}
	return nil
}

func (s *RevisionStore) SetUpdatedByEmail(ctx context.Context, updateInfoID uuid.UUID, email string) error {
	if err := s.db.WithContext(ctx).Model(&models.UpdateInfo{}).
		Where("id = ?", updateInfoID).
		Update("updated_by_email", email).Error; err != nil {
		return fmt.Errorf("failed to set submitter email: %w", err)
	}
	return nil
}

// Legacy migration. These are the only writes allowed on submitted revisions: they change how
// history is stored, not what was submitted.

// IsMigrated reports whether the contract revision already has a related submission.
func (s *RevisionStore) IsMigrated(ctx context.Context, contractRevisionID uuid.UUID) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.RelatedSubmission{}).
		Where("contract_revision_id = ?", contractRevisionID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check related submissions: %w", err)
	}
	return count > 0, nil
}

// LegacyCandidates returns the rate revisions a legacy contract revision touched, ordered by
// creation time then id.
func (s *RevisionStore) LegacyCandidates(ctx context.Context, contractRevisionID uuid.UUID) ([]models.RateRevision, error) {
	var rows []models.LegacyRateCandidate
	if err := s.db.WithContext(ctx).
		Where("contract_revision_id = ?", contractRevisionID).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load legacy rate candidates: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(rows))
	seen := make(map[uuid.UUID]bool, len(rows))
	for _, row := range rows {
		if !seen[row.RateRevisionID] {
			seen[row.RateRevisionID] = true
			ids = append(ids, row.RateRevisionID)
		}
	}

	byID, err := s.RateRevisionsByID(ctx, ids)
	if err != nil {
		return nil, err
	}
	candidates := make([]models.RateRevision, 0, len(byID))
	for _, id := range ids {
		revision, ok := byID[id]
		if !ok {
			return nil, &NotFoundError{Entity: "rate revision", ID: id}
		}
		candidates = append(candidates, revision)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID.String() < candidates[j].ID.String()
	})
	return candidates, nil
}

func (s *RevisionStore) BackfillContractForm(ctx context.Context, revisionID uuid.UUID, form models.ContractFormData) error {
	if err := s.db.WithContext(ctx).Model(&models.ContractRevision{}).
		Where("id = ?", revisionID).
		Select(contractFormColumns).
		Updates(&models.ContractRevision{FormData: form}).Error; err != nil {
		return fmt.Errorf("failed to backfill contract form: %w", err)
	}
	return nil
}

func (s *RevisionStore) RepointRateSubmitInfo(ctx context.Context, rateRevisionID, updateInfoID uuid.UUID) error {
	result := s.db.WithContext(ctx).Model(&models.RateRevision{}).
		Where("id = ? AND submit_info_id IS NOT NULL", rateRevisionID).
		Update("submit_info_id", updateInfoID)
	if result.Error != nil {
		return fmt.Errorf("failed to re-point rate revision stamp: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &InvalidStateError{RevisionID: rateRevisionID, Reason: "only submitted rate revisions can share a contract stamp"}
	}
	return nil
}

// RecordRateSubmitTime keeps a rate revision's own submit time on every candidate row naming
// it. The first recorded time wins.
func (s *RevisionStore) RecordRateSubmitTime(ctx context.Context, rateRevisionID uuid.UUID, at time.Time) error {
	if err := s.db.WithContext(ctx).Model(&models.LegacyRateCandidate{}).
		Where("rate_revision_id = ? AND rate_submitted_at IS NULL", rateRevisionID).
		Update("rate_submitted_at", at).Error; err != nil {
		return fmt.Errorf("failed to record rate submit time: %w", err)
	}
	return nil
}

// RecordedRateSubmitTimes returns the submit times kept for a contract revision's candidates,
// keyed by rate revision.
func (s *RevisionStore) RecordedRateSubmitTimes(ctx context.Context, contractRevisionID uuid.UUID) (map[uuid.UUID]time.Time, error) {
	var rows []models.LegacyRateCandidate
	if err := s.db.WithContext(ctx).
		Where("contract_revision_id = ? AND rate_submitted_at IS NOT NULL", contractRevisionID).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load recorded rate submit times: %w", err)
	}
	times := make(map[uuid.UUID]time.Time, len(rows))
	for _, row := range rows {
		times[row.RateRevisionID] = *row.RateSubmittedAt
	}
	return times, nil
}

// IsPackageStamp reports whether a stamp already heads some contract's package submission.
func (s *RevisionStore) IsPackageStamp(ctx context.Context, updateInfoID uuid.UUID) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.RelatedSubmission{}).
		Where("update_info_id = ?", updateInfoID).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check related submissions: %w", err)
	}
	return count > 0, nil
}

// DeleteUpdateInfoIfOrphaned removes a stamp no revision or related submission refers to.
func (s *RevisionStore) DeleteUpdateInfoIfOrphaned(ctx context.Context, updateInfoID uuid.UUID) (bool, error) {
	checks := []struct {
		model interface{}
		where string
	}{
		{&models.ContractRevision{}, "submit_info_id = ? OR unlock_info_id = ?"},
		{&models.RateRevision{}, "submit_info_id = ? OR unlock_info_id = ?"},
		{&models.RelatedSubmission{}, "update_info_id = ? OR update_info_id = ?"},
	}
	for _, check := range checks {
		var count int64
		if err := s.db.WithContext(ctx).Model(check.model).
			Where(check.where, updateInfoID, updateInfoID).
			Count(&count).Error; err != nil {
			return false, fmt.Errorf("failed to check update info references: %w", err)
		}
		if count > 0 {
			return false, nil
		}
	}

	if err := s.db.WithContext(ctx).Delete(&models.UpdateInfo{}, "id = ?", updateInfoID).Error; err != nil {
		return false, fmt.Errorf("failed to delete update info: %w", err)
	}
	return true, nil
}

// writeOnceViolation explains why a guarded update touched no rows.
func (s *RevisionStore) writeOnceViolation(ctx context.Context, model interface{}, entity string, revisionID uuid.UUID) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(model).Where("id = ?", revisionID).Count(&count).Error; err != nil {
		return fmt.Errorf("database error checking %s %s: %w", entity, revisionID, err)
	}
	if count == 0 {
		return &NotFoundError{Entity: entity, ID: revisionID}
	}
	return &InvalidStateError{RevisionID: revisionID, Reason: "already submitted; submitted revisions are read-only"}
}

func isNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
