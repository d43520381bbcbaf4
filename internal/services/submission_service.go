// internal/services/submission_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/mc-review-history/internal/database"
	"github.com/javajoker/mc-review-history/internal/models"
)

const (
	initialSubmissionReason = "Initial submission"
	maxStateNumberAttempts  = 5
)

// Actor is the caller as vouched for by the authentication layer.
type Actor struct {
	UserID    uuid.UUID
	Email     string
	Role      models.UserRole
	StateCode string
}

func (a Actor) IsCMS() bool { return a.Role == models.UserRoleCMS }

// Notifier receives committed transitions. Errors are reported to the caller but never undo
// the transition.
type Notifier interface {
	ContractSubmitted(ctx context.Context, contract *ContractWithHistory) error
	ContractUnlocked(ctx context.Context, contract *ContractWithHistory) error
	RateSubmitted(ctx context.Context, rate *RateWithHistory) error
	RateUnlocked(ctx context.Context, rate *RateWithHistory) error
}

type ContractResult struct {
	Contract        *ContractWithHistory
	NotificationErr error
}

type RateResult struct {
	Rate            *RateWithHistory
	NotificationErr error
}

// SubmissionService drives the DRAFT, SUBMITTED, UNLOCKED, RESUBMITTED workflow for contracts
// and rates. Every transition runs in one transaction.
type SubmissionService struct {
	db       *gorm.DB
	history  *HistoryService
	notifier Notifier
	now      func() time.Time
}

func NewSubmissionService(db *gorm.DB, notifier Notifier) *SubmissionService {
	return &SubmissionService{
		db:       db,
		history:  NewHistoryService(db),
		notifier: notifier,
		now: func() time.Time {
			// Postgres keeps microseconds; truncate so stored and in-memory stamps compare equal.
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// Drafts

func (s *SubmissionService) CreateContract(ctx context.Context, actor Actor, stateCode string, form models.ContractFormData) (*ContractWithHistory, error) {
	if err := authorizeState(actor, stateCode); err != nil {
		return nil, err
	}

	var contractID uuid.UUID
	err := s.withStateNumberRetry(ctx, func(tx *gorm.DB) error {
		number, err := nextStateNumber(tx, &models.Contract{}, stateCode)
		if err != nil {
			return err
		}
		contract := models.Contract{StateCode: stateCode, StateNumber: number}
		if err := tx.Create(&contract).Error; err != nil {
			return fmt.Errorf("failed to create contract: %w", err)
		}
		if _, err := NewRevisionStore(tx).CreateContractDraft(ctx, contract.ID, form, true, nil); err != nil {
			return err
		}
		contractID = contract.ID
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"contract_id": contractID, "state_code": stateCode}).Info("Contract draft created")
	return s.history.FindContractWithHistory(ctx, contractID)
}

// UpdateContractDraft replaces the form data of the contract's draft revision.
func (s *SubmissionService) UpdateContractDraft(ctx context.Context, actor Actor, contractID uuid.UUID, form models.ContractFormData) (*ContractWithHistory, error) {
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		store := NewRevisionStore(tx)
		contract, err := store.LockContract(ctx, contractID)
		if err != nil {
			return err
		}
		if err := authorizeState(actor, contract.StateCode); err != nil {
			return err
		}
		draft, err := s.contractDraftForEdit(ctx, store, contractID)
		if err != nil {
			return err
		}
		return store.UpdateContractDraftForm(ctx, draft.ID, form)
	})
	if err != nil {
		return nil, err
	}
	return s.history.FindContractWithHistory(ctx, contractID)
}

// CreateRate creates a rate owned by the parent contract and appends it to the parent's draft
// package.
func (s *SubmissionService) CreateRate(ctx context.Context, actor Actor, parentContractID uuid.UUID, form models.RateFormData) (*RateWithHistory, error) {
	var rateID uuid.UUID
	err := s.withStateNumberRetry(ctx, func(tx *gorm.DB) error {
		store := NewRevisionStore(tx)
		parent, err := store.LockContract(ctx, parentContractID)
		if err != nil {
			return err
		}
		if err := authorizeState(actor, parent.StateCode); err != nil {
			return err
		}
		draft, err := s.contractDraftFor(ctx, store, parentContractID, "add a rate to")
		if err != nil {
			return err
		}

		number, err := nextStateNumber(tx, &models.Rate{}, parent.StateCode)
		if err != nil {
			return err
		}
		rate := models.Rate{StateCode: parent.StateCode, StateNumber: number, ParentContractID: &parent.ID}
		if err := tx.Omit("ParentContract").Create(&rate).Error; err != nil {
			return fmt.Errorf("failed to create rate: %w", err)
		}
		if _, err := store.CreateRateDraft(ctx, rate.ID, form, nil); err != nil {
			return err
		}

		rateIDs, err := draftRateIDs(ctx, tx, draft)
		if err != nil {
			return err
		}
		rateID = rate.ID
		return setDraftRates(ctx, tx, draft, append(rateIDs, rate.ID), s.now())
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"rate_id": rateID, "parent_contract_id": parentContractID}).Info("Rate draft created")
	return s.history.FindRateWithHistory(ctx, rateID)
}

func (s *SubmissionService) UpdateRateDraft(ctx context.Context, actor Actor, rateID uuid.UUID, form models.RateFormData) (*RateWithHistory, error) {
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		store := NewRevisionStore(tx)
		rate, err := store.LockRate(ctx, rateID)
		if err != nil {
			return err
		}
		if err := authorizeState(actor, rate.StateCode); err != nil {
			return err
		}
		draft, err := store.FindRateDraft(ctx, rateID)
		if err != nil {
			if !isNotFound(err) {
				return err
			}
			latest, err := store.LatestRateRevision(ctx, rateID)
			if err != nil {
				return err
			}
			return &InvalidStateError{RevisionID: latest.ID, Reason: "no draft to edit; submitted revisions are read-only"}
		}
		return store.UpdateRateDraftForm(ctx, draft.ID, form)
	})
	if err != nil {
		return nil, err
	}
	return s.history.FindRateWithHistory(ctx, rateID)
}

// UpdateDraftRates sets the ordered rate list of the contract's draft package.
func (s *SubmissionService) UpdateDraftRates(ctx context.Context, actor Actor, contractID uuid.UUID, rateIDs []uuid.UUID) (*ContractWithHistory, error) {
	seen := make(map[uuid.UUID]bool, len(rateIDs))
	for _, id := range rateIDs {
		if seen[id] {
			return nil, &UserInputError{Field: "rate_ids", Message: fmt.Sprintf("rate %s is listed more than once", id)}
		}
		seen[id] = true
	}

	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		store := NewRevisionStore(tx)
		contract, err := store.LockContract(ctx, contractID)
		if err != nil {
			return err
		}
		if err := authorizeState(actor, contract.StateCode); err != nil {
			return err
		}
		draft, err := s.contractDraftFor(ctx, store, contractID, "edit rates of")
		if err != nil {
			return err
		}
		rates, err := lockRates(ctx, store, rateIDs)
		if err != nil {
			return err
		}
		for _, id := range rateIDs {
			rate := rates[id]
			if rate.StateCode != contract.StateCode {
				return &UserInputError{Field: "rate_ids", Message: fmt.Sprintf("rate %s belongs to state %s", rate.Name(), rate.StateCode)}
			}
		}
		return setDraftRates(ctx, tx, draft, rateIDs, s.now())
	})
	if err != nil {
		return nil, err
	}
	return s.history.FindContractWithHistory(ctx, contractID)
}

// Transitions

// SubmitContract locks the contract's draft. Every unsubmitted rate draft in the package is
// submitted with the same stamp so later reconstruction sees them as one submission.
func (s *SubmissionService) SubmitContract(ctx context.Context, actor Actor, contractID uuid.UUID, reason *string, override *models.ContractFormData) (*ContractResult, error) {
	var submittedRates int
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		store := NewRevisionStore(tx)
		links := NewLinkageResolver(tx)

		contract, err := store.LockContract(ctx, contractID)
		if err != nil {
			return err
		}
		if err := authorizeState(actor, contract.StateCode); err != nil {
			return err
		}

		revisions, err := store.ContractRevisions(ctx, contractID)
		if err != nil {
			return err
		}
		if models.ContractStatus(revisions).IsLocked() {
			return &AlreadySubmittedError{Entity: "contract", ID: contractID}
		}
		draft, err := store.FindContractDraft(ctx, contractID)
		if err != nil {
			if isNotFound(err) {
				return &AlreadySubmittedError{Entity: "contract", ID: contractID}
			}
			return err
		}

		updatedReason, err := submitReason(reason, len(revisions))
		if err != nil {
			return err
		}

		if override != nil {
			if err := store.UpdateContractDraftForm(ctx, draft.ID, *override); err != nil {
				return alreadySubmittedOr(err, "contract", contractID)
			}
			draft.FormData = *override
		}

		now := s.now()
		rateIDs, err := draftRateIDs(ctx, tx, draft)
		if err != nil {
			return err
		}
		// Another package may share these rates; its submission waits here until ours commits.
		if _, err := lockRates(ctx, store, rateIDs); err != nil {
			return err
		}
		if err := setDraftRates(ctx, tx, draft, rateIDs, now); err != nil {
			return err
		}

		locked, err := ParseContractForm(draft, len(rateIDs))
		if err != nil {
			return err
		}

		activeIDs, err := links.ActiveRateRevisionIDs(ctx, draft.ID)
		if err != nil {
			return err
		}
		rateRevisions, err := store.RateRevisionsByID(ctx, activeIDs)
		if err != nil {
			return err
		}
		var lockedRates []LockedRateForm
		var lockedRateIDs []uuid.UUID
		for _, id := range activeIDs {
			revision := rateRevisions[id]
			if revision.IsSubmitted() {
				continue
			}
			lockedRate, err := ParseRateForm(&revision)
			if err != nil {
				return err
			}
			lockedRates = append(lockedRates, lockedRate)
			lockedRateIDs = append(lockedRateIDs, revision.RateID)
		}

		info := &models.UpdateInfo{
			UpdatedAt:      now,
			UpdatedByID:    actor.UserID,
			UpdatedByEmail: actor.Email,
			UpdatedReason:  updatedReason,
		}
		if err := store.CreateUpdateInfo(ctx, info); err != nil {
			return err
		}
		if _, err := store.SubmitContractRevision(ctx, locked, info); err != nil {
			return alreadySubmittedOr(err, "contract", contractID)
		}
		for i, lockedRate := range lockedRates {
			if _, err := store.SubmitRateRevision(ctx, lockedRate, info); err != nil {
				return alreadySubmittedOr(err, "rate", lockedRateIDs[i])
			}
		}
		submittedRates = len(lockedRates)
		return store.RecordRelatedSubmission(ctx, info.ID, draft.ID)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"contract_id":     contractID,
		"submitted_rates": submittedRates,
		"user_id":         actor.UserID,
	}).Info("Contract submitted")

	contract, err := s.history.FindContractWithHistory(ctx, contractID)
	if err != nil {
		return nil, err
	}
	result := &ContractResult{Contract: contract}
	if s.notifier != nil {
		result.NotificationErr = notificationFailure("contract_submitted", s.notifier.ContractSubmitted(ctx, contract))
	}
	return result, nil
}

// SubmitRate locks a rate draft on its own. Contract packages keep pointing at the revisions
// they were submitted with.
func (s *SubmissionService) SubmitRate(ctx context.Context, actor Actor, rateID uuid.UUID, reason *string) (*RateResult, error) {
	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		store := NewRevisionStore(tx)

		rate, err := store.LockRate(ctx, rateID)
		if err != nil {
			return err
		}
		if err := authorizeState(actor, rate.StateCode); err != nil {
			return err
		}

		revisions, err := store.RateRevisions(ctx, rateID)
		if err != nil {
			return err
		}
		if models.RateStatus(revisions).IsLocked() {
			return &AlreadySubmittedError{Entity: "rate", ID: rateID}
		}
		draft, err := store.FindRateDraft(ctx, rateID)
		if err != nil {
			if isNotFound(err) {
				return &AlreadySubmittedError{Entity: "rate", ID: rateID}
			}
			return err
		}

		updatedReason, err := submitReason(reason, len(revisions))
		if err != nil {
			return err
		}
		locked, err := ParseRateForm(draft)
		if err != nil {
			return err
		}

		info := &models.UpdateInfo{
			UpdatedAt:      s.now(),
			UpdatedByID:    actor.UserID,
			UpdatedByEmail: actor.Email,
			UpdatedReason:  updatedReason,
		}
		if err := store.CreateUpdateInfo(ctx, info); err != nil {
			return err
		}
		_, err = store.SubmitRateRevision(ctx, locked, info)
		return alreadySubmittedOr(err, "rate", rateID)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"rate_id": rateID, "user_id": actor.UserID}).Info("Rate submitted")

	rate, err := s.history.FindRateWithHistory(ctx, rateID)
	if err != nil {
		return nil, err
	}
	result := &RateResult{Rate: rate}
	if s.notifier != nil {
		result.NotificationErr = notificationFailure("rate_submitted", s.notifier.RateSubmitted(ctx, rate))
	}
	return result, nil
}

// UnlockContract opens a new draft copied from the latest submission. Rate links are left alone;
// the draft shows the previous package until its rates are edited or it is resubmitted.
func (s *SubmissionService) UnlockContract(ctx context.Context, actor Actor, contractID uuid.UUID, reason string) (*ContractResult, error) {
	if err := checkUnlock(actor, reason); err != nil {
		return nil, err
	}

	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		store := NewRevisionStore(tx)
		if _, err := store.LockContract(ctx, contractID); err != nil {
			return err
		}

		revisions, err := store.ContractRevisions(ctx, contractID)
		if err != nil {
			return err
		}
		status := models.ContractStatus(revisions)
		if !status.IsLocked() {
			return &InvalidStatusError{Entity: "contract", ID: contractID, Status: status, Action: "unlock"}
		}

		info, err := s.createUnlockInfo(ctx, store, actor, reason)
		if err != nil {
			return err
		}
		latest := revisions[len(revisions)-1]
		_, err = store.CreateContractDraft(ctx, contractID, latest.FormData, false, &info.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"contract_id": contractID, "user_id": actor.UserID}).Info("Contract unlocked")

	contract, err := s.history.FindContractWithHistory(ctx, contractID)
	if err != nil {
		return nil, err
	}
	result := &ContractResult{Contract: contract}
	if s.notifier != nil {
		result.NotificationErr = notificationFailure("contract_unlocked", s.notifier.ContractUnlocked(ctx, contract))
	}
	return result, nil
}

func (s *SubmissionService) UnlockRate(ctx context.Context, actor Actor, rateID uuid.UUID, reason string) (*RateResult, error) {
	if err := checkUnlock(actor, reason); err != nil {
		return nil, err
	}

	err := database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		store := NewRevisionStore(tx)
		if _, err := store.LockRate(ctx, rateID); err != nil {
			return err
		}

		revisions, err := store.RateRevisions(ctx, rateID)
		if err != nil {
			return err
		}
		status := models.RateStatus(revisions)
		if !status.IsLocked() {
			return &InvalidStatusError{Entity: "rate", ID: rateID, Status: status, Action: "unlock"}
		}

		info, err := s.createUnlockInfo(ctx, store, actor, reason)
		if err != nil {
			return err
		}
		latest := revisions[len(revisions)-1]
		_, err = store.CreateRateDraft(ctx, rateID, latest.FormData, &info.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{"rate_id": rateID, "user_id": actor.UserID}).Info("Rate unlocked")

	rate, err := s.history.FindRateWithHistory(ctx, rateID)
	if err != nil {
		return nil, err
	}
	result := &RateResult{Rate: rate}
	if s.notifier != nil {
		result.NotificationErr = notificationFailure("rate_unlocked", s.notifier.RateUnlocked(ctx, rate))
	}
	return result, nil
}

// Helper methods

func (s *SubmissionService) createUnlockInfo(ctx context.Context, store *RevisionStore, actor Actor, reason string) (*models.UpdateInfo, error) {
	info := &models.UpdateInfo{
		UpdatedAt:      s.now(),
		UpdatedByID:    actor.UserID,
		UpdatedByEmail: actor.Email,
		UpdatedReason:  strings.TrimSpace(reason),
	}
	if err := store.CreateUpdateInfo(ctx, info); err != nil {
		return nil, err
	}
	return info, nil
}

// withStateNumberRetry reruns fn in a fresh transaction when a concurrent create took the
// same state number.
func (s *SubmissionService) withStateNumberRetry(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxStateNumberAttempts; attempt++ {
		err = database.WithTransaction(ctx, s.db, fn)
		if err == nil || !database.IsUniqueViolation(err) {
			return err
		}
		logrus.WithError(err).WithField("attempt", attempt).Warn("State number taken, retrying")
	}
	return fmt.Errorf("failed to allocate state number after %d attempts: %w", maxStateNumberAttempts, err)
}

func (s *SubmissionService) contractDraftFor(ctx context.Context, store *RevisionStore, contractID uuid.UUID, action string) (*models.ContractRevision, error) {
	draft, err := store.FindContractDraft(ctx, contractID)
	if err == nil || !isNotFound(err) {
		return draft, err
	}
	revisions, err := store.ContractRevisions(ctx, contractID)
	if err != nil {
		return nil, err
	}
	return nil, &InvalidStatusError{Entity: "contract", ID: contractID, Status: models.ContractStatus(revisions), Action: action}
}

func (s *SubmissionService) contractDraftForEdit(ctx context.Context, store *RevisionStore, contractID uuid.UUID) (*models.ContractRevision, error) {
	draft, err := store.FindContractDraft(ctx, contractID)
	if err == nil || !isNotFound(err) {
		return draft, err
	}
	revisions, err := store.ContractRevisions(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if len(revisions) == 0 {
		return nil, &NotFoundError{Entity: "contract revision", ID: contractID}
	}
	return nil, &InvalidStateError{RevisionID: revisions[len(revisions)-1].ID, Reason: "no draft to edit; submitted revisions are read-only"}
}

func nextStateNumber(tx *gorm.DB, model interface{}, stateCode string) (int, error) {
	var max int
	if err := tx.Model(model).Where("state_code = ?", stateCode).
		Select("COALESCE(MAX(state_number), 0)").Scan(&max).Error; err != nil {
		return 0, fmt.Errorf("failed to read state number: %w", err)
	}
	return max + 1, nil
}

// draftRateIDs is the draft's rate list in package order. A draft that has not written its own
// links yet shows the links of the submission it was unlocked from.
func draftRateIDs(ctx context.Context, tx *gorm.DB, draft *models.ContractRevision) ([]uuid.UUID, error) {
	source := draft.ID
	if !draft.RateLinksMaterialized {
		var previous models.ContractRevision
		err := tx.WithContext(ctx).
			Where("contract_id = ? AND submit_info_id IS NOT NULL", draft.ContractID).
			Order("created_at DESC").First(&previous).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load previous submission: %w", err)
		}
		if err == nil {
			source = previous.ID
		}
	}

	revisionIDs, err := NewLinkageResolver(tx).ActiveRateRevisionIDs(ctx, source)
	if err != nil {
		return nil, err
	}
	revisions, err := NewRevisionStore(tx).RateRevisionsByID(ctx, revisionIDs)
	if err != nil {
		return nil, err
	}

	rateIDs := make([]uuid.UUID, 0, len(revisionIDs))
	for _, id := range revisionIDs {
		revision, ok := revisions[id]
		if !ok {
			return nil, &NotFoundError{Entity: "rate revision", ID: id}
		}
		rateIDs = append(rateIDs, revision.RateID)
	}
	return rateIDs, nil
}

// setDraftRates makes the draft's active links match rateIDs, each at the rate's current
// revision, with positions 0..n-1. Links that drop out or point at a superseded revision are
// closed at now.
func setDraftRates(ctx context.Context, tx *gorm.DB, draft *models.ContractRevision, rateIDs []uuid.UUID, now time.Time) error {
	store := NewRevisionStore(tx)
	links := NewLinkageResolver(tx)

	active, err := links.ActiveLinksFor(ctx, draft.ID)
	if err != nil {
		return err
	}
	linkedRevisions, err := store.RateRevisionsByID(ctx, linkRateRevisionIDs(active))
	if err != nil {
		return err
	}
	existing := make(map[uuid.UUID]models.RateLink, len(active))
	for _, link := range active {
		existing[linkedRevisions[link.RateRevisionID].RateID] = link
	}

	for position, rateID := range rateIDs {
		current, err := store.LatestRateRevision(ctx, rateID)
		if err != nil {
			if isNotFound(err) {
				return &NotFoundError{Entity: "rate", ID: rateID}
			}
			return err
		}

		if link, ok := existing[rateID]; ok {
			delete(existing, rateID)
			if link.RateRevisionID == current.ID {
				if link.Position != position {
					if err := links.Reposition(ctx, link.ID, position); err != nil {
						return fmt.Errorf("failed to reposition rate link: %w", err)
					}
				}
				continue
			}
			if err := links.Detach(ctx, link.ID, now); err != nil {
				return err
			}
		}
		if _, err := links.Attach(ctx, current.ID, draft.ID, now, position); err != nil {
			return err
		}
	}

	for _, link := range existing {
		if err := links.Detach(ctx, link.ID, now); err != nil {
			return err
		}
	}

	if !draft.RateLinksMaterialized {
		if err := store.MarkRateLinksMaterialized(ctx, draft.ID); err != nil {
			return fmt.Errorf("failed to mark draft rates: %w", err)
		}
		draft.RateLinksMaterialized = true
	}
	return nil
}

func submitReason(reason *string, revisionCount int) (string, error) {
	var trimmed string
	if reason != nil {
		trimmed = strings.TrimSpace(*reason)
	}
	if trimmed != "" {
		return trimmed, nil
	}
	if revisionCount <= 1 {
		return initialSubmissionReason, nil
	}
	return "", &UserInputError{Field: "reason", Message: "a reason is required to resubmit"}
}

func checkUnlock(actor Actor, reason string) error {
	if !actor.IsCMS() {
		return &ForbiddenError{Message: "only CMS users can unlock a submission"}
	}
	if strings.TrimSpace(reason) == "" {
		return &UserInputError{Field: "reason", Message: "a reason is required to unlock"}
	}
	return nil
}

// authorizeState limits drafting and submitting to state users of the owning state.
func authorizeState(actor Actor, stateCode string) error {
	if actor.Role != models.UserRoleState {
		return &ForbiddenError{Message: "only state users can edit or submit a submission"}
	}
	if actor.StateCode != stateCode {
		return &ForbiddenError{Message: fmt.Sprintf("user is not permitted to act for state %s", stateCode)}
	}
	return nil
}

// alreadySubmittedOr reports a lost write-once race as AlreadySubmittedError.
// lockRates locks each rate once, in id order.
func lockRates(ctx context.Context, store *RevisionStore, rateIDs []uuid.UUID) (map[uuid.UUID]*models.Rate, error) {
	ordered := append([]uuid.UUID(nil), rateIDs...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].String() < ordered[j].String() })

	locked := make(map[uuid.UUID]*models.Rate, len(ordered))
	for _, id := range ordered {
		if _, ok := locked[id]; ok {
			continue
		}
		rate, err := store.LockRate(ctx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = rate
	}
	return locked, nil
}

func alreadySubmittedOr(err error, entity string, id uuid.UUID) error {
	var stateErr *InvalidStateError
	if errors.As(err, &stateErr) {
		return &AlreadySubmittedError{Entity: entity, ID: id}
	}
	return err
}

func notificationFailure(event string, err error) error {
	if err == nil {
		return nil
	}
	logrus.WithError(err).WithField("event", event).Warn("Notification failed after commit")
	return &NotificationError{Event: event, Err: err}
}
