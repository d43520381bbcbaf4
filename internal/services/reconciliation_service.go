// internal/services/reconciliation_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/mc-review-history/internal/config"
	"github.com/javajoker/mc-review-history/internal/database"
	"github.com/javajoker/mc-review-history/internal/models"
)

// LegacyDecoder reads pre-migration form blobs.
type LegacyDecoder interface {
	DecodeContractForm(blob []byte) (models.ContractFormData, error)
}

type FlaggedContract struct {
	ContractID         uuid.UUID `json:"contract_id"`
	ContractRevisionID uuid.UUID `json:"contract_revision_id"`
	Reason             string    `json:"reason"`
}

type ReconciliationReport struct {
	Contracts         int               `json:"contracts"`
	RevisionsMigrated int               `json:"revisions_migrated"`
	LinksCreated      int               `json:"links_created"`
	StampsDeleted     int               `json:"stamps_deleted"`
	FormsBackfilled   int               `json:"forms_backfilled"`
	EmailsDefaulted   int               `json:"emails_defaulted"`
	Flagged           []FlaggedContract `json:"flagged"`
}

// ReconciliationService backfills rate links for contracts submitted before linkage existed,
// pairing each contract submission with the rate revisions submitted within the window.
type ReconciliationService struct {
	db           *gorm.DB
	decoder      LegacyDecoder
	window       time.Duration
	defaultEmail string
}

func NewReconciliationService(db *gorm.DB, decoder LegacyDecoder, cfg config.ReconcileConfig) *ReconciliationService {
	return &ReconciliationService{
		db:           db,
		decoder:      decoder,
		window:       cfg.Window(),
		defaultEmail: cfg.DefaultEmail,
	}
}

// revisionPlan is what one legacy contract revision will become.
type revisionPlan struct {
	revision   models.ContractRevision
	migrate    bool
	candidates int
	rates      []models.RateRevision
}

// Run reconciles the given contracts, or all contracts when none are given. Each contract is
// one transaction; the first fatal error stops the run and earlier contracts stay committed.
func (s *ReconciliationService) Run(ctx context.Context, contractIDs []uuid.UUID) (*ReconciliationReport, error) {
	report := &ReconciliationReport{Flagged: []FlaggedContract{}}

	if len(contractIDs) == 0 {
		if err := s.db.WithContext(ctx).Model(&models.Contract{}).
			Order("created_at ASC").Pluck("id", &contractIDs).Error; err != nil {
			return report, fmt.Errorf("failed to list contracts: %w", err)
		}
	}

	for _, contractID := range contractIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := s.reconcileContract(ctx, contractID, report); err != nil {
			logrus.WithError(err).WithField("contract_id", contractID).Error("Reconciliation aborted")
			return report, err
		}
		report.Contracts++
	}

	logrus.WithFields(logrus.Fields{
		"contracts":          report.Contracts,
		"revisions_migrated": report.RevisionsMigrated,
		"links_created":      report.LinksCreated,
		"flagged":            len(report.Flagged),
	}).Info("Reconciliation finished")
	return report, nil
}

func (s *ReconciliationService) reconcileContract(ctx context.Context, contractID uuid.UUID, report *ReconciliationReport) error {
	// The plan is read before the transaction so the post-check compares against the
	// pre-migration state.
	plans, err := s.plan(ctx, contractID)
	if err != nil {
		return err
	}

	pending := 0
	for _, p := range plans {
		if p.migrate || (p.revision.FormData.IsEmpty() && len(p.revision.LegacyFormBlob) > 0) {
			pending++
		}
	}
	if pending == 0 {
		logrus.WithField("contract_id", contractID).Debug("Contract already reconciled")
		return nil
	}

	var stats ReconciliationReport
	err = database.WithTransaction(ctx, s.db, func(tx *gorm.DB) error {
		stats = ReconciliationReport{}
		store := NewRevisionStore(tx)
		links := NewLinkageResolver(tx)

		for _, p := range plans {
			if err := s.backfillForm(ctx, store, p.revision, &stats); err != nil {
				return err
			}
			if !p.migrate {
				continue
			}

			revision := p.revision
			submitInfo := revision.SubmitInfo
			if err := s.ensureEmail(ctx, tx, store, submitInfo, &stats); err != nil {
				return err
			}
			if revision.UnlockInfo != nil {
				if err := s.ensureEmail(ctx, tx, store, revision.UnlockInfo, &stats); err != nil {
					return err
				}
			}

			if err := store.RecordRelatedSubmission(ctx, submitInfo.ID, revision.ID); err != nil {
				return err
			}
			for position, rate := range p.rates {
				original, repoint, err := s.sharedStamp(ctx, store, rate.ID, submitInfo.ID)
				if err != nil {
					return err
				}
				if repoint {
					if err := store.RecordRateSubmitTime(ctx, rate.ID, rate.SubmitInfo.UpdatedAt); err != nil {
						return err
					}
					if err := store.RepointRateSubmitInfo(ctx, rate.ID, submitInfo.ID); err != nil {
						return err
					}
				}
				if _, err := links.Attach(ctx, rate.ID, revision.ID, submitInfo.UpdatedAt, position); err != nil {
					return err
				}
				stats.LinksCreated++

				if repoint {
					deleted, err := store.DeleteUpdateInfoIfOrphaned(ctx, original)
					if err != nil {
						return err
					}
					if deleted {
						stats.StampsDeleted++
					}
				}
			}
			stats.RevisionsMigrated++
		}

		return s.verify(ctx, tx, contractID, plans)
	})
	if err != nil {
		return err
	}

	report.RevisionsMigrated += stats.RevisionsMigrated
	report.LinksCreated += stats.LinksCreated
	report.StampsDeleted += stats.StampsDeleted
	report.FormsBackfilled += stats.FormsBackfilled
	report.EmailsDefaulted += stats.EmailsDefaulted
	report.Flagged = append(report.Flagged, s.flag(contractID, plans)...)

	logrus.WithFields(logrus.Fields{
		"contract_id":        contractID,
		"revisions_migrated": stats.RevisionsMigrated,
		"links_created":      stats.LinksCreated,
	}).Info("Contract reconciled")
	return nil
}

// plan selects, for every unmigrated submitted revision, the candidates inside the window. A
// rate appearing twice in one window is a collision and nothing is written.
func (s *ReconciliationService) plan(ctx context.Context, contractID uuid.UUID) ([]revisionPlan, error) {
	store := NewRevisionStore(s.db)

	var contract models.Contract
	if err := s.db.WithContext(ctx).First(&contract, "id = ?", contractID).Error; err != nil {
		return nil, notFoundOr(err, "contract", contractID)
	}
	revisions, err := store.ContractRevisions(ctx, contractID)
	if err != nil {
		return nil, err
	}

	plans := make([]revisionPlan, 0, len(revisions))
	for _, revision := range revisions {
		p := revisionPlan{revision: revision}
		if !revision.IsSubmitted() {
			plans = append(plans, p)
			continue
		}
		if revision.SubmitInfo == nil {
			return nil, &ReconciliationError{ContractID: contractID, Message: fmt.Sprintf("revision %s references missing submit info", revision.ID)}
		}

		migrated, err := store.IsMigrated(ctx, revision.ID)
		if err != nil {
			return nil, err
		}
		candidates, err := store.LegacyCandidates(ctx, revision.ID)
		if err != nil {
			return nil, err
		}
		recorded, err := store.RecordedRateSubmitTimes(ctx, revision.ID)
		if err != nil {
			return nil, err
		}
		p.candidates = len(candidates)
		p.rates = s.inWindow(candidates, recorded, revision.SubmitInfo.UpdatedAt)
		p.migrate = !migrated

		if p.migrate {
			if err := checkCollision(contractID, revision.ID, p.rates); err != nil {
				return nil, err
			}
		}
		plans = append(plans, p)
	}
	return plans, nil
}

// inWindow measures each candidate from its own submit time. A candidate whose stamp an earlier
// contract already borrowed is measured from the time recorded before the borrow.
func (s *ReconciliationService) inWindow(candidates []models.RateRevision, recorded map[uuid.UUID]time.Time, at time.Time) []models.RateRevision {
	var selected []models.RateRevision
	for _, candidate := range candidates {
		if candidate.SubmitInfo == nil {
			continue
		}
		submittedAt := candidate.SubmitInfo.UpdatedAt
		if t, ok := recorded[candidate.ID]; ok {
			submittedAt = t
		}
		delta := submittedAt.Sub(at)
		if delta < 0 {
			delta = -delta
		}
		if delta <= s.window {
			selected = append(selected, candidate)
		}
	}
	return selected
}

// sharedStamp reads the rate revision's current stamp inside the transaction and reports
// whether it should move to the contract's stamp. A stamp that already heads another package
// stays shared.
func (s *ReconciliationService) sharedStamp(ctx context.Context, store *RevisionStore, rateRevisionID, contractStamp uuid.UUID) (uuid.UUID, bool, error) {
	current, err := store.RateRevisionsByID(ctx, []uuid.UUID{rateRevisionID})
	if err != nil {
		return uuid.Nil, false, err
	}
	rate, ok := current[rateRevisionID]
	if !ok {
		return uuid.Nil, false, &NotFoundError{Entity: "rate revision", ID: rateRevisionID}
	}
	if rate.SubmitInfoID == nil {
		return uuid.Nil, false, &InvalidStateError{RevisionID: rateRevisionID, Reason: "only submitted rate revisions can share a contract stamp"}
	}
	if *rate.SubmitInfoID == contractStamp {
		return contractStamp, false, nil
	}
	shared, err := store.IsPackageStamp(ctx, *rate.SubmitInfoID)
	if err != nil {
		return uuid.Nil, false, err
	}
	return *rate.SubmitInfoID, !shared, nil
}

func checkCollision(contractID, contractRevisionID uuid.UUID, selected []models.RateRevision) error {
	byRate := make(map[uuid.UUID][]uuid.UUID)
	var order []uuid.UUID
	for _, revision := range selected {
		if _, ok := byRate[revision.RateID]; !ok {
			order = append(order, revision.RateID)
		}
		byRate[revision.RateID] = append(byRate[revision.RateID], revision.ID)
	}
	for _, rateID := range order {
		if ids := byRate[rateID]; len(ids) > 1 {
			return &CollisionError{
				ContractID:         contractID,
				ContractRevisionID: contractRevisionID,
				RateID:             rateID,
				RateRevisionIDs:    ids,
			}
		}
	}
	return nil
}

func (s *ReconciliationService) backfillForm(ctx context.Context, store *RevisionStore, revision models.ContractRevision, stats *ReconciliationReport) error {
	if !revision.FormData.IsEmpty() || len(revision.LegacyFormBlob) == 0 {
		return nil
	}
	if s.decoder == nil {
		return &ReconciliationError{ContractID: revision.ContractID, Message: fmt.Sprintf("revision %s has a legacy blob and no decoder is configured", revision.ID)}
	}

	form, err := s.decoder.DecodeContractForm(revision.LegacyFormBlob)
	if err != nil {
		return fmt.Errorf("failed to decode legacy form of contract revision %s: %w", revision.ID, err)
	}
	if err := store.BackfillContractForm(ctx, revision.ID, form); err != nil {
		return err
	}
	stats.FormsBackfilled++
	return nil
}

// ensureEmail fills a missing submitter email from the users table, or the configured default.
func (s *ReconciliationService) ensureEmail(ctx context.Context, tx *gorm.DB, store *RevisionStore, info *models.UpdateInfo, stats *ReconciliationReport) error {
	if info.UpdatedByEmail != "" {
		return nil
	}

	var user models.User
	err := tx.WithContext(ctx).First(&user, "id = ?", info.UpdatedByID).Error
	switch {
	case err == nil && user.Email != "":
		info.UpdatedByEmail = user.Email
	case err == nil || errors.Is(err, gorm.ErrRecordNotFound):
		logrus.WithFields(logrus.Fields{
			"update_info_id": info.ID,
			"user_id":        info.UpdatedByID,
			"default_email":  s.defaultEmail,
		}).Warn("Submitter not found, using default email")
		info.UpdatedByEmail = s.defaultEmail
		stats.EmailsDefaulted++
	default:
		return fmt.Errorf("failed to look up submitter %s: %w", info.UpdatedByID, err)
	}
	return store.SetUpdatedByEmail(ctx, info.ID, info.UpdatedByEmail)
}

// verify rebuilds the contract through the read path and checks every submission against the
// plan. Packages come back newest first.
func (s *ReconciliationService) verify(ctx context.Context, tx *gorm.DB, contractID uuid.UUID, plans []revisionPlan) error {
	history, err := NewHistoryService(tx).FindContractWithHistory(ctx, contractID)
	if err != nil {
		return err
	}

	var submitted []revisionPlan
	for _, p := range plans {
		if p.revision.IsSubmitted() {
			submitted = append(submitted, p)
		}
	}
	if len(history.PackageSubmissions) != len(submitted) {
		return &ReconciliationError{
			ContractID: contractID,
			Message:    fmt.Sprintf("expected %d package submissions, found %d", len(submitted), len(history.PackageSubmissions)),
		}
	}

	for i, p := range submitted {
		pkg := history.PackageSubmissions[len(submitted)-1-i]
		if pkg.ContractRevision.ID != p.revision.ID {
			return &ReconciliationError{ContractID: contractID, Message: fmt.Sprintf("package %d is revision %s, expected %s", i, pkg.ContractRevision.ID, p.revision.ID)}
		}
		if !p.migrate {
			continue
		}
		if len(pkg.RateRevisions) != len(p.rates) {
			return &ReconciliationError{ContractID: contractID, Message: fmt.Sprintf("revision %s has %d rates, expected %d", p.revision.ID, len(pkg.RateRevisions), len(p.rates))}
		}
		for j := range p.rates {
			if pkg.RateRevisions[j].ID != p.rates[j].ID {
				return &ReconciliationError{ContractID: contractID, Message: fmt.Sprintf("revision %s rate %d is %s, expected %s", p.revision.ID, j, pkg.RateRevisions[j].ID, p.rates[j].ID)}
			}
		}
	}
	return nil
}

// flag lists revisions that touched rates yet got none, which usually means the window was too
// narrow for that submission.
func (s *ReconciliationService) flag(contractID uuid.UUID, plans []revisionPlan) []FlaggedContract {
	var flagged []FlaggedContract
	for _, p := range plans {
		if !p.migrate || p.candidates == 0 || len(p.rates) > 0 {
			continue
		}
		flagged = append(flagged, FlaggedContract{
			ContractID:         contractID,
			ContractRevisionID: p.revision.ID,
			Reason:             fmt.Sprintf("%d candidate rate revisions, none submitted within %s", p.candidates, s.window),
		})
	}
	return flagged
}
