// internal/services/history_service.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/mc-review-history/internal/models"
	"github.com/javajoker/mc-review-history/internal/utils"
)

// PackageSubmission is one submitted contract revision with the rate revisions that were
// linked to it at its submission moment.
type PackageSubmission struct {
	SubmitInfo       models.UpdateInfo       `json:"submit_info"`
	ContractRevision models.ContractRevision `json:"contract_revision"`
	RateRevisions    []models.RateRevision   `json:"rate_revisions"`
}

type ContractWithHistory struct {
	Contract      models.Contract          `json:"contract"`
	Status        models.SubmissionStatus  `json:"status"`
	DraftRevision *models.ContractRevision `json:"draft_revision,omitempty"`
	DraftRates    []models.RateRevision    `json:"draft_rates,omitempty"`
	// Newest first.
	PackageSubmissions []PackageSubmission `json:"package_submissions"`
}

// LatestSubmission returns the most recent package, if any.
func (c *ContractWithHistory) LatestSubmission() *PackageSubmission {
	if len(c.PackageSubmissions) == 0 {
		return nil
	}
	return &c.PackageSubmissions[0]
}

type RateSubmission struct {
	SubmitInfo        models.UpdateInfo         `json:"submit_info"`
	RateRevision      models.RateRevision       `json:"rate_revision"`
	ContractRevisions []models.ContractRevision `json:"contract_revisions"`
}

type RateWithHistory struct {
	Rate          models.Rate             `json:"rate"`
	Status        models.SubmissionStatus `json:"status"`
	DraftRevision *models.RateRevision    `json:"draft_revision,omitempty"`
	// Newest first.
	Submissions []RateSubmission `json:"submissions"`
}

type ContractSummary struct {
	Contract              models.Contract         `json:"contract"`
	Name                  string                  `json:"name"`
	Status                models.SubmissionStatus `json:"status"`
	SubmissionDescription string                  `json:"submission_description"`
}

// HistoryService rebuilds contracts and rates with their submission history. It never writes.
type HistoryService struct {
	db        *gorm.DB
	revisions *RevisionStore
	links     *LinkageResolver
}

func NewHistoryService(db *gorm.DB) *HistoryService {
	return &HistoryService{
		db:        db,
		revisions: NewRevisionStore(db),
		links:     NewLinkageResolver(db),
	}
}

func (s *HistoryService) FindContractWithHistory(ctx context.Context, contractID uuid.UUID) (*ContractWithHistory, error) {
	var contract models.Contract
	if err := s.db.WithContext(ctx).First(&contract, "id = ?", contractID).Error; err != nil {
		return nil, notFoundOr(err, "contract", contractID)
	}

	revisions, err := s.revisions.ContractRevisions(ctx, contractID)
	if err != nil {
		return nil, err
	}

	result := &ContractWithHistory{
		Contract:           contract,
		Status:             models.ContractStatus(revisions),
		PackageSubmissions: []PackageSubmission{},
	}

	var lastSubmitted *models.ContractRevision
	for i := range revisions {
		revision := revisions[i]
		if !revision.IsSubmitted() {
			result.DraftRevision = &revisions[i]
			continue
		}
		if revision.SubmitInfo == nil {
			return nil, fmt.Errorf("contract revision %s references missing submit info %s", revision.ID, revision.SubmitInfoID)
		}

		links, err := s.links.LinksEffectiveAt(ctx, revision.ID, revision.SubmitInfo.UpdatedAt)
		if err != nil {
			return nil, err
		}
		rates, err := s.rateRevisionsInOrder(ctx, linkRateRevisionIDs(links))
		if err != nil {
			return nil, err
		}

		result.PackageSubmissions = append(result.PackageSubmissions, PackageSubmission{
			SubmitInfo:       *revision.SubmitInfo,
			ContractRevision: revision,
			RateRevisions:    rates,
		})
		lastSubmitted = &revisions[i]
	}
	reversePackages(result.PackageSubmissions)

	if result.DraftRevision != nil {
		source := result.DraftRevision
		if !source.RateLinksMaterialized && lastSubmitted != nil {
			source = lastSubmitted
		}
		ids, err := s.links.ActiveRateRevisionIDs(ctx, source.ID)
		if err != nil {
			return nil, err
		}
		if result.DraftRates, err = s.rateRevisionsInOrder(ctx, ids); err != nil {
			return nil, err
		}
	}

	return result, nil
}

func (s *HistoryService) FindRateWithHistory(ctx context.Context, rateID uuid.UUID) (*RateWithHistory, error) {
	var rate models.Rate
	if err := s.db.WithContext(ctx).First(&rate, "id = ?", rateID).Error; err != nil {
		return nil, notFoundOr(err, "rate", rateID)
	}

	revisions, err := s.revisions.RateRevisions(ctx, rateID)
	if err != nil {
		return nil, err
	}

	result := &RateWithHistory{
		Rate:        rate,
		Status:      models.RateStatus(revisions),
		Submissions: []RateSubmission{},
	}

	for i := len(revisions) - 1; i >= 0; i-- {
		revision := revisions[i]
		if !revision.IsSubmitted() {
			result.DraftRevision = &revisions[i]
			continue
		}
		if revision.SubmitInfo == nil {
			return nil, fmt.Errorf("rate revision %s references missing submit info %s", revision.ID, revision.SubmitInfoID)
		}

		links, err := s.links.ContractLinksEffectiveAt(ctx, revision.ID, revision.SubmitInfo.UpdatedAt)
		if err != nil {
			return nil, err
		}
		contracts, err := s.contractRevisionsFor(ctx, links)
		if err != nil {
			return nil, err
		}
		contracts = submittedBy(contracts, revision.SubmitInfo.UpdatedAt)

		result.Submissions = append(result.Submissions, RateSubmission{
			SubmitInfo:        *revision.SubmitInfo,
			RateRevision:      revision,
			ContractRevisions: contracts,
		})
	}

	return result, nil
}

func (s *HistoryService) ListContracts(ctx context.Context, stateCode string, params utils.PaginationParams) ([]ContractSummary, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Contract{})
	if stateCode != "" {
		query = query.Where("state_code = ?", stateCode)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count contracts: %w", err)
	}

	query = utils.ApplySort(query, params, []string{"created_at", "state_number"})
	query = utils.ApplyPagination(query, params)

	var contracts []models.Contract
	if err := query.Find(&contracts).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to fetch contracts: %w", err)
	}

	summaries := make([]ContractSummary, 0, len(contracts))
	for _, contract := range contracts {
		revisions, err := s.revisions.ContractRevisions(ctx, contract.ID)
		if err != nil {
			return nil, 0, err
		}
		summary := ContractSummary{
			Contract: contract,
			Name:     contract.Name(),
			Status:   models.ContractStatus(revisions),
		}
		if len(revisions) > 0 {
			summary.SubmissionDescription = revisions[len(revisions)-1].FormData.SubmissionDescription
		}
		summaries = append(summaries, summary)
	}

	return summaries, total, nil
}

func (s *HistoryService) rateRevisionsInOrder(ctx context.Context, ids []uuid.UUID) ([]models.RateRevision, error) {
	byID, err := s.revisions.RateRevisionsByID(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]models.RateRevision, 0, len(ids))
	for _, id := range ids {
		revision, ok := byID[id]
		if !ok {
			return nil, &NotFoundError{Entity: "rate revision", ID: id}
		}
		out = append(out, revision)
	}
	return out, nil
}

func (s *HistoryService) contractRevisionsFor(ctx context.Context, links []models.RateLink) ([]models.ContractRevision, error) {
	out := make([]models.ContractRevision, 0, len(links))
	for _, link := range links {
		var revision models.ContractRevision
		if err := s.db.WithContext(ctx).Preload("SubmitInfo").Preload("UnlockInfo").
			First(&revision, "id = ?", link.ContractRevisionID).Error; err != nil {
			return nil, notFoundOr(err, "contract revision", link.ContractRevisionID)
		}
		out = append(out, revision)
	}
	return out, nil
}

// submittedBy keeps the contract revisions already submitted at the given time. Drafts linking
// the rate are not part of its submission.
func submittedBy(revisions []models.ContractRevision, at time.Time) []models.ContractRevision {
	out := revisions[:0]
	for _, revision := range revisions {
		if revision.SubmitInfo != nil && !revision.SubmitInfo.UpdatedAt.After(at) {
			out = append(out, revision)
		}
	}
	return out
}

func reversePackages(packages []PackageSubmission) {
	for i, j := 0, len(packages)-1; i < j; i, j = i+1, j-1 {
		packages[i], packages[j] = packages[j], packages[i]
	}
}
