// internal/services/linkage_service.go
package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/mc-review-history/internal/database"
	"github.com/javajoker/mc-review-history/internal/models"
)

// LinkageResolver maintains the time-bounded join between contract revisions and rate
// revisions. Old rows are closed, never rewritten, so any past package can be rebuilt.
type LinkageResolver struct {
	db *gorm.DB
}

func NewLinkageResolver(db *gorm.DB) *LinkageResolver {
	return &LinkageResolver{db: db}
}

func (r *LinkageResolver) Attach(ctx context.Context, rateRevisionID, contractRevisionID uuid.UUID, validAfter time.Time, position int) (*models.RateLink, error) {
	var active int64
	if err := r.db.WithContext(ctx).Model(&models.RateLink{}).
		Where("rate_revision_id = ? AND contract_revision_id = ? AND valid_until IS NULL", rateRevisionID, contractRevisionID).
		Count(&active).Error; err != nil {
		return nil, fmt.Errorf("failed to check existing links: %w", err)
	}
	if active > 0 {
		return nil, &DuplicateLinkError{RateRevisionID: rateRevisionID, ContractRevisionID: contractRevisionID}
	}

	link := &models.RateLink{
		RateRevisionID:     rateRevisionID,
		ContractRevisionID: contractRevisionID,
		ValidAfter:         validAfter,
		Position:           position,
	}
	if err := r.db.WithContext(ctx).Omit("RateRevision", "ContractRevision").Create(link).Error; err != nil {
		if database.IsUniqueViolation(err) {
			return nil, &DuplicateLinkError{RateRevisionID: rateRevisionID, ContractRevisionID: contractRevisionID}
		}
		return nil, fmt.Errorf("failed to attach rate revision: %w", err)
	}
	return link, nil
}

// Detach closes an active link at validUntil.
func (r *LinkageResolver) Detach(ctx context.Context, linkID uuid.UUID, validUntil time.Time) error {
	var link models.RateLink
	if err := r.db.WithContext(ctx).First(&link, "id = ?", linkID).Error; err != nil {
		return notFoundOr(err, "rate link", linkID)
	}
	if !link.IsActive() {
		return &LinkClosedError{LinkID: linkID, Reason: "already detached at " + link.ValidUntil.Format(time.RFC3339Nano)}
	}
	if !validUntil.After(link.ValidAfter) {
		return &LinkClosedError{LinkID: linkID, Reason: "cannot close at " + validUntil.Format(time.RFC3339Nano) + ", before it became valid"}
	}

	result := r.db.WithContext(ctx).Model(&models.RateLink{}).
		Where("id = ? AND valid_until IS NULL", linkID).
		Update("valid_until", validUntil)
	if result.Error != nil {
		return fmt.Errorf("failed to detach rate link: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &LinkClosedError{LinkID: linkID, Reason: "detached concurrently"}
	}
	return nil
}

// Reposition moves an active draft link. Only draft packages are reordered.
func (r *LinkageResolver) Reposition(ctx context.Context, linkID uuid.UUID, position int) error {
	return r.db.WithContext(ctx).Model(&models.RateLink{}).
		Where("id = ? AND valid_until IS NULL", linkID).
		Update("position", position).Error
}

// ActiveLinksFor returns the open links of a contract revision in package order.
func (r *LinkageResolver) ActiveLinksFor(ctx context.Context, contractRevisionID uuid.UUID) ([]models.RateLink, error) {
	var links []models.RateLink
	if err := r.db.WithContext(ctx).
		Where("contract_revision_id = ? AND valid_until IS NULL", contractRevisionID).
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to load active links: %w", err)
	}
	sortLinks(links)
	return links, nil
}

func (r *LinkageResolver) ActiveRateRevisionIDs(ctx context.Context, contractRevisionID uuid.UUID) ([]uuid.UUID, error) {
	links, err := r.ActiveLinksFor(ctx, contractRevisionID)
	if err != nil {
		return nil, err
	}
	return linkRateRevisionIDs(links), nil
}

// LinksEffectiveAt returns the links with validAfter <= at < validUntil in package order.
func (r *LinkageResolver) LinksEffectiveAt(ctx context.Context, contractRevisionID uuid.UUID, at time.Time) ([]models.RateLink, error) {
	var links []models.RateLink
	if err := r.db.WithContext(ctx).
		Where("contract_revision_id = ?", contractRevisionID).
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to load links: %w", err)
	}
	return effectiveAt(links, at), nil
}

// ContractLinksEffectiveAt is the rate-side view: the contract revisions a rate revision was
// packaged with at a moment.
func (r *LinkageResolver) ContractLinksEffectiveAt(ctx context.Context, rateRevisionID uuid.UUID, at time.Time) ([]models.RateLink, error) {
	var links []models.RateLink
	if err := r.db.WithContext(ctx).
		Where("rate_revision_id = ?", rateRevisionID).
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("failed to load links: %w", err)
	}
	return effectiveAt(links, at), nil
}

// Time filtering runs here rather than in SQL so it behaves the same on every driver's
// timestamp encoding.
func effectiveAt(links []models.RateLink, at time.Time) []models.RateLink {
	var out []models.RateLink
	for i := range links {
		if links[i].EffectiveAt(at) {
			out = append(out, links[i])
		}
	}
	sortLinks(out)
	return out
}

func sortLinks(links []models.RateLink) {
	sort.SliceStable(links, func(i, j int) bool {
		if links[i].Position != links[j].Position {
			return links[i].Position < links[j].Position
		}
		return links[i].ValidAfter.Before(links[j].ValidAfter)
	})
}

func linkRateRevisionIDs(links []models.RateLink) []uuid.UUID {
	ids := make([]uuid.UUID, len(links))
	for i, link := range links {
		ids[i] = link.RateRevisionID
	}
	return ids
}
