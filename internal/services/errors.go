// internal/services/errors.go
package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/javajoker/mc-review-history/internal/models"
)

// NotFoundError is returned when an entity id does not resolve.
type NotFoundError struct {
	Entity string
	ID     uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InvalidStatusError rejects a transition the entity's current status does not allow.
type InvalidStatusError struct {
	Entity string
	ID     uuid.UUID
	Status models.SubmissionStatus
	Action string
}

func (e *InvalidStatusError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in status %s", e.Action, e.Entity, e.ID, e.Status)
}

// AlreadySubmittedError is returned when a submit finds no draft to stamp, including when a
// concurrent submit won the race.
type AlreadySubmittedError struct {
	Entity string
	ID     uuid.UUID
}

func (e *AlreadySubmittedError) Error() string {
	return fmt.Sprintf("%s %s is already submitted", e.Entity, e.ID)
}

// InvalidStateError guards the write-once rule on submitted revisions.
type InvalidStateError struct {
	RevisionID uuid.UUID
	Reason     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("revision %s: %s", e.RevisionID, e.Reason)
}

// DuplicateLinkError is returned by attach when the pair already has an active link.
type DuplicateLinkError struct {
	RateRevisionID     uuid.UUID
	ContractRevisionID uuid.UUID
}

func (e *DuplicateLinkError) Error() string {
	return fmt.Sprintf("rate revision %s is already linked to contract revision %s", e.RateRevisionID, e.ContractRevisionID)
}

// LinkClosedError rejects closing a rate link that is already closed, or closing it at or
// before the moment it became valid.
type LinkClosedError struct {
	LinkID uuid.UUID
	Reason string
}

func (e *LinkClosedError) Error() string {
	return fmt.Sprintf("rate link %s: %s", e.LinkID, e.Reason)
}

// IncompleteSubmissionError names the first missing field and the form section it belongs to.
type IncompleteSubmissionError struct {
	Entity     string
	Field      string
	FieldClass string
}

func (e *IncompleteSubmissionError) Error() string {
	return fmt.Sprintf("%s submission is incomplete: %s (%s) is required", e.Entity, e.Field, e.FieldClass)
}

type UserInputError struct {
	Field   string
	Message string
}

func (e *UserInputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string {
	return e.Message
}

// CollisionError means more than one revision of the same rate fell into one concurrency
// window. It needs manual repair.
type CollisionError struct {
	ContractID         uuid.UUID
	ContractRevisionID uuid.UUID
	RateID             uuid.UUID
	RateRevisionIDs    []uuid.UUID
}

func (e *CollisionError) Error() string {
	ids := make([]string, len(e.RateRevisionIDs))
	for i, id := range e.RateRevisionIDs {
		ids[i] = id.String()
	}
	return fmt.Sprintf("contract %s revision %s: rate %s has colliding revisions [%s]",
		e.ContractID, e.ContractRevisionID, e.RateID, strings.Join(ids, ", "))
}

// ReconciliationError is a failed post-migration check on one contract.
type ReconciliationError struct {
	ContractID uuid.UUID
	Message    string
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconciliation of contract %s failed verification: %s", e.ContractID, e.Message)
}

// NotificationError reports a collaborator failure after the transition committed.
type NotificationError struct {
	Event string
	Err   error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("%s notification failed: %v", e.Event, e.Err)
}

func (e *NotificationError) Unwrap() error { return e.Err }

// notFoundOr maps gorm's not-found sentinel onto NotFoundError and wraps anything else.
func notFoundOr(err error, entity string, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &NotFoundError{Entity: entity, ID: id}
	}
	return fmt.Errorf("database error loading %s %s: %w", entity, id, err)
}
