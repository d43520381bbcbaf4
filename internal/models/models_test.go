package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestContractStatus(t *testing.T) {
	stamp := uuid.New()

	draft := ContractRevision{}
	submitted := ContractRevision{SubmitInfoID: &stamp}
	unlocked := ContractRevision{UnlockInfoID: &stamp}

	tests := []struct {
		name      string
		revisions []ContractRevision
		want      SubmissionStatus
	}{
		{"no revisions", nil, ""},
		{"first draft", []ContractRevision{draft}, SubmissionStatusDraft},
		{"submitted once", []ContractRevision{submitted}, SubmissionStatusSubmitted},
		{"unlocked", []ContractRevision{submitted, unlocked}, SubmissionStatusUnlocked},
		{"resubmitted", []ContractRevision{submitted, submitted}, SubmissionStatusResubmitted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ContractStatus(tt.revisions))
		})
	}
}

func TestRateStatusLockedStates(t *testing.T) {
	stamp := uuid.New()
	revisions := []RateRevision{{SubmitInfoID: &stamp}, {UnlockInfoID: &stamp, SubmitInfoID: &stamp}}

	status := RateStatus(revisions)
	assert.Equal(t, SubmissionStatusResubmitted, status)
	assert.True(t, status.IsLocked())
	assert.False(t, SubmissionStatusUnlocked.IsLocked())
}

func TestRateLinkEffectiveAt(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	closed := t0.Add(time.Hour)

	open := RateLink{ValidAfter: t0}
	assert.False(t, open.EffectiveAt(t0.Add(-time.Nanosecond)))
	assert.True(t, open.EffectiveAt(t0))
	assert.True(t, open.EffectiveAt(t0.Add(365*24*time.Hour)))
	assert.True(t, open.IsActive())

	detached := RateLink{ValidAfter: t0, ValidUntil: &closed}
	assert.True(t, detached.EffectiveAt(closed.Add(-time.Nanosecond)))
	assert.False(t, detached.EffectiveAt(closed))
	assert.False(t, detached.IsActive())
}

func TestNames(t *testing.T) {
	contract := Contract{StateCode: "MN", StateNumber: 4}
	rate := Rate{StateCode: "MN", StateNumber: 12}

	assert.Equal(t, "MN-0004", contract.Name())
	assert.Equal(t, "MN-RATE-0012", rate.Name())
}
