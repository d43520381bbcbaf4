package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/mc-review-history/internal/models"
	"github.com/javajoker/mc-review-history/internal/utils"
)

func TestFindContractWithHistoryIsRepeatable(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	history := NewHistoryService(db)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, _ := newContractWithRates(t, svc, actor, "Rate A", "Rate B")
	id := contract.Contract.ID
	_, err := svc.SubmitContract(ctx, actor, id, nil, nil)
	require.NoError(t, err)
	_, err = svc.UnlockContract(ctx, cmsActor(), id, "update")
	require.NoError(t, err)

	first, err := history.FindContractWithHistory(ctx, id)
	require.NoError(t, err)
	second, err := history.FindContractWithHistory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, models.SubmissionStatusUnlocked, first.Status)
	require.Len(t, first.PackageSubmissions, 1)
	assert.Len(t, first.DraftRates, 2)

	var links int64
	require.NoError(t, db.Model(&models.RateLink{}).Count(&links).Error)
	assert.EqualValues(t, 2, links)
}

func TestRateSubmissionsLeaveOutContractDrafts(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	history := NewHistoryService(db)
	ctx := context.Background()
	actor := stateActor("MN")

	submitted, rateIDs := newContractWithRates(t, svc, actor, "Shared rate")
	drafted, _ := newContractWithRates(t, svc, actor)
	_, err := svc.UpdateContractDraft(ctx, actor, drafted.Contract.ID, completeContractForm(models.SubmissionTypeContractAndRates))
	require.NoError(t, err)
	_, err = svc.UpdateDraftRates(ctx, actor, drafted.Contract.ID, rateIDs)
	require.NoError(t, err)

	result, err := svc.SubmitContract(ctx, actor, submitted.Contract.ID, nil, nil)
	require.NoError(t, err)

	rate, err := history.FindRateWithHistory(ctx, rateIDs[0])
	require.NoError(t, err)
	require.Len(t, rate.Submissions, 1)
	require.Len(t, rate.Submissions[0].ContractRevisions, 1)
	assert.Equal(t, result.Contract.PackageSubmissions[0].ContractRevision.ID, rate.Submissions[0].ContractRevisions[0].ID)

	// The draft still lists the rate in its own package.
	draft, err := history.FindContractWithHistory(ctx, drafted.Contract.ID)
	require.NoError(t, err)
	require.Len(t, draft.DraftRates, 1)
	assert.Equal(t, rateIDs[0], draft.DraftRates[0].RateID)
}

func TestFindWithHistoryNotFound(t *testing.T) {
	db := openTestDB(t)
	history := NewHistoryService(db)
	ctx := context.Background()

	var notFound *NotFoundError
	_, err := history.FindContractWithHistory(ctx, uuid.New())
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "contract", notFound.Entity)

	_, err = history.FindRateWithHistory(ctx, uuid.New())
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "rate", notFound.Entity)
}

func TestListContracts(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	history := NewHistoryService(db)
	ctx := context.Background()
	mn := stateActor("MN")

	for i := 0; i < 3; i++ {
		_, err := svc.CreateContract(ctx, mn, "MN", completeContractForm(models.SubmissionTypeContractOnly))
		require.NoError(t, err)
	}
	_, err := svc.CreateContract(ctx, stateActor("OH"), "OH", models.ContractFormData{})
	require.NoError(t, err)

	params := utils.PaginationParams{Page: 1, Limit: 2, Sort: "state_number", Order: "asc"}
	page, total, err := history.ListContracts(ctx, "MN", params)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "MN-0001", page[0].Name)
	assert.Equal(t, "MN-0002", page[1].Name)
	assert.Equal(t, models.SubmissionStatusDraft, page[0].Status)
	assert.Equal(t, "Calendar year 2024 managed care contract", page[0].SubmissionDescription)

	params.Page = 2
	page, _, err = history.ListContracts(ctx, "MN", params)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "MN-0003", page[0].Name)

	_, total, err = history.ListContracts(ctx, "", params)
	require.NoError(t, err)
	assert.EqualValues(t, 4, total)
}
