package services

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javajoker/mc-review-history/internal/models"
)

func TestCreateContractAllocatesStateNumbers(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	ctx := context.Background()
	mn, oh := stateActor("MN"), stateActor("OH")

	first, err := svc.CreateContract(ctx, mn, "MN", models.ContractFormData{})
	require.NoError(t, err)
	second, err := svc.CreateContract(ctx, mn, "MN", models.ContractFormData{})
	require.NoError(t, err)
	other, err := svc.CreateContract(ctx, oh, "OH", models.ContractFormData{})
	require.NoError(t, err)

	assert.Equal(t, "MN-0001", first.Contract.Name())
	assert.Equal(t, "MN-0002", second.Contract.Name())
	assert.Equal(t, "OH-0001", other.Contract.Name())
	assert.Equal(t, models.SubmissionStatusDraft, first.Status)
	require.NotNil(t, first.DraftRevision)
	assert.Empty(t, first.PackageSubmissions)

	_, err = svc.CreateContract(ctx, mn, "OH", models.ContractFormData{})
	var forbidden *ForbiddenError
	assert.ErrorAs(t, err, &forbidden)
}

func TestSubmitContractSubmitsLinkedRatesWithSharedStamp(t *testing.T) {
	db := openTestDB(t)
	notifier := &recordingNotifier{}
	svc := NewSubmissionService(db, notifier)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, rateIDs := newContractWithRates(t, svc, actor, "Rate A", "Rate B")
	assert.Len(t, contract.PackageSubmissions, 0)

	result, err := svc.SubmitContract(ctx, actor, contract.Contract.ID, nil, nil)
	require.NoError(t, err)
	require.NoError(t, result.NotificationErr)

	submitted := result.Contract
	assert.Equal(t, models.SubmissionStatusSubmitted, submitted.Status)
	assert.Nil(t, submitted.DraftRevision)
	require.Len(t, submitted.PackageSubmissions, 1)

	pkg := submitted.PackageSubmissions[0]
	assert.Equal(t, initialSubmissionReason, pkg.SubmitInfo.UpdatedReason)
	assert.Equal(t, actor.Email, pkg.SubmitInfo.UpdatedByEmail)
	require.Len(t, pkg.RateRevisions, 2)
	for i, revision := range pkg.RateRevisions {
		assert.Equal(t, rateIDs[i], revision.RateID)
		require.NotNil(t, revision.SubmitInfoID)
		assert.Equal(t, pkg.SubmitInfo.ID, *revision.SubmitInfoID)
	}

	for _, rateID := range rateIDs {
		rate, err := svc.history.FindRateWithHistory(ctx, rateID)
		require.NoError(t, err)
		assert.Equal(t, models.SubmissionStatusSubmitted, rate.Status)
		require.Len(t, rate.Submissions, 1)
		require.Len(t, rate.Submissions[0].ContractRevisions, 1)
		assert.Equal(t, pkg.ContractRevision.ID, rate.Submissions[0].ContractRevisions[0].ID)
	}

	var stamps int64
	require.NoError(t, db.Model(&models.UpdateInfo{}).Count(&stamps).Error)
	assert.EqualValues(t, 1, stamps)

	var related int64
	require.NoError(t, db.Model(&models.RelatedSubmission{}).
		Where("contract_revision_id = ?", pkg.ContractRevision.ID).Count(&related).Error)
	assert.EqualValues(t, 1, related)

	assert.Equal(t, []string{"contract_submitted:MN-0001"}, notifier.Events())
}

func TestSubmitContractIncompleteLeavesDraft(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	ctx := context.Background()
	actor := stateActor("MN")

	form := completeContractForm(models.SubmissionTypeContractOnly)
	form.ContractDocuments = nil
	contract, err := svc.CreateContract(ctx, actor, "MN", form)
	require.NoError(t, err)

	_, err = svc.SubmitContract(ctx, actor, contract.Contract.ID, nil, nil)
	var incomplete *IncompleteSubmissionError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, "contract_documents", incomplete.FieldClass)

	after, err := svc.history.FindContractWithHistory(ctx, contract.Contract.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusDraft, after.Status)

	var stamps int64
	require.NoError(t, db.Model(&models.UpdateInfo{}).Count(&stamps).Error)
	assert.Zero(t, stamps)
}

func TestSubmitContractAndRatesRequiresARate(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, err := svc.CreateContract(ctx, actor, "MN", completeContractForm(models.SubmissionTypeContractAndRates))
	require.NoError(t, err)

	_, err = svc.SubmitContract(ctx, actor, contract.Contract.ID, nil, nil)
	var incomplete *IncompleteSubmissionError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, "rates", incomplete.FieldClass)
}

func TestSubmitContractWithIncompleteRateRollsBack(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, err := svc.CreateContract(ctx, actor, "MN", completeContractForm(models.SubmissionTypeContractAndRates))
	require.NoError(t, err)
	rateForm := completeRateForm("Rate A")
	rateForm.CertifyingActuaries = nil
	_, err = svc.CreateRate(ctx, actor, contract.Contract.ID, rateForm)
	require.NoError(t, err)

	_, err = svc.SubmitContract(ctx, actor, contract.Contract.ID, nil, nil)
	var incomplete *IncompleteSubmissionError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, "rate", incomplete.Entity)
	assert.Equal(t, "actuary_contacts", incomplete.FieldClass)

	var submitted int64
	require.NoError(t, db.Model(&models.ContractRevision{}).Where("submit_info_id IS NOT NULL").Count(&submitted).Error)
	assert.Zero(t, submitted)
}

func TestSubmitContractWithOverride(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, err := svc.CreateContract(ctx, actor, "MN", models.ContractFormData{})
	require.NoError(t, err)

	override := completeContractForm(models.SubmissionTypeContractOnly)
	override.SubmissionDescription = "Filled in at submit"
	result, err := svc.SubmitContract(ctx, actor, contract.Contract.ID, ptr("  "), &override)
	require.NoError(t, err)

	pkg := result.Contract.LatestSubmission()
	require.NotNil(t, pkg)
	assert.Equal(t, "Filled in at submit", pkg.ContractRevision.FormData.SubmissionDescription)
	assert.Equal(t, initialSubmissionReason, pkg.SubmitInfo.UpdatedReason)
}

func TestSubmitTwiceReturnsAlreadySubmitted(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, _ := newContractWithRates(t, svc, actor)
	_, err := svc.SubmitContract(ctx, actor, contract.Contract.ID, nil, nil)
	require.NoError(t, err)

	_, err = svc.SubmitContract(ctx, actor, contract.Contract.ID, nil, nil)
	var already *AlreadySubmittedError
	assert.ErrorAs(t, err, &already)

	_, err = svc.UpdateContractDraft(ctx, actor, contract.Contract.ID, models.ContractFormData{SubmissionDescription: "edit"})
	var invalidState *InvalidStateError
	assert.ErrorAs(t, err, &invalidState)
}

func TestConcurrentSubmitExactlyOneWins(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, _ := newContractWithRates(t, svc, actor, "Rate A")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.SubmitContract(ctx, actor, contract.Contract.ID, nil, nil)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var already *AlreadySubmittedError
		assert.ErrorAs(t, err, &already)
	}
	assert.Equal(t, 1, succeeded)

	var stamps int64
	require.NoError(t, db.Model(&models.UpdateInfo{}).Count(&stamps).Error)
	assert.EqualValues(t, 1, stamps)
}

func TestConcurrentSubmitOfPackagesSharingARate(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	history := NewHistoryService(db)
	ctx := context.Background()
	actor := stateActor("MN")

	first, rateIDs := newContractWithRates(t, svc, actor, "Shared rate")
	second, _ := newContractWithRates(t, svc, actor)
	_, err := svc.UpdateContractDraft(ctx, actor, second.Contract.ID, completeContractForm(models.SubmissionTypeContractAndRates))
	require.NoError(t, err)
	_, err = svc.UpdateDraftRates(ctx, actor, second.Contract.ID, rateIDs)
	require.NoError(t, err)

	contractIDs := []uuid.UUID{first.Contract.ID, second.Contract.ID}
	var wg sync.WaitGroup
	errs := make([]error, len(contractIDs))
	for i, id := range contractIDs {
		wg.Add(1)
		go func(i int, id uuid.UUID) {
			defer wg.Done()
			_, errs[i] = svc.SubmitContract(ctx, actor, id, nil, nil)
		}(i, id)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	rate, err := history.FindRateWithHistory(ctx, rateIDs[0])
	require.NoError(t, err)
	require.Len(t, rate.Submissions, 1)
	shared := rate.Submissions[0].RateRevision.ID

	for _, id := range contractIDs {
		contract, err := history.FindContractWithHistory(ctx, id)
		require.NoError(t, err)
		require.Len(t, contract.PackageSubmissions, 1)
		assert.Equal(t, []uuid.UUID{shared}, rateRevisionIDs(contract.PackageSubmissions[0].RateRevisions))
	}
}

func TestUnlockRules(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, _ := newContractWithRates(t, svc, actor)
	id := contract.Contract.ID

	_, err := svc.UnlockContract(ctx, cmsActor(), id, "needs changes")
	var invalidStatus *InvalidStatusError
	require.ErrorAs(t, err, &invalidStatus)
	assert.Equal(t, models.SubmissionStatusDraft, invalidStatus.Status)

	_, err = svc.SubmitContract(ctx, actor, id, nil, nil)
	require.NoError(t, err)

	_, err = svc.UnlockContract(ctx, actor, id, "needs changes")
	var forbidden *ForbiddenError
	assert.ErrorAs(t, err, &forbidden)

	_, err = svc.UnlockContract(ctx, cmsActor(), id, " ")
	var input *UserInputError
	assert.ErrorAs(t, err, &input)

	_, err = svc.UnlockContract(ctx, cmsActor(), uuid.New(), "needs changes")
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)

	result, err := svc.UnlockContract(ctx, cmsActor(), id, "needs changes")
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusUnlocked, result.Contract.Status)
	require.NotNil(t, result.Contract.DraftRevision)
	require.NotNil(t, result.Contract.DraftRevision.UnlockInfo)
	assert.Equal(t, "needs changes", result.Contract.DraftRevision.UnlockInfo.UpdatedReason)

	_, err = svc.UnlockContract(ctx, cmsActor(), id, "again")
	assert.ErrorAs(t, err, &invalidStatus)
}

func TestUnlockThenResubmitWithoutEdits(t *testing.T) {
	db := openTestDB(t)
	notifier := &recordingNotifier{}
	svc := NewSubmissionService(db, notifier)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, _ := newContractWithRates(t, svc, actor, "Rate A", "Rate B")
	id := contract.Contract.ID

	first, err := svc.SubmitContract(ctx, actor, id, nil, nil)
	require.NoError(t, err)
	firstPkg := *first.Contract.LatestSubmission()

	unlocked, err := svc.UnlockContract(ctx, cmsActor(), id, "fix dates")
	require.NoError(t, err)
	assert.Equal(t, rateRevisionIDs(firstPkg.RateRevisions), rateRevisionIDs(unlocked.Contract.DraftRates))

	_, err = svc.SubmitContract(ctx, actor, id, nil, nil)
	var input *UserInputError
	require.ErrorAs(t, err, &input)
	assert.Equal(t, "reason", input.Field)

	second, err := svc.SubmitContract(ctx, actor, id, ptr("No changes"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusResubmitted, second.Contract.Status)
	require.Len(t, second.Contract.PackageSubmissions, 2)

	latest := second.Contract.PackageSubmissions[0]
	previous := second.Contract.PackageSubmissions[1]
	assert.Equal(t, firstPkg.ContractRevision.ID, previous.ContractRevision.ID)
	assert.NotEqual(t, previous.ContractRevision.ID, latest.ContractRevision.ID)
	assert.Equal(t, previous.ContractRevision.FormData, latest.ContractRevision.FormData)
	assert.Equal(t, rateRevisionIDs(previous.RateRevisions), rateRevisionIDs(latest.RateRevisions))
	assert.Equal(t, "No changes", latest.SubmitInfo.UpdatedReason)

	// The first submission's links were not closed or rewritten.
	var openLinks, closedLinks int64
	require.NoError(t, db.Model(&models.RateLink{}).
		Where("contract_revision_id = ? AND valid_until IS NULL", previous.ContractRevision.ID).
		Count(&openLinks).Error)
	require.NoError(t, db.Model(&models.RateLink{}).Where("valid_until IS NOT NULL").Count(&closedLinks).Error)
	assert.EqualValues(t, 2, openLinks)
	assert.Zero(t, closedLinks)

	assert.Equal(t, []string{
		"contract_submitted:MN-0001",
		"contract_unlocked:MN-0001",
		"contract_submitted:MN-0001",
	}, notifier.Events())
}

func TestRemovingRateOnlyAffectsLaterPackages(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, rateIDs := newContractWithRates(t, svc, actor, "Rate A", "Rate B")
	id := contract.Contract.ID

	_, err := svc.SubmitContract(ctx, actor, id, nil, nil)
	require.NoError(t, err)
	_, err = svc.UnlockContract(ctx, cmsActor(), id, "drop rate A")
	require.NoError(t, err)

	_, err = svc.UpdateDraftRates(ctx, actor, id, []uuid.UUID{rateIDs[1], rateIDs[1]})
	var input *UserInputError
	require.ErrorAs(t, err, &input)

	draft, err := svc.UpdateDraftRates(ctx, actor, id, []uuid.UUID{rateIDs[1]})
	require.NoError(t, err)
	require.Len(t, draft.DraftRates, 1)
	assert.Equal(t, rateIDs[1], draft.DraftRates[0].RateID)

	result, err := svc.SubmitContract(ctx, actor, id, ptr("Rate A withdrawn"), nil)
	require.NoError(t, err)
	require.Len(t, result.Contract.PackageSubmissions, 2)

	latest := result.Contract.PackageSubmissions[0]
	original := result.Contract.PackageSubmissions[1]
	require.Len(t, latest.RateRevisions, 1)
	assert.Equal(t, rateIDs[1], latest.RateRevisions[0].RateID)
	require.Len(t, original.RateRevisions, 2)
	assert.Equal(t, rateIDs[0], original.RateRevisions[0].RateID)
	assert.Equal(t, rateIDs[1], original.RateRevisions[1].RateID)
}

func TestReorderDraftRates(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, rateIDs := newContractWithRates(t, svc, actor, "Rate A", "Rate B", "Rate C")

	draft, err := svc.UpdateDraftRates(ctx, actor, contract.Contract.ID, []uuid.UUID{rateIDs[2], rateIDs[0], rateIDs[1]})
	require.NoError(t, err)
	require.Len(t, draft.DraftRates, 3)
	assert.Equal(t, rateIDs[2], draft.DraftRates[0].RateID)
	assert.Equal(t, rateIDs[0], draft.DraftRates[1].RateID)
	assert.Equal(t, rateIDs[1], draft.DraftRates[2].RateID)

	links, err := NewLinkageResolver(db).ActiveLinksFor(ctx, draft.DraftRevision.ID)
	require.NoError(t, err)
	for i, link := range links {
		assert.Equal(t, i, link.Position)
	}
}

func TestUnlockedRateIsResubmittedWithContract(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, rateIDs := newContractWithRates(t, svc, actor, "Rate A")
	id, rateID := contract.Contract.ID, rateIDs[0]

	first, err := svc.SubmitContract(ctx, actor, id, nil, nil)
	require.NoError(t, err)
	oldRateRevision := first.Contract.LatestSubmission().RateRevisions[0]

	rateUnlock, err := svc.UnlockRate(ctx, cmsActor(), rateID, "wrong certification date")
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusUnlocked, rateUnlock.Rate.Status)

	edited := completeRateForm("Rate A (revised)")
	_, err = svc.UpdateRateDraft(ctx, actor, rateID, edited)
	require.NoError(t, err)

	_, err = svc.UnlockContract(ctx, cmsActor(), id, "resubmit with revised rate")
	require.NoError(t, err)
	result, err := svc.SubmitContract(ctx, actor, id, ptr("Revised rate"), nil)
	require.NoError(t, err)

	latest := result.Contract.PackageSubmissions[0]
	original := result.Contract.PackageSubmissions[1]
	require.Len(t, latest.RateRevisions, 1)
	assert.NotEqual(t, oldRateRevision.ID, latest.RateRevisions[0].ID)
	assert.Equal(t, "Rate A (revised)", latest.RateRevisions[0].FormData.RateCertificationName)
	assert.Equal(t, latest.SubmitInfo.ID, *latest.RateRevisions[0].SubmitInfoID)
	assert.Equal(t, oldRateRevision.ID, original.RateRevisions[0].ID)

	rate, err := svc.history.FindRateWithHistory(ctx, rateID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusResubmitted, rate.Status)
	require.Len(t, rate.Submissions, 2)
	assert.Equal(t, latest.RateRevisions[0].ID, rate.Submissions[0].RateRevision.ID)
}

func TestSubmitRateOnItsOwn(t *testing.T) {
	db := openTestDB(t)
	notifier := &recordingNotifier{}
	svc := NewSubmissionService(db, notifier)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, rateIDs := newContractWithRates(t, svc, actor, "Rate A")

	result, err := svc.SubmitRate(ctx, actor, rateIDs[0], nil)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusSubmitted, result.Rate.Status)

	_, err = svc.SubmitRate(ctx, actor, rateIDs[0], nil)
	var already *AlreadySubmittedError
	assert.ErrorAs(t, err, &already)

	// The contract packages the already-submitted rate revision without restamping it.
	submitted, err := svc.SubmitContract(ctx, actor, contract.Contract.ID, nil, nil)
	require.NoError(t, err)
	pkg := submitted.Contract.LatestSubmission()
	require.Len(t, pkg.RateRevisions, 1)
	assert.NotEqual(t, pkg.SubmitInfo.ID, *pkg.RateRevisions[0].SubmitInfoID)

	assert.Equal(t, []string{"rate_submitted:MN-RATE-0001", "contract_submitted:MN-0001"}, notifier.Events())
}

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	db := openTestDB(t)
	notifier := &recordingNotifier{err: errMailerDown}
	svc := NewSubmissionService(db, notifier)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, _ := newContractWithRates(t, svc, actor)

	result, err := svc.SubmitContract(ctx, actor, contract.Contract.ID, nil, nil)
	require.NoError(t, err)

	var notificationErr *NotificationError
	require.ErrorAs(t, result.NotificationErr, &notificationErr)
	assert.ErrorIs(t, result.NotificationErr, errMailerDown)
	assert.Equal(t, models.SubmissionStatusSubmitted, result.Contract.Status)

	after, err := svc.history.FindContractWithHistory(ctx, contract.Contract.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SubmissionStatusSubmitted, after.Status)
}

func TestCreateRateRequiresContractDraft(t *testing.T) {
	db := openTestDB(t)
	svc := NewSubmissionService(db, nil)
	ctx := context.Background()
	actor := stateActor("MN")

	contract, _ := newContractWithRates(t, svc, actor)
	_, err := svc.SubmitContract(ctx, actor, contract.Contract.ID, nil, nil)
	require.NoError(t, err)

	_, err = svc.CreateRate(ctx, actor, contract.Contract.ID, completeRateForm("Late rate"))
	var invalidStatus *InvalidStatusError
	require.ErrorAs(t, err, &invalidStatus)
	assert.Equal(t, models.SubmissionStatusSubmitted, invalidStatus.Status)
}
