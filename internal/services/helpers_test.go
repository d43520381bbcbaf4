package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/javajoker/mc-review-history/internal/database"
	"github.com/javajoker/mc-review-history/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "services_test.db"))
	require.NoError(t, err)
	require.NoError(t, database.RunMigrations(db))
	t.Cleanup(func() { database.Close(db) })
	return db
}

func stateActor(stateCode string) Actor {
	return Actor{
		UserID:    uuid.New(),
		Email:     "aang@example.com",
		Role:      models.UserRoleState,
		StateCode: stateCode,
	}
}

func cmsActor() Actor {
	return Actor{UserID: uuid.New(), Email: "zuko@example.com", Role: models.UserRoleCMS}
}

func ptr[T any](v T) *T { return &v }

func completeContractForm(submissionType models.SubmissionType) models.ContractFormData {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	return models.ContractFormData{
		SubmissionType:          submissionType,
		SubmissionDescription:   "Calendar year 2024 managed care contract",
		ProgramIDs:              []string{"pmap"},
		ContractType:            models.ContractTypeBase,
		ContractExecutionStatus: models.ContractExecutionStatusExecuted,
		ContractDateStart:       &start,
		ContractDateEnd:         &end,
		ManagedCareEntities:     []string{"MCO"},
		FederalAuthorities:      []string{"STATE_PLAN"},
		RiskBasedContract:       ptr(true),
		ContractDocuments:       []models.Document{{Name: "contract.pdf", S3URL: "s3://mc-review-documents/uploads/contract.pdf", SHA256: "abc"}},
		StateContacts:           []models.Contact{{Name: "Jo Smith", TitleRole: "Director", Email: "jo@state.gov"}},
	}
}

func completeRateForm(name string) models.RateFormData {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	certified := time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC)
	return models.RateFormData{
		RateType:              models.RateTypeNew,
		RateCertificationName: name,
		RateDateStart:         &start,
		RateDateEnd:           &end,
		RateDateCertified:     &certified,
		RateProgramIDs:        []string{"pmap"},
		RateDocuments:         []models.Document{{Name: "rate.pdf", S3URL: "s3://mc-review-documents/uploads/rate.pdf", SHA256: "def"}},
		CertifyingActuaries:   []models.Contact{{Name: "Ann Actuary", TitleRole: "Actuary", Email: "ann@actuary.example.com"}},
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (n *recordingNotifier) record(event string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) Events() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

func (n *recordingNotifier) ContractSubmitted(ctx context.Context, contract *ContractWithHistory) error {
	return n.record("contract_submitted:" + contract.Contract.Name())
}

func (n *recordingNotifier) ContractUnlocked(ctx context.Context, contract *ContractWithHistory) error {
	return n.record("contract_unlocked:" + contract.Contract.Name())
}

func (n *recordingNotifier) RateSubmitted(ctx context.Context, rate *RateWithHistory) error {
	return n.record("rate_submitted:" + rate.Rate.Name())
}

func (n *recordingNotifier) RateUnlocked(ctx context.Context, rate *RateWithHistory) error {
	return n.record("rate_unlocked:" + rate.Rate.Name())
}

var errMailerDown = errors.New("smtp: connection refused")

// newContractWithRates creates a contract draft with one child rate per name, in order.
func newContractWithRates(t *testing.T, svc *SubmissionService, actor Actor, rateNames ...string) (*ContractWithHistory, []uuid.UUID) {
	t.Helper()
	ctx := context.Background()

	submissionType := models.SubmissionTypeContractOnly
	if len(rateNames) > 0 {
		submissionType = models.SubmissionTypeContractAndRates
	}
	contract, err := svc.CreateContract(ctx, actor, actor.StateCode, completeContractForm(submissionType))
	require.NoError(t, err)

	var rateIDs []uuid.UUID
	for _, name := range rateNames {
		rate, err := svc.CreateRate(ctx, actor, contract.Contract.ID, completeRateForm(name))
		require.NoError(t, err)
		rateIDs = append(rateIDs, rate.Rate.ID)
	}
	return contract, rateIDs
}

func rateRevisionIDs(revisions []models.RateRevision) []uuid.UUID {
	ids := make([]uuid.UUID, len(revisions))
	for i, revision := range revisions {
		ids[i] = revision.ID
	}
	return ids
}
