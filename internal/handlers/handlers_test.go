package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"github.com/javajoker/mc-review-history/internal/config"
	"github.com/javajoker/mc-review-history/internal/database"
	"github.com/javajoker/mc-review-history/internal/handlers"
	"github.com/javajoker/mc-review-history/internal/middleware"
	"github.com/javajoker/mc-review-history/internal/models"
	"github.com/javajoker/mc-review-history/internal/services"
	"github.com/javajoker/mc-review-history/internal/utils"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

// errorDetail decodes the details object sent for service errors.
func (suite *ContractHandlerTestSuite) errorDetail(resp envelope) map[string]interface{} {
	suite.Require().NotNil(resp.Error)
	var detail map[string]interface{}
	suite.Require().NoError(json.Unmarshal(resp.Error.Details, &detail), string(resp.Error.Details))
	return detail
}

// validationTags decodes the details list sent for validation errors, keyed by field.
func (suite *ContractHandlerTestSuite) validationTags(resp envelope) map[string]string {
	suite.Require().NotNil(resp.Error)
	var failures []utils.ValidationError
	suite.Require().NoError(json.Unmarshal(resp.Error.Details, &failures), string(resp.Error.Details))
	tags := make(map[string]string, len(failures))
	for _, failure := range failures {
		tags[failure.Field] = failure.Tag
	}
	return tags
}

type contractBody struct {
	Contract struct {
		ID uuid.UUID `json:"id"`
	} `json:"contract"`
	Status models.SubmissionStatus `json:"status"`
}

type ContractHandlerTestSuite struct {
	suite.Suite
	db       *gorm.DB
	router   *gin.Engine
	mnToken  string
	ohToken  string
	cmsToken string
}

func (suite *ContractHandlerTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	utils.SetJWTSecret("handler-test-secret")

	db, err := database.OpenSQLite(filepath.Join(suite.T().TempDir(), "handlers_test.db"))
	suite.Require().NoError(err)
	suite.Require().NoError(database.RunMigrations(db))
	suite.db = db

	storage, err := services.NewStorageService(&config.Config{AWS: config.AWSConfig{DocumentBucket: "mc-review-documents"}})
	suite.Require().NoError(err)
	history := services.NewHistoryService(db)
	submissions := services.NewSubmissionService(db, nil)
	contractHandler := handlers.NewContractHandler(submissions, history, storage)
	rateHandler := handlers.NewRateHandler(submissions, history, storage)

	suite.router = gin.New()
	v1 := suite.router.Group("/v1", middleware.AuthRequired())
	{
		v1.POST("/contracts", contractHandler.CreateContract)
		v1.GET("/contracts", contractHandler.ListContracts)
		v1.GET("/contracts/:id", contractHandler.GetContract)
		v1.PUT("/contracts/:id/draft", contractHandler.UpdateDraft)
		v1.POST("/contracts/:id/rates", contractHandler.CreateRate)
		v1.POST("/contracts/:id/submit", contractHandler.Submit)
		v1.POST("/contracts/:id/unlock", middleware.CMSRequired(), contractHandler.Unlock)
		v1.GET("/rates/:id", rateHandler.GetRate)
	}

	suite.mnToken = suite.token(models.UserRoleState, "MN")
	suite.ohToken = suite.token(models.UserRoleState, "OH")
	suite.cmsToken = suite.token(models.UserRoleCMS, "")
}

func (suite *ContractHandlerTestSuite) TearDownTest() {
	database.Close(suite.db)
}

func (suite *ContractHandlerTestSuite) token(role models.UserRole, stateCode string) string {
	token, err := utils.GenerateJWT(uuid.New(), "user@example.com", string(role), stateCode, 1)
	suite.Require().NoError(err)
	return token
}

func (suite *ContractHandlerTestSuite) do(method, path, token string, body interface{}) (int, envelope) {
	var req *http.Request
	if body != nil {
		data, err := json.Marshal(body)
		suite.Require().NoError(err)
		req = httptest.NewRequest(method, path, bytes.NewBuffer(data))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)

	var resp envelope
	suite.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return w.Code, resp
}

func completeForm() models.ContractFormData {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	risk := false
	return models.ContractFormData{
		SubmissionType:          models.SubmissionTypeContractOnly,
		SubmissionDescription:   "Calendar year 2024 managed care contract",
		ProgramIDs:              []string{"pmap"},
		ContractType:            models.ContractTypeBase,
		ContractExecutionStatus: models.ContractExecutionStatusExecuted,
		ContractDateStart:       &start,
		ContractDateEnd:         &end,
		ManagedCareEntities:     []string{"MCO"},
		FederalAuthorities:      []string{"STATE_PLAN"},
		RiskBasedContract:       &risk,
		ContractDocuments:       []models.Document{{Name: "contract.pdf", S3URL: "s3://mc-review-documents/uploads/contract.pdf", SHA256: "abc"}},
		StateContacts:           []models.Contact{{Name: "Jo Smith", TitleRole: "Director", Email: "jo@state.gov"}},
	}
}

func (suite *ContractHandlerTestSuite) createContract(form models.ContractFormData) uuid.UUID {
	code, resp := suite.do("POST", "/v1/contracts", suite.mnToken, gin.H{"state_code": "MN", "form_data": form})
	suite.Require().Equal(http.StatusCreated, code)

	var created contractBody
	suite.Require().NoError(json.Unmarshal(resp.Data, &created))
	suite.Equal(models.SubmissionStatusDraft, created.Status)
	return created.Contract.ID
}

func (suite *ContractHandlerTestSuite) TestRequiresToken() {
	code, resp := suite.do("GET", "/v1/contracts", "", nil)
	suite.Equal(http.StatusUnauthorized, code)
	suite.Equal("UNAUTHORIZED", resp.Error.Code)

	code, _ = suite.do("GET", "/v1/contracts", "not-a-token", nil)
	suite.Equal(http.StatusUnauthorized, code)
}

func (suite *ContractHandlerTestSuite) TestCreateValidatesStateCode() {
	code, resp := suite.do("POST", "/v1/contracts", suite.mnToken, gin.H{"state_code": "minnesota"})
	suite.Equal(http.StatusBadRequest, code)
	suite.Equal("VALIDATION_ERROR", resp.Error.Code)
	suite.Equal("state_code", suite.validationTags(resp)["state_code"])
}

func (suite *ContractHandlerTestSuite) TestSubmitAndUnlockFlow() {
	id := suite.createContract(completeForm())
	path := "/v1/contracts/" + id.String()

	code, resp := suite.do("GET", path, suite.mnToken, nil)
	suite.Require().Equal(http.StatusOK, code)
	var detail struct {
		Contract      contractBody      `json:"contract"`
		DocumentLinks map[string]string `json:"document_links"`
	}
	suite.Require().NoError(json.Unmarshal(resp.Data, &detail))
	suite.Equal(id, detail.Contract.Contract.ID)
	suite.Equal("s3://mc-review-documents/uploads/contract.pdf", detail.DocumentLinks["s3://mc-review-documents/uploads/contract.pdf"])

	code, resp = suite.do("POST", path+"/submit", suite.mnToken, nil)
	suite.Require().Equal(http.StatusOK, code)
	var submitted struct {
		Contract contractBody `json:"contract"`
	}
	suite.Require().NoError(json.Unmarshal(resp.Data, &submitted))
	suite.Equal(models.SubmissionStatusSubmitted, submitted.Contract.Status)

	code, resp = suite.do("POST", path+"/submit", suite.mnToken, nil)
	suite.Equal(http.StatusConflict, code)
	suite.NotEmpty(resp.Error.Code)

	code, _ = suite.do("POST", path+"/unlock", suite.mnToken, gin.H{"reason": "fix it"})
	suite.Equal(http.StatusForbidden, code)

	code, resp = suite.do("POST", path+"/unlock", suite.cmsToken, gin.H{})
	suite.Equal(http.StatusBadRequest, code)
	suite.Equal("VALIDATION_ERROR", resp.Error.Code)
	suite.Equal(map[string]string{"reason": "required"}, suite.validationTags(resp))

	code, resp = suite.do("POST", path+"/unlock", suite.cmsToken, gin.H{"reason": "Missing actuary"})
	suite.Require().Equal(http.StatusOK, code)
	suite.Require().NoError(json.Unmarshal(resp.Data, &submitted))
	suite.Equal(models.SubmissionStatusUnlocked, submitted.Contract.Status)

	code, resp = suite.do("POST", path+"/submit", suite.mnToken, gin.H{})
	suite.Equal(http.StatusBadRequest, code)
	suite.Equal("BAD_REQUEST", resp.Error.Code)
	suite.Equal("reason", suite.errorDetail(resp)["field"])

	code, resp = suite.do("POST", path+"/submit", suite.mnToken, gin.H{"reason": "Added actuary"})
	suite.Require().Equal(http.StatusOK, code)
	suite.Require().NoError(json.Unmarshal(resp.Data, &submitted))
	suite.Equal(models.SubmissionStatusResubmitted, submitted.Contract.Status)
}

func (suite *ContractHandlerTestSuite) TestIncompleteSubmission() {
	form := completeForm()
	form.StateContacts = nil
	id := suite.createContract(form)

	code, resp := suite.do("POST", "/v1/contracts/"+id.String()+"/submit", suite.mnToken, nil)
	suite.Equal(http.StatusUnprocessableEntity, code)
	suite.Equal("INCOMPLETE_SUBMISSION", resp.Error.Code)
	detail := suite.errorDetail(resp)
	suite.Equal("state_contacts", detail["field"])
	suite.Equal("contacts", detail["field_class"])
}

func (suite *ContractHandlerTestSuite) TestStateIsolation() {
	id := suite.createContract(completeForm())

	code, _ := suite.do("GET", "/v1/contracts/"+id.String(), suite.ohToken, nil)
	suite.Equal(http.StatusForbidden, code)

	code, _ = suite.do("PUT", "/v1/contracts/"+id.String()+"/draft", suite.ohToken, gin.H{"form_data": completeForm()})
	suite.Equal(http.StatusForbidden, code)

	code, _ = suite.do("GET", "/v1/contracts?state_code=MN", suite.ohToken, nil)
	suite.Equal(http.StatusForbidden, code)

	code, _ = suite.do("GET", "/v1/contracts/"+id.String(), suite.cmsToken, nil)
	suite.Equal(http.StatusOK, code)
}

func (suite *ContractHandlerTestSuite) TestListContracts() {
	suite.createContract(completeForm())
	suite.createContract(completeForm())

	req := httptest.NewRequest("GET", "/v1/contracts?limit=1", nil)
	req.Header.Set("Authorization", "Bearer "+suite.mnToken)
	w := httptest.NewRecorder()
	suite.router.ServeHTTP(w, req)

	suite.Equal(http.StatusOK, w.Code)
	suite.Equal("2", w.Header().Get("X-Total-Count"))
	suite.Equal("2", w.Header().Get("X-Total-Pages"))
}

func (suite *ContractHandlerTestSuite) TestNotFoundAndBadID() {
	code, resp := suite.do("GET", "/v1/contracts/"+uuid.NewString(), suite.cmsToken, nil)
	suite.Equal(http.StatusNotFound, code)
	suite.Equal("NOT_FOUND", resp.Error.Code)

	code, _ = suite.do("GET", "/v1/rates/not-a-uuid", suite.cmsToken, nil)
	suite.Equal(http.StatusBadRequest, code)
}

func (suite *ContractHandlerTestSuite) TestCreateRateUnderContract() {
	form := completeForm()
	form.SubmissionType = models.SubmissionTypeContractAndRates
	id := suite.createContract(form)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	rateForm := models.RateFormData{
		RateType:              models.RateTypeNew,
		RateCertificationName: "Rate A",
		RateDateStart:         &start,
		RateDateEnd:           &end,
		RateDateCertified:     &start,
		RateProgramIDs:        []string{"pmap"},
		RateDocuments:         []models.Document{{Name: "rate.pdf", S3URL: "s3://mc-review-documents/uploads/rate.pdf"}},
		CertifyingActuaries:   []models.Contact{{Name: "Ann", Email: "ann@actuary.example.com"}},
	}
	code, resp := suite.do("POST", "/v1/contracts/"+id.String()+"/rates", suite.mnToken, gin.H{"form_data": rateForm})
	suite.Require().Equal(http.StatusCreated, code)

	var rate struct {
		Rate struct {
			ID uuid.UUID `json:"id"`
		} `json:"rate"`
	}
	suite.Require().NoError(json.Unmarshal(resp.Data, &rate))

	code, _ = suite.do("POST", "/v1/contracts/"+id.String()+"/submit", suite.mnToken, nil)
	suite.Require().Equal(http.StatusOK, code)

	code, resp = suite.do("GET", "/v1/rates/"+rate.Rate.ID.String(), suite.mnToken, nil)
	suite.Require().Equal(http.StatusOK, code)
	var detail struct {
		Rate struct {
			Status      models.SubmissionStatus `json:"status"`
			Submissions []json.RawMessage       `json:"submissions"`
		} `json:"rate"`
	}
	suite.Require().NoError(json.Unmarshal(resp.Data, &detail))
	suite.Equal(models.SubmissionStatusSubmitted, detail.Rate.Status)
	suite.Len(detail.Rate.Submissions, 1)
}

func TestContractHandlerTestSuite(t *testing.T) {
	suite.Run(t, new(ContractHandlerTestSuite))
}
