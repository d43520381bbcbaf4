// internal/handlers/contract.go
package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/javajoker/mc-review-history/internal/middleware"
	"github.com/javajoker/mc-review-history/internal/models"
	"github.com/javajoker/mc-review-history/internal/services"
	"github.com/javajoker/mc-review-history/internal/utils"
)

type ContractHandler struct {
	submissionService *services.SubmissionService
	historyService    *services.HistoryService
	storageService    *services.StorageService
}

func NewContractHandler(submissionService *services.SubmissionService, historyService *services.HistoryService, storageService *services.StorageService) *ContractHandler {
	return &ContractHandler{
		submissionService: submissionService,
		historyService:    historyService,
		storageService:    storageService,
	}
}

type CreateContractRequest struct {
	StateCode string                  `json:"state_code" validate:"required,state_code"`
	FormData  models.ContractFormData `json:"form_data"`
}

type UpdateContractDraftRequest struct {
	FormData models.ContractFormData `json:"form_data"`
}

type UpdateDraftRatesRequest struct {
	RateIDs []uuid.UUID `json:"rate_ids"`
}

type SubmitContractRequest struct {
	Reason   *string                  `json:"reason"`
	FormData *models.ContractFormData `json:"form_data"`
}

type UnlockRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// POST /contracts
func (h *ContractHandler) CreateContract(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req CreateContractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "", err.Error())
		return
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	contract, err := h.submissionService.CreateContract(c.Request.Context(), actor, req.StateCode, req.FormData)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, contract)
}

// GET /contracts
func (h *ContractHandler) ListContracts(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	stateCode := c.Query("state_code")
	if !actor.IsCMS() {
		if stateCode != "" && stateCode != actor.StateCode {
			utils.ForbiddenResponse(c, "State users can only list their own state's submissions")
			return
		}
		stateCode = actor.StateCode
	}

	params := utils.GetPaginationParams(c)
	contracts, total, err := h.historyService.ListContracts(c.Request.Context(), stateCode, params)
	if err != nil {
		respondError(c, err)
		return
	}

	result := utils.CreatePaginationResult(contracts, total, params)
	utils.PaginatedResponse(c, result)
}

// GET /contracts/:id
func (h *ContractHandler) GetContract(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}
	id, ok := parseID(c, "contract")
	if !ok {
		return
	}

	contract, err := h.historyService.FindContractWithHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !actor.IsCMS() && contract.Contract.StateCode != actor.StateCode {
		utils.ForbiddenResponse(c, "")
		return
	}

	utils.SuccessResponse(c, gin.H{
		"contract":       contract,
		"document_links": h.documentLinks(contract),
	})
}

// PUT /contracts/:id/draft
func (h *ContractHandler) UpdateDraft(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}
	id, ok := parseID(c, "contract")
	if !ok {
		return
	}

	var req UpdateContractDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "", err.Error())
		return
	}

	contract, err := h.submissionService.UpdateContractDraft(c.Request.Context(), actor, id, req.FormData)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, contract)
}

// PUT /contracts/:id/draft/rates
func (h *ContractHandler) UpdateDraftRates(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}
	id, ok := parseID(c, "contract")
	if !ok {
		return
	}

	var req UpdateDraftRatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "", err.Error())
		return
	}

	contract, err := h.submissionService.UpdateDraftRates(c.Request.Context(), actor, id, req.RateIDs)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, contract)
}

// POST /contracts/:id/rates
func (h *ContractHandler) CreateRate(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}
	id, ok := parseID(c, "contract")
	if !ok {
		return
	}

	var req UpdateRateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "", err.Error())
		return
	}

	rate, err := h.submissionService.CreateRate(c.Request.Context(), actor, id, req.FormData)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.CreatedResponse(c, rate)
}

// POST /contracts/:id/submit
func (h *ContractHandler) Submit(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}
	id, ok := parseID(c, "contract")
	if !ok {
		return
	}

	var req SubmitContractRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "", err.Error())
			return
		}
	}

	result, err := h.submissionService.SubmitContract(c.Request.Context(), actor, id, req.Reason, req.FormData)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"contract":           result.Contract,
		"notification_error": notificationWarning(result.NotificationErr),
	})
}

// POST /contracts/:id/unlock
func (h *ContractHandler) Unlock(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}
	id, ok := parseID(c, "contract")
	if !ok {
		return
	}

	var req UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "", err.Error())
		return
	}
	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	result, err := h.submissionService.UnlockContract(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"contract":           result.Contract,
		"notification_error": notificationWarning(result.NotificationErr),
	})
}

// documentLinks signs the documents of the draft and the latest package.
func (h *ContractHandler) documentLinks(contract *services.ContractWithHistory) map[string]string {
	if h.storageService == nil {
		return nil
	}

	var docs [][]models.Document
	if draft := contract.DraftRevision; draft != nil {
		docs = append(docs, draft.FormData.ContractDocuments, draft.FormData.SupportingDocuments)
	}
	for _, rate := range contract.DraftRates {
		docs = append(docs, rate.FormData.RateDocuments, rate.FormData.SupportingDocuments)
	}
	if pkg := contract.LatestSubmission(); pkg != nil {
		docs = append(docs, pkg.ContractRevision.FormData.ContractDocuments, pkg.ContractRevision.FormData.SupportingDocuments)
		for _, rate := range pkg.RateRevisions {
			docs = append(docs, rate.FormData.RateDocuments, rate.FormData.SupportingDocuments)
		}
	}
	return h.storageService.DocumentLinks(docs...)
}

func parseID(c *gin.Context, entity string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+entity+" ID", nil)
		return uuid.Nil, false
	}
	return id, true
}
