// internal/handlers/rate.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/javajoker/mc-review-history/internal/middleware"
	"github.com/javajoker/mc-review-history/internal/models"
	"github.com/javajoker/mc-review-history/internal/services"
	"github.com/javajoker/mc-review-history/internal/utils"
)

type RateHandler struct {
	submissionService *services.SubmissionService
	historyService    *services.HistoryService
	storageService    *services.StorageService
}

func NewRateHandler(submissionService *services.SubmissionService, historyService *services.HistoryService, storageService *services.StorageService) *RateHandler {
	return &RateHandler{
		submissionService: submissionService,
		historyService:    historyService,
		storageService:    storageService,
	}
}

type UpdateRateDraftRequest struct {
	FormData models.RateFormData `json:"form_data"`
}

type SubmitRateRequest struct {
	Reason *string `json:"reason"`
}

// GET /rates/:id
func (h *RateHandler) GetRate(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}
	id, ok := parseID(c, "rate")
	if !ok {
		return
	}

	rate, err := h.historyService.FindRateWithHistory(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if !actor.IsCMS() && rate.Rate.StateCode != actor.StateCode {
		utils.ForbiddenResponse(c, "")
		return
	}

	var links map[string]string
	if h.storageService != nil {
		var docs [][]models.Document
		if draft := rate.DraftRevision; draft != nil {
			docs = append(docs, draft.FormData.RateDocuments, draft.FormData.SupportingDocuments)
		}
		if len(rate.Submissions) > 0 {
			latest := rate.Submissions[0].RateRevision
			docs = append(docs, latest.FormData.RateDocuments, latest.FormData.SupportingDocuments)
		}
		links = h.storageService.DocumentLinks(docs...)
	}

	utils.SuccessResponse(c, gin.H{
		"rate":           rate,
		"document_links": links,
	})
}

// PUT /rates/:id/draft
func (h *RateHandler) UpdateDraft(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}
	id, ok := parseID(c, "rate")
	if !ok {
		return
	}

	var req UpdateRateDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "", err.Error())
		return
	}

	rate, err := h.submissionService.UpdateRateDraft(c.Request.Context(), actor, id, req.FormData)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, rate)
}

// POST /rates/:id/submit
func (h *RateHandler) Submit(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}
	id, ok := parseID(c, "rate")
	if !ok {
		return
	}

	var req SubmitRateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "", err.Error())
			return
		}
	}

	result, err := h.submissionService.SubmitRate(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"rate":               result.Rate,
		"notification_error": notificationWarning(result.NotificationErr),
	})
}

// POST /rates/:id/unlock
func (h *RateHandler) Unlock(c *gin.Context) {
	actor, ok := middleware.GetActor(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}
	id, ok := parseID(c, "rate")
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

	result, err := h.submissionService.UnlockRate(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"rate":               result.Rate,
		"notification_error": notificationWarning(result.NotificationErr),
	})
}
