// internal/handlers/errors.go
package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/mc-review-history/internal/services"
	"github.com/javajoker/mc-review-history/internal/utils"
)

// respondError maps the service error taxonomy onto the response envelope.
func respondError(c *gin.Context, err error) {
	var (
		notFound         *services.NotFoundError
		forbidden        *services.ForbiddenError
		userInput        *services.UserInputError
		incomplete       *services.IncompleteSubmissionError
		invalidStatus    *services.InvalidStatusError
		alreadySubmitted *services.AlreadySubmittedError
		invalidState     *services.InvalidStateError
		duplicateLink    *services.DuplicateLinkError
		linkClosed       *services.LinkClosedError
	)

	switch {
	case errors.As(err, &notFound):
		utils.NotFoundResponse(c, notFound.Error())
	case errors.As(err, &forbidden):
		utils.ForbiddenResponse(c, forbidden.Error())
	case errors.As(err, &userInput):
		utils.BadRequestResponse(c, userInput.Error(), gin.H{"field": userInput.Field})
	case errors.As(err, &incomplete):
		utils.UnprocessableResponse(c, incomplete.Error(), gin.H{
			"field":       incomplete.Field,
			"field_class": incomplete.FieldClass,
		})
	case errors.As(err, &invalidStatus):
		utils.ConflictResponse(c, "INVALID_STATUS", invalidStatus.Error())
	case errors.As(err, &alreadySubmitted):
		utils.ConflictResponse(c, "ALREADY_SUBMITTED", alreadySubmitted.Error())
	case errors.As(err, &invalidState):
		utils.ConflictResponse(c, "INVALID_STATE", invalidState.Error())
	case errors.As(err, &duplicateLink):
		utils.ConflictResponse(c, "DUPLICATE_LINK", duplicateLink.Error())
	case errors.As(err, &linkClosed):
		utils.ConflictResponse(c, "LINK_CLOSED", linkClosed.Error())
	default:
		logrus.WithError(err).WithField("path", c.Request.URL.Path).Error("Unhandled service error")
		utils.InternalErrorResponse(c, "")
	}
	c.Error(err)
}

// notificationWarning renders a post-commit notification failure for the response body.
func notificationWarning(err error) interface{} {
	if err == nil {
		return nil
	}
	return err.Error()
}
