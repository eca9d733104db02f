package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
)

// RespondServiceError maps the pipeline failure taxonomy onto HTTP statuses.
// Anything unrecognized is a 500.
func RespondServiceError(c *gin.Context, err error) {
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) && apiErr.Status != 0 {
		RespondError(c, apiErr.Status, apiErr.Code, err)
		return
	}

	switch {
	case errors.Is(err, apierr.ErrUnparseablePayload):
		RespondError(c, http.StatusUnprocessableEntity, apierr.CodeUnparseablePayload, err)
	case errors.Is(err, apierr.ErrDuplicateDelivery):
		RespondError(c, http.StatusConflict, apierr.CodeDuplicateDelivery, err)
	case errors.Is(err, apierr.ErrOptimisticConflict):
		RespondError(c, http.StatusConflict, apierr.CodeOptimisticConflict, err)
	case errors.Is(err, apierr.ErrUngroundedClassification):
		RespondError(c, http.StatusUnprocessableEntity, apierr.CodeUngroundedClassification, err)
	case errors.Is(err, apierr.ErrTransientDependency):
		RespondError(c, http.StatusServiceUnavailable, apierr.CodeTransientDependency, err)
	case errors.Is(err, gorm.ErrRecordNotFound):
		RespondError(c, http.StatusNotFound, apierr.CodeNotFound, err)
	default:
		RespondError(c, http.StatusInternalServerError, "internal_error", err)
	}
}
