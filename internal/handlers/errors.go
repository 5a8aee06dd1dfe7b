package handlers

import (
	"errors"
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-gonic/gin"
	"github.com/sjperalta/fintera-sign/internal/services"
	"github.com/sjperalta/fintera-sign/pkg/logger"
)

// errorStatus maps service errors onto HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrExpired):
		return http.StatusGone
	case errors.Is(err, services.ErrPrecondition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrInvalidState), errors.Is(err, services.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error": ...}. Unexpected errors are reported
// to Sentry and hidden from the client.
func respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status < http.StatusInternalServerError {
		body := gin.H{"error": err.Error()}
		var verr *services.ValidationError
		if errors.As(err, &verr) {
			body["field"] = verr.Field
			body["error"] = verr.Message
		}
		c.AbortWithStatusJSON(status, body)
		return
	}

	_ = c.Error(err)
	logger.Error("Request failed", "path", c.FullPath(), "error", err)
	if hub := sentrygin.GetHubFromContext(c); hub != nil {
		hub.CaptureException(err)
	}
	message := "Error interno del servidor"
	if errors.Is(err, services.ErrAuditAppend) {
		message = services.ErrAuditAppend.Error()
	}
	c.AbortWithStatusJSON(status, gin.H{"error": message})
}

func pagination(page, perPage int, total int64) gin.H {
	totalPages := int64(0)
	if perPage > 0 {
		totalPages = (total + int64(perPage) - 1) / int64(perPage)
	}
	return gin.H{
		"page":        page,
		"per_page":    perPage,
		"total":       total,
		"total_pages": totalPages,
	}
}
