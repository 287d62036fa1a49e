package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/joseph-ayodele/receipts-inbox/internal/async"
	"github.com/joseph-ayodele/receipts-inbox/internal/common"
	"github.com/joseph-ayodele/receipts-inbox/internal/guard"
)

// httpStatus maps the error taxonomy onto HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, guard.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, guard.ErrSenderNotAllowed):
		return http.StatusForbidden
	case errors.Is(err, guard.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, guard.ErrEmptyContent), errors.Is(err, common.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, async.ErrQueueFull), errors.Is(err, async.ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrInvalidTransition):
		return http.StatusConflict
	}
	switch common.CodeOf(err) {
	case common.CodeQueueFull:
		return http.StatusServiceUnavailable
	case common.CodeNotFound:
		return http.StatusNotFound
	case common.CodeInvalidTransition:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// abortWithError writes the JSON error body. Internal errors are not echoed.
func abortWithError(c *gin.Context, err error) {
	status := httpStatus(err)
	code := common.CodeOf(err)
	msg := err.Error()
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	if status == http.StatusInternalServerError {
		if code == "" {
			code = "INTERNAL"
		}
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": msg})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "INVALID_INPUT", "message": msg})
}
