package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"staysync/internal/transport/httpdto"
	sync_errors "staysync/pkg/errors"
)

// respondError maps service errors onto HTTP statuses. Unrecognized
// errors fall back to a 400 so internals never leak as 500s for plain
// bad requests.
func respondError(c *gin.Context, err error) {
	status, code := http.StatusBadRequest, "REQUEST_FAILED"
	switch {
	case errors.Is(err, sync_errors.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, sync_errors.ErrConflict):
		status, code = http.StatusConflict, "CONFLICT"
	case errors.Is(err, sync_errors.ErrAlreadyExists):
		status, code = http.StatusConflict, "ALREADY_EXISTS"
	case errors.Is(err, sync_errors.ErrInvalidInput):
		status, code = http.StatusBadRequest, "INVALID_REQUEST"
	case errors.Is(err, sync_errors.ErrConnectionInactive):
		status, code = http.StatusConflict, "CONNECTION_INACTIVE"
	case errors.Is(err, sync_errors.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, sync_errors.ErrRateLimited):
		status, code = http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, sync_errors.ErrServiceUnavailable):
		status, code = http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"
	}
	c.JSON(status, httpdto.NewErrorResponse(err.Error(), code))
}
