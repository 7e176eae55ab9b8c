// Package apierr maps domain errors onto HTTP responses.
package apierr

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/liliang-cn/ragsession/internal/domain"
)

// Status returns the HTTP status for err.
func Status(err error) int {
	var (
		synthErr     *domain.SynthesisError
		providerErr  *domain.ProviderError
		malformedErr *domain.MalformedProviderResponseError
	)

	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrProviderUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrPersistence):
		return http.StatusInternalServerError
	case errors.As(err, &synthErr), errors.As(err, &providerErr), errors.As(err, &malformedErr),
		errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrQuery):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Write aborts the request with the mapped status and the error message.
func Write(c *gin.Context, err error) {
	c.AbortWithStatusJSON(Status(err), gin.H{"error": err.Error()})
}
