package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/accounts"
	"github.com/MarcoPoloResearchLab/jewelsketch/backend/internal/images"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var (
	unauthenticatedPayload = errorPayload{Error: "unauthenticated", Message: "authentication required"}
	internalErrorPayload   = errorPayload{Error: "internal_error", Message: "internal server error"}
	bodyTooLargePayload    = errorPayload{Error: "validation_failed", Message: "request body too large"}
)

var accountStatuses = map[error]int{
	accounts.ErrValidationFailed:     http.StatusBadRequest,
	accounts.ErrAlreadyExists:        http.StatusConflict,
	accounts.ErrInvalidCredentials:   http.StatusUnauthorized,
	accounts.ErrAuthenticationFailed: http.StatusUnauthorized,
}

// respondError is the single translation from service errors to the failure envelope.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	status, payload := h.describeError(c, err)
	c.AbortWithStatusJSON(status, payload)
}

func (h *httpHandler) describeError(c *gin.Context, err error) (int, errorPayload) {
	var accountErr *accounts.Error
	if errors.As(err, &accountErr) {
		kind := accountErr.Kind()
		if kind == accounts.ErrUnauthenticated {
			return http.StatusUnauthorized, unauthenticatedPayload
		}
		if status, ok := accountStatuses[kind]; ok {
			return status, errorPayload{Error: kind.Error(), Message: accountErr.Message()}
		}
	}

	switch {
	case errors.Is(err, images.ErrInvalidUpload):
		return http.StatusBadRequest, errorPayload{
			Error:   accounts.ErrValidationFailed.Error(),
			Message: fmt.Sprintf("sketch and generated must be JPEG or PNG images of at most %d bytes", h.images.MaxImageBytes()),
		}
	case errors.Is(err, images.ErrEntryNotFound):
		return http.StatusNotFound, errorPayload{Error: "not_found", Message: "image not found"}
	}

	h.logger.Error("request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	return http.StatusInternalServerError, internalErrorPayload
}

func (h *httpHandler) respondInvalidBody(c *gin.Context, err error) {
	h.logger.Debug("request body rejected", zap.String("path", c.FullPath()), zap.Error(err))
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, bodyTooLargePayload)
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, errorPayload{
		Error:   accounts.ErrValidationFailed.Error(),
		Message: "invalid request body",
	})
}

func (h *httpHandler) recoverPanic(c *gin.Context, recovered any) {
	h.logger.Error("panic while serving request", zap.String("path", c.Request.URL.Path), zap.Any("panic", recovered))
	c.AbortWithStatusJSON(http.StatusInternalServerError, internalErrorPayload)
}
