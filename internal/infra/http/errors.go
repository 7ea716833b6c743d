package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/Spok95/shipment-recon/internal/recon"
)

// apiError — тело ответа об ошибке.
type apiError struct {
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Details   map[string]string `json:"details,omitempty"`
}

func statusFor(err error) int {
	switch recon.ClassOf(err) {
	case recon.ClassValidation:
		return http.StatusBadRequest
	case recon.ClassNotFound:
		return http.StatusNotFound
	case recon.ClassConflict:
		return http.StatusConflict
	case recon.ClassConsistency:
		return http.StatusInternalServerError
	}
	if recon.CodeOf(err) == recon.ErrTimeout.Code {
		return http.StatusGatewayTimeout
	}
	return http.StatusServiceUnavailable
}

func (h *handlers) fail(c *gin.Context, err error) {
	body := apiError{
		Code:      recon.CodeOf(err),
		Message:   err.Error(),
		Retryable: recon.IsRetryable(err),
	}
	var ce *recon.CommitError
	if errors.As(err, &ce) {
		body.Details = map[string]string{
			"session_id":            strconv.FormatInt(ce.SessionID, 10),
			"failure_point":         ce.FailurePoint,
			"manual_stock_reversed": strconv.FormatBool(ce.ManualStockReversed()),
		}
		if ce.MovementID != 0 {
			body.Details["movement_id"] = strconv.FormatInt(ce.MovementID, 10)
		}
	}
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "path", c.FullPath(), "code", body.Code, "err", err)
	}
	c.AbortWithStatusJSON(status, body)
}

// badRequest — ошибка разбора или валидации тела запроса.
func badRequest(c *gin.Context, err error) {
	body := apiError{Code: "VALIDATION_ERROR", Message: err.Error()}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		body.Message = "request validation failed"
		body.Details = make(map[string]string, len(ve))
		for _, fe := range ve {
			body.Details[fe.Field()] = fe.Tag()
		}
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, body)
}
