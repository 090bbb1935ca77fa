package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"classroll/internal/attendance"
	"classroll/internal/httpmiddleware"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Kind    attendance.Kind `json:"kind"`
	Message string          `json:"message"`
	Details any             `json:"details,omitempty"`
}

var statusByKind = map[attendance.Kind]int{
	attendance.KindAccessDenied:    http.StatusForbidden,
	attendance.KindNotFound:        http.StatusNotFound,
	attendance.KindNotEnrolled:     http.StatusConflict,
	attendance.KindAlreadyMarked:   http.StatusConflict,
	attendance.KindAlreadyEnrolled: http.StatusConflict,
	attendance.KindDuplicateKey:    http.StatusConflict,
	attendance.KindValidation:      http.StatusBadRequest,
	attendance.KindStore:           http.StatusInternalServerError,
}

// handleServiceError writes err as a JSON error response. Store failures are
// logged in full and answered with a generic message.
func (h *Handler) handleServiceError(c *gin.Context, err error) {
	var e *attendance.Error
	if !errors.As(err, &e) {
		e = attendance.StoreFailure("unexpected", err)
	}
	if h.errors != nil {
		h.errors.CoreError(e.Kind)
	}

	status, ok := statusByKind[e.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := ErrorBody{Kind: e.Kind, Message: e.Message, Details: e.Details}
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("request_id", httpmiddleware.GetRequestID(c)),
			zap.Error(err),
		)
		body = ErrorBody{Kind: attendance.KindStore, Message: "internal error, please retry"}
	}
	c.AbortWithStatusJSON(status, gin.H{"error": body})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error": ErrorBody{Kind: attendance.KindValidation, Message: msg},
	})
}
