package server

import (
	"errors"
	"net/http"
	"strconv"

	auditdomain "github.com/engineerpark/cdulog/internal/audit/domain"
	"github.com/engineerpark/cdulog/internal/authorization"
	"github.com/engineerpark/cdulog/internal/identity"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	userdomain "github.com/engineerpark/cdulog/internal/user/domain"
	"github.com/gin-gonic/gin"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Code    string            `json:"code,omitempty"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
	Count   int64             `json:"count,omitempty"`
	UnitID  string            `json:"unit_id,omitempty"`
	Record  *domain.Record    `json:"record,omitempty"`
}

type errorResponse struct {
	Success bool         `json:"success"`
	Error   errorPayload `json:"error"`
}

type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInternal           = errors.New("internal_error")
	ErrRouteNotFound      = errors.New("not_found")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

// RateLimitedError is returned when an actor exhausts the write budget.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string { return "rate_limited" }

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, dataResponse{Success: true, Data: data})
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		var limited *RateLimitedError
		if errors.As(lastErr.Err, &limited) && limited.RetryAfterSeconds > 0 {
			c.Header("Retry-After", strconv.Itoa(limited.RetryAfterSeconds))
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Success: false, Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		payload := errorPayload{
			Type:    string(domain.KindValidation),
			Message: "validation error",
			Errors:  vErr.Errors,
		}
		if len(vErr.Errors) == 1 {
			payload.Code = vErr.Errors[0].Code
			payload.Message = vErr.Errors[0].Message
		}
		return http.StatusBadRequest, payload
	}

	var de *domain.Error
	if errors.As(err, &de) {
		return mapDomainError(de)
	}

	var limited *RateLimitedError
	if errors.As(err, &limited) {
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many write requests",
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, identity.ErrMissingToken),
		errors.Is(err, identity.ErrInvalidToken),
		errors.Is(err, identity.ErrTokenExpired),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, userdomain.ErrInvalidSubject):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthenticated",
			Code:    codeOf(err, "unauthenticated"),
			Message: "authentication required",
		}
	case errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, userdomain.ErrForbidden),
		errors.Is(err, userdomain.ErrSelfRoleChange),
		errors.Is(err, userdomain.ErrRoleAboveActor),
		errors.Is(err, userdomain.ErrTargetAboveActor):
		return http.StatusForbidden, errorPayload{
			Type:    string(domain.KindPermissionDenied),
			Code:    codeOf(err, "insufficient_role"),
			Message: "role does not allow this operation",
		}
	case errors.Is(err, userdomain.ErrUserNotFound),
		errors.Is(err, ErrRouteNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    string(domain.KindNotFound),
			Code:    codeOf(err, "not_found"),
			Message: "resource not found",
		}
	case errors.Is(err, identity.ErrInvalidRole),
		errors.Is(err, userdomain.ErrInvalidUserID),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		code := codeOf(err, "validation_error")
		return http.StatusBadRequest, errorPayload{
			Type:    string(domain.KindValidation),
			Code:    code,
			Message: validationMessage(code),
		}
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service temporarily unavailable",
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}

func mapDomainError(de *domain.Error) (int, errorPayload) {
	payload := errorPayload{
		Type:    string(de.Kind),
		Code:    de.Code,
		Message: de.Message,
	}
	switch de.Kind {
	case domain.KindValidation:
		return http.StatusBadRequest, payload
	case domain.KindPermissionDenied:
		return http.StatusForbidden, payload
	case domain.KindNotFound:
		return http.StatusNotFound, payload
	case domain.KindInvalidState:
		return http.StatusConflict, payload
	case domain.KindConflict:
		payload.Count = de.Count
		return http.StatusConflict, payload
	case domain.KindRecomputeFailed:
		if de.UnitID != 0 {
			payload.UnitID = de.UnitID.String()
		}
		payload.Record = de.Record
		return http.StatusInternalServerError, payload
	default:
		// Store failures never leak driver messages.
		return http.StatusInternalServerError, errorPayload{
			Type:    string(domain.KindStorage),
			Code:    "storage_error",
			Message: "storage operation failed",
		}
	}
}

func codeOf(err error, fallback string) string {
	for _, known := range []error{
		identity.ErrMissingToken,
		identity.ErrInvalidToken,
		identity.ErrTokenExpired,
		userdomain.ErrForbidden,
		userdomain.ErrSelfRoleChange,
		userdomain.ErrRoleAboveActor,
		userdomain.ErrTargetAboveActor,
		userdomain.ErrUserNotFound,
		userdomain.ErrInvalidUserID,
		identity.ErrInvalidRole,
		auditdomain.ErrInvalidPageToken,
		auditdomain.ErrInvalidTimeRange,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return fallback
}

func validationMessage(code string) string {
	switch code {
	case "invalid_role":
		return "role must be viewer, technician, manager or admin"
	case "invalid_user_id":
		return "user id is not valid"
	case "invalid_page_token":
		return "page token is not valid"
	case "invalid_time_range":
		return "start_at must not be after end_at"
	default:
		return "validation error"
	}
}

func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	_, payload := mapError(err)
	return payload.Type, payload.Code
}
