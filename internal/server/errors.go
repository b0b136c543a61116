package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	areadomain "github.com/babcialabs/babcia/internal/area/domain"
	auditdomain "github.com/babcialabs/babcia/internal/audit/domain"
	authdomain "github.com/babcialabs/babcia/internal/auth/domain"
	"github.com/babcialabs/babcia/internal/authorization"
	bowldomain "github.com/babcialabs/babcia/internal/bowl/domain"
	ledgerdomain "github.com/babcialabs/babcia/internal/ledger/domain"
	personadomain "github.com/babcialabs/babcia/internal/persona/domain"
	shopdomain "github.com/babcialabs/babcia/internal/shop/domain"
	visiondomain "github.com/babcialabs/babcia/internal/vision/domain"
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
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrTooManyRequests    = errors.New("too_many_requests")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

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

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
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

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if isValidationError(err) {
		code := validationErrorCode(err)
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authdomain.ErrInvalidCredentials),
		errors.Is(err, authdomain.ErrSessionNotFound),
		errors.Is(err, authdomain.ErrSessionExpired),
		errors.Is(err, authdomain.ErrSessionRevoked),
		errors.Is(err, areadomain.ErrInvalidUser),
		errors.Is(err, bowldomain.ErrInvalidUser),
		errors.Is(err, ledgerdomain.ErrInvalidUser),
		errors.Is(err, shopdomain.ErrInvalidUser):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "too_many_requests",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, bowldomain.ErrJudgeUnavailable),
		errors.Is(err, visiondomain.ErrUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	case errors.Is(err, ErrInternal):
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog produces low-cardinality (type, code) pairs for the
// request log. The code is the sentinel text, never user input.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	switch {
	case status >= http.StatusInternalServerError:
		return "server_error", code
	case status == http.StatusTooManyRequests:
		return "rate_limited", code
	default:
		return "client_error", code
	}
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, authdomain.ErrInvalidEmail),
		errors.Is(err, authdomain.ErrWeakPassword),
		errors.Is(err, areadomain.ErrInvalidID),
		errors.Is(err, areadomain.ErrInvalidName),
		errors.Is(err, areadomain.ErrInvalidPersona),
		errors.Is(err, areadomain.ErrInvalidTarget),
		errors.Is(err, bowldomain.ErrInvalidID),
		errors.Is(err, bowldomain.ErrInvalidAreaID),
		errors.Is(err, bowldomain.ErrInvalidTier),
		errors.Is(err, bowldomain.ErrMissingPhoto),
		errors.Is(err, ledgerdomain.ErrInvalidKind),
		errors.Is(err, ledgerdomain.ErrInvalidPageToken),
		errors.Is(err, shopdomain.ErrInvalidSlug),
		errors.Is(err, shopdomain.ErrInvalidPrice),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, authdomain.ErrUserExists),
		errors.Is(err, areadomain.ErrDuplicateName),
		errors.Is(err, bowldomain.ErrInvalidTransition),
		errors.Is(err, bowldomain.ErrNotEligible),
		errors.Is(err, bowldomain.ErrNoTasksGenerated),
		errors.Is(err, ledgerdomain.ErrInsufficientPoints):
		return true
	default:
		return false
	}
}

// conflictMessage keeps the sentinel text visible so the app can tell a
// refused golden gate from a stale state machine without parsing fields.
func conflictMessage(err error) string {
	switch {
	case errors.Is(err, bowldomain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, bowldomain.ErrNotEligible):
		return "not_eligible"
	case errors.Is(err, bowldomain.ErrNoTasksGenerated):
		return "no_tasks_generated"
	case errors.Is(err, ledgerdomain.ErrInsufficientPoints):
		return "insufficient_points"
	case errors.Is(err, authdomain.ErrUserExists):
		return "user_exists"
	case errors.Is(err, areadomain.ErrDuplicateName):
		return "duplicate_area_name"
	default:
		return "conflict"
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, areadomain.ErrNotFound),
		errors.Is(err, bowldomain.ErrNotFound),
		errors.Is(err, bowldomain.ErrTaskNotFound),
		errors.Is(err, shopdomain.ErrFilterNotFound),
		errors.Is(err, personadomain.ErrNotFound),
		errors.Is(err, authdomain.ErrUserNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	if errors.Is(err, ErrInvalidRequest) {
		return "invalid_request"
	}
	return err.Error()
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	default:
		return "invalid value"
	}
}
