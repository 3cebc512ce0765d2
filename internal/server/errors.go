package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	admissiondomain "github.com/smallbiznis/creditgate/internal/admission/domain"
	"github.com/smallbiznis/creditgate/internal/agent"
	apikeydomain "github.com/smallbiznis/creditgate/internal/apikey/domain"
	"github.com/smallbiznis/creditgate/internal/authorization"
	"github.com/smallbiznis/creditgate/internal/catalog"
	ledgerdomain "github.com/smallbiznis/creditgate/internal/ledger/domain"
	"github.com/smallbiznis/creditgate/internal/metering"
	quotadomain "github.com/smallbiznis/creditgate/internal/quota/domain"
	reconciliationdomain "github.com/smallbiznis/creditgate/internal/reconciliation/domain"
	usagedomain "github.com/smallbiznis/creditgate/internal/usage/domain"
	"github.com/smallbiznis/creditgate/pkg/db/pagination"
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
	Action  string            `json:"action,omitempty"`
	Cost    *int64            `json:"cost,omitempty"`
	Remains *int64            `json:"remaining,omitempty"`
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
	ErrRateLimited        = errors.New("rate_limited")
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

	// Denials carry the message and call-to-action the client shows the user.
	if decision, ok := admissiondomain.AsDenial(err); ok {
		cost, remaining := decision.Cost, decision.Remaining
		return denialStatus(decision.Reason), errorPayload{
			Type:    "denied",
			Code:    string(decision.Reason),
			Message: decision.Message,
			Action:  string(decision.Action),
			Cost:    &cost,
			Remains: &remaining,
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
		errors.Is(err, apikeydomain.ErrInvalidAPIKey):
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
	// Checked before the ledger sentinels that commit failures wrap.
	case errors.Is(err, usagedomain.ErrCommitFailed),
		errors.Is(err, usagedomain.ErrInvariantViolation):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Code:    commitErrorCode(err),
			Message: "usage could not be recorded",
		}
	case errors.Is(err, ledgerdomain.ErrInsufficientCredits):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "denied",
			Code:    string(admissiondomain.ReasonInsufficientCredits),
			Message: "insufficient credits",
			Action:  string(admissiondomain.ActionTopUp),
		}
	case errors.Is(err, quotadomain.ErrFreeTrialExhausted):
		return http.StatusForbidden, errorPayload{
			Type:    "denied",
			Code:    string(admissiondomain.ReasonFreeTrialExhausted),
			Message: "free trial exhausted",
			Action:  string(admissiondomain.ActionSignUp),
		}
	case errors.Is(err, ledgerdomain.ErrAccountNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Code:    "unknown_account",
			Message: "unknown account",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ledgerdomain.ErrDuplicateTransaction):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    "duplicate_transaction",
			Message: "duplicate transaction",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, ledgerdomain.ErrAccountExists),
		errors.Is(err, reconciliationdomain.ErrAlreadyResolved):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Code:    conflictCode(err),
			Message: "conflict",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, metering.ErrOperationFailed),
		errors.Is(err, agent.ErrUpstream):
		return http.StatusBadGateway, errorPayload{
			Type:    "operation_failed",
			Code:    "operation_failed",
			Message: "operation failed; no credits were charged",
		}
	case errors.Is(err, agent.ErrNotConfigured),
		errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func denialStatus(reason admissiondomain.DenyReason) int {
	switch reason {
	case admissiondomain.ReasonInsufficientCredits:
		return http.StatusPaymentRequired
	case admissiondomain.ReasonUnknownAccount:
		return http.StatusNotFound
	default:
		return http.StatusForbidden
	}
}

func conflictCode(err error) string {
	switch {
	case errors.Is(err, ledgerdomain.ErrAccountExists):
		return ledgerdomain.ErrAccountExists.Error()
	case errors.Is(err, reconciliationdomain.ErrAlreadyResolved):
		return reconciliationdomain.ErrAlreadyResolved.Error()
	default:
		return ""
	}
}

func commitErrorCode(err error) string {
	if errors.Is(err, usagedomain.ErrInvariantViolation) {
		return usagedomain.ErrInvariantViolation.Error()
	}
	return usagedomain.ErrCommitFailed.Error()
}

// classifyErrorForLog feeds the request logger a low-cardinality type and code.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Code
	if code == "" && len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
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
		errors.Is(err, ledgerdomain.ErrInvalidAccount),
		errors.Is(err, ledgerdomain.ErrInvalidCost),
		errors.Is(err, ledgerdomain.ErrInvalidCredits),
		errors.Is(err, ledgerdomain.ErrInvalidOperationType),
		errors.Is(err, ledgerdomain.ErrInvalidPlan),
		errors.Is(err, ledgerdomain.ErrInvalidTransactionID),
		errors.Is(err, admissiondomain.ErrInvalidCaller),
		errors.Is(err, admissiondomain.ErrInvalidCost),
		errors.Is(err, quotadomain.ErrInvalidIdentity),
		errors.Is(err, catalog.ErrInvalidOperation),
		errors.Is(err, catalog.ErrPlanNotFound),
		errors.Is(err, pagination.ErrInvalidCursor),
		errors.Is(err, reconciliationdomain.ErrInvalidID),
		errors.Is(err, apikeydomain.ErrInvalidName),
		errors.Is(err, apikeydomain.ErrInvalidRole),
		errors.Is(err, apikeydomain.ErrInvalidKeyID):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ledgerdomain.ErrTransactionNotFound),
		errors.Is(err, reconciliationdomain.ErrNotFound),
		errors.Is(err, apikeydomain.ErrNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	default:
		return err.Error()
	}
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
	case catalog.ErrPlanNotFound.Error():
		return "unknown plan"
	default:
		return "invalid value"
	}
}
