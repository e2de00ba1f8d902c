package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a string representation of a specific error condition.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common Error Codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeNotImplemented     ErrorCode = "COMMON_016"
)

// Aliases
const (
	CodeUnknown        = ErrorCode("UNKNOWN")
	CodeOK             = ErrorCode("OK")
	CodeInternal       = ErrCodeInternal
	CodeInvalidParam   = ErrCodeBadRequest
	CodeNotFound       = ErrCodeNotFound
	CodeConflict       = ErrCodeConflict
	CodeNotImplemented = ErrCodeNotImplemented
)

// Renewal Module Error Codes
const (
	ErrCodeInvalidStep             ErrorCode = "REN_001"
	ErrCodeInvalidInvoiceStep      ErrorCode = "REN_002"
	ErrCodeInvalidGracePeriod      ErrorCode = "REN_003"
	ErrCodeEmptyBatch              ErrorCode = "REN_004"
	ErrCodeMixedJurisdiction       ErrorCode = "REN_005"
	ErrCodeUnsupportedNotification ErrorCode = "REN_006"
	ErrCodeNotificationSendFailed  ErrorCode = "REN_007"
	ErrCodeExportFailed            ErrorCode = "REN_008"
	ErrCodeTaskNotFound            ErrorCode = "REN_009"
	ErrCodeInvalidDate             ErrorCode = "REN_010"
	ErrCodeClientNotFound          ErrorCode = "REN_011"
	ErrCodeTransitionRejected      ErrorCode = "REN_012"
	ErrCodeFeeScheduleError        ErrorCode = "REN_013"
)

// Short aliases used across the renewal packages.
const (
	CodeInvalidStep        = ErrCodeInvalidStep
	CodeInvalidInvoiceStep = ErrCodeInvalidInvoiceStep
	CodeInvalidGracePeriod = ErrCodeInvalidGracePeriod
	CodeEmptyBatch         = ErrCodeEmptyBatch
	CodeMixedJurisdiction  = ErrCodeMixedJurisdiction
	CodeTaskNotFound       = ErrCodeTaskNotFound
	CodeClientNotFound     = ErrCodeClientNotFound
	CodeSendFailed         = ErrCodeNotificationSendFailed
	CodeExportFailed       = ErrCodeExportFailed
)

// Infrastructure Error Codes
const (
	CodeDBConnectionError = ErrCodeDatabaseError
	CodeDBQueryError      = ErrCodeDatabaseError
	CodeCacheError        = ErrCodeCacheError
	CodeMessageQueueError = ErrCodeExternalService
	CodeStorageError      = ErrCodeExternalService
)

// ErrorCodeHTTPStatus maps ErrorCodes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusInternalServerError,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeNotImplemented:     http.StatusNotImplemented,

	ErrCodeInvalidStep:             http.StatusBadRequest,
	ErrCodeInvalidInvoiceStep:      http.StatusBadRequest,
	ErrCodeInvalidGracePeriod:      http.StatusBadRequest,
	ErrCodeEmptyBatch:              http.StatusBadRequest,
	ErrCodeMixedJurisdiction:       http.StatusBadRequest,
	ErrCodeUnsupportedNotification: http.StatusBadRequest,
	ErrCodeNotificationSendFailed:  http.StatusBadGateway,
	ErrCodeExportFailed:            http.StatusInternalServerError,
	ErrCodeTaskNotFound:            http.StatusNotFound,
	ErrCodeInvalidDate:             http.StatusBadRequest,
	ErrCodeClientNotFound:          http.StatusNotFound,
	ErrCodeTransitionRejected:      http.StatusConflict,
	ErrCodeFeeScheduleError:        http.StatusInternalServerError,
}

// ErrorCodeMessage maps ErrorCodes to default messages.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeForbidden:          "forbidden",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization failed",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeNotImplemented:     "not implemented",

	ErrCodeInvalidStep:             "invalid renewal step",
	ErrCodeInvalidInvoiceStep:      "invalid invoice step",
	ErrCodeInvalidGracePeriod:      "grace period must be between 0 and 3",
	ErrCodeEmptyBatch:              "no renewal selected",
	ErrCodeMixedJurisdiction:       "renewals must share one country",
	ErrCodeUnsupportedNotification: "unsupported notification kind",
	ErrCodeNotificationSendFailed:  "notification delivery failed",
	ErrCodeExportFailed:            "export generation failed",
	ErrCodeTaskNotFound:            "renewal task not found",
	ErrCodeInvalidDate:             "invalid date",
	ErrCodeClientNotFound:          "client not found",
	ErrCodeTransitionRejected:      "transition not allowed",
	ErrCodeFeeScheduleError:        "fee schedule lookup failed",
}

// HTTPStatusForCode returns the HTTP status code for an ErrorCode.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for an ErrorCode.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError returns true if the ErrorCode corresponds to a 4xx HTTP status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError returns true if the ErrorCode corresponds to a 5xx HTTP status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of an ErrorCode.
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 1 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
