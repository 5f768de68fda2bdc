package async

import (
	"context"
	"database/sql"
	"strings"

	"github.com/teranos/gdscraper/errors"
)

// ErrorCode represents the classification of a job failure
type ErrorCode string

const (
	ErrorCodeInvalidInput  ErrorCode = "invalid_input"
	ErrorCodeDatabaseError ErrorCode = "database_error"
	ErrorCodePublishError  ErrorCode = "publish_error"
	ErrorCodeTimeout       ErrorCode = "timeout"
	ErrorCodeShutdown      ErrorCode = "shutdown"
	ErrorCodeNoHandler     ErrorCode = "no_handler"
	ErrorCodeUnknown       ErrorCode = "unknown"
)

// ErrNoHandler is returned for a job whose handler name is not registered
var ErrNoHandler = errors.New("no handler registered")

// ErrorContext provides structured error information for job failures
type ErrorContext struct {
	Code    ErrorCode
	Message string
}

// ClassifyError categorizes a job failure for logs and job listings.
// Marked errors are matched first; message patterns cover driver errors.
func ClassifyError(err error) ErrorContext {
	if err == nil {
		return ErrorContext{Code: ErrorCodeUnknown, Message: "unknown error"}
	}

	ctx := ErrorContext{Message: err.Error()}
	errLower := strings.ToLower(ctx.Message)

	switch {
	case errors.Is(err, ErrNoHandler):
		ctx.Code = ErrorCodeNoHandler
	case errors.Is(err, errors.ErrInvalidRequest):
		ctx.Code = ErrorCodeInvalidInput
	case errors.Is(err, context.Canceled):
		ctx.Code = ErrorCodeShutdown
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errors.ErrTimeout):
		ctx.Code = ErrorCodeTimeout
	case errors.Is(err, sql.ErrConnDone), strings.Contains(errLower, "database"), strings.Contains(errLower, "sql"):
		ctx.Code = ErrorCodeDatabaseError
	case strings.Contains(errLower, "publish"):
		ctx.Code = ErrorCodePublishError
	case strings.Contains(errLower, "invalid"), strings.Contains(errLower, "decode"):
		ctx.Code = ErrorCodeInvalidInput
	default:
		ctx.Code = ErrorCodeUnknown
	}

	return ctx
}
