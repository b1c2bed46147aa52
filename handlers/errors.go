package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// Error codes reported in the "error" member of [ErrorModel].
const (
	CodeValidationFailed = "VALIDATION_FAILED"
	CodeInvalidInput     = "INVALID_INPUT"
	CodeNotFound         = "NOT_FOUND"
	CodeDuplicateEmail   = "DUPLICATE_EMAIL"
	CodeInternal         = "INTERNAL"
)

// ErrorModel is the body of every failed response.
type ErrorModel struct {
	status int

	Success bool          `json:"success"           example:"false"`
	Code    string        `json:"error"             example:"NOT_FOUND"`
	Message string        `json:"message"           example:"No contact found with the provided ID"`
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail points at one invalid input value.
type ErrorDetail struct {
	Field   string `json:"field,omitempty"   example:"email"`
	Message string `json:"message"           example:"Please provide a valid email address"`
	Value   any    `json:"value,omitempty"`
}

func (e *ErrorModel) Error() string { return e.Message }

func (e *ErrorModel) GetStatus() int { return e.status }

// NewError replaces [huma.NewError] so that errors raised by huma itself
// (schema validation, body parsing, ...) and by the handlers share one shape.
// Request validation failures, reported by huma as 422, become 400.
func NewError(status int, msg string, errs ...error) huma.StatusError {
	switch {
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return validationFailed(details(errs))
	case status == http.StatusNotFound:
		return newErrorModel(status, CodeNotFound, msg)
	case status == http.StatusConflict:
		return newErrorModel(status, CodeDuplicateEmail, msg)
	case status >= http.StatusInternalServerError:
		return newErrorModel(status, CodeInternal, "Internal server error")
	default:
		code := strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
		return newErrorModel(status, code, msg)
	}
}

// WriteInternal answers ctx with a 500 [ErrorModel]. Nothing must have been
// written to ctx before.
func WriteInternal(ctx huma.Context) error {
	ctx.SetHeader("Content-Type", "application/json")
	ctx.SetStatus(http.StatusInternalServerError)
	return json.NewEncoder(ctx.BodyWriter()).Encode(NewError(http.StatusInternalServerError, ""))
}

func newErrorModel(status int, code, msg string) *ErrorModel {
	return &ErrorModel{status: status, Code: code, Message: msg}
}

func validationFailed(details []ErrorDetail) *ErrorModel {
	e := newErrorModel(http.StatusBadRequest, CodeValidationFailed, "Validation failed")
	e.Details = details
	return e
}

func invalidInput(msg string) *ErrorModel {
	return newErrorModel(http.StatusBadRequest, CodeInvalidInput, msg)
}

func details(errs []error) []ErrorDetail {
	out := make([]ErrorDetail, 0, len(errs))
	for _, err := range errs {
		if err == nil {
			continue
		}
		var detailer huma.ErrorDetailer
		if !errors.As(err, &detailer) {
			out = append(out, ErrorDetail{Message: err.Error()})
			continue
		}
		d := detailer.ErrorDetail()
		out = append(out, ErrorDetail{
			Field:   strings.TrimPrefix(d.Location, "body."),
			Message: d.Message,
			Value:   d.Value,
		})
	}
	return out
}
