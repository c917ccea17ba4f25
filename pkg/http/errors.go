package http

import (
	"fmt"
	"net/http"
)

// Error codes of the forecast API beyond the ERR_<TAG> validation codes.
const (
	CodeNotFound         = "ERR_NOT_FOUND"
	CodeInvalidStockCode = "ERR_INVALID_STOCK_CODE"
	CodeInvalidParam     = "ERR_INVALID_PARAM"
	CodeNormalization    = "ERR_NORMALIZATION"
	CodeUnknownModel     = "ERR_UNKNOWN_MODEL"
	CodeModelService     = "ERR_MODEL_SERVICE"
)

// AppError is a client-facing error: a stable code, the offending field if
// any, and the status it is answered with.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

func NewAppError(code, field, message string, status int) *AppError {
	return &AppError{Code: code, Field: field, Message: message, Status: status}
}

func NotFoundError(message string) *AppError {
	return NewAppError(CodeNotFound, "", message, http.StatusNotFound)
}

// InvalidParamError rejects a forecast parameter that passed binding but not
// the pipeline's own rules.
func InvalidParamError(field string, err error) *AppError {
	return &AppError{Code: CodeInvalidParam, Field: field, Message: err.Error(), Status: http.StatusBadRequest, Err: err}
}

func InvalidStockCodeError(err error) *AppError {
	return &AppError{Code: CodeInvalidStockCode, Field: "stock_code", Message: err.Error(), Status: http.StatusBadRequest, Err: err}
}

// NormalizationError means the feed answered with a table that could not be
// turned into daily bars.
func NormalizationError(err error) *AppError {
	return &AppError{Code: CodeNormalization, Message: err.Error(), Status: http.StatusUnprocessableEntity, Err: err}
}

func UnknownModelError(err error) *AppError {
	return &AppError{Code: CodeUnknownModel, Field: "model_name", Message: err.Error(), Status: http.StatusBadRequest, Err: err}
}

// ModelServiceError reports a failure of the inference service itself.
func ModelServiceError(err error) *AppError {
	return &AppError{Code: CodeModelService, Message: err.Error(), Status: http.StatusBadGateway, Err: err}
}
