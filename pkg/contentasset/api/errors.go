package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/pdisakar/content-assets/pkg/contentasset"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody describes a failure
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps service errors to an HTTP status and error code.
// Order matters: a concurrent update is wrapped in a persist failure and an
// invalid payload in an upload failure.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, contentasset.ErrEntityNotFound),
		errors.Is(err, contentasset.ErrUnknownEntityType),
		errors.Is(err, contentasset.ErrAssetNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, contentasset.ErrConcurrentUpdate):
		return http.StatusConflict, "concurrent_update"
	case errors.Is(err, contentasset.ErrPreconditionFailed):
		return http.StatusConflict, "precondition_failed"
	case errors.Is(err, contentasset.ErrReferenceInUse):
		return http.StatusConflict, "reference_in_use"
	case errors.Is(err, contentasset.ErrInvalidPayload):
		return http.StatusUnprocessableEntity, "invalid_payload"
	case errors.Is(err, contentasset.ErrInvalidContent),
		errors.Is(err, contentasset.ErrInvalidReference):
		return http.StatusUnprocessableEntity, "invalid_content"
	case errors.Is(err, contentasset.ErrUploadFailed):
		return http.StatusBadGateway, "upload_failed"
	case errors.Is(err, contentasset.ErrGraceTooShort):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, contentasset.ErrPersistFailed):
		return http.StatusInternalServerError, "persist_failed"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, msg string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), msg, "path", r.URL.Path, "error", err)
	} else {
		logger.WarnContext(r.Context(), msg, "path", r.URL.Path, "error", err)
	}
	writeErrorCode(w, r, status, code, err.Error())
}

func badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	writeErrorCode(w, r, http.StatusBadRequest, "bad_request", msg)
}

func writeErrorCode(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	render.Status(r, status)
	render.JSON(w, r, ErrorResponse{Error: ErrorBody{
		Code:      code,
		Message:   msg,
		RequestID: RequestIDFrom(r.Context()),
	}})
}
