package record

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/aanand-mishra/records-api/internal/http/query"
	"github.com/aanand-mishra/records-api/internal/storage"
	"github.com/aanand-mishra/records-api/internal/utils/response"
)

// ErrConflict is returned by create when the supplied key is already taken.
var ErrConflict = errors.New("record already exists")

// ErrMissingValue is returned by a set-field operation called without a value.
var ErrMissingValue = errors.New("missing value")

// notFoundError carries the user-facing message of a failed lookup and
// still matches storage.ErrNotFound.
type notFoundError struct {
	msg string
}

func (e *notFoundError) Error() string        { return e.msg }
func (e *notFoundError) Is(target error) bool { return target == storage.ErrNotFound }

func keyNotFound(record, key string, value any) error {
	return &notFoundError{msg: fmt.Sprintf("No %s entry with %s %v", record, key, value)}
}

func queryNotFound(record string) error {
	return &notFoundError{msg: fmt.Sprintf("No %s entry found with the provided query parameters.", record)}
}

type conflictError struct {
	key   string
	value any
}

func (e *conflictError) Error() string {
	return fmt.Sprintf("Data already exists with %s %v", e.key, e.value)
}

func (e *conflictError) Is(target error) bool { return target == ErrConflict }

// status maps an operation error to its HTTP status code.
func status(err error) int {
	var (
		unknown *query.UnknownParamError
		invalid *query.InvalidValueError
		verrs   validator.ValidationErrors
	)

	switch {
	case errors.As(err, &unknown), errors.As(err, &invalid), errors.As(err, &verrs):
		return http.StatusBadRequest
	case errors.Is(err, query.ErrBadBody), errors.Is(err, ErrMissingValue):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, storage.ErrStorage):
		// Backend failures surface to the caller with their detail.
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err in the standard error envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := status(err)

	switch {
	case errors.Is(err, storage.ErrStorage):
		slog.ErrorContext(r.Context(), "storage error", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	case code == http.StatusInternalServerError:
		slog.ErrorContext(r.Context(), "request failed", slog.String("path", r.URL.Path), slog.String("error", err.Error()))
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		response.WriteJSON(w, code, response.ValidationError(verrs))
		return
	}
	response.WriteJSON(w, code, response.GeneralError(err))
}
