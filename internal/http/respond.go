package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"cointraq/internal/core"
	"cointraq/internal/log"
)

// maxBodyBytes bounds JSON and form bodies.
const maxBodyBytes = 1 << 16

type message struct {
	Msg string `json:"msg"`
}

var validationErrors = []error{
	core.ErrInvalidInput,
	core.ErrInvalidKind,
	core.ErrInvalidAmount,
	core.ErrInvalidDate,
	core.ErrEmptySource,
	core.ErrSourceTooLong,
	core.ErrEmptyEmail,
	core.ErrPasswordTooWeak,
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return http.StatusUnprocessableEntity
		}
	}
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// errorMessage is the text shown to the user. Internal errors are never
// echoed back.
func errorMessage(status int, err error) string {
	switch status {
	case http.StatusUnprocessableEntity:
		return "Invalid data: " + strings.TrimPrefix(err.Error(), core.ErrInvalidInput.Error()+": ")
	case http.StatusNotFound:
		return "Transaction not found"
	case http.StatusUnauthorized:
		return "Invalid credentials"
	case http.StatusConflict:
		return "Email already registered"
	}
	return "Something went wrong, please try again"
}

func errorType(status int) string {
	switch status {
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		return log.ErrorTypeValidation
	case http.StatusNotFound:
		return log.ErrorTypeNotFound
	case http.StatusUnauthorized:
		return log.ErrorTypeAuth
	case http.StatusConflict:
		return log.ErrorTypeConflict
	}
	return log.ErrorTypeInternal
}

// logFailure logs client errors at warn and everything else at error.
func logFailure(r *http.Request, msg, op string, status int, err error) {
	logger := log.FromContext(r.Context())
	args := []any{
		log.FieldOperation, op,
		log.FieldStatusCode, status,
		log.FieldError, err.Error(),
		log.FieldErrorType, errorType(status),
	}
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), msg, args...)
		return
	}
	logger.WarnContext(r.Context(), msg, args...)
}

func isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeAPIError logs err and writes the mapped status with a message body.
func writeAPIError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	logFailure(r, "API request failed", op, status, err)
	writeJSON(w, status, message{Msg: errorMessage(status, err)})
}

// decodeJSON reads a single JSON object from the body.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return core.InvalidInput("malformed JSON body")
	}
	return nil
}

// sanitizeInput removes control characters and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
