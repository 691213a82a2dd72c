// Package system carries shared plumbing: the HTTP error envelope and
// handler wrappers, and process logging setup.
package system

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// HTTPError pairs a client-facing message with the status code to send it
// under. Handlers return it instead of writing to the response themselves.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

func NewHTTPError400(message string) *HTTPError {
	return &HTTPError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
	}
}

func NewHTTPError401(message string) *HTTPError {
	return &HTTPError{
		StatusCode: http.StatusUnauthorized,
		Message:    message,
	}
}

func NewHTTPError404(message string) *HTTPError {
	return &HTTPError{
		StatusCode: http.StatusNotFound,
		Message:    message,
	}
}

func NewHTTPError500(message string) *HTTPError {
	return &HTTPError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
	}
}

// functions that understand they need to return a http error
type httpWrapper[T any] func(res http.ResponseWriter, req *http.Request) (T, *HTTPError)

// Wrapper turns a data-returning handler into an http.HandlerFunc: the
// result is encoded as JSON, an HTTPError becomes the error envelope.
func Wrapper[T any](handler httpWrapper[T]) func(res http.ResponseWriter, req *http.Request) {
	return func(res http.ResponseWriter, req *http.Request) {
		data, err := handler(res, req)
		if err != nil {
			log.Warn().
				Str("path", req.URL.Path).
				Int("status", err.StatusCode).
				Msg(err.Message)
			WriteError(res, err.StatusCode, err.Message)
			return
		}
		res.Header().Set("Content-Type", "application/json")
		if encodeErr := json.NewEncoder(res).Encode(data); encodeErr != nil {
			log.Error().Err(encodeErr).Str("path", req.URL.Path).Msg("encoding response")
		}
	}
}

// WriteError sends the error envelope every non-2xx response carries:
// {"detail": "<message>"} under the given status code.
func WriteError(res http.ResponseWriter, statusCode int, message string) {
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(statusCode)
	if err := json.NewEncoder(res).Encode(map[string]string{"detail": message}); err != nil {
		log.Error().Err(err).Msg("encoding error envelope")
	}
}
