package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/CreativeUnicorns/prefstore"
)

// errorBody is the JSON error envelope returned by every handler.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// statusFor maps store errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, prefstore.ErrStorageUnavailable), errors.Is(err, prefstore.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, prefstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, prefstore.ErrAlreadyDefined):
		return http.StatusConflict
	case errors.Is(err, prefstore.ErrInvalidInput),
		errors.Is(err, prefstore.ErrInvalidKey),
		errors.Is(err, prefstore.ErrInvalidKind),
		errors.Is(err, prefstore.ErrInvalidValue),
		errors.Is(err, prefstore.ErrEncode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// respondWithStoreError sends err with the status statusFor picks.
func (s *Server) respondWithStoreError(w http.ResponseWriter, r *http.Request, message string, err error) {
	s.respondWithError(w, r, statusFor(err), message, err)
}

// respondWithError is a helper to send JSON error responses.
func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, status int, message string, err error) {
	body := errorBody{Error: errorDetail{Message: message}}
	if err != nil {
		body.Error.Details = err.Error()
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("API error", "status", status, "message", message, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("API error", "status", status, "message", message, "path", r.URL.Path, "error", err)
	}
	s.respondWithJSON(w, r, status, body)
}

// respondWithJSON is a helper to send JSON responses.
func (s *Server) respondWithJSON(w http.ResponseWriter, _ *http.Request, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("Failed to marshal JSON response", "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"Failed to marshal response"}}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// decodeBody decodes a JSON request body of at most 1MB into dst.
// Numbers are kept as json.Number so integers keep full precision.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1024*1024)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	decoder.UseNumber()
	return decoder.Decode(dst)
}

func decodeJSONNumber(data []byte, dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	return decoder.Decode(dst)
}
