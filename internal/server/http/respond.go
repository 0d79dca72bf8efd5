package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/and161185/attendgate/internal/convert"
	"github.com/and161185/attendgate/internal/errs"
)

// statusFor maps an error to its HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindRateLimited:
		return http.StatusTooManyRequests
	case errs.KindHashMismatch, errs.KindExpired, errs.KindInvalidSession,
		errs.KindDuplicatePerson, errs.KindDuplicateDevice, errs.KindOutOfRange,
		errs.KindMissingFields:
		return http.StatusBadRequest
	case errs.KindIssuanceFailure, errs.KindPersistenceFailure:
		return http.StatusInternalServerError
	}
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func codeFor(err error) string {
	if k := errs.KindOf(err); k != "" {
		return string(k)
	}
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, errs.ErrNotFound):
		return "NotFound"
	case errors.Is(err, errs.ErrAlreadyExists):
		return "AlreadyExists"
	}
	return "Internal"
}

func messageFor(err error) string {
	if errs.KindOf(err) != "" {
		return errs.Message(err)
	}
	switch {
	case errors.Is(err, errs.ErrUnauthorized):
		return "bad credentials"
	case errors.Is(err, errs.ErrNotFound):
		return "not found"
	case errors.Is(err, errs.ErrAlreadyExists):
		return "already exists"
	}
	return "internal error"
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Debug("write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(err))
	}
	if d := errs.RetryAfter(err); d > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
	}
	s.writeJSON(w, status, convert.ErrorResponse{Error: convert.APIError{
		Code:    codeFor(err),
		Message: messageFor(err),
	}})
}

// decodeJSON reads one JSON object from the body into v.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return errs.New(errs.KindMissingFields, "request body too large")
		case errors.Is(err, io.EOF):
			return errs.New(errs.KindMissingFields, "empty request body")
		default:
			return errs.Wrap(errs.KindMissingFields, fmt.Sprintf("malformed JSON: %v", err), err)
		}
	}
	return nil
}
