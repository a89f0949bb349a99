package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Shivika2934/labquestion/internal/auth"
	"github.com/Shivika2934/labquestion/internal/generation"
	"github.com/Shivika2934/labquestion/internal/pool"
	"github.com/Shivika2934/labquestion/internal/users"
)

const maxBodyBytes = 1 << 20

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error   string                `json:"error"`
	Message string                `json:"message"`
	Details *pool.ValidationError `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

// writeError maps engine errors onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	resp := errorResponse{Error: code, Message: err.Error()}

	var ve *pool.ValidationError
	if errors.As(err, &ve) {
		resp.Details = ve
	}
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
		if status == http.StatusInternalServerError {
			resp.Message = "internal error"
		}
	}
	writeJSON(w, status, resp)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, users.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, pool.ErrValidation):
		return http.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, pool.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, pool.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, pool.ErrPoolExhausted):
		return http.StatusConflict, "pool_exhausted"
	case errors.Is(err, pool.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, pool.ErrAlreadyExists), errors.Is(err, pool.ErrAlreadyAssigned):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, generation.ErrBudgetExceeded):
		return http.StatusTooManyRequests, "budget_exceeded"
	case errors.Is(err, pool.ErrGenerationProvider):
		return http.StatusBadGateway, "generation_failed"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// decodeJSON reads a bounded JSON body into dst, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &pool.ValidationError{Index: -1, Reason: "request body is empty"}
		}
		return &pool.ValidationError{Index: -1, Reason: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return nil
}

// principal returns the caller set by auth.Middleware. Routes behind the
// middleware always have one.
func principal(r *http.Request) pool.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}
