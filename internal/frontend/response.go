package frontend

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/parley-org/parley/internal/logger"
	"github.com/parley-org/parley/internal/models"
	"github.com/parley-org/parley/internal/orchestrator"
	"github.com/parley-org/parley/internal/storage"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error(r.Context(), "Failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	writeJSON(w, r, statusFor(err), errorResponse{Error: err.Error()})
}

// statusFor maps error kinds onto HTTP statuses: not-found 404,
// conflict 409, validation 400, everything else 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrDiscussionNotFound),
		errors.Is(err, orchestrator.ErrNoSummary),
		errors.Is(err, storage.ErrDiscussionNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrAlreadyActive),
		errors.Is(err, orchestrator.ErrNotCompleted),
		errors.Is(err, orchestrator.ErrNoRoundsRemaining):
		return http.StatusConflict
	}

	var verr *models.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
