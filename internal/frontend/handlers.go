package frontend

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/parley-org/parley/internal/build"
	"github.com/parley-org/parley/internal/models"
	"github.com/parley-org/parley/internal/orchestrator"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 500
)

func (srv *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := srv.orc.Health(r.Context())
	status := "ok"
	if !health.Connected {
		status = "degraded"
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"status":   status,
		"version":  build.Version,
		"provider": health,
	})
}

func (srv *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	descriptors, err := srv.orc.ListModels(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"models": descriptors,
		"count":  len(descriptors),
	})
}

func (srv *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &models.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()})
		return
	}

	d, err := srv.orc.Create(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]any{
		"success":    true,
		"discussion": models.IndexEntryOf(d),
	})
}

func (srv *Server) handleList(w http.ResponseWriter, r *http.Request) {
	entries, err := srv.orc.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"discussions": entries,
		"count":       len(entries),
	})
}

func (srv *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	d, err := srv.orc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, d)
}

func (srv *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	d, err := srv.orc.Start(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"success":    true,
		"discussion": models.IndexEntryOf(d),
	})
}

func (srv *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	d, err := srv.orc.Stop(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"success":    true,
		"discussion": models.IndexEntryOf(d),
	})
}

func (srv *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := srv.orc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"success": true})
}

func (srv *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := queryInt(r, "limit", defaultPageLimit)
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	messages, total, err := srv.orc.Messages(r.Context(), chi.URLParam(r, "id"), page, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"messages": messages,
		"total":    total,
		"page":     page,
		"limit":    limit,
	})
}

func (srv *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := srv.orc.GetSummary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

func (srv *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	format, err := orchestrator.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, err := srv.orc.Export(r.Context(), id, format)
	if err != nil {
		writeError(w, r, err)
		return
	}

	contentType := "application/json"
	if format == orchestrator.ExportText {
		contentType = "text/plain; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("discussion-%s.%s", id, format)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (srv *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	path, err := srv.orc.BackupNow(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"path":    path,
	})
}

func (srv *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	removed, err := srv.orc.CleanupNow(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"removed": removed,
	})
}

func (srv *Server) handleStorageInfo(w http.ResponseWriter, r *http.Request) {
	info, err := srv.orc.StorageInfo(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, info)
}

func (srv *Server) handleGetPerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, srv.orc.PerformanceConfig())
}

// handlePutPerformance decodes the body over the current snapshot, so a
// partial body updates only the fields it names.
func (srv *Server) handlePutPerformance(w http.ResponseWriter, r *http.Request) {
	tuning := srv.orc.PerformanceConfig()
	if err := json.NewDecoder(r.Body).Decode(&tuning); err != nil {
		writeError(w, r, &models.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()})
		return
	}
	if err := srv.orc.UpdatePerformanceConfig(tuning); err != nil {
		writeError(w, r, &models.ValidationError{Field: "performance", Reason: err.Error()})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"config":  tuning,
	})
}

func (srv *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, &models.ValidationError{Field: "body", Reason: "invalid JSON: " + err.Error()})
		return
	}

	tuning, err := srv.orc.Optimize(req.Mode)
	if err != nil {
		writeError(w, r, &models.ValidationError{Field: "mode", Reason: err.Error()})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"success": true,
		"mode":    req.Mode,
		"config":  tuning,
	})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
