package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gxplab/reportengine/internal/domain"
	"github.com/gxplab/reportengine/internal/report"
	"github.com/gxplab/reportengine/internal/repository"
)

// ReportsHandler serves report execution and saved-report CRUD.
type ReportsHandler struct {
	engine *report.Engine
	repo   repository.SavedReportRepository
}

func NewReportsHandler(engine *report.Engine, repo repository.SavedReportRepository) http.Handler {
	return &ReportsHandler{engine: engine, repo: repo}
}

func (h *ReportsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/execute"):
		h.handleExecute(w, r)
	case r.Method == http.MethodPost:
		h.handleCreate(w, r)
	case r.Method == http.MethodGet:
		if id, ok := trailingID(r.URL.Path); ok {
			h.handleGet(w, r, id)
			return
		}
		h.handleList(w, r)
	case r.Method == http.MethodPut:
		if id, ok := trailingID(r.URL.Path); ok {
			h.handleUpdate(w, r, id)
			return
		}
		http.Error(w, "report id is required", http.StatusBadRequest)
	case r.Method == http.MethodDelete:
		if id, ok := trailingID(r.URL.Path); ok {
			h.handleDelete(w, r, id)
			return
		}
		http.Error(w, "report id is required", http.StatusBadRequest)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type executePayload struct {
	Config           domain.ReportConfig     `json:"config"`
	IsolationFilters domain.IsolationFilters `json:"isolationFilters,omitempty"`
}

func (h *ReportsHandler) handleExecute(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload executePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	config := payload.Config
	if len(payload.IsolationFilters) > 0 {
		merged := make(domain.IsolationFilters, len(config.IsolationFilters)+len(payload.IsolationFilters))
		for field, values := range config.IsolationFilters {
			merged[field] = values
		}
		for field, values := range payload.IsolationFilters {
			merged[field] = values
		}
		config.IsolationFilters = merged
	}
	result, err := h.engine.ExecuteReport(r.Context(), config)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrNoDataSources) || errors.Is(err, domain.ErrNoMeasures) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type savedReportPayload struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Config      domain.ReportConfig `json:"config"`
}

func (h *ReportsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload savedReportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		http.Error(w, "report name is required", http.StatusBadRequest)
		return
	}
	if err := payload.Config.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("invalid report config: %v", err), http.StatusBadRequest)
		return
	}
	saved, err := h.repo.Create(r.Context(), domain.SavedReport{
		Name:        payload.Name,
		Description: payload.Description,
		Config:      payload.Config,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *ReportsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	reports, err := h.repo.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if reports == nil {
		reports = []domain.SavedReport{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (h *ReportsHandler) handleGet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	saved, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), statusForLookup(err))
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (h *ReportsHandler) handleUpdate(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	defer r.Body.Close()
	var payload savedReportPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if err := payload.Config.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("invalid report config: %v", err), http.StatusBadRequest)
		return
	}
	updated, err := h.repo.Update(r.Context(), domain.SavedReport{
		ID:          id,
		Name:        payload.Name,
		Description: payload.Description,
		Config:      payload.Config,
	})
	if err != nil {
		http.Error(w, err.Error(), statusForLookup(err))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *ReportsHandler) handleDelete(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.repo.Delete(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// trailingID extracts a UUID path segment, if the path ends in one.
func trailingID(path string) (uuid.UUID, bool) {
	path = strings.TrimSuffix(path, "/")
	idx := strings.LastIndex(path, "/")
	if idx == -1 || idx == len(path)-1 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(path[idx+1:])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func statusForLookup(err error) int {
	if errors.Is(err, pgx.ErrNoRows) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
