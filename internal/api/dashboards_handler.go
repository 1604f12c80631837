package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/gxplab/reportengine/internal/domain"
	"github.com/gxplab/reportengine/internal/repository"
)

// DashboardsHandler serves dashboard CRUD.
type DashboardsHandler struct {
	repo repository.DashboardRepository
}

func NewDashboardsHandler(repo repository.DashboardRepository) http.Handler {
	return &DashboardsHandler{repo: repo}
}

func (h *DashboardsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, hasID := trailingID(r.URL.Path)
	switch {
	case r.Method == http.MethodPost:
		h.handleCreate(w, r)
	case r.Method == http.MethodGet && hasID:
		h.handleGet(w, r, id)
	case r.Method == http.MethodGet:
		h.handleList(w, r)
	case r.Method == http.MethodPut && hasID:
		h.handleUpdate(w, r, id)
	case r.Method == http.MethodDelete && hasID:
		h.handleDelete(w, r, id)
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

type dashboardPayload struct {
	Name    string                   `json:"name"`
	Widgets []domain.DashboardWidget `json:"widgets"`
}

func (p dashboardPayload) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("dashboard name is required")
	}
	for i, widget := range p.Widgets {
		if widget.ReportID == uuid.Nil {
			return fmt.Errorf("widget %d is missing a report id", i)
		}
		if widget.Width <= 0 || widget.Height <= 0 {
			return fmt.Errorf("widget %d has non-positive dimensions", i)
		}
	}
	return nil
}

func (p dashboardPayload) widgets() []domain.DashboardWidget {
	widgets := make([]domain.DashboardWidget, len(p.Widgets))
	copy(widgets, p.Widgets)
	for i := range widgets {
		if widgets[i].ID == uuid.Nil {
			widgets[i].ID = uuid.New()
		}
	}
	return widgets
}

func (h *DashboardsHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var payload dashboardPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if err := payload.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	dashboard, err := h.repo.Create(r.Context(), domain.Dashboard{
		Name:    payload.Name,
		Widgets: payload.widgets(),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, dashboard)
}

func (h *DashboardsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	dashboards, err := h.repo.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if dashboards == nil {
		dashboards = []domain.Dashboard{}
	}
	writeJSON(w, http.StatusOK, dashboards)
}

func (h *DashboardsHandler) handleGet(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	dashboard, err := h.repo.GetByID(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), statusForLookup(err))
		return
	}
	writeJSON(w, http.StatusOK, dashboard)
}

func (h *DashboardsHandler) handleUpdate(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	defer r.Body.Close()
	var payload dashboardPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, fmt.Sprintf("invalid payload: %v", err), http.StatusBadRequest)
		return
	}
	if err := payload.validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	updated, err := h.repo.Update(r.Context(), domain.Dashboard{
		ID:      id,
		Name:    payload.Name,
		Widgets: payload.widgets(),
	})
	if err != nil {
		http.Error(w, err.Error(), statusForLookup(err))
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (h *DashboardsHandler) handleDelete(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	if err := h.repo.Delete(r.Context(), id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
