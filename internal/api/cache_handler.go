package api

import (
	"log"
	"net/http"

	"github.com/gxplab/reportengine/internal/report"
)

// CacheHandler exposes the entity name cache reset hook. The UI calls it
// after bulk edits so renamed programs and sites resolve immediately.
type CacheHandler struct {
	names *report.EntityNameCache
}

func NewCacheHandler(names *report.EntityNameCache) http.Handler {
	return &CacheHandler{names: names}
}

func (h *CacheHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.names.Reset()
	log.Printf("[api] entity name cache reset")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
