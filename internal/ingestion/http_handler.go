package ingestion

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// Handler exposes ingestion as an HTTP endpoint.
type Handler struct {
	service *Service
}

// NewHTTPHandler wraps the service with POST load and preview endpoints.
func NewHTTPHandler(service *Service) http.Handler {
	return &Handler{service: service}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	preview := strings.HasSuffix(r.URL.Path, "/preview")

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, fmt.Sprintf("invalid form data: %v", err), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, fmt.Sprintf("file required: %v", err), http.StatusBadRequest)
		return
	}
	defer file.Close()

	table := strings.TrimSpace(r.FormValue("table"))
	if table == "" {
		http.Error(w, fmt.Sprintf("table is required (one of %s)", strings.Join(Tables(), ", ")), http.StatusBadRequest)
		return
	}

	var headerRowIndex *int
	if raw := strings.TrimSpace(r.FormValue("headerRowIndex")); raw != "" {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid header row index: %v", err), http.StatusBadRequest)
			return
		}
		headerRowIndex = &idx
	}

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to read file: %v", err), http.StatusBadRequest)
		return
	}

	if preview {
		limit := 0
		if raw := strings.TrimSpace(r.FormValue("limit")); raw != "" {
			limit, _ = strconv.Atoi(raw)
		}
		result, err := h.service.Preview(r.Context(), PreviewRequest{
			Table:          table,
			FileName:       header.Filename,
			HeaderRowIndex: headerRowIndex,
			Data:           bytes.NewReader(data),
			Limit:          limit,
		})
		if err != nil {
			http.Error(w, err.Error(), statusForIngestErr(err))
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	summary, err := h.service.Ingest(r.Context(), Request{
		Table:          table,
		FileName:       header.Filename,
		HeaderRowIndex: headerRowIndex,
		Data:           bytes.NewReader(data),
	})
	if err != nil {
		http.Error(w, err.Error(), statusForIngestErr(err))
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func statusForIngestErr(err error) int {
	if errors.Is(err, ErrUnknownTable) || errors.Is(err, ErrUnsupportedFormat) {
		return http.StatusBadRequest
	}
	if strings.Contains(err.Error(), "failed to copy rows") {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
