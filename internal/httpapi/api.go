// Package httpapi is the HTTP submission surface: POST an entity reference,
// get back the run identity or, when waiting, the structured run result.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/prosemill/orchestrator/internal/service"
)

// Handler serves the pipeline endpoints.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewHandler wires the submission handler.
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the API on the shared mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/runs", h.handleRuns)
	mux.HandleFunc("/api/v1/runs/result", h.handleResult)
}

// handleRuns starts (or attaches to) a pipeline run.
// POST /api/v1/runs {"input": "...", "hints": [...], "force_refresh": false, "wait": false}
func (h *Handler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	var req service.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Input == "" {
		writeError(w, http.StatusBadRequest, "input is required")
		return
	}

	resp, err := h.svc.Run(r.Context(), req)
	if err != nil {
		h.logger.Error("Run submission failed", zap.String("input", req.Input), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	code := http.StatusAccepted
	if resp.Result != nil {
		code = http.StatusOK
	}
	writeJSON(w, code, resp)
}

// handleResult fetches the result of a finished run.
// GET /api/v1/runs/result?input=...
func (h *Handler) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	input := r.URL.Query().Get("input")
	if input == "" {
		writeError(w, http.StatusBadRequest, "input query parameter is required")
		return
	}

	resp, err := h.svc.Describe(r.Context(), input)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
