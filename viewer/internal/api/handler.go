package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/remdbg/remdbg/viewer/internal/store"
)

// defaultLimit caps GET /api/v1/messages when no limit is given.
const defaultLimit = 100

// StatusSource reports the viewer's current connection state.
type StatusSource interface {
	Status() StatusResponse
}

// Handler serves the viewer's read-only HTTP API.
type Handler struct {
	store  *store.Store
	status StatusSource
}

// New creates a router wired to st and status. Callers may mount further
// routes (the WebSocket hub) on the returned router.
func New(st *store.Store, status StatusSource) chi.Router {
	h := &Handler{store: st, status: status}

	r := chi.NewRouter()
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		jsonErr(w, http.StatusNotFound, "not found")
	})

	r.Get("/healthz", h.healthz)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/messages", h.listMessages)
		r.Get("/status", h.getStatus)
	})
	return r
}

// healthz returns GET /healthz.
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	jsonResp(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listMessages returns GET /api/v1/messages?after=<id>&limit=<n>, oldest first.
func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var after uint64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			jsonErr(w, http.StatusBadRequest, "after must be a message id")
			return
		}
		after = n
	}

	limit := defaultLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries := h.store.List(after, limit)
	out := make([]MessageResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ToMessageResponse(e))
	}
	jsonResp(w, http.StatusOK, out)
}

// getStatus returns GET /api/v1/status.
func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	resp := h.status.Status()
	resp.Stored = h.store.Count()
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
