package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hazyhaar/censusgdb/pkg/codebook"
	"github.com/hazyhaar/censusgdb/pkg/docstore"
	"github.com/hazyhaar/censusgdb/pkg/kit"
	"github.com/hazyhaar/censusgdb/pkg/variables"
)

// NewRouter returns the HTTP API.
func NewRouter(d Deps) http.Handler {
	h := &handler{ep: newEndpoints(d), deps: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", h.handleHealth)
		r.Get("/codebooks/{dataset}/{year}", h.handleCodebook)
		r.Get("/variables", h.handleSearch)
		r.Get("/variables/{name}", h.handleVariable)
		r.Get("/catalog", h.handleCatalog)
		r.Get("/sources", h.handleSources)
	})
	return r
}

type handler struct {
	ep   *endpoints
	deps Deps
}

// serve runs endpoint with the HTTP transport markers and writes its result.
func (h *handler) serve(w http.ResponseWriter, r *http.Request, endpoint kit.Endpoint, request any) {
	ctx := kit.WithRequestID(kit.WithTransport(r.Context(), "http"), middleware.GetReqID(r.Context()))
	resp, err := endpoint(ctx, request)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) handleCodebook(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.ep.codebook, &codebookReq{
		Dataset: chi.URLParam(r, "dataset"),
		Year:    chi.URLParam(r, "year"),
	})
}

func (h *handler) handleVariable(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.ep.variable, &variableReq{Name: chi.URLParam(r, "name")})
}

func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	req := &searchReq{Term: r.URL.Query().Get("q")}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		req.Limit = n
	}
	h.serve(w, r, h.ep.search, req)
}

func (h *handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	req := &catalogReq{}
	if v := r.URL.Query().Get("year"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid year")
			return
		}
		req.Year = n
	}
	h.serve(w, r, h.ep.catalog, req)
}

func (h *handler) handleSources(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, h.ep.listSources, nil)
}

type healthResponse struct {
	Status    string `json:"status"`
	Variables bool   `json:"variables"`
	LastRun   string `json:"last_run,omitempty"`
	Records   int    `json:"records,omitempty"`
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if h.deps.Variables != nil {
		resp.Variables = true
		if run, err := h.deps.Variables.LastRun(); err == nil {
			resp.LastRun = run.ID
			resp.Records = run.Records
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, docstore.ErrMissing), errors.Is(err, variables.ErrEmpty):
		return http.StatusNotFound
	case errors.Is(err, codebook.ErrInvalid):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// cors is a simple CORS middleware for browser-based clients.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
