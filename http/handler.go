package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sagarc03/stowfs"
	"github.com/sagarc03/stowfs/objectstore"
)

// Service is the read-only view of a storage the handler needs.
type Service interface {
	Stat(ctx context.Context, path string) (stowfs.Entry, error)
	ReadDir(ctx context.Context, path string) ([]stowfs.Entry, error)
}

// Resolver answers which object store backs a user. Lookup must not
// persist an assignment.
type Resolver interface {
	Lookup(ctx context.Context, uid string) (objectstore.Placement, bool, error)
	Assign(ctx context.Context, uid, name string) error
}

type HandlerConfig struct {
	// Token protects the /v1 routes. Empty leaves them open.
	Token string
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Ready backs /healthz. Nil always reports ok.
	Ready  func(ctx context.Context) error
	Logger *slog.Logger
}

// Handler serves the admin API.
type Handler struct {
	config   HandlerConfig
	service  Service
	resolver Resolver
	logger   *slog.Logger
}

// StatResponse is the body of GET /v1/stat. Children is only set for
// directories.
type StatResponse struct {
	Entry    stowfs.Entry   `json:"entry"`
	Children []stowfs.Entry `json:"children,omitempty"`
}

// AssignmentResponse describes the store backing a user. Store arguments
// are left out since they hold credentials.
type AssignmentResponse struct {
	User        string `json:"user"`
	Store       string `json:"store"`
	Kind        string `json:"kind"`
	Bucket      string `json:"bucket,omitempty"`
	Multibucket bool   `json:"multibucket"`
	// Assigned is false until the user's store and bucket are persisted.
	Assigned bool `json:"assigned"`
}

// AssignRequest is the body of PUT /v1/users/{uid}/objectstore.
type AssignRequest struct {
	Store string `json:"store"`
}

// NewHandler creates a new Handler. resolver may be nil, in which case the
// user routes report that no object store is configured.
func NewHandler(config *HandlerConfig, service Service, resolver Resolver) *Handler {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		config:   *config,
		service:  service,
		resolver: resolver,
		logger:   logger,
	}
}

// Router returns an http.Handler with every admin route mounted.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(LogMiddleware(h.logger))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusNotFound, "not_found", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	r.Get("/healthz", h.handleHealth)
	if h.config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.config.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(TokenMiddleware(h.config.Token))
		r.Get("/stat", h.handleStat)
		r.Get("/stat/*", h.handleStat)
		r.Get("/users/{uid}/objectstore", h.handleGetAssignment)
		r.Put("/users/{uid}/objectstore", h.handleAssign)
	})

	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.config.Ready != nil {
		if err := h.config.Ready(r.Context()); err != nil {
			h.logger.Warn("health check failed", "error", err)
			WriteError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
			return
		}
	}
	_ = WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStat(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")

	entry, err := h.service.Stat(r.Context(), path)
	if err != nil {
		HandleError(w, err)
		return
	}

	resp := StatResponse{Entry: entry}
	if entry.IsDir() {
		children, err := h.service.ReadDir(r.Context(), path)
		if err != nil {
			HandleError(w, err)
			return
		}
		resp.Children = children
	}

	_ = WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	resp, err := h.assignment(r.Context(), uid)
	if err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleAssign(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")

	var req AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Store == "" {
		WriteError(w, http.StatusBadRequest, "bad_request", `Body must be {"store": "<name>"}`)
		return
	}
	if h.resolver == nil {
		HandleError(w, ErrNotConfigured)
		return
	}

	if err := h.resolver.Assign(r.Context(), uid, req.Store); err != nil {
		HandleError(w, err)
		return
	}
	h.logger.Info("assigned object store", "user", uid, "store", req.Store)

	resp, err := h.assignment(r.Context(), uid)
	if err != nil {
		HandleError(w, err)
		return
	}
	_ = WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) assignment(ctx context.Context, uid string) (AssignmentResponse, error) {
	if h.resolver == nil {
		return AssignmentResponse{}, ErrNotConfigured
	}
	p, ok, err := h.resolver.Lookup(ctx, uid)
	if err != nil {
		return AssignmentResponse{}, err
	}
	if !ok {
		return AssignmentResponse{}, ErrNotConfigured
	}
	return AssignmentResponse{
		User:        uid,
		Store:       p.Name,
		Kind:        p.Kind,
		Bucket:      p.Bucket(),
		Multibucket: p.Multibucket,
		Assigned:    p.Assigned,
	}, nil
}
