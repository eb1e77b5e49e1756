package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/veds-platform/constraints/constraint"
	"github.com/veds-platform/constraints/engine"
	"github.com/veds-platform/constraints/internal/logger"
)

const maxBodyBytes = 1 << 20

type Server struct {
	db     *sql.DB // nil when running on the in-memory store
	store  constraint.Store
	cache  constraint.CacheClient
	engine *engine.Engine
	router *chi.Mux
}

func NewServer(databaseURL string) (*Server, error) {
	if databaseURL == "" {
		logger.Warn("DATABASE_URL not set, using in-memory constraint store")
		return newServer(nil, constraint.NewInMemoryStore())
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return NewServerWithDB(db)
}

// NewServerWithDB builds a server over an already-open database handle.
func NewServerWithDB(db *sql.DB) (*Server, error) {
	logger.Info("using postgres constraint store")
	return newServer(db, constraint.NewPostgresStore(db))
}

func newServer(db *sql.DB, store constraint.Store) (*Server, error) {
	cache := constraint.NewInMemoryCache()
	eng, err := engine.New(store, cache, nil, logger.Logger)
	if err != nil {
		if db != nil {
			db.Close()
		}
		return nil, fmt.Errorf("create engine: %w", err)
	}

	s := &Server{
		db:     db,
		store:  store,
		cache:  cache,
		engine: eng,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.engine.Metrics().Handler())

	r.Post("/api/v1/evaluate", s.handleEvaluate)

	r.Route("/api/v1/constraints", func(r chi.Router) {
		r.Get("/", s.handleListConstraints)
		r.Post("/", s.handleCreateConstraint)

		r.Route("/{constraintId}", func(r chi.Router) {
			r.Get("/", s.handleGetConstraint)
			r.Put("/", s.handleUpdateConstraint)
			r.Delete("/", s.handleDeleteConstraint)
			r.Get("/history", s.handleConstraintHistory)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storage := "memory"
	if s.db != nil {
		storage = "postgres"
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, HealthResponse{Status: "healthy", Storage: storage})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Route == nil {
		respondError(w, http.StatusBadRequest, "route is required", nil)
		return
	}

	var report *constraint.EvaluationReport
	var err error
	if req.UseCache {
		report, err = s.engine.EvaluateRouteCached(r.Context(), req.Route, req.Shipment)
	} else {
		report, err = s.engine.EvaluateRoute(r.Context(), req.Route, req.Shipment)
	}
	if err != nil {
		respondError(w, storeErrorStatus(err), "evaluation failed", err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleCreateConstraint(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "read request body", err)
		return
	}

	// A body with a "text" field is a free-text definition; anything else
	// is a full constraint document.
	var probe struct {
		Text   string `json:"text"`
		Active *bool  `json:"active"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	var c constraint.Constraint
	if probe.Text != "" {
		var req FreeTextConstraintRequest
		if err := json.Unmarshal(body, &req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
		typ, expr, ok := constraint.ParseFreeText(req.Text, req.Params)
		if !ok {
			respondError(w, http.StatusBadRequest, "constraint text not recognized", nil)
			return
		}
		name := req.Name
		if name == "" {
			name = req.Text
		}
		c = constraint.Constraint{
			Name:        name,
			Description: req.Description,
			Type:        typ,
			Hard:        req.Hard,
			Priority:    req.Priority,
			Scope:       req.Scope,
			Params:      req.Params,
			Expression:  expr,
			Active:      true,
		}
	} else {
		if err := json.Unmarshal(body, &c); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
		// New constraints default to active unless explicitly disabled.
		if probe.Active == nil {
			c.Active = true
		}
	}
	if c.Scope.Kind == "" {
		c.Scope.Kind = constraint.ScopeGlobal
	}

	created, err := s.store.Create(r.Context(), &c)
	if err != nil {
		respondError(w, storeErrorStatus(err), "create constraint failed", err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListConstraints(w http.ResponseWriter, r *http.Request) {
	active, err := s.store.ListActive(r.Context())
	if err != nil {
		respondError(w, storeErrorStatus(err), "list constraints failed", err)
		return
	}
	if active == nil {
		active = []*constraint.Constraint{}
	}
	respondJSON(w, http.StatusOK, ConstraintsListResponse{Constraints: active})
}

func (s *Server) handleGetConstraint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "constraintId")
	c, err := s.store.Get(r.Context(), id)
	if err != nil {
		respondError(w, storeErrorStatus(err), "get constraint failed", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// handleConstraintHistory answers point-in-time reads: the version of the
// constraint that was recorded at or before as_of (RFC 3339). Without
// as_of it reads as of now, which includes deactivated constraints.
func (s *Server) handleConstraintHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "constraintId")

	at := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid as_of timestamp", err)
			return
		}
		at = parsed
	}

	c, err := s.store.GetAsOf(r.Context(), id, at)
	if err != nil {
		respondError(w, storeErrorStatus(err), "history lookup failed", err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateConstraint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "constraintId")

	var req UpdateConstraintRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	patch, err := req.Patch()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid expression", err)
		return
	}

	updated, err := s.store.Update(r.Context(), id, patch)
	if err != nil {
		respondError(w, storeErrorStatus(err), "update constraint failed", err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteConstraint(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "constraintId")
	if _, err := s.store.Deactivate(r.Context(), id); err != nil {
		respondError(w, storeErrorStatus(err), "deactivate constraint failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}

func storeErrorStatus(err error) int {
	switch {
	case errors.Is(err, constraint.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, constraint.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, constraint.ErrStoreUnavailable),
		errors.Is(err, constraint.ErrCacheUnavailable):
		return http.StatusServiceUnavailable
	case constraint.IsValidation(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func syncIntervalFromEnv() time.Duration {
	raw := strings.TrimSpace(os.Getenv("SYNC_INTERVAL"))
	if raw == "" {
		return engine.DefaultSyncInterval
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		logger.Warn("invalid SYNC_INTERVAL, using default",
			"value", raw, "default", engine.DefaultSyncInterval.String())
		return engine.DefaultSyncInterval
	}
	return d
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("could not load .env file", "error", err.Error())
	}

	server, err := NewServer(os.Getenv("DATABASE_URL"))
	if err != nil {
		logger.Fatal("failed to create server", "error", err.Error())
	}
	if server.db != nil {
		defer server.db.Close()
	}

	worker := engine.NewSyncWorker(server.store, server.cache, syncIntervalFromEnv(), server.engine.Metrics(), logger.Logger)
	syncHandle := worker.Start()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err.Error())
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err.Error())
	}

	// Stop the sync worker after HTTP traffic has drained so cached
	// evaluations in flight still see a consistent generation.
	syncHandle.Stop()

	logger.Info("server stopped")
}
