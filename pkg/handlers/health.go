package handlers

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ontograph/pkg/config"
	"github.com/ekaya-inc/ontograph/pkg/services"
)

// probeTimeout bounds each dependency ping so a hung store cannot stall the
// health endpoint.
const probeTimeout = 2 * time.Second

// Pinger verifies connectivity to one external dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

type dependencyProbe struct {
	name string
	ping func(context.Context) error
}

// DependencyStatus reports one dependency's probe result: ok, unreachable,
// or disabled (cache only, when no backend is configured).
type DependencyStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthzResponse reports overall service health with per-dependency detail.
type HealthzResponse struct {
	Status       string                      `json:"status"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
}

// PingResponse contains service status and version information.
type PingResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Service     string `json:"service"`
	GoVersion   string `json:"go_version"`
	Hostname    string `json:"hostname"`
	Environment string `json:"environment"`
}

// HealthHandler handles liveness, version, and dependency health endpoints.
type HealthHandler struct {
	cfg         *config.Config
	database    Pinger
	cache       services.CacheService
	graphStore  Pinger
	vectorStore Pinger
	logger      *zap.Logger
}

// NewHealthHandler creates a new HealthHandler probing the given dependencies.
func NewHealthHandler(
	cfg *config.Config,
	database Pinger,
	cache services.CacheService,
	graphStore Pinger,
	vectorStore Pinger,
	logger *zap.Logger,
) *HealthHandler {
	return &HealthHandler{
		cfg:         cfg,
		database:    database,
		cache:       cache,
		graphStore:  graphStore,
		vectorStore: vectorStore,
		logger:      logger,
	}
}

// RegisterRoutes registers the health handler's routes on the given mux.
func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)
	mux.HandleFunc("/ping", h.Ping)
	mux.HandleFunc("GET /healthz", h.Healthz)
}

// Health handles GET /health requests.
// Returns a simple "ok" status for load balancer liveness checks.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ping handles GET /ping requests.
// Returns detailed service information including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ontograph",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}

// Healthz handles GET /healthz requests.
// Pings Postgres, the graph store, the vector store, and the cache in
// parallel with a short timeout. Any unreachable dependency degrades the
// overall status and the endpoint answers 503 so readiness checks fail. A
// disabled cache reports as disabled without degrading.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	dependencies := make(map[string]DependencyStatus, 4)

	probes := []dependencyProbe{
		{name: "postgres", ping: h.database.Ping},
		{name: "graph", ping: h.graphStore.Ping},
		{name: "vector", ping: h.vectorStore.Ping},
	}
	if h.cache.Enabled() {
		probes = append(probes, dependencyProbe{name: "cache", ping: h.cache.Ping})
	} else {
		dependencies["cache"] = DependencyStatus{Status: "disabled"}
	}

	statuses := make([]DependencyStatus, len(probes))
	var wg sync.WaitGroup
	for i, p := range probes {
		wg.Add(1)
		go func(i int, p dependencyProbe) {
			defer wg.Done()
			if err := p.ping(ctx); err != nil {
				statuses[i] = DependencyStatus{Status: "unreachable", Error: err.Error()}
				return
			}
			statuses[i] = DependencyStatus{Status: "ok"}
		}(i, p)
	}
	wg.Wait()

	overall := "ok"
	for i, p := range probes {
		dependencies[p.name] = statuses[i]
		if statuses[i].Status == "unreachable" {
			overall = "degraded"
		}
	}

	code := http.StatusOK
	if overall == "degraded" {
		code = http.StatusServiceUnavailable
	}

	if err := WriteJSON(w, code, HealthzResponse{
		Status:       overall,
		Dependencies: dependencies,
	}); err != nil {
		h.logger.Error("Failed to encode healthz response", zap.Error(err))
	}
}
