package handlers

import (
	"net/http"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/config"
	"github.com/ekaya-inc/ekaya-ask/pkg/models"
)

// PingResponse contains service status, version and connection information.
type PingResponse struct {
	Status      string         `json:"status"`
	Version     string         `json:"version"`
	Service     string         `json:"service"`
	GoVersion   string         `json:"go_version"`
	Hostname    string         `json:"hostname"`
	Environment string         `json:"environment"`
	Connections int            `json:"connections"`
	ByStatus    map[string]int `json:"connections_by_status,omitempty"`
}

// ConnectionLister reports the registered connections.
type ConnectionLister interface {
	Connections() []models.ConnectionDescriptor
}

// HealthHandler serves liveness, readiness and ping endpoints.
type HealthHandler struct {
	cfg    *config.Config
	conns  ConnectionLister
	logger *zap.Logger
}

func NewHealthHandler(cfg *config.Config, conns ConnectionLister, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{cfg: cfg, conns: conns, logger: logger}
}

func (h *HealthHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	mux.HandleFunc("GET /ping", h.Ping)
}

// Health is a liveness probe.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports 503 when connections are registered and every one of them is
// in the error state. Some errored connections only degrade the status.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	byStatus, total := h.countConnections()
	status, code := "ready", http.StatusOK
	switch errored := byStatus[string(models.StatusError)]; {
	case total > 0 && errored == total:
		status, code = "unavailable", http.StatusServiceUnavailable
	case errored > 0:
		status = "degraded"
	}
	if err := WriteJSON(w, code, map[string]any{"status": status, "connections": byStatus}); err != nil {
		h.logger.Error("Failed to encode readiness response", zap.Error(err))
	}
}

// Ping returns service details including version and environment.
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	hostname, err := os.Hostname()
	if err != nil {
		http.Error(w, "failed to get hostname", http.StatusInternalServerError)
		return
	}

	byStatus, total := h.countConnections()
	response := PingResponse{
		Status:      "ok",
		Version:     h.cfg.Version,
		Service:     "ekaya-ask",
		GoVersion:   runtime.Version(),
		Hostname:    hostname,
		Environment: h.cfg.Env,
		Connections: total,
		ByStatus:    byStatus,
	}

	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to encode ping response", zap.Error(err))
	}
}

func (h *HealthHandler) countConnections() (map[string]int, int) {
	byStatus := make(map[string]int)
	if h.conns == nil {
		return byStatus, 0
	}
	conns := h.conns.Connections()
	for _, c := range conns {
		byStatus[string(c.Status)]++
	}
	return byStatus, len(conns)
}
