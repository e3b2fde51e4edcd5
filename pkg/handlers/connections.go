package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

// ListConnectionsResponse wraps the array for frontend compatibility.
type ListConnectionsResponse struct {
	Connections []models.ConnectionDescriptor `json:"connections"`
}

// ReconnectRequest optionally carries replacement credentials.
type ReconnectRequest struct {
	Credentials *models.Credentials `json:"credentials,omitempty"`
}

// ConnectionsHandler manages connections and their schemas.
type ConnectionsHandler struct {
	engine services.QueryEngine
	logger *zap.Logger
}

// NewConnectionsHandler creates a new ConnectionsHandler.
func NewConnectionsHandler(engine services.QueryEngine, logger *zap.Logger) *ConnectionsHandler {
	return &ConnectionsHandler{engine: engine, logger: logger.Named("connections-handler")}
}

// RegisterRoutes registers the connection routes on the given mux.
func (h *ConnectionsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/adapters", h.ListAdapters)
	mux.HandleFunc("GET /api/connections", h.List)
	mux.HandleFunc("POST /api/connections", h.Connect)
	mux.HandleFunc("POST /api/connections/test", h.Test)
	mux.HandleFunc("GET /api/connections/{id}", h.Get)
	mux.HandleFunc("DELETE /api/connections/{id}", h.Disconnect)
	mux.HandleFunc("POST /api/connections/{id}/reconnect", h.Reconnect)
	mux.HandleFunc("GET /api/connections/{id}/schema", h.Schema)
}

// ListAdapters handles GET /api/adapters
func (h *ConnectionsHandler) ListAdapters(w http.ResponseWriter, r *http.Request) {
	response := ApiResponse{Success: true, Data: h.engine.AdapterTypes()}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// List handles GET /api/connections
func (h *ConnectionsHandler) List(w http.ResponseWriter, r *http.Request) {
	response := ApiResponse{Success: true, Data: ListConnectionsResponse{Connections: h.engine.Connections()}}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func decodeDescriptor(w http.ResponseWriter, r *http.Request, logger *zap.Logger) (models.ConnectionDescriptor, bool) {
	var desc models.ConnectionDescriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		writeBadRequest(w, "invalid_request", "Invalid request body", logger)
		return desc, false
	}
	if desc.Type == "" {
		writeBadRequest(w, "missing_type", "Connection type is required", logger)
		return desc, false
	}
	return desc, true
}

// Connect handles POST /api/connections
// Connects a descriptor and returns the registered (redacted) connection.
func (h *ConnectionsHandler) Connect(w http.ResponseWriter, r *http.Request) {
	desc, ok := decodeDescriptor(w, r, h.logger)
	if !ok {
		return
	}

	id, err := h.engine.Connect(r.Context(), desc)
	if err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	registered, err := h.engine.Connection(id)
	if err != nil {
		writeEngineError(w, err, h.logger)
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: registered}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Test handles POST /api/connections/test
// Checks a descriptor can connect without registering it.
func (h *ConnectionsHandler) Test(w http.ResponseWriter, r *http.Request) {
	desc, ok := decodeDescriptor(w, r, h.logger)
	if !ok {
		return
	}

	response := ApiResponse{Success: true, Message: "Connection successful"}
	if err := h.engine.Test(r.Context(), desc); err != nil {
		_, code := errorStatus(err)
		response = ApiResponse{Success: false, Error: code, Message: err.Error()}
	}
	if err := WriteJSON(w, http.StatusOK, response); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/connections/{id}
func (h *ConnectionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	desc, err := h.engine.Connection(r.PathValue("id"))
	if err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: desc}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Disconnect handles DELETE /api/connections/{id}
func (h *ConnectionsHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Disconnect(r.Context(), r.PathValue("id")); err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Reconnect handles POST /api/connections/{id}/reconnect
// An empty body reuses the stored credentials.
func (h *ConnectionsHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	var req ReconnectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid_request", "Invalid request body", h.logger)
			return
		}
	}
	id := r.PathValue("id")
	if err := h.engine.Reconnect(r.Context(), id, req.Credentials); err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	desc, err := h.engine.Connection(id)
	if err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: desc}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Schema handles GET /api/connections/{id}/schema?refresh=true
func (h *ConnectionsHandler) Schema(w http.ResponseWriter, r *http.Request) {
	refresh := false
	if v := r.URL.Query().Get("refresh"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "invalid_refresh", "refresh must be true or false", h.logger)
			return
		}
		refresh = parsed
	}

	schema, err := h.engine.GetSchema(r.Context(), r.PathValue("id"), refresh)
	if err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: schema}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
