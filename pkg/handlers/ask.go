package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-ask/pkg/models"
	"github.com/ekaya-inc/ekaya-ask/pkg/services"
)

// AskRequest is the body of POST /api/connections/{id}/ask.
type AskRequest struct {
	Question       string   `json:"question"`
	TimeoutMs      int      `json:"timeoutMs,omitempty"`
	ResultLimit    int      `json:"resultLimit,omitempty"`
	RecentEntities []string `json:"recentEntities,omitempty"`
}

func (r AskRequest) options() services.AskOptions {
	return services.AskOptions{TimeoutMs: r.TimeoutMs, ResultLimit: r.ResultLimit, RecentEntities: r.RecentEntities}
}

// ExecuteRequest is the body of POST /api/connections/{id}/execute.
type ExecuteRequest struct {
	Query       *models.NativeQuery `json:"query"`
	TimeoutMs   int                 `json:"timeoutMs,omitempty"`
	ResultLimit int                 `json:"resultLimit,omitempty"`
}

// ExplainResponse is the body returned by POST /api/explain.
type ExplainResponse struct {
	Explanation string `json:"explanation"`
}

// AskHandler answers questions and re-runs native queries. Both return the
// result envelope with status 200; failures are described by its error field.
type AskHandler struct {
	engine services.QueryEngine
	logger *zap.Logger
}

// NewAskHandler creates a new AskHandler.
func NewAskHandler(engine services.QueryEngine, logger *zap.Logger) *AskHandler {
	return &AskHandler{engine: engine, logger: logger.Named("ask-handler")}
}

// RegisterRoutes registers the ask routes on the given mux.
func (h *AskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/connections/{id}/ask", h.Ask)
	mux.HandleFunc("POST /api/connections/{id}/execute", h.Execute)
	mux.HandleFunc("POST /api/explain", h.Explain)
}

// Ask handles POST /api/connections/{id}/ask
func (h *AskHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid_request", "Invalid request body", h.logger)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeBadRequest(w, "missing_question", "Question is required", h.logger)
		return
	}

	env := h.engine.Ask(r.Context(), r.PathValue("id"), req.Question, req.options())
	if err := WriteJSON(w, http.StatusOK, env); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Execute handles POST /api/connections/{id}/execute
// Re-runs a native query, usually one edited from an earlier envelope.
func (h *AskHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid_request", "Invalid request body", h.logger)
		return
	}
	if req.Query == nil {
		writeBadRequest(w, "missing_query", "Query is required", h.logger)
		return
	}

	opts := services.AskOptions{TimeoutMs: req.TimeoutMs, ResultLimit: req.ResultLimit}
	env := h.engine.Execute(r.Context(), r.PathValue("id"), req.Query, opts)
	if err := WriteJSON(w, http.StatusOK, env); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Explain handles POST /api/explain
// The body is a result envelope as returned by ask or execute.
func (h *AskHandler) Explain(w http.ResponseWriter, r *http.Request) {
	var env models.ResultEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeBadRequest(w, "invalid_request", "Invalid request body", h.logger)
		return
	}

	text, err := h.engine.Explain(r.Context(), &env)
	if err != nil {
		writeEngineError(w, err, h.logger)
		return
	}
	if err := WriteJSON(w, http.StatusOK, ExplainResponse{Explanation: text}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
