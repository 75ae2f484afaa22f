package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/relay/internal/domain"
)

// submitSignalRequest is the wire form of a signal submission. Durations
// come in as milliseconds.
type submitSignalRequest struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	SecurityType  string    `json:"security_type,omitempty"`
	Side          string    `json:"side"`
	TargetQty     float64   `json:"target_qty"`
	Confidence    float64   `json:"confidence"`
	Timestamp     time.Time `json:"timestamp"`
	ModelVersion  string    `json:"model_version"`
	Strategy      string    `json:"strategy"`
	Urgency       string    `json:"urgency,omitempty"`
	MaxExecTimeMs int64     `json:"max_exec_time_ms,omitempty"`

	ExpectedHoldingPeriodMs int64   `json:"expected_holding_period_ms,omitempty"`
	ExpectedReturn          float64 `json:"expected_return,omitempty"`
	RiskScore               float64 `json:"risk_score,omitempty"`
}

// handleSubmitSignal handles POST /api/signals.
func (s *Server) handleSubmitSignal(w http.ResponseWriter, r *http.Request) {
	var req submitSignalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	if req.ID == "" {
		s.writeError(w, http.StatusBadRequest, "signal id is required")
		return
	}
	if req.Symbol == "" {
		s.writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	side := domain.Side(req.Side)
	if !side.Valid() {
		s.writeError(w, http.StatusBadRequest, "unknown side: "+req.Side)
		return
	}

	secType := domain.SecurityType(req.SecurityType)
	if secType == "" {
		secType = domain.SecurityStock
	}
	urgency := domain.Urgency(req.Urgency)
	if urgency == "" {
		urgency = domain.UrgencyNormal
	}
	timestamp := req.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	sig := domain.Signal{
		ID:           req.ID,
		Instrument:   domain.Instrument{Symbol: req.Symbol, Type: secType},
		Side:         side,
		TargetQty:    req.TargetQty,
		Confidence:   req.Confidence,
		Timestamp:    timestamp,
		ModelVersion: req.ModelVersion,
		Strategy:     req.Strategy,
		Urgency:      urgency,
		MaxExecTime:  time.Duration(req.MaxExecTimeMs) * time.Millisecond,

		ExpectedHoldingPeriod: time.Duration(req.ExpectedHoldingPeriodMs) * time.Millisecond,
		ExpectedReturn:        req.ExpectedReturn,
		RiskScore:             req.RiskScore,
	}

	execID := s.engine.Submit(sig)
	s.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"execution_id": execID,
		"signal_id":    sig.ID,
		"status":       string(domain.ExecutionReceived),
	})
}

// handleListExecutions handles GET /api/executions. The optional state
// query parameter narrows the result to active or completed executions.
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("state") {
	case "active":
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"executions": s.engine.Active()})
	case "completed":
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"executions": s.engine.Completed()})
	case "":
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"active":    s.engine.Active(),
			"completed": s.engine.Completed(),
		})
	default:
		s.writeError(w, http.StatusBadRequest, "state must be active or completed")
	}
}

// handleGetExecution handles GET /api/executions/{id}.
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exec, ok := s.engine.Status(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "execution not found: "+id)
		return
	}
	s.writeJSON(w, http.StatusOK, exec)
}

// handleListOrders handles GET /api/orders.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	stats := s.book.Stats()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": s.book.ActiveOrders(),
		"stats":  stats,
	})
}

// handleListPositions handles GET /api/positions.
func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions": s.book.Positions(),
	})
}

// handleServiceHealth handles GET /api/services.
func (s *Server) handleServiceHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"services": s.runtime.Health(),
	})
}

// handleDashboard handles GET /api/monitor/dashboard. The refresh query
// parameter forces a rebuild instead of returning the cached snapshot.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		s.writeJSON(w, http.StatusOK, s.monitor.RefreshDashboard())
		return
	}
	s.writeJSON(w, http.StatusOK, s.monitor.Dashboard())
}

// handleListAlerts handles GET /api/monitor/alerts.
func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": s.monitor.Alerts(limit),
	})
}

// handleAcknowledgeAlerts handles POST /api/monitor/alerts/acknowledge.
func (s *Server) handleAcknowledgeAlerts(w http.ResponseWriter, r *http.Request) {
	n := s.monitor.AcknowledgeAlerts()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"acknowledged": n,
	})
}

// handleModelReport handles GET /api/models/{model}/report.
func (s *Server) handleModelReport(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	strategy := r.URL.Query().Get("strategy")

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = n
	}

	s.writeJSON(w, http.StatusOK, s.monitor.Report(model, strategy, days))
}

// handleAuditExecutions handles GET /api/audit/executions.
func (s *Server) handleAuditExecutions(w http.ResponseWriter, r *http.Request) {
	if s.trail == nil {
		s.writeError(w, http.StatusNotFound, "audit trail not enabled")
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	rows, err := s.trail.ExecutionRows(r.Context(), limit)
	if err != nil {
		s.log.Error().Err(err).Msg("Audit query failed")
		s.writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": rows,
	})
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "relay",
	}
	if s.broker != nil {
		response["broker_connected"] = s.broker.Connected()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
