package httpserver

import (
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/mselser95/updown-pairs/internal/assets"
	"github.com/mselser95/updown-pairs/internal/circuitbreaker"
)

// StatusHandler serves the live view of one measurement run.
type StatusHandler struct {
	runID     string
	startedAt time.Time
	managers  []*assets.Manager
	breaker   *circuitbreaker.WriteBreaker
	logger    *zap.Logger
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(runID string, startedAt time.Time, managers []*assets.Manager, breaker *circuitbreaker.WriteBreaker, logger *zap.Logger) *StatusHandler {
	return &StatusHandler{
		runID:     runID,
		startedAt: startedAt,
		managers:  managers,
		breaker:   breaker,
		logger:    logger,
	}
}

// StatusResponse is the /api/status payload.
type StatusResponse struct {
	RunID         string                 `json:"run_id"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	Assets        []assets.Status        `json:"assets"`
	Storage       *circuitbreaker.Status `json:"storage,omitempty"`
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HandleStatus handles GET /api/status requests.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := StatusResponse{
		RunID:         h.runID,
		UptimeSeconds: time.Since(h.startedAt).Seconds(),
		Assets:        make([]assets.Status, 0, len(h.managers)),
	}
	for _, m := range h.managers {
		resp.Assets = append(resp.Assets, m.Status())
	}
	if h.breaker != nil {
		status := h.breaker.GetStatus()
		resp.Storage = &status
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("status-encode-failed", zap.Error(err))
	}
}

func (h *StatusHandler) writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(ErrorResponse{Error: message}); err != nil {
		h.logger.Error("error-encode-failed", zap.Error(err))
	}
}
