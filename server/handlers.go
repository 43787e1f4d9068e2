// Package server exposes the HTTP API: ticket and battle-assist submission,
// room policy administration, health, status, and metrics.
package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/onnwee/battery-gate/backend/admission"
	"github.com/onnwee/battery-gate/backend/agent"
	"github.com/onnwee/battery-gate/backend/policy"
	"github.com/onnwee/battery-gate/backend/telemetry"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctrl        *admission.Controller
	agent       *agent.Client
	db          *sql.DB
	battleToken string
	startedAt   time.Time
}

// NewHandlers creates a new Handlers instance with the given dependencies.
// db may be nil in tests; only the health endpoints touch it.
func NewHandlers(ctrl *admission.Controller, ag *agent.Client, db *sql.DB, battleToken string) *Handlers {
	return &Handlers{ctrl: ctrl, agent: ag, db: db, battleToken: battleToken, startedAt: time.Now()}
}

type planJSON struct {
	Kind     string   `json:"kind"`
	Account  string   `json:"account,omitempty"`
	Accounts []string `json:"accounts,omitempty"`
	Quantity int      `json:"quantity"`
	Total    int      `json:"total,omitempty"`
}

func encodePlan(p *admission.Plan) planJSON {
	out := planJSON{Quantity: p.Quantity}
	if p.Kind == admission.PlanFanOut {
		out.Kind = "fanout"
		out.Total = p.Total
		for _, a := range p.Accounts {
			out.Accounts = append(out.Accounts, string(a))
		}
	} else {
		out.Kind = "single"
		out.Account = string(p.Account)
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDecision encodes an admission decision, dispatches approved plans, and
// relays denial messages. Dispatch happens here, after the admission lock has
// been released.
func (h *Handlers) writeDecision(w http.ResponseWriter, r *http.Request, roomID string, d admission.Decision) {
	ctx := r.Context()
	if d.Approved {
		if err := h.agent.Dispatch(ctx, roomID, d.Plan); err != nil {
			// The reservation is already committed; report the dispatch failure
			// but keep the decision response shape.
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"status": "dispatch_failed",
				"plan":   encodePlan(d.Plan),
				"error":  err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "plan": encodePlan(d.Plan)})
		return
	}

	h.agent.Notify(ctx, roomID, d)
	status := http.StatusTooManyRequests
	if d.Reason == admission.ReasonInvalidChallenge {
		status = http.StatusForbidden
	}
	writeJSON(w, status, map[string]any{
		"status":       "denied",
		"reason":       string(d.Reason),
		"hourly_used":  d.HourlyUsed,
		"hourly_limit": d.HourlyLimit,
		"daily_used":   d.DailyUsed,
		"daily_limit":  d.DailyLimit,
	})
}

func (h *Handlers) admissionError(w http.ResponseWriter, err error) {
	var perr *policy.PersistenceError
	if errors.As(err, &perr) {
		http.Error(w, "room policy unavailable", http.StatusInternalServerError)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// HandleTicket accepts a command-triggered dispatch request:
// POST /ticket {"room_id": "...", "danmaku": "..."}.
func (h *Handlers) HandleTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		RoomID  string `json:"room_id"`
		Danmaku string `json:"danmaku"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" || req.Danmaku == "" {
		http.Error(w, "invalid request, missing 'room_id' or 'danmaku'", http.StatusBadRequest)
		return
	}
	d, err := h.ctrl.SubmitCommand(r.Context(), req.Danmaku, req.RoomID)
	if err != nil {
		h.admissionError(w, err)
		return
	}
	h.writeDecision(w, r, req.RoomID, d)
}

// HandleBattleAssist accepts the trusted battle-assist trigger:
// POST /battle-assist {"room_id": "...", "token": "..."}. The shared token
// gates the transport; it is not caller identity.
func (h *Handlers) HandleBattleAssist(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		RoomID string `json:"room_id"`
		Token  string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" {
		http.Error(w, "invalid request, missing 'room_id'", http.StatusBadRequest)
		return
	}
	if h.battleToken == "" || req.Token != h.battleToken {
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}
	d, err := h.ctrl.SubmitBattleAssist(r.Context(), req.RoomID)
	if err != nil {
		h.admissionError(w, err)
		return
	}
	h.writeDecision(w, r, req.RoomID, d)
}

// HandleRooms dispatches /rooms/{id}/enhanced and /rooms/{id}/usage.
func (h *Handlers) HandleRooms(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/rooms/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	roomID := parts[0]
	switch parts[1] {
	case "enhanced":
		h.handleEnhancedMode(w, r, roomID)
	case "usage":
		h.handleUsage(w, r, roomID)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handlers) handleEnhancedMode(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := h.ctrl.SetEnhancedMode(r.Context(), roomID, req.Enabled); err != nil {
		h.admissionError(w, err)
		return
	}
	slog.Info("enhanced mode updated", slog.String("room_id", roomID), slog.Bool("enabled", req.Enabled))
	writeJSON(w, http.StatusOK, map[string]any{"room_id": roomID, "enhanced_mode": req.Enabled})
}

func (h *Handlers) handleUsage(w http.ResponseWriter, r *http.Request, roomID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	hourlyUsed, maxHourly, dailyUsed, maxDaily, err := h.ctrl.Usage(r.Context(), roomID)
	if err != nil {
		h.admissionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room_id":      roomID,
		"hourly_used":  hourlyUsed,
		"hourly_limit": maxHourly,
		"daily_used":   dailyUsed,
		"daily_limit":  maxDaily,
	})
}

// HandleHealthz responds to liveness probe requests by checking database connectivity.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz responds to readiness probe requests.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if h.db != nil {
		if err := h.db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "failed_check": "database"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus reports basic process information.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	telemetry.LoggerWithCorr(r.Context()).Debug("status requested", slog.String("component", "http"))
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":   int(time.Since(h.startedAt).Seconds()),
		"dispatch_enabled": h.agent.Enabled(),
	})
}
