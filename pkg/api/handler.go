package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/shotread/internal/player"
	"github.com/psantana5/shotread/internal/report"
	"github.com/psantana5/shotread/internal/session"
	"github.com/psantana5/shotread/pkg/logging"
	"github.com/psantana5/shotread/pkg/models"
	"github.com/psantana5/shotread/pkg/tracing"
)

// Session is the orchestrator surface the API drives
type Session interface {
	StartSession(level models.Level) error
	SubmitAnswer(candidate string) (session.Outcome, error)
	Advance() error
	Restart() error
	Replay() error
	SelectItem(itemID string) error
	SetLevel(level models.Level)
	Leave() error
	Snapshot() session.Snapshot
	History() []session.AnswerRecord
	Result() models.SessionResult
	Catalog() models.Catalog
}

// PlayerStatus exposes the lifecycle manager's observable state
type PlayerStatus interface {
	Status() player.Status
	Events() []player.LifecycleEvent
}

// Handler serves the control API for one local session
type Handler struct {
	session Session
	player  PlayerStatus
	tracer  *tracing.Provider
	logger  *logging.Logger
}

// NewHandler creates a handler. tracer may be nil.
func NewHandler(s Session, p PlayerStatus, tracer *tracing.Provider, logger *logging.Logger) *Handler {
	return &Handler{
		session: s,
		player:  p,
		tracer:  tracer,
		logger:  logging.OrDefault(logger).WithField("component", "api"),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/session", h.GetSession).Methods("GET")
	r.HandleFunc("/session/history", h.GetHistory).Methods("GET")
	r.HandleFunc("/session/report", h.GetReport).Methods("GET")
	r.HandleFunc("/session/start", h.StartSession).Methods("POST")
	r.HandleFunc("/session/answer", h.SubmitAnswer).Methods("POST")
	r.HandleFunc("/session/advance", h.Advance).Methods("POST")
	r.HandleFunc("/session/restart", h.Restart).Methods("POST")
	r.HandleFunc("/session/replay", h.Replay).Methods("POST")
	r.HandleFunc("/session/select", h.SelectItem).Methods("POST")
	r.HandleFunc("/session/leave", h.Leave).Methods("POST")
	r.HandleFunc("/session/level", h.SetLevel).Methods("PUT")

	r.HandleFunc("/catalog", h.GetCatalog).Methods("GET")
	r.HandleFunc("/player", h.GetPlayer).Methods("GET")
	r.HandleFunc("/player/events", h.GetPlayerEvents).Methods("GET")
	r.HandleFunc("/health", h.Health).Methods("GET")
}

type startRequest struct {
	Level string `json:"level"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type selectRequest struct {
	ItemID string `json:"item_id"`
}

type levelRequest struct {
	Level string `json:"level"`
}

type answerResponse struct {
	Outcome  session.Outcome  `json:"outcome"`
	Snapshot session.Snapshot `json:"session"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decode(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

// statusFor maps session errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNoActiveSession), errors.Is(err, session.ErrInvalidPhase):
		return http.StatusConflict
	case errors.Is(err, session.ErrPlayerNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, session.ErrUnknownItem):
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) span(r *http.Request, name string) (context.Context, trace.Span) {
	if h.tracer == nil {
		return r.Context(), trace.SpanFromContext(context.Background())
	}
	snap := h.session.Snapshot()
	return h.tracer.StartSpan(r.Context(), "session."+name,
		attribute.String("session.id", snap.SessionID),
		attribute.String("session.phase", string(snap.Phase)),
	)
}

// command runs fn inside a span and answers with the resulting snapshot
func (h *Handler) command(w http.ResponseWriter, r *http.Request, name string, fn func() error) {
	ctx, span := h.span(r, name)
	defer span.End()

	if err := fn(); err != nil {
		tracing.SetError(ctx, err)
		h.logger.Debug("Session command rejected", logging.Fields{"command": name, "error": err})
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// GetSession returns the current snapshot
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.session.Snapshot())
}

// GetHistory returns every answer of the current session
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	history := h.session.History()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"answers": history,
		"count":   len(history),
	})
}

// GetReport summarises the current session
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	result := h.session.Result()
	if result.SessionID == "" {
		writeError(w, http.StatusConflict, session.ErrNoActiveSession.Error())
		return
	}
	writeJSON(w, http.StatusOK, report.Summarize(result))
}

// StartSession begins a new session at the requested level
func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	level := h.session.Snapshot().Level
	if req.Level != "" {
		parsed, err := models.ParseLevel(req.Level)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		level = parsed
	}
	h.command(w, r, "start", func() error { return h.session.StartSession(level) })
}

// SubmitAnswer scores an answer for the current item
func (h *Handler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decode(r, &req); err != nil || req.Answer == "" {
		writeError(w, http.StatusBadRequest, "answer is required")
		return
	}
	ctx, span := h.span(r, "answer")
	defer span.End()

	outcome, err := h.session.SubmitAnswer(req.Answer)
	resp := answerResponse{Outcome: outcome, Snapshot: h.session.Snapshot()}
	if err != nil {
		tracing.SetError(ctx, err)
		if errors.Is(err, session.ErrPlayerNotReady) {
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	tracing.AddEvent(ctx, "scored",
		attribute.Bool("correct", outcome.Correct),
		attribute.Bool("counted", outcome.Counted),
	)
	writeJSON(w, http.StatusOK, resp)
}

// Advance moves to the next item
func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "advance", h.session.Advance)
}

// Restart resets scoring and reshuffles
func (h *Handler) Restart(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "restart", h.session.Restart)
}

// Replay plays the current item again from its start
func (h *Handler) Replay(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "replay", h.session.Replay)
}

// SelectItem jumps to an item in the queue
func (h *Handler) SelectItem(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decode(r, &req); err != nil || req.ItemID == "" {
		writeError(w, http.StatusBadRequest, "item_id is required")
		return
	}
	h.command(w, r, "select", func() error { return h.session.SelectItem(req.ItemID) })
}

// Leave ends the session
func (h *Handler) Leave(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "leave", h.session.Leave)
}

// SetLevel changes the level
func (h *Handler) SetLevel(w http.ResponseWriter, r *http.Request) {
	var req levelRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	level, err := models.ParseLevel(req.Level)
	if err != nil || req.Level == "" {
		writeError(w, http.StatusBadRequest, "level must be standard or advanced")
		return
	}
	h.command(w, r, "level", func() error {
		h.session.SetLevel(level)
		return nil
	})
}

// GetCatalog lists the items and the answer vocabulary
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	items := h.session.Catalog()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items":   items,
		"count":   len(items),
		"answers": models.Answers,
	})
}

// GetPlayer returns the lifecycle manager status
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.player.Status())
}

// GetPlayerEvents returns the recent handle state changes
func (h *Handler) GetPlayerEvents(w http.ResponseWriter, r *http.Request) {
	events := h.player.Events()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// Health reports degraded while player initialization is stalled
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	st := h.player.Status()
	status := "healthy"
	code := http.StatusOK
	if st.Stalled {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":       status,
		"player_state": st.State,
		"player_ready": st.Ready,
		"phase":        h.session.Snapshot().Phase,
	})
}
