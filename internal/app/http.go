package app

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/callcoach/internal/failure"
	"github.com/MrWong99/callcoach/internal/health"
	"github.com/MrWong99/callcoach/internal/observe"
	"github.com/MrWong99/callcoach/internal/session"
)

// Handler returns the status server routes:
//
//	GET  /healthz               liveness
//	GET  /readyz                readiness of records, live and generate
//	GET  /metrics               Prometheus exposition
//	GET  /session               snapshot of the current session
//	POST /session/start?mode=   start a session (transcription by default)
//	POST /session/stop          stop the current session
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	health.New(a.Readiness()...).Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler())
	mux.HandleFunc("GET /session", a.handleSnapshot)
	mux.HandleFunc("POST /session/start", a.handleStart)
	mux.HandleFunc("POST /session/stop", a.handleStop)
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap, err := a.sessions.Snapshot()
	if errors.Is(err, ErrNoSession) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	mode := session.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = session.ModeTranscription
	}
	if !mode.Valid() {
		writeError(w, http.StatusBadRequest, "unknown mode "+string(mode))
		return
	}
	ctrl, err := a.sessions.Start(r.Context(), mode)
	switch {
	case errors.Is(err, ErrSessionActive):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		status := http.StatusInternalServerError
		switch failure.KindOf(err) {
		case failure.KindConfiguration:
			status = http.StatusServiceUnavailable
		case failure.KindPermission:
			status = http.StatusForbidden
		}
		writeError(w, status, failure.Message(err))
		return
	}
	writeJSON(w, http.StatusOK, ctrl.Snapshot())
}

func (a *App) handleStop(w http.ResponseWriter, _ *http.Request) {
	a.sessions.Stop()
	snap, err := a.sessions.Snapshot()
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("app: encode response", "err", err)
	}
}
