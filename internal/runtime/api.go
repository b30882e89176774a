package runtime

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/loqalabs/loqa-dictate/internal/session"
)

type sessionStatus struct {
	State     string `json:"state"`
	Committed string `json:"committed"`
}

func (r *Runtime) registerSessionAPI(mux *http.ServeMux) {
	mux.HandleFunc("/v1/session", r.handleSessionStatus)
	mux.HandleFunc("/v1/session/start", r.handleSessionStart)
	mux.HandleFunc("/v1/session/stop", r.handleSessionStop)
	mux.HandleFunc("/v1/session/cancel", r.handleSessionCancel)
	mux.HandleFunc("/v1/sessions", r.handleSessionHistory)
}

func (r *Runtime) handleSessionStatus(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.writeStatus(w, http.StatusOK)
}

func (r *Runtime) handleSessionStart(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.controller.Start(req.Context()); err != nil {
		switch {
		case errors.Is(err, session.ErrNoModel):
			http.Error(w, err.Error(), http.StatusPreconditionFailed)
		case errors.Is(err, session.ErrSessionActive):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	r.writeStatus(w, http.StatusOK)
}

func (r *Runtime) handleSessionStop(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.controller.Stop(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	r.writeStatus(w, http.StatusOK)
}

func (r *Runtime) handleSessionCancel(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.controller.Cancel(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	r.writeStatus(w, http.StatusOK)
}

func (r *Runtime) handleSessionHistory(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 20
	if raw := req.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	records, err := r.journal.ListRecent(req.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(records); err != nil {
		r.logger.Warn("failed to encode session history", slog.String("error", err.Error()))
	}
}

func (r *Runtime) writeStatus(w http.ResponseWriter, code int) {
	status := sessionStatus{
		State:     string(r.controller.State()),
		Committed: r.controller.Committed(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		r.logger.Warn("failed to encode session status", slog.String("error", err.Error()))
	}
}
