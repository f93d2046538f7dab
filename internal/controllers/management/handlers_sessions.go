package management

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/render"
	"github.com/chrissnell/drynomore/internal/session"
)

type sessionResponse struct {
	session.Session
	Table string `json:"table"`
}

func newSessionResponse(s session.Session) sessionResponse {
	return sessionResponse{Session: s, Table: render.SettingsTable(s.Settings)}
}

// sessionError maps session and settings errors to status codes
func (h *Handlers) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		h.sendError(w, r, http.StatusNotFound, "Unknown session", err)
	case errors.Is(err, session.ErrNoSettings):
		h.sendError(w, r, http.StatusConflict, "Settings are not yet synchronized, wait for the node to connect", err)
	case errors.Is(err, session.ErrStaleSnapshot):
		h.sendError(w, r, http.StatusConflict, "Settings changed since the session began; commit with force=true to overwrite", err)
	case errors.Is(err, session.ErrBadEdit):
		h.sendError(w, r, http.StatusBadRequest, "Invalid edit", err)
	case errors.Is(err, protocol.ErrInvalid):
		h.sendError(w, r, http.StatusUnprocessableEntity, "Edited settings are invalid", err)
	default:
		h.sendError(w, r, http.StatusInternalServerError, "Session operation failed", err)
	}
}

// BeginSession snapshots the settings for a whitelisted user
func (h *Handlers) BeginSession(w http.ResponseWriter, r *http.Request) {
	var request struct {
		User int64 `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid JSON payload", err)
		return
	}
	if !h.controller.deps.Subscribers.Allowed(request.User) {
		h.sendError(w, r, http.StatusForbidden, "User is not whitelisted", nil)
		return
	}

	s, err := h.controller.deps.Sessions.Begin()
	if err != nil {
		h.sessionError(w, r, err)
		return
	}
	h.controller.logger.Infof("user %d opened settings session %s", request.User, s.ID)
	h.sendJSONWithStatus(w, r, http.StatusCreated, newSessionResponse(s))
}

// GetSession returns a session's pending settings
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.controller.deps.Sessions.Get(mux.Vars(r)["id"])
	if err != nil {
		h.sessionError(w, r, err)
		return
	}
	h.sendJSON(w, r, newSessionResponse(s))
}

// ApplyEdits applies a batch of edits; either all of them or none take effect
func (h *Handlers) ApplyEdits(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Edits []session.Edit `json:"edits"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid JSON payload", err)
		return
	}
	if len(request.Edits) == 0 {
		h.sendError(w, r, http.StatusBadRequest, "No edits given", nil)
		return
	}

	s, err := h.controller.deps.Sessions.Apply(mux.Vars(r)["id"], request.Edits...)
	if err != nil {
		h.sessionError(w, r, err)
		return
	}
	h.sendJSON(w, r, newSessionResponse(s))
}

// CommitSession replaces the supervisor settings with the session's
func (h *Handlers) CommitSession(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		var err error
		if force, err = strconv.ParseBool(v); err != nil {
			h.sendError(w, r, http.StatusBadRequest, "Invalid force parameter", err)
			return
		}
	}

	rev, err := h.controller.deps.Sessions.Commit(mux.Vars(r)["id"], force)
	if err != nil {
		h.sessionError(w, r, err)
		return
	}
	h.sendJSON(w, r, map[string]interface{}{
		"committed": true,
		"revision":  rev,
	})
}

// AbortSession discards a session
func (h *Handlers) AbortSession(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.deps.Sessions.Abort(mux.Vars(r)["id"]); err != nil {
		h.sessionError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
