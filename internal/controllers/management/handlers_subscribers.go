package management

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/chrissnell/drynomore/internal/supervisor"
)

// GetSubscribers lists the users notifications are addressed to
func (h *Handlers) GetSubscribers(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, r, map[string]interface{}{
		"subscribers": h.controller.deps.Subscribers.List(),
	})
}

// Subscribe adds a whitelisted user to the notification recipients
func (h *Handlers) Subscribe(w http.ResponseWriter, r *http.Request) {
	var request struct {
		User int64 `json:"user"`
	}
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid JSON payload", err)
		return
	}

	err := h.controller.deps.Subscribers.Add(request.User)
	if errors.Is(err, supervisor.ErrNotWhitelisted) {
		h.sendError(w, r, http.StatusForbidden, "User is not whitelisted", err)
		return
	} else if err != nil {
		h.sendError(w, r, http.StatusInternalServerError, "Could not subscribe", err)
		return
	}
	h.sendJSONWithStatus(w, r, http.StatusCreated, map[string]interface{}{"user": request.User})
}

// Unsubscribe removes a user from the notification recipients
func (h *Handlers) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	user, err := strconv.ParseInt(mux.Vars(r)["user"], 10, 64)
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid user id", err)
		return
	}
	if !h.controller.deps.Subscribers.Remove(user) {
		h.sendError(w, r, http.StatusNotFound, "User is not subscribed", nil)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
