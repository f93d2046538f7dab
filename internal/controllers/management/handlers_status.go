package management

import (
	"net/http"
	"time"

	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/render"
)

type statusResponse struct {
	Status       protocol.Status `json:"status"`
	ReportedAt   time.Time       `json:"reported_at"`
	Unpublished  bool            `json:"unpublished"`
	QueuedAlerts int             `json:"queued_alerts"`
}

type settingsResponse struct {
	Settings protocol.Settings `json:"settings"`
	Revision uint64            `json:"revision"`
}

// GetStatus returns the last stored status report
func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	deps := h.controller.deps
	st, at, ok := deps.Store.LastStatus()
	if !ok {
		h.sendError(w, r, http.StatusNotFound, "No status reported yet", nil)
		return
	}

	resp := statusResponse{
		Status:      st,
		ReportedAt:  at,
		Unpublished: deps.Store.Unpublished(),
	}
	if deps.Queue != nil {
		resp.QueuedAlerts = deps.Queue.Len()
	}
	h.sendJSON(w, r, resp)
}

// GetStatusTable returns the last status report rendered as text
func (h *Handlers) GetStatusTable(w http.ResponseWriter, r *http.Request) {
	st, at, ok := h.controller.deps.Store.LastStatus()
	if !ok {
		h.sendError(w, r, http.StatusNotFound, "No status reported yet", nil)
		return
	}
	h.formatter.WriteText(w, http.StatusOK, render.StatusTable(st, at, time.Now()))
}

// GetSettings returns the mirrored node settings
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	set, rev, ok := h.controller.deps.Store.Settings()
	if !ok {
		h.sendError(w, r, http.StatusNotFound, "Settings are not yet synchronized", nil)
		return
	}
	h.sendJSON(w, r, settingsResponse{Settings: set, Revision: rev})
}

// GetSettingsTable returns the mirrored settings rendered as text
func (h *Handlers) GetSettingsTable(w http.ResponseWriter, r *http.Request) {
	set, _, ok := h.controller.deps.Store.Settings()
	if !ok {
		h.sendError(w, r, http.StatusNotFound, "Settings are not yet synchronized", nil)
		return
	}
	h.formatter.WriteText(w, http.StatusOK, render.SettingsTable(set))
}
