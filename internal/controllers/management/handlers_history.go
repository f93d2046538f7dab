package management

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/storage"
)

// intParam parses an optional non-negative integer query parameter
func intParam(r *http.Request, name string, max int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 || (max > 0 && n > max) {
		return 0, fmt.Errorf("%s must be an integer between 0 and %d", name, max)
	}
	return n, nil
}

func (h *Handlers) historyReader(w http.ResponseWriter, r *http.Request) storage.HistoryReader {
	hr := h.controller.deps.History
	if hr == nil {
		h.sendError(w, r, http.StatusServiceUnavailable, "No history storage configured", nil)
	}
	return hr
}

// GetHistory returns stored plant readings, newest first. plant=0 or no
// plant selects every plant.
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	hr := h.historyReader(w, r)
	if hr == nil {
		return
	}
	plant, err := intParam(r, "plant", protocol.MaxPlants)
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid plant", err)
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	readings, err := hr.PlantHistory(r.Context(), plant, limit)
	if err != nil {
		h.sendError(w, r, http.StatusInternalServerError, "Failed to query history", err)
		return
	}
	h.sendJSON(w, r, map[string]interface{}{
		"plant":    plant,
		"count":    len(readings),
		"readings": readings,
	})
}

// GetHistoryStats summarizes the stored readings per plant
func (h *Handlers) GetHistoryStats(w http.ResponseWriter, r *http.Request) {
	hr := h.historyReader(w, r)
	if hr == nil {
		return
	}
	plant, err := intParam(r, "plant", protocol.MaxPlants)
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid plant", err)
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if limit == 0 {
		limit = storage.MaxHistoryLimit
	}

	readings, err := hr.PlantHistory(r.Context(), plant, limit)
	if err != nil {
		h.sendError(w, r, http.StatusInternalServerError, "Failed to query history", err)
		return
	}
	h.sendJSON(w, r, map[string]interface{}{
		"plants": ComputeStats(readings),
	})
}

// GetAlerts returns stored alerts, newest first
func (h *Handlers) GetAlerts(w http.ResponseWriter, r *http.Request) {
	hr := h.historyReader(w, r)
	if hr == nil {
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	alerts, err := hr.Alerts(r.Context(), limit)
	if err != nil {
		h.sendError(w, r, http.StatusInternalServerError, "Failed to query alerts", err)
		return
	}
	h.sendJSON(w, r, map[string]interface{}{
		"count":  len(alerts),
		"alerts": alerts,
	})
}
