package management

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/chrissnell/drynomore/internal/constants"
	"github.com/chrissnell/drynomore/pkg/responseformat"
)

// Handlers contains the HTTP handlers for the management API
type Handlers struct {
	controller *Controller
	formatter  *responseformat.Formatter
}

// NewHandlers creates a new Handlers instance
func NewHandlers(ctrl *Controller) *Handlers {
	return &Handlers{
		controller: ctrl,
		formatter:  responseformat.NewFormatter(),
	}
}

// sendJSON sends a response in the negotiated format
func (h *Handlers) sendJSON(w http.ResponseWriter, r *http.Request, data interface{}) {
	h.sendJSONWithStatus(w, r, http.StatusOK, data)
}

// sendJSONWithStatus sends a response with a specific status code
func (h *Handlers) sendJSONWithStatus(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	if err := h.formatter.WriteResponse(w, r, statusCode, data); err != nil {
		h.controller.logger.Errorf("writing response to %s: %v", r.URL.Path, err)
	}
}

// sendError sends an error response
func (h *Handlers) sendError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    statusCode,
		"timestamp": time.Now().Unix(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
	}

	h.sendJSONWithStatus(w, r, statusCode, errorResponse)
}

// Login handles the login request and sets a session cookie
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Token string `json:"token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		h.sendError(w, r, http.StatusBadRequest, "Invalid JSON payload", err)
		return
	}

	if !h.controller.tokenValid(request.Token) {
		h.sendError(w, r, http.StatusUnauthorized, "Invalid token", nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    request.Token,
		Path:     "/",
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   86400,
	})
	h.sendJSON(w, r, map[string]interface{}{"success": true})
}

// Logout clears the session cookie
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
	h.sendJSON(w, r, map[string]interface{}{"success": true})
}

// Healthz reports whether the supervisor is up and every storage engine
// passed its last health check.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	var engines map[string]interface{}
	if hm := h.controller.deps.Health; hm != nil {
		engines = make(map[string]interface{})
		for name, hd := range hm.GetAllHealth() {
			engines[name] = hd
			if hd.Status != "healthy" {
				status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
	}

	h.sendJSONWithStatus(w, r, code, map[string]interface{}{
		"status":    status,
		"version":   constants.Version,
		"timestamp": time.Now().Unix(),
		"storage":   engines,
	})
}

// GetStorageHealthStatus returns the last health check of every engine
func (h *Handlers) GetStorageHealthStatus(w http.ResponseWriter, r *http.Request) {
	hm := h.controller.deps.Health
	if hm == nil {
		h.sendJSON(w, r, map[string]interface{}{})
		return
	}
	h.sendJSON(w, r, hm.GetAllHealth())
}
