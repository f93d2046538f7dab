// Package management serves the supervisor's HTTP API: current status and
// settings, configuration sessions, subscribers, history and metrics.
package management

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/log"
	"github.com/chrissnell/drynomore/internal/session"
	"github.com/chrissnell/drynomore/internal/storage"
	"github.com/chrissnell/drynomore/internal/supervisor"
	"github.com/chrissnell/drynomore/pkg/config"
)

const sessionCookie = "dnm_session"

// Deps are the supervisor components the API exposes.
type Deps struct {
	Store       *supervisor.Store
	Queue       *supervisor.Queue
	Sessions    *session.Manager
	Subscribers *supervisor.Subscribers

	// History and Health may be nil when no storage engine is configured.
	History storage.HistoryReader
	Health  *storage.HealthManager
}

// Controller represents the management API controller
type Controller struct {
	ctx              context.Context
	wg               *sync.WaitGroup
	managementConfig config.ManagementAPIData
	Server           http.Server
	logger           *zap.SugaredLogger
	handlers         *Handlers
	deps             Deps
}

// NewController creates a new management API controller
func NewController(ctx context.Context, wg *sync.WaitGroup, mc config.ManagementAPIData, deps Deps, logger *zap.SugaredLogger) (*Controller, error) {
	if deps.Store == nil || deps.Sessions == nil || deps.Subscribers == nil {
		return nil, fmt.Errorf("management API needs a store, a session manager and a subscriber registry")
	}

	ctrl := &Controller{
		ctx:              ctx,
		wg:               wg,
		managementConfig: mc,
		logger:           logger,
		deps:             deps,
	}

	// Set default values
	if ctrl.managementConfig.Port == 0 {
		logger.Info("management API port not specified; defaulting to 8081")
		ctrl.managementConfig.Port = config.DefaultManagementPort
	}

	if ctrl.managementConfig.ListenAddr == "" {
		logger.Info("management API listen_addr not provided; defaulting to 127.0.0.1 (localhost only)")
		ctrl.managementConfig.ListenAddr = "127.0.0.1"
	}

	if ctrl.managementConfig.AuthToken == "" {
		ctrl.managementConfig.AuthToken = generateAuthToken()
		logger.Warnf("no management token configured; generated %s for this run only, set 'token' to keep one",
			ctrl.managementConfig.AuthToken)
	}

	ctrl.handlers = NewHandlers(ctrl)

	ctrl.Server.Addr = fmt.Sprintf("%v:%v", ctrl.managementConfig.ListenAddr, ctrl.managementConfig.Port)
	ctrl.Server.Handler = ctrl.Router()
	ctrl.Server.ReadHeaderTimeout = 10 * time.Second

	return ctrl, nil
}

// StartController starts the management API server
func (c *Controller) StartController() error {
	log.Info("Starting management API controller...")
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		c.logger.Infof("Management API server starting on %s", c.Server.Addr)

		var err error
		if c.managementConfig.Cert != "" && c.managementConfig.Key != "" {
			c.logger.Info("Starting management API server with TLS")
			err = c.Server.ListenAndServeTLS(c.managementConfig.Cert, c.managementConfig.Key)
		} else {
			c.logger.Info("Starting management API server without TLS")
			err = c.Server.ListenAndServe()
		}

		if err != http.ErrServerClosed {
			log.Errorf("Management API server error: %v", err)
		}
	}()

	go func() {
		<-c.ctx.Done()
		log.Info("Shutting down the management API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.Server.Shutdown(shutdownCtx)
	}()

	return nil
}

// Router builds the HTTP router with all endpoints
func (c *Controller) Router() *mux.Router {
	router := mux.NewRouter()

	router.Use(c.loggingMiddleware)
	if c.managementConfig.EnableCORS {
		router.Use(c.corsMiddleware)
	}

	// Unauthenticated probes and login
	router.HandleFunc("/healthz", c.handlers.Healthz).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/login", c.handlers.Login).Methods("POST")
	router.HandleFunc("/logout", c.handlers.Logout).Methods("POST")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(c.authMiddleware)

	api.HandleFunc("/status", c.handlers.GetStatus).Methods("GET")
	api.HandleFunc("/status/table", c.handlers.GetStatusTable).Methods("GET")
	api.HandleFunc("/settings", c.handlers.GetSettings).Methods("GET")
	api.HandleFunc("/settings/table", c.handlers.GetSettingsTable).Methods("GET")

	api.HandleFunc("/sessions", c.handlers.BeginSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", c.handlers.GetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}/edits", c.handlers.ApplyEdits).Methods("POST")
	api.HandleFunc("/sessions/{id}/commit", c.handlers.CommitSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", c.handlers.AbortSession).Methods("DELETE")

	api.HandleFunc("/subscribers", c.handlers.GetSubscribers).Methods("GET")
	api.HandleFunc("/subscribers", c.handlers.Subscribe).Methods("POST")
	api.HandleFunc("/subscribers/{user}", c.handlers.Unsubscribe).Methods("DELETE")

	api.HandleFunc("/history", c.handlers.GetHistory).Methods("GET")
	api.HandleFunc("/history/stats", c.handlers.GetHistoryStats).Methods("GET")
	api.HandleFunc("/alerts", c.handlers.GetAlerts).Methods("GET")

	api.HandleFunc("/health/storage", c.handlers.GetStorageHealthStatus).Methods("GET")

	return router
}

// loggingMiddleware logs all requests except for the probes
func (c *Controller) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		if r.URL.Path != "/healthz" && r.URL.Path != "/metrics" {
			c.logger.Infof("%s %s %s %v", r.Method, r.RequestURI, r.RemoteAddr, time.Since(start))
		}
	})
}

// corsMiddleware adds CORS headers
func (c *Controller) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// authMiddleware validates the bearer token or session cookie
func (c *Controller) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c.tokenValid(bearerToken(r)) {
			next.ServeHTTP(w, r)
			return
		}
		if cookie, err := r.Cookie(sessionCookie); err == nil && c.tokenValid(cookie.Value) {
			next.ServeHTTP(w, r)
			return
		}

		c.logger.Debugf("Auth failed for %s - no valid token or cookie", r.URL.Path)
		c.handlers.sendError(w, r, http.StatusUnauthorized, "Authentication required", nil)
	})
}

func (c *Controller) tokenValid(token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(c.managementConfig.AuthToken)) == 1
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}
