// Package app wires the supervisor: node listener, alert queue, history
// storage, notifications, configuration sessions and the management API.
package app

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/controllers/management"
	"github.com/chrissnell/drynomore/internal/log"
	"github.com/chrissnell/drynomore/internal/managers"
	"github.com/chrissnell/drynomore/internal/notify"
	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/session"
	"github.com/chrissnell/drynomore/internal/supervisor"
	"github.com/chrissnell/drynomore/pkg/config"
)

const (
	sessionMaxAge        = time.Hour
	sessionExpirySpec    = "@every 5m"
	listenerRestartDelay = 5 * time.Second
)

// App represents the supervisor application
type App struct {
	configProvider config.ConfigProvider
	logger         *zap.SugaredLogger

	config   *config.ConfigData
	store    *supervisor.Store
	queue    *supervisor.Queue
	subs     *supervisor.Subscribers
	sessions *session.Manager
	listener *supervisor.Listener
	cron     *cron.Cron

	persistMu     sync.Mutex
	savedRevision uint64
	savedSubs     []int64
	saved         bool
}

// New creates a new application instance
func New(configProvider config.ConfigProvider, logger *zap.SugaredLogger) *App {
	return &App{
		configProvider: configProvider,
		logger:         logger,
	}
}

// Start loads the configuration and starts every component. They stop when
// ctx is cancelled; wg tracks them.
func (a *App) Start(ctx context.Context, wg *sync.WaitGroup) error {
	cfg, err := a.configProvider.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading configuration: %w", err)
	}
	a.config = cfg

	a.store = supervisor.NewStore()
	if cfg.Settings != nil {
		a.store.SetSettings(*cfg.Settings)
		a.logger.Info("restored last known settings from configuration")
	}
	_, a.savedRevision, _ = a.store.Settings()
	a.savedSubs = slices.Clone(cfg.UserChats)
	slices.Sort(a.savedSubs)
	a.saved = true

	a.queue = supervisor.NewQueue(cfg.QueueSize)
	a.subs = supervisor.NewSubscribers(cfg.UserWhitelist, cfg.UserChats)
	a.sessions = session.NewManager(a.store, a.logger.Named("session"))

	// Initialize the storage manager
	storageManager, err := managers.NewStorageManager(ctx, wg, cfg.Storage)
	if err != nil {
		return err
	}

	a.listener = supervisor.NewListener(supervisor.ListenerConfig{
		Addr: net.JoinHostPort(cfg.ListenAddr, strconv.Itoa(cfg.TCPPort)),
	}, a.store, a.queue, storageManager.GetEventDistributor(), a.logger.Named("listener"))
	wg.Add(1)
	go a.runListener(ctx, wg)

	sinks, err := managers.NewNotificationSinks(ctx, cfg, a.logger)
	if err != nil {
		// notifications still reach the log sink
		a.logger.Errorf("notification sinks: %v", err)
	}
	notifier := notify.NewNotifier(a.queue, a.store, sinks, notify.DefaultPollInterval, a.logger.Named("notifier"))
	notifier.SetRecipients(a.subs)
	wg.Add(1)
	go notifier.Run(ctx, wg)

	cm, err := managers.NewControllerManager(ctx, wg, cfg, management.Deps{
		Store:       a.store,
		Queue:       a.queue,
		Sessions:    a.sessions,
		Subscribers: a.subs,
		History:     storageManager.History,
		Health:      storageManager.Health,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := cm.StartControllers(); err != nil {
		return err
	}

	a.cron = cron.New()
	if _, err := a.cron.AddFunc(cfg.PersistSchedule, func() {
		if err := a.Persist(); err != nil {
			a.logger.Errorf("persisting state: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("scheduling state persistence: %w", err)
	}
	if _, err := a.cron.AddFunc(sessionExpirySpec, func() {
		if n := a.sessions.Expire(sessionMaxAge); n > 0 {
			a.logger.Infof("expired %d abandoned configuration session(s)", n)
		}
	}); err != nil {
		return fmt.Errorf("scheduling session expiry: %w", err)
	}
	a.cron.Start()

	return nil
}

// runListener serves nodes until ctx is cancelled. A failing listener, for
// instance one whose port is still taken, is restarted after a delay.
func (a *App) runListener(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		err := a.listener.ListenAndServe(ctx)
		if ctx.Err() != nil {
			return
		}
		a.logger.Errorf("node listener stopped: %v; restarting in %v", err, listenerRestartDelay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(listenerRestartDelay):
		}
	}
}

// Run starts the application and blocks until shutdown
func (a *App) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.Start(ctx, &wg); err != nil {
		cancel()
		wg.Wait()
		return err
	}

	log.Info("Application started successfully")
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.logger.Debugf("sd_notify: %v", err)
	}

	// Set up signal handling
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	// Wait for shutdown signal
	select {
	case <-sigs:
		log.Info("shutdown signal received, initiating graceful shutdown...")
	case <-ctx.Done():
		log.Info("context cancelled, shutting down...")
	}
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	return a.Shutdown(cancel, &wg)
}

// Shutdown stops the components started by Start and writes the final state.
func (a *App) Shutdown(cancel context.CancelFunc, wg *sync.WaitGroup) error {
	if a.cron != nil {
		<-a.cron.Stop().Done()
	}

	// Cancel context to signal all goroutines to stop
	cancel()

	// Wait for all workers to terminate
	log.Info("waiting for all workers to terminate...")
	wg.Wait()

	if err := a.Persist(); err != nil {
		return fmt.Errorf("persisting state on shutdown: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

// Persist writes the mirrored settings and the subscribers back to the
// configuration source when either changed since the last write.
func (a *App) Persist() error {
	a.persistMu.Lock()
	defer a.persistMu.Unlock()

	if a.store == nil || a.configProvider.IsReadOnly() {
		return nil
	}

	set, rev, ok := a.store.Settings()
	subs := a.subs.List()
	if a.saved && rev == a.savedRevision && slices.Equal(subs, a.savedSubs) {
		return nil
	}

	var p *protocol.Settings
	if ok {
		p = &set
	}
	if err := a.configProvider.SaveState(p, subs); err != nil {
		return err
	}
	a.savedRevision, a.savedSubs, a.saved = rev, subs, true
	a.logger.Infow("state persisted", "revision", rev, "subscribers", len(subs))
	return nil
}

// Store exposes the supervisor store once Start succeeded.
func (a *App) Store() *supervisor.Store {
	return a.store
}

// Subscribers exposes the subscriber registry once Start succeeded.
func (a *App) Subscribers() *supervisor.Subscribers {
	return a.subs
}

// ListenerAddr returns the node listener's bound address, nil until it is
// listening.
func (a *App) ListenerAddr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}
