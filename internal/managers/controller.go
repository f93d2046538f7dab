package managers

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/controllers/management"
	"github.com/chrissnell/drynomore/internal/notify"
	"github.com/chrissnell/drynomore/pkg/config"
)

// ControllerManager interface for the controller manager
type ControllerManager interface {
	StartControllers() error
}

// Controller is an interface that provides standard methods for the
// operator-facing frontends
type Controller interface {
	StartController() error
}

// NewControllerManager creates a new controller manager
func NewControllerManager(ctx context.Context, wg *sync.WaitGroup, c *config.ConfigData, deps management.Deps, logger *zap.SugaredLogger) (ControllerManager, error) {
	cm := &controllerManager{
		ctx:         ctx,
		wg:          wg,
		config:      c,
		logger:      logger,
		controllers: make([]Controller, 0),
	}

	mc, err := management.NewController(ctx, wg, c.Management, deps, logger.Named("management"))
	if err != nil {
		return nil, fmt.Errorf("error creating management controller: %v", err)
	}
	cm.controllers = append(cm.controllers, mc)

	return cm, nil
}

type controllerManager struct {
	ctx         context.Context
	wg          *sync.WaitGroup
	config      *config.ConfigData
	logger      *zap.SugaredLogger
	controllers []Controller
}

func (c *controllerManager) StartControllers() error {
	c.logger.Info("Starting controller manager...")

	for _, controller := range c.controllers {
		err := controller.StartController()
		if err != nil {
			return fmt.Errorf("error starting controller: %v", err)
		}
	}

	c.logger.Infof("Started %d controllers successfully", len(c.controllers))
	return nil
}

// NewNotificationSinks builds the configured notification sinks. The log
// sink is always present.
func NewNotificationSinks(ctx context.Context, c *config.ConfigData, logger *zap.SugaredLogger) ([]notify.Sink, error) {
	sinks := []notify.Sink{notify.LogSink{Logger: logger.Named("notify")}}

	if c.MQTT != nil && c.MQTT.Broker != "" {
		pub, err := notify.ConnectMQTT(ctx, notify.MQTTConfig{
			Broker:      c.MQTT.Broker,
			TopicPrefix: c.MQTT.TopicPrefix,
			ClientID:    c.MQTT.ClientID,
			Username:    c.MQTT.Username,
			Password:    c.MQTT.Password,
		}, logger.Named("mqtt"))
		if err != nil {
			return sinks, fmt.Errorf("could not add MQTT notification sink: %w", err)
		}
		sinks = append(sinks, notify.NewMQTTSink(pub, c.MQTT.TopicPrefix, logger.Named("mqtt")))
	}

	return sinks, nil
}
