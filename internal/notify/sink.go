// Package notify delivers node alerts and status reports to the configured
// notification sinks.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Kind tells sinks whether a notification carries an alert or a status table.
type Kind string

const (
	KindAlert  Kind = "alert"
	KindStatus Kind = "status"
)

// Notification is one message to deliver.
type Notification struct {
	Kind      Kind      `json:"kind"`
	Level     string    `json:"level,omitempty"`
	Node      string    `json:"node,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`

	// Recipients are the subscribed users at the time of sending.
	Recipients []int64 `json:"recipients,omitempty"`
}

// Sink delivers notifications to one destination.
type Sink interface {
	Name() string
	Notify(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the log.
type LogSink struct {
	Logger *zap.SugaredLogger
}

func (s LogSink) Name() string { return "log" }

func (s LogSink) Notify(_ context.Context, n Notification) error {
	switch n.Level {
	case "error", "failure":
		s.Logger.Errorw(n.Text, "kind", n.Kind, "node", n.Node, "recipients", n.Recipients)
	case "warn":
		s.Logger.Warnw(n.Text, "kind", n.Kind, "node", n.Node, "recipients", n.Recipients)
	default:
		s.Logger.Infow(n.Text, "kind", n.Kind, "node", n.Node, "recipients", n.Recipients)
	}
	return nil
}
