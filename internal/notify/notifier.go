package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chrissnell/drynomore/internal/metrics"
	"github.com/chrissnell/drynomore/internal/protocol"
	"github.com/chrissnell/drynomore/internal/render"
	"github.com/chrissnell/drynomore/internal/supervisor"
	"github.com/chrissnell/drynomore/internal/types"
)

const DefaultPollInterval = time.Second

// Prefix returns the text put in front of an alert of the given tag.
func Prefix(tag protocol.Tag) string {
	switch tag {
	case protocol.TagInfo:
		return "INFO: "
	case protocol.TagWarn:
		return "WARNING: "
	case protocol.TagError:
		return "ERROR: "
	case protocol.TagFailure:
		return "FAILURE: "
	}
	return ""
}

// AlertNotification formats a queued alert.
func AlertNotification(a types.Alert) Notification {
	return Notification{
		Kind:      KindAlert,
		Level:     a.Level(),
		Node:      a.Node,
		Timestamp: a.Timestamp,
		Text:      Prefix(a.Tag) + a.Text,
	}
}

// Recipients lists the users a notification is addressed to.
type Recipients interface {
	List() []int64
}

// Notifier drains the alert queue and publishes new status reports.
type Notifier struct {
	queue      *supervisor.Queue
	store      *supervisor.Store
	sinks      []Sink
	recipients Recipients
	poll       time.Duration
	log        *zap.SugaredLogger
}

func NewNotifier(queue *supervisor.Queue, store *supervisor.Store, sinks []Sink, poll time.Duration, logger *zap.SugaredLogger) *Notifier {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Notifier{queue: queue, store: store, sinks: sinks, poll: poll, log: logger}
}

// SetRecipients addresses every following notification to r.
func (n *Notifier) SetRecipients(r Recipients) {
	n.recipients = r
}

// Run loops until ctx is cancelled. The caller registers it with wg.
func (n *Notifier) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	n.log.Infof("notification loop started with %d sink(s)", len(n.sinks))
	for ctx.Err() == nil {
		n.Step(ctx)
	}
	n.log.Info("cancellation request received, stopping notification loop")
}

// Step delivers at most one alert, waiting up to the poll interval for it,
// then publishes the stored status report if it has not been published.
func (n *Notifier) Step(ctx context.Context) {
	if a, ok := n.queue.PopTimeout(n.poll); ok {
		n.send(ctx, AlertNotification(a))
	}

	if st, at, ok := n.store.TakeUnpublished(); ok {
		n.send(ctx, Notification{
			Kind:      KindStatus,
			Level:     "info",
			Timestamp: at,
			Text:      render.StatusTable(st, at, time.Now()),
		})
	}
}

func (n *Notifier) send(ctx context.Context, msg Notification) {
	if n.recipients != nil {
		msg.Recipients = n.recipients.List()
	}
	for _, s := range n.sinks {
		if err := s.Notify(ctx, msg); err != nil {
			metrics.Notifications.WithLabelValues(s.Name(), "error").Inc()
			n.log.Errorf("delivering %v notification via %v: %v", msg.Kind, s.Name(), err)
			continue
		}
		metrics.Notifications.WithLabelValues(s.Name(), "ok").Inc()
	}
}
