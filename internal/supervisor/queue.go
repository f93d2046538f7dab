package supervisor

import (
	"errors"
	"sync"
	"time"

	"github.com/chrissnell/drynomore/internal/metrics"
	"github.com/chrissnell/drynomore/internal/types"
)

const DefaultQueueSize = 64

// ErrQueueFull is returned by Push when the oldest alert had to be dropped to
// make room.
var ErrQueueFull = errors.New("alert queue full, oldest alert dropped")

// Queue is a bounded FIFO of alerts between the listener and the
// notification loop.
type Queue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []types.Alert
	size  int
}

// NewQueue returns a queue holding at most size alerts.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{size: size}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an alert. A full queue drops its oldest alert and Push
// returns ErrQueueFull; the new alert is queued either way.
func (q *Queue) Push(a types.Alert) error {
	q.mu.Lock()
	var err error
	if len(q.items) >= q.size {
		q.items = q.items[1:]
		metrics.QueueDropped.Inc()
		err = ErrQueueFull
	}
	q.items = append(q.items, a)
	metrics.QueueLength.Set(float64(len(q.items)))
	q.mu.Unlock()
	q.cond.Signal()
	return err
}

// PopTimeout removes the oldest alert, waiting up to d for one to arrive.
func (q *Queue) PopTimeout(d time.Duration) (types.Alert, bool) {
	deadline := time.Now().Add(d)
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer timer.Stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if !time.Now().Before(deadline) {
			return types.Alert{}, false
		}
		q.cond.Wait()
	}
	a := q.items[0]
	q.items = q.items[1:]
	metrics.QueueLength.Set(float64(len(q.items)))
	return a, true
}

// Len returns the number of queued alerts.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
