package queue

import (
	"context"
	"github.com/tsundata/vhm/pkg/vhm/event"
	"golang.org/x/xerrors"
	"sync"
)

var ErrClosed = xerrors.New("event queue closed")

// EventQueue is a consolidating FIFO shared by any number of producers and a
// single consumer.
type EventQueue struct {
	mu     sync.Mutex
	events []event.Notification
	closed bool
	// notify holds at most one pending wakeup for the consumer.
	notify chan struct{}
}

func New() *EventQueue {
	return &EventQueue{notify: make(chan struct{}, 1)}
}

// Push appends e. If e can clear the queue, every queued clearable event is
// dropped and the survivors are moved behind e.
func (q *EventQueue) Push(e event.Notification) {
	if e == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.push(e)
	q.wakeup()
}

// PushAll pushes events in order as one atomic step.
func (q *EventQueue) PushAll(events []event.Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	pushed := false
	for _, e := range events {
		if e == nil {
			continue
		}
		q.push(e)
		pushed = true
	}
	if pushed {
		q.wakeup()
	}
}

func (q *EventQueue) push(e event.Notification) {
	if !e.CanClearQueue() {
		q.events = append(q.events, e)
		return
	}
	var keep []event.Notification
	for _, queued := range q.events {
		if !queued.CanBeClearedFromQueue() {
			keep = append(keep, queued)
		}
	}
	events := make([]event.Notification, 0, len(keep)+1)
	events = append(events, e)
	q.events = append(events, keep...)
}

func (q *EventQueue) wakeup() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// DrainBlocking waits until at least one event is queued and then removes and
// returns all of them. Events queued before Close are still returned; after
// that it fails with ErrClosed.
func (q *EventQueue) DrainBlocking(ctx context.Context) ([]event.Notification, error) {
	for {
		q.mu.Lock()
		if len(q.events) > 0 {
			events := q.events
			q.events = nil
			q.mu.Unlock()
			return events, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return nil, ErrClosed
		}

		select {
		case <-q.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close discards further pushes and unblocks the consumer.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.wakeup()
}

func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
