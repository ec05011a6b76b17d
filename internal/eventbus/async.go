package eventbus

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

const DefaultQueueSize = 256

type queued struct {
	ctx   context.Context
	event Event
}

// AsyncHandler runs a slow handler on its own goroutine. Handle only
// enqueues, so Publish never waits on it; when the queue is full the event
// is dropped and logged.
type AsyncHandler struct {
	name    string
	handler Handler
	logger  logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	queue  chan queued
	done   chan struct{}
}

func NewAsyncHandler(name string, handler Handler, size int, logger logrus.FieldLogger) *AsyncHandler {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	a := &AsyncHandler{
		name:    name,
		handler: handler,
		logger:  logger.WithField("worker", name),
		queue:   make(chan queued, size),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *AsyncHandler) run() {
	defer close(a.done)
	for item := range a.queue {
		a.handle(item)
	}
}

func (a *AsyncHandler) handle(item queued) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithField("event", eventName(item.event)).Errorf("Async handler panicked: %v", r)
		}
	}()
	a.handler(item.ctx, item.event)
}

// Handle is the Handler to subscribe. The publisher's context is detached
// from cancellation, since publishers often cancel right after Publish.
func (a *AsyncHandler) Handle(ctx context.Context, event Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return
	}
	select {
	case a.queue <- queued{ctx: context.WithoutCancel(ctx), event: event}:
	default:
		a.logger.WithField("event", eventName(event)).Warn("Worker queue full, dropping event")
	}
}

// Close stops accepting events and waits for the queued ones to finish.
func (a *AsyncHandler) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
}
