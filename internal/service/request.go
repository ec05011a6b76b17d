package service

import (
	"context"
	"sync"
)

// Request is the handle of one in-flight operation. Once Cancel returns,
// nothing more is published for it.
type Request struct {
	ID     string
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	cancelled bool
}

// Cancel aborts the call. If the outcome is being published right now,
// Cancel waits for that delivery to finish, so it must not be called from a
// handler receiving this request's own event.
func (r *Request) Cancel() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	r.cancel()
}

// Done is closed once the outcome has been published or dropped.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publish runs fn unless the request was cancelled, holding r.mu so a
// concurrent Cancel cannot slip in between the check and the delivery.
func (r *Request) publish(ctx context.Context, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled || ctx.Err() != nil {
		return false
	}
	fn()
	return true
}
