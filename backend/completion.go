package backend

import (
	"context"
	"sync"
)

// Completion resolves when submitted work finishes. It is the future
// returned by Queue.Submit.
type Completion struct {
	once sync.Once
	done chan struct{}

	mu       sync.Mutex
	resolved bool
	err      error
	after    []func(error)
}

// NewCompletion returns an unresolved Completion.
func NewCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Complete resolves c with err. Only the first call has an effect.
// Functions registered with AfterFunc run before Done is closed.
func (c *Completion) Complete(err error) {
	c.once.Do(func() {
		c.mu.Lock()
		c.err = err
		c.resolved = true
		after := c.after
		c.after = nil
		c.mu.Unlock()
		for _, fn := range after {
			fn(err)
		}
		close(c.done)
	})
}

// Done returns a channel that is closed when the work has finished.
func (c *Completion) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the work has finished and returns its error.
func (c *Completion) Wait() error {
	<-c.done
	return c.Err()
}

// WaitContext is Wait with cancellation. Cancelling ctx stops the wait,
// not the work.
func (c *Completion) WaitContext(ctx context.Context) error {
	select {
	case <-c.done:
		return c.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the completion error, or nil while the work is pending.
func (c *Completion) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// AfterFunc arranges for fn to be called with the result once c resolves.
// If c has already resolved, fn runs immediately on the calling goroutine.
// fn must not block.
func (c *Completion) AfterFunc(fn func(error)) {
	c.mu.Lock()
	if c.resolved {
		err := c.err
		c.mu.Unlock()
		fn(err)
		return
	}
	c.after = append(c.after, fn)
	c.mu.Unlock()
}
