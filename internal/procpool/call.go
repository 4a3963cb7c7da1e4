package procpool

import (
	"context"
	"sync"
)

// Call is a pending or completed process pool call.
type Call struct {
	ID     string
	Method string

	payload []byte
	once    sync.Once
	done    chan struct{}
	result  []byte
	err     error
}

func newCall(id, method string) *Call {
	return &Call{ID: id, Method: method, done: make(chan struct{})}
}

func (c *Call) complete(result []byte, err error) {
	c.once.Do(func() {
		c.result = result
		c.err = err
		close(c.done)
	})
}

// Done is closed when the call completes.
func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call completes or ctx is done and returns the raw JSON result.
func (c *Call) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-c.done:
		return c.result, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
