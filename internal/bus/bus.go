// Package bus provides a typed command bus.
//
// Each command type has exactly one handler. Emit runs the handler on the
// task pool so the emitter, typically the UI thread, never blocks on it.
package bus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/solsol/solsol/internal/logger"
	"github.com/solsol/solsol/internal/workers"
)

var (
	ErrNoHandler         = errors.New("no handler registered for command")
	ErrAlreadyRegistered = errors.New("command handler already registered")
	ErrClosed            = errors.New("command bus is closed")
)

// Executor runs handlers. *workers.WorkerPool satisfies it.
type Executor interface {
	SubmitWithContext(ctx context.Context, job workers.Job, done func(error)) error
}

type handlerFunc func(ctx context.Context, cmd any) error

// CommandBus routes commands to their handlers.
type CommandBus struct {
	mu       sync.RWMutex
	handlers map[reflect.Type]handlerFunc
	executor Executor
	logger   *logger.Logger
	closed   bool
}

// New creates a command bus that runs handlers on executor.
func New(executor Executor, log *logger.Logger) *CommandBus {
	if log == nil {
		log = logger.Nop()
	}
	return &CommandBus{
		handlers: make(map[reflect.Type]handlerFunc),
		executor: executor,
		logger:   log.With(logger.Field{Key: "component", Value: "bus"}),
	}
}

// Register binds h to commands of type C.
func Register[C any](b *CommandBus, h func(ctx context.Context, cmd C) error) error {
	t := reflect.TypeFor[C]()

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.handlers[t]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, t)
	}
	b.handlers[t] = func(ctx context.Context, cmd any) error {
		return h(ctx, cmd.(C))
	}
	b.logger.Debug("command handler registered", logger.Field{Key: "command", Value: t.String()})
	return nil
}

// Emit runs the handler for cmd in the background. Handler errors are logged.
func (b *CommandBus) Emit(cmd any) error {
	return b.emit(context.Background(), cmd, nil)
}

// EmitWait runs the handler for cmd and waits for its result.
func (b *CommandBus) EmitWait(ctx context.Context, cmd any) error {
	result := make(chan error, 1)
	if err := b.emit(ctx, cmd, func(err error) { result <- err }); err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *CommandBus) emit(ctx context.Context, cmd any, done func(error)) error {
	h, name, err := b.lookup(cmd)
	if err != nil {
		return err
	}

	b.logger.Debug("command emitted", logger.Field{Key: "command", Value: name})

	return b.executor.SubmitWithContext(ctx, func(ctx context.Context) error {
		if err := h(ctx, cmd); err != nil {
			return fmt.Errorf("command %s: %w", name, err)
		}
		return nil
	}, done)
}

func (b *CommandBus) lookup(cmd any) (handlerFunc, string, error) {
	if cmd == nil {
		return nil, "", fmt.Errorf("%w: nil", ErrNoHandler)
	}
	t := reflect.TypeOf(cmd)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, t.String(), ErrClosed
	}
	h, ok := b.handlers[t]
	if !ok {
		return nil, t.String(), fmt.Errorf("%w: %s", ErrNoHandler, t)
	}
	return h, t.String(), nil
}

// Handles reports whether a handler is registered for the type of cmd.
func (b *CommandBus) Handles(cmd any) bool {
	_, _, err := b.lookup(cmd)
	return err == nil
}

// Close rejects further commands. Handlers already running finish normally.
func (b *CommandBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}
