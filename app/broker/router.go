package broker

import (
	"context"
	"fmt"
)

// Binding attaches a handler to a queue.
type Binding struct {
	Queue   string
	Handler Handler
}

// Listener starts consuming a queue. *Server implements it.
type Listener interface {
	Listen(ctx context.Context, queue string, handler Handler) error
}

// AttachAll starts one listener per binding, in order. It stops at the first
// binding that fails to attach.
func AttachAll(ctx context.Context, listener Listener, bindings []Binding) error {
	for _, b := range bindings {
		if b.Queue == "" {
			return ErrEmptyQueue
		}
		if b.Handler == nil {
			return fmt.Errorf("queue %s: %w", b.Queue, ErrNilHandler)
		}
		if err := listener.Listen(ctx, b.Queue, b.Handler); err != nil {
			return fmt.Errorf("attach queue %s: %w", b.Queue, err)
		}
	}
	return nil
}
