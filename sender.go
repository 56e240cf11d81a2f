package gelftcp

import (
	"context"
)

// Sender is where inputs hand over finished events. Implementations must be
// safe for concurrent use by any number of goroutines.
type Sender interface {
	Send(context.Context, *Event) error
}

// ChanSender enqueues events onto a channel. Send blocks while the channel
// is full, until the context ends.
type ChanSender chan<- *Event

func (ch ChanSender) Send(ctx context.Context, evt *Event) error {
	select {
	case ch <- evt:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
