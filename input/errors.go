package input

import (
	"errors"
	"fmt"
	"syscall"
)

var (
	// ErrAddressInUse matches a *BindError caused by the port already being taken.
	ErrAddressInUse = errors.New("address already in use")

	ErrListenerStopped = errors.New("listener has been stopped")
)

// BindError is returned by Start when the listening socket cannot be opened.
type BindError struct {
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("cannot listen on %s: %v", e.Address, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

func (e *BindError) Is(target error) bool {
	return target == ErrAddressInUse && errors.Is(e.Err, syscall.EADDRINUSE)
}
