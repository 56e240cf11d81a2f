package codec

import (
	"errors"
	"fmt"
)

// ErrDecode matches any *DecodeError.
var ErrDecode = errors.New("cannot decode payload")

// DecodeError reports a payload that a codec could not turn into an event.
// It never says anything about the transport the payload arrived on.
type DecodeError struct {
	Codec string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s codec: %v", e.Codec, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
