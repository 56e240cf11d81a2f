package gelftcp

import (
	"context"
	"io"
)

type InputPlugin interface {
	Run(context.Context, Sender) error
}

type OutputPlugin interface {
	Run(context.Context, *Event) error
}

// FilterPlugin may modify the event in place, inject additional events,
// or call drop() to stop the event from going any further.
type FilterPlugin func(event *Event, inject chan<- *Event, drop func()) error

type CodecPlugin interface {
	Encode(Event) ([]byte, error)
	Decode([]byte) (Event, error)
}

type FramingPlugin interface {
	NewReader(io.Reader) FrameReader
}

// FrameReader cuts a byte stream into frames, one per call.
// It returns io.EOF only when the stream ends cleanly between frames.
type FrameReader interface {
	NextFrame() ([]byte, error)
}
