package framing

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/nicwaller/gelftcp"
)

var (
	// ErrTruncatedFrame means the stream ended partway through a frame.
	ErrTruncatedFrame = fmt.Errorf("truncated frame: %w", io.ErrUnexpectedEOF)

	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
)

const readBufferSize = 64 * 1024

// Delimited cuts a stream into frames separated by a single delimiter byte.
// The delimiter is not part of the frame. A positive maxFrameSize rejects
// any frame longer than that many bytes; zero means no limit.
func Delimited(delim byte, maxFrameSize int) gelftcp.FramingPlugin {
	return &delimited{
		delim:        delim,
		maxFrameSize: maxFrameSize,
	}
}

type delimited struct {
	delim        byte
	maxFrameSize int
}

func (p *delimited) NewReader(r io.Reader) gelftcp.FrameReader {
	return &delimitedReader{
		delim:        p.delim,
		maxFrameSize: p.maxFrameSize,
		buf:          bufio.NewReaderSize(r, readBufferSize),
	}
}

type delimitedReader struct {
	delim        byte
	maxFrameSize int
	buf          *bufio.Reader
}

// NextFrame returns the bytes before the next delimiter. Anything read past
// the delimiter stays buffered for the following call.
func (r *delimitedReader) NextFrame() ([]byte, error) {
	var frame []byte
	for {
		chunk, err := r.buf.ReadSlice(r.delim)
		// chunk aliases the bufio buffer; copy it out before reading again
		frame = append(frame, chunk...)

		if r.maxFrameSize > 0 {
			payloadLen := len(frame)
			if err == nil {
				payloadLen--
			}
			if payloadLen > r.maxFrameSize {
				return nil, fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, r.maxFrameSize)
			}
		}

		switch {
		case err == nil:
			return frame[:len(frame)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(frame) == 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w after %d bytes", ErrTruncatedFrame, len(frame))
		default:
			return nil, err
		}
	}
}
