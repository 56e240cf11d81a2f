package input

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/nicwaller/gelftcp"
)

// connection is owned by exactly one handler goroutine.
// cancel() may be called from anywhere.
type connection struct {
	id            string
	peer          string
	reverseLookup bool
	conn          net.Conn

	cancelled atomic.Bool
	closeOnce sync.Once
}

func newConnection(conn net.Conn, reverseLookup bool) *connection {
	return &connection{
		id:            uuid.NewString(),
		peer:          PeerAddress(conn, false),
		reverseLookup: reverseLookup,
		conn:          conn,
	}
}

// cancel asks the handler to stop. Closing the socket unblocks a pending read.
func (c *connection) cancel() {
	c.cancelled.Store(true)
	c.close()
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}

// serve reads frames until the stream ends, fails, or is cancelled.
// A frame that cannot be decoded is skipped; it never ends the connection.
func (c *connection) serve(ctx context.Context, log *slog.Logger, sender gelftcp.Sender,
	frames gelftcp.FrameReader, decoder gelftcp.CodecPlugin,
	filters []gelftcp.NamedEntity[gelftcp.FilterPlugin]) {
	defer c.close()

	sourceHost := c.peer
	if c.reverseLookup {
		sourceHost = PeerAddress(c.conn, true)
	}

	for {
		frame, err := frames.NextFrame()
		if err != nil {
			switch {
			case c.cancelled.Load():
				log.Debug("connection closed by shutdown")
			case errors.Is(err, io.EOF):
				log.Debug("connection closed")
			default:
				log.Debug("an error occurred, closing connection", "error", err)
			}
			return
		}

		if log.Enabled(ctx, slog.LevelDebug) {
			log.Debug("got frame", "frame", string(frame))
		}

		evt, err := decoder.Decode(frame)
		if err != nil {
			log.Warn("could not decode frame, skipping", "error", err)
			continue
		}
		evt.Field("source_host").SetString(sourceHost)

		for _, out := range gelftcp.RunFilters(ctx, &evt, filters) {
			if err := sender.Send(ctx, out); err != nil {
				log.Warn("could not hand over event", "error", err)
				if errors.Is(err, gelftcp.ErrPipelineClosed) {
					return
				}
			}
		}
	}
}
