package input

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/nicwaller/gelftcp"
	"github.com/nicwaller/gelftcp/codec"
	"github.com/nicwaller/gelftcp/framing"
)

type ListenerState string

const (
	StateCreated      ListenerState = "created"
	StateListening    ListenerState = "listening"
	StateShuttingDown ListenerState = "shutting_down"
	StateStopped      ListenerState = "stopped"
)

const (
	DefaultRestartBackoff = 5 * time.Second
	DefaultDrainTimeout   = 5 * time.Second
)

type TcpListenerOptions struct {
	Host    string
	Port    int
	Framing gelftcp.FramingPlugin
	Codec   gelftcp.CodecPlugin
	Filters []gelftcp.NamedEntity[gelftcp.FilterPlugin]

	// RestartBackoff is how long to wait before accepting again after the
	// accept loop fails for a reason other than Stop().
	RestartBackoff time.Duration

	// DrainTimeout bounds how long Run waits for connection handlers after
	// shutdown has been signalled.
	DrainTimeout time.Duration

	// MaxConnections caps concurrent connections; zero means unlimited.
	// Connections over the cap are closed as soon as they are accepted.
	MaxConnections int

	// ReverseLookup resolves peer host names for source_host.
	ReverseLookup bool

	// PluginType is used for logging, eg. "input[gelf_tcp]"
	PluginType string
}

// TcpListener accepts TCP connections and runs one handler goroutine per
// connection. Each handler cuts its stream into frames, decodes them, runs
// the filters and hands the results to a Sender.
type TcpListener struct {
	opts TcpListenerOptions

	mu      sync.Mutex
	state   ListenerState
	ln      net.Listener
	conns   map[string]*connection
	active  sync.WaitGroup
	stopped chan struct{} // closed by Stop
	drained chan struct{} // closed once every handler has exited after Stop
}

func NewTcpListener(opts TcpListenerOptions) *TcpListener {
	opts.Host = gelftcp.CoalesceStr(opts.Host, "0.0.0.0")
	opts.PluginType = gelftcp.CoalesceStr(opts.PluginType, "input[tcp]")
	if opts.Framing == nil {
		opts.Framing = framing.Lines()
	}
	if opts.Codec == nil {
		opts.Codec = codec.Json()
	}
	if opts.RestartBackoff <= 0 {
		opts.RestartBackoff = DefaultRestartBackoff
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	return &TcpListener{
		opts:    opts,
		state:   StateCreated,
		conns:   make(map[string]*connection),
		stopped: make(chan struct{}),
		drained: make(chan struct{}),
	}
}

func (l *TcpListener) logger(ctx context.Context) *slog.Logger {
	return gelftcp.ContextLogger(ctx).With(
		"server.address", net.JoinHostPort(l.opts.Host, strconv.Itoa(l.opts.Port)),
	)
}

// Run binds, serves until ctx is cancelled, then stops and waits a bounded
// time for connection handlers to finish.
func (l *TcpListener) Run(ctx context.Context, sender gelftcp.Sender) error {
	ctx = context.WithValue(ctx, gelftcp.ContextKeyPluginType, l.opts.PluginType)
	log := l.logger(ctx)

	if err := l.Start(ctx); err != nil {
		return err
	}

	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.stopped:
		}
	}()

	// events already read when shutdown begins should still reach the sender
	err := l.Serve(context.WithoutCancel(ctx), sender)

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.opts.DrainTimeout)
	defer cancel()
	if waitErr := l.Wait(drainCtx); waitErr != nil {
		log.Warn("connection handlers still running after shutdown",
			"active", l.ActiveConnections(),
			"timeout", l.opts.DrainTimeout,
		)
	}
	return err
}

// Start opens the listening socket. Bind failures are returned as *BindError
// and are never retried.
func (l *TcpListener) Start(ctx context.Context) error {
	log := l.logger(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	switch l.state {
	case StateCreated:
	case StateListening:
		return fmt.Errorf("listener already started")
	default:
		return ErrListenerStopped
	}

	addr := net.JoinHostPort(l.opts.Host, strconv.Itoa(l.opts.Port))
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		bindErr := &BindError{Address: addr, Err: err}
		log.Error("could not start TCP server", "error", bindErr)
		return bindErr
	}

	l.ln = ln
	l.state = StateListening
	log.Info("starting tcp input listener", "listen.address", ln.Addr().String())
	return nil
}

// Serve accepts connections until Stop is called. If accepting fails for any
// other reason, the failure is logged and the whole accept loop starts over
// after RestartBackoff.
func (l *TcpListener) Serve(ctx context.Context, sender gelftcp.Sender) error {
	log := l.logger(ctx)

	l.mu.Lock()
	ln := l.ln
	l.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("listener has not been started")
	}

	for {
		err := l.acceptLoop(ctx, ln, sender)
		if err == nil {
			log.Debug("accept loop finished")
			return nil
		}
		log.Warn("tcp listener died", "error", err, "restartIn", l.opts.RestartBackoff)
		select {
		case <-time.After(l.opts.RestartBackoff):
		case <-l.stopped:
			return nil
		}
	}
}

// acceptLoop returns nil only when the listener is shutting down
func (l *TcpListener) acceptLoop(ctx context.Context, ln net.Listener, sender gelftcp.Sender) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.shuttingDown() {
				return nil
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		l.spawn(ctx, conn, sender)
	}
}

func (l *TcpListener) spawn(ctx context.Context, conn net.Conn, sender gelftcp.Sender) {
	c := newConnection(conn, l.opts.ReverseLookup)
	log := l.logger(ctx).With("client.address", c.peer, "connection.id", c.id)

	if reason := l.register(c); reason != "" {
		log.Warn("closing connection without reading", "reason", reason)
		c.close()
		return
	}

	log.Debug("accepted connection")
	go func() {
		defer l.unregister(c)
		c.serve(ctx, log, sender, l.opts.Framing.NewReader(c.conn), l.opts.Codec, l.opts.Filters)
	}()
}

// register returns a non-empty reason when the connection must be refused
func (l *TcpListener) register(c *connection) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateListening {
		return "listener is shutting down"
	}
	if l.opts.MaxConnections > 0 && len(l.conns) >= l.opts.MaxConnections {
		return fmt.Sprintf("too many connections (max %d)", l.opts.MaxConnections)
	}
	l.conns[c.id] = c
	l.active.Add(1)
	return ""
}

func (l *TcpListener) unregister(c *connection) {
	l.mu.Lock()
	delete(l.conns, c.id)
	l.mu.Unlock()
	l.active.Done()
}

func (l *TcpListener) shuttingDown() bool {
	select {
	case <-l.stopped:
		return true
	default:
		return false
	}
}

// Stop closes the listening socket and signals every active connection to
// close. It does not wait for handlers to exit; use Wait for that.
// Calling Stop more than once has no further effect.
func (l *TcpListener) Stop() {
	l.mu.Lock()
	if l.state == StateShuttingDown || l.state == StateStopped {
		l.mu.Unlock()
		return
	}
	neverStarted := l.state == StateCreated
	l.state = StateShuttingDown
	close(l.stopped)
	ln := l.ln
	// no connection can register after this point, so none can miss the signal
	active := make([]*connection, 0, len(l.conns))
	for _, c := range l.conns {
		active = append(active, c)
	}
	l.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	for _, c := range active {
		c.cancel()
	}

	if neverStarted {
		l.finish()
		return
	}
	go func() {
		l.active.Wait()
		l.finish()
	}()
}

func (l *TcpListener) finish() {
	l.mu.Lock()
	l.state = StateStopped
	l.mu.Unlock()
	close(l.drained)
}

// Wait blocks until Stop has been called and every connection handler has
// exited, or until ctx ends.
func (l *TcpListener) Wait(ctx context.Context) error {
	select {
	case <-l.drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Addr is the bound address, or nil before Start.
func (l *TcpListener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *TcpListener) State() ListenerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *TcpListener) ActiveConnections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}
