package status

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nicwaller/gelftcp/input"
)

const shutdownTimeout = 5 * time.Second

// Source is what the status endpoint reports on. *input.TcpListener is one.
type Source interface {
	State() input.ListenerState
	ActiveConnections() int
	Addr() net.Addr
}

type Response struct {
	State             input.ListenerState `json:"state"`
	ActiveConnections int                 `json:"activeConnections"`
	Address           string              `json:"address,omitempty"`
}

type Server struct {
	addr   string
	source Source
	router *gin.Engine
}

func New(addr string, source Source) *Server {
	r := gin.New()
	_ = r.SetTrustedProxies(nil)
	r.Use(slogMiddleware(slog.LevelDebug, slog.Default().With("pluginType", "status")), gin.Recovery())

	s := &Server{addr: addr, source: source, router: r}
	r.GET("/status", s.status)
	r.GET("/healthz", s.healthz)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) status(c *gin.Context) {
	resp := Response{
		State:             s.source.State(),
		ActiveConnections: s.source.ActiveConnections(),
	}
	if addr := s.source.Addr(); addr != nil {
		resp.Address = addr.String()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) healthz(c *gin.Context) {
	if state := s.source.State(); state != input.StateListening {
		c.String(http.StatusServiceUnavailable, string(state))
		return
	}
	c.String(http.StatusOK, "ok")
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	served := make(chan error, 1)
	go func() {
		slog.Info("starting status endpoint", "listen.address", s.addr)
		served <- srv.ListenAndServe()
	}()

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
