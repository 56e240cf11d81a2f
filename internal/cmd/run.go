package cmd

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/nicwaller/gelftcp"
	"github.com/nicwaller/gelftcp/input"
	"github.com/nicwaller/gelftcp/internal/status"
	"github.com/nicwaller/gelftcp/output"
	"golang.org/x/sync/errgroup"
)

func setupLogging(w io.Writer, cfg Config) error {
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

// run blocks until ctx is cancelled or the listener cannot start
func run(ctx context.Context, cfg Config, stdout io.Writer) error {
	enc, err := codecByName(cfg.Codec)
	if err != nil {
		return err
	}

	opts, err := cfg.GelfTcpOptions()
	if err != nil {
		return err
	}
	listener := input.GelfTcp(opts)

	pipeline := gelftcp.NewPipeline("gelftcp", gelftcp.PipelineOptions{})
	pipeline.Input("gelf_tcp", listener)
	pipeline.Output("stdout", output.StdOut(output.StdoutOptions{
		Codec:  enc,
		Writer: stdout,
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pipeline.Run(gctx)
	})
	if cfg.StatusAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		srv := status.New(cfg.StatusAddr, listener)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	return g.Wait()
}
