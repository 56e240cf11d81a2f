package output

import (
	"context"
	"io"
	"os"
	"sync"

	"github.com/nicwaller/gelftcp"
	"github.com/nicwaller/gelftcp/codec"
)

// StdOut writes one encoded event per line.
func StdOut(opts StdoutOptions) gelftcp.OutputPlugin {
	if opts.Codec == nil {
		opts.Codec = codec.Kv()
	}
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}
	return &stdOut{opts: opts}
}

type stdOut struct {
	opts StdoutOptions
	mu   sync.Mutex
}

type StdoutOptions struct {
	Codec gelftcp.CodecPlugin

	// Writer defaults to os.Stdout
	Writer io.Writer
}

func (p *stdOut) Run(_ context.Context, event *gelftcp.Event) error {
	dat, err := p.opts.Codec.Encode(*event)
	if err != nil {
		return err
	}
	dat = append(dat, '\n')

	p.mu.Lock()
	defer p.mu.Unlock()
	_, err = p.opts.Writer.Write(dat)
	return err
}
