package input

import (
	"time"

	"github.com/nicwaller/gelftcp"
	"github.com/nicwaller/gelftcp/codec"
	"github.com/nicwaller/gelftcp/filter"
	"github.com/nicwaller/gelftcp/framing"
)

const DefaultGelfPort = 12201

type GelfTcpOptions struct {
	Host string
	Port int

	// Remap moves full_message or short_message into message.
	Remap bool

	// StripLeadingUnderscore renames _foo to foo.
	StripLeadingUnderscore bool

	// Filters run after remap and underscore stripping.
	Filters []gelftcp.NamedEntity[gelftcp.FilterPlugin]

	MaxConnections int
	// MaxFrameSize limits a single frame in bytes; zero means no limit.
	MaxFrameSize   int
	ReverseLookup  bool
	RestartBackoff time.Duration
	DrainTimeout   time.Duration
}

func DefaultGelfTcpOptions() GelfTcpOptions {
	return GelfTcpOptions{
		Host:                   "0.0.0.0",
		Port:                   DefaultGelfPort,
		Remap:                  true,
		StripLeadingUnderscore: true,
	}
}

// GelfTcp reads GELF messages over TCP, one JSON object per NUL-terminated
// frame, as sent by most GELF logging libraries.
//
// Test with: printf '{"short_message":"hi","_app":"demo"}\0' | nc localhost 12201
func GelfTcp(opts GelfTcpOptions) *TcpListener {
	var filters []gelftcp.NamedEntity[gelftcp.FilterPlugin]
	if opts.Remap {
		filters = append(filters, gelftcp.NamedEntity[gelftcp.FilterPlugin]{
			Name:  "gelf remap",
			Value: filter.Remap(),
		})
	}
	if opts.StripLeadingUnderscore {
		filters = append(filters, gelftcp.NamedEntity[gelftcp.FilterPlugin]{
			Name:  "strip leading underscore",
			Value: filter.StripLeadingUnderscore(),
		})
	}

	filters = append(filters, opts.Filters...)

	frames := framing.Null()
	if opts.MaxFrameSize > 0 {
		frames = framing.Delimited(0x00, opts.MaxFrameSize)
	}

	return NewTcpListener(TcpListenerOptions{
		Host:           opts.Host,
		Port:           opts.Port,
		Framing:        frames,
		Codec:          codec.Gelf(),
		Filters:        filters,
		RestartBackoff: opts.RestartBackoff,
		DrainTimeout:   opts.DrainTimeout,
		MaxConnections: opts.MaxConnections,
		ReverseLookup:  opts.ReverseLookup,
		PluginType:     "input[gelf_tcp]",
	})
}
