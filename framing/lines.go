package framing

import (
	"github.com/nicwaller/gelftcp"
)

//goland:noinspection GoUnusedExportedFunction
func Lines() gelftcp.FramingPlugin {
	return Delimited('\n', 0)
}

// Null splits on 0x00, as GELF over TCP does.
func Null() gelftcp.FramingPlugin {
	return Delimited(0x00, 0)
}
