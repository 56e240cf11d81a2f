package input

import (
	"context"
	"net"
	"strings"
	"time"
)

const reverseLookupTimeout = 2 * time.Second

// PeerAddress is the remote IP of a connection. With reverseLookup it
// resolves a host name instead, falling back to the IP when that fails.
func PeerAddress(conn net.Conn, reverseLookup bool) string {
	remote := conn.RemoteAddr()
	if remote == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(remote.String())
	if err != nil {
		host = remote.String()
	}
	if !reverseLookup {
		return host
	}

	ctx, cancel := context.WithTimeout(context.Background(), reverseLookupTimeout)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(ctx, host)
	if err != nil || len(names) == 0 {
		return host
	}
	return strings.TrimSuffix(names[0], ".")
}
