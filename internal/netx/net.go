// Package netx holds small network address helpers.
package netx

import (
	"context"
	"net"

	"google.golang.org/grpc/peer"
)

// HostOnly strips the port from addr. Addresses without a port are
// returned unchanged.
func HostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// PeerIP returns the remote IP of the gRPC caller in ctx, or "" when the
// transport did not record one.
func PeerIP(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return ""
	}
	return HostOnly(p.Addr.String())
}
