// Package transport owns the client-facing sockets. It moves raw datagrams
// between the network and a PacketHandler and knows nothing about DNS.
package transport

import (
	"context"
	"net/netip"
)

// ServerTransport is a listener that feeds datagrams to a PacketHandler.
type ServerTransport interface {
	// Start binds the socket and begins serving in the background. A bind
	// failure is returned directly.
	Start(ctx context.Context, handler PacketHandler) error

	// Stop closes the socket. In-flight handlers finish on their own.
	Stop() error

	// Address returns the bound address, or the configured one before Start.
	Address() string
}

// PacketHandler turns one request datagram into a reply. A nil reply means
// nothing is sent back.
type PacketHandler interface {
	HandlePacket(ctx context.Context, data []byte, client netip.AddrPort) []byte
}

// PacketHandlerFunc adapts a plain function to PacketHandler.
type PacketHandlerFunc func(ctx context.Context, data []byte, client netip.AddrPort) []byte

func (f PacketHandlerFunc) HandlePacket(ctx context.Context, data []byte, client netip.AddrPort) []byte {
	return f(ctx, data, client)
}
