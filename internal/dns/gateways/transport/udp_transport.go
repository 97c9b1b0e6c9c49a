package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/haukened/rr-sinkhole/internal/dns/common/log"
)

// ReadBufferSize holds the largest possible UDP payload, so no datagram is
// truncated on read.
const ReadBufferSize = 65535

// UDPTransport implements ServerTransport for DNS over UDP (RFC 1035).
// Every datagram is copied out of the read buffer and handled on its own
// goroutine so a slow upstream never stalls the listener.
type UDPTransport struct {
	addr   string
	conn   *net.UDPConn
	logger log.Logger

	// Synchronization for graceful shutdown
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewUDPTransport creates a new UDP transport instance.
func NewUDPTransport(addr string, logger log.Logger) *UDPTransport {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &UDPTransport{
		addr:   addr,
		logger: logger,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start binds the UDP socket and starts the packet handling loop. The
// transport stops when ctx is cancelled or Stop is called.
func (t *UDPTransport) Start(ctx context.Context, handler PacketHandler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("UDP transport already running")
	}
	if t.conn != nil {
		return fmt.Errorf("UDP transport cannot be restarted")
	}

	udpAddr, err := net.ResolveUDPAddr("udp", t.addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address %s: %w", t.addr, err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP socket on %s: %w", t.addr, err)
	}

	t.conn = conn
	t.running = true

	t.logger.Info(map[string]any{
		"transport": "udp",
		"address":   conn.LocalAddr().String(),
	}, "DNS transport started")

	go t.listenLoop(ctx, handler)
	go func() {
		select {
		case <-ctx.Done():
			_ = t.Stop()
		case <-t.stopCh:
		}
	}()

	return nil
}

// Stop gracefully shuts down the UDP transport and waits for the listen
// loop to exit.
func (t *UDPTransport) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}

	close(t.stopCh)

	var closeErr error
	if t.conn != nil {
		closeErr = t.conn.Close()
		if closeErr != nil {
			t.logger.Warn(map[string]any{
				"error": closeErr.Error(),
			}, "Error closing UDP connection")
		}
	}
	t.running = false
	t.mu.Unlock()

	<-t.done

	t.logger.Info(map[string]any{
		"transport": "udp",
		"address":   t.addr,
	}, "DNS transport stopped")

	return closeErr
}

// Address returns the bound address once started, otherwise the configured one.
func (t *UDPTransport) Address() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn != nil {
		return t.conn.LocalAddr().String()
	}
	return t.addr
}

// listenLoop reads datagrams until the socket is closed.
func (t *UDPTransport) listenLoop(ctx context.Context, handler PacketHandler) {
	defer close(t.done)
	buffer := make([]byte, ReadBufferSize)

	for {
		n, client, err := t.conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			select {
			case <-t.stopCh:
				return // Normal shutdown
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn(map[string]any{
				"error": err.Error(),
			}, "Failed to read UDP packet")
			continue
		}

		packet := make([]byte, n)
		copy(packet, buffer[:n])
		go t.handlePacket(ctx, packet, client, handler)
	}
}

// handlePacket runs the handler for one datagram and writes its reply.
func (t *UDPTransport) handlePacket(ctx context.Context, data []byte, client netip.AddrPort, handler PacketHandler) {
	reply := handler.HandlePacket(ctx, data, client)
	if reply == nil {
		return
	}

	if _, err := t.conn.WriteToUDPAddrPort(reply, client); err != nil {
		t.logger.Error(map[string]any{
			"client": client.String(),
			"size":   len(reply),
			"error":  err.Error(),
		}, "Failed to send DNS response")
	}
}

var _ ServerTransport = (*UDPTransport)(nil)
