package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/haukened/rr-sinkhole/internal/dns/gateways/wire"
)

// DefaultTimeout bounds one forwarded exchange when no deadline is supplied.
const DefaultTimeout = 2 * time.Second

// maxResponseSize is the largest UDP payload a DNS server can send.
const maxResponseSize = 65535

// Error message constants for consistent error handling
const (
	errNoServerProvided = "no upstream DNS server provided"
	errShortQuery       = "query shorter than a DNS header"
	errFailedToConnect  = "failed to connect: %w"
	errWriteFailed      = "write failed: %w"
	errReadFailed       = "read failed: %w"
)

// ErrTimeout is returned when no matching answer arrives before the deadline.
var ErrTimeout = errors.New("upstream timeout")

// Forwarder relays raw client queries to a single upstream resolver over UDP.
// Each exchange uses its own socket so answers can never cross between
// clients.
type Forwarder struct {
	server  string
	timeout time.Duration
	dial    DialFunc
}

// DialFunc defines a function type for establishing a network connection.
// It takes a context for cancellation, the network type (e.g., "tcp", "udp"),
// and the address to connect to, returning a net.Conn and an error if any occurs.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Options configures a Forwarder.
type Options struct {
	// required parameters
	Server  string
	Timeout time.Duration
	// options to inject for testing purposes
	Dial DialFunc
}

// NewForwarder creates a forwarder for opts.Server. The timeout defaults to
// DefaultTimeout and the dialer to net.Dialer.
func NewForwarder(opts Options) (*Forwarder, error) {
	if opts.Server == "" {
		return nil, errors.New(errNoServerProvided)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Dial == nil {
		opts.Dial = (&net.Dialer{}).DialContext
	}
	return &Forwarder{
		server:  opts.Server,
		timeout: opts.Timeout,
		dial:    opts.Dial,
	}, nil
}

// Server returns the upstream address.
func (f *Forwarder) Server() string { return f.server }

// ensureContextDeadline ensures the context has a deadline, adding the forwarder's timeout if needed.
// Returns the context (potentially with added timeout) and a cancel function if one was created.
func (f *Forwarder) ensureContextDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok {
		return context.WithTimeout(ctx, f.timeout)
	}
	return ctx, nil
}

// Forward writes query to the upstream verbatim and returns the first
// datagram whose ID matches it, also verbatim. Datagrams with another ID are
// discarded. A missed deadline yields ErrTimeout.
func (f *Forwarder) Forward(ctx context.Context, query []byte) ([]byte, error) {
	id, ok := wire.ResponseID(query)
	if !ok {
		return nil, errors.New(errShortQuery)
	}

	ctx, cancel := f.ensureContextDeadline(ctx)
	if cancel != nil {
		defer cancel()
	}

	conn, err := f.dial(ctx, "udp", f.server)
	if err != nil {
		return nil, fmt.Errorf(errFailedToConnect, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf(errFailedToConnect, err)
		}
	}

	type result struct {
		response []byte
		err      error
	}
	resultChan := make(chan result, 1)

	go func() {
		if _, err := conn.Write(query); err != nil {
			resultChan <- result{err: fmt.Errorf(errWriteFailed, err)}
			return
		}
		buffer := make([]byte, maxResponseSize)
		for {
			n, err := conn.Read(buffer)
			if err != nil {
				var netErr net.Error
				if errors.As(err, &netErr) && netErr.Timeout() {
					err = ErrTimeout
				} else {
					err = fmt.Errorf(errReadFailed, err)
				}
				resultChan <- result{err: err}
				return
			}
			if got, ok := wire.ResponseID(buffer[:n]); ok && got == id {
				resultChan <- result{response: append([]byte(nil), buffer[:n]...)}
				return
			}
		}
	}()

	select {
	case res := <-resultChan:
		return res.response, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}
