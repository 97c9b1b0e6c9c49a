// Package relay answers client datagrams: blocked names get a synthesized
// sinkhole reply, everything else is forwarded upstream byte for byte.
package relay

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"golang.org/x/time/rate"

	"github.com/haukened/rr-sinkhole/internal/dns/common/clock"
	"github.com/haukened/rr-sinkhole/internal/dns/common/log"
	"github.com/haukened/rr-sinkhole/internal/dns/common/metrics"
	"github.com/haukened/rr-sinkhole/internal/dns/domain"
	"github.com/haukened/rr-sinkhole/internal/dns/gateways/transport"
	"github.com/haukened/rr-sinkhole/internal/dns/gateways/upstream"
	"github.com/haukened/rr-sinkhole/internal/dns/gateways/wire"
	"github.com/haukened/rr-sinkhole/internal/dns/repos/blockedlog"
)

// BlockedLogWarnInterval limits console warnings about a failing blocked log.
const BlockedLogWarnInterval = 10 * time.Second

type Relay struct {
	codec      *wire.Codec
	classifier Classifier
	forwarder  Forwarder
	blocked    blockedlog.Writer
	metrics    *metrics.Metrics
	clock      clock.Clock
	logger     log.Logger

	blockedLogWarn rate.Sometimes
}

type Options struct {
	Codec      *wire.Codec
	Classifier Classifier
	Forwarder  Forwarder
	BlockedLog blockedlog.Writer
	Metrics    *metrics.Metrics
	Clock      clock.Clock
	Logger     log.Logger
}

func NewRelay(opts Options) (*Relay, error) {
	if opts.Classifier == nil {
		return nil, errors.New("relay: classifier is required")
	}
	if opts.Forwarder == nil {
		return nil, errors.New("relay: forwarder is required")
	}
	if opts.Codec == nil {
		opts.Codec = wire.NewCodec(wire.Options{})
	}
	if opts.BlockedLog == nil {
		opts.BlockedLog = blockedlog.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Relay{
		codec:          opts.Codec,
		classifier:     opts.Classifier,
		forwarder:      opts.Forwarder,
		blocked:        opts.BlockedLog,
		metrics:        opts.Metrics,
		clock:          opts.Clock,
		logger:         opts.Logger,
		blockedLogWarn: rate.Sometimes{Interval: BlockedLogWarnInterval},
	}, nil
}

// HandlePacket processes one client datagram and returns the reply to send,
// or nil when the datagram is dropped.
func (r *Relay) HandlePacket(ctx context.Context, data []byte, client netip.AddrPort) []byte {
	req, err := r.codec.DecodeQuery(data, client)
	if err != nil {
		r.logger.Debug(map[string]any{
			"client": client.String(),
			"size":   len(data),
			"error":  err.Error(),
		}, "dropping malformed datagram")
		return nil
	}

	decision := r.classifier.Classify(req.Query.Name)
	if decision.IsBlocked() {
		return r.sinkhole(req, decision)
	}
	return r.forward(ctx, data, req)
}

func (r *Relay) sinkhole(req wire.Request, decision domain.BlockDecision) []byte {
	q := req.Query
	r.metrics.Query("block")

	err := r.blocked.Write(blockedlog.Entry{
		Time:   r.clock.Now(),
		Domain: decision.Name,
		Client: q.ClientAddr(),
	})
	if err != nil {
		r.blockedLogWarn.Do(func() {
			r.logger.Warn(map[string]any{"error": err.Error()}, "failed to write blocked-domain log")
		})
	}

	r.logger.Info(map[string]any{
		"domain":  decision.Name,
		"type":    q.Type.String(),
		"client":  q.ClientAddr(),
		"reason":  string(decision.Reason),
		"matched": decision.Matched,
	}, "sinkholed query")

	reply, err := r.codec.Sinkhole(req)
	if err != nil {
		r.logger.Error(map[string]any{"query": q.String(), "error": err.Error()}, "failed to encode sinkhole reply")
		return nil
	}
	return reply
}

func (r *Relay) forward(ctx context.Context, data []byte, req wire.Request) []byte {
	q := req.Query
	start := r.clock.Now()
	resp, err := r.forwarder.Forward(ctx, data)
	if err == nil {
		r.metrics.ObserveUpstream(clock.Since(r.clock, start))
		r.metrics.Query("allow")
		r.logger.Debug(map[string]any{
			"query": q.String(),
			"size":  len(resp),
		}, "relayed upstream answer")
		return resp
	}

	reason := "error"
	if errors.Is(err, upstream.ErrTimeout) {
		reason = "timeout"
	}
	r.metrics.UpstreamFailure(reason)
	r.metrics.Query("servfail")
	r.logger.Warn(map[string]any{
		"query":  q.String(),
		"reason": reason,
		"error":  err.Error(),
	}, "upstream failed, answering SERVFAIL")

	reply, err := r.codec.ServFail(req)
	if err != nil {
		r.logger.Error(map[string]any{"query": q.String(), "error": err.Error()}, "failed to encode SERVFAIL reply")
		return nil
	}
	return reply
}

var _ transport.PacketHandler = (*Relay)(nil)
