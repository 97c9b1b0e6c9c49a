package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"sync"

	"github.com/haukened/rr-sinkhole/internal/dns/common/clock"
	"github.com/haukened/rr-sinkhole/internal/dns/common/log"
	"github.com/haukened/rr-sinkhole/internal/dns/common/metrics"
	"github.com/haukened/rr-sinkhole/internal/dns/config"
	"github.com/haukened/rr-sinkhole/internal/dns/domain"
	"github.com/haukened/rr-sinkhole/internal/dns/gateways/admin"
	"github.com/haukened/rr-sinkhole/internal/dns/gateways/fetch"
	"github.com/haukened/rr-sinkhole/internal/dns/gateways/transport"
	"github.com/haukened/rr-sinkhole/internal/dns/gateways/upstream"
	"github.com/haukened/rr-sinkhole/internal/dns/gateways/wire"
	"github.com/haukened/rr-sinkhole/internal/dns/repos/allowlist"
	"github.com/haukened/rr-sinkhole/internal/dns/repos/blockedlog"
	"github.com/haukened/rr-sinkhole/internal/dns/repos/blocklist"
	"github.com/haukened/rr-sinkhole/internal/dns/repos/blocklist/bloom"
	"github.com/haukened/rr-sinkhole/internal/dns/repos/blocklist/bolt"
	"github.com/haukened/rr-sinkhole/internal/dns/repos/blocklist/lru"
	"github.com/haukened/rr-sinkhole/internal/dns/services/aggregator"
	"github.com/haukened/rr-sinkhole/internal/dns/services/relay"
)

// core is everything needed to classify names and refresh the blocklist,
// shared by every subcommand.
type core struct {
	cfg        *config.AppConfig
	clock      clock.Clock
	metrics    *metrics.Metrics
	state      *blocklist.State
	classifier *blocklist.Classifier
	store      blocklist.Store
	aggregator *aggregator.Aggregator
}

// buildCore creates the shared state, publishes the persisted blocklist and
// the allowlist, and prepares the aggregator.
func buildCore(cfg *config.AppConfig) (*core, error) {
	clk := clock.RealClock{}
	m := metrics.New()

	state := blocklist.NewState(blocklist.Options{
		Bloom:    bloom.NewFactory(),
		FPRate:   cfg.Blocklist.BloomFP,
		NewCache: lru.Factory(cfg.Blocklist.CacheSize),
		Clock:    clk,
		Logger:   log.Component("state"),
		OnPublish: func(s *blocklist.Snapshot) {
			m.SetBlocklistDomains(s.BlockSet().Len())
			m.SetAllowlistDomains(s.AllowSet().Len())
		},
	})

	c := &core{
		cfg:        cfg,
		clock:      clk,
		metrics:    m,
		state:      state,
		classifier: blocklist.NewClassifier(state),
	}

	if cfg.Blocklist.DB != "" {
		store, err := bolt.New(cfg.Blocklist.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot store: %w", err)
		}
		c.store = store
		if err := c.publishPersisted(); err != nil {
			c.close()
			return nil, err
		}
	}

	allow, err := allowlist.Load(cfg.Allowlist.Path, log.Component("allowlist"))
	if err != nil {
		c.close()
		return nil, fmt.Errorf("failed to load allowlist: %w", err)
	}
	state.ReplaceAllowSet(allow)
	log.Info(map[string]any{
		"path":    cfg.Allowlist.Path,
		"domains": allow.Len(),
	}, "Allowlist loaded")

	sources, err := cfg.Sources()
	if err != nil {
		c.close()
		return nil, fmt.Errorf("invalid blocklist sources: %w", err)
	}
	agg, err := aggregator.New(aggregator.Options{
		Sources:     sources,
		Opener:      fetch.New(cfg.Blocklist.FetchTimeout),
		Publisher:   state,
		Store:       c.store,
		Parallelism: cfg.Blocklist.Parallelism,
		Interval:    cfg.Blocklist.Refresh,
		Metrics:     m,
		Clock:       clk,
		Logger:      log.Component("aggregator"),
	})
	if err != nil {
		c.close()
		return nil, fmt.Errorf("failed to create aggregator: %w", err)
	}
	c.aggregator = agg
	return c, nil
}

// publishPersisted serves the last stored blocklist until the first refresh
// completes.
func (c *core) publishPersisted() error {
	set, meta, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load persisted blocklist: %w", err)
	}
	if set.Len() == 0 {
		log.Info(map[string]any{"path": c.cfg.Blocklist.DB}, "No persisted blocklist, starting empty")
		return nil
	}
	c.state.ReplaceBlockSet(set)
	log.Info(map[string]any{
		"path":       c.cfg.Blocklist.DB,
		"domains":    set.Len(),
		"generation": meta.Generation,
		"updated":    meta.Updated,
	}, "Persisted blocklist published")
	return nil
}

func (c *core) close() {
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			log.Warn(map[string]any{"error": err}, "Error closing snapshot store")
		}
	}
}

// Application holds all the components of the running sinkhole.
type Application struct {
	*core
	transport *transport.UDPTransport
	relay     *relay.Relay
	blocked   blockedlog.Writer
	watcher   *allowlist.Watcher
	admin     *admin.Server

	wg sync.WaitGroup
}

// buildApplication constructs all components and wires them together.
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	c, err := buildCore(cfg)
	if err != nil {
		return nil, err
	}
	app := &Application{core: c}

	if err := app.buildServing(); err != nil {
		app.closeAll()
		return nil, err
	}
	return app, nil
}

func (app *Application) buildServing() error {
	cfg := app.cfg

	fwd, err := upstream.NewForwarder(upstream.Options{
		Server:  cfg.Upstream.Server,
		Timeout: cfg.Upstream.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create upstream forwarder: %w", err)
	}
	log.Info(map[string]any{
		"server":  cfg.Upstream.Server,
		"timeout": cfg.Upstream.Timeout.String(),
	}, "Upstream forwarder configured")

	blocked := openBlockedLog(cfg.BlockedLog.Path)
	app.blocked = blocked

	ipv4, err := netip.ParseAddr(cfg.Sinkhole.IPv4)
	if err != nil {
		return fmt.Errorf("invalid sinkhole ipv4: %w", err)
	}
	ipv6, err := netip.ParseAddr(cfg.Sinkhole.IPv6)
	if err != nil {
		return fmt.Errorf("invalid sinkhole ipv6: %w", err)
	}

	r, err := relay.NewRelay(relay.Options{
		Codec:      wire.NewCodec(wire.Options{IPv4: ipv4, IPv6: ipv6, TTL: cfg.Sinkhole.TTL}),
		Classifier: app.classifier,
		Forwarder:  fwd,
		BlockedLog: blocked,
		Metrics:    app.metrics,
		Clock:      app.clock,
		Logger:     log.Component("relay"),
	})
	if err != nil {
		return fmt.Errorf("failed to create relay: %w", err)
	}
	app.relay = r
	app.transport = transport.NewUDPTransport(cfg.Server.Listen, log.Component("transport"))

	if cfg.Allowlist.Watch && cfg.Allowlist.Path != "" {
		w, err := allowlist.NewWatcher(cfg.Allowlist.Path, func(set domain.DomainSet) {
			app.state.ReplaceAllowSet(set)
		}, log.Component("allowlist"))
		if err != nil {
			return fmt.Errorf("failed to watch allowlist: %w", err)
		}
		app.watcher = w
	}

	if cfg.Admin.Listen != "" {
		app.admin = admin.New(admin.Options{
			Listen:     cfg.Admin.Listen,
			Stats:      app.state,
			Classifier: app.classifier,
			Refresher:  app.aggregator,
			Metrics:    app.metrics,
			Logger:     log.Component("admin"),
		})
	}
	return nil
}

// openBlockedLog opens the blocked-domain log. A log that cannot be opened
// is reported and replaced by a no-op writer; sinkholing continues.
func openBlockedLog(path string) blockedlog.Writer {
	if path == "" {
		return blockedlog.Nop()
	}
	fields := map[string]any{"path": path}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		fields["error"] = err
		log.Warn(fields, "Cannot create blocked log directory, blocked queries will not be recorded")
		return blockedlog.Nop()
	}
	w, err := blockedlog.Open(path)
	if err != nil {
		fields["error"] = err
		log.Warn(fields, "Cannot open blocked log, blocked queries will not be recorded")
		return blockedlog.Nop()
	}
	return w
}

// Start binds the DNS socket and launches the background workers. Only a
// bind failure is returned; everything else is logged by its component.
func (app *Application) Start(ctx context.Context) error {
	if err := app.transport.Start(ctx, app.relay); err != nil {
		return fmt.Errorf("failed to start UDP transport: %w", err)
	}

	log.Info(map[string]any{
		"address":   app.transport.Address(),
		"transport": "UDP",
	}, "DNS sinkhole started")

	app.goRun(func() { app.aggregator.Run(ctx) })
	if app.watcher != nil {
		app.goRun(func() { app.watcher.Run(ctx) })
	}
	if app.admin != nil {
		app.goRun(func() {
			if err := app.admin.Run(ctx); err != nil {
				log.Error(map[string]any{"error": err}, "Admin server failed")
			}
		})
	}
	return nil
}

func (app *Application) goRun(fn func()) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		fn()
	}()
}

// Run starts the sinkhole and blocks until ctx is cancelled.
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		app.closeAll()
		return err
	}

	<-ctx.Done()
	log.Info(nil, "Shutdown initiated")
	app.Shutdown()
	return nil
}

// Shutdown stops the transport, waits for the workers and releases files.
// The context passed to Start must already be cancelled.
func (app *Application) Shutdown() {
	if err := app.transport.Stop(); err != nil {
		log.Warn(map[string]any{"error": err}, "Error during transport shutdown")
	}
	app.wg.Wait()
	app.closeAll()
	log.Info(nil, "Graceful shutdown completed")
}

func (app *Application) closeAll() {
	if app.blocked != nil {
		if err := app.blocked.Close(); err != nil {
			log.Warn(map[string]any{"error": err}, "Error closing blocked log")
		}
		app.blocked = nil
	}
	app.core.close()
	app.store = nil
}

// Address returns the DNS listen address, resolved once started.
func (app *Application) Address() string {
	return app.transport.Address()
}
