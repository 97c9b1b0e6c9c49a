// Package aggregator downloads the configured blocklist sources, merges them
// into one BlockSet and publishes it.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haukened/rr-sinkhole/internal/dns/common/clock"
	"github.com/haukened/rr-sinkhole/internal/dns/common/log"
	"github.com/haukened/rr-sinkhole/internal/dns/common/metrics"
	"github.com/haukened/rr-sinkhole/internal/dns/domain"
	"github.com/haukened/rr-sinkhole/internal/dns/repos/blocklist"
	"github.com/haukened/rr-sinkhole/internal/dns/repos/blocklist/parsers"
)

const (
	DefaultInterval    = 6 * time.Hour
	DefaultParallelism = 4
)

// ErrAllSourcesFailed means no source could be read; the previous BlockSet
// stays published.
var ErrAllSourcesFailed = errors.New("all blocklist sources failed")

// Opener opens one source for reading.
type Opener interface {
	Open(ctx context.Context, src domain.Source) (io.ReadCloser, error)
}

// Publisher receives each successfully aggregated BlockSet.
type Publisher interface {
	ReplaceBlockSet(set domain.DomainSet) *blocklist.Snapshot
}

type Options struct {
	Sources     []domain.Source
	Opener      Opener
	Publisher   Publisher
	Store       blocklist.Store // optional
	Parallelism int
	Interval    time.Duration
	Metrics     *metrics.Metrics
	Clock       clock.Clock
	Logger      log.Logger
}

// SourceReport is the outcome of one source in one refresh.
type SourceReport struct {
	Source  string        `json:"source"`
	Entries int           `json:"entries"`
	Lines   int           `json:"lines"`
	Skipped int           `json:"skipped,omitempty"` // lines over parsers.MaxLineBytes
	Elapsed time.Duration `json:"elapsed"`
	Err     string        `json:"error,omitempty"`
}

// Report summarizes one refresh.
type Report struct {
	Started    time.Time      `json:"started"`
	Duration   time.Duration  `json:"duration"`
	Domains    int            `json:"domains"`
	Generation uint64         `json:"generation"`
	Published  bool           `json:"published"`
	Sources    []SourceReport `json:"sources"`
}

// Failed returns the number of sources that could not be read.
func (r Report) Failed() int {
	n := 0
	for _, s := range r.Sources {
		if s.Err != "" {
			n++
		}
	}
	return n
}

type Aggregator struct {
	sources     []domain.Source
	opener      Opener
	publisher   Publisher
	store       blocklist.Store
	parallelism int
	interval    time.Duration
	metrics     *metrics.Metrics
	clock       clock.Clock
	logger      log.Logger

	trigger chan struct{}

	// serializes refreshes from Run, Trigger and direct callers
	refreshMu sync.Mutex

	mu   sync.RWMutex
	last *Report
}

func New(opts Options) (*Aggregator, error) {
	if len(opts.Sources) == 0 {
		return nil, errors.New("aggregator: at least one source is required")
	}
	if opts.Opener == nil {
		return nil, errors.New("aggregator: opener is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("aggregator: publisher is required")
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = DefaultParallelism
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Aggregator{
		sources:     opts.Sources,
		opener:      opts.Opener,
		publisher:   opts.Publisher,
		store:       opts.Store,
		parallelism: opts.Parallelism,
		interval:    opts.Interval,
		metrics:     opts.Metrics,
		clock:       opts.Clock,
		logger:      opts.Logger,
		trigger:     make(chan struct{}, 1),
	}, nil
}

// Refresh reads every source, merges the survivors and publishes the result.
// Failing sources are skipped and reported. When every source fails the
// report is returned with ErrAllSourcesFailed and nothing is published.
func (a *Aggregator) Refresh(ctx context.Context) (Report, error) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	start := a.clock.Now()
	report := Report{Started: start, Sources: make([]SourceReport, len(a.sources))}
	sets := make([]domain.DomainSet, len(a.sources))

	g := new(errgroup.Group)
	g.SetLimit(a.parallelism)
	for i, src := range a.sources {
		g.Go(func() error {
			sets[i], report.Sources[i] = a.fetch(ctx, src)
			return nil
		})
	}
	_ = g.Wait()

	merged := domain.DomainSet{}
	ok := 0
	for i, set := range sets {
		if report.Sources[i].Err != "" {
			continue
		}
		merged.Merge(set)
		ok++
	}
	report.Duration = clock.Since(a.clock, start)
	a.metrics.ObserveRefresh(report.Duration)

	if err := ctx.Err(); err != nil {
		a.remember(report)
		return report, fmt.Errorf("refresh interrupted: %w", err)
	}
	if ok == 0 {
		a.remember(report)
		a.logger.Error(map[string]any{
			"sources": len(a.sources),
		}, "every blocklist source failed, keeping previous blocklist")
		return report, ErrAllSourcesFailed
	}

	snap := a.publisher.ReplaceBlockSet(merged)
	report.Domains = merged.Len()
	report.Generation = snap.Generation()
	report.Published = true

	if a.store != nil {
		if err := a.store.Save(merged, snap.Generation(), snap.Built()); err != nil {
			a.logger.Error(map[string]any{"error": err}, "failed to persist blocklist snapshot")
		}
	}

	a.logger.Info(map[string]any{
		"domains":    report.Domains,
		"sources":    ok,
		"failed":     report.Failed(),
		"generation": report.Generation,
		"duration":   report.Duration.String(),
	}, "blocklist refreshed")

	a.remember(report)
	return report, nil
}

// fetch reads one source into its own set so a source that fails halfway
// contributes nothing.
func (a *Aggregator) fetch(ctx context.Context, src domain.Source) (domain.DomainSet, SourceReport) {
	start := a.clock.Now()
	rep := SourceReport{Source: src.String()}
	fields := map[string]any{"source": rep.Source}

	set, res, err := a.read(ctx, src)
	rep.Elapsed = clock.Since(a.clock, start)
	rep.Lines = res.Lines
	rep.Skipped = res.Skipped
	if err != nil {
		rep.Err = err.Error()
		a.metrics.SourceFetched(rep.Source, false, 0)
		fields["error"] = err
		a.logger.Warn(fields, "blocklist source failed, skipping")
		return nil, rep
	}

	rep.Entries = set.Len()
	a.metrics.SourceFetched(rep.Source, true, rep.Entries)
	fields["entries"] = rep.Entries
	fields["lines"] = res.Lines
	fields["elapsed"] = rep.Elapsed.String()
	if rep.Skipped > 0 {
		fields["skipped"] = rep.Skipped
		a.logger.Warn(fields, "blocklist source fetched, oversized lines skipped")
		return set, rep
	}
	a.logger.Info(fields, "blocklist source fetched")
	return set, rep
}

func (a *Aggregator) read(ctx context.Context, src domain.Source) (domain.DomainSet, parsers.Result, error) {
	rc, err := a.opener.Open(ctx, src)
	if err != nil {
		return nil, parsers.Result{}, err
	}
	defer rc.Close()

	set := domain.DomainSet{}
	res, err := parsers.Parse(rc, src.Format, set, a.logger)
	if err != nil {
		return nil, res, fmt.Errorf("read %s: %w", src.Location, err)
	}
	return set, res, nil
}

func (a *Aggregator) remember(r Report) {
	a.mu.Lock()
	a.last = &r
	a.mu.Unlock()
}

// LastReport returns the most recent refresh report, if any.
func (a *Aggregator) LastReport() (Report, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return Report{}, false
	}
	return *a.last, true
}

// Trigger asks Run for an immediate refresh. It never blocks and returns
// false when a request is already pending.
func (a *Aggregator) Trigger() bool {
	select {
	case a.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run refreshes once immediately, then on every interval tick and every
// Trigger, until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	a.logger.Info(map[string]any{
		"sources":  len(a.sources),
		"interval": a.interval.String(),
	}, "blocklist aggregator started")

	a.runOnce(ctx, "startup")

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info(nil, "blocklist aggregator stopped")
			return
		case <-ticker.C:
			a.runOnce(ctx, "interval")
		case <-a.trigger:
			a.runOnce(ctx, "manual")
		}
	}
}

func (a *Aggregator) runOnce(ctx context.Context, cause string) {
	a.logger.Debug(map[string]any{"cause": cause}, "blocklist refresh starting")
	if _, err := a.Refresh(ctx); err != nil && ctx.Err() == nil {
		a.logger.Warn(map[string]any{"cause": cause, "error": err}, "blocklist refresh failed")
	}
}
