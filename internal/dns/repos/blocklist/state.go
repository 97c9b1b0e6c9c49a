package blocklist

import (
	"sync"

	"github.com/haukened/rr-sinkhole/internal/dns/common/clock"
	"github.com/haukened/rr-sinkhole/internal/dns/common/log"
	"github.com/haukened/rr-sinkhole/internal/dns/domain"
)

// Options configures a State. Zero values disable the optional layers.
type Options struct {
	Bloom     BloomFactory
	FPRate    float64
	NewCache  func() DecisionCache
	Clock     clock.Clock
	Logger    log.Logger
	OnPublish func(*Snapshot) // called after every swap, outside the lock
}

// State owns the currently published Snapshot. Writers build a complete new
// Snapshot without holding the read/write lock and then swap the pointer;
// readers copy the pointer under a read lock and release it before matching.
// A reader therefore sees either the old or the new sets, never a mix.
type State struct {
	mu   sync.RWMutex
	snap *Snapshot

	// serializes writers so a block replace and an allow replace never
	// build from the same base and drop each other's update
	writeMu sync.Mutex

	opts Options
}

// NewState returns a State publishing empty sets at generation 0.
func NewState(opts Options) *State {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	s := &State{opts: opts}
	s.snap = s.build(domain.DomainSet{}, domain.DomainSet{}, 0)
	return s
}

// Snapshot returns the current snapshot.
func (s *State) Snapshot() *Snapshot {
	s.mu.RLock()
	snap := s.snap
	s.mu.RUnlock()
	return snap
}

// Stats returns metrics for the current snapshot.
func (s *State) Stats() Stats {
	return s.Snapshot().Stats()
}

// ReplaceBlockSet publishes set as the new block set. The caller hands over
// ownership of set and must not modify it afterwards.
func (s *State) ReplaceBlockSet(set domain.DomainSet) *Snapshot {
	return s.replace(func(cur *Snapshot) (domain.DomainSet, domain.DomainSet) {
		return set, cur.allow
	})
}

// ReplaceAllowSet publishes set as the new allow set. The caller hands over
// ownership of set and must not modify it afterwards.
func (s *State) ReplaceAllowSet(set domain.DomainSet) *Snapshot {
	return s.replace(func(cur *Snapshot) (domain.DomainSet, domain.DomainSet) {
		return cur.block, set
	})
}

func (s *State) replace(pick func(cur *Snapshot) (block, allow domain.DomainSet)) *Snapshot {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.Snapshot()
	block, allow := pick(cur)
	next := s.build(block, allow, cur.generation+1)

	s.mu.Lock()
	s.snap = next
	s.mu.Unlock()

	s.opts.Logger.Info(map[string]any{
		"generation": next.generation,
		"blocked":    next.block.Len(),
		"allowed":    next.allow.Len(),
	}, "snapshot published")
	if s.opts.OnPublish != nil {
		s.opts.OnPublish(next)
	}
	return next
}

func (s *State) build(block, allow domain.DomainSet, generation uint64) *Snapshot {
	if block == nil {
		block = domain.DomainSet{}
	}
	if allow == nil {
		allow = domain.DomainSet{}
	}
	snap := &Snapshot{
		block:      block,
		allow:      allow,
		generation: generation,
		built:      s.opts.Clock.Now(),
	}
	if s.opts.Bloom != nil {
		bf := s.opts.Bloom.New(uint64(block.Len()), s.opts.FPRate)
		for name := range block {
			bf.Add([]byte(name))
		}
		snap.bloom = bf
	}
	if s.opts.NewCache != nil {
		snap.cache = s.opts.NewCache()
	}
	return snap
}
