package blocklist

import (
	"time"

	"github.com/haukened/rr-sinkhole/internal/dns/common/utils"
	"github.com/haukened/rr-sinkhole/internal/dns/domain"
)

// Snapshot is an immutable view of the block and allow sets. Readers hold a
// *Snapshot for the duration of one classification; nothing in it is mutated
// after publication except the decision cache, which is internally synchronized.
type Snapshot struct {
	block      domain.DomainSet
	allow      domain.DomainSet
	bloom      BloomFilter   // nil: every lookup goes to the map
	cache      DecisionCache // nil: no caching
	generation uint64
	built      time.Time
}

func (s *Snapshot) Generation() uint64 { return s.generation }
func (s *Snapshot) Built() time.Time   { return s.built }

// BlockSet returns the snapshot's block set. Callers must not modify it.
func (s *Snapshot) BlockSet() domain.DomainSet { return s.block }

// AllowSet returns the snapshot's allow set. Callers must not modify it.
func (s *Snapshot) AllowSet() domain.DomainSet { return s.allow }

// Stats returns counts and cache metrics for this snapshot.
func (s *Snapshot) Stats() Stats {
	st := Stats{
		Generation:   s.generation,
		BlockDomains: s.block.Len(),
		AllowDomains: s.allow.Len(),
		Built:        s.built,
	}
	if s.cache != nil {
		st.Cache = s.cache.Stats()
	}
	return st
}

// Decide classifies an already-normalized name.
//
//  1. the name or any parent of two or more labels is allowlisted: allow
//  2. the name is blocklisted: block (exact)
//  3. a parent is blocklisted, shortest parent first: block (suffix)
//  4. otherwise allow
func (s *Snapshot) Decide(name string) domain.BlockDecision {
	if name == "" {
		return domain.Allowed(name, domain.ReasonNone, "")
	}
	if s.cache != nil {
		if d, ok := s.cache.Get(name); ok {
			return d
		}
	}
	d := s.decide(name)
	if s.cache != nil {
		s.cache.Put(name, d)
	}
	return d
}

func (s *Snapshot) decide(name string) domain.BlockDecision {
	suffixes := utils.Suffixes(name)

	if s.allow.Has(name) {
		return domain.Allowed(name, domain.ReasonAllowlist, name)
	}
	for _, sfx := range suffixes {
		if s.allow.Has(sfx) {
			return domain.Allowed(name, domain.ReasonAllowlist, sfx)
		}
	}

	if s.blocked(name) {
		return domain.Blocked(name, domain.ReasonExact, name)
	}
	for _, sfx := range suffixes {
		if sfx == name {
			continue
		}
		if s.blocked(sfx) {
			return domain.Blocked(name, domain.ReasonSuffix, sfx)
		}
	}
	return domain.Allowed(name, domain.ReasonNone, "")
}

func (s *Snapshot) blocked(name string) bool {
	if s.bloom != nil && !s.bloom.MightContain([]byte(name)) {
		return false
	}
	return s.block.Has(name)
}
