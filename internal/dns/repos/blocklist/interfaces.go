package blocklist

import (
	"time"

	"github.com/haukened/rr-sinkhole/internal/dns/domain"
)

// BloomFilter is the minimal interface a Snapshot needs from a Bloom filter.
// A negative answer is definitive; a positive one must be confirmed.
type BloomFilter interface {
	Add(key []byte)
	MightContain(key []byte) bool
}

// BloomFactory builds a filter sized for capacity entries at the target FP rate.
type BloomFactory interface {
	New(capacity uint64, fpRate float64) BloomFilter
}

// DecisionCache caches classification results by normalized name. One cache
// belongs to exactly one Snapshot and is discarded with it.
type DecisionCache interface {
	Get(name string) (domain.BlockDecision, bool)
	Put(name string, d domain.BlockDecision)
	Len() int
	Stats() CacheStats
}

// StoreMeta describes the persisted snapshot.
type StoreMeta struct {
	Generation uint64    `json:"generation"`
	Updated    time.Time `json:"updated"`
	Domains    int       `json:"domains"`
}

// Store persists the most recent block set so a restart can serve it before
// the first refresh completes.
type Store interface {
	Save(set domain.DomainSet, generation uint64, updated time.Time) error
	Load() (domain.DomainSet, StoreMeta, error)
	Meta() (StoreMeta, error)
	Close() error
}
