// Package bloom provides the per-snapshot pre-filter consulted before the
// block set map. Filters are filled while a snapshot is built and only read
// after it is published.
package bloom

import (
	"math"

	bitsbloom "github.com/bits-and-blooms/bloom/v3"

	"github.com/haukened/rr-sinkhole/internal/dns/repos/blocklist"
)

// DefaultFPRate is used when the configured rate is outside (0, 1).
const DefaultFPRate = 0.01

type factory struct{}

// NewFactory returns a blocklist.BloomFactory backed by bits-and-blooms.
func NewFactory() blocklist.BloomFactory { return factory{} }

func (factory) New(capacity uint64, fpRate float64) blocklist.BloomFilter {
	m, k := size(capacity, fpRate)
	return &filter{bf: bitsbloom.New(uint(m), uint(k))}
}

// size computes bit count m and hash count k for n entries at rate p:
//
//	m = -(n * ln p) / (ln 2)^2
//	k = (m / n) * ln 2
func size(n uint64, p float64) (uint64, uint8) {
	if n == 0 {
		n = 1
	}
	if !(p > 0 && p < 1) {
		p = DefaultFPRate
	}
	m := uint64(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m == 0 {
		m = 1
	}
	k := uint8(math.Max(1, math.Round(float64(m)/float64(n)*math.Ln2)))
	return m, k
}

type filter struct {
	bf *bitsbloom.BloomFilter
}

func (f *filter) Add(key []byte)               { f.bf.Add(key) }
func (f *filter) MightContain(key []byte) bool { return f.bf.Test(key) }
