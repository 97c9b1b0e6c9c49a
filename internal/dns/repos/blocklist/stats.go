package blocklist

import "time"

// CacheStats reports lightweight cache metrics.
// All fields are best-effort snapshots and may be updated concurrently.
type CacheStats struct {
	Capacity  int    `json:"capacity"`
	Size      int    `json:"size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Stats describes the currently published snapshot.
type Stats struct {
	Generation   uint64     `json:"generation"`
	BlockDomains int        `json:"block_domains"`
	AllowDomains int        `json:"allow_domains"`
	Built        time.Time  `json:"built"`
	Cache        CacheStats `json:"cache"`
}
