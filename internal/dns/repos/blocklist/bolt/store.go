// Package bolt persists the last published block set in a bbolt file.
package bolt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bbolt "go.etcd.io/bbolt"
	bberrors "go.etcd.io/bbolt/errors"

	"github.com/haukened/rr-sinkhole/internal/dns/domain"
	"github.com/haukened/rr-sinkhole/internal/dns/repos/blocklist"
)

var (
	bucketDomains = []byte("domains")
	bucketMeta    = []byte("meta")

	keyGeneration = []byte("generation")
	keyUpdated    = []byte("updated")
	keyCount      = []byte("count")

	present = []byte{1}
)

// openDB is a seam for tests.
var openDB = func(path string) (*bbolt.DB, error) {
	return bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
}

type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) the store at path, creating its parent directory
// and buckets as needed.
func New(path string) (blocklist.Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}
	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := db.Update(ensureBuckets); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init store buckets: %w", err)
	}
	return &boltStore{db: db}, nil
}

func ensureBuckets(tx *bbolt.Tx) error {
	for _, name := range [][]byte{bucketDomains, bucketMeta} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}
	return nil
}

func (s *boltStore) Close() error { return s.db.Close() }

// Save replaces the persisted set and its metadata in a single transaction.
func (s *boltStore) Save(set domain.DomainSet, generation uint64, updated time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketDomains); err != nil && !errors.Is(err, bberrors.ErrBucketNotFound) {
			return fmt.Errorf("drop domains: %w", err)
		}
		b, err := tx.CreateBucket(bucketDomains)
		if err != nil {
			return fmt.Errorf("create domains: %w", err)
		}
		// sorted keys keep bbolt pages densely filled
		b.FillPercent = 1.0
		for _, name := range set.Sorted() {
			if err := b.Put([]byte(name), present); err != nil {
				return fmt.Errorf("put %s: %w", name, err)
			}
		}

		meta, err := tx.CreateBucketIfNotExists(bucketMeta)
		if err != nil {
			return err
		}
		if err := meta.Put(keyGeneration, u64(generation)); err != nil {
			return err
		}
		if err := meta.Put(keyUpdated, u64(uint64(updated.Unix()))); err != nil {
			return err
		}
		return meta.Put(keyCount, u64(uint64(set.Len())))
	})
}

// Load returns the persisted set. An empty store yields an empty set and zero meta.
func (s *boltStore) Load() (domain.DomainSet, blocklist.StoreMeta, error) {
	set := domain.DomainSet{}
	var meta blocklist.StoreMeta
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta = readMeta(tx)
		b := tx.Bucket(bucketDomains)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			set.Add(string(k))
			return nil
		})
	})
	if err != nil {
		return nil, blocklist.StoreMeta{}, err
	}
	meta.Domains = set.Len()
	return set, meta, nil
}

// Meta reads only the metadata bucket.
func (s *boltStore) Meta() (blocklist.StoreMeta, error) {
	var meta blocklist.StoreMeta
	err := s.db.View(func(tx *bbolt.Tx) error {
		meta = readMeta(tx)
		return nil
	})
	return meta, err
}

func readMeta(tx *bbolt.Tx) blocklist.StoreMeta {
	var meta blocklist.StoreMeta
	b := tx.Bucket(bucketMeta)
	if b == nil {
		return meta
	}
	if v := b.Get(keyGeneration); len(v) == 8 {
		meta.Generation = binary.BigEndian.Uint64(v)
	}
	if v := b.Get(keyUpdated); len(v) == 8 {
		meta.Updated = time.Unix(int64(binary.BigEndian.Uint64(v)), 0).UTC()
	}
	if v := b.Get(keyCount); len(v) == 8 {
		meta.Domains = int(binary.BigEndian.Uint64(v))
	}
	return meta
}

func u64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}
