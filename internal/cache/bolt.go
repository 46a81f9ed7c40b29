package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltBackend is a Backend kept in a bbolt file. It is unbounded: capacity
// and LRU ordering are LocalBackend concerns. Expired records are removed when
// they are touched, like in the local store.
type BoltBackend struct {
	db     *bolt.DB
	bucket []byte
	clock  func() time.Time

	hits        atomic.Uint64
	misses      atomic.Uint64
	sets        atomic.Uint64
	expirations atomic.Uint64
}

type BoltOptions struct {
	// Bucket is the name of the Bolt bucket to use.
	Bucket string
	// Clock replaces time.Now.
	Clock func() time.Time
}

var _ interface {
	Backend
	PrefixClearer
	StatsReporter
} = (*BoltBackend)(nil)

// OpenBolt initializes or opens a BoltBackend at the given path.
func OpenBolt(path string, opts BoltOptions) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt cache %s: %w", path, err)
	}
	bucket := []byte("cache")
	if opts.Bucket != "" {
		bucket = []byte(opts.Bucket)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create bolt bucket %s: %w", bucket, err)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	return &BoltBackend{db: db, bucket: bucket, clock: clock}, nil
}

// Close closes the underlying database.
func (s *BoltBackend) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BoltBackend) update(fn func(*bolt.Tx) error) error { return closedErr(s.db.Update(fn)) }

func (s *BoltBackend) view(fn func(*bolt.Tx) error) error { return closedErr(s.db.View(fn)) }

// closedErr marks use after Close with ErrClosed.
func closedErr(err error) error {
	if errors.Is(err, bolt.ErrDatabaseNotOpen) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}

// Record layout: 8 bytes big endian expiresAt (UnixNano, 0 = never) || raw value.
func encodeRecord(value []byte, expiresAt time.Time, hasExpiry bool) []byte {
	buf := make([]byte, 8+len(value))
	if hasExpiry {
		binary.BigEndian.PutUint64(buf[:8], uint64(expiresAt.UnixNano()))
	}
	copy(buf[8:], value)
	return buf
}

func recordLive(rec []byte, now time.Time) bool {
	if len(rec) < 8 {
		return false
	}
	expiresAt := int64(binary.BigEndian.Uint64(rec[:8]))
	return expiresAt == 0 || now.UnixNano() < expiresAt
}

// Set stores value with an absolute expiration computed as now+ttl.
func (s *BoltBackend) Set(key string, value []byte, ttl time.Duration) error {
	expiresAt, hasExpiry, err := expiryFor(s.clock(), ttl)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	rec := encodeRecord(value, expiresAt, hasExpiry)
	if err := s.update(func(tx *bolt.Tx) error {
		return tx.Bucket(s.bucket).Put([]byte(key), rec)
	}); err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	s.sets.Add(1)
	return nil
}

// Get returns the value if present and not expired. An expired record is
// deleted in the same transaction.
func (s *BoltBackend) Get(key string) ([]byte, bool, error) {
	out, found, err := s.lookup(key, true)
	if err != nil {
		return nil, false, err
	}
	if found {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return out, found, nil
}

// Exists reports whether key holds a live record.
func (s *BoltBackend) Exists(key string) (bool, error) {
	_, found, err := s.lookup(key, false)
	return found, err
}

func (s *BoltBackend) lookup(key string, copyValue bool) ([]byte, bool, error) {
	var out []byte
	var found bool
	now := s.clock()
	err := s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		rec := b.Get([]byte(key))
		if rec == nil {
			return nil
		}
		if !recordLive(rec, now) {
			s.expirations.Add(1)
			return b.Delete([]byte(key))
		}
		found = true
		if copyValue {
			out = append([]byte{}, rec[8:]...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("get %q: %w", key, err)
	}
	return out, found, nil
}

// Delete removes a key and reports whether it held a live record.
func (s *BoltBackend) Delete(key string) (bool, error) {
	var existed bool
	now := s.clock()
	err := s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		rec := b.Get([]byte(key))
		if rec == nil {
			return nil
		}
		existed = recordLive(rec, now)
		return b.Delete([]byte(key))
	})
	if err != nil {
		return false, fmt.Errorf("delete %q: %w", key, err)
	}
	return existed, nil
}

// Clear drops and recreates the bucket.
func (s *BoltBackend) Clear() error {
	return s.update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
}

// ClearPrefix deletes every key starting with prefix.
func (s *BoltBackend) ClearPrefix(prefix string) (int, error) {
	removed := 0
	p := []byte(prefix)
	err := s.update(func(tx *bolt.Tx) error {
		c := tx.Bucket(s.bucket).Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Seek(p) {
			if err := c.Delete(); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("clear prefix %q: %w", prefix, err)
	}
	return removed, nil
}

// Stats reports counters. Entries includes expired records not touched yet.
func (s *BoltBackend) Stats() (Stats, error) {
	var entries int
	if err := s.view(func(tx *bolt.Tx) error {
		entries = tx.Bucket(s.bucket).Stats().KeyN
		return nil
	}); err != nil {
		return Stats{}, err
	}
	return Stats{
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
		Sets:        s.sets.Load(),
		Expirations: s.expirations.Load(),
		Entries:     entries,
	}, nil
}
