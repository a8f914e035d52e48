package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/b0x-token/data-mirror/internal/mirror"
)

var (
	bucketRuns = []byte("runs")
	bucketMeta = []byte("meta")

	keyLatest = []byte("latest")
)

// Keys must sort chronologically as bytes. RFC3339Nano trims trailing
// fractional zeros, which breaks that, so the fraction is fixed-width.
const keyTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Store persists run summaries in a local bbolt database. Runs are keyed by
// start time so a cursor scan yields them in order.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketRuns, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends a run summary and prunes the log down to keep entries.
// keep <= 0 keeps everything.
func (s *Store) Record(summary *mirror.Summary, keep int) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	key := []byte(summary.StartedAt.UTC().Format(keyTimeFormat))
	return s.db.Update(func(tx *bolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if err := runs.Put(key, data); err != nil {
			return err
		}
		if err := tx.Bucket(bucketMeta).Put(keyLatest, key); err != nil {
			return err
		}
		if keep <= 0 {
			return nil
		}
		// Collect keys first; deleting mid-iteration invalidates the cursor.
		var keys [][]byte
		c := runs.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; i+keep < len(keys); i++ {
			if err := runs.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Latest returns the most recent run, or ok=false when none is recorded.
func (s *Store) Latest() (*mirror.Summary, bool, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketMeta).Get(keyLatest)
		if key == nil {
			return nil
		}
		if v := tx.Bucket(bucketRuns).Get(key); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if err != nil || data == nil {
		return nil, false, err
	}
	var summary mirror.Summary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}

// Recent returns up to n runs, newest first.
func (s *Store) Recent(n int) ([]mirror.Summary, error) {
	var out []mirror.Summary
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil && (n <= 0 || len(out) < n); k, v = c.Prev() {
			var summary mirror.Summary
			if err := json.Unmarshal(v, &summary); err != nil {
				return err
			}
			out = append(out, summary)
		}
		return nil
	})
	return out, err
}
