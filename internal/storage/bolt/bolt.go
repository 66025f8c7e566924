package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/goodtune/playlimit/internal/storage"
	"go.etcd.io/bbolt"
)

// Layout:
//
//	periods/<user id>/<unix seconds BE><period id BE> -> JSON storage.Period
//
// Keys sort by timestamp inside each user bucket, so a range starting at
// "since" is a single cursor seek.
const bucketPeriods = "periods"

// Store implements storage.Ledger using bbolt.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketPeriods)); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketPeriods, err)
		}
		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append records one period in the user's bucket.
func (s *Store) Append(ctx context.Context, userID string, minutes int64, at time.Time) error {
	if err := storage.ValidateAppend(userID, minutes); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return storage.Wrap("append period", err)
	}
	if at.IsZero() {
		at = s.now()
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(bucketPeriods))
		if root == nil {
			return fmt.Errorf("periods bucket missing")
		}

		id, err := root.NextSequence()
		if err != nil {
			return fmt.Errorf("next period id: %w", err)
		}

		userBucket, err := root.CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return fmt.Errorf("create user bucket: %w", err)
		}

		data, err := marshal(storage.Period{
			ID:        int64(id),
			UserID:    userID,
			Minutes:   minutes,
			Timestamp: at.UTC().Truncate(time.Second),
		})
		if err != nil {
			return err
		}

		return userBucket.Put(periodKey(at.Unix(), id), data)
	})
	return storage.Wrap("append period", err)
}

// SumSince totals a user's periods with timestamp >= since.
func (s *Store) SumSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, storage.Wrap("sum periods", err)
	}

	var total int64
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(bucketPeriods))
		if root == nil {
			return fmt.Errorf("periods bucket missing")
		}
		userBucket := root.Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}

		sum, err := sumBucketSince(userBucket, since)
		total = sum
		return err
	})
	if err != nil {
		return 0, storage.Wrap("sum periods", err)
	}
	return total, nil
}

// GroupedSumSince totals every user's periods with timestamp >= since.
func (s *Store) GroupedSumSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, storage.Wrap("group periods", err)
	}

	totals := make(map[string]int64)
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket([]byte(bucketPeriods))
		if root == nil {
			return fmt.Errorf("periods bucket missing")
		}

		return root.ForEach(func(name, value []byte) error {
			if value != nil {
				// Not a nested bucket.
				return nil
			}
			sum, err := sumBucketSince(root.Bucket(name), since)
			if err != nil {
				return err
			}
			if sum > 0 {
				totals[string(name)] = sum
			}
			return nil
		})
	})
	if err != nil {
		return nil, storage.Wrap("group periods", err)
	}
	return totals, nil
}

func sumBucketSince(b *bbolt.Bucket, since time.Time) (int64, error) {
	var total int64
	c := b.Cursor()
	for k, v := c.Seek(timePrefix(since.Unix())); k != nil; k, v = c.Next() {
		var period storage.Period
		if err := unmarshal(v, &period); err != nil {
			return 0, err
		}
		total += period.Minutes
	}
	return total, nil
}

// periodKey orders records by time, then id. Timestamps before 1970 are
// clamped to zero; the ledger never writes them.
func periodKey(unix int64, id uint64) []byte {
	var buf bytes.Buffer
	buf.Write(timePrefix(unix))
	_ = binary.Write(&buf, binary.BigEndian, id)
	return buf.Bytes()
}

func timePrefix(unix int64) []byte {
	if unix < 0 {
		unix = 0
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(unix))
	return key
}

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}
