// Package storage persists the local reschedule record and action history in bbolt.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.etcd.io/bbolt"

	"github.com/yairfalse/lapse/internal/reschedule"
)

// Bucket names in bbolt
var (
	bucketSchedule = []byte("schedule")
	bucketActions  = []byte("actions")
)

var keyNextCheck = []byte("next_check")

// Store is a single-file bbolt database.
type Store struct {
	mu sync.RWMutex
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{bucketSchedule, bucketActions} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init buckets: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get returns the stored reschedule record, or reschedule.ErrRecordNotFound.
func (s *Store) Get(_ context.Context) (*reschedule.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec *reschedule.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSchedule).Get(keyNextCheck)
		if data == nil {
			return reschedule.ErrRecordNotFound
		}
		rec = &reschedule.Record{}
		return json.Unmarshal(data, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Put replaces the stored reschedule record.
func (s *Store) Put(_ context.Context, rec *reschedule.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedule).Put(keyNextCheck, data)
	})
}

// Ensure creates the reschedule record named name when none exists yet.
func (s *Store) Ensure(ctx context.Context, name string, fireAt time.Time) error {
	_, err := s.Get(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, reschedule.ErrRecordNotFound) {
		return err
	}
	return s.Put(ctx, &reschedule.Record{Name: name, FireAt: fireAt})
}

// ActionRecord is one entry of the action history.
type ActionRecord struct {
	InstanceID string    `json:"instance_id"`
	Action     string    `json:"action"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	At         time.Time `json:"at"`
}

// RecordAction appends an entry to the action history.
func (s *Store) RecordAction(_ context.Context, rec ActionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketActions)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		return bucket.Put(sequenceKey(seq), data)
	})
}

// RecentActions returns up to limit history entries, newest first.
// A non-positive limit returns everything.
func (s *Store) RecentActions(_ context.Context, limit int) ([]ActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ActionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketActions).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			var rec ActionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode action %x: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func sequenceKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}
