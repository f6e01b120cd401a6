package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Entry records a unit that reached the sink within a run
type Entry struct {
	InputHash string    `json:"input_hash"`
	Status    string    `json:"status"`
	WrittenAt time.Time `json:"written_at"`
}

// Store remembers which units each run has already written, so a resumed
// run can skip them. One bucket per categorization run.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the checkpoint database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	return &Store{db: db}, nil
}

func bucketName(runID string) []byte {
	return []byte("run:" + runID)
}

// MarkWritten records that unitID was written in runID with inputHash
func (s *Store) MarkWritten(runID, unitID string, e Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(bucketName(runID))
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(unitID), data)
	})
}

// Get returns the checkpoint for a unit, if any
func (s *Store) Get(runID, unitID string) (Entry, bool, error) {
	var (
		entry Entry
		found bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName(runID))
		if bucket == nil {
			return nil
		}
		data := bucket.Get([]byte(unitID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &entry)
	})
	return entry, found, err
}

// AlreadyWritten reports whether the unit was written in this run from the
// same inputs.
func (s *Store) AlreadyWritten(runID, unitID, inputHash string) (bool, error) {
	e, ok, err := s.Get(runID, unitID)
	if err != nil || !ok {
		return false, err
	}
	return e.InputHash == inputHash, nil
}

// Count returns the number of units checkpointed for a run
func (s *Store) Count(runID string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketName(runID))
		if bucket == nil {
			return nil
		}
		n = bucket.Stats().KeyN
		return nil
	})
	return n, err
}

// DropRun deletes all checkpoints for a run
func (s *Store) DropRun(runID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(bucketName(runID))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}
