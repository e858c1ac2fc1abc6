package manifest

import (
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("manifest")

// BoltStore keeps the manifest in a bbolt bucket. bbolt holds an exclusive file lock,
// so a second process opening the same namespace times out instead of corrupting it.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore opens or creates dir/manifest.bolt.
func NewBoltStore(dir string) (*BoltStore, error) {
	path := filepath.Join(dir, BoltFileName)
	db, err := bolt.Open(path, 0644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create manifest bucket: %w", err)
	}
	return &BoltStore{db: db, path: path}, nil
}

// Get returns the filename stored for key.
func (s *BoltStore) Get(key string) (string, bool, error) {
	var filename string
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketName).Get([]byte(key)); v != nil {
			filename, ok = string(v), true
		}
		return nil
	})
	return filename, ok, err
}

// Put sets key -> filename, replacing any previous value.
func (s *BoltStore) Put(key, filename string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), []byte(filename))
	})
}

// PutMany writes entries in one transaction.
func (s *BoltStore) PutMany(entries []Entry, overwrite bool) (int, error) {
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		for _, e := range entries {
			if !overwrite && b.Get([]byte(e.Key)) != nil {
				continue
			}
			if err := b.Put([]byte(e.Key), []byte(e.Filename)); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Remove deletes key and returns the filename it pointed to.
func (s *BoltStore) Remove(key string) (string, bool, error) {
	var filename string
	var ok bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(key))
		if v == nil {
			return nil
		}
		filename, ok = string(v), true
		return b.Delete([]byte(key))
	})
	if err != nil {
		return "", false, err
	}
	return filename, ok, nil
}

// Entries returns all rows sorted by key (bbolt iterates in byte order).
func (s *BoltStore) Entries() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).ForEach(func(k, v []byte) error {
			entries = append(entries, Entry{Key: string(k), Filename: string(v)})
			return nil
		})
	})
	return entries, err
}

// Clear drops and recreates the bucket.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
}

// Path returns the database file path.
func (s *BoltStore) Path() string { return s.path }

// Close closes the database and releases its file lock.
func (s *BoltStore) Close() error { return s.db.Close() }
