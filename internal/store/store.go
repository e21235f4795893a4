// Package store is the persistence gateway: declared worker configs,
// last-known worker PIDs, and user-defined profile bundles, kept in an
// embedded bbolt database. bbolt gives exactly the concurrency contract
// the supervisor expects — reader-safe concurrent reads, one writer at a
// time.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/mcpswarm/mcpswarm/internal/worker"
)

var (
	bucketWorkers  = []byte("workers")
	bucketPIDs     = []byte("process_ids")
	bucketProfiles = []byte("user_profiles")
)

// ProfileEntry is one worker definition inside a profile bundle.
type ProfileEntry struct {
	Name        string            `json:"name"`
	Command     string            `json:"command"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	Description string            `json:"description,omitempty"`
}

// ProfileRecord is a persisted user-defined profile bundle.
type ProfileRecord struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Entries     []ProfileEntry `json:"entries"`
}

// Store wraps the bbolt database. Safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open opens (or creates) the database at path and ensures all buckets
// exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketWorkers, bucketPIDs, bucketProfiles} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close flushes and closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ── Workers ────────────────────────────────────────────────────────────────

// SaveWorker persists a declared worker config keyed by name. Derived
// instance configs (names carrying the '#' or '@' markers) are never
// written back, so a clone can never shadow its primary in the store.
func (s *Store) SaveWorker(cfg worker.Config) error {
	if strings.ContainsAny(cfg.Name, "#@") {
		return nil
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("store: marshal worker %q: %w", cfg.Name, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).Put([]byte(cfg.Name), data)
	})
}

// GetWorker loads one worker config. The second return is false when the
// name is unknown.
func (s *Store) GetWorker(name string) (worker.Config, bool, error) {
	var cfg worker.Config
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketWorkers).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &cfg)
	})
	if err != nil {
		return worker.Config{}, false, fmt.Errorf("store: get worker %q: %w", name, err)
	}
	return cfg, found, nil
}

// ListWorkers returns every persisted worker config, sorted by name.
func (s *Store) ListWorkers() ([]worker.Config, error) {
	var out []worker.Config
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).ForEach(func(_, v []byte) error {
			var cfg worker.Config
			if err := json.Unmarshal(v, &cfg); err != nil {
				return err
			}
			out = append(out, cfg)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list workers: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteWorker removes a persisted config. Deleting an unknown name is a
// no-op.
func (s *Store) DeleteWorker(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketWorkers).Delete([]byte(name))
	})
}

// ── Process IDs ────────────────────────────────────────────────────────────

// SavePID records the live child PID for a local worker so a later
// startup can terminate orphans.
func (s *Store) SavePID(name string, pid int) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(pid))
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPIDs).Put([]byte(name), buf[:])
	})
}

// DeletePID drops one PID record.
func (s *Store) DeletePID(name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPIDs).Delete([]byte(name))
	})
}

// ListPIDs returns the full PID table. Entries with a malformed value are
// skipped.
func (s *Store) ListPIDs() (map[string]int, error) {
	out := make(map[string]int)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPIDs).ForEach(func(k, v []byte) error {
			if len(v) != 8 {
				return nil
			}
			out[string(k)] = int(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list pids: %w", err)
	}
	return out, nil
}

// ClearPIDs empties the PID table in one transaction.
func (s *Store) ClearPIDs() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketPIDs); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketPIDs)
		return err
	})
}

// ── User profiles ──────────────────────────────────────────────────────────

// SaveProfile persists a user-defined profile bundle.
func (s *Store) SaveProfile(p ProfileRecord) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: marshal profile %q: %w", p.Name, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProfiles).Put([]byte(p.Name), data)
	})
}

// GetProfile loads one user profile bundle.
func (s *Store) GetProfile(name string) (ProfileRecord, bool, error) {
	var p ProfileRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketProfiles).Get([]byte(name))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &p)
	})
	if err != nil {
		return ProfileRecord{}, false, fmt.Errorf("store: get profile %q: %w", name, err)
	}
	return p, found, nil
}

// ListProfiles returns every user profile, sorted by name.
func (s *Store) ListProfiles() ([]ProfileRecord, error) {
	var out []ProfileRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProfiles).ForEach(func(_, v []byte) error {
			var p ProfileRecord
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: list profiles: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// DeleteProfile removes a user profile. The second return is false when
// the name was not present.
func (s *Store) DeleteProfile(name string) (bool, error) {
	existed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		if b.Get([]byte(name)) == nil {
			return nil
		}
		existed = true
		return b.Delete([]byte(name))
	})
	if err != nil {
		return false, fmt.Errorf("store: delete profile %q: %w", name, err)
	}
	return existed, nil
}
