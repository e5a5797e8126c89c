// Package ratelimit provides the per-(actor, location) write cooldown and the
// per-request idempotency memo. Both are expiring key/value entries backed by
// a shared BadgerDB instance; TTL expiry is the only cleanup mechanism.
package ratelimit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// DefaultCooldown is the write cooldown applied per actor and location.
const DefaultCooldown = 10 * time.Second

// memoTTL bounds how long an idempotency memo survives. It only needs to
// cover repeated callbacks within one logical submission.
const memoTTL = time.Minute

// DB wraps the shared BadgerDB instance hosting cooldown stamps and memos.
type DB struct {
	db *badger.DB
}

// Open opens a persistent expiring key/value store at dir.
func Open(dir string) (*DB, error) {
	options := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	return &DB{db: db}, nil
}

// OpenInMemory opens a non-persistent store, for tests and ephemeral runs.
func OpenInMemory() (*DB, error) {
	options := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open in-memory badger db: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying store.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Limiter is the per-(actor, location) cooldown gate.
type Limiter struct {
	db       *DB
	cooldown time.Duration
	// Now is injectable for tests.
	Now func() time.Time
}

// NewLimiter creates a limiter over the shared store. A non-positive cooldown
// falls back to the default.
func NewLimiter(db *DB, cooldown time.Duration) *Limiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Limiter{db: db, cooldown: cooldown, Now: time.Now}
}

func limiterKey(actorID, location string) []byte {
	return []byte("rl/" + actorID + "/" + location)
}

// IsLimited reports whether the actor is inside the cooldown window for the
// location, and if so how long remains.
func (l *Limiter) IsLimited(actorID, location string) (time.Duration, bool, error) {
	if l == nil || l.db == nil || l.db.db == nil {
		return 0, false, fmt.Errorf("rate limit store is not configured")
	}

	var remaining time.Duration
	err := l.db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(limiterKey(actorID, location))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			if len(value) != 8 {
				return fmt.Errorf("malformed cooldown stamp")
			}
			deadline := time.Unix(0, int64(binary.BigEndian.Uint64(value)))
			remaining = deadline.Sub(l.Now())
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("check cooldown: %w", err)
	}
	if remaining <= 0 {
		return 0, false, nil
	}
	return remaining, true, nil
}

// Record stamps the cooldown for the actor and location. Called only after a
// fully successful write, never after a rejection or a restore.
func (l *Limiter) Record(actorID, location string) error {
	if l == nil || l.db == nil || l.db.db == nil {
		return fmt.Errorf("rate limit store is not configured")
	}

	deadline := l.Now().Add(l.cooldown)
	value := make([]byte, 8)
	binary.BigEndian.PutUint64(value, uint64(deadline.UnixNano()))

	err := l.db.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(limiterKey(actorID, location), value).WithTTL(l.cooldown)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("record cooldown: %w", err)
	}
	return nil
}

// Memo is the short-lived idempotency memo keyed by correlation token.
type Memo struct {
	db *DB
}

// NewMemo creates a memo over the shared store.
func NewMemo(db *DB) *Memo {
	return &Memo{db: db}
}

func memoKey(token string) []byte {
	return []byte("memo/" + token)
}

// Get returns the memoized result for a correlation token, if present.
func (m *Memo) Get(token string) ([]byte, bool, error) {
	if m == nil || m.db == nil || m.db.db == nil {
		return nil, false, fmt.Errorf("memo store is not configured")
	}
	if token == "" {
		return nil, false, nil
	}

	var result []byte
	err := m.db.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(memoKey(token))
		if err != nil {
			return err
		}
		result, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read memo: %w", err)
	}
	return result, true, nil
}

// Put memoizes a computed result for a correlation token.
func (m *Memo) Put(token string, result []byte) error {
	if m == nil || m.db == nil || m.db.db == nil {
		return fmt.Errorf("memo store is not configured")
	}
	if token == "" {
		return nil
	}

	err := m.db.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(memoKey(token), result).WithTTL(memoTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("write memo: %w", err)
	}
	return nil
}
