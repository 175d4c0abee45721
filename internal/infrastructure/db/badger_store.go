// Package db internal/infrastructure/db/badger_store.go
package db

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/damon-houk/subtrack-client/internal/domain/repository"
	"github.com/dgraph-io/badger/v3"
)

const keyPrefix = "kv:"

// BadgerStore implements repository.KeyValueStore on top of BadgerDB
type BadgerStore struct {
	db     *badger.DB
	owned  bool
	closed atomic.Bool
}

// Open opens (or creates) a BadgerDB at path. An empty path opens an in-memory database.
func Open(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil // Badger's own logger is noisy for a client

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	return &BadgerStore{db: bdb, owned: true}, nil
}

// NewBadgerStore wraps an already opened database. Close will not close it.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func storageKey(key string) []byte {
	return []byte(keyPrefix + key)
}

// Get retrieves the value stored under key
func (s *BadgerStore) Get(key string) (string, bool, error) {
	if s.closed.Load() {
		return "", false, repository.ErrStoreClosed
	}

	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storageKey(key))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}

	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	return value, true, nil
}

// Set stores value under key
func (s *BadgerStore) Set(key, value string) error {
	return s.SetMany(map[string]string{key: value})
}

// SetMany writes every pair in one transaction
func (s *BadgerStore) SetMany(pairs map[string]string) error {
	if s.closed.Load() {
		return repository.ErrStoreClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for k, v := range pairs {
			if err := txn.Set(storageKey(k), []byte(v)); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return fmt.Errorf("failed to write storage: %w", err)
	}

	return nil
}

// Delete removes every key in one transaction; missing keys are ignored
func (s *BadgerStore) Delete(keys ...string) error {
	if s.closed.Load() {
		return repository.ErrStoreClosed
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, k := range keys {
			if err := txn.Delete(storageKey(k)); err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return fmt.Errorf("failed to delete from storage: %w", err)
	}

	return nil
}

// Close closes the database if this store opened it
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
