// Copyright (C) 2025 VibeForge (jaggannadhan@vibeforge.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tracebus

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
)

// EventStore is a durable per-project event buffer. It lets a subscriber
// that connects after a process restart still replay the active run.
type EventStore interface {
	// Append persists one event at the end of the project's sequence.
	Append(projectID string, event AgentEvent) error

	// Replay returns the project's stored events in append order.
	Replay(projectID string) ([]AgentEvent, error)

	// Reset drops the project's stored events (new run starting).
	Reset(projectID string) error

	// Close releases the underlying storage.
	Close() error
}

// BadgerStore implements EventStore on an embedded BadgerDB.
//
// # Description
//
// Events are stored under evt/<projectID>/<seq> with a process-wide
// monotonic sequence, so a prefix scan yields append order. SyncWrites is
// off; losing the tail of a replay buffer on a crash costs a subscriber a
// few frames, not correctness.
type BadgerStore struct {
	db  *badger.DB
	seq atomic.Uint64
}

// OpenBadgerStore opens (or creates) the event buffer at path. An empty
// path opens an in-memory database, used by tests.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithSyncWrites(false)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening event buffer: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Append implements EventStore.
func (s *BadgerStore) Append(projectID string, event AgentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	key := fmt.Sprintf("evt/%s/%020d", projectID, s.seq.Add(1))
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// Replay implements EventStore.
func (s *BadgerStore) Replay(projectID string) ([]AgentEvent, error) {
	var events []AgentEvent
	prefix := []byte(fmt.Sprintf("evt/%s/", projectID))
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var event AgentEvent
				if err := json.Unmarshal(val, &event); err != nil {
					return err
				}
				events = append(events, event)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("replaying events: %w", err)
	}
	return events, nil
}

// Reset implements EventStore.
func (s *BadgerStore) Reset(projectID string) error {
	prefix := []byte(fmt.Sprintf("evt/%s/", projectID))
	return s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, key := range keys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close implements EventStore.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
