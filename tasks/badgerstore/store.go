/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package badgerstore persists task records in a Badger key-value database.
//
// Each task is stored as JSON under "task:<id>". Updates run in a Badger
// read-write transaction, so concurrent read-modify-write cycles on the same
// task are serialised; a transaction that loses the race is retried.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"chainguard.dev/autogit/tasks"
	"github.com/chainguard-dev/clog"
	"github.com/dgraph-io/badger/v4"
)

const (
	keyPrefix = "task:"

	// maxConflictRetries bounds how often an update that lost a transaction
	// race is replayed.
	maxConflictRetries = 16
)

// Store is a tasks.Store backed by Badger.
type Store struct {
	db *badger.DB
}

var _ tasks.Store = (*Store)(nil)

// New wraps an open database. The caller keeps ownership of db.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

// Open opens (or creates) a database in dir and returns a Store that owns it.
// An empty dir keeps everything in memory.
func Open(dir string) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening task database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

func (s *Store) Create(_ context.Context, t *tasks.Task) error {
	if t.ID == "" {
		return errors.New("task id cannot be empty")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshaling task: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key(t.ID))
		switch {
		case err == nil:
			return fmt.Errorf("%w: %s", tasks.ErrExists, t.ID)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(key(t.ID), data)
	})
}

func (s *Store) Get(_ context.Context, id string) (*tasks.Task, error) {
	var t *tasks.Task
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		t, err = read(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) Update(ctx context.Context, id string, mutate func(*tasks.Task) error) (*tasks.Task, error) {
	for attempt := 0; ; attempt++ {
		var out *tasks.Task
		err := s.db.Update(func(txn *badger.Txn) error {
			t, err := read(txn, id)
			if err != nil {
				return err
			}
			if err := mutate(t); err != nil {
				return err
			}
			t.ID = id
			data, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("marshaling task: %w", err)
			}
			out = t
			return txn.Set(key(id), data)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			clog.FromContext(ctx).With("task", id).With("attempt", attempt+1).Debug("Task update conflicted, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

func (s *Store) List(_ context.Context, f tasks.Filter) ([]*tasks.Task, error) {
	var out []*tasks.Task
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var t tasks.Task
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &t)
			}); err != nil {
				return fmt.Errorf("decoding %s: %w", it.Item().Key(), err)
			}
			if f.Match(&t) {
				out = append(out, &t)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return f.Apply(out), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: %s", tasks.ErrNotFound, id)
			}
			return err
		}
		return txn.Delete(key(id))
	})
}

func read(txn *badger.Txn, id string) (*tasks.Task, error) {
	item, err := txn.Get(key(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", tasks.ErrNotFound, id)
		}
		return nil, err
	}
	var t tasks.Task
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &t)
	}); err != nil {
		return nil, fmt.Errorf("decoding task %s: %w", id, err)
	}
	return &t, nil
}
