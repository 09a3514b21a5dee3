// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package screenstore persists Screens and their chat history on the client.
//
// # Description
//
// Each named screen is stored under one BadgerDB key as a JSON Record. The
// store is the consumer's copy of the last authoritative snapshot; it is
// overwritten with every final event and never merged.
//
// # Thread Safety
//
// Store is safe for concurrent use. BadgerDB holds a directory lock, so only
// one process may open a persistent store at a time.
package screenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/AleutianScreens/pkg/validation"
	"github.com/AleutianAI/AleutianScreens/services/screens/datatypes"
	"github.com/AleutianAI/AleutianScreens/services/screens/screen"
	"github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces screen records.
const keyPrefix = "screen:"

// ErrNotFound is returned when no screen is stored under a name.
var ErrNotFound = errors.New("screen not found")

// Record is the persisted state of one named screen.
type Record struct {
	Name      string                  `json:"name"`
	Screen    screen.Screen           `json:"screen"`
	Digest    string                  `json:"digest"`
	Messages  []datatypes.ChatMessage `json:"messages"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Config configures Open.
type Config struct {
	// Path is the database directory. Required unless InMemory.
	Path string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool

	// Logger receives BadgerDB's internal messages. Nil silences them.
	Logger *slog.Logger
}

// Store is a BadgerDB-backed collection of Records.
type Store struct {
	db *badger.DB
}

// badgerLogger adapts slog to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Open opens or creates a store.
//
// # Outputs
//
//   - *Store: Ready store. Call Close when done.
//   - error: Missing path, unwritable directory, or a lock held by another
//     process.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	switch {
	case cfg.InMemory:
		opts = badger.DefaultOptions("").WithInMemory(true)
	case cfg.Path == "":
		return nil, errors.New("path is required for a persistent store")
	default:
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open screen store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ValidateName reports whether name can be used as a screen name.
func ValidateName(name string) error {
	return validation.ValidateScreenName(name)
}

// Save stores a screen and its history under name, replacing any previous
// record.
//
// Messages beyond the most recent datatypes.MaxMessagesPerRequest are
// dropped so that the stored history can be sent back as-is. The digest is
// recomputed from s.
func (s *Store) Save(name string, sc screen.Screen, messages []datatypes.ChatMessage) (Record, error) {
	if err := ValidateName(name); err != nil {
		return Record{}, err
	}
	digest, err := screen.Digest(sc)
	if err != nil {
		return Record{}, fmt.Errorf("digest screen: %w", err)
	}
	if n := len(messages); n > datatypes.MaxMessagesPerRequest {
		messages = messages[n-datatypes.MaxMessagesPerRequest:]
	}
	rec := Record{
		Name:      name,
		Screen:    sc,
		Digest:    digest,
		Messages:  append([]datatypes.ChatMessage{}, messages...),
		UpdatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return Record{}, fmt.Errorf("marshal record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(name), data)
	})
	if err != nil {
		return Record{}, fmt.Errorf("save screen %s: %w", name, err)
	}
	return rec, nil
}

// Load returns the record stored under name, or ErrNotFound.
func (s *Store) Load(name string) (Record, error) {
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return Record{}, fmt.Errorf("load screen %s: %w", name, err)
	}
	return rec, nil
}

// LoadOrEmpty returns the stored record, or a fresh one holding an empty
// Screen when nothing is stored yet.
func (s *Store) LoadOrEmpty(name string) (Record, error) {
	rec, err := s.Load(name)
	if errors.Is(err, ErrNotFound) {
		return Record{Name: name, Screen: screen.Empty(), Messages: []datatypes.ChatMessage{}}, nil
	}
	return rec, err
}

// Delete removes the record under name. Deleting a missing name is not an
// error.
func (s *Store) Delete(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(name))
	})
	if err != nil {
		return fmt.Errorf("delete screen %s: %w", name, err)
	}
	return nil
}

// List returns the stored screen names in key order.
func (s *Store) List() ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list screens: %w", err)
	}
	return names, nil
}

func key(name string) []byte {
	return []byte(keyPrefix + name)
}
