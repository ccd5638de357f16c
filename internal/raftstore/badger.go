// Package raftstore implements the raft LogStore and StableStore on BadgerDB.
//
// One Store instance backs one of the two raft directories: log/ for the
// replicated log entries and raft_meta/ for the stable key/value state
// (current term, vote). Keys are namespaced by the cluster group id so a
// database directory is never shared across groups by accident.
package raftstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/hashicorp/raft"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrKeyNotFound is returned by Get/GetUint64 for missing keys. The message
// must be exactly "not found": hashicorp/raft string-matches it when reading
// the initial term and vote from an empty store.
var ErrKeyNotFound = errors.New("not found")

var (
	logPrefix    = []byte("l/")
	stablePrefix = []byte("s/")
)

// Store is a badger database exposing the raft LogStore and StableStore
// interfaces.
type Store struct {
	db    *badger.DB
	group []byte
}

var _ raft.LogStore = (*Store)(nil)
var _ raft.StableStore = (*Store)(nil)

// Open creates or opens the badger database in dir, namespaced by groupID.
func Open(dir, groupID string, logger zerolog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(badgerLogger{logger.With().Str("component", "raftstore").Str("dir", dir).Logger()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store at %s: %w", dir, err)
	}
	return &Store{db: db, group: []byte(groupID)}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) logKey(index uint64) []byte {
	key := make([]byte, 0, len(logPrefix)+len(s.group)+1+8)
	key = append(key, logPrefix...)
	key = append(key, s.group...)
	key = append(key, '/')
	key = binary.BigEndian.AppendUint64(key, index)
	return key
}

func (s *Store) stableKey(k []byte) []byte {
	key := make([]byte, 0, len(stablePrefix)+len(s.group)+1+len(k))
	key = append(key, stablePrefix...)
	key = append(key, s.group...)
	key = append(key, '/')
	key = append(key, k...)
	return key
}

// FirstIndex returns the index of the oldest stored log entry, 0 when empty.
func (s *Store) FirstIndex() (uint64, error) {
	return s.edgeIndex(false)
}

// LastIndex returns the index of the newest stored log entry, 0 when empty.
func (s *Store) LastIndex() (uint64, error) {
	return s.edgeIndex(true)
}

func (s *Store) edgeIndex(reverse bool) (uint64, error) {
	prefix := s.logKey(0)[:len(logPrefix)+len(s.group)+1]

	var index uint64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Reverse = reverse
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := prefix
		if reverse {
			// Position after the last possible key of the namespace.
			seek = append(bytes.Clone(prefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		}
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		key := it.Item().Key()
		index = binary.BigEndian.Uint64(key[len(prefix):])
		return nil
	})
	return index, err
}

// GetLog fetches the entry at index into out.
func (s *Store) GetLog(index uint64, out *raft.Log) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.logKey(index))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return msgpack.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return raft.ErrLogNotFound
	}
	return err
}

// StoreLog persists a single entry.
func (s *Store) StoreLog(entry *raft.Log) error {
	return s.StoreLogs([]*raft.Log{entry})
}

// StoreLogs persists a batch of entries atomically.
func (s *Store) StoreLogs(entries []*raft.Log) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for _, entry := range entries {
			val, err := msgpack.Marshal(entry)
			if err != nil {
				return fmt.Errorf("encode log entry %d: %w", entry.Index, err)
			}
			if err := txn.Set(s.logKey(entry.Index), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteRange removes all entries with min <= index <= max. Raft uses it for
// both head truncation after snapshots and tail truncation on conflicts.
func (s *Store) DeleteRange(min, max uint64) error {
	batch := s.db.NewWriteBatch()
	defer batch.Cancel()

	for index := min; index <= max; index++ {
		if err := batch.Delete(s.logKey(index)); err != nil {
			return err
		}
	}
	return batch.Flush()
}

// Set stores a stable key/value pair.
func (s *Store) Set(key, val []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.stableKey(key), val)
	})
}

// Get fetches a stable value; missing keys return ErrKeyNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.stableKey(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrKeyNotFound
	}
	return val, err
}

// SetUint64 stores a stable counter.
func (s *Store) SetUint64(key []byte, val uint64) error {
	return s.Set(key, binary.BigEndian.AppendUint64(nil, val))
}

// GetUint64 fetches a stable counter; missing keys return ErrKeyNotFound.
func (s *Store) GetUint64(key []byte) (uint64, error) {
	val, err := s.Get(key)
	if err != nil {
		return 0, err
	}
	if len(val) != 8 {
		return 0, fmt.Errorf("stable value for %q is %d bytes, want 8", key, len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}

// badgerLogger adapts zerolog to badger's Logger interface.
type badgerLogger struct {
	log zerolog.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(trimNewline(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Warn().Msgf(trimNewline(format), args...)
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.Debug().Msgf(trimNewline(format), args...)
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(trimNewline(format), args...)
}

func trimNewline(format string) string {
	for len(format) > 0 && format[len(format)-1] == '\n' {
		format = format[:len(format)-1]
	}
	return format
}
