package service

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v3"
)

var noncePrefix = []byte("nonce/")

// BadgerNonceStore keeps nonces in badger using native key TTLs. Expired
// keys are invisible to reads immediately; Purge reclaims their space.
type BadgerNonceStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBadgerNonceStore opens a store in dir, or in memory when dir is empty.
func OpenBadgerNonceStore(dir string, logger *slog.Logger) (*BadgerNonceStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = &badgerLogger{logger: logger}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("replay: open badger: %w", err)
	}

	logger.Info("badger nonce store opened",
		"dir", dir,
		"in_memory", dir == "")

	return &BadgerNonceStore{db: db, logger: logger}, nil
}

func nonceKey(nonce string) []byte {
	return append(append([]byte{}, noncePrefix...), nonce...)
}

// AddIfAbsent implements NonceStore. Badger expiry has one-second
// resolution, so ttl is rounded up to at least a second.
func (s *BadgerNonceStore) AddIfAbsent(nonce string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	key := nonceKey(nonce)

	added := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.SetEntry(badger.NewEntry(key, []byte{1}).WithTTL(ttl)); err != nil {
			return err
		}
		added = true
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		// A concurrent transaction recorded the same nonce first.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("replay: record nonce: %w", err)
	}
	return added, nil
}

// Purge implements NonceStore. It counts expired keys and runs value log GC.
func (s *BadgerNonceStore) Purge() (int, error) {
	expired := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = noncePrefix
		opts.PrefetchValues = false
		opts.AllVersions = true
		it := txn.NewIterator(opts)
		defer it.Close()

		var last []byte
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			// Versions are newest first; only the newest decides.
			if last != nil && string(item.Key()) == string(last) {
				continue
			}
			last = item.KeyCopy(last[:0])
			if item.IsDeletedOrExpired() {
				expired++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("replay: scan nonces: %w", err)
	}

	err = s.db.RunValueLogGC(0.5)
	switch {
	case err == nil,
		errors.Is(err, badger.ErrNoRewrite),
		errors.Is(err, badger.ErrRejected),
		errors.Is(err, badger.ErrGCInMemoryMode):
	default:
		return expired, fmt.Errorf("replay: value log gc: %w", err)
	}
	return expired, nil
}

// Len implements NonceStore. Only unexpired keys are counted.
func (s *BadgerNonceStore) Len() int {
	n := 0
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = noncePrefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n
}

// Close implements NonceStore.
func (s *BadgerNonceStore) Close() error {
	return s.db.Close()
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
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
