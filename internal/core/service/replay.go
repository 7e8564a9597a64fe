package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	clusterv1 "github.com/yndnr/relaymesh-go/api/cluster/v1"
	"github.com/yndnr/relaymesh-go/internal/rpc"
)

// Replay store kinds.
const (
	ReplayStoreMemory = "memory"
	ReplayStoreBadger = "badger"
)

// NonceStore records consumed nonces until they expire.
type NonceStore interface {
	// AddIfAbsent records nonce for ttl unless an unexpired record exists.
	// It reports whether the nonce was recorded.
	AddIfAbsent(nonce string, ttl time.Duration) (bool, error)

	// Purge removes expired records and returns how many were removed.
	Purge() (int, error)

	// Len returns the number of records held, expired or not.
	Len() int

	Close() error
}

// ReplayConfig configures the replay cache.
type ReplayConfig struct {
	Store         string
	Dir           string // badger directory; empty keeps badger in memory
	DefaultTTL    time.Duration
	SweepInterval time.Duration
}

// DefaultReplayConfig returns the stock replay cache settings.
func DefaultReplayConfig() ReplayConfig {
	return ReplayConfig{
		Store:         ReplayStoreMemory,
		DefaultTTL:    time.Minute,
		SweepInterval: 10 * time.Second,
	}
}

// OpenNonceStore opens the store selected by cfg.Store.
func OpenNonceStore(cfg ReplayConfig, logger *slog.Logger) (NonceStore, error) {
	switch cfg.Store {
	case "", ReplayStoreMemory:
		return NewMemoryNonceStore(), nil
	case ReplayStoreBadger:
		return OpenBadgerNonceStore(cfg.Dir, logger)
	default:
		return nil, fmt.Errorf("replay: unknown store %q", cfg.Store)
	}
}

// ReplayCache answers whether a nonce may still be used. Checking never
// purges; expired records are removed by Sweep.
type ReplayCache struct {
	store      NonceStore
	defaultTTL time.Duration
	interval   time.Duration
	logger     *slog.Logger
}

// NewReplayCache creates a cache over store.
func NewReplayCache(store NonceStore, cfg ReplayConfig, logger *slog.Logger) *ReplayCache {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	return &ReplayCache{
		store:      store,
		defaultTTL: cfg.DefaultTTL,
		interval:   cfg.SweepInterval,
		logger:     logger,
	}
}

// IsValidNonce consumes nonce. It returns true on first use within ttl and
// false for a replay. A non-positive ttl uses the configured default.
func (c *ReplayCache) IsValidNonce(nonce string, ttl time.Duration) (bool, error) {
	if nonce == "" {
		return false, errors.New("replay: empty nonce")
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	return c.store.AddIfAbsent(nonce, ttl)
}

// Sweep purges expired nonces.
func (c *ReplayCache) Sweep() {
	n, err := c.store.Purge()
	if err != nil {
		c.logger.Warn("replay cache sweep failed", "error", err)
		return
	}
	if n > 0 {
		c.logger.Debug("replay cache purged nonces", "purged", n)
	}
}

// Len returns the number of stored nonces.
func (c *ReplayCache) Len() int {
	return c.store.Len()
}

// Run sweeps periodically until ctx ends.
func (c *ReplayCache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

// Close closes the underlying store.
func (c *ReplayCache) Close() error {
	return c.store.Close()
}

// Methods returns the RPC methods of the cache.
func (c *ReplayCache) Methods() map[string]rpc.HandlerFunc {
	return map[string]rpc.HandlerFunc{
		clusterv1.MethodIsValidNonce: rpc.Bind(func(_ context.Context, p clusterv1.IsValidNonceParams) (bool, error) {
			return c.IsValidNonce(p.Nonce, time.Duration(p.TTLMs)*time.Millisecond)
		}),
	}
}

// MemoryNonceStore keeps nonces in a map with their expiry time.
type MemoryNonceStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	now     func() time.Time
}

// NewMemoryNonceStore creates an empty in-memory store.
func NewMemoryNonceStore() *MemoryNonceStore {
	return &MemoryNonceStore{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// AddIfAbsent implements NonceStore. An expired record is overwritten in
// place rather than purged.
func (s *MemoryNonceStore) AddIfAbsent(nonce string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.expires[nonce]; ok && now.Before(exp) {
		return false, nil
	}
	s.expires[nonce] = now.Add(ttl)
	return true, nil
}

// Purge implements NonceStore.
func (s *MemoryNonceStore) Purge() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	purged := 0
	for nonce, exp := range s.expires {
		if !now.Before(exp) {
			delete(s.expires, nonce)
			purged++
		}
	}
	return purged, nil
}

// Len implements NonceStore.
func (s *MemoryNonceStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}

// Close implements NonceStore.
func (s *MemoryNonceStore) Close() error { return nil }
