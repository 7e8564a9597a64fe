package service

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	clusterv1 "github.com/yndnr/relaymesh-go/api/cluster/v1"
	"github.com/yndnr/relaymesh-go/internal/rpc"
)

// RateLimiterConfig configures the per-IP credit bucket.
type RateLimiterConfig struct {
	Enabled           bool
	InitialCredit     int
	RequestCost       int
	MaxCredit         int
	CreditAddon       int
	Interval          time.Duration
	InactivityTimeout time.Duration

	// Whitelist holds IPs or CIDR prefixes that are never charged.
	Whitelist []string
}

// DefaultRateLimiterConfig returns the stock limiter settings.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		InitialCredit:     1000,
		RequestCost:       10,
		MaxCredit:         1200,
		CreditAddon:       100,
		Interval:          time.Second,
		InactivityTimeout: 5 * time.Minute,
	}
}

type creditEntry struct {
	credit       int
	lastActivity time.Time
}

// RateLimiter charges a fixed cost per request against each IP's credit.
// Credit is replenished by Sweep, which also evicts idle, fully credited
// entries so memory stays bounded without per-IP timers.
type RateLimiter struct {
	mu        sync.Mutex
	cfg       RateLimiterConfig
	whitelist []netip.Prefix
	entries   map[string]*creditEntry
	now       func() time.Time
	logger    *slog.Logger

	rejected atomic.Uint64
}

// NewRateLimiter creates a limiter. Invalid whitelist entries are logged
// and ignored.
func NewRateLimiter(cfg RateLimiterConfig, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &RateLimiter{
		entries: make(map[string]*creditEntry),
		now:     time.Now,
		logger:  logger,
	}
	l.Reload(cfg)
	return l
}

// Reload replaces the limiter settings. Existing credit is kept.
func (l *RateLimiter) Reload(cfg RateLimiterConfig) {
	whitelist := parseWhitelist(cfg.Whitelist, l.logger)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	l.whitelist = whitelist
}

func parseWhitelist(entries []string, logger *slog.Logger) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		if p, err := netip.ParsePrefix(e); err == nil {
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			logger.Warn("ignoring invalid rate limiter whitelist entry", "entry", e)
			continue
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes
}

func (l *RateLimiter) whitelisted(ip string) bool {
	if len(l.whitelist) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range l.whitelist {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Allow charges one request against ip. A request that cannot be paid for
// is rejected without touching the entry.
func (l *RateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.cfg.Enabled || l.whitelisted(ip) {
		return true
	}

	e, ok := l.entries[ip]
	if !ok {
		e = &creditEntry{credit: l.cfg.InitialCredit}
		l.entries[ip] = e
	}
	if e.credit < l.cfg.RequestCost {
		l.rejected.Add(1)
		return false
	}
	e.credit -= l.cfg.RequestCost
	e.lastActivity = l.now()
	return true
}

// Sweep adds CreditAddon to every entry, capped at MaxCredit, and evicts
// entries at MaxCredit that have been idle past InactivityTimeout.
func (l *RateLimiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for ip, e := range l.entries {
		if e.credit >= l.cfg.MaxCredit && now.Sub(e.lastActivity) > l.cfg.InactivityTimeout {
			delete(l.entries, ip)
			evicted++
			continue
		}
		e.credit = min(e.credit+l.cfg.CreditAddon, l.cfg.MaxCredit)
	}
	if evicted > 0 {
		l.logger.Debug("rate limiter evicted idle entries",
			"evicted", evicted,
			"remaining", len(l.entries))
	}
}

// Len returns the number of tracked IPs.
func (l *RateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Rejected returns the number of rejected requests so far.
func (l *RateLimiter) Rejected() uint64 {
	return l.rejected.Load()
}

func (l *RateLimiter) interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cfg.Interval <= 0 {
		return time.Second
	}
	return l.cfg.Interval
}

// Run sweeps on every interval until ctx ends. A reloaded interval takes
// effect after the next tick.
func (l *RateLimiter) Run(ctx context.Context) {
	interval := l.interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
			if next := l.interval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

// Methods returns the RPC methods of the limiter.
func (l *RateLimiter) Methods() map[string]rpc.HandlerFunc {
	return map[string]rpc.HandlerFunc{
		clusterv1.MethodCanPerformRequest: rpc.Bind(func(_ context.Context, p clusterv1.CanPerformRequestParams) (bool, error) {
			return l.Allow(p.IP), nil
		}),
	}
}
