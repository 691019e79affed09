package chat

import (
	"sync"
	"time"
)

// BanList is a mutex-guarded set of banned client IPs, managed from the
// admin console and consulted by the accept loop.
type BanList struct {
	mu     sync.RWMutex
	banned map[string]struct{}
}

// NewBanList creates an empty ban list.
func NewBanList() *BanList {
	return &BanList{banned: make(map[string]struct{})}
}

// IsBanned reports whether ip is banned.
func (b *BanList) IsBanned(ip string) bool {
	b.mu.RLock()
	_, ok := b.banned[ip]
	b.mu.RUnlock()
	return ok
}

// Ban adds ip to the list. Idempotent.
func (b *BanList) Ban(ip string) {
	b.mu.Lock()
	b.banned[ip] = struct{}{}
	b.mu.Unlock()
}

// Unban removes ip from the list. Idempotent.
func (b *BanList) Unban(ip string) {
	b.mu.Lock()
	delete(b.banned, ip)
	b.mu.Unlock()
}

// Banned returns a snapshot of the banned IPs.
func (b *BanList) Banned() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.banned))
	for ip := range b.banned {
		out = append(out, ip)
	}
	return out
}

// RateLimiter caps how many connections a single IP may open within a
// sliding window. It protects the accept loop from reconnect storms; an
// established session is unaffected.
type RateLimiter struct {
	mu      sync.Mutex
	entries map[string][]time.Time
	limit   int
	window  time.Duration
	now     func() time.Time
}

// NewRateLimiter allows up to limit connections per IP per window.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		entries: make(map[string][]time.Time),
		limit:   limit,
		window:  window,
		now:     time.Now,
	}
}

// Allow records a connection attempt from ip and reports whether it is
// within the limit. Attempts older than the window are discarded as a side
// effect, so the map never grows past one window of history per IP.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)

	kept := rl.entries[ip][:0]
	for _, ts := range rl.entries[ip] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rl.limit {
		rl.entries[ip] = kept
		return false
	}
	rl.entries[ip] = append(kept, now)
	return true
}
