package auth

import (
	"context"
	"sync"
	"time"
)

// Blacklist is a time-bounded membership set for revoked token hashes.
// Entries expire with the token they track; Contains must never report an
// entry whose expiry has passed.
type Blacklist interface {
	Add(ctx context.Context, tokenHash string, expiresAt time.Time) error
	Contains(ctx context.Context, tokenHash string) (bool, error)
	Clear(ctx context.Context) error
}

// MemoryBlacklist keeps revoked tokens in-process. Expired entries are swept
// lazily on every Contains call, so no background timer is needed and the
// set cannot grow past the volume of live tokens.
type MemoryBlacklist struct {
	mu     sync.Mutex
	expiry map[string]time.Time
	now    func() time.Time
}

func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{
		expiry: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (b *MemoryBlacklist) Add(_ context.Context, tokenHash string, expiresAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expiry[tokenHash] = expiresAt
	return nil
}

func (b *MemoryBlacklist) Contains(_ context.Context, tokenHash string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweep()
	_, ok := b.expiry[tokenHash]
	return ok, nil
}

func (b *MemoryBlacklist) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.expiry = make(map[string]time.Time)
	return nil
}

// sweep removes entries past their expiry. Callers must hold b.mu.
func (b *MemoryBlacklist) sweep() {
	now := b.now().UTC()
	for hash, expiresAt := range b.expiry {
		if expiresAt.Before(now) {
			delete(b.expiry, hash)
		}
	}
}
