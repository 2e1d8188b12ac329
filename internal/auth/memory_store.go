package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// MemoryStore keeps the token catalogue in memory, keyed by the SHA-256 of
// each token so the plaintext credential is discarded after seeding.
type MemoryStore struct {
	mu       sync.RWMutex
	subjects map[string]*Subject
}

// NewMemoryStore builds a store seeded with the given tokens. Seeds with an
// empty token value are skipped.
func NewMemoryStore(seeds ...TokenSeed) *MemoryStore {
	store := &MemoryStore{subjects: make(map[string]*Subject, len(seeds))}
	for _, seed := range seeds {
		store.Put(seed)
	}
	return store
}

// Put registers or replaces one token seed.
func (m *MemoryStore) Put(seed TokenSeed) {
	token := strings.TrimSpace(seed.Token)
	if token == "" {
		return
	}
	subject := &Subject{
		Name:        seed.Name,
		Permissions: append([]string(nil), seed.Permissions...),
		Disabled:    seed.Disabled,
	}
	subject.normalise()

	m.mu.Lock()
	m.subjects[hashToken(token)] = subject
	m.mu.Unlock()
}

// Revoke disables the subject behind the given token. Unknown tokens are a
// no-op.
func (m *MemoryStore) Revoke(token string) {
	m.mu.Lock()
	if subject, ok := m.subjects[hashToken(strings.TrimSpace(token))]; ok {
		subject.Disabled = true
	}
	m.mu.Unlock()
}

// Resolve maps a presented token to its subject.
func (m *MemoryStore) Resolve(_ context.Context, token string) (*Subject, error) {
	m.mu.RLock()
	subject, ok := m.subjects[hashToken(token)]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidToken
	}
	return subject.Clone(), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

var _ Store = (*MemoryStore)(nil)
