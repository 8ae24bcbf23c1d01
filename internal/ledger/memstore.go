package ledger

import (
	"context"
	"sync"
)

// MemoryStore keeps the ledger state in process memory. It backs the
// engine in tests and in standalone runs where no MySQL instance is
// configured; state does not survive a restart.
type MemoryStore struct {
	mu          sync.Mutex
	types       map[uint64]PassType
	expirations map[expKey]int64
	balance     uint64
	authority   string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		types:       make(map[uint64]PassType),
		expirations: make(map[expKey]int64),
	}
}

func (s *MemoryStore) Load(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Balance: s.balance, Authority: s.authority}
	for _, pt := range s.types {
		snap.Types = append(snap.Types, pt)
	}
	for k, exp := range s.expirations {
		snap.Expirations = append(snap.Expirations, ExpirationEntry{
			Principal: k.principal,
			PassID:    k.passID,
			ExpiresAt: exp,
		})
	}
	return snap, nil
}

func (s *MemoryStore) SavePassType(ctx context.Context, pt PassType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[pt.ID] = pt
	return nil
}

func (s *MemoryStore) SavePurchase(ctx context.Context, pt PassType, principal string, expiresAt int64, balance uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[pt.ID] = pt
	s.expirations[expKey{principal, pt.ID}] = expiresAt
	s.balance = balance
	return nil
}

func (s *MemoryStore) SaveGrant(ctx context.Context, pt PassType, principal string, expiresAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[pt.ID] = pt
	s.expirations[expKey{principal, pt.ID}] = expiresAt
	return nil
}

func (s *MemoryStore) SaveRevoke(ctx context.Context, principal string, passID uint64, expiresAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expirations[expKey{principal, passID}] = expiresAt
	return nil
}

func (s *MemoryStore) SaveBalance(ctx context.Context, balance uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = balance
	return nil
}

func (s *MemoryStore) SaveAuthority(ctx context.Context, principal string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authority = principal
	return nil
}
