package storage

import (
	"bytes"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// MemoryStore keeps accounts in memory, useful for testing.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[solana.PublicKey][]byte
	lastSeq  uint64
	closed   bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[solana.PublicKey][]byte)}
}

func (s *MemoryStore) SaveAccounts(accounts []Account, lastCmdSeqID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, acc := range accounts {
		s.accounts[acc.Address] = bytes.Clone(acc.Data)
	}
	s.lastSeq = lastCmdSeqID
	return nil
}

// LoadAccounts returns every account ordered by address.
func (s *MemoryStore) LoadAccounts() ([]Account, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, 0, ErrClosed
	}
	out := make([]Account, 0, len(s.accounts))
	for addr, data := range s.accounts {
		out = append(out, Account{Address: addr, Data: bytes.Clone(data)})
	}
	slices.SortFunc(out, func(a, b Account) int {
		return bytes.Compare(a.Address[:], b.Address[:])
	})
	return out, s.lastSeq, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
