package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/gagliardetto/solana-go"
)

// PebbleStore persists accounts in a pebble database.
type PebbleStore struct {
	db *pebble.DB
}

// keys: a:<32-byte-address>, seq
var (
	accountPrefix = []byte("a:")
	seqKey        = []byte("seq")
)

func accountKey(addr solana.PublicKey) []byte {
	return append(bytes.Clone(accountPrefix), addr[:]...)
}

// accountUpperBound is the first key past every account key.
func accountUpperBound() []byte {
	return []byte("a;")
}

// NewPebbleStore opens (or creates) a database at path.
func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

// SaveAccounts writes every account and the sequence id in one synced batch.
func (s *PebbleStore) SaveAccounts(accounts []Account, lastCmdSeqID uint64) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, acc := range accounts {
		if err := batch.Set(accountKey(acc.Address), acc.Data, nil); err != nil {
			return fmt.Errorf("stage account %s: %w", acc.Address, err)
		}
	}
	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], lastCmdSeqID)
	if err := batch.Set(seqKey, seq[:], nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit accounts: %w", err)
	}
	return nil
}

// LoadAccounts returns every account ordered by address.
func (s *PebbleStore) LoadAccounts() ([]Account, uint64, error) {
	var lastSeq uint64
	val, closer, err := s.db.Get(seqKey)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return nil, 0, fmt.Errorf("get sequence: %w", err)
	default:
		if len(val) == 8 {
			lastSeq = binary.BigEndian.Uint64(val)
		}
		closer.Close()
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: accountPrefix,
		UpperBound: accountUpperBound(),
	})
	if err != nil {
		return nil, 0, err
	}
	defer iter.Close()

	out := make([]Account, 0)
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != len(accountPrefix)+solana.PublicKeyLength {
			continue
		}
		var acc Account
		copy(acc.Address[:], key[len(accountPrefix):])
		acc.Data = bytes.Clone(iter.Value())
		out = append(out, acc)
	}
	if err := iter.Error(); err != nil {
		return nil, 0, err
	}
	return out, lastSeq, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
