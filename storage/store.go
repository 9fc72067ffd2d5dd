// Package storage persists serialized accounts between engine restarts.
package storage

import (
	"errors"

	"github.com/gagliardetto/solana-go"
)

// ErrClosed is returned by a store used after Close.
var ErrClosed = errors.New("storage: store is closed")

// Account is one serialized account: its address and raw bytes.
type Account struct {
	Address solana.PublicKey
	Data    []byte
}

// Store saves account images together with the sequence id of the last
// command that produced them. SaveAccounts is atomic.
type Store interface {
	SaveAccounts(accounts []Account, lastCmdSeqID uint64) error
	LoadAccounts() ([]Account, uint64, error)
	Close() error
}
