package storage

import (
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	return k
}

// runStoreSuite checks the behavior every Store shares.
func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	t.Run("empty", func(t *testing.T) {
		s := open(t)
		accounts, seq, err := s.LoadAccounts()
		require.NoError(t, err)
		assert.Empty(t, accounts)
		assert.Zero(t, seq)
	})

	t.Run("save and load sorted", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.SaveAccounts([]Account{
			{Address: key(9), Data: []byte("nine")},
			{Address: key(1), Data: []byte("one")},
		}, 5))

		accounts, seq, err := s.LoadAccounts()
		require.NoError(t, err)
		assert.Equal(t, uint64(5), seq)
		require.Len(t, accounts, 2)
		assert.Equal(t, key(1), accounts[0].Address)
		assert.Equal(t, []byte("one"), accounts[0].Data)
		assert.Equal(t, key(9), accounts[1].Address)
	})

	t.Run("later save overwrites", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.SaveAccounts([]Account{{Address: key(1), Data: []byte("old")}}, 1))
		require.NoError(t, s.SaveAccounts([]Account{
			{Address: key(1), Data: []byte("new")},
			{Address: key(2), Data: []byte("two")},
		}, 2))

		accounts, seq, err := s.LoadAccounts()
		require.NoError(t, err)
		assert.Equal(t, uint64(2), seq)
		require.Len(t, accounts, 2)
		assert.Equal(t, []byte("new"), accounts[0].Data)
	})

	t.Run("saved data is copied", func(t *testing.T) {
		s := open(t)
		data := []byte("abc")
		require.NoError(t, s.SaveAccounts([]Account{{Address: key(3), Data: data}}, 1))
		data[0] = 'x'

		accounts, _, err := s.LoadAccounts()
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), accounts[0].Data)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.SaveAccounts(nil, 1), ErrClosed)
	_, _, err := s.LoadAccounts()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestPebbleStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewPebbleStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestPebbleStore_Reopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	s, err := NewPebbleStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveAccounts([]Account{{Address: key(4), Data: []byte("four")}}, 11))
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(dir)
	require.NoError(t, err)
	defer s.Close()

	accounts, seq, err := s.LoadAccounts()
	require.NoError(t, err)
	assert.Equal(t, uint64(11), seq)
	require.Len(t, accounts, 1)
	assert.Equal(t, key(4), accounts[0].Address)
	assert.Equal(t, []byte("four"), accounts[0].Data)
}
