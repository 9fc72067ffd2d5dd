package match

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x5487/manifest-engine/protocol"
)

func TestMarketFixed_Layout(t *testing.T) {
	m := newTestMarket(t)
	data, err := m.Bytes()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), MarketFixedSize)

	header := data[:MarketFixedSize]
	assert.Equal(t, protocol.MarketFixedDiscriminant, binary.LittleEndian.Uint64(header[0:8]))
	assert.Equal(t, uint8(9), header[9], "base decimals")
	assert.Equal(t, uint8(6), header[10], "quote decimals")
	assert.Equal(t, testBaseMint[:], header[16:48])
	assert.Equal(t, testQuoteMint[:], header[48:80])

	fixed := m.Fixed()
	assert.Equal(t, fixed.BaseVault[:], header[80:112])
	assert.Equal(t, fixed.QuoteVault[:], header[112:144])
	assert.Equal(t, NilIndex, binary.LittleEndian.Uint32(header[156:160]), "bids root")
	assert.Equal(t, NilIndex, binary.LittleEndian.Uint32(header[176:180]), "free list head")
}

func TestMarketFixed_SequenceAndVolumeOffsets(t *testing.T) {
	m := newTestMarket(t)
	fundTrader(t, m, alice, 10, 0)
	fundTrader(t, m, bob, 0, 1_000)
	place(t, m, limitArgs(alice, false, 10, 100, Limit))
	place(t, m, limitArgs(bob, true, 10, 100, Limit))

	data, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), binary.LittleEndian.Uint64(data[144:152]), "order sequence number")
	assert.Equal(t, uint64(1_000), binary.LittleEndian.Uint64(data[184:192]), "quote volume")
}

func TestGlobalFixed_Layout(t *testing.T) {
	g := newTestGlobal(t, testQuoteMint)
	require.NoError(t, g.AddTrader(bob))
	data, err := g.Bytes()
	require.NoError(t, err)

	header := data[:GlobalFixedSize]
	assert.Equal(t, protocol.GlobalFixedDiscriminant, binary.LittleEndian.Uint64(header[0:8]))
	assert.Equal(t, testQuoteMint[:], header[8:40])
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(header[94:96]), "seats claimed")
	assert.Equal(t, uint32(2*GlobalBlockSize), binary.LittleEndian.Uint32(header[88:92]), "bytes allocated")
}

func TestDecodeFixed_Errors(t *testing.T) {
	_, err := DecodeMarketFixed(make([]byte, MarketFixedSize-1))
	assert.ErrorIs(t, err, ErrInvalidAccount)
	_, err = DecodeMarketFixed(make([]byte, MarketFixedSize))
	assert.ErrorIs(t, err, ErrInvalidDiscriminant)

	g := newTestGlobal(t, testBaseMint)
	data, err := g.Bytes()
	require.NoError(t, err)
	_, err = DecodeMarketFixed(append(data, make([]byte, MarketFixedSize)...))
	assert.ErrorIs(t, err, ErrInvalidDiscriminant, "a global is not a market")
	fixed, err := DecodeGlobalFixed(data)
	require.NoError(t, err)
	assert.Equal(t, g.Fixed(), fixed)
}

func TestAccountKind(t *testing.T) {
	m := newTestMarket(t)
	data, err := m.Bytes()
	require.NoError(t, err)
	kind, err := AccountKind(data)
	require.NoError(t, err)
	assert.Equal(t, "market", kind)

	g := newTestGlobal(t, testBaseMint)
	data, err = g.Bytes()
	require.NoError(t, err)
	kind, err = AccountKind(data)
	require.NoError(t, err)
	assert.Equal(t, "global", kind)

	_, err = AccountKind([]byte{1})
	assert.ErrorIs(t, err, ErrInvalidAccount)
	_, err = AccountKind(make([]byte, 8))
	assert.ErrorIs(t, err, ErrInvalidDiscriminant)
}

func TestErrorCode(t *testing.T) {
	code, ok := ErrorCode(ErrWouldCross)
	assert.True(t, ok)
	assert.Equal(t, uint32(6), code)

	code, ok = ErrorCode(ErrOutOfSpace)
	assert.True(t, ok)
	assert.Equal(t, uint32(200), code)

	_, ok = ErrorCode(assert.AnError)
	assert.False(t, ok)
}
