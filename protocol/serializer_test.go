package protocol

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBorshSerializer_BatchUpdateLayout(t *testing.T) {
	hint := uint32(80)
	params := BatchUpdateParams{
		TraderIndexHint: &hint,
		Cancels: []CancelOrderParams{
			{OrderSequenceNumber: 7},
		},
		Orders: []PlaceOrderParams{
			{BaseAtoms: 10, PriceMantissa: 100, PriceExponent: -2, IsBid: true, LastValidSlot: 0, OrderType: 2},
		},
	}

	s := BorshSerializer{}
	data, err := s.Marshal(params)
	require.NoError(t, err)

	want := []byte{
		1, 80, 0, 0, 0, // Option<u32> Some(80)
		1, 0, 0, 0, // Vec len 1
		7, 0, 0, 0, 0, 0, 0, 0, // seq
		0,          // Option None
		1, 0, 0, 0, // Vec len 1
		10, 0, 0, 0, 0, 0, 0, 0, // base atoms
		100, 0, 0, 0, // mantissa
		0xfe,       // exponent -2
		1,          // is bid
		0, 0, 0, 0, // last valid slot
		2, // order type
	}
	assert.Equal(t, want, data)

	var decoded BatchUpdateParams
	require.NoError(t, s.Unmarshal(data, &decoded))
	require.NotNil(t, decoded.TraderIndexHint)
	assert.Equal(t, uint32(80), *decoded.TraderIndexHint)
	assert.Nil(t, decoded.Cancels[0].OrderIndexHint)
	assert.Equal(t, params.Orders, decoded.Orders)
}

func TestBorshSerializer_PublicKeyIsInline(t *testing.T) {
	evictee := solana.MustPublicKeyFromBase58("MNFSTqtC93rEfYHB6hF82sKdZpUDFWkViLByLd1k1Ms")
	data, err := BorshSerializer{}.Marshal(GlobalEvictParams{AmountAtoms: 1, Evictee: evictee})
	require.NoError(t, err)
	require.Len(t, data, 8+32)
	assert.Equal(t, evictee[:], data[8:])
}

func TestCommand_Data(t *testing.T) {
	cmd := &Command{Type: CmdBatchUpdate, Payload: []byte{1, 2}}
	data := cmd.Data()
	assert.Equal(t, []byte{6, 1, 2}, data)

	tag, params, err := SplitInstruction(data)
	require.NoError(t, err)
	assert.Equal(t, CmdBatchUpdate, tag)
	assert.Equal(t, []byte{1, 2}, params)
	assert.Equal(t, "BatchUpdate", tag.String())

	_, _, err = SplitInstruction(nil)
	assert.ErrorIs(t, err, ErrEmptyInstruction)
}

func TestJSONSerializer_Command(t *testing.T) {
	s := DefaultJSONSerializer{}
	cmd := &Command{Account: "abc", Type: CmdDeposit, Payload: []byte{9}, Metadata: map[string]string{"request_id": "x"}}
	data, err := s.Marshal(cmd)
	require.NoError(t, err)

	var decoded Command
	require.NoError(t, s.Unmarshal(data, &decoded))
	assert.Equal(t, *cmd, decoded)
}
