package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBorshSerializer_Options(t *testing.T) {
	zero, five := uint32(0), uint32(5)
	s := BorshSerializer{}

	tests := []struct {
		name string
		hint *uint32
	}{
		{"none", nil},
		{"some zero", &zero},
		{"some five", &five},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := s.Marshal(DepositParams{AmountAtoms: 5, TraderIndexHint: tt.hint})
			require.NoError(t, err)

			var decoded DepositParams
			require.NoError(t, s.Unmarshal(data, &decoded))
			assert.Equal(t, uint64(5), decoded.AmountAtoms)
			if tt.hint == nil {
				assert.Nil(t, decoded.TraderIndexHint)
				return
			}
			require.NotNil(t, decoded.TraderIndexHint)
			assert.Equal(t, *tt.hint, *decoded.TraderIndexHint)
		})
	}
}

func TestBorshSerializer_NestedOptions(t *testing.T) {
	hint := uint32(160)
	params := BatchUpdateParams{
		Cancels: []CancelOrderParams{
			{OrderSequenceNumber: 1},
			{OrderSequenceNumber: 2, OrderIndexHint: &hint},
			{OrderSequenceNumber: 3},
		},
		Orders: []PlaceOrderParams{{BaseAtoms: 4, PriceMantissa: 9, OrderType: 1}},
	}
	s := BorshSerializer{}
	data, err := s.Marshal(params)
	require.NoError(t, err)

	var decoded BatchUpdateParams
	require.NoError(t, s.Unmarshal(data, &decoded))
	assert.Nil(t, decoded.TraderIndexHint)
	require.Len(t, decoded.Cancels, 3)
	assert.Nil(t, decoded.Cancels[0].OrderIndexHint)
	require.NotNil(t, decoded.Cancels[1].OrderIndexHint)
	assert.Equal(t, hint, *decoded.Cancels[1].OrderIndexHint)
	assert.Nil(t, decoded.Cancels[2].OrderIndexHint)
	assert.Equal(t, params.Orders, decoded.Orders)
}

func TestBorshSerializer_TruncatedOption(t *testing.T) {
	var decoded WithdrawParams
	err := BorshSerializer{}.Unmarshal(make([]byte, 32+8), &decoded)
	assert.Error(t, err)
}
