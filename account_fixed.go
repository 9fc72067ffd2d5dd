package match

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"

	"github.com/0x5487/manifest-engine/protocol"
)

// MarketFixed is the 256-byte header at the start of a market account.
// Field order and widths are part of the wire format.
type MarketFixed struct {
	Discriminant          uint64
	Version               uint8
	BaseMintDecimals      uint8
	QuoteMintDecimals     uint8
	BaseVaultBump         uint8
	QuoteVaultBump        uint8
	Padding1              [3]uint8
	BaseMint              solana.PublicKey
	QuoteMint             solana.PublicKey
	BaseVault             solana.PublicKey
	QuoteVault            solana.PublicKey
	OrderSequenceNumber   uint64
	NumBytesAllocated     uint32
	BidsRootIndex         uint32
	BidsBestIndex         uint32
	AsksRootIndex         uint32
	AsksBestIndex         uint32
	ClaimedSeatsRootIndex uint32
	FreeListHeadIndex     uint32
	Padding2              [1]uint32
	QuoteVolume           uint64
	Padding3              [8]uint64
}

func newMarketFixed() MarketFixed {
	return MarketFixed{
		Discriminant:          protocol.MarketFixedDiscriminant,
		BidsRootIndex:         NilIndex,
		BidsBestIndex:         NilIndex,
		AsksRootIndex:         NilIndex,
		AsksBestIndex:         NilIndex,
		ClaimedSeatsRootIndex: NilIndex,
		FreeListHeadIndex:     NilIndex,
	}
}

// GlobalFixed is the 96-byte header at the start of a global account.
type GlobalFixed struct {
	Discriminant            uint64
	Mint                    solana.PublicKey
	Vault                   solana.PublicKey
	GlobalTradersRootIndex  uint32
	GlobalDepositsRootIndex uint32
	GlobalDepositsMaxIndex  uint32
	FreeListHeadIndex       uint32
	NumBytesAllocated       uint32
	VaultBump               uint8
	Padding                 uint8
	NumSeatsClaimed         uint16
}

func newGlobalFixed() GlobalFixed {
	return GlobalFixed{
		Discriminant:            protocol.GlobalFixedDiscriminant,
		GlobalTradersRootIndex:  NilIndex,
		GlobalDepositsRootIndex: NilIndex,
		GlobalDepositsMaxIndex:  NilIndex,
		FreeListHeadIndex:       NilIndex,
	}
}

// encodeFixed serializes a header with borsh and checks its size.
func encodeFixed(v any, size int) ([]byte, error) {
	data, err := borsh.Serialize(v)
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: header encodes to %d bytes, want %d", ErrInternal, len(data), size)
	}
	return data, nil
}

func decodeFixed(data []byte, size int, v any) error {
	if len(data) < size {
		return fmt.Errorf("%w: account holds %d bytes, header needs %d", ErrInvalidAccount, len(data), size)
	}
	return borsh.Deserialize(v, data[:size])
}

// DecodeMarketFixed reads the header of a serialized market account.
func DecodeMarketFixed(data []byte) (MarketFixed, error) {
	var f MarketFixed
	if err := decodeFixed(data, MarketFixedSize, &f); err != nil {
		return f, err
	}
	if f.Discriminant != protocol.MarketFixedDiscriminant {
		return f, ErrInvalidDiscriminant
	}
	return f, nil
}

// DecodeGlobalFixed reads the header of a serialized global account.
func DecodeGlobalFixed(data []byte) (GlobalFixed, error) {
	var f GlobalFixed
	if err := decodeFixed(data, GlobalFixedSize, &f); err != nil {
		return f, err
	}
	if f.Discriminant != protocol.GlobalFixedDiscriminant {
		return f, ErrInvalidDiscriminant
	}
	return f, nil
}

// VaultAddress derives the market vault PDA for mint.
func VaultAddress(programID, market, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(vaultSeed), market.Bytes(), mint.Bytes()}, programID)
}

// GlobalAddress derives the global account PDA for mint.
func GlobalAddress(programID, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(globalSeed), mint.Bytes()}, programID)
}

// GlobalVaultAddress derives the global vault PDA for mint.
func GlobalVaultAddress(programID, mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte(globalVaultSeed), mint.Bytes()}, programID)
}

// AccountKind reports which account type a serialized buffer holds.
func AccountKind(data []byte) (string, error) {
	if len(data) < 8 {
		return "", ErrInvalidAccount
	}
	switch getUint64(data[:8]) {
	case protocol.MarketFixedDiscriminant:
		return accountKindMarket, nil
	case protocol.GlobalFixedDiscriminant:
		return accountKindGlobal, nil
	}
	return "", ErrInvalidDiscriminant
}

const (
	accountKindMarket = "market"
	accountKindGlobal = "global"
)
