package protocol

import (
	"errors"

	"github.com/gagliardetto/solana-go"
)

// CommandType is the one-byte instruction tag that leads every instruction.
type CommandType uint8

const (
	CmdCreateMarket    CommandType = 0
	CmdClaimSeat       CommandType = 1
	CmdDeposit         CommandType = 2
	CmdWithdraw        CommandType = 3
	CmdSwap            CommandType = 4
	CmdExpand          CommandType = 5
	CmdBatchUpdate     CommandType = 6
	CmdGlobalCreate    CommandType = 7
	CmdGlobalAddTrader CommandType = 8
	CmdGlobalDeposit   CommandType = 9
	CmdGlobalWithdraw  CommandType = 10
	CmdGlobalEvict     CommandType = 11
	CmdGlobalClean     CommandType = 12
)

var commandNames = [...]string{
	"CreateMarket", "ClaimSeat", "Deposit", "Withdraw", "Swap", "Expand", "BatchUpdate",
	"GlobalCreate", "GlobalAddTrader", "GlobalDeposit", "GlobalWithdraw", "GlobalEvict", "GlobalClean",
}

func (c CommandType) String() string {
	if int(c) < len(commandNames) {
		return commandNames[c]
	}
	return "Unknown"
}

// ErrEmptyInstruction is returned when instruction data has no tag byte.
var ErrEmptyInstruction = errors.New("protocol: empty instruction data")

// Command is the standard carrier for instructions entering the engine.
// It is designed to be efficient for serialization and compatible with Event Sourcing.
type Command struct {
	// Version is the protocol version for backward compatibility.
	Version uint8 `json:"version"`

	// Account is the base58 address of the market or global account the
	// instruction targets (Routing Header).
	Account string `json:"account"`

	// Signer is the base58 address of the trader submitting the instruction.
	// Signature verification happens before the engine and is not repeated here.
	Signer string `json:"signer"`

	// SeqID is used for global ordering and deduplication.
	SeqID uint64 `json:"seq_id"`

	// Type identifies the payload type for fast routing.
	Type CommandType `json:"type"`

	// Payload contains the borsh encoded instruction params.
	// We use lazy deserialization to optimize routing performance.
	Payload []byte `json:"payload"`

	// Metadata stores non-business context (e.g., request id, source).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Data returns the raw instruction data: the tag byte followed by the params.
func (c *Command) Data() []byte {
	out := make([]byte, 0, len(c.Payload)+1)
	out = append(out, byte(c.Type))
	return append(out, c.Payload...)
}

// SplitInstruction separates raw instruction data into tag and params.
func SplitInstruction(data []byte) (CommandType, []byte, error) {
	if len(data) == 0 {
		return 0, nil, ErrEmptyInstruction
	}
	return CommandType(data[0]), data[1:], nil
}

// CreateMarketParams is the payload of CmdCreateMarket.
type CreateMarketParams struct {
	BaseMint          solana.PublicKey
	QuoteMint         solana.PublicKey
	BaseMintDecimals  uint8
	QuoteMintDecimals uint8
}

// ClaimSeatParams is the payload of CmdClaimSeat.
type ClaimSeatParams struct{}

// DepositParams is the payload of CmdDeposit. Mint selects the base or quote side.
type DepositParams struct {
	Mint            solana.PublicKey
	AmountAtoms     uint64
	TraderIndexHint *uint32
}

// WithdrawParams is the payload of CmdWithdraw.
type WithdrawParams struct {
	Mint            solana.PublicKey
	AmountAtoms     uint64
	TraderIndexHint *uint32
}

// SwapParams is the payload of CmdSwap.
type SwapParams struct {
	InAtoms   uint64
	OutAtoms  uint64
	IsBaseIn  bool
	IsExactIn bool
}

// ExpandParams is the payload of CmdExpand.
type ExpandParams struct {
	NumBlocks uint32
}

// CancelOrderParams identifies one order to cancel inside a batch.
type CancelOrderParams struct {
	OrderSequenceNumber uint64
	OrderIndexHint      *uint32
}

// PlaceOrderParams describes one order to place inside a batch.
// For reverse order types LastValidSlot carries the spread instead.
type PlaceOrderParams struct {
	BaseAtoms     uint64
	PriceMantissa uint32
	PriceExponent int8
	IsBid         bool
	LastValidSlot uint32
	OrderType     uint8
}

// BatchUpdateParams is the payload of CmdBatchUpdate. Cancels apply before orders.
type BatchUpdateParams struct {
	TraderIndexHint *uint32
	Cancels         []CancelOrderParams
	Orders          []PlaceOrderParams
}

// BatchUpdateReturn lists (sequence number, order index) for every placed order.
type BatchUpdateReturn struct {
	Orders []OrderResult
}

// OrderResult identifies a placed order.
type OrderResult struct {
	SequenceNumber uint64
	OrderIndex     uint32
}

// GlobalCreateParams is the payload of CmdGlobalCreate.
type GlobalCreateParams struct {
	Mint solana.PublicKey
}

// GlobalAddTraderParams is the payload of CmdGlobalAddTrader.
type GlobalAddTraderParams struct{}

// GlobalDepositParams is the payload of CmdGlobalDeposit.
type GlobalDepositParams struct {
	AmountAtoms uint64
}

// GlobalWithdrawParams is the payload of CmdGlobalWithdraw.
type GlobalWithdrawParams struct {
	AmountAtoms uint64
}

// GlobalEvictParams is the payload of CmdGlobalEvict. The signer is the evictor.
type GlobalEvictParams struct {
	AmountAtoms uint64
	Evictee     solana.PublicKey
}

// GlobalCleanParams is the payload of CmdGlobalClean. Account is the market
// holding the order.
type GlobalCleanParams struct {
	OrderIndex uint32
}
