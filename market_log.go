package match

import (
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/near/borsh-go"

	"github.com/0x5487/manifest-engine/protocol"
)

// MarketLog is an event produced by an instruction.
// SequenceID is a globally increasing ID assigned by the engine when the log
// is published, used for ordering, deduplication and rebuild synchronization.
// Data is the wire record: the 8-byte discriminator followed by the borsh body
// of Record. The remaining fields are a decoded convenience view.
type MarketLog struct {
	SequenceID          uint64           `json:"seq_id"`
	Type                protocol.LogType `json:"type"`
	Account             solana.PublicKey `json:"account"`
	Trader              solana.PublicKey `json:"trader"`
	OrderSequenceNumber uint64           `json:"order_sequence_number,omitempty"`
	IsBid               bool             `json:"is_bid"`
	Price               Price            `json:"price"`
	BaseAtoms           uint64           `json:"base_atoms,omitempty"`
	QuoteAtoms          uint64           `json:"quote_atoms,omitempty"`
	Record              any              `json:"record"`
	Data                []byte           `json:"data"`
	RequestID           string           `json:"request_id,omitempty"`
	CreatedAt           time.Time        `json:"created_at"`
}

// Wire records. Layouts are fixed; padding fields keep them free of implicit gaps.

type CreateMarketLog struct {
	Market  solana.PublicKey
	Creator solana.PublicKey
}

type ClaimSeatLog struct {
	Market solana.PublicKey
	Trader solana.PublicKey
}

type DepositLog struct {
	Market      solana.PublicKey
	Trader      solana.PublicKey
	Mint        solana.PublicKey
	AmountAtoms uint64
}

type WithdrawLog struct {
	Market      solana.PublicKey
	Trader      solana.PublicKey
	Mint        solana.PublicKey
	AmountAtoms uint64
}

type FillLog struct {
	Market              solana.PublicKey
	Maker               solana.PublicKey
	Taker               solana.PublicKey
	Price               [2]uint64
	BaseAtoms           uint64
	QuoteAtoms          uint64
	MakerSequenceNumber uint64
	TakerSequenceNumber uint64
	TakerIsBuy          uint8
	IsMakerGlobal       uint8
	Padding             [14]uint8
}

type PlaceOrderLog struct {
	Market              solana.PublicKey
	Trader              solana.PublicKey
	Price               [2]uint64
	BaseAtoms           uint64
	OrderSequenceNumber uint64
	OrderIndex          uint32
	LastValidSlot       uint32
	OrderType           uint8
	IsBid               uint8
	Padding             [6]uint8
}

type CancelOrderLog struct {
	Market              solana.PublicKey
	Trader              solana.PublicKey
	OrderSequenceNumber uint64
}

type ExpireOrderLog struct {
	Market              solana.PublicKey
	Trader              solana.PublicKey
	OrderSequenceNumber uint64
}

type GlobalCreateLog struct {
	Global  solana.PublicKey
	Creator solana.PublicKey
}

type GlobalAddTraderLog struct {
	Global solana.PublicKey
	Trader solana.PublicKey
}

type GlobalDepositLog struct {
	Global      solana.PublicKey
	Trader      solana.PublicKey
	GlobalAtoms uint64
}

type GlobalWithdrawLog struct {
	Global      solana.PublicKey
	Trader      solana.PublicKey
	GlobalAtoms uint64
}

type GlobalEvictLog struct {
	Evictor      solana.PublicKey
	Evictee      solana.PublicKey
	EvictorAtoms uint64
	EvicteeAtoms uint64
}

type GlobalCleanupLog struct {
	Cleaner         solana.PublicKey
	Maker           solana.PublicKey
	AmountDesired   uint64
	AmountDeposited uint64
}

var marketLogPool = sync.Pool{
	New: func() any {
		return new(MarketLog)
	},
}

func acquireMarketLog() *MarketLog {
	return marketLogPool.Get().(*MarketLog)
}

// ReleaseMarketLog returns a log to the pool. The log must not be used afterwards.
func ReleaseMarketLog(log *MarketLog) {
	*log = MarketLog{}
	marketLogPool.Put(log)
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func newLog(typ protocol.LogType, account solana.PublicKey, disc [8]byte, record any) *MarketLog {
	log := acquireMarketLog()
	log.Type = typ
	log.Account = account
	log.Record = record
	body, err := borsh.Serialize(record)
	if err != nil {
		// records are fixed-layout structs of encodable fields
		panic(err)
	}
	log.Data = make([]byte, 0, len(disc)+len(body))
	log.Data = append(log.Data, disc[:]...)
	log.Data = append(log.Data, body...)
	log.CreatedAt = time.Now().UTC()
	return log
}

func NewCreateMarketLog(market, creator solana.PublicKey) *MarketLog {
	log := newLog(protocol.LogTypeCreateMarket, market, protocol.CreateMarketLogDiscriminator,
		CreateMarketLog{Market: market, Creator: creator})
	log.Trader = creator
	return log
}

func NewClaimSeatLog(market, trader solana.PublicKey) *MarketLog {
	log := newLog(protocol.LogTypeClaimSeat, market, protocol.ClaimSeatLogDiscriminator,
		ClaimSeatLog{Market: market, Trader: trader})
	log.Trader = trader
	return log
}

func NewDepositLog(market, trader, mint solana.PublicKey, amount uint64) *MarketLog {
	log := newLog(protocol.LogTypeDeposit, market, protocol.DepositLogDiscriminator,
		DepositLog{Market: market, Trader: trader, Mint: mint, AmountAtoms: amount})
	log.Trader = trader
	return log
}

func NewWithdrawLog(market, trader, mint solana.PublicKey, amount uint64) *MarketLog {
	log := newLog(protocol.LogTypeWithdraw, market, protocol.WithdrawLogDiscriminator,
		WithdrawLog{Market: market, Trader: trader, Mint: mint, AmountAtoms: amount})
	log.Trader = trader
	return log
}

// NewFillLog records a match. IsBid, Price and BaseAtoms describe the maker side.
func NewFillLog(market, maker, taker solana.PublicKey, makerOrder RestingOrder, base BaseAtoms, quote QuoteAtoms, takerSeq uint64, takerIsBid bool) *MarketLog {
	lo, hi := makerOrder.Price.Inner()
	log := newLog(protocol.LogTypeFill, market, protocol.FillLogDiscriminator, FillLog{
		Market:              market,
		Maker:               maker,
		Taker:               taker,
		Price:               [2]uint64{lo, hi},
		BaseAtoms:           uint64(base),
		QuoteAtoms:          uint64(quote),
		MakerSequenceNumber: makerOrder.SequenceNumber,
		TakerSequenceNumber: takerSeq,
		TakerIsBuy:          boolByte(takerIsBid),
		IsMakerGlobal:       boolByte(makerOrder.OrderType.IsGlobal()),
	})
	log.Trader = maker
	log.OrderSequenceNumber = makerOrder.SequenceNumber
	log.IsBid = makerOrder.IsBid
	log.Price = makerOrder.Price
	log.BaseAtoms = uint64(base)
	log.QuoteAtoms = uint64(quote)
	return log
}

// NewPlaceOrderLog records atoms added to the book at the order's price.
func NewPlaceOrderLog(market, trader solana.PublicKey, order RestingOrder, orderIndex DataIndex, added BaseAtoms) *MarketLog {
	lo, hi := order.Price.Inner()
	log := newLog(protocol.LogTypePlaceOrder, market, protocol.PlaceOrderLogDiscriminator, PlaceOrderLog{
		Market:              market,
		Trader:              trader,
		Price:               [2]uint64{lo, hi},
		BaseAtoms:           uint64(added),
		OrderSequenceNumber: order.SequenceNumber,
		OrderIndex:          orderIndex,
		LastValidSlot:       order.LastValidSlot,
		OrderType:           uint8(order.OrderType),
		IsBid:               boolByte(order.IsBid),
	})
	log.Trader = trader
	log.OrderSequenceNumber = order.SequenceNumber
	log.IsBid = order.IsBid
	log.Price = order.Price
	log.BaseAtoms = uint64(added)
	return log
}

// NewCancelOrderLog records an order leaving the book at the trader's request.
func NewCancelOrderLog(market, trader solana.PublicKey, order RestingOrder) *MarketLog {
	log := newLog(protocol.LogTypeCancelOrder, market, protocol.CancelOrderLogDiscriminator, CancelOrderLog{
		Market:              market,
		Trader:              trader,
		OrderSequenceNumber: order.SequenceNumber,
	})
	fillRemoved(log, trader, order)
	return log
}

// NewExpireOrderLog records an expired or empty order evicted while matching.
func NewExpireOrderLog(market, trader solana.PublicKey, order RestingOrder) *MarketLog {
	log := newLog(protocol.LogTypeExpireOrder, market, protocol.ExpireOrderLogDiscriminator, ExpireOrderLog{
		Market:              market,
		Trader:              trader,
		OrderSequenceNumber: order.SequenceNumber,
	})
	fillRemoved(log, trader, order)
	return log
}

// NewGlobalCleanupLog records a global order removed because it was unbacked or expired.
func NewGlobalCleanupLog(market, cleaner, maker solana.PublicKey, order RestingOrder, desired, deposited GlobalAtoms) *MarketLog {
	log := newLog(protocol.LogTypeGlobalCleanup, market, protocol.GlobalCleanupLogDiscriminator, GlobalCleanupLog{
		Cleaner:         cleaner,
		Maker:           maker,
		AmountDesired:   uint64(desired),
		AmountDeposited: uint64(deposited),
	})
	fillRemoved(log, maker, order)
	return log
}

func fillRemoved(log *MarketLog, trader solana.PublicKey, order RestingOrder) {
	log.Trader = trader
	log.OrderSequenceNumber = order.SequenceNumber
	log.IsBid = order.IsBid
	log.Price = order.Price
	log.BaseAtoms = uint64(order.NumBaseAtoms)
}

func NewGlobalCreateLog(global, creator solana.PublicKey) *MarketLog {
	log := newLog(protocol.LogTypeGlobalCreate, global, protocol.GlobalCreateLogDiscriminator,
		GlobalCreateLog{Global: global, Creator: creator})
	log.Trader = creator
	return log
}

func NewGlobalAddTraderLog(global, trader solana.PublicKey) *MarketLog {
	log := newLog(protocol.LogTypeGlobalAddTrader, global, protocol.GlobalAddTraderLogDiscriminator,
		GlobalAddTraderLog{Global: global, Trader: trader})
	log.Trader = trader
	return log
}

func NewGlobalDepositLog(global, trader solana.PublicKey, atoms GlobalAtoms) *MarketLog {
	log := newLog(protocol.LogTypeGlobalDeposit, global, protocol.GlobalDepositLogDiscriminator,
		GlobalDepositLog{Global: global, Trader: trader, GlobalAtoms: uint64(atoms)})
	log.Trader = trader
	log.BaseAtoms = uint64(atoms)
	return log
}

func NewGlobalWithdrawLog(global, trader solana.PublicKey, atoms GlobalAtoms) *MarketLog {
	log := newLog(protocol.LogTypeGlobalWithdraw, global, protocol.GlobalWithdrawLogDiscriminator,
		GlobalWithdrawLog{Global: global, Trader: trader, GlobalAtoms: uint64(atoms)})
	log.Trader = trader
	log.BaseAtoms = uint64(atoms)
	return log
}

func NewGlobalEvictLog(global, evictor, evictee solana.PublicKey, evictorAtoms, evicteeAtoms GlobalAtoms) *MarketLog {
	log := newLog(protocol.LogTypeGlobalEvict, global, protocol.GlobalEvictLogDiscriminator, GlobalEvictLog{
		Evictor:      evictor,
		Evictee:      evictee,
		EvictorAtoms: uint64(evictorAtoms),
		EvicteeAtoms: uint64(evicteeAtoms),
	})
	log.Trader = evictor
	return log
}
