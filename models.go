package match

import (
	"bytes"
	"cmp"
	"encoding/binary"

	"github.com/0x5487/manifest-engine/protocol"
	"github.com/0x5487/manifest-engine/structure"
	"github.com/gagliardetto/solana-go"
)

// DataIndex is a byte offset into an account's dynamic region.
type DataIndex = structure.DataIndex

// NilIndex is the null DataIndex.
const NilIndex = structure.NilIndex

// OrderType is a closed set of order behaviors, one byte on the wire.
type OrderType uint8

const (
	Limit             OrderType = 0
	ImmediateOrCancel OrderType = 1
	PostOnly          OrderType = 2
	Global            OrderType = 3
	Reverse           OrderType = 4
	ReverseTight      OrderType = 5
)

var orderTypeNames = [...]string{"limit", "ioc", "post_only", "global", "reverse", "reverse_tight"}

func (t OrderType) String() string {
	if t.Valid() {
		return orderTypeNames[t]
	}
	return "unknown"
}

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t <= ReverseTight
}

// CanRest reports whether a remainder of this order type may rest on the book.
func (t OrderType) CanRest() bool {
	return t != ImmediateOrCancel
}

// CanTake reports whether this order type may match against resting orders.
func (t OrderType) CanTake() bool {
	return t != PostOnly && t != Global
}

// IsGlobal reports whether the order is backed by a global pool.
func (t OrderType) IsGlobal() bool {
	return t == Global
}

// IsReversible reports whether the order flips sides when filled.
func (t OrderType) IsReversible() bool {
	return t == Reverse || t == ReverseTight
}

// SpreadDenominator is the unit of reverse_spread for reversible types.
func (t OrderType) SpreadDenominator() uint64 {
	if t == ReverseTight {
		return 100_000_000
	}
	return 100_000
}

// MaxExponent caps the price exponent so a flipped price cannot overflow.
func (t OrderType) MaxExponent() int8 {
	switch t {
	case Reverse:
		return priceMaxExponent - 5
	case ReverseTight:
		return priceMaxExponent - 8
	}
	return priceMaxExponent
}

// SpreadFromBasisPoints converts basis points to Reverse spread units.
func SpreadFromBasisPoints(bps uint16) uint16 {
	return bps * 10
}

func putUint64(b []byte, v uint64) { binary.LittleEndian.PutUint64(b, v) }
func getUint64(b []byte) uint64    { return binary.LittleEndian.Uint64(b) }
func putUint32(b []byte, v uint32) { binary.LittleEndian.PutUint32(b, v) }
func getUint32(b []byte) uint32    { return binary.LittleEndian.Uint32(b) }

// RestingOrder is an order on one side of the book. 64 bytes on the wire.
type RestingOrder struct {
	Price          Price
	NumBaseAtoms   BaseAtoms
	SequenceNumber uint64
	TraderIndex    DataIndex
	LastValidSlot  uint32
	IsBid          bool
	OrderType      OrderType
	ReverseSpread  uint16
}

// Compare orders by price-time priority so that the tree maximum is the best
// order: bids ascend by price, asks descend by price, and at equal prices a
// lower sequence number sorts higher.
func (o RestingOrder) Compare(other RestingOrder) int {
	c := o.Price.Cmp(other.Price)
	if !o.IsBid {
		c = -c
	}
	if c != 0 {
		return c
	}
	return cmp.Compare(other.SequenceNumber, o.SequenceNumber)
}

func (o RestingOrder) Encode(dst []byte) {
	clear(dst[:MarketPayloadSize])
	o.Price.encode(dst[0:16])
	putUint64(dst[16:24], uint64(o.NumBaseAtoms))
	putUint64(dst[24:32], o.SequenceNumber)
	putUint32(dst[32:36], o.TraderIndex)
	putUint32(dst[36:40], o.LastValidSlot)
	if o.IsBid {
		dst[40] = 1
	}
	dst[41] = byte(o.OrderType)
	binary.LittleEndian.PutUint16(dst[42:44], o.ReverseSpread)
}

func decodeRestingOrder(b []byte) RestingOrder {
	return RestingOrder{
		Price:          decodePrice(b[0:16]),
		NumBaseAtoms:   BaseAtoms(getUint64(b[16:24])),
		SequenceNumber: getUint64(b[24:32]),
		TraderIndex:    getUint32(b[32:36]),
		LastValidSlot:  getUint32(b[36:40]),
		IsBid:          b[40] != 0,
		OrderType:      OrderType(b[41]),
		ReverseSpread:  binary.LittleEndian.Uint16(b[42:44]),
	}
}

// IsExpired reports whether the order can no longer match at slot now.
func (o RestingOrder) IsExpired(now uint32) bool {
	return o.LastValidSlot != NoExpirationLastValidSlot && o.LastValidSlot < now
}

// lockedAtoms returns what the order holds out of its trader's seat: quote for
// a bid (rounded up), base for an ask.
func (o RestingOrder) lockedAtoms() (BaseAtoms, QuoteAtoms, error) {
	if o.IsBid {
		q, err := o.Price.QuoteForBase(o.NumBaseAtoms, true)
		return 0, q, err
	}
	return o.NumBaseAtoms, 0, nil
}

// ClaimedSeat holds one trader's withdrawable balances on a market. 64 bytes on the wire.
type ClaimedSeat struct {
	Trader                   solana.PublicKey
	BaseWithdrawableBalance  BaseAtoms
	QuoteWithdrawableBalance QuoteAtoms
	QuoteVolume              QuoteAtoms
}

func (s ClaimedSeat) Compare(other ClaimedSeat) int {
	return bytes.Compare(s.Trader[:], other.Trader[:])
}

func (s ClaimedSeat) Encode(dst []byte) {
	clear(dst[:MarketPayloadSize])
	copy(dst[0:32], s.Trader[:])
	putUint64(dst[32:40], uint64(s.BaseWithdrawableBalance))
	putUint64(dst[40:48], uint64(s.QuoteWithdrawableBalance))
	putUint64(dst[48:56], uint64(s.QuoteVolume))
}

func decodeClaimedSeat(b []byte) ClaimedSeat {
	var s ClaimedSeat
	copy(s.Trader[:], b[0:32])
	s.BaseWithdrawableBalance = BaseAtoms(getUint64(b[32:40]))
	s.QuoteWithdrawableBalance = QuoteAtoms(getUint64(b[40:48]))
	s.QuoteVolume = QuoteAtoms(getUint64(b[48:56]))
	return s
}

// GlobalTrader is a seat in a global pool. 48 bytes on the wire.
type GlobalTrader struct {
	Trader       solana.PublicKey
	DepositIndex DataIndex
}

func (g GlobalTrader) Compare(other GlobalTrader) int {
	return bytes.Compare(g.Trader[:], other.Trader[:])
}

func (g GlobalTrader) Encode(dst []byte) {
	clear(dst[:GlobalPayloadSize])
	copy(dst[0:32], g.Trader[:])
	putUint32(dst[32:36], g.DepositIndex)
}

func decodeGlobalTrader(b []byte) GlobalTrader {
	var g GlobalTrader
	copy(g.Trader[:], b[0:32])
	g.DepositIndex = getUint32(b[32:36])
	return g
}

// GlobalDeposit is a trader's balance in a global pool. 48 bytes on the wire.
type GlobalDeposit struct {
	Trader       solana.PublicKey
	BalanceAtoms GlobalAtoms
}

// Compare puts the lowest balance at the tree maximum, so the eviction
// candidate is always the cached max.
func (d GlobalDeposit) Compare(other GlobalDeposit) int {
	if c := cmp.Compare(other.BalanceAtoms, d.BalanceAtoms); c != 0 {
		return c
	}
	return bytes.Compare(other.Trader[:], d.Trader[:])
}

func (d GlobalDeposit) Encode(dst []byte) {
	clear(dst[:GlobalPayloadSize])
	copy(dst[0:32], d.Trader[:])
	putUint64(dst[32:40], uint64(d.BalanceAtoms))
}

func decodeGlobalDeposit(b []byte) GlobalDeposit {
	var d GlobalDeposit
	copy(d.Trader[:], b[0:32])
	d.BalanceAtoms = GlobalAtoms(getUint64(b[32:40]))
	return d
}

// InputEvent is the internal wrapper for everything entering the engine's
// single writer.
type InputEvent struct {
	Cmd   *protocol.Command
	Query func(*Accounts) any
	Resp  chan *Response
}

// Response carries the outcome of an InputEvent back to a synchronous caller.
type Response struct {
	Result *ProcessResult
	Data   any
	Err    error
}
