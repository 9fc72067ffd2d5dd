package match

import (
	"github.com/shopspring/decimal"

	"github.com/0x5487/manifest-engine/protocol"
)

// DepthChange is the effect of one log on a single price level.
type DepthChange struct {
	IsBid    bool
	Price    Price
	SizeDiff decimal.Decimal
}

// IsZero reports whether the change leaves the book untouched.
func (c DepthChange) IsZero() bool {
	return c.SizeDiff.IsZero()
}

// CalculateDepthChange returns how a log moves the aggregated book.
// Fill logs carry the maker's side, so the level they reduce is the maker's.
func CalculateDepthChange(log *MarketLog) DepthChange {
	size := decimal.NewFromUint64(log.BaseAtoms)
	switch log.Type {
	case protocol.LogTypePlaceOrder:
		return DepthChange{IsBid: log.IsBid, Price: log.Price, SizeDiff: size}
	case protocol.LogTypeFill, protocol.LogTypeCancelOrder, protocol.LogTypeExpireOrder, protocol.LogTypeGlobalCleanup:
		return DepthChange{IsBid: log.IsBid, Price: log.Price, SizeDiff: size.Neg()}
	}
	return DepthChange{}
}
