package match

import (
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"

	"github.com/0x5487/manifest-engine/protocol"
)

// AggregatedBook maintains the L2 view of one market, price levels and their
// aggregated sizes, rebuilt from published logs. It is meant for downstream
// services that consume the log stream.
type AggregatedBook struct {
	mu     sync.RWMutex
	market solana.PublicKey
	seqID  uint64
	bids   *skiplist.SkipList
	asks   *skiplist.SkipList
}

func newLevelList(descending bool) *skiplist.SkipList {
	return skiplist.New(skiplist.GreaterThanFunc(func(lhs, rhs any) int {
		p1, _ := lhs.(Price)
		p2, _ := rhs.(Price)
		c := p1.Cmp(p2)
		if descending {
			return -c
		}
		return c
	}))
}

// NewAggregatedBook creates an empty book for market.
func NewAggregatedBook(market solana.PublicKey) *AggregatedBook {
	return &AggregatedBook{
		market: market,
		bids:   newLevelList(true),
		asks:   newLevelList(false),
	}
}

// SequenceID returns the last applied log sequence ID.
func (ab *AggregatedBook) SequenceID() uint64 {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	return ab.seqID
}

// Replay applies one log. Logs for other accounts and logs at or below the last
// applied sequence ID are ignored.
func (ab *AggregatedBook) Replay(log *MarketLog) {
	if !log.Account.Equals(ab.market) {
		return
	}
	ab.mu.Lock()
	defer ab.mu.Unlock()
	if log.SequenceID != 0 && log.SequenceID <= ab.seqID {
		return
	}
	ab.seqID = log.SequenceID

	change := CalculateDepthChange(log)
	if change.IsZero() {
		return
	}
	list := ab.asks
	if change.IsBid {
		list = ab.bids
	}
	el := list.Get(change.Price)
	if el == nil {
		if change.SizeDiff.IsPositive() {
			list.Set(change.Price, change.SizeDiff)
		}
		return
	}
	size, _ := el.Value.(decimal.Decimal)
	size = size.Add(change.SizeDiff)
	if !size.IsPositive() {
		list.RemoveElement(el)
		return
	}
	el.Value = size
}

// Rebuild resets the book to a depth snapshot taken at seqID.
func (ab *AggregatedBook) Rebuild(depth *protocol.GetDepthResponse, seqID uint64) error {
	bids, asks := newLevelList(true), newLevelList(false)
	load := func(list *skiplist.SkipList, items []*protocol.DepthItem) error {
		for _, item := range items {
			var p Price
			if err := p.UnmarshalText([]byte(item.Price)); err != nil {
				return err
			}
			size, err := decimal.NewFromString(item.Size)
			if err != nil {
				return err
			}
			list.Set(p, size)
		}
		return nil
	}
	if err := load(bids, depth.Bids); err != nil {
		return err
	}
	if err := load(asks, depth.Asks); err != nil {
		return err
	}
	ab.mu.Lock()
	defer ab.mu.Unlock()
	ab.bids, ab.asks, ab.seqID = bids, asks, seqID
	return nil
}

// Size returns the aggregated base atoms at price, zero when the level is empty.
func (ab *AggregatedBook) Size(isBid bool, price Price) decimal.Decimal {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	list := ab.asks
	if isBid {
		list = ab.bids
	}
	el := list.Get(price)
	if el == nil {
		return decimal.Zero
	}
	size, _ := el.Value.(decimal.Decimal)
	return size
}

// Depth returns up to limit levels per side, best first.
func (ab *AggregatedBook) Depth(limit int) *protocol.GetDepthResponse {
	ab.mu.RLock()
	defer ab.mu.RUnlock()
	collect := func(list *skiplist.SkipList) []*protocol.DepthItem {
		items := make([]*protocol.DepthItem, 0, limit)
		for el := list.Front(); el != nil && len(items) < limit; el = el.Next() {
			p, _ := el.Key().(Price)
			size, _ := el.Value.(decimal.Decimal)
			items = append(items, &protocol.DepthItem{Price: p.String(), Size: size.String()})
		}
		return items
	}
	return &protocol.GetDepthResponse{
		UpdateID: ab.seqID,
		Bids:     collect(ab.bids),
		Asks:     collect(ab.asks),
	}
}
