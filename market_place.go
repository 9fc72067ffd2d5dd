package match

import (
	"errors"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"

	"github.com/0x5487/manifest-engine/protocol"
	"github.com/0x5487/manifest-engine/structure"
)

// Globals are the global pools an instruction may touch. Either may be nil.
type Globals struct {
	Base  *GlobalPool
	Quote *GlobalPool
}

// forMaker returns the pool that funds what a global order on this side gives:
// base for an ask, quote for a bid.
func (g Globals) forMaker(isBid bool) *GlobalPool {
	if isBid {
		return g.Quote
	}
	return g.Base
}

func (m *Market) atomicWith(globals Globals, fn func() error) error {
	parts := []txParticipant{m}
	if globals.Base != nil {
		parts = append(parts, globals.Base)
	}
	if globals.Quote != nil {
		parts = append(parts, globals.Quote)
	}
	return runAtomic(parts, fn)
}

// PlaceOrderArgs describes an order entering the book.
type PlaceOrderArgs struct {
	Trader solana.PublicKey
	// TraderIndex is an optional seat hint; NilIndex looks the seat up.
	TraderIndex   DataIndex
	BaseAtoms     BaseAtoms
	Price         Price
	IsBid         bool
	LastValidSlot uint32
	OrderType     OrderType
	ReverseSpread uint16
	// Now is the current slot, used for expiry.
	Now uint32
}

// PlaceOrderResult reports what happened to an order.
type PlaceOrderResult struct {
	OrderSequenceNumber uint64
	// OrderIndex is where the remainder rests, NilIndex when nothing rested.
	OrderIndex       DataIndex
	BaseAtomsTraded  BaseAtoms
	QuoteAtomsTraded QuoteAtoms
	BaseAtomsRested  BaseAtoms
}

// PlaceOrder matches the order against the opposite side and rests any remainder
// the order type allows. The whole operation is atomic.
func (m *Market) PlaceOrder(args PlaceOrderArgs, globals Globals) (PlaceOrderResult, error) {
	var res PlaceOrderResult
	err := m.atomicWith(globals, func() error {
		var err error
		res, err = m.placeOrder(args, globals)
		return err
	})
	return res, err
}

func crosses(takerIsBid bool, limit, makerPrice Price) bool {
	if takerIsBid {
		return makerPrice.Cmp(limit) <= 0
	}
	return makerPrice.Cmp(limit) >= 0
}

func (m *Market) placeOrder(args PlaceOrderArgs, globals Globals) (PlaceOrderResult, error) {
	res := PlaceOrderResult{OrderIndex: NilIndex}
	switch {
	case !args.OrderType.Valid():
		return res, fmt.Errorf("%w: order type %d", ErrInvalidParam, args.OrderType)
	case args.BaseAtoms == 0:
		return res, ErrOrderTooSmall
	case args.Price.IsZero():
		return res, ErrPriceNotPositive
	case !args.OrderType.IsReversible() && args.LastValidSlot != NoExpirationLastValidSlot && args.LastValidSlot <= args.Now:
		return res, ErrOrderExpired
	}

	traderIdx, err := m.takerIndex(args.Trader, args.TraderIndex)
	if err != nil {
		return res, err
	}

	remaining := args.BaseAtoms
	opposite := m.side(!args.IsBid)

	for remaining > 0 {
		makerIdx := opposite.Max()
		if makerIdx == NilIndex {
			break
		}
		maker, err := opposite.Get(makerIdx)
		if err != nil {
			return res, err
		}
		makerSeat, err := m.seats.Get(maker.TraderIndex)
		if err != nil {
			return res, err
		}

		if maker.IsExpired(args.Now) || maker.NumBaseAtoms == 0 {
			if err := m.removeOrder(opposite, makerIdx, maker, !maker.OrderType.IsGlobal()); err != nil {
				return res, err
			}
			m.emit(NewExpireOrderLog(m.address, makerSeat.Trader, maker))
			continue
		}
		if !crosses(args.IsBid, args.Price, maker.Price) {
			break
		}
		if !args.OrderType.CanTake() {
			return res, ErrWouldCross
		}

		fill := min(remaining, maker.NumBaseAtoms)
		fullyMatched := fill == maker.NumBaseAtoms
		quote, err := maker.Price.QuoteForBase(fill, args.IsBid != fullyMatched)
		if err != nil {
			return res, err
		}

		if maker.OrderType.IsGlobal() {
			pool := globals.forMaker(maker.IsBid)
			if pool == nil {
				if args.OrderType.CanRest() {
					return res, ErrMissingGlobal
				}
				break
			}
			need := GlobalAtoms(fill)
			if maker.IsBid {
				need = GlobalAtoms(quote)
			}
			ok, have, err := pool.tryDebit(makerSeat.Trader, need)
			if err != nil {
				return res, err
			}
			if !ok {
				if err := m.removeOrder(opposite, makerIdx, maker, false); err != nil {
					return res, err
				}
				m.emit(NewGlobalCleanupLog(m.address, args.Trader, makerSeat.Trader, maker, need, have))
				continue
			}
		}

		if err := m.settle(traderIdx, maker, fill, quote, args.IsBid); err != nil {
			return res, err
		}
		m.emit(NewFillLog(m.address, makerSeat.Trader, args.Trader, maker, fill, quote, m.fixed.OrderSequenceNumber, args.IsBid))

		if fullyMatched {
			if err := opposite.Remove(makerIdx); err != nil {
				return res, err
			}
			m.arena.Free(makerIdx)
		} else {
			updated := maker
			updated.NumBaseAtoms -= fill
			if err := opposite.Update(makerIdx, updated); err != nil {
				return res, err
			}
		}

		if maker.OrderType.IsReversible() {
			if err := m.flip(maker, makerSeat.Trader, fill, quote, args.IsBid); err != nil {
				return res, err
			}
		}

		remaining -= fill
		res.BaseAtomsTraded += fill
		res.QuoteAtomsTraded += quote
		if !fullyMatched {
			break
		}
	}
	m.fixed.QuoteVolume += uint64(res.QuoteAtomsTraded)

	// The taker's number is taken after any reverse orders it created.
	takerSeq := m.fixed.OrderSequenceNumber
	m.fixed.OrderSequenceNumber++
	res.OrderSequenceNumber = takerSeq

	if remaining == 0 || !args.OrderType.CanRest() {
		return res, nil
	}

	order := RestingOrder{
		Price:          args.Price,
		NumBaseAtoms:   remaining,
		SequenceNumber: takerSeq,
		TraderIndex:    traderIdx,
		LastValidSlot:  args.LastValidSlot,
		IsBid:          args.IsBid,
		OrderType:      args.OrderType,
		ReverseSpread:  args.ReverseSpread,
	}
	if order.OrderType.IsReversible() {
		order.LastValidSlot = NoExpirationLastValidSlot
	} else {
		order.ReverseSpread = 0
	}
	if err := m.fund(order, globals); err != nil {
		return res, err
	}
	idx, err := m.insertOrder(order)
	if err != nil {
		return res, err
	}
	m.emit(NewPlaceOrderLog(m.address, args.Trader, order, idx, remaining))
	res.OrderIndex = idx
	res.BaseAtomsRested = remaining
	return res, nil
}

func (m *Market) takerIndex(trader solana.PublicKey, hint DataIndex) (DataIndex, error) {
	if hint == NilIndex {
		return m.TraderIndex(trader)
	}
	return m.resolveTrader(trader, &hint)
}

// settle moves the traded atoms between the taker and maker seats and records volume.
func (m *Market) settle(takerIdx DataIndex, maker RestingOrder, base BaseAtoms, quote QuoteAtoms, takerIsBid bool) error {
	if takerIsBid {
		if err := m.debit(takerIdx, false, uint64(quote)); err != nil {
			return err
		}
		if err := m.credit(takerIdx, true, uint64(base)); err != nil {
			return err
		}
		if err := m.credit(maker.TraderIndex, false, uint64(quote)); err != nil {
			return err
		}
	} else {
		if err := m.debit(takerIdx, true, uint64(base)); err != nil {
			return err
		}
		if err := m.credit(takerIdx, false, uint64(quote)); err != nil {
			return err
		}
		if err := m.credit(maker.TraderIndex, true, uint64(base)); err != nil {
			return err
		}
		if !maker.OrderType.IsGlobal() {
			bonus, err := roundingBonus(maker, base, quote)
			if err != nil {
				return err
			}
			if bonus > 0 {
				if err := m.credit(maker.TraderIndex, false, uint64(bonus)); err != nil {
					return err
				}
			}
		}
	}
	if err := m.addVolume(takerIdx, quote); err != nil {
		return err
	}
	return m.addVolume(maker.TraderIndex, quote)
}

// roundingBonus is the quote a resting bid locked beyond what it paid for a fill.
func roundingBonus(maker RestingOrder, base BaseAtoms, quote QuoteAtoms) (QuoteAtoms, error) {
	before, err := maker.Price.QuoteForBase(maker.NumBaseAtoms, true)
	if err != nil {
		return 0, err
	}
	after, err := maker.Price.QuoteForBase(maker.NumBaseAtoms-base, true)
	if err != nil {
		return 0, err
	}
	released := before - after
	if released < quote {
		return 0, nil
	}
	return released - quote, nil
}

// fund takes the atoms a resting order needs out of its trader's seat, or for a
// global order checks the pool can back it.
func (m *Market) fund(order RestingOrder, globals Globals) error {
	if order.OrderType.IsGlobal() {
		pool := globals.forMaker(order.IsBid)
		if pool == nil {
			return ErrMissingGlobal
		}
		need := GlobalAtoms(order.NumBaseAtoms)
		if order.IsBid {
			q, err := order.Price.QuoteForBase(order.NumBaseAtoms, true)
			if err != nil {
				return err
			}
			need = GlobalAtoms(q)
		}
		seat, err := m.seats.Get(order.TraderIndex)
		if err != nil {
			return err
		}
		if !pool.HasSufficient(seat.Trader, need) {
			return ErrGlobalInsufficient
		}
		return nil
	}
	base, quote, err := order.lockedAtoms()
	if err != nil {
		return err
	}
	if order.IsBid {
		return m.debit(order.TraderIndex, false, uint64(quote))
	}
	return m.debit(order.TraderIndex, true, uint64(base))
}

func (m *Market) insertOrder(order RestingOrder) (DataIndex, error) {
	idx, err := m.arena.Allocate()
	if err != nil {
		return NilIndex, err
	}
	if err := m.side(order.IsBid).Insert(idx, order); err != nil {
		return NilIndex, err
	}
	return idx, nil
}

// removeOrder unlinks and frees an order, returning its locked funds when refund is set.
func (m *Market) removeOrder(tree *structure.RedBlackTree[RestingOrder], idx DataIndex, order RestingOrder, refund bool) error {
	if err := tree.Remove(idx); err != nil {
		return err
	}
	m.arena.Free(idx)
	if !refund {
		return nil
	}
	base, quote, err := order.lockedAtoms()
	if err != nil {
		return err
	}
	if order.IsBid {
		return m.credit(order.TraderIndex, false, uint64(quote))
	}
	return m.credit(order.TraderIndex, true, uint64(base))
}

// flip places the opposite side of a filled reversible order, spread away from
// the fill price, funded from what the maker just received.
func (m *Market) flip(maker RestingOrder, trader solana.PublicKey, base BaseAtoms, quote QuoteAtoms, takerIsBid bool) error {
	den := maker.OrderType.SpreadDenominator()
	spread := uint64(maker.ReverseSpread)
	if spread >= den {
		return fmt.Errorf("%w: reverse spread %d", ErrInvalidParam, spread)
	}

	var (
		price Price
		err   error
	)
	if maker.IsBid {
		price, err = maker.Price.MulRational(den, den-spread, false)
	} else {
		price, err = maker.Price.MulRational(den-spread, den, true)
	}
	if err != nil {
		return err
	}
	if price.IsZero() {
		price = MinPrice
	}

	size := base
	if takerIsBid {
		if size, err = price.BaseForQuote(quote, false); err != nil {
			return err
		}
	}
	if size == 0 {
		return nil
	}

	flipped := RestingOrder{
		Price:         price,
		NumBaseAtoms:  size,
		TraderIndex:   maker.TraderIndex,
		LastValidSlot: NoExpirationLastValidSlot,
		IsBid:         !maker.IsBid,
		OrderType:     maker.OrderType,
		ReverseSpread: maker.ReverseSpread,
	}
	tree := m.side(flipped.IsBid)
	if idx, existing, ok := m.findCoalesce(tree, flipped); ok {
		merged := existing
		if merged.NumBaseAtoms, err = existing.NumBaseAtoms.Add(size); err != nil {
			return err
		}
		// The merged order keeps its own price, so it is funded by the change in
		// its lock rather than by the lock of the flipped order.
		err = m.fundIncrease(existing, merged)
		if err == nil {
			if err := tree.Update(idx, merged); err != nil {
				return err
			}
			m.emit(NewPlaceOrderLog(m.address, trader, merged, idx, size))
			return nil
		}
		if !errors.Is(err, ErrInsufficientBalance) {
			return err
		}
	}

	if err := m.fund(flipped, Globals{}); err != nil {
		return err
	}

	flipped.SequenceNumber = m.fixed.OrderSequenceNumber
	m.fixed.OrderSequenceNumber++
	idx, err := m.insertOrder(flipped)
	if err != nil {
		return err
	}
	m.emit(NewPlaceOrderLog(m.address, trader, flipped, idx, size))
	return nil
}

// findCoalesce searches for the same trader's order of the same type within one
// price unit of want. Orders of other traders at that price steer the search
// like any other node, so a match on the far side of them is missed.
func (m *Market) findCoalesce(tree *structure.RedBlackTree[RestingOrder], want RestingOrder) (DataIndex, RestingOrder, bool) {
	idx := tree.Search(func(node RestingOrder) int {
		if node.TraderIndex == want.TraderIndex && node.OrderType == want.OrderType && node.Price.withinOneUnit(want.Price) {
			return 0
		}
		return want.Compare(node)
	})
	if idx == NilIndex {
		return NilIndex, RestingOrder{}, false
	}
	existing, err := tree.Get(idx)
	if err != nil {
		return NilIndex, RestingOrder{}, false
	}
	return idx, existing, true
}

// fundIncrease debits the difference between the locks of before and after.
func (m *Market) fundIncrease(before, after RestingOrder) error {
	b0, q0, err := before.lockedAtoms()
	if err != nil {
		return err
	}
	b1, q1, err := after.lockedAtoms()
	if err != nil {
		return err
	}
	if after.IsBid {
		if q1 <= q0 {
			return nil
		}
		return m.debit(after.TraderIndex, false, uint64(q1-q0))
	}
	if b1 <= b0 {
		return nil
	}
	return m.debit(after.TraderIndex, true, uint64(b1-b0))
}

// CancelOrder removes trader's order with sequence number seq and refunds what it
// locked. hint, when set, must be the order's index.
func (m *Market) CancelOrder(trader solana.PublicKey, seq uint64, hint *uint32) error {
	return m.atomic(func() error {
		traderIdx, err := m.TraderIndex(trader)
		if err != nil {
			return err
		}
		return m.cancelOrder(trader, traderIdx, seq, hint)
	})
}

func (m *Market) cancelOrder(trader solana.PublicKey, traderIdx DataIndex, seq uint64, hint *uint32) error {
	var (
		idx   DataIndex
		order RestingOrder
	)
	if hint != nil {
		o, err := m.Order(*hint)
		if err != nil || o.SequenceNumber != seq || o.TraderIndex != traderIdx {
			return ErrWrongIndexHint
		}
		idx, order = *hint, o
	} else {
		var found bool
		idx, order, found = m.findBySequence(seq)
		if !found {
			return ErrNotFound
		}
		if order.TraderIndex != traderIdx {
			return ErrInvalidCancel
		}
	}
	if err := m.removeOrder(m.side(order.IsBid), idx, order, !order.OrderType.IsGlobal()); err != nil {
		return err
	}
	m.emit(NewCancelOrderLog(m.address, trader, order))
	return nil
}

func (m *Market) findBySequence(seq uint64) (DataIndex, RestingOrder, bool) {
	var (
		found DataIndex = NilIndex
		order RestingOrder
	)
	visit := func(idx DataIndex, o RestingOrder) bool {
		if o.SequenceNumber == seq {
			found, order = idx, o
			return false
		}
		return true
	}
	m.bids.Descend(visit)
	if found == NilIndex {
		m.asks.Descend(visit)
	}
	return found, order, found != NilIndex
}

// BatchUpdate applies cancels and then placements for one trader as a single
// transaction.
func (m *Market) BatchUpdate(trader solana.PublicKey, params protocol.BatchUpdateParams, now uint32, globals Globals) (protocol.BatchUpdateReturn, error) {
	var ret protocol.BatchUpdateReturn
	err := m.atomicWith(globals, func() error {
		traderIdx, err := m.resolveTrader(trader, params.TraderIndexHint)
		if err != nil {
			return err
		}
		for _, c := range params.Cancels {
			if err := m.cancelOrder(trader, traderIdx, c.OrderSequenceNumber, c.OrderIndexHint); err != nil {
				return err
			}
		}
		ret.Orders = make([]protocol.OrderResult, 0, len(params.Orders))
		for _, p := range params.Orders {
			args, err := placeArgsFromParams(trader, traderIdx, p, now)
			if err != nil {
				return err
			}
			res, err := m.placeOrder(args, globals)
			if err != nil {
				return err
			}
			ret.Orders = append(ret.Orders, protocol.OrderResult{
				SequenceNumber: res.OrderSequenceNumber,
				OrderIndex:     res.OrderIndex,
			})
		}
		return nil
	})
	if err != nil {
		return protocol.BatchUpdateReturn{}, err
	}
	return ret, nil
}

func placeArgsFromParams(trader solana.PublicKey, traderIdx DataIndex, p protocol.PlaceOrderParams, now uint32) (PlaceOrderArgs, error) {
	orderType := OrderType(p.OrderType)
	if !orderType.Valid() {
		return PlaceOrderArgs{}, fmt.Errorf("%w: order type %d", ErrInvalidParam, p.OrderType)
	}
	if p.PriceExponent > orderType.MaxExponent() {
		return PlaceOrderArgs{}, fmt.Errorf("%w: exponent %d above %d for %s", ErrInvalidPrice, p.PriceExponent, orderType.MaxExponent(), orderType)
	}
	price, err := PriceFromMantissaExponent(p.PriceMantissa, p.PriceExponent)
	if err != nil {
		return PlaceOrderArgs{}, err
	}
	args := PlaceOrderArgs{
		Trader:        trader,
		TraderIndex:   traderIdx,
		BaseAtoms:     BaseAtoms(p.BaseAtoms),
		Price:         price,
		IsBid:         p.IsBid,
		LastValidSlot: p.LastValidSlot,
		OrderType:     orderType,
		Now:           now,
	}
	if orderType.IsReversible() {
		if p.LastValidSlot > math.MaxUint16 {
			return PlaceOrderArgs{}, fmt.Errorf("%w: reverse spread %d", ErrInvalidParam, p.LastValidSlot)
		}
		args.ReverseSpread = uint16(p.LastValidSlot)
		args.LastValidSlot = NoExpirationLastValidSlot
	}
	return args, nil
}

// CleanGlobalOrder removes a global order that is expired or that its trader can
// no longer back. cleaner is recorded in the log.
func (m *Market) CleanGlobalOrder(cleaner solana.PublicKey, idx DataIndex, now uint32, globals Globals) error {
	return m.atomicWith(globals, func() error {
		order, err := m.Order(idx)
		if err != nil {
			return err
		}
		if !order.OrderType.IsGlobal() {
			return fmt.Errorf("%w: order %d is not global", ErrInvalidClean, idx)
		}
		pool := globals.forMaker(order.IsBid)
		if pool == nil {
			return ErrMissingGlobal
		}
		seat, err := m.seats.Get(order.TraderIndex)
		if err != nil {
			return err
		}
		need := GlobalAtoms(order.NumBaseAtoms)
		if order.IsBid {
			q, err := order.Price.QuoteForBase(order.NumBaseAtoms, true)
			if err != nil {
				return err
			}
			need = GlobalAtoms(q)
		}
		have, err := pool.Balance(seat.Trader)
		if err != nil && !errors.Is(err, ErrSeatNotFound) {
			return err
		}
		if have >= need && !order.IsExpired(now) {
			return ErrInvalidClean
		}
		if err := m.removeOrder(m.side(order.IsBid), idx, order, false); err != nil {
			return err
		}
		m.emit(NewGlobalCleanupLog(m.address, cleaner, seat.Trader, order, need, have))
		return nil
	})
}
