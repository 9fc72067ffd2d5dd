package match

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/0x5487/manifest-engine/protocol"
)

// backed reports whether a resting order could be matched right now.
func backed(o RestingOrder, trader solana.PublicKey, now uint32, globals Globals) bool {
	if o.IsExpired(now) || o.NumBaseAtoms == 0 {
		return false
	}
	if !o.OrderType.IsGlobal() {
		return true
	}
	pool := globals.forMaker(o.IsBid)
	if pool == nil {
		return false
	}
	need := GlobalAtoms(o.NumBaseAtoms)
	if o.IsBid {
		q, err := o.Price.QuoteForBase(o.NumBaseAtoms, true)
		if err != nil {
			return false
		}
		need = GlobalAtoms(q)
	}
	return pool.HasSufficient(trader, need)
}

// walkLiquidity visits matchable orders on the side a taker of isBid would hit.
func (m *Market) walkLiquidity(isBid bool, now uint32, globals Globals, fn func(o RestingOrder) bool) {
	m.side(!isBid).Descend(func(_ DataIndex, o RestingOrder) bool {
		seat, err := m.seats.Get(o.TraderIndex)
		if err != nil || !backed(o, seat.Trader, now, globals) {
			return true
		}
		return fn(o)
	})
}

// ImpactQuoteAtoms returns the quote a taker of isBid would trade for base atoms,
// as far as the book allows.
func (m *Market) ImpactQuoteAtoms(isBid bool, base BaseAtoms, now uint32, globals Globals) (QuoteAtoms, error) {
	var (
		total QuoteAtoms
		err   error
	)
	remaining := base
	m.walkLiquidity(isBid, now, globals, func(o RestingOrder) bool {
		fill := min(remaining, o.NumBaseAtoms)
		var q QuoteAtoms
		if q, err = o.Price.QuoteForBase(fill, isBid != (fill == o.NumBaseAtoms)); err != nil {
			return false
		}
		if total, err = total.Add(q); err != nil {
			return false
		}
		remaining -= fill
		return remaining > 0
	})
	return total, err
}

// ImpactBaseAtoms returns the base a taker of isBid would trade for quote atoms,
// as far as the book allows.
func (m *Market) ImpactBaseAtoms(isBid bool, quote QuoteAtoms, now uint32, globals Globals) (BaseAtoms, error) {
	var (
		total BaseAtoms
		err   error
	)
	remaining := quote
	m.walkLiquidity(isBid, now, globals, func(o RestingOrder) bool {
		var levelQuote QuoteAtoms
		if levelQuote, err = o.Price.QuoteForBase(o.NumBaseAtoms, !isBid); err != nil {
			return false
		}
		if levelQuote <= remaining {
			total += o.NumBaseAtoms
			remaining -= levelQuote
			return remaining > 0
		}
		var b BaseAtoms
		if b, err = o.Price.BaseForQuote(remaining, !isBid); err != nil {
			return false
		}
		total += min(b, o.NumBaseAtoms)
		remaining = 0
		return false
	})
	return total, err
}

// SwapResult reports the atoms a swap consumed and produced.
type SwapResult struct {
	InAtoms  uint64
	OutAtoms uint64
}

// Swap trades in a single step against the book: the input is deposited, an
// immediate-or-cancel order crosses the book and every balance change is withdrawn.
// A trader without a seat gets a temporary one.
func (m *Market) Swap(trader solana.PublicKey, params protocol.SwapParams, now uint32, globals Globals) (SwapResult, error) {
	var res SwapResult
	err := m.atomicWith(globals, func() error {
		var err error
		res, err = m.swap(trader, params, now, globals)
		return err
	})
	return res, err
}

func (m *Market) swap(trader solana.PublicKey, params protocol.SwapParams, now uint32, globals Globals) (SwapResult, error) {
	var res SwapResult
	isBid := !params.IsBaseIn

	traderIdx, err := m.TraderIndex(trader)
	temporary := false
	if err != nil {
		if traderIdx, err = m.claimSeat(trader); err != nil {
			return res, err
		}
		temporary = true
	}
	base0, quote0, err := m.Balance(trader)
	if err != nil {
		return res, err
	}

	inMint := m.fixed.QuoteMint
	if params.IsBaseIn {
		inMint = m.fixed.BaseMint
	}
	if err := m.credit(traderIdx, params.IsBaseIn, params.InAtoms); err != nil {
		return res, err
	}
	m.emit(NewDepositLog(m.address, trader, inMint, params.InAtoms))

	var base BaseAtoms
	switch {
	case params.IsBaseIn && params.IsExactIn:
		base = BaseAtoms(params.InAtoms)
	case params.IsBaseIn:
		need, err := m.ImpactBaseAtoms(false, QuoteAtoms(params.OutAtoms), now, globals)
		if err != nil {
			return res, err
		}
		base = min(BaseAtoms(params.InAtoms), need)
	case params.IsExactIn:
		if base, err = m.ImpactBaseAtoms(true, QuoteAtoms(params.InAtoms), now, globals); err != nil {
			return res, err
		}
	default:
		base = BaseAtoms(params.OutAtoms)
	}

	if base > 0 {
		price := MinPrice
		if isBid {
			price = MaxPrice
		}
		placed, err := m.placeOrder(PlaceOrderArgs{
			Trader:      trader,
			TraderIndex: traderIdx,
			BaseAtoms:   base,
			Price:       price,
			IsBid:       isBid,
			OrderType:   ImmediateOrCancel,
			Now:         now,
		}, globals)
		if err != nil {
			if !params.IsExactIn && errors.Is(err, ErrInsufficientBalance) {
				return res, fmt.Errorf("%w: %d input atoms do not buy %d", ErrInsufficientOut, params.InAtoms, params.OutAtoms)
			}
			return res, err
		}
		if params.IsBaseIn {
			res.InAtoms, res.OutAtoms = uint64(placed.BaseAtomsTraded), uint64(placed.QuoteAtomsTraded)
		} else {
			res.InAtoms, res.OutAtoms = uint64(placed.QuoteAtomsTraded), uint64(placed.BaseAtomsTraded)
		}
	}
	// Exact out takes what the book can fill, as long as it costs no more than InAtoms.
	if params.IsExactIn && res.OutAtoms < params.OutAtoms {
		return res, fmt.Errorf("%w: got %d, want at least %d", ErrInsufficientOut, res.OutAtoms, params.OutAtoms)
	}
	if !params.IsExactIn && res.InAtoms > params.InAtoms {
		return res, fmt.Errorf("%w: used %d input atoms, at most %d", ErrInsufficientOut, res.InAtoms, params.InAtoms)
	}

	base1, quote1, err := m.Balance(trader)
	if err != nil {
		return res, err
	}
	if base1 < base0 || quote1 < quote0 {
		return res, fmt.Errorf("%w: swap would spend the existing balance", ErrInsufficientBalance)
	}
	if d := uint64(base1 - base0); d > 0 {
		if err := m.debit(traderIdx, true, d); err != nil {
			return res, err
		}
		m.emit(NewWithdrawLog(m.address, trader, m.fixed.BaseMint, d))
	}
	if d := uint64(quote1 - quote0); d > 0 {
		if err := m.debit(traderIdx, false, d); err != nil {
			return res, err
		}
		m.emit(NewWithdrawLog(m.address, trader, m.fixed.QuoteMint, d))
	}
	if temporary {
		if err := m.releaseSeat(trader); err != nil {
			return res, err
		}
	}
	return res, nil
}
