package match

import (
	"math/rand"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x5487/manifest-engine/protocol"
)

// swapBook rests alice's ask of 10 at 100 and bob's bid of 10 at 99.
func swapBook(t *testing.T) *Market {
	t.Helper()
	m := newTestMarket(t)
	fundTrader(t, m, alice, 10, 0)
	fundTrader(t, m, bob, 0, 990)
	place(t, m, limitArgs(alice, false, 10, 100, Limit))
	place(t, m, limitArgs(bob, true, 10, 99, Limit))
	m.DrainLogs()
	return m
}

func TestMarket_Swap(t *testing.T) {
	tests := []struct {
		name   string
		params protocol.SwapParams
		want   SwapResult
	}{
		{
			name:   "base in exact in",
			params: protocol.SwapParams{InAtoms: 4, OutAtoms: 300, IsBaseIn: true, IsExactIn: true},
			want:   SwapResult{InAtoms: 4, OutAtoms: 396},
		},
		{
			name:   "base in exact out",
			params: protocol.SwapParams{InAtoms: 10, OutAtoms: 495, IsBaseIn: true},
			want:   SwapResult{InAtoms: 5, OutAtoms: 495},
		},
		{
			name:   "quote in exact in",
			params: protocol.SwapParams{InAtoms: 450, OutAtoms: 4, IsExactIn: true},
			want:   SwapResult{InAtoms: 400, OutAtoms: 4},
		},
		{
			name:   "quote in exact out",
			params: protocol.SwapParams{InAtoms: 600, OutAtoms: 5},
			want:   SwapResult{InAtoms: 500, OutAtoms: 5},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := swapBook(t)
			res, err := m.Swap(carol, tt.params, 0, Globals{})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)

			_, err = m.TraderIndex(carol)
			assert.ErrorIs(t, err, ErrSeatNotFound, "the temporary seat is released")
			require.NoError(t, m.Verify())

			var deposited, withdrawn uint64
			for _, log := range m.DrainLogs() {
				switch log.Type {
				case protocol.LogTypeDeposit:
					deposited += log.Record.(DepositLog).AmountAtoms
				case protocol.LogTypeWithdraw:
					withdrawn += log.Record.(WithdrawLog).AmountAtoms
				}
			}
			assert.Equal(t, tt.params.InAtoms, deposited)
			assert.Equal(t, tt.params.InAtoms-res.InAtoms+res.OutAtoms, withdrawn)
		})
	}
}

func TestMarket_SwapKeepsExistingSeat(t *testing.T) {
	m := swapBook(t)
	fundTrader(t, m, carol, 0, 0)

	_, err := m.Swap(carol, protocol.SwapParams{InAtoms: 4, IsBaseIn: true, IsExactIn: true}, 0, Globals{})
	require.NoError(t, err)

	b, q := balance(t, m, carol)
	assert.Zero(t, b)
	assert.Zero(t, q)
}

func TestMarket_SwapBelowMinimumOut(t *testing.T) {
	m := swapBook(t)
	before := digest(t, m)

	_, err := m.Swap(carol, protocol.SwapParams{InAtoms: 4, OutAtoms: 500, IsBaseIn: true, IsExactIn: true}, 0, Globals{})
	assert.ErrorIs(t, err, ErrInsufficientOut)
	assert.Equal(t, before, digest(t, m))
	assert.Empty(t, m.DrainLogs())
}

func TestMarket_SwapExactOutNeedsEnoughInput(t *testing.T) {
	m := swapBook(t)
	before := digest(t, m)

	_, err := m.Swap(carol, protocol.SwapParams{InAtoms: 400, OutAtoms: 5}, 0, Globals{})
	assert.ErrorIs(t, err, ErrInsufficientOut)
	assert.Equal(t, before, digest(t, m))
}

func TestMarket_SwapExactOutAcceptsPartialFill(t *testing.T) {
	m := swapBook(t)

	res, err := m.Swap(carol, protocol.SwapParams{InAtoms: 2000, OutAtoms: 20}, 0, Globals{})
	require.NoError(t, err)
	assert.Equal(t, SwapResult{InAtoms: 1000, OutAtoms: 10}, res)
	_, err = m.TraderIndex(carol)
	assert.ErrorIs(t, err, ErrSeatNotFound)
	require.NoError(t, m.Verify())
}

func TestMarket_SwapWithExistingBalance(t *testing.T) {
	t.Run("leaves the balance alone", func(t *testing.T) {
		m := swapBook(t)
		fundTrader(t, m, carol, 0, 500)

		res, err := m.Swap(carol, protocol.SwapParams{InAtoms: 4, IsBaseIn: true, IsExactIn: true}, 0, Globals{})
		require.NoError(t, err)
		assert.Equal(t, SwapResult{InAtoms: 4, OutAtoms: 396}, res)

		b, q := balance(t, m, carol)
		assert.Zero(t, b)
		assert.Equal(t, uint64(500), q)
	})

	t.Run("exact out cannot spend it", func(t *testing.T) {
		m := swapBook(t)
		fundTrader(t, m, carol, 0, 500)
		before := digest(t, m)

		_, err := m.Swap(carol, protocol.SwapParams{InAtoms: 400, OutAtoms: 5}, 0, Globals{})
		assert.ErrorIs(t, err, ErrInsufficientOut)
		assert.Equal(t, before, digest(t, m))

		_, q := balance(t, m, carol)
		assert.Equal(t, uint64(500), q)
	})
}

func TestMarket_Impact(t *testing.T) {
	m := swapBook(t)
	fundTrader(t, m, carol, 5, 0)
	place(t, m, limitArgs(carol, false, 5, 110, Limit))

	quote, err := m.ImpactQuoteAtoms(true, 12, 0, Globals{})
	require.NoError(t, err)
	assert.Equal(t, QuoteAtoms(1000+220), quote)

	quote, err = m.ImpactQuoteAtoms(true, 100, 0, Globals{})
	require.NoError(t, err)
	assert.Equal(t, QuoteAtoms(1000+550), quote, "stops at the end of the book")

	base, err := m.ImpactBaseAtoms(true, 1110, 0, Globals{})
	require.NoError(t, err)
	assert.Equal(t, BaseAtoms(11), base)

	base, err = m.ImpactBaseAtoms(false, 500, 0, Globals{})
	require.NoError(t, err)
	assert.Equal(t, BaseAtoms(6), base)
}

func TestMarket_ImpactSkipsExpired(t *testing.T) {
	m := newTestMarket(t)
	fundTrader(t, m, alice, 10, 0)
	args := limitArgs(alice, false, 10, 100, Limit)
	args.LastValidSlot = 5
	place(t, m, args)

	quote, err := m.ImpactQuoteAtoms(true, 10, 5, Globals{})
	require.NoError(t, err)
	assert.Equal(t, QuoteAtoms(1000), quote)

	quote, err = m.ImpactQuoteAtoms(true, 10, 6, Globals{})
	require.NoError(t, err)
	assert.Zero(t, quote)
}

// TestMarket_RandomOrdersConserveFunds checks that whatever mix of orders
// succeeds or fails, the market owes its traders exactly what they deposited.
func TestMarket_RandomOrdersConserveFunds(t *testing.T) {
	m := newTestMarket(t)
	rng := rand.New(rand.NewSource(42))
	traders := []struct {
		key   solana.PublicKey
		base  uint64
		quote uint64
	}{
		{alice, 5_000, 500_000},
		{bob, 5_000, 500_000},
		{carol, 5_000, 500_000},
	}
	var wantBase, wantQuote uint64
	for _, tr := range traders {
		fundTrader(t, m, tr.key, tr.base, tr.quote)
		wantBase += tr.base
		wantQuote += tr.quote
	}
	types := []OrderType{Limit, ImmediateOrCancel, PostOnly, Reverse, ReverseTight}

	var placed []uint64
	for i := 0; i < 500; i++ {
		tr := traders[rng.Intn(len(traders))]
		if len(placed) > 0 && rng.Intn(5) == 0 {
			seq := placed[rng.Intn(len(placed))]
			_ = m.CancelOrder(tr.key, seq, nil)
			continue
		}
		args := limitArgs(tr.key, rng.Intn(2) == 0, uint64(1+rng.Intn(40)), uint32(95+rng.Intn(11)), types[rng.Intn(len(types))])
		if args.OrderType == Reverse || args.OrderType == ReverseTight {
			args.ReverseSpread = uint16(1 + rng.Intn(20_000))
		}
		res, err := m.PlaceOrder(args, Globals{})
		if err == nil && res.OrderIndex != NilIndex {
			placed = append(placed, res.OrderSequenceNumber)
		}

		base, quote, err := m.Holdings()
		require.NoError(t, err)
		require.Equal(t, wantBase, uint64(base), "step %d", i)
		require.Equal(t, wantQuote, uint64(quote), "step %d", i)
	}
	require.NoError(t, m.Verify())

	stats := m.Stats()
	assert.Equal(t, int64(3), stats.SeatCount)
	if bid, ok := m.BestBid(); ok {
		ask, ok := m.BestAsk()
		if ok {
			assert.Negative(t, bid.Price.Cmp(ask.Price), "the book is never crossed")
		}
	}
}
