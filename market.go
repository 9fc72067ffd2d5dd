package match

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/0x5487/manifest-engine/protocol"
	"github.com/0x5487/manifest-engine/structure"
)

// Market is a single trading pair: a fixed header followed by an arena of
// 80-byte blocks holding the bid tree, the ask tree and the claimed seats tree.
// A Market is not safe for concurrent use.
type Market struct {
	address   solana.PublicKey
	programID solana.PublicKey
	maxBlocks uint32

	fixed MarketFixed
	arena *structure.Arena
	bids  *structure.RedBlackTree[RestingOrder]
	asks  *structure.RedBlackTree[RestingOrder]
	seats *structure.RedBlackTree[ClaimedSeat]

	logs []*MarketLog

	tx        txState
	saved     MarketFixed
	savedLogs int
}

type marketOptions struct {
	programID     solana.PublicKey
	maxBlocks     uint32
	initialBlocks uint32
}

// MarketOption configures a Market.
type MarketOption func(*marketOptions)

// WithMarketProgramID sets the program the vault addresses are derived under.
func WithMarketProgramID(id solana.PublicKey) MarketOption {
	return func(o *marketOptions) {
		o.programID = id
	}
}

// WithMaxBlocks caps the dynamic region. 0 means unbounded.
func WithMaxBlocks(n uint32) MarketOption {
	return func(o *marketOptions) {
		o.maxBlocks = n
	}
}

// WithInitialBlocks pre-allocates n free blocks at creation.
func WithInitialBlocks(n uint32) MarketOption {
	return func(o *marketOptions) {
		o.initialBlocks = n
	}
}

func newMarketOptions(opts []MarketOption) marketOptions {
	o := marketOptions{programID: protocol.ProgramID}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewMarket creates an empty market for the pair. The creation log is pending
// on the returned market.
func NewMarket(address, creator solana.PublicKey, params protocol.CreateMarketParams, opts ...MarketOption) (*Market, error) {
	if params.BaseMint.Equals(params.QuoteMint) {
		return nil, fmt.Errorf("%w: base and quote mint are the same", ErrInvalidMarketParams)
	}
	o := newMarketOptions(opts)

	m := &Market{
		address:   address,
		programID: o.programID,
		maxBlocks: o.maxBlocks,
		fixed:     newMarketFixed(),
	}
	m.fixed.BaseMintDecimals = params.BaseMintDecimals
	m.fixed.QuoteMintDecimals = params.QuoteMintDecimals
	m.fixed.BaseMint = params.BaseMint
	m.fixed.QuoteMint = params.QuoteMint

	var err error
	if m.fixed.BaseVault, m.fixed.BaseVaultBump, err = VaultAddress(o.programID, address, params.BaseMint); err != nil {
		return nil, fmt.Errorf("derive base vault: %w", err)
	}
	if m.fixed.QuoteVault, m.fixed.QuoteVaultBump, err = VaultAddress(o.programID, address, params.QuoteMint); err != nil {
		return nil, fmt.Errorf("derive quote vault: %w", err)
	}

	m.arena = structure.NewArena(MarketBlockSize, m.maxBytes(), &m.fixed.FreeListHeadIndex, &m.fixed.NumBytesAllocated)
	m.initTrees()
	if err := m.arena.Expand(o.initialBlocks); err != nil {
		return nil, err
	}
	m.emit(NewCreateMarketLog(address, creator))
	return m, nil
}

// LoadMarket rebuilds a market from the bytes produced by Bytes.
func LoadMarket(address solana.PublicKey, data []byte, opts ...MarketOption) (*Market, error) {
	fixed, err := DecodeMarketFixed(data)
	if err != nil {
		return nil, err
	}
	o := newMarketOptions(opts)
	m := &Market{
		address:   address,
		programID: o.programID,
		maxBlocks: o.maxBlocks,
		fixed:     fixed,
	}
	m.arena, err = structure.LoadArena(data[MarketFixedSize:], MarketBlockSize, m.maxBytes(), &m.fixed.FreeListHeadIndex, &m.fixed.NumBytesAllocated)
	if err != nil {
		return nil, err
	}
	m.initTrees()
	return m, nil
}

func (m *Market) maxBytes() uint32 {
	return m.maxBlocks * MarketBlockSize
}

func (m *Market) initTrees() {
	m.bids = structure.NewRedBlackTree(m.arena, &m.fixed.BidsRootIndex, &m.fixed.BidsBestIndex, payloadTypeRestingOrder, decodeRestingOrder)
	m.asks = structure.NewRedBlackTree(m.arena, &m.fixed.AsksRootIndex, &m.fixed.AsksBestIndex, payloadTypeRestingOrder, decodeRestingOrder)
	m.seats = structure.NewRedBlackTree(m.arena, &m.fixed.ClaimedSeatsRootIndex, nil, payloadTypeClaimedSeat, decodeClaimedSeat)
}

// Address returns the market's account address.
func (m *Market) Address() solana.PublicKey {
	return m.address
}

// Fixed returns a copy of the header.
func (m *Market) Fixed() MarketFixed {
	return m.fixed
}

func (m *Market) BaseMint() solana.PublicKey {
	return m.fixed.BaseMint
}

func (m *Market) QuoteMint() solana.PublicKey {
	return m.fixed.QuoteMint
}

// Bytes serializes the header and the dynamic region.
func (m *Market) Bytes() ([]byte, error) {
	head, err := encodeFixed(m.fixed, MarketFixedSize)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(head)+int(m.arena.Len()))
	out = append(out, head...)
	out = append(out, m.arena.Bytes()...)
	return out, nil
}

func (m *Market) begin() {
	if m.tx.enter() {
		m.saved = m.fixed
		m.savedLogs = len(m.logs)
		m.arena.Begin()
	}
}

func (m *Market) commit() {
	if m.tx.leave() {
		m.arena.Commit()
	}
}

func (m *Market) rollback() {
	if !m.tx.abort() {
		return
	}
	m.fixed = m.saved
	m.arena.Rollback()
	for _, log := range m.logs[m.savedLogs:] {
		ReleaseMarketLog(log)
	}
	m.logs = m.logs[:m.savedLogs]
}

func (m *Market) atomic(fn func() error) error {
	return runAtomic([]txParticipant{m}, fn)
}

func (m *Market) emit(log *MarketLog) {
	m.logs = append(m.logs, log)
}

// DrainLogs returns the logs produced since the last drain. The caller owns them.
func (m *Market) DrainLogs() []*MarketLog {
	logs := m.logs
	m.logs = nil
	return logs
}

// Expand adds n free blocks to the dynamic region.
func (m *Market) Expand(n uint32) error {
	return m.atomic(func() error {
		return m.arena.Expand(n)
	})
}

// ClaimSeat gives trader a seat on the market and returns its index.
func (m *Market) ClaimSeat(trader solana.PublicKey) (DataIndex, error) {
	var idx DataIndex
	err := m.atomic(func() error {
		var err error
		idx, err = m.claimSeat(trader)
		return err
	})
	return idx, err
}

func (m *Market) claimSeat(trader solana.PublicKey) (DataIndex, error) {
	seat := ClaimedSeat{Trader: trader}
	if m.seats.Lookup(seat) != NilIndex {
		return NilIndex, ErrAlreadyClaimed
	}
	idx, err := m.arena.Allocate()
	if err != nil {
		return NilIndex, err
	}
	if err := m.seats.Insert(idx, seat); err != nil {
		return NilIndex, err
	}
	m.emit(NewClaimSeatLog(m.address, trader))
	return idx, nil
}

// ReleaseSeat removes an empty seat. It fails when the trader has balances or resting orders.
func (m *Market) ReleaseSeat(trader solana.PublicKey) error {
	return m.atomic(func() error {
		return m.releaseSeat(trader)
	})
}

func (m *Market) releaseSeat(trader solana.PublicKey) error {
	idx, err := m.TraderIndex(trader)
	if err != nil {
		return err
	}
	seat, err := m.seats.Get(idx)
	if err != nil {
		return err
	}
	if seat.BaseWithdrawableBalance != 0 || seat.QuoteWithdrawableBalance != 0 {
		return fmt.Errorf("%w: seat still holds funds", ErrInvalidParam)
	}
	if m.hasOrders(idx) {
		return fmt.Errorf("%w: seat still has resting orders", ErrInvalidParam)
	}
	if err := m.seats.Remove(idx); err != nil {
		return err
	}
	m.arena.Free(idx)
	return nil
}

func (m *Market) hasOrders(traderIndex DataIndex) bool {
	found := false
	visit := func(_ DataIndex, o RestingOrder) bool {
		found = o.TraderIndex == traderIndex
		return !found
	}
	m.bids.Descend(visit)
	if !found {
		m.asks.Descend(visit)
	}
	return found
}

// TraderIndex returns the index of trader's seat.
func (m *Market) TraderIndex(trader solana.PublicKey) (DataIndex, error) {
	idx := m.seats.Lookup(ClaimedSeat{Trader: trader})
	if idx == NilIndex {
		return NilIndex, ErrSeatNotFound
	}
	return idx, nil
}

// resolveTrader checks an optional seat hint, falling back to a tree lookup.
func (m *Market) resolveTrader(trader solana.PublicKey, hint *uint32) (DataIndex, error) {
	if hint == nil {
		return m.TraderIndex(trader)
	}
	seat, err := m.seats.Get(*hint)
	if err != nil || !seat.Trader.Equals(trader) {
		return NilIndex, ErrWrongIndexHint
	}
	return *hint, nil
}

// Seat returns trader's seat.
func (m *Market) Seat(trader solana.PublicKey) (ClaimedSeat, error) {
	idx, err := m.TraderIndex(trader)
	if err != nil {
		return ClaimedSeat{}, err
	}
	return m.seats.Get(idx)
}

// Balance returns trader's withdrawable base and quote atoms.
func (m *Market) Balance(trader solana.PublicKey) (BaseAtoms, QuoteAtoms, error) {
	seat, err := m.Seat(trader)
	if err != nil {
		return 0, 0, err
	}
	return seat.BaseWithdrawableBalance, seat.QuoteWithdrawableBalance, nil
}

// Seats returns every claimed seat ordered by trader key.
func (m *Market) Seats() []ClaimedSeat {
	out := make([]ClaimedSeat, 0)
	m.seats.Ascend(func(_ DataIndex, s ClaimedSeat) bool {
		out = append(out, s)
		return true
	})
	return out
}

func (m *Market) mintSide(mint solana.PublicKey) (isBase bool, err error) {
	switch {
	case mint.Equals(m.fixed.BaseMint):
		return true, nil
	case mint.Equals(m.fixed.QuoteMint):
		return false, nil
	}
	return false, ErrInvalidMint
}

// Deposit credits atoms of mint to trader's seat.
func (m *Market) Deposit(trader, mint solana.PublicKey, amount uint64, hint *uint32) error {
	return m.atomic(func() error {
		isBase, err := m.mintSide(mint)
		if err != nil {
			return err
		}
		idx, err := m.resolveTrader(trader, hint)
		if err != nil {
			return err
		}
		if err := m.credit(idx, isBase, amount); err != nil {
			return err
		}
		m.emit(NewDepositLog(m.address, trader, mint, amount))
		return nil
	})
}

// Withdraw debits atoms of mint from trader's seat.
func (m *Market) Withdraw(trader, mint solana.PublicKey, amount uint64, hint *uint32) error {
	return m.atomic(func() error {
		isBase, err := m.mintSide(mint)
		if err != nil {
			return err
		}
		idx, err := m.resolveTrader(trader, hint)
		if err != nil {
			return err
		}
		if err := m.debit(idx, isBase, amount); err != nil {
			return err
		}
		m.emit(NewWithdrawLog(m.address, trader, mint, amount))
		return nil
	})
}

func (m *Market) updateSeat(idx DataIndex, fn func(*ClaimedSeat) error) error {
	seat, err := m.seats.Get(idx)
	if err != nil {
		return err
	}
	if err := fn(&seat); err != nil {
		return err
	}
	return m.seats.Update(idx, seat)
}

func (m *Market) credit(idx DataIndex, isBase bool, amount uint64) error {
	return m.updateSeat(idx, func(s *ClaimedSeat) (err error) {
		if isBase {
			s.BaseWithdrawableBalance, err = s.BaseWithdrawableBalance.Add(BaseAtoms(amount))
		} else {
			s.QuoteWithdrawableBalance, err = s.QuoteWithdrawableBalance.Add(QuoteAtoms(amount))
		}
		return err
	})
}

func (m *Market) debit(idx DataIndex, isBase bool, amount uint64) error {
	return m.updateSeat(idx, func(s *ClaimedSeat) (err error) {
		if isBase {
			s.BaseWithdrawableBalance, err = s.BaseWithdrawableBalance.Sub(BaseAtoms(amount))
		} else {
			s.QuoteWithdrawableBalance, err = s.QuoteWithdrawableBalance.Sub(QuoteAtoms(amount))
		}
		return err
	})
}

func (m *Market) addVolume(idx DataIndex, quote QuoteAtoms) error {
	return m.updateSeat(idx, func(s *ClaimedSeat) error {
		// volume wraps like the on-chain counter
		s.QuoteVolume += quote
		return nil
	})
}

func (m *Market) side(isBid bool) *structure.RedBlackTree[RestingOrder] {
	if isBid {
		return m.bids
	}
	return m.asks
}

// BestBid returns the highest bid, oldest first at that price.
func (m *Market) BestBid() (RestingOrder, bool) {
	return m.best(m.bids)
}

// BestAsk returns the lowest ask, oldest first at that price.
func (m *Market) BestAsk() (RestingOrder, bool) {
	return m.best(m.asks)
}

func (m *Market) best(tree *structure.RedBlackTree[RestingOrder]) (RestingOrder, bool) {
	idx := tree.Max()
	if idx == NilIndex {
		return RestingOrder{}, false
	}
	o, err := tree.Get(idx)
	return o, err == nil
}

// Order returns the resting order stored at idx.
func (m *Market) Order(idx DataIndex) (RestingOrder, error) {
	return m.bids.Get(idx)
}

// OrderSequenceNumber returns the next sequence number to be assigned.
func (m *Market) OrderSequenceNumber() uint64 {
	return m.fixed.OrderSequenceNumber
}

// Depth returns up to limit aggregated price levels per side, best first.
func (m *Market) Depth(limit int) *protocol.GetDepthResponse {
	return &protocol.GetDepthResponse{
		UpdateID: m.fixed.OrderSequenceNumber,
		Bids:     m.depthSide(m.bids, limit),
		Asks:     m.depthSide(m.asks, limit),
	}
}

func (m *Market) depthSide(tree *structure.RedBlackTree[RestingOrder], limit int) []*protocol.DepthItem {
	items := make([]*protocol.DepthItem, 0, limit)
	var (
		cur   *protocol.DepthItem
		price Price
		size  uint64
	)
	tree.Descend(func(_ DataIndex, o RestingOrder) bool {
		if cur != nil && o.Price.Cmp(price) == 0 {
			size += uint64(o.NumBaseAtoms)
			cur.Size = decimal.NewFromUint64(size).String()
			cur.Count++
			return true
		}
		if len(items) == limit {
			return false
		}
		price, size = o.Price, uint64(o.NumBaseAtoms)
		cur = &protocol.DepthItem{
			Price: o.Price.String(),
			Size:  decimal.NewFromUint64(size).String(),
			Count: 1,
		}
		items = append(items, cur)
		return true
	})
	return items
}

// OpenOrders returns trader's resting orders, bids first, each side best first.
func (m *Market) OpenOrders(trader solana.PublicKey) ([]*protocol.OpenOrder, error) {
	traderIndex, err := m.TraderIndex(trader)
	if err != nil {
		return nil, err
	}
	out := make([]*protocol.OpenOrder, 0)
	visit := func(idx DataIndex, o RestingOrder) bool {
		if o.TraderIndex == traderIndex {
			out = append(out, &protocol.OpenOrder{
				OrderIndex:     idx,
				SequenceNumber: o.SequenceNumber,
				Trader:         trader.String(),
				IsBid:          o.IsBid,
				Price:          o.Price.String(),
				BaseAtoms:      uint64(o.NumBaseAtoms),
				LastValidSlot:  o.LastValidSlot,
				OrderType:      o.OrderType.String(),
			})
		}
		return true
	}
	m.bids.Descend(visit)
	m.asks.Descend(visit)
	return out, nil
}

// Stats returns counters describing the market account.
func (m *Market) Stats() *protocol.GetStatsResponse {
	return &protocol.GetStatsResponse{
		AskOrderCount:  int64(m.asks.Len()),
		BidOrderCount:  int64(m.bids.Len()),
		SeatCount:      int64(m.seats.Len()),
		FreeBlocks:     int64(m.arena.FreeCount()),
		BytesAllocated: m.arena.Len(),
		QuoteVolume:    m.fixed.QuoteVolume,
		SequenceNumber: m.fixed.OrderSequenceNumber,
	}
}

// Holdings returns what the market owes its traders: every seat balance plus
// the funds locked in non-global resting orders.
func (m *Market) Holdings() (BaseAtoms, QuoteAtoms, error) {
	var (
		base  BaseAtoms
		quote QuoteAtoms
		err   error
	)
	m.seats.Ascend(func(_ DataIndex, s ClaimedSeat) bool {
		base += s.BaseWithdrawableBalance
		quote += s.QuoteWithdrawableBalance
		return true
	})
	lock := func(_ DataIndex, o RestingOrder) bool {
		if o.OrderType.IsGlobal() {
			return true
		}
		b, q, e := o.lockedAtoms()
		if e != nil {
			err = e
			return false
		}
		base += b
		quote += q
		return true
	}
	m.bids.Descend(lock)
	m.asks.Descend(lock)
	return base, quote, err
}

// Verify checks every tree in the account and the block accounting.
func (m *Market) Verify() error {
	if err := m.bids.Verify(); err != nil {
		return fmt.Errorf("bids: %w", err)
	}
	if err := m.asks.Verify(); err != nil {
		return fmt.Errorf("asks: %w", err)
	}
	if err := m.seats.Verify(); err != nil {
		return fmt.Errorf("seats: %w", err)
	}
	used := m.bids.Len() + m.asks.Len() + m.seats.Len()
	if total := int(m.arena.Len() / MarketBlockSize); used+m.arena.FreeCount() != total {
		return fmt.Errorf("%w: %d used and %d free of %d blocks", structure.ErrInvariant, used, m.arena.FreeCount(), total)
	}
	return nil
}
