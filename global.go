package match

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/0x5487/manifest-engine/protocol"
	"github.com/0x5487/manifest-engine/structure"
)

// DefaultGlobalSeats is the default capacity of a global pool.
const DefaultGlobalSeats uint16 = 999

// GlobalPool is the per-mint account backing global orders. Traders deposit
// once and the balance is debited just in time when one of their global orders
// is matched on any market.
type GlobalPool struct {
	address   solana.PublicKey
	programID solana.PublicKey
	maxSeats  uint16

	fixed    GlobalFixed
	arena    *structure.Arena
	traders  *structure.RedBlackTree[GlobalTrader]
	deposits *structure.RedBlackTree[GlobalDeposit]

	logs []*MarketLog

	tx        txState
	saved     GlobalFixed
	savedLogs int
}

type globalOptions struct {
	programID solana.PublicKey
	maxSeats  uint16
	maxBlocks uint32
}

// GlobalOption configures a GlobalPool.
type GlobalOption func(*globalOptions)

// WithGlobalProgramID sets the program the pool addresses are derived under.
func WithGlobalProgramID(id solana.PublicKey) GlobalOption {
	return func(o *globalOptions) {
		o.programID = id
	}
}

// WithMaxSeats sets the number of traders the pool admits.
func WithMaxSeats(n uint16) GlobalOption {
	return func(o *globalOptions) {
		o.maxSeats = n
	}
}

func newGlobalOptions(opts []GlobalOption) globalOptions {
	o := globalOptions{programID: protocol.ProgramID, maxSeats: DefaultGlobalSeats}
	for _, opt := range opts {
		opt(&o)
	}
	// every seat takes a trader block and a deposit block
	o.maxBlocks = 2 * uint32(o.maxSeats)
	return o
}

// NewGlobalPool creates the pool for mint at its derived address.
func NewGlobalPool(creator, mint solana.PublicKey, opts ...GlobalOption) (*GlobalPool, error) {
	o := newGlobalOptions(opts)
	address, _, err := GlobalAddress(o.programID, mint)
	if err != nil {
		return nil, fmt.Errorf("derive global address: %w", err)
	}
	g := &GlobalPool{
		address:   address,
		programID: o.programID,
		maxSeats:  o.maxSeats,
		fixed:     newGlobalFixed(),
	}
	g.fixed.Mint = mint
	if g.fixed.Vault, g.fixed.VaultBump, err = GlobalVaultAddress(o.programID, mint); err != nil {
		return nil, fmt.Errorf("derive global vault: %w", err)
	}
	g.arena = structure.NewArena(GlobalBlockSize, o.maxBlocks*GlobalBlockSize, &g.fixed.FreeListHeadIndex, &g.fixed.NumBytesAllocated)
	g.initTrees()
	g.emit(NewGlobalCreateLog(address, creator))
	return g, nil
}

// LoadGlobalPool rebuilds a pool from the bytes produced by Bytes.
func LoadGlobalPool(address solana.PublicKey, data []byte, opts ...GlobalOption) (*GlobalPool, error) {
	fixed, err := DecodeGlobalFixed(data)
	if err != nil {
		return nil, err
	}
	o := newGlobalOptions(opts)
	g := &GlobalPool{
		address:   address,
		programID: o.programID,
		maxSeats:  o.maxSeats,
		fixed:     fixed,
	}
	g.arena, err = structure.LoadArena(data[GlobalFixedSize:], GlobalBlockSize, o.maxBlocks*GlobalBlockSize, &g.fixed.FreeListHeadIndex, &g.fixed.NumBytesAllocated)
	if err != nil {
		return nil, err
	}
	g.initTrees()
	return g, nil
}

func (g *GlobalPool) initTrees() {
	g.traders = structure.NewRedBlackTree(g.arena, &g.fixed.GlobalTradersRootIndex, nil, payloadTypeGlobalTrader, decodeGlobalTrader)
	g.deposits = structure.NewRedBlackTree(g.arena, &g.fixed.GlobalDepositsRootIndex, &g.fixed.GlobalDepositsMaxIndex, payloadTypeGlobalDeposit, decodeGlobalDeposit)
}

func (g *GlobalPool) Address() solana.PublicKey {
	return g.address
}

func (g *GlobalPool) Mint() solana.PublicKey {
	return g.fixed.Mint
}

// Fixed returns a copy of the header.
func (g *GlobalPool) Fixed() GlobalFixed {
	return g.fixed
}

// NumSeats returns the number of traders holding a seat.
func (g *GlobalPool) NumSeats() uint16 {
	return g.fixed.NumSeatsClaimed
}

// Bytes serializes the header and the dynamic region.
func (g *GlobalPool) Bytes() ([]byte, error) {
	head, err := encodeFixed(g.fixed, GlobalFixedSize)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(head)+int(g.arena.Len()))
	out = append(out, head...)
	out = append(out, g.arena.Bytes()...)
	return out, nil
}

func (g *GlobalPool) begin() {
	if g.tx.enter() {
		g.saved = g.fixed
		g.savedLogs = len(g.logs)
		g.arena.Begin()
	}
}

func (g *GlobalPool) commit() {
	if g.tx.leave() {
		g.arena.Commit()
	}
}

func (g *GlobalPool) rollback() {
	if !g.tx.abort() {
		return
	}
	g.fixed = g.saved
	g.arena.Rollback()
	for _, log := range g.logs[g.savedLogs:] {
		ReleaseMarketLog(log)
	}
	g.logs = g.logs[:g.savedLogs]
}

func (g *GlobalPool) atomic(fn func() error) error {
	return runAtomic([]txParticipant{g}, fn)
}

func (g *GlobalPool) emit(log *MarketLog) {
	g.logs = append(g.logs, log)
}

// DrainLogs returns the logs produced since the last drain. The caller owns them.
func (g *GlobalPool) DrainLogs() []*MarketLog {
	logs := g.logs
	g.logs = nil
	return logs
}

func (g *GlobalPool) traderIndex(trader solana.PublicKey) (DataIndex, GlobalTrader, error) {
	idx := g.traders.Lookup(GlobalTrader{Trader: trader})
	if idx == NilIndex {
		return NilIndex, GlobalTrader{}, ErrSeatNotFound
	}
	gt, err := g.traders.Get(idx)
	return idx, gt, err
}

// HasSeat reports whether trader holds a seat in the pool.
func (g *GlobalPool) HasSeat(trader solana.PublicKey) bool {
	return g.traders.Lookup(GlobalTrader{Trader: trader}) != NilIndex
}

// AddTrader gives trader a seat with a zero balance.
func (g *GlobalPool) AddTrader(trader solana.PublicKey) error {
	return g.atomic(func() error {
		if g.HasSeat(trader) {
			return ErrAlreadyClaimed
		}
		if g.fixed.NumSeatsClaimed >= g.maxSeats {
			return ErrGlobalPoolFull
		}
		traderIdx, err := g.arena.Allocate()
		if err != nil {
			return err
		}
		depositIdx, err := g.arena.Allocate()
		if err != nil {
			return err
		}
		if err := g.deposits.Insert(depositIdx, GlobalDeposit{Trader: trader}); err != nil {
			return err
		}
		if err := g.traders.Insert(traderIdx, GlobalTrader{Trader: trader, DepositIndex: depositIdx}); err != nil {
			return err
		}
		g.fixed.NumSeatsClaimed++
		g.emit(NewGlobalAddTraderLog(g.address, trader))
		return nil
	})
}

// Balance returns trader's deposited atoms.
func (g *GlobalPool) Balance(trader solana.PublicKey) (GlobalAtoms, error) {
	_, gt, err := g.traderIndex(trader)
	if err != nil {
		return 0, err
	}
	d, err := g.deposits.Get(gt.DepositIndex)
	if err != nil {
		return 0, err
	}
	return d.BalanceAtoms, nil
}

// setBalance re-keys the deposit node, which is ordered by balance.
func (g *GlobalPool) setBalance(depositIdx DataIndex, d GlobalDeposit) error {
	if err := g.deposits.Remove(depositIdx); err != nil {
		return err
	}
	return g.deposits.Insert(depositIdx, d)
}

func (g *GlobalPool) adjust(trader solana.PublicKey, fn func(GlobalAtoms) (GlobalAtoms, error)) error {
	_, gt, err := g.traderIndex(trader)
	if err != nil {
		return err
	}
	d, err := g.deposits.Get(gt.DepositIndex)
	if err != nil {
		return err
	}
	if d.BalanceAtoms, err = fn(d.BalanceAtoms); err != nil {
		return err
	}
	return g.setBalance(gt.DepositIndex, d)
}

// Deposit adds atoms to trader's balance.
func (g *GlobalPool) Deposit(trader solana.PublicKey, atoms GlobalAtoms) error {
	return g.atomic(func() error {
		if err := g.adjust(trader, func(b GlobalAtoms) (GlobalAtoms, error) { return b.Add(atoms) }); err != nil {
			return err
		}
		g.emit(NewGlobalDepositLog(g.address, trader, atoms))
		return nil
	})
}

// Withdraw removes atoms from trader's balance.
func (g *GlobalPool) Withdraw(trader solana.PublicKey, atoms GlobalAtoms) error {
	return g.atomic(func() error {
		if err := g.adjust(trader, func(b GlobalAtoms) (GlobalAtoms, error) { return b.Sub(atoms) }); err != nil {
			return err
		}
		g.emit(NewGlobalWithdrawLog(g.address, trader, atoms))
		return nil
	})
}

// LowestDepositor returns the seat with the smallest balance.
func (g *GlobalPool) LowestDepositor() (GlobalDeposit, bool) {
	idx := g.deposits.Max()
	if idx == NilIndex {
		return GlobalDeposit{}, false
	}
	d, err := g.deposits.Get(idx)
	return d, err == nil
}

// Evict hands evictee's seat to evictor, who deposits atoms. The evictee must
// be the lowest depositor and atoms must exceed its balance. It returns the
// balance withdrawn back to the evictee.
func (g *GlobalPool) Evict(evictor, evictee solana.PublicKey, atoms GlobalAtoms) (GlobalAtoms, error) {
	var returned GlobalAtoms
	err := g.atomic(func() error {
		if g.HasSeat(evictor) {
			return ErrAlreadyClaimed
		}
		traderIdx, gt, err := g.traderIndex(evictee)
		if err != nil {
			return err
		}
		if g.deposits.Max() != gt.DepositIndex {
			return fmt.Errorf("%w: evictee is not the lowest depositor", ErrGlobalEvict)
		}
		d, err := g.deposits.Get(gt.DepositIndex)
		if err != nil {
			return err
		}
		if atoms <= d.BalanceAtoms {
			return fmt.Errorf("%w: deposit %d does not exceed evictee balance %d", ErrGlobalEvict, atoms, d.BalanceAtoms)
		}
		returned = d.BalanceAtoms
		g.emit(NewGlobalWithdrawLog(g.address, evictee, returned))

		if err := g.traders.Remove(traderIdx); err != nil {
			return err
		}
		if err := g.traders.Insert(traderIdx, GlobalTrader{Trader: evictor, DepositIndex: gt.DepositIndex}); err != nil {
			return err
		}
		if err := g.setBalance(gt.DepositIndex, GlobalDeposit{Trader: evictor, BalanceAtoms: atoms}); err != nil {
			return err
		}
		g.emit(NewGlobalEvictLog(g.address, evictor, evictee, atoms, returned))
		g.emit(NewGlobalDepositLog(g.address, evictor, atoms))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return returned, nil
}

// HasSufficient reports whether trader could back atoms right now.
func (g *GlobalPool) HasSufficient(trader solana.PublicKey, atoms GlobalAtoms) bool {
	b, err := g.Balance(trader)
	return err == nil && b >= atoms
}

// tryDebit takes atoms from trader for a matched global order. It reports false,
// with the balance found, when the trader cannot back the fill.
func (g *GlobalPool) tryDebit(trader solana.PublicKey, atoms GlobalAtoms) (bool, GlobalAtoms, error) {
	_, gt, err := g.traderIndex(trader)
	if err != nil {
		return false, 0, nil
	}
	d, err := g.deposits.Get(gt.DepositIndex)
	if err != nil {
		return false, 0, err
	}
	if d.BalanceAtoms < atoms {
		return false, d.BalanceAtoms, nil
	}
	d.BalanceAtoms -= atoms
	return true, d.BalanceAtoms, g.setBalance(gt.DepositIndex, d)
}

// Deposits returns every seat, lowest balance first.
func (g *GlobalPool) Deposits() []GlobalDeposit {
	out := make([]GlobalDeposit, 0, g.fixed.NumSeatsClaimed)
	g.deposits.Descend(func(_ DataIndex, d GlobalDeposit) bool {
		out = append(out, d)
		return true
	})
	return out
}

// TotalDeposits sums every balance in the pool.
func (g *GlobalPool) TotalDeposits() GlobalAtoms {
	var total GlobalAtoms
	g.deposits.Ascend(func(_ DataIndex, d GlobalDeposit) bool {
		total += d.BalanceAtoms
		return true
	})
	return total
}

// Verify checks both trees and that every seat links to its own deposit.
func (g *GlobalPool) Verify() error {
	if err := g.traders.Verify(); err != nil {
		return fmt.Errorf("traders: %w", err)
	}
	if err := g.deposits.Verify(); err != nil {
		return fmt.Errorf("deposits: %w", err)
	}
	if n := g.traders.Len(); n != int(g.fixed.NumSeatsClaimed) || n != g.deposits.Len() {
		return fmt.Errorf("%w: %d traders, %d deposits, %d seats claimed", structure.ErrInvariant, n, g.deposits.Len(), g.fixed.NumSeatsClaimed)
	}
	var err error
	g.traders.Ascend(func(_ DataIndex, gt GlobalTrader) bool {
		d, e := g.deposits.Get(gt.DepositIndex)
		if e != nil || !d.Trader.Equals(gt.Trader) {
			err = fmt.Errorf("%w: trader %s links to a foreign deposit", structure.ErrInvariant, gt.Trader)
			return false
		}
		return true
	})
	return err
}
