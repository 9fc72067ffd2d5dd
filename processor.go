package match

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/gagliardetto/solana-go"

	"github.com/0x5487/manifest-engine/protocol"
)

// Accounts is the registry of every market and global account the engine owns.
// It is only touched from the engine's consumer goroutine.
type Accounts struct {
	programID solana.PublicKey
	markets   map[solana.PublicKey]*Market
	globals   map[solana.PublicKey]*GlobalPool
	byMint    map[solana.PublicKey]*GlobalPool
}

func NewAccounts(programID solana.PublicKey) *Accounts {
	return &Accounts{
		programID: programID,
		markets:   make(map[solana.PublicKey]*Market),
		globals:   make(map[solana.PublicKey]*GlobalPool),
		byMint:    make(map[solana.PublicKey]*GlobalPool),
	}
}

// Market returns the market at addr.
func (a *Accounts) Market(addr solana.PublicKey) (*Market, bool) {
	m, ok := a.markets[addr]
	return m, ok
}

// Global returns the global pool at addr.
func (a *Accounts) Global(addr solana.PublicKey) (*GlobalPool, bool) {
	g, ok := a.globals[addr]
	return g, ok
}

// GlobalForMint returns the pool for mint, or nil.
func (a *Accounts) GlobalForMint(mint solana.PublicKey) *GlobalPool {
	return a.byMint[mint]
}

// GlobalsFor returns the pools that back global orders on m. Either may be nil.
func (a *Accounts) GlobalsFor(m *Market) Globals {
	return Globals{
		Base:  a.byMint[m.fixed.BaseMint],
		Quote: a.byMint[m.fixed.QuoteMint],
	}
}

func (a *Accounts) exists(addr solana.PublicKey) bool {
	_, isMarket := a.markets[addr]
	_, isGlobal := a.globals[addr]
	return isMarket || isGlobal
}

func (a *Accounts) addMarket(m *Market) {
	a.markets[m.address] = m
}

func (a *Accounts) addGlobal(g *GlobalPool) {
	a.globals[g.address] = g
	a.byMint[g.fixed.Mint] = g
}

// Addresses lists every account ordered by address.
func (a *Accounts) Addresses() []solana.PublicKey {
	out := make([]solana.PublicKey, 0, len(a.markets)+len(a.globals))
	for addr := range a.markets {
		out = append(out, addr)
	}
	for addr := range a.globals {
		out = append(out, addr)
	}
	slices.SortFunc(out, func(x, y solana.PublicKey) int {
		return bytes.Compare(x[:], y[:])
	})
	return out
}

// Len returns the number of accounts.
func (a *Accounts) Len() int {
	return len(a.markets) + len(a.globals)
}

// Bytes serializes the account at addr.
func (a *Accounts) Bytes(addr solana.PublicKey) ([]byte, error) {
	if m, ok := a.markets[addr]; ok {
		return m.Bytes()
	}
	if g, ok := a.globals[addr]; ok {
		return g.Bytes()
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidAccount, addr)
}

// Kind reports "market" or "global" for the account at addr.
func (a *Accounts) Kind(addr solana.PublicKey) string {
	if _, ok := a.markets[addr]; ok {
		return accountKindMarket
	}
	if _, ok := a.globals[addr]; ok {
		return accountKindGlobal
	}
	return ""
}

// Load registers an account from its serialized bytes, replacing any account
// already at addr.
func (a *Accounts) Load(addr solana.PublicKey, data []byte, cfg *Config) error {
	kind, err := AccountKind(data)
	if err != nil {
		return err
	}
	switch kind {
	case accountKindMarket:
		m, err := LoadMarket(addr, data, cfg.marketOptions()...)
		if err != nil {
			return fmt.Errorf("load market %s: %w", addr, err)
		}
		a.addMarket(m)
	case accountKindGlobal:
		g, err := LoadGlobalPool(addr, data, cfg.globalOptions()...)
		if err != nil {
			return fmt.Errorf("load global %s: %w", addr, err)
		}
		a.addGlobal(g)
	}
	return nil
}

// Verify checks the structure of every account.
func (a *Accounts) Verify() error {
	for addr, m := range a.markets {
		if err := m.Verify(); err != nil {
			return fmt.Errorf("market %s: %w", addr, err)
		}
	}
	for addr, g := range a.globals {
		if err := g.Verify(); err != nil {
			return fmt.Errorf("global %s: %w", addr, err)
		}
	}
	return nil
}

// ProcessResult is what a successful instruction produced.
type ProcessResult struct {
	Type    protocol.CommandType
	Touched []solana.PublicKey
	Logs    []*MarketLog
	// Return holds instruction return data: protocol.BatchUpdateReturn for
	// BatchUpdate, SwapResult for Swap, the seat index for ClaimSeat and the
	// evictee's withdrawn atoms for GlobalEvict.
	Return any
}

// Processor decodes instructions and applies them to the registry. Every
// instruction either applies to all the accounts it touches or to none.
type Processor struct {
	accounts   *Accounts
	cfg        *Config
	serializer protocol.Serializer
}

func NewProcessor(accounts *Accounts, cfg *Config) *Processor {
	return &Processor{
		accounts:   accounts,
		cfg:        cfg,
		serializer: protocol.BorshSerializer{},
	}
}

func (p *Processor) decode(cmd *protocol.Command, v any) error {
	if err := p.serializer.Unmarshal(cmd.Payload, v); err != nil {
		return fmt.Errorf("%w: decode %s params: %v", ErrInvalidParam, cmd.Type, err)
	}
	return nil
}

func parseKey(s, what string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return key, fmt.Errorf("%w: %s %q: %v", ErrInvalidParam, what, s, err)
	}
	return key, nil
}

func (p *Processor) market(addr solana.PublicKey) (*Market, error) {
	m, ok := p.accounts.Market(addr)
	if !ok {
		return nil, fmt.Errorf("%w: no market at %s", ErrInvalidAccount, addr)
	}
	return m, nil
}

func (p *Processor) global(addr solana.PublicKey) (*GlobalPool, error) {
	g, ok := p.accounts.Global(addr)
	if !ok {
		return nil, fmt.Errorf("%w: no global at %s", ErrInvalidAccount, addr)
	}
	return g, nil
}

// Process applies one instruction at slot now.
func (p *Processor) Process(cmd *protocol.Command, now uint32) (*ProcessResult, error) {
	signer, err := parseKey(cmd.Signer, "signer")
	if err != nil {
		return nil, err
	}
	var account solana.PublicKey
	if cmd.Type != protocol.CmdGlobalCreate || cmd.Account != "" {
		if account, err = parseKey(cmd.Account, "account"); err != nil {
			return nil, err
		}
	}

	res := &ProcessResult{Type: cmd.Type}
	switch cmd.Type {
	case protocol.CmdCreateMarket:
		err = p.createMarket(res, account, signer, cmd)
	case protocol.CmdClaimSeat, protocol.CmdDeposit, protocol.CmdWithdraw, protocol.CmdSwap,
		protocol.CmdExpand, protocol.CmdBatchUpdate, protocol.CmdGlobalClean:
		err = p.marketInstruction(res, account, signer, cmd, now)
	case protocol.CmdGlobalCreate:
		err = p.createGlobal(res, account, signer, cmd)
	case protocol.CmdGlobalAddTrader, protocol.CmdGlobalDeposit, protocol.CmdGlobalWithdraw, protocol.CmdGlobalEvict:
		err = p.globalInstruction(res, account, signer, cmd)
	default:
		err = fmt.Errorf("%w: tag %d", ErrUnknownInstruction, cmd.Type)
	}
	if err != nil {
		return nil, err
	}
	p.collect(res)
	return res, nil
}

// collect drains the logs of every touched account into res.
func (p *Processor) collect(res *ProcessResult) {
	for _, addr := range res.Touched {
		if m, ok := p.accounts.markets[addr]; ok {
			res.Logs = append(res.Logs, m.DrainLogs()...)
		} else if g, ok := p.accounts.globals[addr]; ok {
			res.Logs = append(res.Logs, g.DrainLogs()...)
		}
	}
}

func (p *Processor) createMarket(res *ProcessResult, addr, signer solana.PublicKey, cmd *protocol.Command) error {
	var params protocol.CreateMarketParams
	if err := p.decode(cmd, &params); err != nil {
		return err
	}
	if p.accounts.exists(addr) {
		return fmt.Errorf("%w: %s", ErrAccountAlreadyExists, addr)
	}
	m, err := NewMarket(addr, signer, params, p.cfg.marketOptions()...)
	if err != nil {
		return err
	}
	p.accounts.addMarket(m)
	res.Touched = append(res.Touched, addr)
	return nil
}

func (p *Processor) marketInstruction(res *ProcessResult, addr, signer solana.PublicKey, cmd *protocol.Command, now uint32) error {
	m, err := p.market(addr)
	if err != nil {
		return err
	}
	globals := p.accounts.GlobalsFor(m)
	res.Touched = append(res.Touched, addr)
	if globals.Base != nil {
		res.Touched = append(res.Touched, globals.Base.address)
	}
	if globals.Quote != nil {
		res.Touched = append(res.Touched, globals.Quote.address)
	}

	switch cmd.Type {
	case protocol.CmdClaimSeat:
		idx, err := m.ClaimSeat(signer)
		if err != nil {
			return err
		}
		res.Return = idx
	case protocol.CmdDeposit:
		var params protocol.DepositParams
		if err := p.decode(cmd, &params); err != nil {
			return err
		}
		return m.Deposit(signer, params.Mint, params.AmountAtoms, params.TraderIndexHint)
	case protocol.CmdWithdraw:
		var params protocol.WithdrawParams
		if err := p.decode(cmd, &params); err != nil {
			return err
		}
		return m.Withdraw(signer, params.Mint, params.AmountAtoms, params.TraderIndexHint)
	case protocol.CmdSwap:
		var params protocol.SwapParams
		if err := p.decode(cmd, &params); err != nil {
			return err
		}
		out, err := m.Swap(signer, params, now, globals)
		if err != nil {
			return err
		}
		res.Return = out
	case protocol.CmdExpand:
		var params protocol.ExpandParams
		if err := p.decode(cmd, &params); err != nil {
			return err
		}
		return m.Expand(params.NumBlocks)
	case protocol.CmdBatchUpdate:
		var params protocol.BatchUpdateParams
		if err := p.decode(cmd, &params); err != nil {
			return err
		}
		out, err := m.BatchUpdate(signer, params, now, globals)
		if err != nil {
			return err
		}
		res.Return = out
	case protocol.CmdGlobalClean:
		var params protocol.GlobalCleanParams
		if err := p.decode(cmd, &params); err != nil {
			return err
		}
		return m.CleanGlobalOrder(signer, params.OrderIndex, now, globals)
	}
	return nil
}

func (p *Processor) createGlobal(res *ProcessResult, addr, signer solana.PublicKey, cmd *protocol.Command) error {
	var params protocol.GlobalCreateParams
	if err := p.decode(cmd, &params); err != nil {
		return err
	}
	g, err := NewGlobalPool(signer, params.Mint, p.cfg.globalOptions()...)
	if err != nil {
		return err
	}
	if !addr.IsZero() && !addr.Equals(g.address) {
		return fmt.Errorf("%w: global for %s lives at %s", ErrInvalidAccount, params.Mint, g.address)
	}
	if p.accounts.exists(g.address) {
		return fmt.Errorf("%w: %s", ErrAccountAlreadyExists, g.address)
	}
	p.accounts.addGlobal(g)
	res.Touched = append(res.Touched, g.address)
	return nil
}

func (p *Processor) globalInstruction(res *ProcessResult, addr, signer solana.PublicKey, cmd *protocol.Command) error {
	g, err := p.global(addr)
	if err != nil {
		return err
	}
	res.Touched = append(res.Touched, addr)

	switch cmd.Type {
	case protocol.CmdGlobalAddTrader:
		return g.AddTrader(signer)
	case protocol.CmdGlobalDeposit:
		var params protocol.GlobalDepositParams
		if err := p.decode(cmd, &params); err != nil {
			return err
		}
		return g.Deposit(signer, GlobalAtoms(params.AmountAtoms))
	case protocol.CmdGlobalWithdraw:
		var params protocol.GlobalWithdrawParams
		if err := p.decode(cmd, &params); err != nil {
			return err
		}
		return g.Withdraw(signer, GlobalAtoms(params.AmountAtoms))
	case protocol.CmdGlobalEvict:
		var params protocol.GlobalEvictParams
		if err := p.decode(cmd, &params); err != nil {
			return err
		}
		withdrawn, err := g.Evict(signer, params.Evictee, GlobalAtoms(params.AmountAtoms))
		if err != nil {
			return err
		}
		res.Return = withdrawn
	}
	return nil
}
