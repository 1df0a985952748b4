package lending

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"epochvault/crypto"
	nativecommon "epochvault/native/common"
	"epochvault/native/token"
)

var (
	errNilState             = errors.New("lending engine: state not configured")
	errNilTokens            = errors.New("lending engine: token ledger not configured")
	errReserveNotConfigured = errors.New("lending engine: reserve not configured")

	ErrMarketExists          = errors.New("lending engine: market already exists")
	ErrMarketNotFound        = errors.New("lending engine: market not found")
	ErrReserveExists         = errors.New("lending engine: reserve already exists")
	ErrReserveNotFound       = errors.New("lending engine: reserve not found")
	ErrObligationExists      = errors.New("lending engine: obligation already exists")
	ErrObligationNotFound    = errors.New("lending engine: obligation not found")
	ErrPositionNotOpen       = errors.New("lending engine: position account not initialised")
	ErrPositionNotEmpty      = errors.New("lending engine: position still holds balances")
	ErrInvalidAmount         = errors.New("lending engine: amount must be positive")
	ErrUnauthorized          = errors.New("lending engine: signer does not own the position")
	ErrBadBump               = errors.New("lending engine: derivation bump does not match")
	ErrReserveStale          = errors.New("lending engine: reserve must be refreshed in the same instant")
	ErrInsufficientLiquidity = errors.New("lending engine: insufficient liquidity")
	ErrInsufficientNotes     = errors.New("lending engine: insufficient notes")
	ErrHealthCheckFailed     = errors.New("lending engine: obligation would exceed max loan-to-value")
	ErrReserveInsolvent      = errors.New("lending engine: reserve has notes outstanding but no value")
	ErrNoDebt                = errors.New("lending engine: no outstanding debt to repay")
)

const moduleName = "lending"

type engineState interface {
	GetMarket(addr crypto.Address) (*Market, bool, error)
	PutMarket(market *Market) error
	GetReserve(addr crypto.Address) (*Reserve, bool, error)
	PutReserve(reserve *Reserve) error
	GetObligation(addr crypto.Address) (*Obligation, bool, error)
	PutObligation(obligation *Obligation) error
	DeleteObligation(addr crypto.Address) error
}

type tokenLedger interface {
	CreateMint(addr, authority crypto.Address, symbol string, decimals uint8) (*token.Mint, error)
	Mint(addr crypto.Address) (*token.Mint, error)
	Account(addr crypto.Address) (*token.Account, error)
	Exists(addr crypto.Address) (bool, error)
	Balance(addr crypto.Address) (uint64, error)
	OpenAccount(payer crypto.Signer, addr, mint, owner crypto.Address) (*token.Account, error)
	CloseAccount(owner crypto.Signer, addr, destination crypto.Address) error
	Transfer(owner crypto.Signer, from, to crypto.Address, amount uint64) error
	MintTo(authority crypto.Signer, mint, to crypto.Address, amount uint64) error
	Burn(owner crypto.Signer, from crypto.Address, amount uint64) error
}

// Engine is the lending venue. It is bound to one reserve at a time and
// custodies reserve liquidity and posted collateral through the market's
// derived authority.
type Engine struct {
	state   engineState
	tokens  tokenLedger
	reserve crypto.Address
	now     uint64
	pauses  nativecommon.PauseView
}

// NewEngine constructs a venue moving balances through tokens.
func NewEngine(tokens tokenLedger) *Engine {
	return &Engine{tokens: tokens}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetReserve selects the reserve subsequent operations act on.
func (e *Engine) SetReserve(reserve crypto.Address) {
	if e == nil {
		return
	}
	e.reserve = reserve
}

// ReserveAddress returns the configured reserve.
func (e *Engine) ReserveAddress() crypto.Address {
	if e == nil {
		return crypto.Address{}
	}
	return e.reserve
}

// SetNow records the instant used for freshness checks.
func (e *Engine) SetNow(unix int64) {
	if e == nil || unix < 0 {
		return
	}
	e.now = uint64(unix)
}

// InitMarket registers a market administered by owner.
func (e *Engine) InitMarket(owner crypto.Signer, addr crypto.Address, risk RiskParameters) (*Market, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, exists, err := e.state.GetMarket(addr); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrMarketExists
	}
	authority, bump, err := MarketAuthority(addr)
	if err != nil {
		return nil, err
	}
	market := &Market{Address: addr, Owner: owner.SignerAddress(), Authority: authority, AuthorityBump: bump, Risk: risk}
	if err := e.state.PutMarket(market); err != nil {
		return nil, err
	}
	return market, nil
}

// InitReserve creates a reserve for liquidityMint inside market, together
// with its note mints and liquidity supply account.
func (e *Engine) InitReserve(owner crypto.Signer, marketAddr, addr, liquidityMint crypto.Address, params InterestParams, now int64) (*Reserve, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	market, err := e.loadMarket(marketAddr)
	if err != nil {
		return nil, err
	}
	if !market.Owner.Equal(owner.SignerAddress()) {
		return nil, ErrUnauthorized
	}
	if _, exists, err := e.state.GetReserve(addr); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrReserveExists
	}
	liquidity, err := e.tokens.Mint(liquidityMint)
	if err != nil {
		return nil, err
	}
	depositNoteMint, _, err := crypto.FindDerivedAddress(ProgramAddress, []byte("deposit-note"), addr.Bytes())
	if err != nil {
		return nil, err
	}
	loanNoteMint, _, err := crypto.FindDerivedAddress(ProgramAddress, []byte("loan-note"), addr.Bytes())
	if err != nil {
		return nil, err
	}
	supply, _, err := crypto.FindDerivedAddress(ProgramAddress, []byte("liquidity"), addr.Bytes())
	if err != nil {
		return nil, err
	}
	if _, err := e.tokens.CreateMint(depositNoteMint, market.Authority, liquidity.Symbol+"-DN", liquidity.Decimals); err != nil {
		return nil, err
	}
	if _, err := e.tokens.CreateMint(loanNoteMint, market.Authority, liquidity.Symbol+"-LN", liquidity.Decimals); err != nil {
		return nil, err
	}
	if _, err := e.tokens.OpenAccount(owner, supply, liquidityMint, market.Authority); err != nil {
		return nil, err
	}
	if now < 0 {
		now = 0
	}
	reserve := &Reserve{
		Address:         addr,
		Market:          marketAddr,
		LiquidityMint:   liquidityMint,
		LiquiditySupply: supply,
		DepositNoteMint: depositNoteMint,
		LoanNoteMint:    loanNoteMint,
		BorrowIndex:     new(big.Int).Set(ray),
		ProtocolFees:    big.NewInt(0),
		LastRefresh:     uint64(now),
		Interest:        params,
	}
	if err := e.state.PutReserve(reserve); err != nil {
		return nil, err
	}
	return reserve.Clone(), nil
}

// Market loads the market of the configured reserve.
func (e *Engine) Market() (*Market, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	market, _, err := e.context()
	return market, err
}

// Reserve loads the configured reserve.
func (e *Engine) Reserve() (*Reserve, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	_, reserve, err := e.context()
	return reserve, err
}

// InitObligation opens the obligation of owner. The bump must be canonical.
func (e *Engine) InitObligation(owner crypto.Signer, bump uint8) (crypto.Address, error) {
	market, _, ownerAddr, err := e.positionContext(owner)
	if err != nil {
		return crypto.Address{}, err
	}
	addr, err := crypto.VerifyBump(ProgramAddress, bump, obligationSeeds(market.Address, ownerAddr)...)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: obligation: %v", ErrBadBump, err)
	}
	if _, exists, err := e.state.GetObligation(addr); err != nil {
		return crypto.Address{}, err
	} else if exists {
		return crypto.Address{}, ErrObligationExists
	}
	obligation := &Obligation{Address: addr, Market: market.Address, Owner: ownerAddr}
	if err := e.state.PutObligation(obligation); err != nil {
		return crypto.Address{}, err
	}
	return addr, nil
}

// InitDepositAccount opens owner's deposit-note account, paid by owner.
func (e *Engine) InitDepositAccount(owner crypto.Signer, bump uint8) (crypto.Address, error) {
	_, reserve, ownerAddr, err := e.positionContext(owner)
	if err != nil {
		return crypto.Address{}, err
	}
	addr, err := crypto.VerifyBump(ProgramAddress, bump, depositSeeds(reserve.Address, ownerAddr)...)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: deposit account: %v", ErrBadBump, err)
	}
	if _, err := e.tokens.OpenAccount(owner, addr, reserve.DepositNoteMint, ownerAddr); err != nil {
		return crypto.Address{}, err
	}
	return addr, nil
}

// InitCollateralAccount opens the market-custodied account holding owner's
// posted deposit notes. The obligation must exist.
func (e *Engine) InitCollateralAccount(owner crypto.Signer, bump uint8) (crypto.Address, error) {
	market, reserve, ownerAddr, err := e.positionContext(owner)
	if err != nil {
		return crypto.Address{}, err
	}
	obligation, err := e.loadObligation(market, ownerAddr)
	if err != nil {
		return crypto.Address{}, err
	}
	addr, err := crypto.VerifyBump(ProgramAddress, bump, collateralSeeds(reserve.Address, obligation.Address, ownerAddr)...)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: collateral account: %v", ErrBadBump, err)
	}
	if _, err := e.tokens.OpenAccount(owner, addr, reserve.DepositNoteMint, market.Authority); err != nil {
		return crypto.Address{}, err
	}
	obligation.CollateralAccount = addr
	if err := e.state.PutObligation(obligation); err != nil {
		return crypto.Address{}, err
	}
	return addr, nil
}

// InitLoanAccount opens the market-custodied account holding owner's loan
// notes. The obligation must exist.
func (e *Engine) InitLoanAccount(owner crypto.Signer, bump uint8) (crypto.Address, error) {
	market, reserve, ownerAddr, err := e.positionContext(owner)
	if err != nil {
		return crypto.Address{}, err
	}
	obligation, err := e.loadObligation(market, ownerAddr)
	if err != nil {
		return crypto.Address{}, err
	}
	addr, err := crypto.VerifyBump(ProgramAddress, bump, loanSeeds(reserve.Address, obligation.Address, ownerAddr)...)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: loan account: %v", ErrBadBump, err)
	}
	if _, err := e.tokens.OpenAccount(owner, addr, reserve.LoanNoteMint, market.Authority); err != nil {
		return crypto.Address{}, err
	}
	obligation.LoanAccount = addr
	if err := e.state.PutObligation(obligation); err != nil {
		return crypto.Address{}, err
	}
	return addr, nil
}

// CloseObligation removes an obligation whose accounts are already closed.
func (e *Engine) CloseObligation(owner crypto.Signer) error {
	market, _, ownerAddr, err := e.positionContext(owner)
	if err != nil {
		return err
	}
	obligation, err := e.loadObligation(market, ownerAddr)
	if err != nil {
		return err
	}
	if !obligation.CollateralAccount.IsZero() || !obligation.LoanAccount.IsZero() {
		return ErrPositionNotEmpty
	}
	return e.state.DeleteObligation(obligation.Address)
}

// CloseDepositAccount closes owner's empty deposit-note account and returns
// its account deposit to destination.
func (e *Engine) CloseDepositAccount(owner crypto.Signer, destination crypto.Address) error {
	_, reserve, ownerAddr, err := e.positionContext(owner)
	if err != nil {
		return err
	}
	addr, _, err := FindDepositAccount(reserve.Address, ownerAddr)
	if err != nil {
		return err
	}
	return e.tokens.CloseAccount(owner, addr, destination)
}

// CloseCollateralAccount closes owner's empty collateral account.
func (e *Engine) CloseCollateralAccount(owner crypto.Signer, destination crypto.Address) error {
	market, _, ownerAddr, err := e.positionContext(owner)
	if err != nil {
		return err
	}
	obligation, err := e.loadObligation(market, ownerAddr)
	if err != nil {
		return err
	}
	if obligation.CollateralAccount.IsZero() {
		return ErrPositionNotOpen
	}
	if err := e.tokens.CloseAccount(marketAuthoritySigner(market), obligation.CollateralAccount, destination); err != nil {
		return err
	}
	obligation.CollateralAccount = crypto.Address{}
	return e.state.PutObligation(obligation)
}

// CloseLoanAccount closes owner's empty loan account.
func (e *Engine) CloseLoanAccount(owner crypto.Signer, destination crypto.Address) error {
	market, _, ownerAddr, err := e.positionContext(owner)
	if err != nil {
		return err
	}
	obligation, err := e.loadObligation(market, ownerAddr)
	if err != nil {
		return err
	}
	if obligation.LoanAccount.IsZero() {
		return ErrPositionNotOpen
	}
	if err := e.tokens.CloseAccount(marketAuthoritySigner(market), obligation.LoanAccount, destination); err != nil {
		return err
	}
	obligation.LoanAccount = crypto.Address{}
	return e.state.PutObligation(obligation)
}

// RefreshReserve accrues borrow interest up to now. Deposits, withdrawals,
// borrows and collateral releases require a refresh at the same instant.
func (e *Engine) RefreshReserve(now int64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	_, reserve, err := e.context()
	if err != nil {
		return err
	}
	e.SetNow(now)
	if e.now <= reserve.LastRefresh {
		// A lagging clock never rewinds accrual.
		e.now = reserve.LastRefresh
		return nil
	}
	if err := e.accrueInterest(reserve, e.now-reserve.LastRefresh); err != nil {
		return err
	}
	reserve.LastRefresh = e.now
	return e.state.PutReserve(reserve)
}

func (e *Engine) accrueInterest(reserve *Reserve, delta uint64) error {
	snap, err := e.snapshot(reserve)
	if err != nil {
		return err
	}
	if snap.Debt.Sign() == 0 {
		return nil
	}
	borrowAPR := reserve.Interest.Model().BorrowAPR(snap.Debt, snap.TotalValue)
	if borrowAPR.Sign() == 0 {
		return nil
	}
	reserve.BorrowIndex = rayMul(reserve.BorrowIndex, rateFactor(borrowAPR, delta))
	newDebt := debtFromNotes(snap.LoanNotes, reserve.BorrowIndex)
	interest := new(big.Int).Sub(newDebt, snap.Debt)
	if interest.Sign() <= 0 {
		return nil
	}
	fee := new(big.Int).Mul(interest, new(big.Int).SetUint64(reserve.Interest.ReserveFactorBps))
	fee.Quo(fee, basisPoints)
	reserve.ProtocolFees = new(big.Int).Add(reserve.ProtocolFees, fee)
	return nil
}

// Deposit moves amount of liquidity from source into the reserve and mints
// deposit notes to depositAccount at the current exchange rate.
func (e *Engine) Deposit(owner crypto.Signer, source, depositAccount crypto.Address, amount uint64) (uint64, error) {
	market, reserve, err := e.freshContext()
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	snap, err := e.snapshot(reserve)
	if err != nil {
		return 0, err
	}
	notes, err := notesForLiquidity(amount, snap, false)
	if err != nil {
		return 0, err
	}
	if notes == 0 {
		return 0, fmt.Errorf("%w: %d mints no deposit notes", ErrInvalidAmount, amount)
	}
	if err := e.tokens.Transfer(owner, source, reserve.LiquiditySupply, amount); err != nil {
		return 0, err
	}
	if err := e.tokens.MintTo(marketAuthoritySigner(market), reserve.DepositNoteMint, depositAccount, notes); err != nil {
		return 0, err
	}
	return notes, nil
}

// Withdraw burns deposit notes held by owner and pays the liquidity they are
// worth to destination.
func (e *Engine) Withdraw(owner crypto.Signer, depositAccount, destination crypto.Address, notes uint64) (uint64, error) {
	market, reserve, err := e.freshContext()
	if err != nil {
		return 0, err
	}
	if notes == 0 {
		return 0, ErrInvalidAmount
	}
	snap, err := e.snapshot(reserve)
	if err != nil {
		return 0, err
	}
	amount, err := liquidityForNotes(notes, snap)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	if amount > snap.Available {
		return 0, fmt.Errorf("%w: available %d, need %d", ErrInsufficientLiquidity, snap.Available, amount)
	}
	if err := e.tokens.Burn(owner, depositAccount, notes); err != nil {
		return 0, err
	}
	if err := e.tokens.Transfer(marketAuthoritySigner(market), reserve.LiquiditySupply, destination, amount); err != nil {
		return 0, err
	}
	return amount, nil
}

// DepositCollateral posts deposit notes from owner's deposit account to the
// obligation's collateral account.
func (e *Engine) DepositCollateral(owner crypto.Signer, depositAccount crypto.Address, notes uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if notes == 0 {
		return ErrInvalidAmount
	}
	market, _, err := e.context()
	if err != nil {
		return err
	}
	obligation, err := e.loadObligation(market, owner.SignerAddress())
	if err != nil {
		return err
	}
	if obligation.CollateralAccount.IsZero() {
		return ErrPositionNotOpen
	}
	return e.tokens.Transfer(owner, depositAccount, obligation.CollateralAccount, notes)
}

// WithdrawCollateral releases posted notes back to owner's deposit account as
// long as the obligation stays within its loan-to-value limit.
func (e *Engine) WithdrawCollateral(owner crypto.Signer, depositAccount crypto.Address, notes uint64) error {
	market, reserve, err := e.freshContext()
	if err != nil {
		return err
	}
	if notes == 0 {
		return ErrInvalidAmount
	}
	ownerAddr := owner.SignerAddress()
	obligation, err := e.loadObligation(market, ownerAddr)
	if err != nil {
		return err
	}
	if obligation.CollateralAccount.IsZero() {
		return ErrPositionNotOpen
	}
	dest, err := e.tokens.Account(depositAccount)
	if err != nil {
		return err
	}
	if !dest.Owner.Equal(ownerAddr) {
		return ErrUnauthorized
	}
	posted, err := e.tokens.Balance(obligation.CollateralAccount)
	if err != nil {
		return err
	}
	if posted < notes {
		return fmt.Errorf("%w: posted %d, need %d", ErrInsufficientNotes, posted, notes)
	}
	snap, err := e.snapshot(reserve)
	if err != nil {
		return err
	}
	loanNotes, err := e.loanNotes(obligation)
	if err != nil {
		return err
	}
	if !healthy(market, snap, posted-notes, debtFromNotes(loanNotes, reserve.BorrowIndex)) {
		return ErrHealthCheckFailed
	}
	return e.tokens.Transfer(marketAuthoritySigner(market), obligation.CollateralAccount, depositAccount, notes)
}

// Borrow lends amount against owner's posted collateral.
func (e *Engine) Borrow(owner crypto.Signer, destination crypto.Address, amount uint64) error {
	market, reserve, err := e.freshContext()
	if err != nil {
		return err
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	obligation, err := e.loadObligation(market, owner.SignerAddress())
	if err != nil {
		return err
	}
	if obligation.CollateralAccount.IsZero() || obligation.LoanAccount.IsZero() {
		return ErrPositionNotOpen
	}
	snap, err := e.snapshot(reserve)
	if err != nil {
		return err
	}
	if amount > snap.Available {
		return fmt.Errorf("%w: available %d, need %d", ErrInsufficientLiquidity, snap.Available, amount)
	}
	posted, err := e.tokens.Balance(obligation.CollateralAccount)
	if err != nil {
		return err
	}
	loanNotes, err := e.loanNotes(obligation)
	if err != nil {
		return err
	}
	newNotes := notesFromDebt(amount, reserve.BorrowIndex)
	if !newNotes.IsUint64() || loanNotes > math.MaxUint64-newNotes.Uint64() {
		return ErrInvalidAmount
	}
	debt := debtFromNotes(loanNotes+newNotes.Uint64(), reserve.BorrowIndex)
	if !healthy(market, snap, posted, debt) {
		return ErrHealthCheckFailed
	}
	authority := marketAuthoritySigner(market)
	if err := e.tokens.MintTo(authority, reserve.LoanNoteMint, obligation.LoanAccount, newNotes.Uint64()); err != nil {
		return err
	}
	return e.tokens.Transfer(authority, reserve.LiquiditySupply, destination, amount)
}

// Repay pays down the debt of borrower's obligation from source. The amount
// is capped at the outstanding debt; the repaid amount is returned.
func (e *Engine) Repay(payer crypto.Signer, source, borrower crypto.Address, amount uint64) (uint64, error) {
	market, reserve, err := e.freshContext()
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrInvalidAmount
	}
	obligation, err := e.loadObligation(market, borrower)
	if err != nil {
		return 0, err
	}
	if obligation.LoanAccount.IsZero() {
		return 0, ErrPositionNotOpen
	}
	loanNotes, err := e.loanNotes(obligation)
	if err != nil {
		return 0, err
	}
	debt := debtFromNotes(loanNotes, reserve.BorrowIndex)
	if debt.Sign() == 0 {
		return 0, ErrNoDebt
	}
	repay := amount
	burn := loanNotes
	if debt.IsUint64() && amount >= debt.Uint64() {
		repay = debt.Uint64()
	} else {
		partial := mulDivBig(amount, ray, reserve.BorrowIndex)
		if partial.Sign() == 0 {
			return 0, ErrInvalidAmount
		}
		burn = partial.Uint64()
	}
	if err := e.tokens.Transfer(payer, source, reserve.LiquiditySupply, repay); err != nil {
		return 0, err
	}
	if err := e.tokens.Burn(marketAuthoritySigner(market), obligation.LoanAccount, burn); err != nil {
		return 0, err
	}
	return repay, nil
}

// PositionValue values owner's deposit and collateral notes at the reserve's
// last refreshed exchange rate, rounded down.
func (e *Engine) PositionValue(owner crypto.Address) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	market, reserve, err := e.context()
	if err != nil {
		return 0, err
	}
	var notes uint64
	depositAddr, _, err := FindDepositAccount(reserve.Address, owner)
	if err != nil {
		return 0, err
	}
	held, err := e.optionalBalance(depositAddr)
	if err != nil {
		return 0, err
	}
	notes += held
	obligationAddr, _, err := FindObligation(market.Address, owner)
	if err != nil {
		return 0, err
	}
	if obligation, ok, err := e.state.GetObligation(obligationAddr); err != nil {
		return 0, err
	} else if ok && !obligation.CollateralAccount.IsZero() {
		posted, err := e.optionalBalance(obligation.CollateralAccount)
		if err != nil {
			return 0, err
		}
		if notes > math.MaxUint64-posted {
			return 0, ErrInvalidAmount
		}
		notes += posted
	}
	if notes == 0 {
		return 0, nil
	}
	snap, err := e.snapshot(reserve)
	if err != nil {
		return 0, err
	}
	return liquidityForNotes(notes, snap)
}

// NotesForAmount returns the deposit notes that must be redeemed to receive
// at least amount of liquidity.
func (e *Engine) NotesForAmount(amount uint64) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	_, reserve, err := e.context()
	if err != nil {
		return 0, err
	}
	snap, err := e.snapshot(reserve)
	if err != nil {
		return 0, err
	}
	return notesForLiquidity(amount, snap, true)
}

// PreviewDeposit returns the deposit notes amount of liquidity would mint at
// the last refreshed exchange rate. Zero means Deposit would reject it.
func (e *Engine) PreviewDeposit(amount uint64) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	_, reserve, err := e.context()
	if err != nil {
		return 0, err
	}
	snap, err := e.snapshot(reserve)
	if err != nil {
		return 0, err
	}
	return notesForLiquidity(amount, snap, false)
}

// Snapshot reports the reserve's current accounting.
func (e *Engine) Snapshot() (*ReserveSnapshot, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	_, reserve, err := e.context()
	if err != nil {
		return nil, err
	}
	return e.snapshot(reserve)
}

func (e *Engine) snapshot(reserve *Reserve) (*ReserveSnapshot, error) {
	available, err := e.tokens.Balance(reserve.LiquiditySupply)
	if err != nil {
		return nil, err
	}
	depositMint, err := e.tokens.Mint(reserve.DepositNoteMint)
	if err != nil {
		return nil, err
	}
	loanMint, err := e.tokens.Mint(reserve.LoanNoteMint)
	if err != nil {
		return nil, err
	}
	debt := debtFromNotes(loanMint.Supply, reserve.BorrowIndex)
	total := new(big.Int).SetUint64(available)
	total.Add(total, debt)
	if reserve.ProtocolFees != nil {
		total.Sub(total, reserve.ProtocolFees)
	}
	if total.Sign() < 0 {
		total.SetInt64(0)
	}
	return &ReserveSnapshot{
		Available:       available,
		Debt:            debt,
		TotalValue:      total,
		DepositNotes:    depositMint.Supply,
		LoanNotes:       loanMint.Supply,
		BorrowIndex:     new(big.Int).Set(reserve.BorrowIndex),
		BorrowAPR:       reserve.Interest.Model().BorrowAPR(debt, total),
		LastRefreshUnix: reserve.LastRefresh,
	}, nil
}

func notesForLiquidity(amount uint64, snap *ReserveSnapshot, roundUp bool) (uint64, error) {
	if snap.DepositNotes == 0 {
		return amount, nil
	}
	if snap.TotalValue.Sign() == 0 {
		return 0, ErrReserveInsolvent
	}
	product := new(big.Int).Mul(new(big.Int).SetUint64(amount), new(big.Int).SetUint64(snap.DepositNotes))
	var notes *big.Int
	if roundUp {
		notes = ceilDiv(product, snap.TotalValue)
	} else {
		notes = product.Quo(product, snap.TotalValue)
	}
	if !notes.IsUint64() {
		return 0, ErrInvalidAmount
	}
	return notes.Uint64(), nil
}

func liquidityForNotes(notes uint64, snap *ReserveSnapshot) (uint64, error) {
	if snap.DepositNotes == 0 {
		return 0, ErrInsufficientNotes
	}
	amount := mulDivBig(notes, snap.TotalValue, new(big.Int).SetUint64(snap.DepositNotes))
	if !amount.IsUint64() {
		return 0, ErrInvalidAmount
	}
	return amount.Uint64(), nil
}

func healthy(market *Market, snap *ReserveSnapshot, collateralNotes uint64, debt *big.Int) bool {
	if debt == nil || debt.Sign() == 0 {
		return true
	}
	if collateralNotes == 0 || snap.DepositNotes == 0 {
		return false
	}
	value := mulDivBig(collateralNotes, snap.TotalValue, new(big.Int).SetUint64(snap.DepositNotes))
	num := new(big.Int).Mul(value, new(big.Int).SetUint64(market.Risk.MaxLTVBps))
	den := new(big.Int).Mul(debt, basisPoints)
	return num.Cmp(den) >= 0
}

func (e *Engine) loanNotes(obligation *Obligation) (uint64, error) {
	if obligation.LoanAccount.IsZero() {
		return 0, nil
	}
	return e.optionalBalance(obligation.LoanAccount)
}

func (e *Engine) optionalBalance(addr crypto.Address) (uint64, error) {
	ok, err := e.tokens.Exists(addr)
	if err != nil || !ok {
		return 0, err
	}
	return e.tokens.Balance(addr)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.tokens == nil {
		return errNilTokens
	}
	return nil
}

func (e *Engine) context() (*Market, *Reserve, error) {
	if e.reserve.IsZero() {
		return nil, nil, errReserveNotConfigured
	}
	reserve, ok, err := e.state.GetReserve(e.reserve)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrReserveNotFound
	}
	market, err := e.loadMarket(reserve.Market)
	if err != nil {
		return nil, nil, err
	}
	return market, reserve, nil
}

func (e *Engine) freshContext() (*Market, *Reserve, error) {
	if err := e.ready(); err != nil {
		return nil, nil, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	market, reserve, err := e.context()
	if err != nil {
		return nil, nil, err
	}
	if reserve.LastRefresh != e.now {
		return nil, nil, ErrReserveStale
	}
	return market, reserve, nil
}

func (e *Engine) positionContext(owner crypto.Signer) (*Market, *Reserve, crypto.Address, error) {
	if err := e.ready(); err != nil {
		return nil, nil, crypto.Address{}, err
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, crypto.Address{}, err
	}
	ownerAddr := owner.SignerAddress()
	if ownerAddr.IsZero() {
		return nil, nil, crypto.Address{}, ErrUnauthorized
	}
	market, reserve, err := e.context()
	if err != nil {
		return nil, nil, crypto.Address{}, err
	}
	return market, reserve, ownerAddr, nil
}

func (e *Engine) loadMarket(addr crypto.Address) (*Market, error) {
	market, ok, err := e.state.GetMarket(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrMarketNotFound
	}
	return market, nil
}

func (e *Engine) loadObligation(market *Market, owner crypto.Address) (*Obligation, error) {
	addr, _, err := FindObligation(market.Address, owner)
	if err != nil {
		return nil, err
	}
	obligation, ok, err := e.state.GetObligation(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrObligationNotFound
	}
	if !obligation.Owner.Equal(owner) {
		return nil, ErrUnauthorized
	}
	return obligation, nil
}
