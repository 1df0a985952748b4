package token

import (
	"errors"
	"fmt"
	"math"

	"epochvault/crypto"
)

var (
	errNilState = errors.New("token ledger: state not configured")

	ErrMintExists          = errors.New("token ledger: mint already exists")
	ErrMintNotFound        = errors.New("token ledger: mint not found")
	ErrAccountExists       = errors.New("token ledger: account already exists")
	ErrAccountNotFound     = errors.New("token ledger: account not found")
	ErrMintMismatch        = errors.New("token ledger: account mint mismatch")
	ErrUnauthorized        = errors.New("token ledger: signer does not own account")
	ErrMintAuthority       = errors.New("token ledger: signer is not the mint authority")
	ErrInsufficientFunds   = errors.New("token ledger: insufficient funds")
	ErrSupplyOverflow      = errors.New("token ledger: supply overflow")
	ErrAccountNotEmpty     = errors.New("token ledger: account balance not zero")
	ErrInvalidAmount       = errors.New("token ledger: amount must be positive")
	ErrInvalidAddress      = errors.New("token ledger: address required")
	ErrSelfTransfer        = errors.New("token ledger: source and destination are the same account")
	ErrNativeMintImmutable = errors.New("token ledger: native mint cannot be recreated")
)

type ledgerState interface {
	GetMint(addr crypto.Address) (*Mint, bool, error)
	PutMint(mint *Mint) error
	GetTokenAccount(addr crypto.Address) (*Account, bool, error)
	PutTokenAccount(account *Account) error
	DeleteTokenAccount(addr crypto.Address) error
}

// Ledger moves balances between token accounts. Every mutation is authorised
// by an explicit signer.
type Ledger struct {
	state          ledgerState
	accountDeposit uint64
}

// NewLedger constructs a ledger that charges accountDeposit native units for
// every account it opens on behalf of a payer.
func NewLedger(accountDeposit uint64) *Ledger {
	return &Ledger{accountDeposit: accountDeposit}
}

// SetState binds the ledger to a state backend.
func (l *Ledger) SetState(state ledgerState) { l.state = state }

// AccountDeposit reports the native amount locked per opened account.
func (l *Ledger) AccountDeposit() uint64 { return l.accountDeposit }

// AssociatedAddress is the canonical token account of owner for mint.
func AssociatedAddress(owner, mint crypto.Address) (crypto.Address, error) {
	addr, _, err := crypto.FindDerivedAddress(ProgramAddress, owner.Bytes(), mint.Bytes())
	return addr, err
}

// NativeAccountAddress is the associated account holding owner's native balance.
func NativeAccountAddress(owner crypto.Address) (crypto.Address, error) {
	return AssociatedAddress(owner, NativeMintAddress)
}

// CreateMint registers a new mint at addr.
func (l *Ledger) CreateMint(addr, authority crypto.Address, symbol string, decimals uint8) (*Mint, error) {
	if l.state == nil {
		return nil, errNilState
	}
	if addr.IsZero() || authority.IsZero() {
		return nil, ErrInvalidAddress
	}
	_, exists, err := l.state.GetMint(addr)
	if err != nil {
		return nil, err
	}
	if exists {
		if addr.Equal(NativeMintAddress) {
			return nil, ErrNativeMintImmutable
		}
		return nil, ErrMintExists
	}
	mint := &Mint{Address: addr, Authority: authority, Symbol: symbol, Decimals: decimals}
	if err := l.state.PutMint(mint); err != nil {
		return nil, err
	}
	return mint.Clone(), nil
}

// Mint loads a mint.
func (l *Ledger) Mint(addr crypto.Address) (*Mint, error) {
	if l.state == nil {
		return nil, errNilState
	}
	mint, ok, err := l.state.GetMint(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMintNotFound, addr)
	}
	return mint, nil
}

// Account loads a token account.
func (l *Ledger) Account(addr crypto.Address) (*Account, error) {
	if l.state == nil {
		return nil, errNilState
	}
	account, ok, err := l.state.GetTokenAccount(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return account, nil
}

// Exists reports whether a token account is open at addr.
func (l *Ledger) Exists(addr crypto.Address) (bool, error) {
	if l.state == nil {
		return false, errNilState
	}
	_, ok, err := l.state.GetTokenAccount(addr)
	return ok, err
}

// Balance returns the balance of a token account.
func (l *Ledger) Balance(addr crypto.Address) (uint64, error) {
	account, err := l.Account(addr)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// Supply returns the outstanding supply of a mint.
func (l *Ledger) Supply(mint crypto.Address) (uint64, error) {
	m, err := l.Mint(mint)
	if err != nil {
		return 0, err
	}
	return m.Supply, nil
}

// OpenAccount opens a token account at addr for owner. The payer's native
// account funds the account deposit.
func (l *Ledger) OpenAccount(payer crypto.Signer, addr, mint, owner crypto.Address) (*Account, error) {
	if l.state == nil {
		return nil, errNilState
	}
	if addr.IsZero() || owner.IsZero() {
		return nil, ErrInvalidAddress
	}
	if _, err := l.Mint(mint); err != nil {
		return nil, err
	}
	_, exists, err := l.state.GetTokenAccount(addr)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, addr)
	}
	if l.accountDeposit > 0 {
		if err := l.debitNative(payer, l.accountDeposit); err != nil {
			return nil, fmt.Errorf("fund account deposit: %w", err)
		}
	}
	account := &Account{Address: addr, Mint: mint, Owner: owner, Deposit: l.accountDeposit}
	if err := l.state.PutTokenAccount(account); err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

// OpenAssociated opens owner's associated account for mint.
func (l *Ledger) OpenAssociated(payer crypto.Signer, owner, mint crypto.Address) (*Account, error) {
	addr, err := AssociatedAddress(owner, mint)
	if err != nil {
		return nil, err
	}
	return l.OpenAccount(payer, addr, mint, owner)
}

// OpenNative opens owner's native account. Native accounts carry no deposit.
func (l *Ledger) OpenNative(owner crypto.Address) (*Account, error) {
	if l.state == nil {
		return nil, errNilState
	}
	addr, err := NativeAccountAddress(owner)
	if err != nil {
		return nil, err
	}
	if existing, ok, err := l.state.GetTokenAccount(addr); err != nil {
		return nil, err
	} else if ok {
		return existing, nil
	}
	if _, err := l.Mint(NativeMintAddress); err != nil {
		return nil, err
	}
	account := &Account{Address: addr, Mint: NativeMintAddress, Owner: owner}
	if err := l.state.PutTokenAccount(account); err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

func (l *Ledger) debitNative(payer crypto.Signer, amount uint64) error {
	addr, err := NativeAccountAddress(payer.SignerAddress())
	if err != nil {
		return err
	}
	account, err := l.Account(addr)
	if err != nil {
		return err
	}
	if account.Balance < amount {
		return fmt.Errorf("%w: native balance %d, need %d", ErrInsufficientFunds, account.Balance, amount)
	}
	account.Balance -= amount
	return l.state.PutTokenAccount(account)
}

// CloseAccount deletes an empty account owned by the signer and releases its
// deposit to the destination account, which must hold the native mint.
func (l *Ledger) CloseAccount(owner crypto.Signer, addr, destination crypto.Address) error {
	account, err := l.Account(addr)
	if err != nil {
		return err
	}
	if !account.Owner.Equal(owner.SignerAddress()) {
		return ErrUnauthorized
	}
	if account.Balance != 0 {
		return fmt.Errorf("%w: %d remaining", ErrAccountNotEmpty, account.Balance)
	}
	if account.Deposit > 0 {
		dest, err := l.Account(destination)
		if err != nil {
			return err
		}
		if !dest.Mint.Equal(NativeMintAddress) {
			return fmt.Errorf("%w: deposit destination must hold the native mint", ErrMintMismatch)
		}
		if dest.Balance > math.MaxUint64-account.Deposit {
			return ErrSupplyOverflow
		}
		dest.Balance += account.Deposit
		if err := l.state.PutTokenAccount(dest); err != nil {
			return err
		}
	}
	return l.state.DeleteTokenAccount(addr)
}

// Transfer moves amount from one account to another of the same mint.
func (l *Ledger) Transfer(owner crypto.Signer, from, to crypto.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if from.Equal(to) {
		return ErrSelfTransfer
	}
	src, err := l.Account(from)
	if err != nil {
		return err
	}
	dst, err := l.Account(to)
	if err != nil {
		return err
	}
	if !src.Owner.Equal(owner.SignerAddress()) {
		return ErrUnauthorized
	}
	if !src.Mint.Equal(dst.Mint) {
		return ErrMintMismatch
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFunds, src.Balance, amount)
	}
	if dst.Balance > math.MaxUint64-amount {
		return ErrSupplyOverflow
	}
	src.Balance -= amount
	dst.Balance += amount
	if err := l.state.PutTokenAccount(src); err != nil {
		return err
	}
	return l.state.PutTokenAccount(dst)
}

// MintTo issues new units to an account. Only the mint authority may sign.
func (l *Ledger) MintTo(authority crypto.Signer, mintAddr, to crypto.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	mint, err := l.Mint(mintAddr)
	if err != nil {
		return err
	}
	if !mint.Authority.Equal(authority.SignerAddress()) {
		return ErrMintAuthority
	}
	dst, err := l.Account(to)
	if err != nil {
		return err
	}
	if !dst.Mint.Equal(mintAddr) {
		return ErrMintMismatch
	}
	if mint.Supply > math.MaxUint64-amount || dst.Balance > math.MaxUint64-amount {
		return ErrSupplyOverflow
	}
	mint.Supply += amount
	dst.Balance += amount
	if err := l.state.PutMint(mint); err != nil {
		return err
	}
	return l.state.PutTokenAccount(dst)
}

// Burn destroys units held by the signer's account.
func (l *Ledger) Burn(owner crypto.Signer, from crypto.Address, amount uint64) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	src, err := l.Account(from)
	if err != nil {
		return err
	}
	if !src.Owner.Equal(owner.SignerAddress()) {
		return ErrUnauthorized
	}
	if src.Balance < amount {
		return fmt.Errorf("%w: balance %d, need %d", ErrInsufficientFunds, src.Balance, amount)
	}
	mint, err := l.Mint(src.Mint)
	if err != nil {
		return err
	}
	if mint.Supply < amount {
		return fmt.Errorf("%w: supply below burn amount", ErrInsufficientFunds)
	}
	src.Balance -= amount
	mint.Supply -= amount
	if err := l.state.PutTokenAccount(src); err != nil {
		return err
	}
	return l.state.PutMint(mint)
}
