package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"epochvault/crypto"
	"epochvault/native/lending"
	"epochvault/native/token"
)

// Genesis describes the ledger a fresh database starts from: the native and
// underlying mints and the lending market the vaults deploy into.
type Genesis struct {
	// Faucet is the mint authority of the native and underlying mints.
	Faucet crypto.Address
	// Operator owns the lending market and pays for the reserve accounts.
	Operator           crypto.Address
	OperatorFunding    uint64
	UnderlyingSymbol   string
	UnderlyingDecimals uint8
	Risk               lending.RiskParameters
	Interest           lending.InterestParams
}

// GenesisAddresses are the well-known addresses created at genesis.
type GenesisAddresses struct {
	UnderlyingMint crypto.Address `json:"underlyingMint"`
	Market         crypto.Address `json:"market"`
	Reserve        crypto.Address `json:"reserve"`
}

// AddressesFor derives the genesis addresses of an underlying symbol.
func AddressesFor(symbol string) GenesisAddresses {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	return GenesisAddresses{
		UnderlyingMint: crypto.ProgramID("epochvault/mint/" + symbol),
		Market:         crypto.ProgramID("epochvault/market"),
		Reserve:        crypto.ProgramID("epochvault/reserve/" + symbol),
	}
}

// InitGenesis creates the genesis ledger unless the market already exists.
// The executor is bound to the resulting reserve either way.
func (x *Executor) InitGenesis(ctx context.Context, g Genesis) (GenesisAddresses, error) {
	if g.Faucet.IsZero() || g.Operator.IsZero() {
		return GenesisAddresses{}, errors.New("genesis: faucet and operator are required")
	}
	if strings.TrimSpace(g.UnderlyingSymbol) == "" {
		return GenesisAddresses{}, errors.New("genesis: underlying symbol required")
	}
	addrs := AddressesFor(g.UnderlyingSymbol)
	now := x.cfg.Clock.Now().Unix()
	err := x.Update(ctx, "genesis", func(tx *Tx) error {
		if _, exists, err := tx.State.GetMarket(addrs.Market); err != nil {
			return err
		} else if exists {
			return nil
		}
		if _, err := tx.Tokens.CreateMint(token.NativeMintAddress, g.Faucet, "NAT", 9); err != nil {
			return fmt.Errorf("native mint: %w", err)
		}
		if _, err := tx.Tokens.CreateMint(addrs.UnderlyingMint, g.Faucet, strings.ToUpper(g.UnderlyingSymbol), g.UnderlyingDecimals); err != nil {
			return fmt.Errorf("underlying mint: %w", err)
		}
		if err := airdropNative(tx, g.Faucet, g.Operator, g.OperatorFunding); err != nil {
			return err
		}
		if _, err := tx.Venue.InitMarket(g.Operator, addrs.Market, g.Risk); err != nil {
			return fmt.Errorf("market: %w", err)
		}
		if _, err := tx.Venue.InitReserve(g.Operator, addrs.Market, addrs.Reserve, addrs.UnderlyingMint, g.Interest, now); err != nil {
			return fmt.Errorf("reserve: %w", err)
		}
		return nil
	})
	if err != nil {
		return GenesisAddresses{}, err
	}
	x.SetReserve(addrs.Reserve)
	return addrs, nil
}

// Airdrop credits owner with native and underlying units signed by the
// faucet. It backs the development faucet endpoint.
func (x *Executor) Airdrop(ctx context.Context, faucet, owner, underlying crypto.Address, native, amount uint64) (crypto.Address, error) {
	var account crypto.Address
	err := x.Update(ctx, "airdrop", func(tx *Tx) error {
		if err := airdropNative(tx, faucet, owner, native); err != nil {
			return err
		}
		addr, err := token.AssociatedAddress(owner, underlying)
		if err != nil {
			return err
		}
		account = addr
		exists, err := tx.Tokens.Exists(addr)
		if err != nil {
			return err
		}
		if !exists {
			if _, err := tx.Tokens.OpenAccount(owner, addr, underlying, owner); err != nil {
				return fmt.Errorf("open underlying account: %w", err)
			}
		}
		if amount == 0 {
			return nil
		}
		return tx.Tokens.MintTo(faucet, underlying, addr, amount)
	})
	return account, err
}

func airdropNative(tx *Tx, faucet, owner crypto.Address, amount uint64) error {
	acct, err := tx.Tokens.OpenNative(owner)
	if err != nil {
		return fmt.Errorf("native account: %w", err)
	}
	if amount == 0 {
		return nil
	}
	return tx.Tokens.MintTo(faucet, token.NativeMintAddress, acct.Address, amount)
}
