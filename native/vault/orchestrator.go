package vault

import (
	"epochvault/core/epoch"
	vaulterrors "epochvault/core/errors"
	"epochvault/core/events"
	"epochvault/crypto"
	"epochvault/native/token"
)

// DepositResult describes a completed deposit.
type DepositResult struct {
	ClaimAccount crypto.Address `json:"claimAccount"`
	Claims       uint64         `json:"claims"`
	Notes        uint64         `json:"notes"`
	PoolBefore   uint64         `json:"poolBefore"`
	SupplyBefore uint64         `json:"supplyBefore"`
}

// WithdrawResult describes a completed withdrawal.
type WithdrawResult struct {
	Amount uint64 `json:"amount"`
	// Redeemed is the liquidity pulled back from the venue to cover a
	// shortfall in the pool account.
	Redeemed      uint64 `json:"redeemed"`
	NotesRedeemed uint64 `json:"notesRedeemed"`
	AccountClosed bool   `json:"accountClosed"`
}

// bootstrap persists the staged record and opens the custody and venue
// accounts of a new vault.
func (e *Engine) bootstrap(admin crypto.Signer, adminNative crypto.Address, v *Vault, underlying *token.Mint, operating uint64) error {
	authority := v.AuthoritySigner()
	authorityNative, err := token.NativeAccountAddress(v.Authority)
	if err != nil {
		return err
	}
	s := newSaga("bootstrap", e.logger)
	s.onCompensate = e.compensationHook(v, "bootstrap")
	s.add("stage-record", func() error {
		return e.state.PutVault(v)
	}, nil)
	s.add("create-claim-mint", func() error {
		_, err := e.custody.CreateMint(v.ClaimMint, v.Authority, "v"+underlying.Symbol, underlying.Decimals)
		return external("create_claim_mint", err)
	}, nil)
	s.add("open-pool-account", func() error {
		_, err := e.custody.OpenAccount(admin, v.PoolAccount, v.UnderlyingMint, v.Authority)
		return external("open_pool_account", err)
	}, func() error {
		return e.custody.CloseAccount(authority, v.PoolAccount, adminNative)
	})
	s.add("fund-authority", func() error {
		if _, err := e.custody.OpenNative(v.Authority); err != nil {
			return external("open_authority_account", err)
		}
		if operating == 0 {
			return nil
		}
		return external("fund_authority", e.custody.Transfer(admin, adminNative, authorityNative, operating))
	}, func() error {
		if operating == 0 {
			return nil
		}
		return e.custody.Transfer(authority, authorityNative, adminNative, operating)
	})
	s.add("init-obligation", func() error {
		addr, err := e.venue.InitObligation(authority, v.Bumps.Obligation)
		v.Handles.Obligation = addr
		return external("init_obligation", err)
	}, func() error {
		return e.venue.CloseObligation(authority)
	})
	s.add("init-deposit-account", func() error {
		addr, err := e.venue.InitDepositAccount(authority, v.Bumps.DepositAccount)
		v.Handles.DepositAccount = addr
		return external("init_deposit_account", err)
	}, func() error {
		return e.venue.CloseDepositAccount(authority, authorityNative)
	})
	s.add("init-collateral-account", func() error {
		addr, err := e.venue.InitCollateralAccount(authority, v.Bumps.CollateralAccount)
		v.Handles.CollateralAccount = addr
		return external("init_collateral_account", err)
	}, func() error {
		return e.venue.CloseCollateralAccount(authority, authorityNative)
	})
	s.add("init-loan-account", func() error {
		addr, err := e.venue.InitLoanAccount(authority, v.Bumps.LoanAccount)
		v.Handles.LoanAccount = addr
		return external("init_loan_account", err)
	}, func() error {
		return e.venue.CloseLoanAccount(authority, authorityNative)
	})
	s.add("persist-handles", func() error {
		return e.state.PutVault(v)
	}, nil)
	return s.run()
}

// Deposit moves amount of the underlying from source into the pool, mints
// the depositor's pro-rata claims and deploys the deposit into the venue.
func (e *Engine) Deposit(depositor crypto.Signer, vaultName string, source crypto.Address, amount uint64) (*DepositResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, vaulterrors.New(vaulterrors.KindInvalidArgument, vaulterrors.ReasonZeroAmount, "deposit amount must be positive")
	}
	owner := depositor.SignerAddress()
	v, err := e.loadVault(vaultName)
	if err != nil {
		return nil, err
	}
	now := epoch.Unix(e.clock)
	if err := v.Schedule.CheckDepositWindow(now); err != nil {
		return nil, err
	}
	if err := e.checkUserAccount(v, source, owner); err != nil {
		return nil, err
	}
	held, err := e.custody.Balance(source)
	if err != nil {
		return nil, external("source_balance", err)
	}
	if held < amount {
		return nil, vaulterrors.Newf(vaulterrors.KindInsufficientBalance, vaulterrors.ReasonAsset,
			"source holds %d, deposit needs %d", held, amount)
	}
	if err := e.venue.RefreshReserve(now); err != nil {
		return nil, external("refresh_reserve", err)
	}
	supply, pool, err := e.poolState(v)
	if err != nil {
		return nil, err
	}
	claims, err := ClaimsForDeposit(amount, supply, pool)
	if err != nil {
		return nil, err
	}
	if claims == 0 {
		return nil, vaulterrors.New(vaulterrors.KindInvalidArgument, vaulterrors.ReasonZeroResult, "deposit too small to mint a claim")
	}
	notes, err := e.venue.PreviewDeposit(amount)
	if err != nil {
		return nil, external("preview_deposit", err)
	}
	if notes == 0 {
		return nil, vaulterrors.New(vaulterrors.KindInvalidArgument, vaulterrors.ReasonZeroResult, "deposit too small to mint venue notes")
	}
	claimAcct, err := token.AssociatedAddress(owner, v.ClaimMint)
	if err != nil {
		return nil, err
	}
	openClaim, err := e.custody.Exists(claimAcct)
	if err != nil {
		return nil, external("claim_account", err)
	}
	openClaim = !openClaim
	ownerNative, err := token.NativeAccountAddress(owner)
	if err != nil {
		return nil, err
	}

	authority := v.AuthoritySigner()
	result := &DepositResult{ClaimAccount: claimAcct, Claims: claims, PoolBefore: pool, SupplyBefore: supply}
	s := newSaga("deposit", e.logger)
	s.onCompensate = e.compensationHook(v, "deposit")
	if openClaim {
		s.add("open-claim-account", func() error {
			_, err := e.custody.OpenAccount(depositor, claimAcct, v.ClaimMint, owner)
			return external("open_claim_account", err)
		}, func() error {
			return e.custody.CloseAccount(depositor, claimAcct, ownerNative)
		})
	}
	s.add("transfer-in", func() error {
		return external("transfer_in", e.custody.Transfer(depositor, source, v.PoolAccount, amount))
	}, func() error {
		return e.refund(v, authority, source, amount)
	})
	s.add("mint-claims", func() error {
		return external("mint_claims", e.custody.MintTo(authority, v.ClaimMint, claimAcct, claims))
	}, func() error {
		return e.custody.Burn(depositor, claimAcct, claims)
	})
	s.add("refresh-reserve", func() error {
		return external("refresh_reserve", e.venue.RefreshReserve(now))
	}, nil)
	s.add("venue-deposit", func() error {
		notes, err := e.venue.Deposit(authority, v.PoolAccount, v.Handles.DepositAccount, amount)
		result.Notes = notes
		return external("venue_deposit", err)
	}, func() error {
		if result.Notes == 0 {
			return nil
		}
		_, err := e.venue.Withdraw(authority, v.Handles.DepositAccount, v.PoolAccount, result.Notes)
		return err
	})
	s.add("post-collateral", func() error {
		if result.Notes == 0 {
			return nil
		}
		return external("post_collateral", e.venue.DepositCollateral(authority, v.Handles.DepositAccount, result.Notes))
	}, nil)
	if err := s.run(); err != nil {
		return nil, err
	}

	e.logger.Info("vault deposit", "vault", v.Name.String(), "depositor", owner.String(), "amount", amount, "claims", claims)
	e.emitter.Emit(events.VaultDeposited{
		Vault:       v.Name.String(),
		Depositor:   owner.String(),
		Amount:      amount,
		Claims:      claims,
		PoolBefore:  pool,
		SupplyAfter: supply + claims,
	})
	return result, nil
}

// Withdraw burns claims and pays their share of the pool to destination.
// When the pool account cannot cover the payout the shortfall is redeemed
// from the venue position, collateral first released when the deposit
// account alone is not enough.
func (e *Engine) Withdraw(depositor crypto.Signer, vaultName string, destination crypto.Address, claims uint64) (*WithdrawResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if claims == 0 {
		return nil, vaulterrors.New(vaulterrors.KindInvalidArgument, vaulterrors.ReasonZeroAmount, "claim amount must be positive")
	}
	owner := depositor.SignerAddress()
	v, err := e.loadVault(vaultName)
	if err != nil {
		return nil, err
	}
	now := epoch.Unix(e.clock)
	if err := v.Schedule.CheckDepositWindow(now); err != nil {
		return nil, err
	}
	if err := e.checkUserAccount(v, destination, owner); err != nil {
		return nil, err
	}
	claimAcct, err := token.AssociatedAddress(owner, v.ClaimMint)
	if err != nil {
		return nil, err
	}
	held, err := e.optionalBalance(claimAcct)
	if err != nil {
		return nil, external("claim_balance", err)
	}
	if held < claims {
		return nil, vaulterrors.Newf(vaulterrors.KindInsufficientBalance, vaulterrors.ReasonClaim,
			"claim account holds %d, withdrawal needs %d", held, claims)
	}
	if err := e.venue.RefreshReserve(now); err != nil {
		return nil, external("refresh_reserve", err)
	}
	supply, pool, err := e.poolState(v)
	if err != nil {
		return nil, err
	}
	owed, err := UnderlyingForClaims(claims, supply, pool)
	if err != nil {
		return nil, err
	}
	if owed == 0 {
		return nil, vaulterrors.New(vaulterrors.KindInvalidArgument, vaulterrors.ReasonZeroResult, "claims redeem for nothing")
	}
	idle, err := e.custody.Balance(v.PoolAccount)
	if err != nil {
		return nil, external("pool_balance", err)
	}
	var plan redemption
	if owed > idle {
		if plan, err = e.planRedemption(v, owed-idle); err != nil {
			return nil, err
		}
	}
	ownerNative, err := token.NativeAccountAddress(owner)
	if err != nil {
		return nil, err
	}

	authority := v.AuthoritySigner()
	result := &WithdrawResult{Amount: owed, NotesRedeemed: plan.notes, AccountClosed: held == claims}
	s := newSaga("withdraw", e.logger)
	s.onCompensate = e.compensationHook(v, "withdraw")
	s.add("burn-claims", func() error {
		return external("burn_claims", e.custody.Burn(depositor, claimAcct, claims))
	}, func() error {
		return e.custody.MintTo(authority, v.ClaimMint, claimAcct, claims)
	})
	// Re-depositing redeemed liquidity can mint fewer notes than were
	// burned once the venue has accrued interest, so the collateral put back
	// is capped by what the re-deposit returned.
	repost := plan.fromCollateral
	if plan.fromCollateral > 0 {
		s.add("withdraw-collateral", func() error {
			return external("withdraw_collateral", e.venue.WithdrawCollateral(authority, v.Handles.DepositAccount, plan.fromCollateral))
		}, func() error {
			if repost == 0 {
				return nil
			}
			return e.venue.DepositCollateral(authority, v.Handles.DepositAccount, repost)
		})
	}
	if plan.notes > 0 {
		s.add("redeem-notes", func() error {
			redeemed, err := e.venue.Withdraw(authority, v.Handles.DepositAccount, v.PoolAccount, plan.notes)
			result.Redeemed = redeemed
			return external("redeem_notes", err)
		}, func() error {
			reminted, err := e.venue.Deposit(authority, v.PoolAccount, v.Handles.DepositAccount, result.Redeemed)
			if err != nil {
				return err
			}
			repost = min(repost, reminted)
			return nil
		})
	}
	s.add("transfer-out", func() error {
		available, err := e.custody.Balance(v.PoolAccount)
		if err != nil {
			return external("pool_balance", err)
		}
		if available < owed {
			return vaulterrors.Newf(vaulterrors.KindInsufficientBalance, vaulterrors.ReasonPoolLiquidity,
				"pool holds %d, payout needs %d", available, owed)
		}
		return external("transfer_out", e.custody.Transfer(authority, v.PoolAccount, destination, owed))
	}, func() error {
		return e.custody.Transfer(depositor, destination, v.PoolAccount, owed)
	})
	if result.AccountClosed {
		s.add("close-claim-account", func() error {
			return external("close_claim_account", e.custody.CloseAccount(depositor, claimAcct, ownerNative))
		}, nil)
	}
	if err := s.run(); err != nil {
		return nil, err
	}

	e.logger.Info("vault withdrawal", "vault", v.Name.String(), "depositor", owner.String(), "claims", claims, "amount", owed)
	e.emitter.Emit(events.VaultWithdrawn{
		Vault:         v.Name.String(),
		Depositor:     owner.String(),
		Claims:        claims,
		Amount:        owed,
		Redeemed:      result.Redeemed,
		AccountClosed: result.AccountClosed,
	})
	return result, nil
}

// redemption is a venue exit: notes deposit notes are redeemed into the pool
// account, fromCollateral of them first released from the obligation.
type redemption struct {
	notes          uint64
	fromCollateral uint64
}

// planRedemption sizes the exit that frees at least need liquidity. Loose
// deposit notes are spent before posted collateral.
func (e *Engine) planRedemption(v *Vault, need uint64) (redemption, error) {
	notes, err := e.venue.NotesForAmount(need)
	if err != nil {
		return redemption{}, external("notes_for_amount", err)
	}
	loose, err := e.optionalBalance(v.Handles.DepositAccount)
	if err != nil {
		return redemption{}, external("deposit_notes", err)
	}
	posted, err := e.optionalBalance(v.Handles.CollateralAccount)
	if err != nil {
		return redemption{}, external("collateral_notes", err)
	}
	plan := redemption{notes: notes}
	if notes > loose {
		plan.fromCollateral = notes - loose
	}
	if plan.fromCollateral > posted {
		return redemption{}, vaulterrors.Newf(vaulterrors.KindInsufficientBalance, vaulterrors.ReasonPoolLiquidity,
			"venue position cannot cover %d", need)
	}
	return plan, nil
}

// redeem runs plan and returns the liquidity paid into the pool account.
func (e *Engine) redeem(v *Vault, authority crypto.Signer, plan redemption) (uint64, error) {
	if plan.fromCollateral > 0 {
		if err := e.venue.WithdrawCollateral(authority, v.Handles.DepositAccount, plan.fromCollateral); err != nil {
			return 0, external("withdraw_collateral", err)
		}
	}
	redeemed, err := e.venue.Withdraw(authority, v.Handles.DepositAccount, v.PoolAccount, plan.notes)
	return redeemed, external("redeem_notes", err)
}

// refund pays amount from the pool account back to a depositor while a
// deposit unwinds. Redeeming the deposit's notes returns the amount rounded
// down, so a fully deployed pool can be short by that rounding; the gap is
// redeemed from the vault's remaining venue position.
func (e *Engine) refund(v *Vault, authority crypto.Signer, to crypto.Address, amount uint64) error {
	idle, err := e.custody.Balance(v.PoolAccount)
	if err != nil {
		return err
	}
	if idle < amount {
		plan, err := e.planRedemption(v, amount-idle)
		if err != nil {
			return err
		}
		if _, err := e.redeem(v, authority, plan); err != nil {
			return err
		}
	}
	return e.custody.Transfer(authority, v.PoolAccount, to, amount)
}

// checkUserAccount requires a depositor token account to hold the underlying
// and belong to the signer.
func (e *Engine) checkUserAccount(v *Vault, addr, owner crypto.Address) error {
	acct, err := e.custody.Account(addr)
	if err != nil {
		return vaulterrors.Wrap(vaulterrors.KindNotFound, "", err)
	}
	if !acct.Mint.Equal(v.UnderlyingMint) {
		return vaulterrors.New(vaulterrors.KindInvalidAsset, "", "account does not hold the vault underlying")
	}
	if owner.IsZero() || !acct.Owner.Equal(owner) {
		return vaulterrors.New(vaulterrors.KindUnauthorizedOwner, "", "account is not owned by the signer")
	}
	return nil
}
