package vault_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"epochvault/core/epoch"
	vaulterrors "epochvault/core/errors"
	"epochvault/core/events"
	"epochvault/core/state"
	"epochvault/crypto"
	"epochvault/native/lending"
	"epochvault/native/token"
	"epochvault/native/vault"
	"epochvault/storage"
)

const (
	accountDeposit = 10
	vaultName      = "usdc-weekly"
	year           = 31_536_000
)

func testAddress(b byte) crypto.Address {
	return crypto.NewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{b}, crypto.AddressLength))
}

func scenarioSchedule() epoch.Schedule {
	return epoch.Schedule{Start: 100, EndDeposits: 200, StartAuction: 210, EndAuction: 215, StartSettlement: 300, EndEpoch: 400, Cadence: 350}
}

type txn struct {
	vault  *vault.Engine
	tokens *token.Ledger
	venue  *lending.Engine
	state  *state.Manager
}

type harness struct {
	t       *testing.T
	db      *storage.MemDB
	clock   *epoch.ManualClock
	events  *events.Buffer
	alerts  *events.Buffer
	faucet  crypto.Address
	usd     crypto.Address
	market  crypto.Address
	reserve crypto.Address
	admin   crypto.Address
	// wrap decorates the collaborators of the next transactions.
	wrap func(vault.Custody, vault.LendingVenue) (vault.Custody, vault.LendingVenue)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		db:      storage.NewMemDB(),
		clock:   epoch.NewManualClock(10),
		events:  &events.Buffer{},
		alerts:  &events.Buffer{},
		faucet:  testAddress(0xfa),
		usd:     testAddress(0x0d),
		market:  testAddress(0x4d),
		reserve: testAddress(0x52),
		admin:   testAddress(0xad),
	}
	operator := testAddress(0x0e)
	require.NoError(t, h.update(func(tx *txn) error {
		if _, err := tx.tokens.CreateMint(token.NativeMintAddress, h.faucet, "NAT", 9); err != nil {
			return err
		}
		if _, err := tx.tokens.CreateMint(h.usd, h.faucet, "USD", 6); err != nil {
			return err
		}
		if err := fundNative(tx, h.faucet, operator, 100); err != nil {
			return err
		}
		if _, err := tx.venue.InitMarket(operator, h.market, lending.RiskParameters{MaxLTVBps: 7_500}); err != nil {
			return err
		}
		_, err := tx.venue.InitReserve(operator, h.market, h.reserve, h.usd, lending.DefaultInterestParams(), 10)
		return err
	}))
	h.fundNative(h.admin, 1_000)
	return h
}

func fundNative(tx *txn, faucet, owner crypto.Address, amount uint64) error {
	acct, err := tx.tokens.OpenNative(owner)
	if err != nil {
		return err
	}
	return tx.tokens.MintTo(faucet, token.NativeMintAddress, acct.Address, amount)
}

// update runs fn in a transaction the way the executor does: commit on
// success, discard on failure.
func (h *harness) update(fn func(tx *txn) error) error {
	overlay := storage.NewOverlay(h.db)
	mgr := state.NewManager(overlay)
	tokens := token.NewLedger(accountDeposit)
	tokens.SetState(mgr)
	venue := lending.NewEngine(tokens)
	venue.SetState(mgr)
	venue.SetReserve(h.reserve)
	var custody vault.Custody = tokens
	var lendingVenue vault.LendingVenue = venue
	if h.wrap != nil {
		custody, lendingVenue = h.wrap(custody, lendingVenue)
	}
	buffered := &events.Buffer{}
	engine := vault.NewEngine(custody, lendingVenue, h.clock)
	engine.SetState(mgr)
	engine.SetEmitter(buffered)
	engine.SetAlertEmitter(h.alerts)
	if err := fn(&txn{vault: engine, tokens: tokens, venue: venue, state: mgr}); err != nil {
		overlay.Discard()
		return err
	}
	require.NoError(h.t, overlay.Commit())
	for _, ev := range buffered.Drain() {
		h.events.Emit(ev)
	}
	return nil
}

func (h *harness) fundNative(owner crypto.Address, amount uint64) {
	h.t.Helper()
	require.NoError(h.t, h.update(func(tx *txn) error {
		return fundNative(tx, h.faucet, owner, amount)
	}))
}

// fundUSD gives owner an associated underlying account holding amount.
func (h *harness) fundUSD(owner crypto.Address, amount uint64) crypto.Address {
	h.t.Helper()
	h.fundNative(owner, 100)
	var addr crypto.Address
	require.NoError(h.t, h.update(func(tx *txn) error {
		acct, err := tx.tokens.OpenAssociated(owner, owner, h.usd)
		if err != nil {
			return err
		}
		addr = acct.Address
		if amount == 0 {
			return nil
		}
		return tx.tokens.MintTo(h.faucet, h.usd, addr, amount)
	}))
	return addr
}

func (h *harness) params(schedule epoch.Schedule) vault.CreateVaultParams {
	h.t.Helper()
	name, err := vault.ParseName(vaultName)
	require.NoError(h.t, err)
	bumps, _, err := vault.DeriveBumps(name, h.market, h.reserve)
	require.NoError(h.t, err)
	return vault.CreateVaultParams{
		Name:             vaultName,
		UnderlyingMint:   h.usd,
		OperatingBalance: 100,
		Bumps:            bumps,
		Schedule:         schedule,
	}
}

func (h *harness) create(schedule epoch.Schedule) *vault.Vault {
	h.t.Helper()
	var v *vault.Vault
	require.NoError(h.t, h.update(func(tx *txn) error {
		var err error
		v, err = tx.vault.CreateVault(h.admin, h.params(schedule))
		return err
	}))
	return v
}

func (h *harness) deposit(owner, source crypto.Address, amount uint64) (*vault.DepositResult, error) {
	var res *vault.DepositResult
	err := h.update(func(tx *txn) error {
		var err error
		res, err = tx.vault.Deposit(owner, vaultName, source, amount)
		return err
	})
	return res, err
}

func (h *harness) withdraw(owner, dest crypto.Address, claims uint64) (*vault.WithdrawResult, error) {
	var res *vault.WithdrawResult
	err := h.update(func(tx *txn) error {
		var err error
		res, err = tx.vault.Withdraw(owner, vaultName, dest, claims)
		return err
	})
	return res, err
}

func (h *harness) balance(addr crypto.Address) uint64 {
	h.t.Helper()
	var out uint64
	require.NoError(h.t, h.update(func(tx *txn) error {
		ok, err := tx.tokens.Exists(addr)
		if err != nil || !ok {
			return err
		}
		out, err = tx.tokens.Balance(addr)
		return err
	}))
	return out
}

func (h *harness) position(owner crypto.Address) *vault.Position {
	h.t.Helper()
	var pos *vault.Position
	require.NoError(h.t, h.update(func(tx *txn) error {
		var err error
		pos, err = tx.vault.Position(vaultName, owner)
		return err
	}))
	return pos
}

// ledgerView captures every balance a vault operation can touch.
type ledgerView struct {
	balances map[string]uint64
	supply   uint64
	position uint64
}

func (h *harness) view(tx *txn, v *vault.Vault, accounts ...crypto.Address) ledgerView {
	h.t.Helper()
	reserve, err := tx.venue.Reserve()
	require.NoError(h.t, err)
	accounts = append(accounts, v.PoolAccount, reserve.LiquiditySupply, v.Handles.DepositAccount, v.Handles.CollateralAccount)
	out := ledgerView{balances: map[string]uint64{}}
	for _, addr := range accounts {
		ok, err := tx.tokens.Exists(addr)
		require.NoError(h.t, err)
		if !ok {
			continue
		}
		out.balances[addr.Hex()], err = tx.tokens.Balance(addr)
		require.NoError(h.t, err)
	}
	out.supply, err = tx.tokens.Supply(v.ClaimMint)
	require.NoError(h.t, err)
	out.position, err = tx.venue.PositionValue(v.Authority)
	require.NoError(h.t, err)
	return out
}

func TestCreateVaultBootstrapsPosition(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(50)
	v := h.create(scenarioSchedule())

	require.Equal(t, vaultName, v.Name.String())
	require.True(t, v.Admin.Equal(h.admin))
	require.True(t, v.Handles.Reserve.Equal(h.reserve))
	require.False(t, v.Handles.Obligation.IsZero())
	require.False(t, v.Handles.LoanAccount.IsZero())
	require.Zero(t, v.Epoch)
	require.Equal(t, int64(50), v.CreatedAt)

	obligation, _, err := lending.FindObligation(h.market, v.Authority)
	require.NoError(t, err)
	require.True(t, v.Handles.Obligation.Equal(obligation))

	authorityNative, err := token.NativeAccountAddress(v.Authority)
	require.NoError(t, err)
	require.Equal(t, uint64(100-3*accountDeposit), h.balance(authorityNative))
	adminNative, err := token.NativeAccountAddress(h.admin)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000-100-accountDeposit), h.balance(adminNative))

	require.NoError(t, h.update(func(tx *txn) error {
		mint, err := tx.tokens.Mint(v.ClaimMint)
		require.NoError(t, err)
		require.Equal(t, uint8(6), mint.Decimals)
		require.True(t, mint.Authority.Equal(v.Authority))
		return nil
	}))

	drained := h.events.Drain()
	require.Len(t, drained, 1)
	require.Equal(t, events.EventVaultCreated, drained[0].EventType())

	err = h.update(func(tx *txn) error {
		_, err := tx.vault.CreateVault(h.admin, h.params(scenarioSchedule()))
		return err
	})
	require.ErrorIs(t, err, vaulterrors.ErrAlreadyExists)
}

func TestCreateVaultValidation(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(50)

	cases := []struct {
		name   string
		mutate func(p *vault.CreateVaultParams)
		want   error
	}{
		{"start in the past", func(p *vault.CreateVaultParams) { p.Schedule.Start = 40 }, vaulterrors.ErrScheduleNotInFuture},
		{"non sequential", func(p *vault.CreateVaultParams) { p.Schedule.StartAuction = 190 }, vaulterrors.ErrScheduleNonSequential},
		{"short cadence", func(p *vault.CreateVaultParams) { p.Schedule.Cadence = 299 }, vaulterrors.ErrScheduleNonSequential},
		{"bad name", func(p *vault.CreateVaultParams) { p.Name = "" }, vaulterrors.ErrInvalidArgument},
		{"bad proof", func(p *vault.CreateVaultParams) { p.Bumps.Authority-- }, vaulterrors.ErrInvalidArgument},
		{"wrong asset", func(p *vault.CreateVaultParams) { p.UnderlyingMint = token.NativeMintAddress }, vaulterrors.ErrInvalidAsset},
		{"operating balance", func(p *vault.CreateVaultParams) { p.OperatingBalance = 5_000 }, vaulterrors.ErrInsufficientBalance},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := h.params(scenarioSchedule())
			tc.mutate(&params)
			err := h.update(func(tx *txn) error {
				_, err := tx.vault.CreateVault(h.admin, params)
				return err
			})
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestScenarioDepositAndWithdraw(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(50)
	h.create(scenarioSchedule())

	seed, user := testAddress(1), testAddress(2)
	seedSource := h.fundUSD(seed, 1_000)
	userSource := h.fundUSD(user, 500)

	h.clock.Set(120)
	res, err := h.deposit(seed, seedSource, 1_000)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), res.Claims)
	require.Zero(t, res.SupplyBefore)

	h.clock.Set(150)
	res, err = h.deposit(user, userSource, 500)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), res.PoolBefore)
	require.Equal(t, uint64(1_000), res.SupplyBefore)
	require.Equal(t, uint64(500), res.Claims)
	require.Zero(t, h.balance(userSource))

	pos := h.position(user)
	require.Equal(t, uint64(500), pos.Claims)
	require.Equal(t, uint64(1_500), pos.ClaimSupply)
	require.Equal(t, uint64(500), pos.Underlying)

	userNative, err := token.NativeAccountAddress(user)
	require.NoError(t, err)
	nativeBefore := h.balance(userNative)

	out, err := h.withdraw(user, userSource, 500)
	require.NoError(t, err)
	require.Equal(t, uint64(500), out.Amount)
	require.Equal(t, uint64(500), out.Redeemed)
	require.True(t, out.AccountClosed)
	require.Equal(t, uint64(500), h.balance(userSource))
	require.Equal(t, nativeBefore+accountDeposit, h.balance(userNative))

	pos = h.position(user)
	require.Zero(t, pos.Claims)
	require.Equal(t, uint64(1_000), pos.ClaimSupply)
	require.Equal(t, uint64(1_000), pos.PoolValue)

	var kinds []string
	for _, ev := range h.events.Drain() {
		kinds = append(kinds, ev.EventType())
	}
	require.Equal(t, []string{events.EventVaultCreated, events.EventVaultDeposited, events.EventVaultDeposited, events.EventVaultWithdrawn}, kinds)
	require.Empty(t, h.alerts.Drain())
}

func TestDepositPhaseGate(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(50)
	h.create(scenarioSchedule())
	user := testAddress(1)
	source := h.fundUSD(user, 100)

	for _, tc := range []struct {
		now  int64
		want error
	}{
		{100, vaulterrors.ErrEpochNotStarted},
		{201, vaulterrors.ErrDepositWindowClosed},
		{500, vaulterrors.ErrDepositWindowClosed},
	} {
		h.clock.Set(tc.now)
		_, err := h.deposit(user, source, 10)
		require.ErrorIs(t, err, tc.want, "now=%d", tc.now)
		_, err = h.withdraw(user, source, 10)
		require.ErrorIs(t, err, tc.want, "now=%d", tc.now)
		err = h.update(func(tx *txn) error {
			_, err := tx.vault.OpenClaimAccount(user, vaultName)
			return err
		})
		require.ErrorIs(t, err, tc.want, "now=%d", tc.now)
	}

	h.clock.Set(200)
	_, err := h.deposit(user, source, 10)
	require.NoError(t, err)
}

func TestDepositRejectsForeignAccounts(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(50)
	h.create(scenarioSchedule())
	alice, bob := testAddress(1), testAddress(2)
	aliceSource := h.fundUSD(alice, 100)
	h.clock.Set(150)

	_, err := h.deposit(bob, aliceSource, 10)
	require.ErrorIs(t, err, vaulterrors.ErrUnauthorizedOwner)

	aliceNative, err := token.NativeAccountAddress(alice)
	require.NoError(t, err)
	_, err = h.deposit(alice, aliceNative, 10)
	require.ErrorIs(t, err, vaulterrors.ErrInvalidAsset)

	_, err = h.deposit(alice, aliceSource, 0)
	require.ErrorIs(t, err, vaulterrors.ErrInvalidArgument)

	_, err = h.deposit(alice, aliceSource, 101)
	require.ErrorIs(t, err, vaulterrors.ErrInsufficientAsset)
	require.Equal(t, uint64(100), h.balance(aliceSource))
}

func TestWithdrawOverClaimBalanceLeavesLedgerUntouched(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(50)
	v := h.create(scenarioSchedule())
	user := testAddress(1)
	source := h.fundUSD(user, 100)
	h.clock.Set(150)
	_, err := h.deposit(user, source, 100)
	require.NoError(t, err)

	var before ledgerView
	require.NoError(t, h.update(func(tx *txn) error {
		before = h.view(tx, v, source)
		return nil
	}))

	_, err = h.withdraw(user, source, 101)
	require.ErrorIs(t, err, vaulterrors.ErrInsufficientClaim)

	stranger := testAddress(9)
	strangerDest := h.fundUSD(stranger, 0)
	_, err = h.withdraw(stranger, strangerDest, 1)
	require.ErrorIs(t, err, vaulterrors.ErrInsufficientClaim)

	require.NoError(t, h.update(func(tx *txn) error {
		require.Equal(t, before, h.view(tx, v, source))
		return nil
	}))
}

func TestOpenClaimAccount(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(50)
	v := h.create(scenarioSchedule())
	user := testAddress(1)
	h.fundNative(user, 100)
	h.clock.Set(150)

	var addr crypto.Address
	require.NoError(t, h.update(func(tx *txn) error {
		var err error
		addr, err = tx.vault.OpenClaimAccount(user, vaultName)
		return err
	}))
	expected, err := token.AssociatedAddress(user, v.ClaimMint)
	require.NoError(t, err)
	require.True(t, addr.Equal(expected))

	err = h.update(func(tx *txn) error {
		_, err := tx.vault.OpenClaimAccount(user, vaultName)
		return err
	})
	require.ErrorIs(t, err, vaulterrors.ErrAlreadyExists)

	err = h.update(func(tx *txn) error {
		_, err := tx.vault.OpenClaimAccount(user, "missing")
		return err
	})
	require.ErrorIs(t, err, vaulterrors.ErrNotFound)
}

func TestDepositFaultInjectionRestoresState(t *testing.T) {
	steps := []struct {
		step   string
		method string
		call   int
	}{
		{"open-claim-account", "OpenAccount", 1},
		{"transfer-in", "Transfer", 1},
		{"mint-claims", "MintTo", 1},
		{"refresh-reserve", "RefreshReserve", 2},
		{"venue-deposit", "Deposit", 1},
		{"post-collateral", "DepositCollateral", 1},
	}
	for _, tc := range steps {
		t.Run(tc.step, func(t *testing.T) {
			h := newHarness(t)
			h.clock.Set(50)
			v := h.create(scenarioSchedule())
			seed, user := testAddress(1), testAddress(2)
			seedSource := h.fundUSD(seed, 1_000)
			source := h.fundUSD(user, 500)
			h.clock.Set(150)
			_, err := h.deposit(seed, seedSource, 1_000)
			require.NoError(t, err)
			h.events.Drain()

			userNative, err := token.NativeAccountAddress(user)
			require.NoError(t, err)
			claimAcct, err := token.AssociatedAddress(user, v.ClaimMint)
			require.NoError(t, err)
			tracked := []crypto.Address{source, userNative, claimAcct}

			var before ledgerView
			require.NoError(t, h.update(func(tx *txn) error {
				before = h.view(tx, v, tracked...)
				return nil
			}))

			f := &faults{method: tc.method, call: tc.call}
			h.wrap = f.wrap
			err = h.update(func(tx *txn) error {
				_, err := tx.vault.Deposit(user, vaultName, source, 500)
				require.Error(t, err)
				// At a 1:1 venue rate compensations alone restore every balance.
				require.Equal(t, before, h.view(tx, v, tracked...))
				return err
			})
			h.wrap = nil
			require.ErrorIs(t, err, errInjected)
			require.ErrorIs(t, err, vaulterrors.ErrExternalCall)

			require.NoError(t, h.update(func(tx *txn) error {
				require.Equal(t, before, h.view(tx, v, tracked...))
				return nil
			}))
			require.Empty(t, h.events.Drain())
			for _, ev := range h.alerts.Drain() {
				require.Equal(t, events.EventVaultCompensated, ev.EventType())
				require.Equal(t, "deposit", ev.Event().Attributes["pipeline"])
				require.Empty(t, ev.Event().Attributes["error"])
			}
		})
	}
}

func TestBootstrapFailureLeavesNoVenueAccounts(t *testing.T) {
	for _, method := range []string{"InitObligation", "InitDepositAccount", "InitCollateralAccount", "InitLoanAccount"} {
		t.Run(method, func(t *testing.T) {
			h := newHarness(t)
			h.clock.Set(50)
			params := h.params(scenarioSchedule())
			name, err := vault.ParseName(vaultName)
			require.NoError(t, err)
			_, addrs, err := vault.DeriveBumps(name, h.market, h.reserve)
			require.NoError(t, err)
			depositAcct, _, err := lending.FindDepositAccount(h.reserve, addrs.Authority)
			require.NoError(t, err)
			obligation, _, err := lending.FindObligation(h.market, addrs.Authority)
			require.NoError(t, err)
			adminNative, err := token.NativeAccountAddress(h.admin)
			require.NoError(t, err)

			f := &faults{method: method, call: 1}
			h.wrap = f.wrap
			err = h.update(func(tx *txn) error {
				_, err := tx.vault.CreateVault(h.admin, params)
				require.Error(t, err)
				ok, lookupErr := tx.tokens.Exists(depositAcct)
				require.NoError(t, lookupErr)
				require.False(t, ok)
				_, ok, lookupErr = tx.state.GetObligation(obligation)
				require.NoError(t, lookupErr)
				require.False(t, ok)
				held, lookupErr := tx.tokens.Balance(adminNative)
				require.NoError(t, lookupErr)
				require.Equal(t, uint64(1_000), held)
				return err
			})
			h.wrap = nil
			require.ErrorIs(t, err, errInjected)

			err = h.update(func(tx *txn) error {
				_, err := tx.vault.Vault(vaultName)
				return err
			})
			require.ErrorIs(t, err, vaulterrors.ErrNotFound)
			require.Equal(t, uint64(1_000), h.balance(adminNative))
			require.Empty(t, h.events.Drain())

			// The same proofs work once the venue recovers.
			h.create(scenarioSchedule())
		})
	}
}

func TestRollover(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(50)
	v := h.create(scenarioSchedule())
	rollover := func(caller crypto.Address, next epoch.Schedule) (*vault.Vault, error) {
		var out *vault.Vault
		err := h.update(func(tx *txn) error {
			var err error
			out, err = tx.vault.Rollover(caller, vaultName, next)
			return err
		})
		return out, err
	}

	h.clock.Set(350)
	next, err := vault.NextSchedule(v.Schedule, 350)
	require.NoError(t, err)
	_, err = rollover(h.admin, next)
	require.ErrorIs(t, err, vaulterrors.ErrEpochNotOver)

	h.clock.Set(450)
	_, err = rollover(testAddress(7), next)
	require.ErrorIs(t, err, vaulterrors.ErrUnauthorizedAdmin)

	stale := v.Schedule
	_, err = rollover(h.admin, stale)
	require.ErrorIs(t, err, vaulterrors.ErrScheduleNotInFuture)

	next, err = vault.NextSchedule(v.Schedule, 450)
	require.NoError(t, err)
	require.Equal(t, int64(800), next.Start)
	rolled, err := rollover(h.admin, next)
	require.NoError(t, err)
	require.Equal(t, uint64(1), rolled.Epoch)
	require.Equal(t, next, rolled.Schedule)
	require.True(t, rolled.ClaimMint.Equal(v.ClaimMint))

	require.NoError(t, h.update(func(tx *txn) error {
		view, err := tx.vault.Phase(vaultName)
		require.NoError(t, err)
		require.Equal(t, epoch.PhasePreStart, view.Phase)
		require.Equal(t, uint64(1), view.Epoch)
		require.Equal(t, int64(800), view.NextBoundary)
		return nil
	}))
}

// yieldSchedule keeps the deposit window open for two years so interest can
// accrue inside it.
func yieldSchedule() epoch.Schedule {
	return epoch.Schedule{
		Start:           100,
		EndDeposits:     100 + 2*year,
		StartAuction:    110 + 2*year,
		EndAuction:      115 + 2*year,
		StartSettlement: 120 + 2*year,
		EndEpoch:        130 + 2*year,
		Cadence:         3 * year,
	}
}

// seedBorrower opens a venue position for borrower, posts 1000 of collateral
// and borrows 500 against it at the current clock.
func (h *harness) seedBorrower(borrower, source crypto.Address) {
	h.t.Helper()
	now := epoch.Unix(h.clock)
	require.NoError(h.t, h.update(func(tx *txn) error {
		if err := tx.venue.RefreshReserve(now); err != nil {
			return err
		}
		obligation, obBump, err := lending.FindObligation(h.market, borrower)
		require.NoError(h.t, err)
		_, depBump, err := lending.FindDepositAccount(h.reserve, borrower)
		require.NoError(h.t, err)
		_, colBump, err := lending.FindCollateralAccount(h.reserve, obligation, borrower)
		require.NoError(h.t, err)
		_, loanBump, err := lending.FindLoanAccount(h.reserve, obligation, borrower)
		require.NoError(h.t, err)
		if _, err := tx.venue.InitObligation(borrower, obBump); err != nil {
			return err
		}
		deposit, err := tx.venue.InitDepositAccount(borrower, depBump)
		if err != nil {
			return err
		}
		if _, err := tx.venue.InitCollateralAccount(borrower, colBump); err != nil {
			return err
		}
		if _, err := tx.venue.InitLoanAccount(borrower, loanBump); err != nil {
			return err
		}
		if _, err := tx.venue.Deposit(borrower, source, deposit, 1_000); err != nil {
			return err
		}
		if err := tx.venue.DepositCollateral(borrower, deposit, 1_000); err != nil {
			return err
		}
		return tx.venue.Borrow(borrower, source, 500)
	}))
}

// newYieldHarness deposits 1000 for depositor, lets a borrower pay a year of
// interest into the venue and leaves the clock at the end of that year.
func newYieldHarness(t *testing.T, depositor crypto.Address) (*harness, *vault.Vault, crypto.Address) {
	t.Helper()
	h := newHarness(t)
	h.clock.Set(50)
	v := h.create(yieldSchedule())
	borrower := testAddress(0xb0)
	source := h.fundUSD(depositor, 1_000)
	borrowerSource := h.fundUSD(borrower, 1_000)

	h.clock.Set(150)
	_, err := h.deposit(depositor, source, 1_000)
	require.NoError(t, err)
	h.seedBorrower(borrower, borrowerSource)
	h.clock.Set(150 + year)
	h.events.Drain()
	return h, v, source
}

func TestWithdrawIncludesVenueYield(t *testing.T) {
	user := testAddress(1)
	h, _, source := newYieldHarness(t, user)
	require.Equal(t, uint64(1_000), h.position(user).Underlying)

	out, err := h.withdraw(user, source, 1_000)
	require.NoError(t, err)
	require.Equal(t, uint64(1_013), out.Amount)
	require.Equal(t, uint64(1_013), h.balance(source))
	require.True(t, out.AccountClosed)
}

// requireCompensated checks that every compensation of a failed pipeline
// succeeded.
func requireCompensated(t *testing.T, h *harness, pipeline string, err error) {
	t.Helper()
	require.ErrorIs(t, err, errInjected)
	require.NotContains(t, err.Error(), "compensate")
	require.Empty(t, h.events.Drain())
	for _, ev := range h.alerts.Drain() {
		require.Equal(t, events.EventVaultCompensated, ev.EventType())
		require.Equal(t, pipeline, ev.Event().Attributes["pipeline"])
		require.Empty(t, ev.Event().Attributes["error"])
	}
}

func TestWithdrawFaultInjectionWithVenueYield(t *testing.T) {
	steps := []struct {
		step   string
		method string
	}{
		{"burn-claims", "Burn"},
		{"withdraw-collateral", "WithdrawCollateral"},
		{"redeem-notes", "Withdraw"},
		{"transfer-out", "Transfer"},
		{"close-claim-account", "CloseAccount"},
	}
	for _, tc := range steps {
		t.Run(tc.step, func(t *testing.T) {
			user := testAddress(1)
			h, v, source := newYieldHarness(t, user)
			userNative, err := token.NativeAccountAddress(user)
			require.NoError(t, err)
			claimAcct, err := token.AssociatedAddress(user, v.ClaimMint)
			require.NoError(t, err)
			tracked := []crypto.Address{source, userNative, claimAcct}

			var before ledgerView
			require.NoError(t, h.update(func(tx *txn) error {
				// Value the position at the current instant.
				if err := tx.venue.RefreshReserve(epoch.Unix(h.clock)); err != nil {
					return err
				}
				before = h.view(tx, v, tracked...)
				return nil
			}))

			h.wrap = (&faults{method: tc.method, call: 1}).wrap
			err = h.update(func(tx *txn) error {
				_, err := tx.vault.Withdraw(user, vaultName, source, 1_000)
				require.Error(t, err)
				after := h.view(tx, v, tracked...)
				require.Equal(t, before.balances[source.Hex()], after.balances[source.Hex()])
				require.Equal(t, before.balances[claimAcct.Hex()], after.balances[claimAcct.Hex()])
				require.Equal(t, before.supply, after.supply)
				// Unwinding a redemption loses at most venue rounding.
				require.InDelta(t, before.position, after.position, 2)
				return err
			})
			h.wrap = nil
			requireCompensated(t, h, "withdraw", err)

			require.NoError(t, h.update(func(tx *txn) error {
				require.Equal(t, before, h.view(tx, v, tracked...))
				return nil
			}))
			out, err := h.withdraw(user, source, 1_000)
			require.NoError(t, err)
			require.Equal(t, uint64(1_013), out.Amount)
		})
	}
}

func TestDepositFaultInjectionWithVenueYield(t *testing.T) {
	steps := []struct {
		step   string
		method string
		call   int
	}{
		{"mint-claims", "MintTo", 1},
		{"refresh-reserve", "RefreshReserve", 2},
		{"venue-deposit", "Deposit", 1},
		{"post-collateral", "DepositCollateral", 1},
	}
	for _, tc := range steps {
		t.Run(tc.step, func(t *testing.T) {
			h, v, _ := newYieldHarness(t, testAddress(1))
			late := testAddress(3)
			source := h.fundUSD(late, 333)
			lateNative, err := token.NativeAccountAddress(late)
			require.NoError(t, err)
			claimAcct, err := token.AssociatedAddress(late, v.ClaimMint)
			require.NoError(t, err)
			tracked := []crypto.Address{source, lateNative}

			var before ledgerView
			require.NoError(t, h.update(func(tx *txn) error {
				if err := tx.venue.RefreshReserve(epoch.Unix(h.clock)); err != nil {
					return err
				}
				before = h.view(tx, v, tracked...)
				return nil
			}))

			h.wrap = (&faults{method: tc.method, call: tc.call}).wrap
			err = h.update(func(tx *txn) error {
				_, err := tx.vault.Deposit(late, vaultName, source, 333)
				require.Error(t, err)
				after := h.view(tx, v, tracked...)
				require.Equal(t, uint64(333), after.balances[source.Hex()])
				require.Equal(t, before.balances[lateNative.Hex()], after.balances[lateNative.Hex()])
				require.Equal(t, before.supply, after.supply)
				ok, lookupErr := tx.tokens.Exists(claimAcct)
				require.NoError(t, lookupErr)
				require.False(t, ok)
				require.InDelta(t, before.position, after.position, 2)
				return err
			})
			h.wrap = nil
			requireCompensated(t, h, "deposit", err)

			require.NoError(t, h.update(func(tx *txn) error {
				require.Equal(t, before, h.view(tx, v, tracked...))
				return nil
			}))
			out, err := h.deposit(late, source, 333)
			require.NoError(t, err)
			require.NotZero(t, out.Claims)
		})
	}
}

func TestDepositTooSmallForVenueNotes(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(50)
	h.create(yieldSchedule())
	borrower, user := testAddress(0xb0), testAddress(1)
	borrowerSource := h.fundUSD(borrower, 1_000)
	source := h.fundUSD(user, 1)
	h.clock.Set(150)
	h.seedBorrower(borrower, borrowerSource)
	h.clock.Set(150 + year)

	// An empty vault mints one claim per unit, but a unit buys no deposit
	// notes once the venue rate has risen above one.
	_, err := h.deposit(user, source, 1)
	require.ErrorIs(t, err, &vaulterrors.Error{Kind: vaulterrors.KindInvalidArgument, Reason: vaulterrors.ReasonZeroResult})
	require.NotErrorIs(t, err, vaulterrors.ErrExternalCall)
	require.Equal(t, uint64(1), h.balance(source))
}

func TestPausedVaultRejectsOperations(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(50)
	err := h.update(func(tx *txn) error {
		tx.vault.SetPauses(pauses{"vault": true})
		_, err := tx.vault.CreateVault(h.admin, h.params(scenarioSchedule()))
		return err
	})
	require.ErrorIs(t, err, vaulterrors.ErrPaused)
}

type pauses map[string]bool

func (p pauses) IsPaused(module string) bool { return p[module] }

var errInjected = errors.New("injected failure")

// faults fails the nth call of one collaborator method.
type faults struct {
	method string
	call   int
	seen   map[string]int
}

func (f *faults) hit(method string) error {
	if f.seen == nil {
		f.seen = map[string]int{}
	}
	f.seen[method]++
	if method == f.method && f.seen[method] == f.call {
		return fmt.Errorf("%s: %w", method, errInjected)
	}
	return nil
}

func (f *faults) wrap(c vault.Custody, v vault.LendingVenue) (vault.Custody, vault.LendingVenue) {
	return &faultyCustody{Custody: c, faults: f}, &faultyVenue{LendingVenue: v, faults: f}
}

type faultyCustody struct {
	vault.Custody
	faults *faults
}

func (c *faultyCustody) OpenAccount(payer crypto.Signer, addr, mint, owner crypto.Address) (*token.Account, error) {
	if err := c.faults.hit("OpenAccount"); err != nil {
		return nil, err
	}
	return c.Custody.OpenAccount(payer, addr, mint, owner)
}

func (c *faultyCustody) Transfer(owner crypto.Signer, from, to crypto.Address, amount uint64) error {
	if err := c.faults.hit("Transfer"); err != nil {
		return err
	}
	return c.Custody.Transfer(owner, from, to, amount)
}

func (c *faultyCustody) Burn(owner crypto.Signer, from crypto.Address, amount uint64) error {
	if err := c.faults.hit("Burn"); err != nil {
		return err
	}
	return c.Custody.Burn(owner, from, amount)
}

func (c *faultyCustody) CloseAccount(owner crypto.Signer, addr, destination crypto.Address) error {
	if err := c.faults.hit("CloseAccount"); err != nil {
		return err
	}
	return c.Custody.CloseAccount(owner, addr, destination)
}

func (c *faultyCustody) MintTo(authority crypto.Signer, mint, to crypto.Address, amount uint64) error {
	if err := c.faults.hit("MintTo"); err != nil {
		return err
	}
	return c.Custody.MintTo(authority, mint, to, amount)
}

type faultyVenue struct {
	vault.LendingVenue
	faults *faults
}

func (v *faultyVenue) InitObligation(owner crypto.Signer, bump uint8) (crypto.Address, error) {
	if err := v.faults.hit("InitObligation"); err != nil {
		return crypto.Address{}, err
	}
	return v.LendingVenue.InitObligation(owner, bump)
}

func (v *faultyVenue) InitDepositAccount(owner crypto.Signer, bump uint8) (crypto.Address, error) {
	if err := v.faults.hit("InitDepositAccount"); err != nil {
		return crypto.Address{}, err
	}
	return v.LendingVenue.InitDepositAccount(owner, bump)
}

func (v *faultyVenue) InitCollateralAccount(owner crypto.Signer, bump uint8) (crypto.Address, error) {
	if err := v.faults.hit("InitCollateralAccount"); err != nil {
		return crypto.Address{}, err
	}
	return v.LendingVenue.InitCollateralAccount(owner, bump)
}

func (v *faultyVenue) InitLoanAccount(owner crypto.Signer, bump uint8) (crypto.Address, error) {
	if err := v.faults.hit("InitLoanAccount"); err != nil {
		return crypto.Address{}, err
	}
	return v.LendingVenue.InitLoanAccount(owner, bump)
}

func (v *faultyVenue) RefreshReserve(now int64) error {
	if err := v.faults.hit("RefreshReserve"); err != nil {
		return err
	}
	return v.LendingVenue.RefreshReserve(now)
}

func (v *faultyVenue) Deposit(owner crypto.Signer, source, depositAccount crypto.Address, amount uint64) (uint64, error) {
	if err := v.faults.hit("Deposit"); err != nil {
		return 0, err
	}
	return v.LendingVenue.Deposit(owner, source, depositAccount, amount)
}

func (v *faultyVenue) DepositCollateral(owner crypto.Signer, depositAccount crypto.Address, notes uint64) error {
	if err := v.faults.hit("DepositCollateral"); err != nil {
		return err
	}
	return v.LendingVenue.DepositCollateral(owner, depositAccount, notes)
}

func (v *faultyVenue) Withdraw(owner crypto.Signer, depositAccount, destination crypto.Address, notes uint64) (uint64, error) {
	if err := v.faults.hit("Withdraw"); err != nil {
		return 0, err
	}
	return v.LendingVenue.Withdraw(owner, depositAccount, destination, notes)
}

func (v *faultyVenue) WithdrawCollateral(owner crypto.Signer, depositAccount crypto.Address, notes uint64) error {
	if err := v.faults.hit("WithdrawCollateral"); err != nil {
		return err
	}
	return v.LendingVenue.WithdrawCollateral(owner, depositAccount, notes)
}
