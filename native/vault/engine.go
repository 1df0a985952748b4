package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"epochvault/core/epoch"
	vaulterrors "epochvault/core/errors"
	"epochvault/core/events"
	"epochvault/crypto"
	nativecommon "epochvault/native/common"
	"epochvault/native/lending"
	"epochvault/native/token"
)

const moduleName = "vault"

var errNilState = errors.New("vault engine: state not configured")

type engineState interface {
	GetVault(addr crypto.Address) (*Vault, bool, error)
	PutVault(v *Vault) error
}

// Custody holds and moves the underlying asset, the claim token and the
// native operating balance.
type Custody interface {
	CreateMint(addr, authority crypto.Address, symbol string, decimals uint8) (*token.Mint, error)
	Mint(addr crypto.Address) (*token.Mint, error)
	Account(addr crypto.Address) (*token.Account, error)
	Exists(addr crypto.Address) (bool, error)
	Balance(addr crypto.Address) (uint64, error)
	Supply(mint crypto.Address) (uint64, error)
	OpenAccount(payer crypto.Signer, addr, mint, owner crypto.Address) (*token.Account, error)
	OpenNative(owner crypto.Address) (*token.Account, error)
	CloseAccount(owner crypto.Signer, addr, destination crypto.Address) error
	Transfer(owner crypto.Signer, from, to crypto.Address, amount uint64) error
	MintTo(authority crypto.Signer, mint, to crypto.Address, amount uint64) error
	Burn(owner crypto.Signer, from crypto.Address, amount uint64) error
}

// LendingVenue is the collateralized lending market the pool is deployed
// into. Every call is signed by the vault authority.
type LendingVenue interface {
	Market() (*lending.Market, error)
	Reserve() (*lending.Reserve, error)
	InitObligation(owner crypto.Signer, bump uint8) (crypto.Address, error)
	InitDepositAccount(owner crypto.Signer, bump uint8) (crypto.Address, error)
	InitCollateralAccount(owner crypto.Signer, bump uint8) (crypto.Address, error)
	InitLoanAccount(owner crypto.Signer, bump uint8) (crypto.Address, error)
	CloseObligation(owner crypto.Signer) error
	CloseDepositAccount(owner crypto.Signer, destination crypto.Address) error
	CloseCollateralAccount(owner crypto.Signer, destination crypto.Address) error
	CloseLoanAccount(owner crypto.Signer, destination crypto.Address) error
	RefreshReserve(now int64) error
	Deposit(owner crypto.Signer, source, depositAccount crypto.Address, amount uint64) (uint64, error)
	Withdraw(owner crypto.Signer, depositAccount, destination crypto.Address, notes uint64) (uint64, error)
	DepositCollateral(owner crypto.Signer, depositAccount crypto.Address, notes uint64) error
	WithdrawCollateral(owner crypto.Signer, depositAccount crypto.Address, notes uint64) error
	PositionValue(owner crypto.Address) (uint64, error)
	NotesForAmount(amount uint64) (uint64, error)
	PreviewDeposit(amount uint64) (uint64, error)
}

// Engine runs vault operations. It is bound to the state of one transaction
// at a time.
type Engine struct {
	state   engineState
	custody Custody
	venue   LendingVenue
	clock   epoch.Clock
	pauses  nativecommon.PauseView
	emitter events.Emitter
	alerts  events.Emitter
	logger  *slog.Logger
}

// NewEngine constructs a vault engine over its collaborators.
func NewEngine(custody Custody, venue LendingVenue, clock epoch.Clock) *Engine {
	if clock == nil {
		clock = epoch.SystemClock{}
	}
	return &Engine{
		custody: custody,
		venue:   venue,
		clock:   clock,
		emitter: events.NoopEmitter{},
		alerts:  events.NoopEmitter{},
		logger:  slog.Default(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter routes events that describe committed state changes.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetAlertEmitter routes compensation events, which are published even when
// the surrounding transaction is discarded.
func (e *Engine) SetAlertEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.alerts = emitter
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// CreateVaultParams are the inputs of CreateVault.
type CreateVaultParams struct {
	Name             string
	UnderlyingMint   crypto.Address
	OperatingBalance uint64
	Bumps            Bumps
	Schedule         epoch.Schedule
}

// CreateVault validates the schedule and derivation proofs, stages the vault
// record, funds the vault authority with the operating balance and opens the
// four venue position accounts. Any failure compensates the venue accounts
// already opened and fails the whole operation.
func (e *Engine) CreateVault(admin crypto.Signer, params CreateVaultParams) (*Vault, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	adminAddr := admin.SignerAddress()
	if adminAddr.IsZero() {
		return nil, vaulterrors.New(vaulterrors.KindUnauthorizedAdmin, "", "admin signature required")
	}
	name, err := ParseName(params.Name)
	if err != nil {
		return nil, vaulterrors.Wrap(vaulterrors.KindInvalidArgument, vaulterrors.ReasonBadName, err)
	}
	now := epoch.Unix(e.clock)
	if err := params.Schedule.Validate(now); err != nil {
		return nil, err
	}
	addrs, err := verifyAddresses(name, params.Bumps)
	if err != nil {
		return nil, vaulterrors.Wrap(vaulterrors.KindInvalidArgument, vaulterrors.ReasonBadProof, err)
	}
	if _, exists, err := e.state.GetVault(addrs.Vault); err != nil {
		return nil, err
	} else if exists {
		return nil, vaulterrors.Newf(vaulterrors.KindAlreadyExists, "", "vault %q already exists", name.String())
	}
	market, err := e.venue.Market()
	if err != nil {
		return nil, external("load_market", err)
	}
	reserve, err := e.venue.Reserve()
	if err != nil {
		return nil, external("load_reserve", err)
	}
	if !reserve.LiquidityMint.Equal(params.UnderlyingMint) {
		return nil, vaulterrors.New(vaulterrors.KindInvalidAsset, "", "underlying mint does not match the venue reserve")
	}
	underlying, err := e.custody.Mint(params.UnderlyingMint)
	if err != nil {
		return nil, vaulterrors.Wrap(vaulterrors.KindInvalidAsset, "", err)
	}
	adminNative, err := token.NativeAccountAddress(adminAddr)
	if err != nil {
		return nil, err
	}
	if params.OperatingBalance > 0 {
		held, err := e.optionalBalance(adminNative)
		if err != nil {
			return nil, external("admin_balance", err)
		}
		if held < params.OperatingBalance {
			return nil, vaulterrors.Newf(vaulterrors.KindInsufficientBalance, vaulterrors.ReasonOperatingBalance,
				"admin holds %d native units, operating balance needs %d", held, params.OperatingBalance)
		}
	}

	record := &Vault{
		Address:        addrs.Vault,
		Name:           name,
		Admin:          adminAddr,
		Authority:      addrs.Authority,
		UnderlyingMint: params.UnderlyingMint,
		ClaimMint:      addrs.ClaimMint,
		PoolAccount:    addrs.PoolAccount,
		Bumps:          params.Bumps,
		Schedule:       params.Schedule,
		Handles: Handles{
			Market:          market.Address,
			MarketAuthority: market.Authority,
			Reserve:         reserve.Address,
			DepositNoteMint: reserve.DepositNoteMint,
			LoanNoteMint:    reserve.LoanNoteMint,
		},
		CreatedAt: now,
	}
	if err := e.bootstrap(admin, adminNative, record, underlying, params.OperatingBalance); err != nil {
		return nil, err
	}
	e.logger.Info("vault created", "vault", name.String(), "address", record.Address.String(), "admin", adminAddr.String())
	e.emitter.Emit(events.VaultCreated{
		Vault:      name.String(),
		Address:    record.Address.String(),
		Admin:      adminAddr.String(),
		ClaimMint:  record.ClaimMint.String(),
		Obligation: record.Handles.Obligation.String(),
		Epoch:      record.Epoch,
		StartEpoch: record.Schedule.Start,
		EndEpoch:   record.Schedule.EndEpoch,
	})
	return record.Clone(), nil
}

// OpenClaimAccount opens owner's claim token account during the deposit
// window.
func (e *Engine) OpenClaimAccount(owner crypto.Signer, vaultName string) (crypto.Address, error) {
	if err := e.ready(); err != nil {
		return crypto.Address{}, err
	}
	ownerAddr := owner.SignerAddress()
	if ownerAddr.IsZero() {
		return crypto.Address{}, vaulterrors.New(vaulterrors.KindUnauthorizedOwner, "", "owner signature required")
	}
	v, err := e.loadVault(vaultName)
	if err != nil {
		return crypto.Address{}, err
	}
	if err := v.Schedule.CheckDepositWindow(epoch.Unix(e.clock)); err != nil {
		return crypto.Address{}, err
	}
	addr, err := token.AssociatedAddress(ownerAddr, v.ClaimMint)
	if err != nil {
		return crypto.Address{}, err
	}
	exists, err := e.custody.Exists(addr)
	if err != nil {
		return crypto.Address{}, external("claim_account", err)
	}
	if exists {
		return crypto.Address{}, vaulterrors.New(vaulterrors.KindAlreadyExists, "", "claim account already open")
	}
	if _, err := e.custody.OpenAccount(owner, addr, v.ClaimMint, ownerAddr); err != nil {
		return crypto.Address{}, external("open_claim_account", err)
	}
	return addr, nil
}

// Rollover installs the next epoch schedule. Only the admin may roll over,
// only after the current epoch has ended, and only to a valid schedule.
func (e *Engine) Rollover(caller crypto.Signer, vaultName string, next epoch.Schedule) (*Vault, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	v, err := e.loadVault(vaultName)
	if err != nil {
		return nil, err
	}
	if !v.Admin.Equal(caller.SignerAddress()) {
		return nil, vaulterrors.New(vaulterrors.KindUnauthorizedAdmin, "", "only the vault admin may roll over")
	}
	now := epoch.Unix(e.clock)
	if err := v.Schedule.CheckClosed(now); err != nil {
		return nil, err
	}
	if err := next.Validate(now); err != nil {
		return nil, err
	}
	if v.Epoch == math.MaxUint64 {
		return nil, vaulterrors.New(vaulterrors.KindOverflow, "", "epoch counter exhausted")
	}
	v.Schedule = next
	v.Epoch++
	if err := e.state.PutVault(v); err != nil {
		return nil, err
	}
	e.logger.Info("vault rolled over", "vault", v.Name.String(), "epoch", v.Epoch, "start", next.Start)
	e.emitter.Emit(events.VaultRolledOver{
		Vault:      v.Name.String(),
		Epoch:      v.Epoch,
		StartEpoch: next.Start,
		EndEpoch:   next.EndEpoch,
	})
	return v.Clone(), nil
}

// NextSchedule shifts current by its cadence until the start lies after now.
func NextSchedule(current epoch.Schedule, now int64) (epoch.Schedule, error) {
	next := current
	for i := 0; i < 1<<16; i++ {
		var err error
		next, err = next.Next()
		if err != nil {
			return epoch.Schedule{}, err
		}
		if next.Start > now {
			return next, next.Validate(now)
		}
	}
	return epoch.Schedule{}, vaulterrors.New(vaulterrors.KindInvalidSchedule, vaulterrors.ReasonNotInFuture,
		"cadence too short to catch up with the clock")
}

// Vault returns the record for a vault name.
func (e *Engine) Vault(vaultName string) (*Vault, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.loadVault(vaultName)
}

// Position reports owner's claims and their current redemption value. The
// venue position is valued at the last refreshed rate.
func (e *Engine) Position(vaultName string, owner crypto.Address) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	v, err := e.loadVault(vaultName)
	if err != nil {
		return nil, err
	}
	claimAcct, err := token.AssociatedAddress(owner, v.ClaimMint)
	if err != nil {
		return nil, err
	}
	claims, err := e.optionalBalance(claimAcct)
	if err != nil {
		return nil, external("claim_balance", err)
	}
	supply, pool, err := e.poolState(v)
	if err != nil {
		return nil, err
	}
	pos := &Position{
		Vault:        v.Name.String(),
		Owner:        owner,
		ClaimAccount: claimAcct,
		Claims:       claims,
		ClaimSupply:  supply,
		PoolValue:    pool,
	}
	if claims > 0 && supply > 0 {
		if pos.Underlying, err = UnderlyingForClaims(claims, supply, pool); err != nil {
			return nil, err
		}
	}
	return pos, nil
}

// Pool reports the claim supply and pool value of a vault at the last
// refreshed venue rate.
func (e *Engine) Pool(vaultName string) (*PoolView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	v, err := e.loadVault(vaultName)
	if err != nil {
		return nil, err
	}
	idle, err := e.custody.Balance(v.PoolAccount)
	if err != nil {
		return nil, external("pool_balance", err)
	}
	supply, pool, err := e.poolState(v)
	if err != nil {
		return nil, err
	}
	return &PoolView{Vault: v.Name.String(), ClaimSupply: supply, PoolValue: pool, Idle: idle, Deployed: pool - idle}, nil
}

// Phase reports where the vault's epoch stands right now.
func (e *Engine) Phase(vaultName string) (*PhaseView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	v, err := e.loadVault(vaultName)
	if err != nil {
		return nil, err
	}
	now := epoch.Unix(e.clock)
	phase := v.Schedule.PhaseAt(now)
	next, _ := v.Schedule.NextBoundary(now)
	return &PhaseView{
		Vault:        v.Name.String(),
		Epoch:        v.Epoch,
		Phase:        phase,
		Name:         phase.String(),
		Now:          now,
		NextBoundary: next,
	}, nil
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return vaulterrors.Wrap(vaulterrors.KindPaused, "", err)
	}
	return nil
}

func (e *Engine) loadVault(vaultName string) (*Vault, error) {
	name, err := ParseName(vaultName)
	if err != nil {
		return nil, vaulterrors.Wrap(vaulterrors.KindInvalidArgument, vaulterrors.ReasonBadName, err)
	}
	addr, _, err := FindVaultAddress(name)
	if err != nil {
		return nil, err
	}
	v, ok, err := e.state.GetVault(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, vaulterrors.Newf(vaulterrors.KindNotFound, "", "vault %q not found", name.String())
	}
	return v, nil
}

// poolState reads the claim supply and the pool value: the idle pool
// balance plus the venue position.
func (e *Engine) poolState(v *Vault) (supply, pool uint64, err error) {
	supply, err = e.custody.Supply(v.ClaimMint)
	if err != nil {
		return 0, 0, external("claim_supply", err)
	}
	idle, err := e.custody.Balance(v.PoolAccount)
	if err != nil {
		return 0, 0, external("pool_balance", err)
	}
	deployed, err := e.venue.PositionValue(v.Authority)
	if err != nil {
		return 0, 0, external("position_value", err)
	}
	if idle > math.MaxUint64-deployed {
		return 0, 0, vaulterrors.New(vaulterrors.KindOverflow, vaulterrors.ReasonResultTooLarge, "pool value exceeds 64 bits")
	}
	return supply, idle + deployed, nil
}

func (e *Engine) optionalBalance(addr crypto.Address) (uint64, error) {
	ok, err := e.custody.Exists(addr)
	if err != nil || !ok {
		return 0, err
	}
	return e.custody.Balance(addr)
}

func (e *Engine) compensationHook(v *Vault, pipeline string) func(string, error) {
	return func(step string, err error) {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		e.alerts.Emit(events.VaultCompensated{
			Vault:    v.Name.String(),
			Pipeline: pipeline,
			Step:     step,
			Error:    msg,
		})
	}
}

// external marks a collaborator failure.
func external(call string, err error) error {
	if err == nil {
		return nil
	}
	return vaulterrors.Wrap(vaulterrors.KindExternalCall, call, fmt.Errorf("%s: %w", call, err))
}
