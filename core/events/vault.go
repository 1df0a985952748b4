package events

import (
	"strconv"

	"epochvault/core/types"
)

const (
	EventVaultCreated     = "vault.created"
	EventVaultDeposited   = "vault.deposited"
	EventVaultWithdrawn   = "vault.withdrawn"
	EventVaultRolledOver  = "vault.rolled_over"
	EventVaultCompensated = "vault.compensated"
)

// VaultCreated reports a bootstrapped vault.
type VaultCreated struct {
	Vault      string
	Address    string
	Admin      string
	ClaimMint  string
	Obligation string
	Epoch      uint64
	StartEpoch int64
	EndEpoch   int64
}

// EventType implements the Event interface.
func (VaultCreated) EventType() string { return EventVaultCreated }

// Event converts the struct into a types.Event payload.
func (e VaultCreated) Event() *types.Event {
	return &types.Event{Type: EventVaultCreated, Attributes: map[string]string{
		"vault":       e.Vault,
		"address":     e.Address,
		"admin":       e.Admin,
		"claim_mint":  e.ClaimMint,
		"obligation":  e.Obligation,
		"epoch":       strconv.FormatUint(e.Epoch, 10),
		"start_epoch": strconv.FormatInt(e.StartEpoch, 10),
		"end_epoch":   strconv.FormatInt(e.EndEpoch, 10),
	}}
}

// VaultDeposited reports claims minted against a deposit.
type VaultDeposited struct {
	Vault       string
	Depositor   string
	Amount      uint64
	Claims      uint64
	PoolBefore  uint64
	SupplyAfter uint64
}

// EventType implements the Event interface.
func (VaultDeposited) EventType() string { return EventVaultDeposited }

// Event converts the struct into a types.Event payload.
func (e VaultDeposited) Event() *types.Event {
	return &types.Event{Type: EventVaultDeposited, Attributes: map[string]string{
		"vault":        e.Vault,
		"depositor":    e.Depositor,
		"amount":       strconv.FormatUint(e.Amount, 10),
		"claims":       strconv.FormatUint(e.Claims, 10),
		"pool_before":  strconv.FormatUint(e.PoolBefore, 10),
		"supply_after": strconv.FormatUint(e.SupplyAfter, 10),
	}}
}

// VaultWithdrawn reports claims burned for underlying.
type VaultWithdrawn struct {
	Vault         string
	Depositor     string
	Claims        uint64
	Amount        uint64
	Redeemed      uint64
	AccountClosed bool
}

// EventType implements the Event interface.
func (VaultWithdrawn) EventType() string { return EventVaultWithdrawn }

// Event converts the struct into a types.Event payload.
func (e VaultWithdrawn) Event() *types.Event {
	return &types.Event{Type: EventVaultWithdrawn, Attributes: map[string]string{
		"vault":          e.Vault,
		"depositor":      e.Depositor,
		"claims":         strconv.FormatUint(e.Claims, 10),
		"amount":         strconv.FormatUint(e.Amount, 10),
		"redeemed":       strconv.FormatUint(e.Redeemed, 10),
		"account_closed": strconv.FormatBool(e.AccountClosed),
	}}
}

// VaultRolledOver reports a new epoch schedule.
type VaultRolledOver struct {
	Vault      string
	Epoch      uint64
	StartEpoch int64
	EndEpoch   int64
}

// EventType implements the Event interface.
func (VaultRolledOver) EventType() string { return EventVaultRolledOver }

// Event converts the struct into a types.Event payload.
func (e VaultRolledOver) Event() *types.Event {
	return &types.Event{Type: EventVaultRolledOver, Attributes: map[string]string{
		"vault":       e.Vault,
		"epoch":       strconv.FormatUint(e.Epoch, 10),
		"start_epoch": strconv.FormatInt(e.StartEpoch, 10),
		"end_epoch":   strconv.FormatInt(e.EndEpoch, 10),
	}}
}

// VaultCompensated reports a compensation run after a failed pipeline step.
// It is emitted outside the aborted transaction so operators see the attempt.
type VaultCompensated struct {
	Vault    string
	Pipeline string
	Step     string
	Error    string
}

// EventType implements the Event interface.
func (VaultCompensated) EventType() string { return EventVaultCompensated }

// Event converts the struct into a types.Event payload.
func (e VaultCompensated) Event() *types.Event {
	return &types.Event{Type: EventVaultCompensated, Attributes: map[string]string{
		"vault":    e.Vault,
		"pipeline": e.Pipeline,
		"step":     e.Step,
		"error":    e.Error,
	}}
}
