package vault

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"epochvault/core/epoch"
	"epochvault/crypto"
)

// ProgramAddress owns the vault record and every vault-derived address.
var ProgramAddress = crypto.ProgramID("epochvault/vault")

// NameLength is the fixed width of a vault name.
const NameLength = 20

// Name is a vault name right padded with spaces to NameLength bytes.
type Name [NameLength]byte

// ParseName pads s into a Name. Names are 1 to 20 bytes of valid UTF-8 and may
// not end in a space, so padding stays unambiguous.
func ParseName(s string) (Name, error) {
	var name Name
	if s == "" || strings.TrimSpace(s) == "" {
		return name, fmt.Errorf("vault name must not be empty")
	}
	if len(s) > NameLength {
		return name, fmt.Errorf("vault name exceeds %d bytes", NameLength)
	}
	if !utf8.ValidString(s) {
		return name, fmt.Errorf("vault name must be valid UTF-8")
	}
	if strings.HasSuffix(s, " ") {
		return name, fmt.Errorf("vault name must not end with a space")
	}
	copy(name[:], s)
	for i := len(s); i < NameLength; i++ {
		name[i] = ' '
	}
	return name, nil
}

// String returns the name without padding.
func (n Name) String() string {
	return string(bytes.TrimRight(n[:], " "))
}

// Bytes returns the padded form used in address derivation.
func (n Name) Bytes() []byte {
	return append([]byte(nil), n[:]...)
}

// Bumps holds the derivation proofs supplied at creation, stored verbatim.
type Bumps struct {
	Vault             uint8 `json:"vault"`
	Authority         uint8 `json:"authority"`
	ClaimMint         uint8 `json:"claimMint"`
	PoolAccount       uint8 `json:"poolAccount"`
	Obligation        uint8 `json:"obligation"`
	DepositAccount    uint8 `json:"depositAccount"`
	CollateralAccount uint8 `json:"collateralAccount"`
	LoanAccount       uint8 `json:"loanAccount"`
}

// Handles are the venue references of the vault position. They are passed to
// the venue unchanged.
type Handles struct {
	Market            crypto.Address `json:"market"`
	MarketAuthority   crypto.Address `json:"marketAuthority"`
	Reserve           crypto.Address `json:"reserve"`
	DepositNoteMint   crypto.Address `json:"depositNoteMint"`
	LoanNoteMint      crypto.Address `json:"loanNoteMint"`
	Obligation        crypto.Address `json:"obligation"`
	DepositAccount    crypto.Address `json:"depositAccount"`
	CollateralAccount crypto.Address `json:"collateralAccount"`
	LoanAccount       crypto.Address `json:"loanAccount"`
}

// Vault is the durable vault record.
type Vault struct {
	Address        crypto.Address `json:"address"`
	Name           Name           `json:"-"`
	Admin          crypto.Address `json:"admin"`
	Authority      crypto.Address `json:"authority"`
	UnderlyingMint crypto.Address `json:"underlyingMint"`
	ClaimMint      crypto.Address `json:"claimMint"`
	PoolAccount    crypto.Address `json:"poolAccount"`
	Bumps          Bumps          `json:"bumps"`
	Schedule       epoch.Schedule `json:"schedule"`
	Handles        Handles        `json:"handles"`
	Epoch          uint64         `json:"epoch"`
	CreatedAt      int64          `json:"createdAt"`
}

// Clone returns a copy safe to mutate.
func (v *Vault) Clone() *Vault {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

// AuthoritySigner is the derived signer that authorises every venue and
// custody call made on behalf of the vault.
func (v *Vault) AuthoritySigner() crypto.Authority {
	return crypto.NewAuthority(ProgramAddress, seedAuthority, v.Name.Bytes(), v.Bumps.Authority)
}

// Position is the read model of one depositor's stake in a vault.
type Position struct {
	Vault        string         `json:"vault"`
	Owner        crypto.Address `json:"owner"`
	ClaimAccount crypto.Address `json:"claimAccount"`
	Claims       uint64         `json:"claims"`
	ClaimSupply  uint64         `json:"claimSupply"`
	PoolValue    uint64         `json:"poolValue"`
	// Underlying is what the claims would redeem for right now.
	Underlying uint64 `json:"underlying"`
}

// PoolView is the aggregate state of a vault pool.
type PoolView struct {
	Vault       string `json:"vault"`
	ClaimSupply uint64 `json:"claimSupply"`
	PoolValue   uint64 `json:"poolValue"`
	Idle        uint64 `json:"idle"`
	Deployed    uint64 `json:"deployed"`
}

// PhaseView reports where a vault is in its epoch.
type PhaseView struct {
	Vault string      `json:"vault"`
	Epoch uint64      `json:"epoch"`
	Phase epoch.Phase `json:"-"`
	Name  string      `json:"phase"`
	Now   int64       `json:"now"`
	// NextBoundary is zero once the epoch has closed.
	NextBoundary int64 `json:"nextBoundary"`
}
