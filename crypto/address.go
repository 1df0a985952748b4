package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// AddressLength is the byte length of every account identity.
const AddressLength = 20

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	// AccountPrefix tags identities controlled by a private key.
	AccountPrefix AddressPrefix = "vlt"
	// ProgramPrefix tags identities derived from seeds (no private key).
	ProgramPrefix AddressPrefix = "vltp"
)

// Address represents a 20-byte account identity with a human-readable prefix.
// The prefix is presentation only; equality is decided on the raw bytes.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != AddressLength {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

func (a Address) String() string {
	if len(a.bytes) == 0 {
		return ""
	}
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// IsZero reports whether the address is unset or all zero bytes.
func (a Address) IsZero() bool {
	for _, b := range a.bytes {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equal compares the raw address bytes, ignoring prefixes.
func (a Address) Equal(other Address) bool {
	return bytes.Equal(a.bytes, other.bytes)
}

// Hex returns the 0x-prefixed hex form, used for log fields and storage keys.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a.bytes)
}

// SignerAddress lets a plain address act as an already verified signer.
// Signature checks happen before a request reaches the engines.
func (a Address) SignerAddress() Address {
	return a
}

// MarshalText encodes the address using bech32.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a bech32 address.
func (a *Address) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*a = Address{}
		return nil
	}
	decoded, err := DecodeAddress(string(text))
	if err != nil {
		return err
	}
	*a = decoded
	return nil
}

type rlpAddress struct {
	Prefix string
	Bytes  []byte
}

// EncodeRLP keeps the prefix alongside the raw bytes in persisted records.
func (a Address) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, rlpAddress{Prefix: string(a.prefix), Bytes: a.bytes})
}

// DecodeRLP restores an address written by EncodeRLP.
func (a *Address) DecodeRLP(s *rlp.Stream) error {
	var stored rlpAddress
	if err := s.Decode(&stored); err != nil {
		return err
	}
	if len(stored.Bytes) == 0 {
		*a = Address{}
		return nil
	}
	if len(stored.Bytes) != AddressLength {
		return fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(stored.Bytes))
	}
	*a = NewAddress(AddressPrefix(stored.Prefix), stored.Bytes)
	return nil
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(addrStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != AddressLength {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressLength, len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// MustDecodeAddress is DecodeAddress for constants and tests.
func MustDecodeAddress(addrStr string) Address {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		panic(err)
	}
	return addr
}

// Signer is anything that can authorise a call. For key holders the platform
// verifies the signature before the call reaches an engine; derived
// authorities prove themselves through their seeds.
type Signer interface {
	SignerAddress() Address
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

func (k *PublicKey) Address() Address {
	addrBytes := crypto.PubkeyToAddress(*k.PublicKey).Bytes()
	return NewAddress(AccountPrefix, addrBytes)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
