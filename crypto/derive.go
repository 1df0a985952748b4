package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// MaxSeeds bounds the number of seeds mixed into a derived address.
	MaxSeeds = 16
	// MaxSeedLength bounds each individual seed.
	MaxSeedLength = 32
)

var derivedAddressMarker = []byte("DerivedAddress")

var (
	ErrSeedTooLong    = errors.New("crypto: derivation seed exceeds 32 bytes")
	ErrTooManySeeds   = errors.New("crypto: too many derivation seeds")
	ErrOnCurve        = errors.New("crypto: derived address lies on the curve")
	ErrNoViableBump   = errors.New("crypto: unable to find a viable derivation bump")
	ErrAuthorityProof = errors.New("crypto: authority proof does not match")
)

// CreateDerivedAddress hashes the seeds, the bump and the owning program into
// an identity that has no private key. Hashes that decode to a valid
// secp256k1 point are rejected so nobody can ever hold a key for the result.
func CreateDerivedAddress(program Address, seeds [][]byte, bump uint8) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, ErrTooManySeeds
	}
	parts := make([][]byte, 0, len(seeds)+3)
	for _, seed := range seeds {
		if len(seed) > MaxSeedLength {
			return Address{}, ErrSeedTooLong
		}
		parts = append(parts, seed)
	}
	parts = append(parts, []byte{bump}, program.Bytes(), derivedAddressMarker)
	digest := crypto.Keccak256(parts...)
	if onCurve(digest) {
		return Address{}, ErrOnCurve
	}
	return NewAddress(ProgramPrefix, digest[32-AddressLength:]), nil
}

// FindDerivedAddress walks bumps from 255 downwards and returns the first
// viable address together with its canonical bump.
func FindDerivedAddress(program Address, seeds ...[]byte) (Address, uint8, error) {
	for bump := 255; bump >= 0; bump-- {
		addr, err := CreateDerivedAddress(program, seeds, uint8(bump))
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Address{}, 0, err
		}
	}
	return Address{}, 0, ErrNoViableBump
}

// VerifyBump checks that bump is the canonical bump for the seeds and returns
// the derived address.
func VerifyBump(program Address, bump uint8, seeds ...[]byte) (Address, error) {
	addr, canonical, err := FindDerivedAddress(program, seeds...)
	if err != nil {
		return Address{}, err
	}
	if canonical != bump {
		return Address{}, fmt.Errorf("%w: bump %d, canonical %d", ErrAuthorityProof, bump, canonical)
	}
	return addr, nil
}

func onCurve(digest []byte) bool {
	compressed := make([]byte, 0, 33)
	compressed = append(compressed, 0x02)
	compressed = append(compressed, digest...)
	_, err := crypto.DecompressPubkey(compressed)
	return err == nil
}

// Authority describes a derived signer: the program that owns it, a fixed
// discriminator, the name it is bound to and the proof (bump) that makes the
// derivation valid. It is passed explicitly to every call it authorises.
type Authority struct {
	Program       Address
	Discriminator string
	Name          []byte
	Bump          uint8
}

// NewAuthority builds an authority descriptor.
func NewAuthority(program Address, discriminator string, name []byte, bump uint8) Authority {
	return Authority{
		Program:       program,
		Discriminator: discriminator,
		Name:          append([]byte(nil), name...),
		Bump:          bump,
	}
}

// Seeds returns the derivation seeds without the bump.
func (a Authority) Seeds() [][]byte {
	return [][]byte{[]byte(a.Discriminator), a.Name}
}

// Address recomputes the derived identity.
func (a Authority) Address() (Address, error) {
	return CreateDerivedAddress(a.Program, a.Seeds(), a.Bump)
}

// SignerAddress implements Signer. An authority with an invalid proof maps to
// the zero address, which owns nothing.
func (a Authority) SignerAddress() Address {
	addr, err := a.Address()
	if err != nil {
		return Address{}
	}
	return addr
}

// Verify ensures the descriptor derives exactly the expected identity.
func (a Authority) Verify(expected Address) error {
	addr, err := a.Address()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthorityProof, err)
	}
	if !addr.Equal(expected) {
		return ErrAuthorityProof
	}
	return nil
}

// ProgramID names a native program by hashing its label. Program identities
// own derived addresses but never sign with a key.
func ProgramID(label string) Address {
	digest := crypto.Keccak256([]byte(label))
	return NewAddress(ProgramPrefix, digest[32-AddressLength:])
}
