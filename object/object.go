// Package object implements the emulator's in-memory object store: typed
// key/data objects keyed by (ID, Type), with generation, storage, lookup,
// listing, and AES-CCM wrap/unwrap.
package object

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/yubihsm/mockhsm/algorithm"
)

// Info is the metadata every object carries regardless of payload kind.
type Info struct {
	ID                    uint16
	Type                  algorithm.ObjectType
	Algorithm             algorithm.Algorithm
	Label                 [40]byte
	Capabilities          uint64
	DelegatedCapabilities uint64
	Domains               uint16
	Origin                algorithm.Origin
	Sequence              uint8
}

// Object is a stored key or data blob. Payload holds exactly one of the
// concrete payload types below, matching Info.Algorithm's family; which
// field is populated is determined entirely by Info.Type/Algorithm, so
// Payload is a closed sum type rather than an interface value that every
// caller would need to type-switch on anyway.
type Object struct {
	Info    Info
	Payload Payload
}

// Payload is the union of every secret-material shape an Object can hold.
// Exactly one field is non-zero, selected by Info.Algorithm.
type Payload struct {
	RSAKey       *rsa.PrivateKey
	ECKey        *ecdsa.PrivateKey
	K256Key      *secp256k1.PrivateKey
	Ed25519Key   ed25519.PrivateKey
	HMACKey      []byte
	WrapKey      []byte
	AuthEncKey   []byte
	AuthMacKey   []byte
	OpaqueData   []byte
}

// Key identifies an object in the store; (ID, Type) must be unique.
type Key struct {
	ID   uint16
	Type algorithm.ObjectType
}

// Filter narrows a List call; a zero-value field in Filter means "don't
// filter on this dimension". Matches are logical AND across set fields.
type Filter struct {
	ID           *uint16
	Type         *algorithm.ObjectType
	Domain       *uint16
	Capabilities *uint64
	Algorithm    *algorithm.Algorithm
	Label        *[40]byte
}

// Matches reports whether obj satisfies every set field of f.
func (f Filter) Matches(obj *Object) bool {
	if f.ID != nil && obj.Info.ID != *f.ID {
		return false
	}
	if f.Type != nil && obj.Info.Type != *f.Type {
		return false
	}
	if f.Domain != nil && !algorithm.HasDomain(obj.Info.Domains, *f.Domain) {
		return false
	}
	if f.Capabilities != nil && !algorithm.HasCapability(obj.Info.Capabilities, *f.Capabilities) {
		return false
	}
	if f.Algorithm != nil && obj.Info.Algorithm != *f.Algorithm {
		return false
	}
	if f.Label != nil && obj.Info.Label != *f.Label {
		return false
	}
	return true
}
