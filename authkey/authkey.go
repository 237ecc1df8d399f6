// Package authkey derives and splits the two 16-byte halves (encryption,
// MAC) that make up a YubiHSM2 AuthenticationKey object, used both by the
// object store (the default auth key at ID 1) and by the securechannel
// package when deriving a session's keychain.
package authkey

import (
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

// AuthKey is the 32-byte (enc || mac) authentication secret for an object
// of type AuthenticationKey.
type AuthKey []byte

const (
	Length            = 32
	authKeyIterations = 10000
	yubicoSeed        = "Yubico"
)

// NewFromPassword derives an AuthKey from a password using PBKDF2-SHA256
// with the fixed salt and iteration count the YubiHSM2 documentation
// specifies for deriving a device's default authentication key.
func NewFromPassword(password string) AuthKey {
	return pbkdf2.Key([]byte(password), []byte(yubicoSeed), authKeyIterations, Length, sha256.New)
}

// NewFromBytes wraps 32 raw bytes (as carried by PutAuthenticationKey) as
// an AuthKey, rejecting anything but the exact enc||mac width.
func NewFromBytes(b []byte) (AuthKey, error) {
	if len(b) != Length {
		return nil, errors.New("authkey: expected 32 bytes (16 enc + 16 mac)")
	}
	out := make(AuthKey, Length)
	copy(out, b)
	return out, nil
}

// GetEncKey returns the encryption-key half of the AuthKey.
func (k AuthKey) GetEncKey() []byte {
	return k[:Length/2]
}

// GetMacKey returns the MAC-key half of the AuthKey.
func (k AuthKey) GetMacKey() []byte {
	return k[Length/2:]
}

// Zero overwrites the key material in place.
func (k AuthKey) Zero() {
	for i := range k {
		k[i] = 0
	}
}
