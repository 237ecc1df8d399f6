package securechannel

import (
	"bytes"
	"crypto/aes"
	"encoding/binary"
	"errors"

	"github.com/enceve/crypto/cmac"
)

// KeyDerivationConstant selects which SCP03 key/cryptogram deriveKDF produces.
type KeyDerivationConstant byte

const (
	MACLength        = 8
	ChallengeLength  = 8
	CryptogramLength = 8
	KeyLength        = 16

	derivationEncKey  KeyDerivationConstant = 0x04
	derivationMACKey  KeyDerivationConstant = 0x06
	derivationRMACKey KeyDerivationConstant = 0x07

	derivationCardCryptogram KeyDerivationConstant = 0x00
	derivationHostCryptogram KeyDerivationConstant = 0x01
)

// deriveKDF implements the SCP03 KDF in counter mode with a single block:
// CMAC(key, 11 zero bytes || constant || 0x00 || keyLen_bits:u16 BE || 0x01 || hostChallenge || cardChallenge).
//
// Grounded on the teacher's SecureChannel.deriveKDF (securechannel/channel.go);
// unchanged math, lifted out to a free function so both the handshake (which
// also needs the card/host cryptograms) and the keychain derivation can share it.
func deriveKDF(key []byte, hostChallenge, cardChallenge []byte, constant KeyDerivationConstant, keyLen uint8) ([]byte, error) {
	if len(key) != KeyLength {
		return nil, errors.New("securechannel: invalid key length; should be 16")
	}
	if len(hostChallenge) != ChallengeLength {
		return nil, errors.New("securechannel: invalid host challenge length; should be 8")
	}
	if len(cardChallenge) != ChallengeLength {
		return nil, errors.New("securechannel: invalid card challenge length; should be 8")
	}

	data := new(bytes.Buffer)
	data.Write([]byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, byte(constant)})
	data.WriteByte(0x00)
	binary.Write(data, binary.BigEndian, uint16(keyLen)*8)
	data.WriteByte(0x01)
	data.Write(hostChallenge)
	data.Write(cardChallenge)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	mac, err := cmac.New(block)
	if err != nil {
		return nil, err
	}
	mac.Write(data.Bytes())

	sum := mac.Sum(nil)
	return sum[:keyLen], nil
}

// keyChain holds the three session keys derived during the handshake.
type keyChain struct {
	EncKey  []byte
	MACKey  []byte
	RMACKey []byte
}

// zero overwrites every derived key; called when a session closes.
func (k *keyChain) zero() {
	if k == nil {
		return
	}
	for _, b := range [][]byte{k.EncKey, k.MACKey, k.RMACKey} {
		for i := range b {
			b[i] = 0
		}
	}
}

func deriveKeyChain(authEncKey, authMacKey, hostChallenge, cardChallenge []byte) (*keyChain, error) {
	encKey, err := deriveKDF(authEncKey, hostChallenge, cardChallenge, derivationEncKey, KeyLength)
	if err != nil {
		return nil, err
	}
	macKey, err := deriveKDF(authMacKey, hostChallenge, cardChallenge, derivationMACKey, KeyLength)
	if err != nil {
		return nil, err
	}
	rmacKey, err := deriveKDF(authMacKey, hostChallenge, cardChallenge, derivationRMACKey, KeyLength)
	if err != nil {
		return nil, err
	}
	return &keyChain{EncKey: encKey, MACKey: macKey, RMACKey: rmacKey}, nil
}

// cardCryptogram is the device's half of the mutual-authentication check.
func cardCryptogram(macKey, hostChallenge, cardChallenge []byte) ([]byte, error) {
	return deriveKDF(macKey, hostChallenge, cardChallenge, derivationCardCryptogram, CryptogramLength)
}

// hostCryptogram is the value the host must present back to the device.
func hostCryptogram(macKey, hostChallenge, cardChallenge []byte) ([]byte, error) {
	return deriveKDF(macKey, hostChallenge, cardChallenge, derivationHostCryptogram, CryptogramLength)
}
