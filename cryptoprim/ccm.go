// Package cryptoprim implements the cryptographic operations the emulator
// needs per object algorithm: RSA (PKCS#1v1.5, PSS, OAEP), ECDSA across the
// YubiHSM2 curve set, Ed25519, HMAC, and the AES-CCM construction used to
// wrap and unwrap key material.
package cryptoprim

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// CCM nonce/tag widths, fixed by the YubiHSM2 wrap-key format (13-byte
// nonce, 16-byte tag) rather than negotiable per NIST 800-38C.
const (
	CCMNonceSize = 13
	CCMTagSize   = 16

	aesBlockSize = 16
)

var (
	ErrCCMInvalidKeySize     = errors.New("cryptoprim: invalid AES-CCM key size, must be 16, 24, or 32 bytes")
	ErrCCMInvalidNonceSize   = errors.New("cryptoprim: invalid AES-CCM nonce size")
	ErrCCMPlaintextTooLong   = errors.New("cryptoprim: plaintext too long for AES-CCM length field")
	ErrCCMCiphertextTooShort = errors.New("cryptoprim: ciphertext too short for AES-CCM tag")
	ErrCCMAuthFailed         = errors.New("cryptoprim: AES-CCM authentication failed")
)

// CCM is an AES-CCM cipher instance configured for the wrap-key format: a
// 13-byte nonce and a 16-byte tag, but any AES key size (128/192/256).
//
// Generalized from a Matter-protocol AES-128-CCM implementation found
// alongside the rest of this package's reference material: the original
// only accepted 16-byte keys because Matter mandates AES-128; CCM itself is
// key-size agnostic, so this version accepts whatever width aes.NewCipher
// does (16, 24, or 32 bytes) to cover the emulator's AES128/192/256CCMWrap
// algorithms.
type CCM struct {
	block   cipher.Block
	tagSize int
	lenSize int
}

// NewCCM builds a CCM instance bound to key, which must be a valid AES key
// (16, 24, or 32 bytes).
func NewCCM(key []byte) (*CCM, error) {
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, ErrCCMInvalidKeySize
	}

	lenSize := 15 - CCMNonceSize
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &CCM{block: block, tagSize: CCMTagSize, lenSize: lenSize}, nil
}

// Seal encrypts and authenticates plaintext with associated data, returning
// ciphertext||tag.
func (c *CCM) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != CCMNonceSize {
		return nil, ErrCCMInvalidNonceSize
	}

	maxPlaintextLen := (1 << (8 * c.lenSize)) - 1
	if len(plaintext) > maxPlaintextLen {
		return nil, ErrCCMPlaintextTooLong
	}

	tag := c.computeTag(nonce, plaintext, aad)

	ciphertext := make([]byte, len(plaintext)+c.tagSize)
	s0 := c.generateS0(nonce)
	for i := 0; i < c.tagSize; i++ {
		ciphertext[len(plaintext)+i] = tag[i] ^ s0[i]
	}

	c.ctrCrypt(nonce, ciphertext[:len(plaintext)], plaintext)
	return ciphertext, nil
}

// Open decrypts and verifies ciphertext||tag, returning the plaintext.
func (c *CCM) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != CCMNonceSize {
		return nil, ErrCCMInvalidNonceSize
	}
	if len(ciphertext) < c.tagSize {
		return nil, ErrCCMCiphertextTooShort
	}

	encryptedData := ciphertext[:len(ciphertext)-c.tagSize]
	encryptedTag := ciphertext[len(ciphertext)-c.tagSize:]

	s0 := c.generateS0(nonce)
	receivedTag := make([]byte, c.tagSize)
	for i := 0; i < c.tagSize; i++ {
		receivedTag[i] = encryptedTag[i] ^ s0[i]
	}

	plaintext := make([]byte, len(encryptedData))
	c.ctrCrypt(nonce, plaintext, encryptedData)

	expectedTag := c.computeTag(nonce, plaintext, aad)
	if subtle.ConstantTimeCompare(receivedTag, expectedTag[:c.tagSize]) != 1 {
		return nil, ErrCCMAuthFailed
	}
	return plaintext, nil
}

// computeTag is the CBC-MAC over B_0, AAD, and plaintext blocks (NIST
// 800-38C section 6.1 / RFC 3610 section 2.2).
func (c *CCM) computeTag(nonce, plaintext, aad []byte) []byte {
	var b0 [aesBlockSize]byte
	flags := byte(0)
	if len(aad) > 0 {
		flags |= 1 << 6
	}
	flags |= byte((c.tagSize-2)/2) << 3
	flags |= byte(c.lenSize - 1)

	b0[0] = flags
	copy(b0[1:1+CCMNonceSize], nonce)
	c.putLength(b0[1+CCMNonceSize:], len(plaintext))

	mac := make([]byte, aesBlockSize)
	c.block.Encrypt(mac, b0[:])

	if len(aad) > 0 {
		var aadBlock [aesBlockSize]byte
		aadLen := len(aad)
		var headerLen int

		switch {
		case aadLen < (1<<16)-(1<<8):
			binary.BigEndian.PutUint16(aadBlock[0:2], uint16(aadLen))
			headerLen = 2
		case aadLen < (1 << 32):
			aadBlock[0], aadBlock[1] = 0xFF, 0xFE
			binary.BigEndian.PutUint32(aadBlock[2:6], uint32(aadLen))
			headerLen = 6
		default:
			aadBlock[0], aadBlock[1] = 0xFF, 0xFF
			binary.BigEndian.PutUint64(aadBlock[2:10], uint64(aadLen))
			headerLen = 10
		}

		firstBlockAAD := aesBlockSize - headerLen
		if firstBlockAAD > len(aad) {
			firstBlockAAD = len(aad)
		}
		copy(aadBlock[headerLen:], aad[:firstBlockAAD])

		xorBlock(mac, aadBlock[:])
		c.block.Encrypt(mac, mac)

		remaining := aad[firstBlockAAD:]
		for len(remaining) > 0 {
			var block [aesBlockSize]byte
			n := copy(block[:], remaining)
			remaining = remaining[n:]
			xorBlock(mac, block[:])
			c.block.Encrypt(mac, mac)
		}
	}

	remaining := plaintext
	for len(remaining) > 0 {
		var block [aesBlockSize]byte
		n := copy(block[:], remaining)
		remaining = remaining[n:]
		xorBlock(mac, block[:])
		c.block.Encrypt(mac, mac)
	}

	return mac[:c.tagSize]
}

func xorBlock(dst, src []byte) {
	for i := 0; i < aesBlockSize; i++ {
		dst[i] ^= src[i]
	}
}

// generateS0 produces S_0 = E(K, A_0), the keystream block that masks the tag.
func (c *CCM) generateS0(nonce []byte) []byte {
	var a0 [aesBlockSize]byte
	a0[0] = byte(c.lenSize - 1)
	copy(a0[1:1+CCMNonceSize], nonce)

	s0 := make([]byte, aesBlockSize)
	c.block.Encrypt(s0, a0[:])
	return s0
}

// ctrCrypt runs CTR mode starting at counter 1, matching the A_1 layout of
// NIST 800-38C Appendix A.3.
func (c *CCM) ctrCrypt(nonce []byte, dst, src []byte) {
	var ctr [aesBlockSize]byte
	ctr[0] = byte(c.lenSize - 1)
	copy(ctr[1:1+CCMNonceSize], nonce)
	ctr[aesBlockSize-1] = 1

	var keystream [aesBlockSize]byte
	for i := 0; i < len(src); i += aesBlockSize {
		c.block.Encrypt(keystream[:], ctr[:])
		end := i + aesBlockSize
		if end > len(src) {
			end = len(src)
		}
		for j := i; j < end; j++ {
			dst[j] = src[j] ^ keystream[j-i]
		}
		incrementCounter(ctr[aesBlockSize-c.lenSize:])
	}
}

func (c *CCM) putLength(dst []byte, length int) {
	for i := c.lenSize - 1; i >= 0; i-- {
		dst[i] = byte(length)
		length >>= 8
	}
}

func incrementCounter(ctr []byte) {
	for i := len(ctr) - 1; i >= 0; i-- {
		ctr[i]++
		if ctr[i] != 0 {
			break
		}
	}
}
