package cryptoprim

import (
	"crypto/subtle"
	"errors"
	"hash"
	"math/big"
)

// ErrDecryption mirrors crypto/rsa's generic OAEP failure: every unpadding
// failure (bad leading byte, missing 0x01 separator, label-hash mismatch)
// collapses to the same error so a caller can't distinguish which check
// failed.
var ErrDecryption = errors.New("cryptoprim: OAEP decryption error")

// mgf1XOR XORs dst with the MGF1 mask generated from seed, the same
// counter-mode construction crypto/rsa's unexported mgf1XOR uses.
func mgf1XOR(dst []byte, h hash.Hash, seed []byte) {
	var counter [4]byte
	var done int
	for done < len(dst) {
		h.Reset()
		h.Write(seed)
		h.Write(counter[:])
		digest := h.Sum(nil)
		n := copy(dst[done:], digest)
		done += n
		incCounter(&counter)
	}
}

func incCounter(c *[4]byte) {
	for i := 3; i >= 0; i-- {
		c[i]++
		if c[i] != 0 {
			return
		}
	}
}

// decryptOAEPWithLabelHash performs RSA-OAEP unpadding using newHash for
// MGF1 (so the mask actually matches what a real rsa.EncryptOAEP(newHash(),
// ...) produced) while comparing the decoded label hash against a
// caller-supplied override rather than hashing a label of our own — the
// DecryptOaep command's wire format carries only the label's hash, never
// the label itself.
//
// Go's public rsa.DecryptOAEP takes a single hash.Hash for both roles, which
// cannot express "real MGF1, overridden label hash" at once; this unpads by
// hand instead, following the same RFC 8017 steps rsa.DecryptOAEP uses.
func decryptOAEPWithLabelHash(key *big.Int, n *big.Int, newHash func() hash.Hash, labelHash, ciphertext []byte) ([]byte, error) {
	h := newHash()
	hLen := h.Size()
	k := (n.BitLen() + 7) / 8

	if len(labelHash) != hLen {
		return nil, errors.New("cryptoprim: label hash length does not match digest size")
	}
	if k < 2*hLen+2 {
		return nil, ErrDecryption
	}
	if len(ciphertext) != k {
		return nil, ErrDecryption
	}

	c := new(big.Int).SetBytes(ciphertext)
	if c.Cmp(n) >= 0 {
		return nil, ErrDecryption
	}
	m := new(big.Int).Exp(c, key, n)

	em := make([]byte, k)
	m.FillBytes(em)

	firstByteIsZero := subtle.ConstantTimeByteEq(em[0], 0)

	seed := em[1 : hLen+1]
	db := em[hLen+1:]

	mgf1XOR(seed, h, db)
	mgf1XOR(db, h, seed)

	lHash2 := db[:hLen]
	lHash2Good := subtle.ConstantTimeCompare(labelHash, lHash2)

	// Find the 0x01 separator following the (possibly all-zero) padding,
	// in constant time, the same scan rsa.DecryptOAEP performs.
	var lookingForIndex, index, invalid int
	lookingForIndex = 1
	rest := db[hLen:]
	for i := 0; i < len(rest); i++ {
		equals0 := subtle.ConstantTimeByteEq(rest[i], 0)
		equals1 := subtle.ConstantTimeByteEq(rest[i], 1)
		index = subtle.ConstantTimeSelect(lookingForIndex&equals1, i, index)
		lookingForIndex = subtle.ConstantTimeSelect(equals1, 0, lookingForIndex)
		invalid = subtle.ConstantTimeSelect(lookingForIndex&^equals0, 1, invalid)
	}

	if firstByteIsZero&lHash2Good&^invalid&^lookingForIndex != 1 {
		return nil, ErrDecryption
	}

	return rest[index+1:], nil
}
