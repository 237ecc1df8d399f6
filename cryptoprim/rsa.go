package cryptoprim

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"hash"
	"math/big"

	"github.com/yubihsm/mockhsm/algorithm"
)

// ErrUnsupportedDigest is returned when an algorithm selects a digest the
// command doesn't support (the same role InvalidCommand plays on the
// device for an unrecognized digest tag).
var ErrUnsupportedDigest = errors.New("cryptoprim: unsupported digest algorithm")

// hashForAlgorithm maps the RSA sign/OAEP algorithm family to its digest,
// closed over the four digests the protocol allows (SHA-1/256/384/512) —
// a plain switch rather than a generic dispatch, matching the rest of the
// emulator's closed-match style for algorithm-keyed behavior.
func hashForAlgorithm(alg algorithm.Algorithm) (crypto.Hash, func() hash.Hash, bool) {
	switch alg {
	case algorithm.RSAPKCS1SHA1, algorithm.RSAPSSSHA1, algorithm.RSAOAEPSHA1, algorithm.ECECDSASHA1:
		return crypto.SHA1, sha1.New, true
	case algorithm.RSAPKCS1SHA256, algorithm.RSAPSSSHA256, algorithm.RSAOAEPSHA256, algorithm.ECECDSASHA256, algorithm.HMACSHA256:
		return crypto.SHA256, sha256.New, true
	case algorithm.RSAPKCS1SHA384, algorithm.RSAPSSSHA384, algorithm.RSAOAEPSHA384, algorithm.ECECDSASHA384, algorithm.HMACSHA384:
		return crypto.SHA384, sha512.New384, true
	case algorithm.RSAPKCS1SHA512, algorithm.RSAPSSSHA512, algorithm.RSAOAEPSHA512, algorithm.ECECDSASHA512, algorithm.HMACSHA512:
		return crypto.SHA512, sha512.New, true
	case algorithm.HMACSHA1:
		return crypto.SHA1, sha1.New, true
	default:
		return 0, nil, false
	}
}

// SignPKCS1 signs a pre-hashed digest with RSA PKCS#1v1.5, picking the
// digest algorithm's OID from alg.
func SignPKCS1(key *rsa.PrivateKey, alg algorithm.Algorithm, digest []byte) ([]byte, error) {
	cryptoHash, _, ok := hashForAlgorithm(alg)
	if !ok {
		return nil, ErrUnsupportedDigest
	}
	return rsa.SignPKCS1v15(rand.Reader, key, cryptoHash, digest)
}

// SignPSS signs a pre-hashed digest with RSA-PSS, using MGF1 over the same
// digest and a salt length equal to the digest size (the YubiHSM2 default).
func SignPSS(key *rsa.PrivateKey, alg algorithm.Algorithm, digest []byte) ([]byte, error) {
	cryptoHash, _, ok := hashForAlgorithm(alg)
	if !ok {
		return nil, ErrUnsupportedDigest
	}
	opts := &rsa.PSSOptions{SaltLength: cryptoHash.Size(), Hash: cryptoHash}
	return rsa.SignPSS(rand.Reader, key, cryptoHash, digest, opts)
}

// DecryptOAEP decrypts ciphertext using RSA-OAEP with a caller-supplied
// label hash rather than a label, matching DecryptOaepCommand's wire
// format (it carries label_hash, never the label itself). MGF1 still uses
// the real digest named by alg — only the label-hash comparison is
// overridden, since collapsing both roles into one hash.Hash (as Go's
// public rsa.DecryptOAEP requires) would make MGF1 degenerate into a mask
// that never matches a real rsa.EncryptOAEP ciphertext.
func DecryptOAEP(key *rsa.PrivateKey, alg algorithm.Algorithm, labelHash, ciphertext []byte) ([]byte, error) {
	_, newHash, ok := hashForAlgorithm(alg)
	if !ok {
		return nil, ErrUnsupportedDigest
	}
	return decryptOAEPWithLabelHash(key.D, key.PublicKey.N, newHash, labelHash, ciphertext)
}

// DecryptPKCS1 decrypts ciphertext using RSA PKCS#1v1.5.
func DecryptPKCS1(key *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	return rsa.DecryptPKCS1v15(rand.Reader, key, ciphertext)
}

// GenerateRSA generates a private key of the bit size alg.RSABits() names.
func GenerateRSA(alg algorithm.Algorithm) (*rsa.PrivateKey, error) {
	bits, ok := alg.RSABits()
	if !ok {
		return nil, errors.New("cryptoprim: not an RSA algorithm")
	}
	return rsa.GenerateKey(rand.Reader, bits)
}

// RSAFromPrimes reconstructs a private key from its two primes, the form
// PutAsymmetricKeyCommand carries for RSA (keyPart1||keyPart2 = p||q)
// rather than a full PKCS#1 structure. The public exponent is fixed at
// 65537, the only one the protocol's key-generation ever produces.
func RSAFromPrimes(p, q []byte) (*rsa.PrivateKey, error) {
	pInt := new(big.Int).SetBytes(p)
	qInt := new(big.Int).SetBytes(q)

	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{
			N: new(big.Int).Mul(pInt, qInt),
			E: 65537,
		},
		Primes: []*big.Int{pInt, qInt},
	}

	one := big.NewInt(1)
	phi := new(big.Int).Mul(new(big.Int).Sub(pInt, one), new(big.Int).Sub(qInt, one))
	d := new(big.Int).ModInverse(big.NewInt(int64(key.PublicKey.E)), phi)
	if d == nil {
		return nil, errors.New("cryptoprim: RSA primes are not coprime with the public exponent")
	}
	key.D = d

	key.Precompute()
	return key, nil
}
