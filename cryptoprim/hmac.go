package cryptoprim

import (
	"crypto/hmac"
	"crypto/rand"

	"github.com/yubihsm/mockhsm/algorithm"
)

// GenerateHMACKey returns random key bytes sized for alg; generated (as
// opposed to imported) HMAC keys are as long as the digest's output size
// (20, 32, 48 or 64 bytes).
func GenerateHMACKey(alg algorithm.Algorithm) ([]byte, error) {
	_, newHash, ok := hashForAlgorithm(alg)
	if !ok {
		return nil, ErrUnsupportedDigest
	}
	key := make([]byte, newHash().Size())
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// SignHMAC computes an HMAC over message using alg's digest.
func SignHMAC(key []byte, alg algorithm.Algorithm, message []byte) ([]byte, error) {
	_, newHash, ok := hashForAlgorithm(alg)
	if !ok {
		return nil, ErrUnsupportedDigest
	}
	mac := hmac.New(newHash, key)
	mac.Write(message)
	return mac.Sum(nil), nil
}

// VerifyHMAC recomputes the HMAC and compares it in constant time.
func VerifyHMAC(key []byte, alg algorithm.Algorithm, message, mac []byte) (bool, error) {
	expected, err := SignHMAC(key, alg, message)
	if err != nil {
		return false, err
	}
	return hmac.Equal(expected, mac), nil
}
