package cryptoprim

import (
	"crypto/ed25519"
	"crypto/rand"
)

// GenerateEd25519 generates a new Ed25519 key pair.
func GenerateEd25519() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, err
}

// SignEddsa signs message (not a digest: Ed25519 hashes internally and the
// protocol's SignEddsaCommand carries the raw message to sign).
func SignEddsa(key ed25519.PrivateKey, message []byte) []byte {
	return ed25519.Sign(key, message)
}

// VerifyEddsa verifies an Ed25519 signature over message.
func VerifyEddsa(pub ed25519.PublicKey, message, sig []byte) bool {
	return ed25519.Verify(pub, message, sig)
}
