package cryptoprim

import (
	"crypto/ed25519"
	"testing"
)

func TestSignEddsaRoundTrip(t *testing.T) {
	key, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	message := []byte("attest this")
	sig := SignEddsa(key, message)

	pub := key.Public().(ed25519.PublicKey)
	if !VerifyEddsa(pub, message, sig) {
		t.Fatal("VerifyEddsa rejected a freshly produced signature")
	}
}

func TestVerifyEddsaRejectsTamperedMessage(t *testing.T) {
	key, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	sig := SignEddsa(key, []byte("original"))
	pub := key.Public().(ed25519.PublicKey)
	if VerifyEddsa(pub, []byte("tampered"), sig) {
		t.Fatal("VerifyEddsa accepted a signature over a different message")
	}
}
