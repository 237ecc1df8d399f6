package cryptoprim

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/yubihsm/mockhsm/algorithm"
)

func TestRSAFromPrimesMatchesGeneratedKey(t *testing.T) {
	generated, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	if len(generated.Primes) != 2 {
		t.Fatalf("expected exactly two primes, got %d", len(generated.Primes))
	}

	rebuilt, err := RSAFromPrimes(generated.Primes[0].Bytes(), generated.Primes[1].Bytes())
	if err != nil {
		t.Fatalf("RSAFromPrimes: %v", err)
	}

	if rebuilt.PublicKey.N.Cmp(generated.PublicKey.N) != 0 {
		t.Fatalf("modulus mismatch")
	}
	if rebuilt.PublicKey.E != 65537 {
		t.Fatalf("E = %d, want 65537", rebuilt.PublicKey.E)
	}

	digest := sha256.Sum256([]byte("sign this"))
	sig, err := SignPKCS1(rebuilt, algorithm.RSAPKCS1SHA256, digest[:])
	if err != nil {
		t.Fatalf("SignPKCS1: %v", err)
	}
	if err := rsa.VerifyPKCS1v15(&generated.PublicKey, crypto.SHA256, digest[:], sig); err != nil {
		t.Fatalf("signature produced by rebuilt key does not verify against generated key: %v", err)
	}
}

func TestSignPSSRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	digest := sha256.Sum256([]byte("pss message"))
	sig, err := SignPSS(key, algorithm.RSAPSSSHA256, digest[:])
	if err != nil {
		t.Fatalf("SignPSS: %v", err)
	}
	opts := &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthAuto}
	if err := rsa.VerifyPSS(&key.PublicKey, crypto.SHA256, digest[:], sig, opts); err != nil {
		t.Fatalf("VerifyPSS: %v", err)
	}
}

func TestDecryptOAEPRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	h := sha256.New()
	h.Write(nil)
	labelHash := h.Sum(nil)

	ciphertext, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, &key.PublicKey, []byte("secret"), nil)
	if err != nil {
		t.Fatalf("rsa.EncryptOAEP: %v", err)
	}
	plain, err := DecryptOAEP(key, algorithm.RSAOAEPSHA256, labelHash, ciphertext)
	if err != nil {
		t.Fatalf("DecryptOAEP: %v", err)
	}
	if string(plain) != "secret" {
		t.Fatalf("DecryptOAEP = %q, want %q", plain, "secret")
	}
}
