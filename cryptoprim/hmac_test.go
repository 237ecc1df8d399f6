package cryptoprim

import (
	"testing"

	"github.com/yubihsm/mockhsm/algorithm"
)

func TestSignVerifyHMACRoundTrip(t *testing.T) {
	algs := []algorithm.Algorithm{
		algorithm.HMACSHA1, algorithm.HMACSHA256, algorithm.HMACSHA384, algorithm.HMACSHA512,
	}
	for _, alg := range algs {
		key, err := GenerateHMACKey(alg)
		if err != nil {
			t.Fatalf("GenerateHMACKey(%v): %v", alg, err)
		}
		message := []byte("message to authenticate")
		mac, err := SignHMAC(key, alg, message)
		if err != nil {
			t.Fatalf("SignHMAC(%v): %v", alg, err)
		}
		ok, err := VerifyHMAC(key, alg, message, mac)
		if err != nil {
			t.Fatalf("VerifyHMAC(%v): %v", alg, err)
		}
		if !ok {
			t.Fatalf("VerifyHMAC(%v) rejected a freshly produced MAC", alg)
		}
	}
}

func TestVerifyHMACRejectsFlippedBit(t *testing.T) {
	key, err := GenerateHMACKey(algorithm.HMACSHA256)
	if err != nil {
		t.Fatalf("GenerateHMACKey: %v", err)
	}
	message := []byte("message to authenticate")
	mac, err := SignHMAC(key, algorithm.HMACSHA256, message)
	if err != nil {
		t.Fatalf("SignHMAC: %v", err)
	}

	flipped := append([]byte{}, mac...)
	flipped[0] ^= 0x01

	ok, err := VerifyHMAC(key, algorithm.HMACSHA256, message, flipped)
	if err != nil {
		t.Fatalf("VerifyHMAC: %v", err)
	}
	if ok {
		t.Fatal("VerifyHMAC accepted a MAC with a flipped bit")
	}
}
