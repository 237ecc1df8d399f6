package securechannel

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/yubihsm/mockhsm/authkey"
)

func newTestKey(t *testing.T) authkey.AuthKey {
	t.Helper()
	return authkey.NewFromPassword("password")
}

func randomChallenge(t *testing.T) []byte {
	t.Helper()
	c := make([]byte, ChallengeLength)
	if _, err := rand.Read(c); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}
	return c
}

// hostSide reconstructs the handshake math an independent client would
// perform, using the same exported key and the package's own KDF (since
// this test lives inside the package, it can call the unexported pieces
// directly rather than re-deriving them).
func hostSide(t *testing.T, key authkey.AuthKey, hostChallenge, cardChallenge []byte) (*keyChain, []byte) {
	t.Helper()
	chain, err := deriveKeyChain(key.GetEncKey(), key.GetMacKey(), hostChallenge, cardChallenge)
	if err != nil {
		t.Fatalf("deriveKeyChain: %v", err)
	}
	cryptogram, err := hostCryptogram(chain.MACKey, hostChallenge, cardChallenge)
	if err != nil {
		t.Fatalf("hostCryptogram: %v", err)
	}
	return chain, cryptogram
}

func TestHandshakeAuthenticatesAndActivatesSession(t *testing.T) {
	table := NewTable()
	key := newTestKey(t)
	hostChallenge := randomChallenge(t)

	session, cardCryptogramGot, err := table.Create(1, key, hostChallenge)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, hostCryptogramGot := hostSide(t, key, hostChallenge, session.CardChallenge)

	wantCardCryptogram, err := cardCryptogram(session.keyChain.MACKey, hostChallenge, session.CardChallenge)
	if err != nil {
		t.Fatalf("cardCryptogram: %v", err)
	}
	if !bytes.Equal(cardCryptogramGot, wantCardCryptogram) {
		t.Fatalf("card cryptogram mismatch")
	}

	if session.SecurityLevel != SecurityLevelUnauthenticated {
		t.Fatalf("session should start unauthenticated")
	}
	if err := session.Authenticate(hostCryptogramGot); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if session.SecurityLevel != SecurityLevelAuthenticated {
		t.Fatalf("session should be authenticated")
	}
	if session.Counter != 1 {
		t.Fatalf("Counter after Authenticate = %d, want 1", session.Counter)
	}
}

func TestAuthenticateRejectsWrongCryptogram(t *testing.T) {
	table := NewTable()
	key := newTestKey(t)
	hostChallenge := randomChallenge(t)

	session, _, err := table.Create(1, key, hostChallenge)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	wrong := make([]byte, CryptogramLength)
	if err := session.Authenticate(wrong); err == nil {
		t.Fatal("Authenticate accepted a wrong cryptogram")
	}
	if session.SecurityLevel != SecurityLevelUnauthenticated {
		t.Fatal("session should remain unauthenticated after a failed Authenticate")
	}
}

func authenticatedSession(t *testing.T) (*Session, *keyChain) {
	t.Helper()
	table := NewTable()
	key := newTestKey(t)
	hostChallenge := randomChallenge(t)

	session, _, err := table.Create(1, key, hostChallenge)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	chain, hostCryptogramGot := hostSide(t, key, hostChallenge, session.CardChallenge)
	if err := session.Authenticate(hostCryptogramGot); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	return session, chain
}

func TestCommandMACVerifyAndChain(t *testing.T) {
	session, chain := authenticatedSession(t)

	body := []byte("ciphertext-stand-in")
	sum, err := macOverChain(make([]byte, 16), chain.MACKey, session.ID, 0x05, body)
	if err != nil {
		t.Fatalf("macOverChain: %v", err)
	}

	if err := session.VerifyCommandMAC(0x05, body, sum[:MACLength]); err != nil {
		t.Fatalf("VerifyCommandMAC: %v", err)
	}

	// A second command using the now-updated chain value must also verify.
	body2 := []byte("second ciphertext")
	sum2, err := macOverChain(sum, chain.MACKey, session.ID, 0x05, body2)
	if err != nil {
		t.Fatalf("macOverChain: %v", err)
	}
	if err := session.VerifyCommandMAC(0x05, body2, sum2[:MACLength]); err != nil {
		t.Fatalf("VerifyCommandMAC (second command): %v", err)
	}
}

func TestVerifyCommandMACRejectsBadMAC(t *testing.T) {
	session, _ := authenticatedSession(t)
	if err := session.VerifyCommandMAC(0x05, []byte("body"), make([]byte, MACLength)); err == nil {
		t.Fatal("VerifyCommandMAC accepted a bad MAC")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	session, _ := authenticatedSession(t)

	plain := []byte("\x01\x00\x05hello")
	counterBefore := session.Counter
	encrypted, err := session.EncryptResponseData(plain)
	if err != nil {
		t.Fatalf("EncryptResponseData: %v", err)
	}
	if session.Counter != counterBefore+1 {
		t.Fatalf("Counter after EncryptResponseData = %d, want %d", session.Counter, counterBefore+1)
	}

	// DecryptCommandData and EncryptResponseData share one ICV per round
	// (derived from the counter value in effect before the increment), so
	// decrypting what was just encrypted requires rewinding the counter
	// the same way the device's next inbound command would have found it.
	session.Counter = counterBefore
	decrypted, err := session.DecryptCommandData(encrypted)
	if err != nil {
		t.Fatalf("DecryptCommandData: %v", err)
	}
	if !bytes.Equal(decrypted, plain) {
		t.Fatalf("round trip mismatch: got %q, want %q", decrypted, plain)
	}
}

func TestExhaustedAtMessageLimit(t *testing.T) {
	session, _ := authenticatedSession(t)
	session.Counter = MaxMessagesPerSession
	if !session.Exhausted() {
		t.Fatal("Exhausted() = false at the message limit")
	}
}

func TestZeroClearsKeyMaterial(t *testing.T) {
	session, _ := authenticatedSession(t)
	session.Zero()
	for _, k := range [][]byte{session.keyChain.EncKey, session.keyChain.MACKey, session.keyChain.RMACKey} {
		for _, b := range k {
			if b != 0 {
				t.Fatal("Zero left non-zero key material")
			}
		}
	}
	if session.SecurityLevel != SecurityLevelUnauthenticated {
		t.Fatal("Zero should reset the security level")
	}
}

func TestTableCloseRemovesSession(t *testing.T) {
	table := NewTable()
	key := newTestKey(t)
	session, _, err := table.Create(1, key, randomChallenge(t))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	table.Close(session.ID)
	if _, ok := table.Get(session.ID); ok {
		t.Fatal("session still present after Close")
	}
}

func TestTableResetRemovesEverySession(t *testing.T) {
	table := NewTable()
	key := newTestKey(t)
	var ids []uint8
	for i := 0; i < 3; i++ {
		session, _, err := table.Create(1, key, randomChallenge(t))
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		ids = append(ids, session.ID)
	}
	table.Reset()
	for _, id := range ids {
		if _, ok := table.Get(id); ok {
			t.Fatalf("session %d still present after Reset", id)
		}
	}
}

// macOverChain mirrors calculateMAC for use from outside (*Session).mu.
func macOverChain(chainValue, key []byte, sessionID uint8, code byte, body []byte) ([]byte, error) {
	s := &Session{ID: sessionID, macChainValue: chainValue, keyChain: &keyChain{MACKey: key}}
	return s.calculateMAC(code, body, messageTypeCommand)
}
