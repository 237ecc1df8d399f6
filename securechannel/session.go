package securechannel

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"

	"github.com/enceve/crypto/cmac"

	"github.com/yubihsm/mockhsm/authkey"
)

// SecurityLevel is the authentication state of a Session.
type SecurityLevel byte

const (
	SecurityLevelUnauthenticated SecurityLevel = 0
	SecurityLevelAuthenticated   SecurityLevel = 1

	// MaxMessagesPerSession bounds the command counter the same way the
	// teacher's client bounds it, so a session that overruns it is closed
	// the same way a real device would refuse to keep using stale keys.
	MaxMessagesPerSession = 10000
)

// messageType selects which of the two MAC keys (S-MAC, S-RMAC) a
// calculateMAC call uses.
type messageType byte

const (
	messageTypeCommand  messageType = 0
	messageTypeResponse messageType = 1
)

// Session is the device side of an SCP03 secure channel: unlike the
// teacher's SecureChannel (which drives the handshake as a client), Session
// responds to CreateSession/AuthenticateSession and then decrypts/verifies
// every SessionMessage it receives.
//
// Grounded on the teacher's SecureChannel (securechannel/channel.go), with
// the KDF and MAC-chaining math kept unchanged and the handshake direction
// mirrored for the responder role.
type Session struct {
	mu sync.Mutex

	ID            uint8
	AuthKeyID     uint16
	SecurityLevel SecurityLevel
	Counter       uint32

	HostChallenge []byte
	CardChallenge []byte

	keyChain      *keyChain
	macChainValue []byte
}

// newSession starts an unauthenticated session bound to authKeyID, deriving
// a fresh card challenge and keychain from the object's AuthKey.
func newSession(id uint8, authKeyID uint16, key authkey.AuthKey, hostChallenge []byte) (*Session, []byte, error) {
	if len(hostChallenge) != ChallengeLength {
		return nil, nil, errors.New("securechannel: host challenge must be 8 bytes")
	}

	cardChallenge := make([]byte, ChallengeLength)
	if _, err := rand.Read(cardChallenge); err != nil {
		return nil, nil, err
	}

	chain, err := deriveKeyChain(key.GetEncKey(), key.GetMacKey(), hostChallenge, cardChallenge)
	if err != nil {
		return nil, nil, err
	}

	cryptogram, err := cardCryptogram(chain.MACKey, hostChallenge, cardChallenge)
	if err != nil {
		return nil, nil, err
	}

	s := &Session{
		ID:            id,
		AuthKeyID:     authKeyID,
		SecurityLevel: SecurityLevelUnauthenticated,
		HostChallenge: hostChallenge,
		CardChallenge: cardChallenge,
		keyChain:      chain,
		macChainValue: make([]byte, 16),
	}
	return s, cryptogram, nil
}

// Authenticate verifies the host's half of the mutual-authentication
// cryptogram and, if it checks out, activates the session and sets the
// command counter to 1 as the protocol specifies.
func (s *Session) Authenticate(hostCryptogramGiven []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SecurityLevel != SecurityLevelUnauthenticated {
		return errors.New("securechannel: session is already authenticated")
	}

	want, err := hostCryptogram(s.keyChain.MACKey, s.HostChallenge, s.CardChallenge)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(want, hostCryptogramGiven) != 1 {
		return errors.New("securechannel: host cryptogram mismatch")
	}

	s.Counter = 1
	s.SecurityLevel = SecurityLevelAuthenticated
	return nil
}

// VerifyCommandMAC checks the MAC on an incoming command frame and, if it
// matches, updates the MAC chain value. macInput is the command code, payload
// length (session ID byte + body + the trailing 8-byte MAC), session ID, and body,
// concatenated exactly the way the teacher's calculateMAC assembles it.
func (s *Session) VerifyCommandMAC(code byte, body, mac []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SecurityLevel != SecurityLevelAuthenticated {
		return errors.New("securechannel: session is not authenticated")
	}

	sum, err := s.calculateMAC(code, body, messageTypeCommand)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(sum[:MACLength], mac) != 1 {
		return errors.New("securechannel: invalid command MAC")
	}
	s.macChainValue = sum
	return nil
}

// ResponseMAC computes the MAC for an outgoing response and updates the
// MAC chain value, mirroring VerifyCommandMAC for the opposite direction.
func (s *Session) ResponseMAC(code byte, body []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum, err := s.calculateMAC(code, body, messageTypeResponse)
	if err != nil {
		return nil, err
	}
	s.macChainValue = sum
	return sum[:MACLength], nil
}

// calculateMAC is the CMAC-chained MAC shared by commands and responses;
// must hold s.mu.
func (s *Session) calculateMAC(code byte, body []byte, mt messageType) ([]byte, error) {
	var key []byte
	switch mt {
	case messageTypeCommand:
		key = s.keyChain.MACKey
	case messageTypeResponse:
		key = s.keyChain.RMACKey
	default:
		return nil, errors.New("securechannel: invalid message type")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	mac, err := cmac.New(block)
	if err != nil {
		return nil, err
	}

	buf := new(bytes.Buffer)
	buf.Write(s.macChainValue)
	buf.WriteByte(code)
	binary.Write(buf, binary.BigEndian, uint16(1+len(body)+MACLength))
	buf.WriteByte(s.ID)
	buf.Write(body)

	mac.Write(buf.Bytes())
	return mac.Sum(nil), nil
}

// icv derives the CBC IV for the current counter value the same way the
// teacher's SendEncryptedCommand does: AES-ECB-encrypt a 16-byte buffer
// holding the big-endian counter right-aligned in the last 4 bytes.
func (s *Session) icv(block cipher.Block) []byte {
	buf := new(bytes.Buffer)
	buf.Write(make([]byte, 12))
	binary.Write(buf, binary.BigEndian, s.Counter)
	iv := make([]byte, KeyLength)
	block.Encrypt(iv, buf.Bytes())
	return iv
}

// DecryptCommandData decrypts and unpads an incoming SessionMessage body.
func (s *Session) DecryptCommandData(encrypted []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, err := aes.NewCipher(s.keyChain.EncKey)
	if err != nil {
		return nil, err
	}
	if len(encrypted)%aes.BlockSize != 0 {
		return nil, errors.New("securechannel: ciphertext not block-aligned")
	}
	iv := s.icv(block)
	decrypter := cipher.NewCBCDecrypter(block, iv)
	plain := make([]byte, len(encrypted))
	decrypter.CryptBlocks(plain, encrypted)
	return unpad(plain), nil
}

// EncryptResponseData pads and encrypts an outgoing response body, then
// advances the command counter, matching the point in the teacher's
// handshake where the counter increments once per completed exchange.
func (s *Session) EncryptResponseData(plain []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, err := aes.NewCipher(s.keyChain.EncKey)
	if err != nil {
		return nil, err
	}
	iv := s.icv(block)
	encrypter := cipher.NewCBCEncrypter(block, iv)
	padded := pad(plain)
	encrypted := make([]byte, len(padded))
	encrypter.CryptBlocks(encrypted, padded)

	s.Counter++
	return encrypted, nil
}

// Exhausted reports whether the session has processed its maximum number
// of messages and should be closed.
func (s *Session) Exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Counter >= MaxMessagesPerSession
}

// Zero destroys the session's key material in place; called whenever the
// session is closed or terminated by a fatal transport error.
func (s *Session) Zero() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyChain.zero()
	for i := range s.macChainValue {
		s.macChainValue[i] = 0
	}
	s.SecurityLevel = SecurityLevelUnauthenticated
	slog.Default().Debug("securechannel: session closed", "session_id", s.ID)
}
