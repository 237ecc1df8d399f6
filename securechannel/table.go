package securechannel

import (
	"errors"
	"sync"

	"github.com/yubihsm/mockhsm/authkey"
)

// maxSessions mirrors the real device's small fixed session table; the
// emulator has no resource-exhaustion story beyond this count.
const maxSessions = 16

// Table owns every live Session, keyed by its 8-bit ID. The emulator holds
// exactly one Table behind its own single exclusive lock (see the top-level
// Emulator type), so Table itself does not need to be safe for concurrent
// access from multiple goroutines beyond what Session.mu already protects.
type Table struct {
	mu       sync.Mutex
	sessions map[uint8]*Session
}

// NewTable returns an empty session table.
func NewTable() *Table {
	return &Table{sessions: make(map[uint8]*Session)}
}

// Create allocates the first free session ID and starts its handshake,
// returning the card challenge and card cryptogram to send back as the
// CreateSession response.
func (t *Table) Create(authKeyID uint16, key authkey.AuthKey, hostChallenge []byte) (*Session, []byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sessions) >= maxSessions {
		return nil, nil, errors.New("securechannel: session table full")
	}

	var id uint8
	found := false
	for i := 0; i < maxSessions; i++ {
		if _, taken := t.sessions[uint8(i)]; !taken {
			id = uint8(i)
			found = true
			break
		}
	}
	if !found {
		return nil, nil, errors.New("securechannel: no free session id")
	}

	session, cryptogram, err := newSession(id, authKeyID, key, hostChallenge)
	if err != nil {
		return nil, nil, err
	}
	t.sessions[id] = session
	return session, cryptogram, nil
}

// Get looks up a session by ID.
func (t *Table) Get(id uint8) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Close zeroes and removes a session.
func (t *Table) Close(id uint8) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[id]; ok {
		s.Zero()
		delete(t.sessions, id)
	}
}

// Reset zeroes and removes every session; called by ResetDevice.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, s := range t.sessions {
		s.Zero()
		delete(t.sessions, id)
	}
}
