package object

import (
	"crypto/rand"
	"errors"
	"log/slog"

	"github.com/yubihsm/mockhsm/algorithm"
	"github.com/yubihsm/mockhsm/authkey"
	"github.com/yubihsm/mockhsm/cryptoprim"
)

// DefaultAuthKeyID is the slot the store seeds on construction and recreates
// on Reset, matching the real device's factory-default authentication key.
const DefaultAuthKeyID = 1

// DefaultAuthKeyPassword is the factory-default password. The default key
// itself is derived from the password passed to New, both on construction
// and on Reset.
const DefaultAuthKeyPassword = "password"

var ErrNotFound = errors.New("object: not found")

// Store is the emulator's in-memory object table: a map keyed by (ID,
// Type) plus an insertion-order slice of keys so List results are stable.
// The top-level Emulator holds exactly one Store behind its own exclusive
// lock, so Store does not lock itself.
type Store struct {
	objects      map[Key]*Object
	order        []Key
	authPassword string
}

// New returns a store seeded with a default authentication key at ID 1
// derived from password.
func New(password string) *Store {
	s := &Store{objects: make(map[Key]*Object), authPassword: password}
	s.seedDefaultAuthKey()
	return s
}

func (s *Store) seedDefaultAuthKey() {
	key := authkey.NewFromPassword(s.authPassword)
	label, _ := padLabel("default key")
	obj := &Object{
		Info: Info{
			ID:           DefaultAuthKeyID,
			Type:         algorithm.TypeAuthenticationKey,
			Algorithm:    algorithm.YubicoAESAuth,
			Label:        label,
			Capabilities: algorithm.CapabilityAll,
			Domains:      algorithm.DomainAll,
			Origin:       algorithm.OriginImported,
		},
		Payload: Payload{AuthEncKey: key.GetEncKey(), AuthMacKey: key.GetMacKey()},
	}
	s.insert(obj)
}

func padLabel(s string) ([40]byte, error) {
	var out [40]byte
	if len(s) > 40 {
		return out, errors.New("object: label exceeds 40 bytes")
	}
	copy(out[:], s)
	return out, nil
}

func (s *Store) insert(obj *Object) {
	k := Key{ID: obj.Info.ID, Type: obj.Info.Type}
	if _, exists := s.objects[k]; !exists {
		s.order = append(s.order, k)
	}
	s.objects[k] = obj
}

// Put stores obj, overwriting whatever previously occupied its (ID, Type).
func (s *Store) Put(obj *Object) error {
	s.insert(obj)
	return nil
}

// Get looks up an object by (ID, Type).
func (s *Store) Get(id uint16, typ algorithm.ObjectType) (*Object, error) {
	obj, ok := s.objects[Key{ID: id, Type: typ}]
	if !ok {
		slog.Default().Debug("object: not found", "id", id, "type", typ)
		return nil, ErrNotFound
	}
	return obj, nil
}

// Remove deletes an object by (ID, Type).
func (s *Store) Remove(id uint16, typ algorithm.ObjectType) error {
	k := Key{ID: id, Type: typ}
	if _, ok := s.objects[k]; !ok {
		return ErrNotFound
	}
	delete(s.objects, k)
	for i, key := range s.order {
		if key == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// List returns every object's Info matching f, in insertion order.
func (s *Store) List(f Filter) []Info {
	var out []Info
	for _, k := range s.order {
		obj := s.objects[k]
		if f.Matches(obj) {
			out = append(out, obj.Info)
		}
	}
	return out
}

// NextFreeID returns the lowest ID >= 1 with no object of typ stored under
// it, used by the Generate*/Put* handlers when the caller passes ID 0
// (meaning "let the device choose").
func (s *Store) NextFreeID(typ algorithm.ObjectType) uint16 {
	for id := uint16(1); id < 0xFFFF; id++ {
		if _, ok := s.objects[Key{ID: id, Type: typ}]; !ok {
			return id
		}
	}
	return 0
}

// Reset clears every object and reseeds the default authentication key,
// matching ResetDevice's semantics.
func (s *Store) Reset() {
	s.objects = make(map[Key]*Object)
	s.order = nil
	s.seedDefaultAuthKey()
}

// Wrap encrypts target under wrapKey (an object of type WrapKey) using
// AES-CCM, with a fresh random nonce, returning nonce||ciphertext||tag.
// The wrapped blob is self-describing: it carries target's full Info
// header ahead of its payload bytes, which is what ImportWrapped restores.
func (s *Store) Wrap(wrapKey *Object, target *Object) ([]byte, error) {
	keyBytes := wrapKey.Payload.WrapKey
	ccm, err := cryptoprim.NewCCM(keyBytes)
	if err != nil {
		return nil, err
	}

	payloadBytes, err := marshalPayload(target)
	if err != nil {
		return nil, err
	}
	plaintext := append(marshalInfo(target.Info), payloadBytes...)

	nonce := make([]byte, cryptoprim.CCMNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext, err := ccm.Seal(nonce, plaintext, nil)
	if err != nil {
		return nil, err
	}
	return append(nonce, ciphertext...), nil
}

// Unwrap decrypts a blob produced by Wrap and reconstructs the Object it
// describes, without inserting it into the store.
func (s *Store) Unwrap(wrapKey *Object, blob []byte) (*Object, error) {
	keyBytes := wrapKey.Payload.WrapKey
	ccm, err := cryptoprim.NewCCM(keyBytes)
	if err != nil {
		return nil, err
	}
	if len(blob) < cryptoprim.CCMNonceSize {
		return nil, errors.New("object: wrapped blob too short")
	}
	nonce, ciphertext := blob[:cryptoprim.CCMNonceSize], blob[cryptoprim.CCMNonceSize:]

	plaintext, err := ccm.Open(nonce, ciphertext, nil)
	if err != nil {
		slog.Default().Debug("object: unwrap failed", "error", err)
		return nil, err
	}

	info, payloadBytes, err := unmarshalInfo(plaintext)
	if err != nil {
		return nil, err
	}
	info.Origin = algorithm.OriginWrapped

	payload, err := unmarshalPayload(info.Type, info.Algorithm, payloadBytes)
	if err != nil {
		return nil, err
	}

	return &Object{Info: info, Payload: payload}, nil
}
